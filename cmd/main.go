package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ngoyal88/relay/pkg/api"
	"github.com/ngoyal88/relay/pkg/async"
	"github.com/ngoyal88/relay/pkg/config"
	"github.com/ngoyal88/relay/pkg/exchanges"
	"github.com/ngoyal88/relay/pkg/logging"
	"github.com/ngoyal88/relay/pkg/middleware"
	"github.com/ngoyal88/relay/pkg/proxy"
)

// upstream is what the relay puts at the bottom of the middleware chain.
type upstream interface {
	http.Handler
	async.Handler
}

func main() {
	// 1. Load Config with hot reload
	cfgStore, err := config.LoadAndWatch()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgStore.Get()

	logger := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: logging.ParseFormat(cfg.Logging.Format),
	})
	slog.SetDefault(logger)

	if err := run(cfgStore, cfg, logger); err != nil {
		logger.Error("relay stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfgStore *config.Store, cfg *config.Config, logger *slog.Logger) error {
	// 2. Create Proxy or Load Balancer
	var backend upstream
	if cfg.LoadBalancer.Enabled {
		targets := make([]proxy.TargetConfig, 0, len(cfg.LoadBalancer.Targets))
		for _, t := range cfg.LoadBalancer.Targets {
			targets = append(targets, proxy.TargetConfig{URL: t.URL, Weight: t.Weight})
		}
		lb, err := proxy.NewLoadBalancer(targets, cfg.LoadBalancer.Strategy)
		if err != nil {
			return err
		}
		defer lb.Close()
		backend = lb
		logger.Info("load balancer started", "targets", len(targets), "strategy", cfg.LoadBalancer.Strategy)
	} else {
		gw, err := proxy.New(cfg.Proxy.Target)
		if err != nil {
			return err
		}
		backend = gw
		logger.Info("proxy started", "target", cfg.Proxy.Target)
	}

	// 3. Exchange repository, constructed once and shared by reference
	var repo exchanges.Repository
	var filter *middleware.ExchangesFilter
	if cfg.Exchanges.Enabled {
		mem, err := exchanges.NewInMemoryRepository(cfg.Exchanges.Capacity)
		if err != nil {
			return err
		}
		policy, err := cfg.Exchanges.Policy()
		if err != nil {
			return err
		}
		filter, err = middleware.NewExchangesFilter(mem, policy,
			middleware.WithSessionCookie(cfg.Exchanges.SessionCookie),
			middleware.WithFilterLogger(logger),
		)
		if err != nil {
			return err
		}
		repo = mem
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relay_exchanges_retained",
			Help: "HTTP exchanges currently held in memory",
		}, func() float64 { return float64(mem.Len()) })
		logger.Info("exchange recording enabled", "capacity", mem.Capacity(), "include", policy.String())
	}

	// 4. Chain Middleware (order matters!)
	// Start with the inner-most handler (The Proxy/Load Balancer).
	// Auth sits inside the exchanges filter so the recorded principal is the
	// authenticated user and rejected requests are still recorded.
	var handler http.Handler
	switch cfg.Server.ExecutionModel {
	case config.ModelAsync:
		h := async.Before(middleware.Authenticate(cfg.Auth.KeyMap()), backend)
		if filter != nil {
			h = filter.AsyncHandler(h)
		}
		handler = async.Serve(h)
	default:
		handler = middleware.Authenticate(cfg.Auth.KeyMap())(backend)
		if filter != nil {
			handler = filter.Handler(handler)
		}
	}
	handler = middleware.NewRateLimiter(cfgStore)(handler)
	handler = middleware.RequestLogger(logger)(handler)

	// 5. Setup HTTP Server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if cfg.Auth.AdminKey != "" {
		api.NewAdminAPI(repo, cfg.Auth.AdminKey).RegisterRoutes(mux)
		logger.Info("admin API enabled", "path", "/admin/*")
	} else {
		logger.Warn("admin API not enabled: auth.admin_key is empty")
	}
	mux.Handle("/", handler)

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 6. Start Server
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Port, "execution_model", cfg.Server.ExecutionModel)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
