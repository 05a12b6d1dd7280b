package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ngoyal88/relay/pkg/async"
)

// Load balancing strategies.
const (
	StrategyRoundRobin   = "round-robin"
	StrategyWeighted     = "weighted"
	StrategyLeastLatency = "least-latency"
	StrategyRandom       = "random"
)

// Target represents a backend target with its configuration
type Target struct {
	Gateway        *Gateway
	Weight         int
	CircuitBreaker *gobreaker.CircuitBreaker
	Healthy        atomic.Bool
	latency        *LatencyTracker
}

// TargetConfig represents target configuration
type TargetConfig struct {
	URL    string
	Weight int
}

// LoadBalancer spreads requests over several targets, each behind a circuit breaker.
type LoadBalancer struct {
	targets  []*Target
	strategy string
	current  atomic.Uint64
	client   *http.Client
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewLoadBalancer creates a load balancer and starts background health checks.
// Call Close to stop them.
func NewLoadBalancer(configs []TargetConfig, strategy string) (*LoadBalancer, error) {
	if len(configs) == 0 {
		return nil, errors.New("no targets configured")
	}
	switch strategy {
	case "":
		strategy = StrategyRoundRobin
	case StrategyRoundRobin, StrategyWeighted, StrategyLeastLatency, StrategyRandom:
	default:
		return nil, fmt.Errorf("unknown load balancing strategy %q", strategy)
	}

	lb := &LoadBalancer{
		targets:  make([]*Target, 0, len(configs)),
		strategy: strategy,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   slog.Default().With("component", "loadbalancer"),
		stop:     make(chan struct{}),
	}

	for _, cfg := range configs {
		gw, err := New(cfg.URL)
		if err != nil {
			return nil, err
		}

		weight := cfg.Weight
		if weight <= 0 {
			weight = 1
		}

		host := gw.Target().Host
		cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    fmt.Sprintf("target-%s", host),
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				lb.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
				open := 0.0
				if to == gobreaker.StateOpen {
					open = 1
				}
				breakerOpen.WithLabelValues(name).Set(open)
			},
		})

		target := &Target{
			Gateway:        gw,
			Weight:         weight,
			CircuitBreaker: cb,
			latency:        NewLatencyTracker(100),
		}
		target.Healthy.Store(true)
		lb.targets = append(lb.targets, target)
	}

	go lb.healthCheckLoop(10 * time.Second)

	return lb, nil
}

// Close stops the health checks.
func (lb *LoadBalancer) Close() {
	lb.stopOnce.Do(func() { close(lb.stop) })
}

func (lb *LoadBalancer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = lb.serve(w, r)
}

// ServeAsync serves on a separate goroutine and reports upstream transport
// failures through done.
func (lb *LoadBalancer) ServeAsync(w http.ResponseWriter, r *http.Request, done async.Completion) {
	goServe(lb.serve, w, r, done)
}

func (lb *LoadBalancer) serve(w http.ResponseWriter, r *http.Request) error {
	target, err := lb.selectTarget()
	if err != nil {
		http.Error(w, "No healthy backends available", http.StatusServiceUnavailable)
		return nil
	}

	start := time.Now()
	defer func() { target.latency.Add(time.Since(start)) }()

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	var upstreamErr error
	_, err = target.CircuitBreaker.Execute(func() (interface{}, error) {
		upstreamErr = target.Gateway.serve(rec, r)
		if upstreamErr != nil {
			return nil, upstreamErr
		}
		if rec.status >= 500 {
			return nil, fmt.Errorf("upstream error: %d", rec.status)
		}
		return nil, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		http.Error(w, "Service Unavailable (circuit open)", http.StatusServiceUnavailable)
		return nil
	}
	return upstreamErr
}

// selectTarget chooses a backend based on the configured strategy
func (lb *LoadBalancer) selectTarget() (*Target, error) {
	healthy := make([]*Target, 0, len(lb.targets))
	for _, t := range lb.targets {
		if t.Healthy.Load() && t.CircuitBreaker.State() != gobreaker.StateOpen {
			healthy = append(healthy, t)
		}
	}
	if len(healthy) == 0 {
		return nil, errors.New("no healthy targets")
	}

	switch lb.strategy {
	case StrategyWeighted:
		return weighted(healthy), nil
	case StrategyLeastLatency:
		return leastLatency(healthy), nil
	case StrategyRandom:
		return healthy[rand.Intn(len(healthy))], nil
	default:
		// Subtract 1 so the first call uses index 0.
		idx := (lb.current.Add(1) - 1) % uint64(len(healthy))
		return healthy[idx], nil
	}
}

func weighted(targets []*Target) *Target {
	total := 0
	for _, t := range targets {
		total += t.Weight
	}
	n := rand.Intn(total)
	for _, t := range targets {
		n -= t.Weight
		if n < 0 {
			return t
		}
	}
	return targets[0]
}

func leastLatency(targets []*Target) *Target {
	best := targets[0]
	bestLatency := best.latency.Average()
	for _, t := range targets[1:] {
		if avg := t.latency.Average(); avg < bestLatency {
			best, bestLatency = t, avg
		}
	}
	return best
}

func (lb *LoadBalancer) healthCheckLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-lb.stop:
			return
		case <-ticker.C:
			for _, target := range lb.targets {
				go lb.checkHealth(target)
			}
		}
	}
}

// checkHealth treats anything below 500 (including a missing /health) as healthy.
func (lb *LoadBalancer) checkHealth(target *Target) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	healthURL := target.Gateway.Target().JoinPath("health").String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		target.Healthy.Store(false)
		return
	}

	resp, err := lb.client.Do(req)
	if err != nil {
		if target.Healthy.Swap(false) {
			lb.logger.Warn("target unhealthy", "target", healthURL, "error", err)
		}
		return
	}
	defer resp.Body.Close()

	target.Healthy.Store(resp.StatusCode < 500)
}

// LatencyTracker keeps a sliding window of response times for a target.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	maxSize int
}

// NewLatencyTracker creates a new latency tracker
func NewLatencyTracker(maxSamples int) *LatencyTracker {
	return &LatencyTracker{
		samples: make([]time.Duration, 0, maxSamples),
		maxSize: maxSamples,
	}
}

// Add records a latency sample, dropping the oldest when full.
func (lt *LatencyTracker) Add(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if len(lt.samples) >= lt.maxSize {
		lt.samples = lt.samples[1:]
	}
	lt.samples = append(lt.samples, d)
}

// Average returns the mean latency, or 0 with no samples.
func (lt *LatencyTracker) Average() time.Duration {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if len(lt.samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range lt.samples {
		total += d
	}
	return total / time.Duration(len(lt.samples))
}

// statusRecorder remembers the status written to the client.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
