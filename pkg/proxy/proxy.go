package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/ngoyal88/relay/pkg/async"
)

// UpstreamError reports a transport failure talking to a target. The client
// has already been answered with 502 when it is returned.
type UpstreamError struct {
	Target string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Target, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

type errSinkKey struct{}

// errSink carries the upstream error from the ErrorHandler back to serve.
type errSink struct {
	mu  sync.Mutex
	err error
}

func (s *errSink) set(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *errSink) get() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Gateway proxies every request to a single target.
type Gateway struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
	logger *slog.Logger
}

// New returns a Gateway for targetURL.
func New(targetURL string) (*Gateway, error) {
	parsedURL, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL %s: %w", targetURL, err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid target URL %s: scheme and host are required", targetURL)
	}

	g := &Gateway{
		target: parsedURL,
		logger: slog.Default().With("target", parsedURL.Host),
	}

	p := httputil.NewSingleHostReverseProxy(parsedURL)
	director := p.Director
	p.Director = func(req *http.Request) {
		director(req)
		req.Host = parsedURL.Host
		req.Header.Set("X-Relay", "True")
	}

	// Log upstream errors so network/DNS/TLS issues are visible.
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		uerr := &UpstreamError{Target: parsedURL.Host, Err: err}
		if sink, ok := r.Context().Value(errSinkKey{}).(*errSink); ok {
			sink.set(uerr)
		}
		if r.Context().Err() == nil {
			g.logger.Warn("upstream error", "error", err)
		}
		http.Error(w, "upstream error", http.StatusBadGateway)
	}

	g.proxy = p
	return g, nil
}

// Target returns the upstream URL.
func (g *Gateway) Target() *url.URL { return g.target }

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = g.serve(w, r)
}

// ServeAsync proxies on a separate goroutine and reports transport failures
// through done.
func (g *Gateway) ServeAsync(w http.ResponseWriter, r *http.Request, done async.Completion) {
	goServe(g.serve, w, r, done)
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request) error {
	sink := &errSink{}
	ctx := context.WithValue(r.Context(), errSinkKey{}, sink)

	start := time.Now()
	g.proxy.ServeHTTP(w, r.WithContext(ctx))
	upstreamLatency.Observe(time.Since(start).Seconds())

	return sink.get()
}

// goServe runs serve on its own goroutine. ReverseProxy aborts a broken
// response copy with a panic; it is turned into a completion error here
// because nothing above this goroutine could recover it.
func goServe(serve func(http.ResponseWriter, *http.Request) error, w http.ResponseWriter, r *http.Request, done async.Completion) {
	go func() {
		var err error
		defer func() {
			if rec := recover(); rec != nil {
				err = &async.PanicError{Value: rec}
			}
			done(err)
		}()
		err = serve(w, r)
	}()
}
