package middleware

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ngoyal88/relay/pkg/async"
	"github.com/ngoyal88/relay/pkg/exchanges"
)

// DefaultSessionCookie is the cookie the filter reads the session id from.
const DefaultSessionCookie = "SESSION"

// ErrNilRepository is returned when the exchanges filter is built without a repository.
var ErrNilRepository = errors.New("middleware: exchanges repository is nil")

// ExchangesFilter records every request/response pair passing through it into
// an exchanges.Repository. It can wrap blocking net/http handlers as well as
// completion-based async handlers; both go through the same recording path.
type ExchangesFilter struct {
	repo          exchanges.Repository
	recorder      *exchanges.Recorder
	principal     func(*http.Request) (string, error)
	sessionCookie string
	logger        *slog.Logger
}

type filterOptions struct {
	principal     func(*http.Request) (string, error)
	sessionCookie string
	logger        *slog.Logger
	clock         func() time.Time
}

// FilterOption configures an ExchangesFilter.
type FilterOption func(*filterOptions)

// WithPrincipalResolver replaces the default principal lookup, which reads the
// identity published through WithPrincipal.
func WithPrincipalResolver(fn func(*http.Request) (string, error)) FilterOption {
	return func(o *filterOptions) { o.principal = fn }
}

// WithSessionCookie sets the name of the session cookie.
func WithSessionCookie(name string) FilterOption {
	return func(o *filterOptions) {
		if name != "" {
			o.sessionCookie = name
		}
	}
}

// WithFilterLogger sets the logger for the filter and its recorder.
func WithFilterLogger(logger *slog.Logger) FilterOption {
	return func(o *filterOptions) { o.logger = logger }
}

// WithFilterClock replaces time.Now, mainly for tests.
func WithFilterClock(now func() time.Time) FilterOption {
	return func(o *filterOptions) { o.clock = now }
}

// NewExchangesFilter returns a filter storing exchanges recorded under policy into repo.
func NewExchangesFilter(repo exchanges.Repository, policy exchanges.Policy, opts ...FilterOption) (*ExchangesFilter, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}

	o := filterOptions{
		sessionCookie: DefaultSessionCookie,
		logger:        slog.Default(),
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	f := &ExchangesFilter{
		repo:          repo,
		recorder:      exchanges.NewRecorder(policy, exchanges.WithClock(o.clock), exchanges.WithLogger(o.logger)),
		principal:     o.principal,
		sessionCookie: o.sessionCookie,
		logger:        o.logger,
	}
	if f.principal == nil {
		f.principal = f.publishedPrincipal
	}
	return f, nil
}

// Handler wraps a blocking handler. A panic in next is recorded as a 500
// (unless a status was already sent) and then re-raised unchanged.
func (f *ExchangesFilter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		x := f.begin(w, r)

		completed := false
		defer func() {
			if completed {
				return
			}
			rec := recover()
			f.finish(x, &async.PanicError{Value: rec})
			if rec != nil {
				panic(rec)
			}
		}()

		next.ServeHTTP(x.w, x.r)
		completed = true
		f.finish(x, nil)
	})
}

// AsyncHandler wraps a completion-based handler. The exchange is recorded when
// next signals completion, on whichever goroutine that happens. A completion
// caused by the client going away is not recorded.
func (f *ExchangesFilter) AsyncHandler(next async.Handler) async.Handler {
	return async.HandlerFunc(func(w http.ResponseWriter, r *http.Request, done async.Completion) {
		x := f.begin(w, r)

		complete := async.Once(func(err error) {
			if errors.Is(err, context.Canceled) && x.r.Context().Err() != nil {
				f.cancel(x)
			} else {
				f.finish(x, err)
			}
			done(err)
		})

		returned := false
		defer func() {
			if returned {
				return
			}
			rec := recover()
			f.finish(x, &async.PanicError{Value: rec})
			if rec != nil {
				panic(rec)
			}
		}()

		next.ServeAsync(x.w, x.r, complete)
		returned = true
	})
}

// inflight is the state of one exchange between interception and recording.
type inflight struct {
	start   time.Time
	r       *http.Request
	w       *statusRecorder
	slot    *principalSlot
	headers http.Header
	once    sync.Once
}

func (f *ExchangesFilter) begin(w http.ResponseWriter, r *http.Request) *inflight {
	x := &inflight{
		start: f.recorder.Now(),
		slot:  &principalSlot{},
	}
	if f.recorder.Policy().Includes(exchanges.IncludeRequestHeaders) {
		x.headers = r.Header.Clone()
	}
	x.r = r.WithContext(withPrincipalSlot(r.Context(), x.slot))
	x.w = &statusRecorder{ResponseWriter: w}
	return x
}

func (f *ExchangesFilter) finish(x *inflight, err error) {
	x.once.Do(func() {
		status, committed := x.w.result()
		outcome := "normal"
		if err != nil {
			outcome = "error"
			if !committed {
				status = http.StatusInternalServerError
			}
		}

		e := f.recorder.Record(
			requestView{r: x.r, headers: x.headers},
			responseView{status: status, headers: x.w.headers()},
			func() (string, error) { return f.principal(x.r) },
			func() (string, error) { return f.sessionID(x), nil },
			x.start,
		)
		f.repo.Add(e)

		exchangesRecorded.WithLabelValues(outcome).Inc()
		exchangeDuration.Observe(e.Timestamp().Sub(x.start).Seconds())

		attrs := []any{"id", e.ID(), "method", x.r.Method, "uri", x.r.URL.Path, "status", status, "outcome", outcome}
		if err != nil {
			attrs = append(attrs, "error", err)
		}
		f.logger.Debug("exchange recorded", attrs...)
	})
}

func (f *ExchangesFilter) cancel(x *inflight) {
	x.once.Do(func() {
		exchangesCancelled.Inc()
		f.logger.Debug("exchange cancelled by client", "method", x.r.Method, "uri", x.r.URL.Path)
	})
}

func (f *ExchangesFilter) publishedPrincipal(r *http.Request) (string, error) {
	if slot, ok := r.Context().Value(principalSlotContextKey).(*principalSlot); ok {
		if name := slot.get(); name != "" {
			return name, nil
		}
	}
	name, _ := PrincipalFromContext(r.Context())
	return name, nil
}

// sessionID prefers a session cookie issued during this exchange over the one
// the client sent. An expired cookie means the session was invalidated.
func (f *ExchangesFilter) sessionID(x *inflight) string {
	resp := http.Response{Header: x.w.headers()}
	for _, c := range resp.Cookies() {
		if c.Name == f.sessionCookie {
			if c.MaxAge < 0 {
				return ""
			}
			return c.Value
		}
	}
	if c, err := x.r.Cookie(f.sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

type requestView struct {
	r       *http.Request
	headers http.Header
}

func (v requestView) Method() string { return v.r.Method }

func (v requestView) URI() string {
	if v.r.URL.IsAbs() {
		return v.r.URL.String()
	}
	scheme := "http"
	if v.r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + v.r.Host + v.r.URL.RequestURI()
}

func (v requestView) RemoteAddress() string {
	host, _, err := net.SplitHostPort(v.r.RemoteAddr)
	if err != nil {
		return v.r.RemoteAddr
	}
	return host
}

func (v requestView) Headers() http.Header { return v.headers }

type responseView struct {
	status  int
	headers http.Header
}

func (v responseView) Status() int          { return v.status }
func (v responseView) Headers() http.Header { return v.headers }

// statusRecorder observes the status a handler commits. The headers are
// snapshotted at commit time because later changes are never sent.
type statusRecorder struct {
	http.ResponseWriter
	mu     sync.Mutex
	status int
	sent   http.Header
}

func (w *statusRecorder) WriteHeader(code int) {
	w.commit(code)
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.commit(http.StatusOK)
	return w.ResponseWriter.Write(b)
}

func (w *statusRecorder) Flush() {
	w.commit(http.StatusOK)
	if fl, ok := w.ResponseWriter.(http.Flusher); ok {
		fl.Flush()
	}
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack records 101 for a handler that takes over the connection, as
// ReverseProxy does for upgrades without calling WriteHeader. The headers stay
// live because such handlers write them after hijacking.
func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, brw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err != nil {
		return nil, nil, err
	}
	w.mu.Lock()
	if w.status == 0 {
		w.status = http.StatusSwitchingProtocols
	}
	w.mu.Unlock()
	return conn, brw, nil
}

func (w *statusRecorder) commit(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	// 1xx responses other than 101 are informational and do not commit the
	// final status.
	if w.status != 0 || (code >= 100 && code < 200 && code != http.StatusSwitchingProtocols) {
		return
	}
	w.status = code
	w.sent = w.ResponseWriter.Header().Clone()
}

// result returns the committed status, or 200 if the handler wrote nothing.
func (w *statusRecorder) result() (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == 0 {
		return http.StatusOK, false
	}
	return w.status, true
}

func (w *statusRecorder) headers() http.Header {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sent != nil {
		return w.sent
	}
	return w.ResponseWriter.Header()
}
