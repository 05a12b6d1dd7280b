package exchanges

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RecordableRequest is the view of an inbound request the Recorder reads.
type RecordableRequest interface {
	Method() string
	URI() string
	RemoteAddress() string
	Headers() http.Header
}

// RecordableResponse is the view of a response at completion time.
type RecordableResponse interface {
	Status() int
	Headers() http.Header
}

// PrincipalFunc returns the authenticated principal name, or "" when there is none.
type PrincipalFunc func() (string, error)

// SessionFunc returns the current session id, or "" when there is none.
// It must not create a session.
type SessionFunc func() (string, error)

// Recorder turns a finished request/response pair into an Exchange.
type Recorder struct {
	policy Policy
	now    func() time.Time
	logger *slog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// WithLogger sets the logger used to report capture failures.
func WithLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = logger }
}

// NewRecorder returns a Recorder applying policy to every exchange.
func NewRecorder(policy Policy, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		policy: policy,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the inclusion policy of the recorder.
func (r *Recorder) Policy() Policy { return r.policy }

// Now reads the recorder clock. Callers use it to take the start time so that
// start and completion come from the same source.
func (r *Recorder) Now() time.Time { return r.now() }

// Record builds the Exchange for a completed request. It never fails: a
// supplier that errors or panics leaves its field absent.
func (r *Recorder) Record(req RecordableRequest, resp RecordableResponse, principal PrincipalFunc, session SessionFunc, start time.Time) *Exchange {
	now := r.now()
	e := &Exchange{
		id:        uuid.NewString(),
		timestamp: now,
		request: Request{
			method:  req.Method(),
			uri:     req.URI(),
			headers: requestHeaders(req.Headers(), r.policy),
		},
		response: Response{
			status:  resp.Status(),
			headers: responseHeaders(resp.Headers(), r.policy),
		},
	}

	if r.policy.Includes(IncludeRemoteAddress) {
		e.request.remoteAddress = req.RemoteAddress()
	}
	if r.policy.Includes(IncludePrincipal) && principal != nil {
		if name := r.supply("principal", principal); name != "" {
			e.principal = &Principal{name: name}
		}
	}
	if r.policy.Includes(IncludeSessionID) && session != nil {
		if id := r.supply("session", session); id != "" {
			e.session = &Session{id: id}
		}
	}
	if r.policy.Includes(IncludeTimeTaken) {
		d := now.Sub(start)
		e.timeTaken = &d
	}
	return e
}

func (r *Recorder) supply(field string, fn func() (string, error)) (value string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("exchange field supplier panicked", "field", field, "panic", fmt.Sprint(rec))
			value = ""
		}
	}()
	v, err := fn()
	if err != nil {
		r.logger.Warn("exchange field unavailable", "field", field, "error", err)
		return ""
	}
	return v
}
