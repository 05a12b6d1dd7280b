package exchanges

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Exchange is the frozen record of one completed request/response pair.
// It is built once by a Recorder and never modified afterwards; accessors
// hand out copies of any mutable state.
type Exchange struct {
	id        string
	timestamp time.Time
	request   Request
	response  Response
	principal *Principal
	session   *Session
	timeTaken *time.Duration
}

// Request is the request half of an Exchange.
type Request struct {
	method        string
	uri           string
	remoteAddress string
	headers       http.Header
}

// Response is the response half of an Exchange.
type Response struct {
	status  int
	headers http.Header
}

// Principal identifies the authenticated caller of an exchange.
type Principal struct {
	name string
}

// Session identifies the session an exchange belonged to.
type Session struct {
	id string
}

func (e *Exchange) ID() string           { return e.id }
func (e *Exchange) Timestamp() time.Time { return e.timestamp }
func (e *Exchange) Request() Request     { return e.request }
func (e *Exchange) Response() Response   { return e.response }

// Principal returns nil when no principal was recorded.
func (e *Exchange) Principal() *Principal {
	if e.principal == nil {
		return nil
	}
	p := *e.principal
	return &p
}

// Session returns nil when no session was recorded.
func (e *Exchange) Session() *Session {
	if e.session == nil {
		return nil
	}
	s := *e.session
	return &s
}

// TimeTaken reports the exchange duration and whether it was recorded.
func (e *Exchange) TimeTaken() (time.Duration, bool) {
	if e.timeTaken == nil {
		return 0, false
	}
	return *e.timeTaken, true
}

func (r Request) Method() string { return r.method }
func (r Request) URI() string    { return r.uri }

// RemoteAddress is empty unless REMOTE_ADDRESS was included.
func (r Request) RemoteAddress() string { return r.remoteAddress }

// Headers returns a copy of the recorded headers, or nil if they were not included.
func (r Request) Headers() http.Header { return r.headers.Clone() }

func (r Response) Status() int { return r.status }

// Headers returns a copy of the recorded headers, or nil if they were not included.
func (r Response) Headers() http.Header { return r.headers.Clone() }

func (p Principal) Name() string { return p.name }
func (s Session) ID() string     { return s.id }

type exchangeJSON struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	Request     requestJSON   `json:"request"`
	Response    responseJSON  `json:"response"`
	Principal   *principalRef `json:"principal,omitempty"`
	Session     *sessionRef   `json:"session,omitempty"`
	TimeTakenMs *int64        `json:"timeTakenMs,omitempty"`
}

type requestJSON struct {
	Method        string              `json:"method"`
	URI           string              `json:"uri"`
	RemoteAddress string              `json:"remoteAddress,omitempty"`
	Headers       map[string][]string `json:"headers,omitempty"`
}

type responseJSON struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers,omitempty"`
}

type principalRef struct {
	Name string `json:"name"`
}

type sessionRef struct {
	ID string `json:"id"`
}

// MarshalJSON renders the exchange for the admin API. Absent optional fields are omitted.
func (e *Exchange) MarshalJSON() ([]byte, error) {
	out := exchangeJSON{
		ID:        e.id,
		Timestamp: e.timestamp,
		Request: requestJSON{
			Method:        e.request.method,
			URI:           e.request.uri,
			RemoteAddress: e.request.remoteAddress,
			Headers:       e.request.headers,
		},
		Response: responseJSON{
			Status:  e.response.status,
			Headers: e.response.headers,
		},
	}
	if e.principal != nil {
		out.Principal = &principalRef{Name: e.principal.name}
	}
	if e.session != nil {
		out.Session = &sessionRef{ID: e.session.id}
	}
	if e.timeTaken != nil {
		ms := e.timeTaken.Milliseconds()
		out.TimeTakenMs = &ms
	}
	return json.Marshal(out)
}
