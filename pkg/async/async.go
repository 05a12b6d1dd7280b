// Package async defines a completion-based HTTP handler model.
//
// A Handler starts work and returns immediately; it reports the end of the
// exchange later, from any goroutine, by calling its Completion exactly once.
// Serve adapts such a handler to net/http by parking the serving goroutine
// until the completion fires.
package async

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"sync"
)

// Completion signals the end of an exchange. A nil error means the handler
// finished normally, whatever status it wrote.
type Completion func(err error)

// Handler serves a request asynchronously. It owns w until done is called
// and must call done exactly once.
type Handler interface {
	ServeAsync(w http.ResponseWriter, r *http.Request, done Completion)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, done Completion)

func (f HandlerFunc) ServeAsync(w http.ResponseWriter, r *http.Request, done Completion) {
	f(w, r, done)
}

// PanicError carries a value recovered from a panicking handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Once wraps done so that only the first call is delivered.
func Once(done Completion) Completion {
	var once sync.Once
	return func(err error) {
		once.Do(func() { done(err) })
	}
}

// Serve returns an http.Handler that runs h and waits for its completion.
// A completion error is answered with 500 only when h wrote nothing.
func Serve(h Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &trackingWriter{ResponseWriter: w}
		result := make(chan error, 1)
		h.ServeAsync(tw, r, Once(func(err error) { result <- err }))

		// net/http forbids using w after ServeHTTP returns, so the goroutine
		// waits for completion even when the client has gone away.
		if err := <-result; err != nil && !tw.committed() {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	})
}

// Wrap runs a blocking handler on its own goroutine and completes when it
// returns. A panic is reported as a *PanicError.
func Wrap(h http.Handler) Handler {
	return HandlerFunc(func(w http.ResponseWriter, r *http.Request, done Completion) {
		go func() {
			var err error
			defer func() {
				if rec := recover(); rec != nil {
					err = &PanicError{Value: rec}
				}
				done(err)
			}()
			h.ServeHTTP(w, r)
		}()
	})
}

type trackingWriter struct {
	http.ResponseWriter
	mu    sync.Mutex
	wrote bool
}

func (w *trackingWriter) WriteHeader(code int) {
	w.mark()
	w.ResponseWriter.WriteHeader(code)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.mark()
	return w.ResponseWriter.Write(b)
}

func (w *trackingWriter) Flush() {
	w.mark()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *trackingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *trackingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, brw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err == nil {
		w.mark()
	}
	return conn, brw, err
}

func (w *trackingWriter) mark() {
	w.mu.Lock()
	w.wrote = true
	w.mu.Unlock()
}

func (w *trackingWriter) committed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wrote
}

// Before runs a blocking middleware in front of next. It suits middleware
// that only inspects or rejects the request: anything mw does after its
// inner handler returns happens before next has completed. When mw answers
// the request itself, the exchange completes without error.
func Before(mw func(http.Handler) http.Handler, next Handler) Handler {
	return HandlerFunc(func(w http.ResponseWriter, r *http.Request, done Completion) {
		handed := false
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handed = true
			next.ServeAsync(w, r, done)
		})
		mw(inner).ServeHTTP(w, r)
		if !handed {
			done(nil)
		}
	})
}
