package async

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnceDeliversFirstCompletionOnly(t *testing.T) {
	var calls []error
	done := Once(func(err error) { calls = append(calls, err) })

	first := errors.New("first")
	done(first)
	done(nil)
	done(errors.New("third"))

	require.Len(t, calls, 1)
	assert.Same(t, first, calls[0])
}

func TestServeWaitsForCompletion(t *testing.T) {
	h := HandlerFunc(func(w http.ResponseWriter, r *http.Request, done Completion) {
		go func() {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("made"))
			done(nil)
		}()
	})

	rec := httptest.NewRecorder()
	Serve(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "made", rec.Body.String())
}

func TestServeAnswersUncommittedErrorWith500(t *testing.T) {
	h := HandlerFunc(func(w http.ResponseWriter, r *http.Request, done Completion) {
		go done(errors.New("broken"))
	})

	rec := httptest.NewRecorder()
	Serve(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServeKeepsCommittedResponseOnError(t *testing.T) {
	h := HandlerFunc(func(w http.ResponseWriter, r *http.Request, done Completion) {
		w.WriteHeader(http.StatusBadGateway)
		done(errors.New("broken"))
	})

	rec := httptest.NewRecorder()
	Serve(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestWrapCompletesAfterHandlerReturns(t *testing.T) {
	var served atomic.Bool
	h := Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Store(true)
		w.WriteHeader(http.StatusTeapot)
	}))

	result := make(chan error, 1)
	rec := httptest.NewRecorder()
	h.ServeAsync(rec, httptest.NewRequest(http.MethodGet, "/", nil), func(err error) { result <- err })

	assert.NoError(t, <-result)
	assert.True(t, served.Load())
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestWrapReportsPanic(t *testing.T) {
	h := Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))

	result := make(chan error, 1)
	h.ServeAsync(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), func(err error) { result <- err })

	var perr *PanicError
	require.ErrorAs(t, <-result, &perr)
	assert.Equal(t, "boom", perr.Value)
	assert.Equal(t, "handler panic: boom", perr.Error())
}

func TestBeforeHandsOff(t *testing.T) {
	tag := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Tagged", "1")
			next.ServeHTTP(w, r)
		})
	}
	var reached atomic.Bool
	next := Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached.Store(true)
	}))

	rec := httptest.NewRecorder()
	Serve(Before(tag, next)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, reached.Load())
	assert.Equal(t, "1", rec.Header().Get("X-Tagged"))
}

func TestBeforeCompletesWhenMiddlewareAnswers(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no", http.StatusForbidden)
		})
	}
	next := HandlerFunc(func(w http.ResponseWriter, r *http.Request, done Completion) {
		t.Fatal("next must not run")
	})

	var completions atomic.Int32
	var got error = errors.New("unset")
	rec := httptest.NewRecorder()
	Before(deny, next).ServeAsync(rec, httptest.NewRequest(http.MethodGet, "/", nil), func(err error) {
		completions.Add(1)
		got = err
	})

	assert.Equal(t, int32(1), completions.Load())
	assert.NoError(t, got)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
