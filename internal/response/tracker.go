package response

import (
	"context"
	"net/http"
	"sync"
)

type contextKey string

const trackerContextKey contextKey = "response_tracker"

// Tracker wraps a ResponseWriter and records whether a response has been started.
// The first WriteHeader wins; later attempts are dropped.
type Tracker struct {
	http.ResponseWriter

	mu      sync.Mutex
	status  int
	written bool
	bytes   int64
}

// Track wraps w in a Tracker and stores it in the request context so that
// handlers behind other ResponseWriter wrappers can still consult it.
// An already tracked request is returned unchanged.
func Track(w http.ResponseWriter, r *http.Request) (*Tracker, *http.Request) {
	if existing := FromContext(r.Context()); existing != nil {
		return existing, r
	}
	t := &Tracker{ResponseWriter: w, status: http.StatusOK}
	return t, r.WithContext(context.WithValue(r.Context(), trackerContextKey, t))
}

// FromContext returns the request's Tracker, or nil if none was installed
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerContextKey).(*Tracker)
	return t
}

// Written reports whether a response has already been started for r
func Written(r *http.Request) bool {
	t := FromContext(r.Context())
	return t != nil && t.Written()
}

// WriteHeader records the status and forwards it once
func (t *Tracker) WriteHeader(code int) {
	t.mu.Lock()
	if t.written {
		t.mu.Unlock()
		return
	}
	t.written = true
	t.status = code
	t.mu.Unlock()
	t.ResponseWriter.WriteHeader(code)
}

func (t *Tracker) Write(b []byte) (int, error) {
	t.WriteHeader(http.StatusOK)
	n, err := t.ResponseWriter.Write(b)
	t.mu.Lock()
	t.bytes += int64(n)
	t.mu.Unlock()
	return n, err
}

// Flush lets streaming responses through the tracker
func (t *Tracker) Flush() {
	t.WriteHeader(http.StatusOK)
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController
func (t *Tracker) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}

// Written reports whether the status line has been sent
func (t *Tracker) Written() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written
}

// Status returns the sent status, or 200 if nothing has been sent yet
func (t *Tracker) Status() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// BytesWritten returns the number of body bytes written
func (t *Tracker) BytesWritten() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}
