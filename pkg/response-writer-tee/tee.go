package tee

import (
	"net/http"
	"time"
)

// StatusRecorder is a wrapper around http.ResponseWriter that passes the response
// through and remembers what was written, for access logging.
type StatusRecorder struct {
	rw           http.ResponseWriter
	status       int
	written      int64
	wroteHeaders bool
	CreatedAt    time.Time
}

// Implementation of http.ResponseWriter
func (t *StatusRecorder) Header() http.Header {
	return t.rw.Header()
}

// Implementation of http.ResponseWriter
func (t *StatusRecorder) WriteHeader(statusCode int) {
	if t.wroteHeaders {
		return
	}
	t.wroteHeaders = true
	t.status = statusCode
	t.rw.WriteHeader(statusCode)
}

// Implementation of http.ResponseWriter
func (t *StatusRecorder) Write(b []byte) (int, error) {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	n, err := t.rw.Write(b)
	t.written += int64(n)
	return n, err
}

// Flush implements http.Flusher if the underlying writer does.
func (t *StatusRecorder) Flush() {
	if f, ok := t.rw.(http.Flusher); ok {
		f.Flush()
	}
}

// StatusCode returns the status code of the response.
// It is zero if nothing has been written yet.
func (t *StatusRecorder) StatusCode() int {
	return t.status
}

// BytesWritten returns the number of body bytes passed to the underlying writer.
func (t *StatusRecorder) BytesWritten() int64 {
	return t.written
}

// Elapsed returns the time since the recorder was created.
func (t *StatusRecorder) Elapsed() time.Duration {
	return time.Since(t.CreatedAt)
}

// NewStatusRecorder returns a new StatusRecorder writing through to w.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{
		CreatedAt: time.Now(),
		rw:        w,
	}
}
