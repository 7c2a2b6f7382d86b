package middleware

import "net/http"

// statusWriter records what a handler wrote. It is shared by the logging,
// metrics, tracing and recovery middleware.
type statusWriter struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

// WriteHeader records the first status code before passing it on.
func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

// Write counts the bytes of the body. A write without WriteHeader implies 200.
func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	n, err := sw.ResponseWriter.Write(b)
	sw.written += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController, which
// event streams use to flush.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// streaming reports whether the response is a server-sent event stream.
func (sw *statusWriter) streaming() bool {
	return sw.Header().Get("Content-Type") == "text/event-stream"
}
