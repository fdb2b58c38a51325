package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eldtechnologies/rankvote/internal/metrics"
)

// statusWriter wraps http.ResponseWriter to capture status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Metrics returns middleware that records Prometheus metrics.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(wrapped.status),
		).Inc()

		// Websocket sessions are counted but not timed.
		if wrapped.status != http.StatusSwitchingProtocols {
			metrics.HTTPRequestDuration.WithLabelValues(
				r.Method, path,
			).Observe(duration)
		}
	})
}

// fixedPaths are the /polls/ routes that carry no poll id.
var fixedPaths = map[string]bool{
	"/polls/join":            true,
	"/polls/rejoin":          true,
	"/polls/add-participant": true,
	"/polls/socket":          true,
}

// normalizePath normalizes paths to avoid high cardinality in metrics.
func normalizePath(path string) string {
	if strings.HasPrefix(path, "/polls/") && len(path) > len("/polls/") && !fixedPaths[path] {
		return "/polls/:id"
	}
	return path
}
