package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Logger returns a request logging middleware using zerolog. Client errors
// log at warn, server errors at error. Websocket sessions are logged once
// the connection ends.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				ev := logger.Info()
				msg := "request completed"
				switch {
				case status >= 500:
					ev = logger.Error()
				case status >= 400:
					ev = logger.Warn()
				case isUpgrade(r):
					msg = "websocket session ended"
				}

				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					if pattern := rctx.RoutePattern(); pattern != "" {
						ev = ev.Str("route", pattern)
					}
					if id := rctx.URLParam("id"); id != "" {
						ev = ev.Str("poll_id", id)
					}
				}

				ev.Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr).
					Msg(msg)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func isUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") == "websocket"
}
