package webapp

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"helmetgen/internal/metrics"
)

// requestLogger attaches a request-scoped zerolog logger to the context,
// logs the outcome and updates the request counters.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := r.Header.Get("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)

		logger := log.With().
			Str("request_id", rid).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_ip", r.RemoteAddr).
			Str("user_agent", r.UserAgent()).
			Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		// keep label cardinality bounded for paths no route matched
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		labels := map[string]string{
			"method": r.Method,
			"route":  route,
			"status": metrics.StatusClass(status),
		}
		s.metrics.Inc(r.Context(), "http_requests_total", labels, 1)

		duration := time.Since(start)
		if status >= http.StatusInternalServerError {
			s.metrics.Inc(r.Context(), "http_requests_errors_total", labels, 1)
			logger.Error().Int("status", status).Int("bytes", ww.BytesWritten()).Dur("duration", duration).Msg("http request failed")
			return
		}
		logger.Info().Int("status", status).Int("bytes", ww.BytesWritten()).Dur("duration", duration).Msg("http request served")
	})
}

// recoverer turns a handler panic into an internal JSON error.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.Ctx(r.Context()).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("handler panic")
			s.writeError(w, r, &Error{Kind: KindInternal, Message: "Server error"})
		}()
		next.ServeHTTP(w, r)
	})
}
