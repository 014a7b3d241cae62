package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type requestStateKey struct{}

// requestState lets inner middleware report facts back to the access log.
type requestState struct {
	userID uint
}

func markRequestUser(ctx context.Context, userID uint) {
	if st, ok := ctx.Value(requestStateKey{}).(*requestState); ok {
		st.userID = userID
	}
}

// RequestLogger emits one structured log line per request. A nil logger
// falls back to slog.Default at request time.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			st := &requestState{}
			r = r.WithContext(context.WithValue(r.Context(), requestStateKey{}, st))

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			routePattern := ""
			if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
				routePattern = routeCtx.RoutePattern()
			}

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"route", routePattern,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"request_id", chimiddleware.GetReqID(r.Context()),
				"client_ip", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			}
			if st.userID != 0 {
				attrs = append(attrs, "user_id", st.userID)
			}

			l := logger
			if l == nil {
				l = slog.Default()
			}
			if status >= http.StatusInternalServerError {
				l.ErrorContext(r.Context(), "http.request", attrs...)
				return
			}
			l.InfoContext(r.Context(), "http.request", attrs...)
		})
	}
}
