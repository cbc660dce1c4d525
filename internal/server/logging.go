package server

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
)

type logFieldsKey struct{}

// routeLogParams are URL parameters copied onto the access log line of
// every route that declares them.
var routeLogParams = []string{"run_id", "client_id", "stage"}

// LoggingMiddleware writes one access log line per request. The line
// carries the matched route pattern, the run, client and stage named in the
// URL, and any field a handler added with AddLogField. Server errors log at
// error level.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			fields := make(map[string]string)
			ctx := context.WithValue(r.Context(), logFieldsKey{}, fields)
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			logger.Debug("request started",
				slog.String("request_id", GetRequestID(ctx)),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(rw, r.WithContext(ctx))

			route := r.URL.Path
			// Routing fills the shared route context in place, so the
			// params are only known once the handler has returned.
			if rctx := chi.RouteContext(ctx); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
				for _, key := range routeLogParams {
					if _, set := fields[key]; !set {
						if v := rctx.URLParam(key); v != "" {
							fields[key] = v
						}
					}
				}
			}

			attrs := []slog.Attr{
				slog.String("request_id", GetRequestID(ctx)),
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", rw.status),
				slog.Duration("duration", time.Since(start)),
			}
			for _, k := range slices.Sorted(maps.Keys(fields)) {
				attrs = append(attrs, slog.String(k, fields[k]))
			}

			level := slog.LevelInfo
			if rw.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(ctx, level, "request completed", attrs...)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// AddLogField adds a field to the access log line of the current request.
// It is a no-op outside LoggingMiddleware.
func AddLogField(ctx context.Context, key, value string) {
	if value == "" {
		return
	}
	if fields, ok := ctx.Value(logFieldsKey{}).(map[string]string); ok {
		fields[key] = value
	}
}

// AddError records err on the access log line of the current request.
func AddError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	AddLogField(ctx, "error", err.Error())
}
