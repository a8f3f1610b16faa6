package app

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/vinayprograms/tasktracker/errors"
	"github.com/vinayprograms/tasktracker/server"
	"github.com/vinayprograms/tasktracker/telemetry"
)

// recoverer turns handler panics into InternalServerError responses.
func (a *App) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			a.writeError(w, r, apperrors.RecoverPanic(rec))
		}()
		next.ServeHTTP(w, r)
	})
}

// trace starts a server span per request, continuing any trace the client
// propagated.
func (a *App) trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := telemetry.ExtractContext(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := a.tracer.StartSpan(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
				attribute.String("http.request.id", middleware.GetReqID(r.Context())),
			),
		)
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.response.status_code", ww.Status()))
	})
}

// maintenance rejects new requests once the controller is stopping.
func (a *App) maintenance(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.deps.Lifecycle != nil && a.deps.Lifecycle.State() >= server.StateStopping {
			w.Header().Set("Connection", "close")
			a.writeError(w, r, apperrors.Maintenance())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit answers TooManyRequestsError when the shared token bucket is
// empty.
func (a *App) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.limiter != nil && !a.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			a.writeError(w, r, apperrors.TooManyRequests())
			return
		}
		next.ServeHTTP(w, r)
	})
}
