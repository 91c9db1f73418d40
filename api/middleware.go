package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/khaledhikmat/asd-go/service/lgr"
)

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// track gives every request an id, a trace context derived from it and a
// deadline, then logs the outcome
func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := uuid.New()
		if incoming, err := uuid.Parse(r.Header.Get(requestIDHeader)); err == nil {
			id = incoming
		}
		w.Header().Set(requestIDHeader, id.String())

		ctx := withRequestSpan(r.Context(), id)
		if timeout := s.CfgSvc.GetRequestTimeout(); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		s.requests.Add(1)
		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			s.failures.Add(1)
			level = slog.LevelError
		}

		lgr.Logger.Log(ctx, level, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("took", time.Since(start)),
		)
	})
}

// withRequestSpan stores a span context whose trace id is the request id so
// log records of the request can be correlated
func withRequestSpan(ctx context.Context, id uuid.UUID) context.Context {
	var spanID trace.SpanID
	copy(spanID[:], id[8:])

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID(id),
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(ctx, sc)
}
