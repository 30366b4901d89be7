// Package server implements the HTTP API surface for the ensemble decision
// engine: request-ID assignment, structured logging, panic recovery, OTEL
// tracing, and body-size limiting. No auth or CORS layer — this core has no
// accounts and is called only by a trusted backend over a private network.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/apperr"
)

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// requestIDMiddleware assigns a unique request ID to each request. Client-
// supplied IDs are accepted if they are a reasonable length and contain
// only printable ASCII; otherwise a fresh UUID is generated.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if !isValidRequestID(reqID) {
			reqID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), contextKeyRequestID, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isValidRequestID(id string) bool {
	if len(id) == 0 || len(id) > 128 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// loggingMiddleware logs each request with structured fields.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		level := slog.LevelInfo
		if wrapped.statusCode >= 500 {
			level = slog.LevelError
		} else if wrapped.statusCode >= 400 {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}

var (
	tracer           = otel.Tracer("ashnlp/http")
	httpMeter        = otel.GetMeterProvider().Meter("ashnlp/http")
	httpRequestCount otelmetric.Int64Counter
	httpDuration     otelmetric.Float64Histogram
)

func init() {
	var err error
	httpRequestCount, err = httpMeter.Int64Counter("http.server.request_count")
	if err != nil {
		httpRequestCount, _ = httpMeter.Int64Counter("http.server.request_count.fallback")
	}
	httpDuration, err = httpMeter.Float64Histogram("http.server.duration", otelmetric.WithUnit("ms"))
	if err != nil {
		httpDuration, _ = httpMeter.Float64Histogram("http.server.duration.fallback", otelmetric.WithUnit("ms"))
	}
}

func routePattern(r *http.Request) string {
	if pat := r.Pattern; pat != "" {
		return pat
	}
	parts := strings.SplitN(r.URL.Path, "/", 3)
	if len(parts) >= 2 {
		return r.Method + " /" + parts[1]
	}
	return r.Method + " " + r.URL.Path
}

// tracingMiddleware creates an OTEL span per request and records request
// count and duration metrics, keyed by mux route pattern to bound cardinality.
func tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "http.request",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
				attribute.String("http.request_id", RequestIDFromContext(r.Context())),
			),
		)
		defer span.End()

		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(w.Header()))

		start := time.Now()
		sw, ok := w.(*statusWriter)
		if !ok {
			sw = &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		}
		next.ServeHTTP(sw, r.WithContext(ctx))

		pattern := routePattern(r)
		span.SetName(pattern)
		span.SetAttributes(attribute.Int("http.status_code", sw.statusCode))

		attrs := []attribute.KeyValue{
			attribute.String("http.method", r.Method),
			attribute.String("http.route", pattern),
			attribute.String("http.status_code", strconv.Itoa(sw.statusCode)),
		}
		duration := time.Since(start)
		httpRequestCount.Add(ctx, 1, otelmetric.WithAttributes(attrs...))
		httpDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(attrs...))
	})
}

// recoveryMiddleware catches panics in downstream handlers, logs the stack
// trace, and returns a 500 error instead of crashing the server.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
				)
				writeAppError(w, r, apperr.Internal("internal server error", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// errorEnvelope is the wire error response shape.
type errorEnvelope struct {
	Error     string          `json:"error"`
	Message   string          `json:"message"`
	Details   []apperr.Detail `json:"details,omitempty"`
	RequestID string          `json:"request_id"`
	Timestamp time.Time       `json:"timestamp"`
}

// writeJSON writes data as the top-level JSON response body, with no
// envelope wrapping.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to encode JSON response", "error", err)
	}
}

// writeAppError maps an apperr.Error to the wire error envelope.
func writeAppError(w http.ResponseWriter, r *http.Request, err *apperr.Error) {
	writeJSON(w, err.HTTPStatus(), errorEnvelope{
		Error:     string(err.Kind),
		Message:   err.Message,
		Details:   err.Details,
		RequestID: RequestIDFromContext(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

// decodeJSON decodes a JSON request body into target, rejecting unknown
// fields and bodies larger than maxBytes.
func decodeJSON(r *http.Request, target any, maxBytes int64) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}
