package ashnlp

import (
	"context"
	"net/http"
)

// Classifier is the external contract one of the four opaque text
// classifiers (bart, sentiment, irony, emotions) must satisfy. Supplying
// one via WithClassifier replaces the built-in HTTP client for that model
// role — useful for embedding a model in-process or pointing at a test
// double. Implementations must honor ctx cancellation.
type Classifier interface {
	Classify(ctx context.Context, text string) (ClassifierResult, error)
}

// AlertSink receives breaker state-transition notifications. The default,
// when none is supplied via WithAlertSink, logs every event with the
// App's structured logger.
type AlertSink interface {
	Deliver(ctx context.Context, e AlertEvent) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// Extra routes share the mux and OTEL instrumentation with the built-in
// routes. Called once during New() after the built-in routes are
// registered.
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the root HTTP handler. Applied outermost (before
// routing), so it sees every request including /health. Multiple
// middlewares are applied in registration order — the first-registered
// is outermost.
type Middleware func(http.Handler) http.Handler
