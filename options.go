package ashnlp

import (
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port            int
	logger          *slog.Logger
	version         string
	classifiers     map[string]Classifier
	alertSink       AlertSink
	routeRegistrars []RouteRegistrar
	middlewares     []Middleware
}

// WithPort overrides the TCP port from config (NLP_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint,
// MCP server info, and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithClassifier replaces the HTTP classifier for one model role with a
// custom implementation. model must be one of "bart", "sentiment",
// "irony", "emotions"; an unrecognized name is ignored. Only the last
// call for a given model wins.
func WithClassifier(model string, c Classifier) Option {
	return func(o *resolvedOptions) {
		if o.classifiers == nil {
			o.classifiers = make(map[string]Classifier)
		}
		o.classifiers[model] = c
	}
}

// WithAlertSink replaces the default log-based delivery of breaker
// state-transition alerts. Only the last call wins.
func WithAlertSink(sink AlertSink) Option {
	return func(o *resolvedOptions) { o.alertSink = sink }
}

// WithExtraRoutes registers additional routes on the shared HTTP mux.
// Multiple registrars may be registered; all are called in registration
// order.
func WithExtraRoutes(fn RouteRegistrar) Option {
	return func(o *resolvedOptions) { o.routeRegistrars = append(o.routeRegistrars, fn) }
}

// WithMiddleware registers an outermost HTTP middleware.
// Multiple middlewares may be registered. Applied in registration order:
// the first-registered middleware is outermost (called first by every
// request).
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
