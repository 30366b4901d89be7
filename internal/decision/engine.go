// Package decision implements the Decision Engine orchestrator: it fans
// the four Wrappers out concurrently under a global deadline, runs the
// Fallback Controller's retry/breaker policy per model, feeds successful
// Signals through the Scoring Kernel, applies the Context Analyzer's
// time-risk modifier, and manages the response cache. Concurrent fan-out
// under a shared deadline uses golang.org/x/sync/errgroup.
package decision

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/alerting"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/cache"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/config"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/contextanalysis"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/fallback"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/scoring"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/wrapper"
)

// Request is one normalized /analyze call.
type Request struct {
	NormalizedText     string
	WasTruncated       bool
	History            []model.HistoryItem
	UserTimezone       *time.Location
	TimezoneFellBack   bool
	Verbosity          model.Verbosity
	ConsensusAlgorithm model.ConsensusAlgorithm
	ResolutionOverride model.ResolutionStrategy // empty = use Config View default
}

// Response is the full result the Decision Engine hands to the server
// boundary for rendering.
type Response struct {
	Assessment     model.Assessment
	Signals        []model.Signal
	ContextReport  *model.ContextReport
	CacheHit       bool
	ProcessingTime time.Duration
	WasTruncated   bool
	Diagnostics    []string
}

// Engine ties the Wrapper pool, Fallback Controller, Scoring Kernel,
// Context Analyzer, and Response Cache together.
type Engine struct {
	wrappers   map[model.ModelName]*wrapper.Wrapper
	breaker    *fallback.Controller
	cache      *cache.Cache
	alertHook  *alerting.Hook
	retryPolicy fallback.Thresholds
	view       *config.View
	requestTimeout time.Duration
}

// New builds an Engine. wrappers must contain exactly the four fixed model
// roles; callers assemble them once at startup.
func New(wrappers map[model.ModelName]*wrapper.Wrapper, breaker *fallback.Controller, c *cache.Cache, hook *alerting.Hook, retryPolicy fallback.Thresholds, view *config.View, requestTimeout time.Duration) *Engine {
	return &Engine{
		wrappers:       wrappers,
		breaker:        breaker,
		cache:          c,
		alertHook:      hook,
		retryPolicy:    retryPolicy,
		view:           view,
		requestTimeout: requestTimeout,
	}
}

// Evaluate runs the full pipeline for one request.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	cfgView := e.view.Load()

	skipCache := len(req.History) > 0
	fingerprint := cache.Fingerprint(req.NormalizedText, string(req.Verbosity), string(resolutionFor(req, cfgView)), string(algorithmFor(req, cfgView)))

	if !skipCache {
		if entry, ok := e.cache.Get(fingerprint); ok {
			resp := entry.Response.(Response)
			resp.CacheHit = true
			resp.ProcessingTime = time.Since(start)
			return resp, nil
		}
	}

	signals, err := e.runWrappers(ctx, req.NormalizedText)
	if err != nil {
		return Response{}, err
	}

	assessment, err := scoring.Evaluate(signals, scoring.Params{
		BaseWeights:              cfgView.Weights,
		Thresholds:               scoring.Thresholds(cfgView.Thresholds),
		SafetyBias:               cfgView.SafetyBias,
		ConflictDetectionEnabled: cfgView.ConflictDetectionEnabled,
		ResolutionStrategy:       resolutionFor(req, cfgView),
		UnanimousThreshold:       cfgView.UnanimousThreshold,
		Algorithm:                algorithmFor(req, cfgView),
	})
	if err != nil {
		return Response{}, err
	}

	var ctxReport *model.ContextReport
	if len(req.History) > 0 {
		loc := req.UserTimezone
		if loc == nil {
			loc = time.UTC
		}
		report := contextanalysis.Analyze(contextanalysis.Input{
			CurrentScore: assessment.CrisisScore,
			History:      req.History,
			Now:          time.Now(),
			Location:     loc,
		})
		adjusted := assessment.CrisisScore * report.TemporalFactors.TimeRiskModifier
		if adjusted > 1 {
			adjusted = 1
		}
		newSeverity := severityOf(adjusted, scoring.Thresholds(cfgView.Thresholds))
		if newSeverity < assessment.Severity {
			newSeverity = assessment.Severity
		}
		assessment.CrisisScore = adjusted
		assessment.Severity = newSeverity
		assessment.RecommendedAction = model.ActionForSeverity(newSeverity)
		assessment.RequiresReview = assessment.RequiresReview || newSeverity == model.SeverityCritical
		ctxReport = &report
	}

	resp := Response{
		Assessment:     assessment,
		Signals:        signals,
		ContextReport:  ctxReport,
		ProcessingTime: time.Since(start),
		WasTruncated:   req.WasTruncated,
	}
	if req.TimezoneFellBack {
		resp.Diagnostics = append(resp.Diagnostics, "user_timezone was invalid; fell back to default")
	}

	if !skipCache && allSucceeded(signals, len(e.wrappers)) {
		e.cache.Put(fingerprint, model.CacheEntry{Fingerprint: fingerprint, Response: resp, CreatedAt: time.Now()})
	}

	return resp, nil
}

func severityOf(score float64, t scoring.Thresholds) model.Severity {
	switch {
	case score >= t.Critical:
		return model.SeverityCritical
	case score >= t.High:
		return model.SeverityHigh
	case score >= t.Medium:
		return model.SeverityMedium
	case score >= t.Low:
		return model.SeverityLow
	default:
		return model.SeveritySafe
	}
}

func resolutionFor(req Request, view config.ConfigView) model.ResolutionStrategy {
	if req.ResolutionOverride != "" {
		return req.ResolutionOverride
	}
	return view.ResolutionStrategy
}

func algorithmFor(req Request, view config.ConfigView) model.ConsensusAlgorithm {
	if req.ConsensusAlgorithm != "" {
		return req.ConsensusAlgorithm
	}
	return view.DefaultAlgorithm
}

func allSucceeded(signals []model.Signal, wantCount int) bool {
	if len(signals) != wantCount {
		return false
	}
	for _, s := range signals {
		if !s.Success {
			return false
		}
	}
	return true
}

// runWrappers launches the four Wrappers concurrently under the engine's
// request timeout, applying per-model retry and breaker gating. It never
// returns an error for individual model failures — those become failed
// Signals — only for invariant violations (none currently possible here).
func (e *Engine) runWrappers(ctx context.Context, text string) ([]model.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	results := make([]model.Signal, len(model.ModelNames))

	for i, name := range model.ModelNames {
		i, name := i, name
		g.Go(func() error {
			results[i] = e.callOne(gctx, name, text)
			return nil
		})
	}
	_ = g.Wait()

	successful := make([]model.Signal, 0, len(results))
	for _, s := range results {
		if s.Success {
			successful = append(successful, s)
		}
	}
	return successful, nil
}

// callOne applies breaker gating and the retry policy for one model, then
// records the outcome with the Fallback Controller.
func (e *Engine) callOne(ctx context.Context, name model.ModelName, text string) model.Signal {
	w, ok := e.wrappers[name]
	if !ok || !e.breaker.Allow(name) {
		return model.Signal{ModelName: name, Success: false, ErrorCategory: model.ErrorFatal}
	}

	var last model.Signal
	err := fallback.WithRetry(ctx, e.retryPolicy, isRetryable, func() error {
		last = w.Classify(ctx, text)
		if last.Success {
			return nil
		}
		if last.ErrorCategory.IsTransient() {
			return last.Err
		}
		return &fatalSignalError{err: last.Err}
	})

	if last.Success {
		e.breaker.RecordSuccess(name)
		return last
	}

	var fatal *fatalSignalError
	isFatal := asFatal(err, &fatal)
	e.breaker.RecordFailure(ctx, name, isFatal)
	return last
}

type fatalSignalError struct{ err error }

func (e *fatalSignalError) Error() string { return e.err.Error() }
func (e *fatalSignalError) Unwrap() error { return e.err }

func asFatal(err error, target **fatalSignalError) bool {
	fe, ok := err.(*fatalSignalError)
	if ok {
		*target = fe
	}
	return ok
}

// isRetryable treats anything that is not a *fatalSignalError as retryable;
// WithRetry only invokes this on a non-nil error.
func isRetryable(err error) bool {
	_, fatal := err.(*fatalSignalError)
	return !fatal
}
