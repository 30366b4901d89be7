package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/apperr"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/config"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/decision"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/explain"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/fallback"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/history"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/requestadapter"
)

// HandlersDeps are the dependencies Handlers needs, assembled once at startup.
type HandlersDeps struct {
	Engine              *decision.Engine
	Breaker             *fallback.Controller
	View                *config.View
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	StartedAt           time.Time
	ReadinessCheck      func() bool // true once all wrappers have warmed up or been excluded
	AdapterOptions      requestadapter.Options
	OpenAPISpec         []byte // optional, nil disables GET /openapi.yaml
}

// Handlers implements the HTTP API surface over the Decision Engine.
type Handlers struct {
	engine              *decision.Engine
	breaker             *fallback.Controller
	view                *config.View
	logger              *slog.Logger
	version             string
	maxRequestBodyBytes int64
	startedAt           time.Time
	readinessCheck      func() bool
	adapterOptions      requestadapter.Options
	openAPISpec         []byte
}

// NewHandlers builds Handlers from its dependencies.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		engine:              deps.Engine,
		breaker:             deps.Breaker,
		view:                deps.View,
		logger:              deps.Logger,
		version:             deps.Version,
		maxRequestBodyBytes: deps.MaxRequestBodyBytes,
		startedAt:           deps.StartedAt,
		readinessCheck:      deps.ReadinessCheck,
		adapterOptions:      deps.AdapterOptions,
		openAPISpec:         deps.OpenAPISpec,
	}
}

// --- GET /openapi.yaml ---

// HandleOpenAPISpec serves the embedded OpenAPI document, when configured.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openAPISpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openAPISpec)
}

// --- POST /analyze ---

type analyzeRequestBody struct {
	Message            string            `json:"message"`
	UserID             string            `json:"user_id,omitempty"`
	ChannelID          string            `json:"channel_id,omitempty"`
	Metadata           map[string]any    `json:"metadata,omitempty"`
	IncludeExplanation *bool             `json:"include_explanation,omitempty"`
	Verbosity          string            `json:"verbosity,omitempty"`
	ConsensusAlgorithm string            `json:"consensus_algorithm,omitempty"`
	ResolutionStrategy string            `json:"resolution_strategy,omitempty"`
	MessageHistory     []historyItemBody `json:"message_history,omitempty"`
	UserTimezone       string            `json:"user_timezone,omitempty"`
}

type historyItemBody struct {
	Message     string   `json:"message"`
	Timestamp   string   `json:"timestamp"`
	CrisisScore *float64 `json:"crisis_score,omitempty"`
	MessageID   string   `json:"message_id,omitempty"`
}

type signalBody struct {
	Label        string  `json:"label"`
	Score        float64 `json:"score"`
	CrisisSignal float64 `json:"crisis_signal"`
}

type analyzeResponseBody struct {
	CrisisDetected       bool                            `json:"crisis_detected"`
	Severity             model.Severity                  `json:"severity"`
	Confidence           float64                         `json:"confidence"`
	CrisisScore          float64                         `json:"crisis_score"`
	RequiresIntervention bool                             `json:"requires_intervention"`
	RecommendedAction    model.RecommendedAction          `json:"recommended_action"`
	Signals              map[model.ModelName]signalBody  `json:"signals"`
	Explanation          *explain.Explanation            `json:"explanation,omitempty"`
	Consensus            explain.Consensus               `json:"consensus"`
	ConflictAnalysis     *explain.ConflictAnalysis        `json:"conflict_analysis"`
	ContextAnalysis      *model.ContextReport             `json:"context_analysis"`
	ProcessingTimeMS     float64                          `json:"processing_time_ms"`
	ModelsUsed           []model.ModelName                `json:"models_used"`
	IsDegraded           bool                              `json:"is_degraded"`
	RequestID            string                            `json:"request_id"`
	Timestamp            time.Time                         `json:"timestamp"`
}

// HandleAnalyze implements POST /analyze.
func (h *Handlers) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequestBody
	if err := decodeJSON(r, &body, h.maxRequestBodyBytes); err != nil {
		writeAppError(w, r, apperr.Validation("malformed request body",
			apperr.Detail{Code: "invalid_json", Message: err.Error()}))
		return
	}

	cfgView := h.view.Load()
	rawHistory := make([]history.RawItem, len(body.MessageHistory))
	for i, it := range body.MessageHistory {
		rawHistory[i] = history.RawItem{Message: it.Message, Timestamp: it.Timestamp, CrisisScore: it.CrisisScore, MessageID: it.MessageID}
	}

	normalized, aerr := requestadapter.Adapt(requestadapter.Raw{
		Message:            body.Message,
		Verbosity:          body.Verbosity,
		ConsensusAlgorithm: body.ConsensusAlgorithm,
		ResolutionStrategy: body.ResolutionStrategy,
		MessageHistory:     rawHistory,
		UserTimezone:       body.UserTimezone,
	}, h.adapterOptions)
	if aerr != nil {
		writeAppError(w, r, aerr)
		return
	}

	resp, err := h.engine.Evaluate(r.Context(), decision.Request{
		NormalizedText:     normalized.Message,
		WasTruncated:       normalized.WasTruncated,
		History:            normalized.History,
		UserTimezone:       normalized.Timezone,
		TimezoneFellBack:   normalized.TimezoneFellBack,
		Verbosity:          normalized.Verbosity,
		ConsensusAlgorithm: normalized.ConsensusAlgorithm,
		ResolutionOverride: normalized.ResolutionStrategy,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	algorithm := normalized.ConsensusAlgorithm
	if algorithm == "" {
		algorithm = cfgView.DefaultAlgorithm
	}

	includeExplanation := body.IncludeExplanation == nil || *body.IncludeExplanation
	out := analyzeResponseBody{
		CrisisDetected:       resp.Assessment.IsCrisis,
		Severity:             resp.Assessment.Severity,
		Confidence:           resp.Assessment.Confidence,
		CrisisScore:          resp.Assessment.CrisisScore,
		RequiresIntervention: resp.Assessment.RequiresReview || resp.Assessment.Severity >= model.SeverityHigh,
		RecommendedAction:    resp.Assessment.RecommendedAction,
		Signals:              signalsToBody(resp.Signals),
		Consensus:            explain.BuildConsensus(resp.Assessment, algorithm),
		ConflictAnalysis:     explain.BuildConflictAnalysis(resp.Assessment, resp.Assessment.CrisisScore),
		ContextAnalysis:      resp.ContextReport,
		ProcessingTimeMS:     float64(resp.ProcessingTime) / float64(time.Millisecond),
		ModelsUsed:           resp.Assessment.ModelsUsed,
		IsDegraded:           resp.Assessment.IsDegraded,
		RequestID:            RequestIDFromContext(r.Context()),
		Timestamp:            time.Now().UTC(),
	}
	if includeExplanation {
		e := explain.Build(resp.Assessment, resp.Signals, normalized.Verbosity)
		out.Explanation = &e
	}

	writeJSON(w, http.StatusOK, out)
}

func signalsToBody(signals []model.Signal) map[model.ModelName]signalBody {
	out := make(map[model.ModelName]signalBody, len(signals))
	for _, s := range signals {
		out[s.ModelName] = signalBody{Label: s.Label, Score: s.Score, CrisisSignal: s.CrisisSignal}
	}
	return out
}

func (h *Handlers) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if ae, ok := apperr.As(err); ok {
		writeAppError(w, r, ae)
		return
	}
	h.logger.Error("analyze: unexpected engine error", "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeAppError(w, r, apperr.Internal("unexpected error", err))
}

// --- POST /analyze/batch ---

type batchRequestBody struct {
	Messages           []string `json:"messages"`
	IncludeDetails     bool     `json:"include_details,omitempty"`
	IncludeExplanation bool     `json:"include_explanation,omitempty"`
}

type batchResultItem struct {
	Index                int            `json:"index"`
	MessagePreview       string         `json:"message_preview"`
	CrisisDetected       bool           `json:"crisis_detected"`
	Severity             model.Severity `json:"severity"`
	CrisisScore          float64        `json:"crisis_score"`
	RequiresIntervention bool           `json:"requires_intervention"`
	ExplanationSummary   string         `json:"explanation_summary,omitempty"`
}

type batchResponseBody struct {
	TotalMessages int               `json:"total_messages"`
	CrisisCount   int               `json:"crisis_count"`
	CriticalCount int               `json:"critical_count"`
	HighCount     int               `json:"high_count"`
	Results       []batchResultItem `json:"results"`
}

const batchMaxMessages = 100
const messagePreviewLen = 80

// HandleAnalyzeBatch implements POST /analyze/batch. Each message is scored
// independently against the same Decision Engine instance, sequentially —
// batching is not required to be parallel across messages.
func (h *Handlers) HandleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequestBody
	if err := decodeJSON(r, &body, h.maxRequestBodyBytes); err != nil {
		writeAppError(w, r, apperr.Validation("malformed request body",
			apperr.Detail{Code: "invalid_json", Message: err.Error()}))
		return
	}
	if len(body.Messages) == 0 || len(body.Messages) > batchMaxMessages {
		writeAppError(w, r, apperr.Validation("messages must contain between 1 and 100 items",
			apperr.Detail{Code: "invalid_batch_size", Field: "messages"}))
		return
	}

	out := batchResponseBody{TotalMessages: len(body.Messages), Results: make([]batchResultItem, 0, len(body.Messages))}
	for i, msg := range body.Messages {
		item := h.scoreOneBatchMessage(r.Context(), i, msg, body.IncludeExplanation)
		out.Results = append(out.Results, item)
		if item.CrisisDetected {
			out.CrisisCount++
		}
		switch item.Severity {
		case model.SeverityCritical:
			out.CriticalCount++
		case model.SeverityHigh:
			out.HighCount++
		}
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) scoreOneBatchMessage(ctx context.Context, index int, msg string, includeExplanation bool) batchResultItem {
	normalized, aerr := requestadapter.Adapt(requestadapter.Raw{Message: msg}, h.adapterOptions)
	preview := previewOf(msg)
	if aerr != nil {
		return batchResultItem{Index: index, MessagePreview: preview}
	}

	resp, err := h.engine.Evaluate(ctx, decision.Request{NormalizedText: normalized.Message, Verbosity: model.VerbosityMinimal})
	if err != nil {
		h.logger.Warn("batch: message failed to score", "index", index, "error", err)
		return batchResultItem{Index: index, MessagePreview: preview}
	}

	item := batchResultItem{
		Index:                index,
		MessagePreview:       preview,
		CrisisDetected:       resp.Assessment.IsCrisis,
		Severity:             resp.Assessment.Severity,
		CrisisScore:          resp.Assessment.CrisisScore,
		RequiresIntervention: resp.Assessment.RequiresReview || resp.Assessment.Severity >= model.SeverityHigh,
	}
	if includeExplanation {
		item.ExplanationSummary = explain.Build(resp.Assessment, resp.Signals, model.VerbosityMinimal).DecisionSummary
	}
	return item
}

func previewOf(msg string) string {
	r := []rune(msg)
	if len(r) <= messagePreviewLen {
		return msg
	}
	return string(r[:messagePreviewLen]) + "..."
}

// --- GET /health ---

type healthResponseBody struct {
	Status        string    `json:"status"`
	Ready         bool      `json:"ready"`
	Degraded      bool      `json:"degraded"`
	ModelsLoaded  int       `json:"models_loaded"`
	TotalModels   int       `json:"total_models"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Version       string    `json:"version"`
	Timestamp     time.Time `json:"timestamp"`
}

// HandleHealth implements GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	loaded := 0
	total := len(model.ModelNames)
	for _, name := range model.ModelNames {
		if h.breaker.State(name).Status != model.BreakerOpen {
			loaded++
		}
	}
	ready := h.readinessCheck == nil || h.readinessCheck()
	degraded := loaded < total

	status := "healthy"
	httpStatus := http.StatusOK
	switch {
	case loaded == 0:
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	case degraded:
		status = "degraded"
	}

	writeJSON(w, httpStatus, healthResponseBody{
		Status:        status,
		Ready:         ready,
		Degraded:      degraded,
		ModelsLoaded:  loaded,
		TotalModels:   total,
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		Version:       h.version,
		Timestamp:     time.Now().UTC(),
	})
}

// --- GET/PUT /config/consensus ---

type consensusConfigBody struct {
	DefaultAlgorithm         model.ConsensusAlgorithm `json:"default_algorithm"`
	Weights                  model.Weights            `json:"weights"`
	Thresholds               thresholdsBody           `json:"thresholds"`
	ConflictDetectionEnabled bool                     `json:"conflict_detection_enabled"`
	ResolutionStrategy       model.ResolutionStrategy `json:"resolution_strategy"`
	ExplainabilityVerbosity  model.Verbosity          `json:"explainability_verbosity"`
}

type thresholdsBody struct {
	Crisis       float64 `json:"crisis"`
	Majority     float64 `json:"majority"`
	Unanimous    float64 `json:"unanimous"`
	Disagreement float64 `json:"disagreement"`
}

// HandleGetConsensusConfig implements GET /config/consensus.
func (h *Handlers) HandleGetConsensusConfig(w http.ResponseWriter, r *http.Request) {
	v := h.view.Load()
	writeJSON(w, http.StatusOK, viewToBody(v))
}

// HandlePutConsensusConfig implements PUT /config/consensus. The candidate
// view is validated in full before the atomic swap, never applying a
// partially-valid configuration.
func (h *Handlers) HandlePutConsensusConfig(w http.ResponseWriter, r *http.Request) {
	var body consensusConfigBody
	if err := decodeJSON(r, &body, h.maxRequestBodyBytes); err != nil {
		writeAppError(w, r, apperr.Validation("malformed request body",
			apperr.Detail{Code: "invalid_json", Message: err.Error()}))
		return
	}

	current := h.view.Load()
	next := config.ConfigView{
		DefaultAlgorithm: body.DefaultAlgorithm,
		Weights:          body.Weights,
		Thresholds: config.Thresholds{
			Critical: body.Thresholds.Crisis,
			High:     current.Thresholds.High,
			Medium:   current.Thresholds.Medium,
			Low:      current.Thresholds.Low,
		},
		UnanimousThreshold:       body.Thresholds.Unanimous,
		MajorityThreshold:        body.Thresholds.Majority,
		DisagreementThreshold:    body.Thresholds.Disagreement,
		SafetyBias:               current.SafetyBias,
		ConflictDetectionEnabled: body.ConflictDetectionEnabled,
		ResolutionStrategy:       body.ResolutionStrategy,
		ExplainabilityVerbosity:  body.ExplainabilityVerbosity,
	}

	if err := h.view.Store(next); err != nil {
		writeAppError(w, r, apperr.Validation("candidate configuration is invalid",
			apperr.Detail{Code: "invalid_config_view", Message: err.Error()}))
		return
	}

	writeJSON(w, http.StatusOK, viewToBody(h.view.Load()))
}

func viewToBody(v config.ConfigView) consensusConfigBody {
	return consensusConfigBody{
		DefaultAlgorithm: v.DefaultAlgorithm,
		Weights:          v.Weights,
		Thresholds: thresholdsBody{
			Crisis:       v.Thresholds.Critical,
			Majority:     v.MajorityThreshold,
			Unanimous:    v.UnanimousThreshold,
			Disagreement: v.DisagreementThreshold,
		},
		ConflictDetectionEnabled: v.ConflictDetectionEnabled,
		ResolutionStrategy:       v.ResolutionStrategy,
		ExplainabilityVerbosity:  v.ExplainabilityVerbosity,
	}
}
