package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/apperr"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/decision"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/explain"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/requestadapter"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("analyze_message",
			mcplib.WithDescription(`Score a message for crisis risk using the ensemble decision engine.

WHEN TO USE: Before taking any moderation action on a message — flagging it,
escalating it, or responding to it. Returns the fused crisis_score, severity
band, recommended_action, and (unless verbosity="minimal") a plain-language
explanation of why the ensemble reached that conclusion.

EXAMPLE: analyze_message with message="I don't think I can keep doing this"
returns severity, crisis_score, and recommended_action so the caller can
decide whether to escalate.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("message",
				mcplib.Description("The message text to score"),
				mcplib.Required(),
			),
			mcplib.WithString("verbosity",
				mcplib.Description(`Explanation detail: "minimal", "standard" (default), or "detailed"`),
			),
			mcplib.WithString("consensus_algorithm",
				mcplib.Description(`Override the default consensus algorithm: "weighted_voting", "majority_voting", "unanimous", or "conflict_aware"`),
			),
		),
		s.handleAnalyzeMessage,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("service_health",
			mcplib.WithDescription(`Report which of the four classifier models are currently available.

WHEN TO USE: To check whether the decision engine is degraded before relying
on it for a batch of moderation decisions.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleServiceHealth,
	)
}

func (s *Server) handleAnalyzeMessage(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	message := request.GetString("message", "")
	if message == "" {
		return errorResult("message is required"), nil
	}

	normalized, aerr := requestadapter.Adapt(requestadapter.Raw{
		Message:            message,
		Verbosity:          request.GetString("verbosity", ""),
		ConsensusAlgorithm: request.GetString("consensus_algorithm", ""),
	}, s.adapter)
	if aerr != nil {
		return errorResult(fmt.Sprintf("%s: %s", aerr.Kind, aerr.Message)), nil
	}

	resp, err := s.engine.Evaluate(ctx, decision.Request{
		NormalizedText:     normalized.Message,
		WasTruncated:       normalized.WasTruncated,
		Verbosity:          normalized.Verbosity,
		ConsensusAlgorithm: normalized.ConsensusAlgorithm,
	})
	if err != nil {
		if ae, ok := apperr.As(err); ok {
			return errorResult(fmt.Sprintf("%s: %s", ae.Kind, ae.Message)), nil
		}
		s.logger.Error("mcp analyze_message failed", "error", err)
		return errorResult("analysis failed"), nil
	}

	result := map[string]any{
		"crisis_detected":       resp.Assessment.IsCrisis,
		"severity":              resp.Assessment.Severity,
		"crisis_score":          resp.Assessment.CrisisScore,
		"confidence":            resp.Assessment.Confidence,
		"requires_intervention": resp.Assessment.RequiresReview || resp.Assessment.Severity >= model.SeverityHigh,
		"recommended_action":    resp.Assessment.RecommendedAction,
		"is_degraded":           resp.Assessment.IsDegraded,
		"models_used":           resp.Assessment.ModelsUsed,
	}
	if normalized.Verbosity != model.VerbosityMinimal {
		result["explanation"] = explain.Build(resp.Assessment, resp.Signals, normalized.Verbosity)
	}

	data, _ := json.MarshalIndent(result, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func (s *Server) handleServiceHealth(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	loaded := 0
	statuses := make(map[model.ModelName]model.BreakerStatus, len(model.ModelNames))
	for _, name := range model.ModelNames {
		state := s.breaker.State(name)
		statuses[name] = state.Status
		if state.Status != model.BreakerOpen {
			loaded++
		}
	}

	result := map[string]any{
		"status":         healthStatus(loaded, len(model.ModelNames)),
		"models_loaded":  loaded,
		"total_models":   len(model.ModelNames),
		"model_statuses": statuses,
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
	}

	data, _ := json.MarshalIndent(result, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func healthStatus(loaded, total int) string {
	switch {
	case loaded == 0:
		return "unhealthy"
	case loaded < total:
		return "degraded"
	default:
		return "healthy"
	}
}
