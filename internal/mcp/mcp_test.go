package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/alerting"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/cache"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/config"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/decision"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/fallback"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/requestadapter"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/wrapper"
)

type fixedClassifier struct {
	result wrapper.RawResult
}

func (c fixedClassifier) Classify(context.Context, string) (wrapper.RawResult, error) {
	return c.result, nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func safeWrappers() map[model.ModelName]*wrapper.Wrapper {
	return map[model.ModelName]*wrapper.Wrapper{
		model.ModelBart: wrapper.New(model.ModelBart, fixedClassifier{wrapper.RawResult{
			Label: "casual conversation",
			AllScores: map[string]float64{
				"casual conversation": 0.9, "suicide ideation": 0.01, "self-harm": 0.01,
				"hopelessness": 0.01, "emotional distress": 0.02, "depression": 0.02, "anxiety": 0.03,
			},
		}}, time.Second),
		model.ModelSentiment: wrapper.New(model.ModelSentiment, fixedClassifier{wrapper.RawResult{
			Label: "positive", AllScores: map[string]float64{"positive": 0.9, "neutral": 0.08, "negative": 0.02},
		}}, time.Second),
		model.ModelIrony: wrapper.New(model.ModelIrony, fixedClassifier{wrapper.RawResult{
			Label: "non_irony", AllScores: map[string]float64{"non_irony": 0.95, "irony": 0.05},
		}}, time.Second),
		model.ModelEmotions: wrapper.New(model.ModelEmotions, fixedClassifier{wrapper.RawResult{
			Label: "joy", AllScores: map[string]float64{"joy": 0.8, "sadness": 0.02, "neutral": 0.18},
		}}, time.Second),
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	view := config.NewView(config.ViewFromConfig(config.Config{
		WeightBart: 0.50, WeightSentiment: 0.25, WeightIrony: 0.15, WeightEmotions: 0.10,
		ThresholdCritical: 0.85, ThresholdHigh: 0.70, ThresholdMedium: 0.50, ThresholdLow: 0.30,
		SafetyBias: 0.03, ConflictDetection: true,
		ResolutionStrategy: model.ResolutionConservative,
		DefaultAlgorithm:   model.ConsensusWeightedVoting,
		UnanimousThreshold: 0.60,
	}))
	breaker := fallback.NewController(fallback.DefaultThresholds(), fallback.NoopAlertSink{})
	c := cache.New(512, 5*time.Minute)
	hook := alerting.NewHook(16, alerting.LogSink{Logger: discardLogger()}, discardLogger())
	eng := decision.New(safeWrappers(), breaker, c, hook, fallback.DefaultThresholds(), view, 2*time.Second)

	return New(eng, breaker, view, discardLogger(), "test", time.Now(), requestadapter.Options{
		PlatformCharCap: 2000, DefaultTimezone: "UTC",
	})
}

func callToolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestHandleAnalyzeMessage_SafeMessage(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.handleAnalyzeMessage(context.Background(), callToolRequest("analyze_message", map[string]any{
		"message": "hope you have a good day",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := result.Content[0].(mcplib.TextContent).Text
	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &parsed))
	assert.Equal(t, false, parsed["crisis_detected"])
	assert.Contains(t, parsed, "explanation")
}

func TestHandleAnalyzeMessage_MinimalVerbositySkipsExplanation(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.handleAnalyzeMessage(context.Background(), callToolRequest("analyze_message", map[string]any{
		"message": "hope you have a good day", "verbosity": "minimal",
	}))
	require.NoError(t, err)

	text := result.Content[0].(mcplib.TextContent).Text
	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &parsed))
	assert.NotContains(t, parsed, "explanation")
}

func TestHandleAnalyzeMessage_RejectsEmptyMessage(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.handleAnalyzeMessage(context.Background(), callToolRequest("analyze_message", map[string]any{
		"message": "",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleServiceHealth_AllModelsUp(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.handleServiceHealth(context.Background(), callToolRequest("service_health", nil))
	require.NoError(t, err)

	text := result.Content[0].(mcplib.TextContent).Text
	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &parsed))
	assert.Equal(t, "healthy", parsed["status"])
	assert.Equal(t, float64(4), parsed["models_loaded"])
}
