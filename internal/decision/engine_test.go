package decision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/alerting"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/cache"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/config"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/fallback"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/wrapper"
)

func discardLoggerForTest() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// stubClassifier returns a fixed RawResult or error, used to drive the four
// Wrappers deterministically in place of a real transformer model.
type stubClassifier struct {
	result RawResultFunc
}

type RawResultFunc func() (wrapper.RawResult, error)

func (s stubClassifier) Classify(_ context.Context, _ string) (wrapper.RawResult, error) {
	return s.result()
}

func fixed(r wrapper.RawResult) RawResultFunc {
	return func() (wrapper.RawResult, error) { return r, nil }
}

func failing(err error) RawResultFunc {
	return func() (wrapper.RawResult, error) { return wrapper.RawResult{}, err }
}

func safeWrappers() map[model.ModelName]*wrapper.Wrapper {
	return map[model.ModelName]*wrapper.Wrapper{
		model.ModelBart: wrapper.New(model.ModelBart, stubClassifier{fixed(wrapper.RawResult{
			Label: "casual conversation",
			AllScores: map[string]float64{
				"casual conversation": 0.9, "suicide ideation": 0.01, "self-harm": 0.01,
				"hopelessness": 0.01, "emotional distress": 0.02, "depression": 0.02, "anxiety": 0.03,
				"positive sharing": 0.0, "seeking support": 0.0,
			},
		})}, time.Second),
		model.ModelSentiment: wrapper.New(model.ModelSentiment, stubClassifier{fixed(wrapper.RawResult{
			Label: "positive", AllScores: map[string]float64{"positive": 0.9, "neutral": 0.08, "negative": 0.02},
		})}, time.Second),
		model.ModelIrony: wrapper.New(model.ModelIrony, stubClassifier{fixed(wrapper.RawResult{
			Label: "non_irony", AllScores: map[string]float64{"non_irony": 0.95, "irony": 0.05},
		})}, time.Second),
		model.ModelEmotions: wrapper.New(model.ModelEmotions, stubClassifier{fixed(wrapper.RawResult{
			Label: "joy", AllScores: map[string]float64{"joy": 0.8, "sadness": 0.02, "neutral": 0.18},
		})}, time.Second),
	}
}

func crisisWrappers() map[model.ModelName]*wrapper.Wrapper {
	return map[model.ModelName]*wrapper.Wrapper{
		model.ModelBart: wrapper.New(model.ModelBart, stubClassifier{fixed(wrapper.RawResult{
			Label: "suicide ideation",
			AllScores: map[string]float64{
				"suicide ideation": 0.7, "self-harm": 0.1, "hopelessness": 0.1,
				"emotional distress": 0.05, "depression": 0.03, "anxiety": 0.02,
				"casual conversation": 0.0, "positive sharing": 0.0, "seeking support": 0.0,
			},
		})}, time.Second),
		model.ModelSentiment: wrapper.New(model.ModelSentiment, stubClassifier{fixed(wrapper.RawResult{
			Label: "negative", AllScores: map[string]float64{"negative": 0.85, "neutral": 0.1, "positive": 0.05},
		})}, time.Second),
		model.ModelIrony: wrapper.New(model.ModelIrony, stubClassifier{fixed(wrapper.RawResult{
			Label: "non_irony", AllScores: map[string]float64{"non_irony": 0.9, "irony": 0.1},
		})}, time.Second),
		model.ModelEmotions: wrapper.New(model.ModelEmotions, stubClassifier{fixed(wrapper.RawResult{
			Label: "sadness", AllScores: map[string]float64{"sadness": 0.6, "grief": 0.2, "joy": 0.02},
		})}, time.Second),
	}
}

func newEngine(t *testing.T, wrappers map[model.ModelName]*wrapper.Wrapper) *Engine {
	t.Helper()
	view := config.NewView(config.ViewFromConfig(config.Config{
		WeightBart: 0.50, WeightSentiment: 0.25, WeightIrony: 0.15, WeightEmotions: 0.10,
		ThresholdCritical: 0.85, ThresholdHigh: 0.70, ThresholdMedium: 0.50, ThresholdLow: 0.30,
		SafetyBias:         0.03,
		ConflictDetection:  true,
		ResolutionStrategy: model.ResolutionConservative,
		DefaultAlgorithm:   model.ConsensusWeightedVoting,
		UnanimousThreshold: 0.60,
	}))
	breaker := fallback.NewController(fallback.DefaultThresholds(), fallback.NoopAlertSink{})
	c := cache.New(512, 5*time.Minute)
	hook := alerting.NewHook(16, alerting.LogSink{Logger: discardLoggerForTest()}, discardLoggerForTest())
	return New(wrappers, breaker, c, hook, fallback.DefaultThresholds(), view, 2*time.Second)
}

func TestEngine_SafeMessageProducesLowScore(t *testing.T) {
	e := newEngine(t, safeWrappers())
	resp, err := e.Evaluate(context.Background(), Request{NormalizedText: "hope you have a great day"})
	require.NoError(t, err)
	assert.Less(t, resp.Assessment.CrisisScore, 0.30)
	assert.Equal(t, model.SeveritySafe, resp.Assessment.Severity)
	assert.False(t, resp.CacheHit)
}

func TestEngine_CrisisMessageProducesHighScore(t *testing.T) {
	e := newEngine(t, crisisWrappers())
	resp, err := e.Evaluate(context.Background(), Request{NormalizedText: "i want to end it all"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.Assessment.CrisisScore, 0.50)
	assert.True(t, resp.Assessment.IsCrisis || resp.Assessment.Severity >= model.SeverityMedium)
}

func TestEngine_CacheHitOnRepeatedRequestWithoutHistory(t *testing.T) {
	e := newEngine(t, safeWrappers())
	req := Request{NormalizedText: "repeat this exact text"}

	first, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Assessment.CrisisScore, second.Assessment.CrisisScore)
}

func TestEngine_HistoryPresentSkipsCache(t *testing.T) {
	e := newEngine(t, safeWrappers())
	now := time.Now()
	req := Request{
		NormalizedText: "same text with history",
		History: []model.HistoryItem{
			{Message: "earlier", Timestamp: now.Add(-time.Hour)},
		},
	}

	first, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	require.NotNil(t, first.ContextReport)

	second, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.CacheHit, "requests carrying history must never be served from cache")
}

func TestEngine_DegradedWhenAllModelsFail(t *testing.T) {
	wrappers := map[model.ModelName]*wrapper.Wrapper{
		model.ModelBart:      wrapper.New(model.ModelBart, stubClassifier{failing(errors.New("boom"))}, time.Second),
		model.ModelSentiment: wrapper.New(model.ModelSentiment, stubClassifier{failing(errors.New("boom"))}, time.Second),
		model.ModelIrony:     wrapper.New(model.ModelIrony, stubClassifier{failing(errors.New("boom"))}, time.Second),
		model.ModelEmotions:  wrapper.New(model.ModelEmotions, stubClassifier{failing(errors.New("boom"))}, time.Second),
	}
	e := newEngine(t, wrappers)
	resp, err := e.Evaluate(context.Background(), Request{NormalizedText: "anything"})
	require.NoError(t, err)
	assert.True(t, resp.Assessment.IsDegraded)
	assert.Equal(t, model.SeveritySafe, resp.Assessment.Severity)
	assert.Empty(t, resp.Signals)
}

func TestEngine_PartialFailureStillProducesAssessment(t *testing.T) {
	wrappers := crisisWrappers()
	wrappers[model.ModelSentiment] = wrapper.New(model.ModelSentiment, stubClassifier{failing(errors.New("unavailable"))}, time.Second)
	e := newEngine(t, wrappers)

	resp, err := e.Evaluate(context.Background(), Request{NormalizedText: "i cant do this anymore"})
	require.NoError(t, err)
	assert.Len(t, resp.Signals, 3)
	assert.True(t, resp.Assessment.IsDegraded)
	assert.Contains(t, resp.Assessment.ActiveWeights, model.ModelBart)
	assert.NotContains(t, resp.Assessment.ActiveWeights, model.ModelSentiment)
}

func TestEngine_BreakerOpenSkipsModelWithoutRetry(t *testing.T) {
	wrappers := safeWrappers()
	e := newEngine(t, wrappers)

	for i := 0; i < fallback.DefaultThresholds().TripThreshold; i++ {
		e.breaker.RecordFailure(context.Background(), model.ModelBart, false)
	}
	require.Equal(t, model.BreakerOpen, e.breaker.State(model.ModelBart).Status)

	resp, err := e.Evaluate(context.Background(), Request{NormalizedText: "breaker open path"})
	require.NoError(t, err)
	assert.Len(t, resp.Signals, 3)
	for _, s := range resp.Signals {
		assert.NotEqual(t, model.ModelBart, s.ModelName)
	}
}
