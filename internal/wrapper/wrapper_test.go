package wrapper_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/wrapper"
)

type stubClassifier struct {
	result wrapper.RawResult
	err    error
	delay  time.Duration
}

func (c stubClassifier) Classify(ctx context.Context, text string) (wrapper.RawResult, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return wrapper.RawResult{}, ctx.Err()
		}
	}
	return c.result, c.err
}

func TestWrapper_Classify_Bart_SuicideIdeationBoostsSignal(t *testing.T) {
	c := stubClassifier{result: wrapper.RawResult{
		Label: "suicide ideation",
		AllScores: map[string]float64{
			"suicide ideation": 0.8, "self-harm": 0.02, "hopelessness": 0.02,
			"emotional distress": 0.02, "depression": 0.02, "anxiety": 0.02,
			"casual conversation": 0.1,
		},
	}}
	w := wrapper.New(model.ModelBart, c, time.Second)

	sig := w.Classify(context.Background(), "text")

	require.True(t, sig.Success)
	assert.Equal(t, "suicide ideation", sig.Label)
	assert.Greater(t, sig.CrisisSignal, 0.85, "crisis signal should be boosted above the raw label sum")
	assert.LessOrEqual(t, sig.CrisisSignal, 1.0)
}

func TestWrapper_Classify_Sentiment_UsesNegativeScore(t *testing.T) {
	c := stubClassifier{result: wrapper.RawResult{
		Label:     "negative",
		AllScores: map[string]float64{"negative": 0.7, "neutral": 0.2, "positive": 0.1},
	}}
	w := wrapper.New(model.ModelSentiment, c, time.Second)

	sig := w.Classify(context.Background(), "text")
	assert.Equal(t, 0.7, sig.CrisisSignal)
}

func TestWrapper_Classify_Irony_CrisisSignalIsInverseOfIronyScore(t *testing.T) {
	c := stubClassifier{result: wrapper.RawResult{
		Label:     "irony",
		AllScores: map[string]float64{"irony": 0.9, "non_irony": 0.1},
	}}
	w := wrapper.New(model.ModelIrony, c, time.Second)

	sig := w.Classify(context.Background(), "text")
	assert.InDelta(t, 0.1, sig.CrisisSignal, 0.0001)
}

func TestWrapper_Classify_Emotions_CrisisSetOutweighsPositiveSet(t *testing.T) {
	c := stubClassifier{result: wrapper.RawResult{
		Label:     "sadness",
		AllScores: map[string]float64{"sadness": 0.6, "fear": 0.2, "joy": 0.1},
	}}
	w := wrapper.New(model.ModelEmotions, c, time.Second)

	sig := w.Classify(context.Background(), "text")
	assert.InDelta(t, 0.77, sig.CrisisSignal, 0.0001)
}

func TestWrapper_Classify_ReturnsFailureSignalOnError(t *testing.T) {
	c := stubClassifier{err: errors.New("upstream exploded")}
	w := wrapper.New(model.ModelBart, c, time.Second)

	sig := w.Classify(context.Background(), "text")

	assert.False(t, sig.Success)
	assert.Equal(t, model.ErrorFatal, sig.ErrorCategory)
	assert.Error(t, sig.Err)
}

func TestWrapper_Classify_TransientErrorPreservesCategory(t *testing.T) {
	c := stubClassifier{err: wrapper.NewTransientError(model.ErrorResource, errors.New("pool exhausted"))}
	w := wrapper.New(model.ModelSentiment, c, time.Second)

	sig := w.Classify(context.Background(), "text")
	assert.False(t, sig.Success)
	assert.Equal(t, model.ErrorResource, sig.ErrorCategory)
}

func TestWrapper_Classify_TimeoutReportsTimeoutCategory(t *testing.T) {
	c := stubClassifier{delay: 50 * time.Millisecond}
	w := wrapper.New(model.ModelIrony, c, 5*time.Millisecond)

	sig := w.Classify(context.Background(), "text")
	assert.False(t, sig.Success)
	assert.Equal(t, model.ErrorTimeout, sig.ErrorCategory)
}

func TestWrapper_Warmup_SetsWarmedUpOnSuccess(t *testing.T) {
	c := stubClassifier{result: wrapper.RawResult{Label: "x", AllScores: map[string]float64{"x": 1}}}
	w := wrapper.New(model.ModelEmotions, c, time.Second)

	assert.False(t, w.WarmedUp())
	require.NoError(t, w.Warmup(context.Background()))
	assert.True(t, w.WarmedUp())
}

func TestWrapper_Warmup_LeavesWarmedUpFalseOnError(t *testing.T) {
	c := stubClassifier{err: errors.New("not ready")}
	w := wrapper.New(model.ModelEmotions, c, time.Second)

	assert.Error(t, w.Warmup(context.Background()))
	assert.False(t, w.WarmedUp())
}

func TestDampening_OnlyAppliesToIronyModel(t *testing.T) {
	nonIrony := model.Signal{ModelName: model.ModelBart, Success: true}
	assert.Equal(t, 1.0, wrapper.Dampening(nonIrony))

	failed := model.Signal{ModelName: model.ModelIrony, Success: false}
	assert.Equal(t, 1.0, wrapper.Dampening(failed))
}

func TestDampening_ClampsToRange(t *testing.T) {
	highIrony := model.Signal{ModelName: model.ModelIrony, Success: true, AllScores: map[string]float64{"irony": 1.0}}
	assert.Equal(t, 0.65, wrapper.Dampening(highIrony))

	lowIrony := model.Signal{ModelName: model.ModelIrony, Success: true, AllScores: map[string]float64{"irony": 0.0}}
	assert.Equal(t, 1.0, wrapper.Dampening(lowIrony))
}

func TestEmotionIsPositive(t *testing.T) {
	assert.True(t, wrapper.EmotionIsPositive("joy"))
	assert.False(t, wrapper.EmotionIsPositive("grief"))
	assert.False(t, wrapper.EmotionIsPositive("not_a_real_emotion"))
}

func TestBartIsCrisisLabel(t *testing.T) {
	assert.True(t, wrapper.BartIsCrisisLabel("self-harm"))
	assert.False(t, wrapper.BartIsCrisisLabel("casual conversation"))
}

func TestWrapper_Name(t *testing.T) {
	w := wrapper.New(model.ModelBart, stubClassifier{}, time.Second)
	assert.Equal(t, model.ModelBart, w.Name())
}

func TestHTTPClassifier_Classify_ParsesSuccessResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"label":"joy","scores":{"joy":0.9,"sadness":0.1}}`))
	}))
	defer srv.Close()

	c := wrapper.NewHTTPClassifier(srv.URL, srv.Client())
	result, err := c.Classify(context.Background(), "what a great day")

	require.NoError(t, err)
	assert.Equal(t, "joy", result.Label)
	assert.Equal(t, 0.9, result.AllScores["joy"])
}

func TestHTTPClassifier_Classify_5xxIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := wrapper.NewHTTPClassifier(srv.URL, srv.Client())
	_, err := c.Classify(context.Background(), "text")

	require.Error(t, err)
	var te *wrapper.TransientError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, model.ErrorResource, te.Category)
}

func TestHTTPClassifier_Classify_4xxIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := wrapper.NewHTTPClassifier(srv.URL, srv.Client())
	_, err := c.Classify(context.Background(), "text")

	require.Error(t, err)
	var te *wrapper.TransientError
	assert.False(t, errors.As(err, &te), "4xx should not be classified transient")
}
