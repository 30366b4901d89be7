package config

import (
	"testing"
	"time"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
}

func TestEnvFloatValid(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.35")
	v, err := envFloat("TEST_FLOAT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0.35 {
		t.Fatalf("expected 0.35, got %f", v)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got: %v", err)
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("NLP_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid NLP_PORT")
	}
}

func TestLoad_ClassifierEndpointsHonored(t *testing.T) {
	t.Setenv("NLP_BART_ENDPOINT", "http://bart:9000/classify")
	t.Setenv("NLP_SENTIMENT_ENDPOINT", "http://sentiment:9000/classify")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	if cfg.BartEndpoint != "http://bart:9000/classify" {
		t.Fatalf("expected overridden bart endpoint, got %q", cfg.BartEndpoint)
	}
	if cfg.SentimentEndpoint != "http://sentiment:9000/classify" {
		t.Fatalf("expected overridden sentiment endpoint, got %q", cfg.SentimentEndpoint)
	}
}

func TestValidate_RejectsEmptyClassifierEndpoint(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	cfg.IronyEndpoint = "   "
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate() to reject a blank classifier endpoint")
	}
}

func TestValidate_RejectsNonDescendingThresholds(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	cfg.ThresholdHigh = cfg.ThresholdCritical + 0.1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate() to reject non-descending thresholds")
	}
}

func TestValidate_RejectsWeightsNotSummingToOne(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	cfg.WeightBart = 0.9
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate() to reject weights that don't sum to 1.0")
	}
}

func TestConfigView_ValidateRejectsUnrecognizedAlgorithm(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	view := ViewFromConfig(cfg)
	view.DefaultAlgorithm = model.ConsensusAlgorithm("not_a_real_algorithm")
	if err := view.Validate(); err == nil {
		t.Fatal("expected ConfigView.Validate() to reject an unrecognized algorithm")
	}
}

func TestView_StoreRejectsInvalidCandidate(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	view := NewView(ViewFromConfig(cfg))
	before := view.Load()

	bad := before
	bad.Weights = model.Weights{model.ModelBart: 0.9}
	if err := view.Store(bad); err == nil {
		t.Fatal("expected Store() to reject an invalid candidate")
	}

	after := view.Load()
	if after.Weights.Sum() != before.Weights.Sum() {
		t.Fatal("expected live snapshot to be unchanged after a rejected Store()")
	}
}

func TestView_StoreAcceptsValidCandidate(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	view := NewView(ViewFromConfig(cfg))

	next := view.Load()
	next.DefaultAlgorithm = model.ConsensusMajorityVoting
	if err := view.Store(next); err != nil {
		t.Fatalf("expected Store() to accept a valid candidate, got: %v", err)
	}

	if got := view.Load().DefaultAlgorithm; got != model.ConsensusMajorityVoting {
		t.Fatalf("expected stored algorithm %q, got %q", model.ConsensusMajorityVoting, got)
	}
}

func TestThresholds_ReturnsDescendingBoundaries(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	th := cfg.Thresholds()
	if !(th.Critical > th.High && th.High > th.Medium && th.Medium > th.Low) {
		t.Fatalf("expected strictly descending thresholds, got %+v", th)
	}
}

func TestBaseWeights_SumsToOne(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	sum := cfg.BaseWeights().Sum()
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("expected default weights to sum to 1.0, got %f", sum)
	}
}

func TestLoad_DurationsParsedFromMillis(t *testing.T) {
	t.Setenv("NLP_PER_MODEL_TIMEOUT_MS", "2500")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	if cfg.PerModelTimeout != 2500*time.Millisecond {
		t.Fatalf("expected PerModelTimeout 2500ms, got %s", cfg.PerModelTimeout)
	}
}
