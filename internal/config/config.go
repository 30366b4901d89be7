// Package config loads and validates application configuration from
// environment variables, and holds the immutable ConfigView snapshot
// consumed by the Decision Engine and its downstream components.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
)

// Config holds all process-level configuration loaded once at startup.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64

	// Timeouts.
	PerModelTimeout time.Duration
	RequestTimeout  time.Duration

	// Response cache.
	CacheCapacity   int
	CacheTTLSeconds int

	// Fallback Controller.
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
	BreakerHalfOpenProbes   int
	RetryMax                int
	RetryBaseDelay          time.Duration
	AlertCooldown           time.Duration
	AlertQueueCapacity      int

	// Scoring Kernel defaults.
	WeightBart           float64
	WeightSentiment      float64
	WeightIrony          float64
	WeightEmotions       float64
	ThresholdCritical    float64
	ThresholdHigh        float64
	ThresholdMedium      float64
	ThresholdLow         float64
	SafetyBias           float64
	ConflictDetection    bool
	ResolutionStrategy   model.ResolutionStrategy
	UnanimousThreshold   float64
	MajorityThreshold    float64
	DisagreementThreshold float64

	// Request Adapter defaults.
	DefaultAlgorithm          model.ConsensusAlgorithm
	ExplainabilityVerbosity   model.Verbosity
	DefaultTimezone           string
	UpstreamPlatformCharCap   int
	HardFailOnPlatformCap     bool

	// Classifier endpoints: each model runs as its own process behind an
	// HTTP wire contract the Wrapper speaks.
	BartEndpoint      string
	SentimentEndpoint string
	IronyEndpoint     string
	EmotionsEndpoint  string
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if any environment variable contains an unparseable value.
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		LogLevel:           envStr("NLP_LOG_LEVEL", "info"),
		OTELEndpoint:       envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:        envStr("OTEL_SERVICE_NAME", "ash-nlp"),
		DefaultTimezone:    envStr("NLP_DEFAULT_TIMEZONE", "UTC"),
		ResolutionStrategy: model.ResolutionStrategy(envStr("NLP_RESOLUTION_STRATEGY", string(model.ResolutionConservative))),
		DefaultAlgorithm:   model.ConsensusAlgorithm(envStr("NLP_DEFAULT_ALGORITHM", string(model.ConsensusWeightedVoting))),
		ExplainabilityVerbosity: model.Verbosity(envStr("NLP_EXPLAINABILITY_VERBOSITY", string(model.VerbosityStandard))),
		BartEndpoint:       envStr("NLP_BART_ENDPOINT", "http://localhost:8081/classify"),
		SentimentEndpoint:  envStr("NLP_SENTIMENT_ENDPOINT", "http://localhost:8082/classify"),
		IronyEndpoint:      envStr("NLP_IRONY_ENDPOINT", "http://localhost:8083/classify"),
		EmotionsEndpoint:   envStr("NLP_EMOTIONS_ENDPOINT", "http://localhost:8084/classify"),
	}

	cfg.Port, errs = collectInt(errs, "NLP_PORT", 8080)
	cfg.CacheCapacity, errs = collectInt(errs, "NLP_CACHE_CAPACITY", 512)
	cfg.CacheTTLSeconds, errs = collectInt(errs, "NLP_CACHE_TTL_SECONDS", 300)
	cfg.BreakerFailureThreshold, errs = collectInt(errs, "NLP_BREAKER_FAILURE_THRESHOLD", 3)
	cfg.BreakerHalfOpenProbes, errs = collectInt(errs, "NLP_BREAKER_HALF_OPEN_PROBES", 1)
	cfg.RetryMax, errs = collectInt(errs, "NLP_RETRY_MAX", 2)
	cfg.AlertQueueCapacity, errs = collectInt(errs, "NLP_ALERT_QUEUE_CAPACITY", 256)
	cfg.UpstreamPlatformCharCap, errs = collectInt(errs, "NLP_UPSTREAM_PLATFORM_CHAR_CAP", 2000)

	var maxReqBody int
	maxReqBody, errs = collectInt(errs, "NLP_MAX_REQUEST_BODY_BYTES", 1*1024*1024)
	cfg.MaxRequestBodyBytes = int64(maxReqBody)

	cfg.OTELInsecure, errs = collectBool(errs, "OTEL_EXPORTER_OTLP_INSECURE", false)
	cfg.ConflictDetection, errs = collectBool(errs, "NLP_CONFLICT_DETECTION_ENABLED", true)
	cfg.HardFailOnPlatformCap, errs = collectBool(errs, "NLP_HARD_FAIL_ON_PLATFORM_CAP", false)

	cfg.ReadTimeout, errs = collectDuration(errs, "NLP_READ_TIMEOUT", 30*time.Second)
	cfg.WriteTimeout, errs = collectDuration(errs, "NLP_WRITE_TIMEOUT", 30*time.Second)
	cfg.PerModelTimeout, errs = collectDuration(errs, "NLP_PER_MODEL_TIMEOUT_MS", 1500*time.Millisecond, true)
	cfg.RequestTimeout, errs = collectDuration(errs, "NLP_REQUEST_TIMEOUT_MS", 3000*time.Millisecond, true)
	cfg.BreakerCooldown, errs = collectDuration(errs, "NLP_BREAKER_COOLDOWN_SECONDS", 60*time.Second)
	cfg.RetryBaseDelay, errs = collectDuration(errs, "NLP_RETRY_BASE_DELAY_MS", 100*time.Millisecond, true)
	cfg.AlertCooldown, errs = collectDuration(errs, "NLP_ALERT_COOLDOWN_SECONDS", 5*time.Minute)

	cfg.WeightBart, errs = collectFloat(errs, "NLP_WEIGHT_BART", 0.50)
	cfg.WeightSentiment, errs = collectFloat(errs, "NLP_WEIGHT_SENTIMENT", 0.25)
	cfg.WeightIrony, errs = collectFloat(errs, "NLP_WEIGHT_IRONY", 0.15)
	cfg.WeightEmotions, errs = collectFloat(errs, "NLP_WEIGHT_EMOTIONS", 0.10)
	cfg.ThresholdCritical, errs = collectFloat(errs, "NLP_THRESHOLD_CRITICAL", 0.85)
	cfg.ThresholdHigh, errs = collectFloat(errs, "NLP_THRESHOLD_HIGH", 0.70)
	cfg.ThresholdMedium, errs = collectFloat(errs, "NLP_THRESHOLD_MEDIUM", 0.50)
	cfg.ThresholdLow, errs = collectFloat(errs, "NLP_THRESHOLD_LOW", 0.30)
	cfg.SafetyBias, errs = collectFloat(errs, "NLP_SAFETY_BIAS", 0.03)
	cfg.UnanimousThreshold, errs = collectFloat(errs, "NLP_UNANIMOUS_THRESHOLD", 0.60)
	cfg.MajorityThreshold, errs = collectFloat(errs, "NLP_MAJORITY_THRESHOLD", 0.50)
	cfg.DisagreementThreshold, errs = collectFloat(errs, "NLP_DISAGREEMENT_THRESHOLD", 0.50)

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return Config{}, fmt.Errorf("config: invalid environment variables:\n  %s", strings.Join(msgs, "\n  "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that loaded configuration is internally consistent.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, errors.New("config: NLP_PORT must be between 1 and 65535"))
	}
	if c.CacheCapacity <= 0 {
		errs = append(errs, errors.New("config: NLP_CACHE_CAPACITY must be positive"))
	}
	if c.PerModelTimeout <= 0 {
		errs = append(errs, errors.New("config: NLP_PER_MODEL_TIMEOUT_MS must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("config: NLP_REQUEST_TIMEOUT_MS must be positive"))
	}
	if !(c.ThresholdCritical > c.ThresholdHigh && c.ThresholdHigh > c.ThresholdMedium && c.ThresholdMedium > c.ThresholdLow) {
		errs = append(errs, errors.New("config: NLP_THRESHOLD_* must be strictly descending critical>high>medium>low"))
	}
	sum := c.WeightBart + c.WeightSentiment + c.WeightIrony + c.WeightEmotions
	if sum < 0.999 || sum > 1.001 {
		errs = append(errs, fmt.Errorf("config: NLP_WEIGHT_* must sum to 1.0, got %.4f", sum))
	}
	switch c.ResolutionStrategy {
	case model.ResolutionConservative, model.ResolutionOptimistic, model.ResolutionMean, model.ResolutionReviewFlag:
	default:
		errs = append(errs, fmt.Errorf("config: NLP_RESOLUTION_STRATEGY %q is not recognized", c.ResolutionStrategy))
	}
	for name, endpoint := range map[string]string{
		"NLP_BART_ENDPOINT": c.BartEndpoint, "NLP_SENTIMENT_ENDPOINT": c.SentimentEndpoint,
		"NLP_IRONY_ENDPOINT": c.IronyEndpoint, "NLP_EMOTIONS_ENDPOINT": c.EmotionsEndpoint,
	} {
		if strings.TrimSpace(endpoint) == "" {
			errs = append(errs, fmt.Errorf("config: %s must not be empty", name))
		}
	}
	return errors.Join(errs...)
}

// BaseWeights returns the configured canonical weight vector.
func (c Config) BaseWeights() model.Weights {
	return model.Weights{
		model.ModelBart:      c.WeightBart,
		model.ModelSentiment: c.WeightSentiment,
		model.ModelIrony:     c.WeightIrony,
		model.ModelEmotions:  c.WeightEmotions,
	}
}

// Thresholds holds the severity band boundaries, highest first.
type Thresholds struct {
	Critical, High, Medium, Low float64
}

// Thresholds returns the configured severity band boundaries.
func (c Config) Thresholds() Thresholds {
	return Thresholds{Critical: c.ThresholdCritical, High: c.ThresholdHigh, Medium: c.ThresholdMedium, Low: c.ThresholdLow}
}

// ConfigView is the read-only, runtime-mutable subset of Config exposed via
// GET/PUT /config/consensus. It is swapped atomically by View.Store so no
// in-flight request observes a torn snapshot.
type ConfigView struct {
	DefaultAlgorithm        model.ConsensusAlgorithm
	Weights                 model.Weights
	Thresholds              Thresholds
	UnanimousThreshold      float64
	MajorityThreshold       float64
	DisagreementThreshold   float64
	SafetyBias              float64
	ConflictDetectionEnabled bool
	ResolutionStrategy      model.ResolutionStrategy
	ExplainabilityVerbosity model.Verbosity
}

// ViewFromConfig builds the initial ConfigView from loaded Config.
func ViewFromConfig(c Config) ConfigView {
	return ConfigView{
		DefaultAlgorithm:         c.DefaultAlgorithm,
		Weights:                  c.BaseWeights(),
		Thresholds:               c.Thresholds(),
		UnanimousThreshold:       c.UnanimousThreshold,
		MajorityThreshold:        c.MajorityThreshold,
		DisagreementThreshold:    c.DisagreementThreshold,
		SafetyBias:               c.SafetyBias,
		ConflictDetectionEnabled: c.ConflictDetection,
		ResolutionStrategy:       c.ResolutionStrategy,
		ExplainabilityVerbosity:  c.ExplainabilityVerbosity,
	}
}

// Validate checks that a candidate ConfigView is internally consistent
// before it is allowed to replace the live snapshot.
func (v ConfigView) Validate() error {
	var errs []error
	sum := v.Weights.Sum()
	if sum < 0.999 || sum > 1.001 {
		errs = append(errs, fmt.Errorf("config view: weights must sum to 1.0, got %.4f", sum))
	}
	t := v.Thresholds
	if !(t.Critical > t.High && t.High > t.Medium && t.Medium > t.Low) {
		errs = append(errs, errors.New("config view: thresholds must be strictly descending critical>high>medium>low"))
	}
	switch v.ResolutionStrategy {
	case model.ResolutionConservative, model.ResolutionOptimistic, model.ResolutionMean, model.ResolutionReviewFlag:
	default:
		errs = append(errs, fmt.Errorf("config view: resolution strategy %q is not recognized", v.ResolutionStrategy))
	}
	switch v.DefaultAlgorithm {
	case model.ConsensusWeightedVoting, model.ConsensusMajorityVoting, model.ConsensusUnanimous, model.ConsensusConflictAware:
	default:
		errs = append(errs, fmt.Errorf("config view: default algorithm %q is not recognized", v.DefaultAlgorithm))
	}
	return errors.Join(errs...)
}

// View holds an atomically-swappable ConfigView.
type View struct {
	ptr atomic.Pointer[ConfigView]
}

// NewView creates a View seeded with the given snapshot.
func NewView(initial ConfigView) *View {
	v := &View{}
	v.ptr.Store(&initial)
	return v
}

// Load returns the current snapshot. Safe for concurrent use.
func (v *View) Load() ConfigView {
	return *v.ptr.Load()
}

// Store atomically replaces the snapshot after validating it.
func (v *View) Store(next ConfigView) error {
	if err := next.Validate(); err != nil {
		return err
	}
	v.ptr.Store(&next)
	return nil
}

func collectInt(errs []error, key string, fallback int) (int, []error) {
	v, err := envInt(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func collectBool(errs []error, key string, fallback bool) (bool, []error) {
	v, err := envBool(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func collectFloat(errs []error, key string, fallback float64) (float64, []error) {
	v, err := envFloat(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectDuration parses a duration env var. When msUnits is true, the raw
// value is interpreted as milliseconds (for *_MS-suffixed keys); otherwise
// it is interpreted as seconds.
func collectDuration(errs []error, key string, fallback time.Duration, msUnits ...bool) (time.Duration, []error) {
	asMillis := len(msUnits) > 0 && msUnits[0]
	v, err := envDurationUnits(key, fallback, asMillis)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

// envDurationUnits reads a plain integer env var as either milliseconds or
// seconds, matching the *_MS vs *_SECONDS naming convention used throughout
// the environment variables this loader reads.
func envDurationUnits(key string, fallback time.Duration, asMillis bool) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	if asMillis {
		return time.Duration(n) * time.Millisecond, nil
	}
	return time.Duration(n) * time.Second, nil
}
