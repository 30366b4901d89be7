// Package wrapper adapts one opaque text classifier to a uniform
// classify(text) → Signal contract, with timing, warmup, and error capture.
// The actual transformer models are external collaborators; Wrapper only
// depends on the narrow Classifier interface, never on how a given model
// is hosted.
package wrapper

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
)

// RawResult is what an opaque classifier returns: a label vocabulary with a
// probability for each class. Classifiers never see crisis semantics —
// the per-model transform in this package derives CrisisSignal from it.
type RawResult struct {
	Label     string
	AllScores map[string]float64
}

// Classifier is the narrow contract an opaque text classifier must satisfy.
// Implementations are expected to suspend at I/O/inference boundaries;
// Classify must honor ctx cancellation.
type Classifier interface {
	Classify(ctx context.Context, text string) (RawResult, error)
}

// TransientError marks a Classify failure as retryable (timeout, resource
// exhaustion, remote network). Any other error is treated as fatal.
type TransientError struct {
	Category model.ErrorCategory
	Err      error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as a retryable failure of the given category.
func NewTransientError(category model.ErrorCategory, err error) error {
	return &TransientError{Category: category, Err: err}
}

// categoryOf classifies a Classify error for the Fallback Controller.
func categoryOf(err error) model.ErrorCategory {
	if err == nil {
		return model.ErrorNone
	}
	var te *TransientError
	if errors.As(err, &te) {
		return te.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrorTimeout
	}
	return model.ErrorFatal
}

// Wrapper adapts one Classifier to the Signal contract for one of the four
// fixed model roles. Wrappers are created once at startup and live for the
// process lifetime; the underlying Classifier is loaded lazily by its own
// implementation on first use.
type Wrapper struct {
	name       model.ModelName
	classifier Classifier
	timeout    time.Duration
	transform  func(RawResult) (label string, crisisSignal float64, extra map[string]float64)

	warmedUp bool
}

// New builds a Wrapper for one model role with its per-model transform.
func New(name model.ModelName, c Classifier, timeout time.Duration) *Wrapper {
	w := &Wrapper{name: name, classifier: c, timeout: timeout}
	switch name {
	case model.ModelBart:
		w.transform = transformBart
	case model.ModelSentiment:
		w.transform = transformSentiment
	case model.ModelIrony:
		w.transform = transformIrony
	case model.ModelEmotions:
		w.transform = transformEmotions
	default:
		w.transform = func(r RawResult) (string, float64, map[string]float64) { return r.Label, 0, nil }
	}
	return w
}

// Name returns the model role this Wrapper adapts.
func (w *Wrapper) Name() model.ModelName { return w.name }

// Warmup primes any lazy initialization in the underlying classifier by
// calling Classify on a known short input and discarding the result. Cost
// is not counted against request latency.
func (w *Wrapper) Warmup(ctx context.Context) error {
	_, err := w.classifier.Classify(ctx, "hello world")
	if err == nil {
		w.warmedUp = true
	}
	return err
}

// WarmedUp reports whether Warmup has succeeded at least once.
func (w *Wrapper) WarmedUp() bool { return w.warmedUp }

// Classify invokes the underlying classifier within the per-model timeout,
// applies the model-specific transform, and returns a Signal. It never
// retries internally — that is the Fallback Controller's job.
func (w *Wrapper) Classify(ctx context.Context, text string) model.Signal {
	start := time.Now()

	cctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	raw, err := w.classifier.Classify(cctx, text)
	latency := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		cat := categoryOf(err)
		if cctx.Err() == context.DeadlineExceeded {
			cat = model.ErrorTimeout
		}
		return model.Signal{
			ModelName:     w.name,
			Success:       false,
			LatencyMS:     latency,
			ErrorCategory: cat,
			Err:           err,
		}
	}

	label, crisisSignal, _ := w.transform(raw)
	return model.Signal{
		ModelName:    w.name,
		Label:        label,
		Score:        raw.AllScores[label],
		AllScores:    raw.AllScores,
		CrisisSignal: crisisSignal,
		LatencyMS:    latency,
		Success:      true,
	}
}

// --- per-model transforms ---

// bartCrisisLabels are the first six of the nine zero-shot labels; the
// remaining three (casual conversation, positive sharing, seeking support)
// are safe labels and do not contribute to crisis_signal.
var bartCrisisLabels = []string{
	"suicide ideation", "self-harm", "hopelessness",
	"emotional distress", "depression", "anxiety",
}

func transformBart(r RawResult) (string, float64, map[string]float64) {
	label := argmax(r.AllScores)
	var crisisSignal float64
	for _, l := range bartCrisisLabels {
		crisisSignal += r.AllScores[l]
	}
	if (label == "suicide ideation" || label == "self-harm") && r.AllScores[label] > 0.5 {
		crisisSignal = clamp01(crisisSignal * 1.15)
	}
	return label, clamp01(crisisSignal), nil
}

func transformSentiment(r RawResult) (string, float64, map[string]float64) {
	label := argmax(r.AllScores)
	return label, clamp01(r.AllScores["negative"]), nil
}

// transformIrony reports crisis_signal as 1 - score(irony) purely for
// downstream reporting; it never contributes positively to the base score.
// The dampening factor consumers actually use is computed by Dampening
// below from the raw irony score.
func transformIrony(r RawResult) (string, float64, map[string]float64) {
	label := argmax(r.AllScores)
	ironyScore := r.AllScores["irony"]
	return label, clamp01(1 - ironyScore), nil
}

// Dampening returns the irony_dampening factor for a Signal produced by the
// irony Wrapper, clamped to [0.5, 1.0].
func Dampening(s model.Signal) float64 {
	if s.ModelName != model.ModelIrony || !s.Success {
		return 1.0
	}
	ironyScore := s.AllScores["irony"]
	d := 1 - 0.35*ironyScore
	if d < 0.5 {
		d = 0.5
	}
	if d > 1.0 {
		d = 1.0
	}
	return d
}

var emotionCrisisSet = map[string]bool{
	"grief": true, "sadness": true, "fear": true, "nervousness": true,
	"remorse": true, "disappointment": true, "disgust": true, "anger": true,
	"disapproval": true,
}

var emotionPositiveSet = map[string]bool{
	"joy": true, "love": true, "optimism": true, "gratitude": true,
	"admiration": true, "amusement": true, "excitement": true, "relief": true,
	"caring": true, "pride": true,
}

func transformEmotions(r RawResult) (string, float64, map[string]float64) {
	label := argmax(r.AllScores)
	var crisisSum, positiveSum float64
	for emotion, score := range r.AllScores {
		if emotionCrisisSet[emotion] {
			crisisSum += score
		}
		if emotionPositiveSet[emotion] {
			positiveSum += score
		}
	}
	return label, clamp01(crisisSum - 0.3*positiveSum), nil
}

// EmotionIsPositive reports whether an emotions-model label is in the
// positive set, used by the Scoring Kernel's emotion_crisis_mismatch conflict.
func EmotionIsPositive(label string) bool { return emotionPositiveSet[label] }

// BartIsCrisisLabel reports whether a bart top label is one of the six
// crisis labels, used by the Scoring Kernel's label_disagreement conflict.
func BartIsCrisisLabel(label string) bool {
	for _, l := range bartCrisisLabels {
		if l == label {
			return true
		}
	}
	return false
}

func argmax(scores map[string]float64) string {
	if len(scores) == 0 {
		return ""
	}
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic tie-break
	best := keys[0]
	for _, k := range keys[1:] {
		if scores[k] > scores[best] {
			best = k
		}
	}
	return best
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
