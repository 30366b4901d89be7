// Package scoring implements a pure decision kernel: weighted fusion of
// model Signals into a crisis score, severity band, agreement level,
// conflict list, and resolution. The kernel performs no I/O, reads no
// clock, and holds no mutable state — it folds a slice of per-model
// scores into one verdict plus a conflict list.
package scoring

import (
	"fmt"
	"sort"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/apperr"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/fallback"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/wrapper"
)

// Thresholds are the severity-band cut points.
type Thresholds struct {
	Critical float64
	High     float64
	Medium   float64
	Low      float64
}

// DefaultThresholds returns the default severity-band cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{Critical: 0.85, High: 0.70, Medium: 0.50, Low: 0.30}
}

// Params bundles the Config View fields the kernel needs, so the kernel
// itself never reaches into the config package.
type Params struct {
	BaseWeights             model.Weights
	Thresholds              Thresholds
	SafetyBias              float64
	ConflictDetectionEnabled bool
	ResolutionStrategy      model.ResolutionStrategy
	UnanimousThreshold      float64
	MajorityThreshold       float64 // crisis_signal cutoff counted as "voting crisis"; fixed at 0.5
	Algorithm               model.ConsensusAlgorithm
}

// Evaluate runs the full kernel pipeline over one request's Signals. signals
// must contain only the successful Signals; failed ones are excluded by the
// caller via the Fallback Controller before this is invoked.
func Evaluate(signals []model.Signal, p Params) (model.Assessment, error) {
	if len(signals) == 0 {
		return degradedAssessment(), nil
	}

	bySignal := indexByModel(signals)
	failed := failedSet(signals, p.BaseWeights)
	active := fallback.ActiveWeights(p.BaseWeights, failed)

	if err := sanityCheckWeights(active); err != nil {
		return model.Assessment{}, err
	}

	nonIrony := nonIronySignals(signals)

	base := baseScore(nonIrony, active)

	ironyFactor := 1.0
	if ir, ok := bySignal[model.ModelIrony]; ok {
		ironyFactor = wrapper.Dampening(ir)
	}
	score := base * ironyFactor

	score = applySafetyBias(score, bySignal, p.SafetyBias)

	confidence := confidenceOf(nonIrony)
	variance := varianceOf(nonIrony)
	agreement := agreementOf(variance)

	var conflicts []model.Conflict
	if p.ConflictDetectionEnabled {
		conflicts = detectConflicts(bySignal, nonIrony)
	}
	if hasHighSeverity(conflicts) {
		agreement = model.AgreementSignificant
	}

	resolution := model.ResolutionNone
	forcedReview := false
	if len(conflicts) > 0 {
		strategy := p.ResolutionStrategy
		if strategy == "" {
			strategy = model.ResolutionConservative
		}
		if p.Algorithm == model.ConsensusConflictAware {
			strategy = model.ResolutionReviewFlag
		}
		score, forcedReview = resolveConflicts(score, nonIrony, conflicts, strategy)
		resolution = strategy
	}

	severity := severityOf(score, p.Thresholds)
	action := model.ActionForSeverity(severity)

	isCrisis, severity, action := applyAlgorithm(p.Algorithm, isCrisisSeverity(severity), severity, action, nonIrony, p, score)

	requiresReview := forcedReview ||
		agreement == model.AgreementSignificant ||
		hasHighSeverity(conflicts) ||
		severity == model.SeverityCritical

	individualScores := make(map[model.ModelName]float64, len(signals))
	for _, s := range signals {
		individualScores[s.ModelName] = s.CrisisSignal
	}

	modelsUsed := make([]model.ModelName, 0, len(signals))
	for _, s := range signals {
		modelsUsed = append(modelsUsed, s.ModelName)
	}
	sort.Slice(modelsUsed, func(i, j int) bool { return modelsUsed[i] < modelsUsed[j] })

	return model.Assessment{
		CrisisScore:       score,
		Severity:          severity,
		Confidence:        confidence,
		AgreementLevel:    agreement,
		IsCrisis:          isCrisis,
		Conflicts:         conflicts,
		RequiresReview:    requiresReview,
		IndividualScores:  individualScores,
		ActiveWeights:     active,
		ResolutionApplied: resolution,
		RecommendedAction: action,
		IsDegraded:        len(failed) > 0,
		ModelsUsed:        modelsUsed,
	}, nil
}

func degradedAssessment() model.Assessment {
	return model.Assessment{
		Severity:          model.SeveritySafe,
		Confidence:        0,
		AgreementLevel:    model.AgreementStrong,
		IsDegraded:        true,
		RecommendedAction: model.ActionNone,
		IndividualScores:  map[model.ModelName]float64{},
		ActiveWeights:     model.Weights{},
	}
}

func indexByModel(signals []model.Signal) map[model.ModelName]model.Signal {
	m := make(map[model.ModelName]model.Signal, len(signals))
	for _, s := range signals {
		m[s.ModelName] = s
	}
	return m
}

func failedSet(signals []model.Signal, base model.Weights) map[model.ModelName]bool {
	succeeded := make(map[model.ModelName]bool, len(signals))
	for _, s := range signals {
		succeeded[s.ModelName] = true
	}
	failed := make(map[model.ModelName]bool)
	for name := range base {
		if !succeeded[name] {
			failed[name] = true
		}
	}
	return failed
}

func nonIronySignals(signals []model.Signal) []model.Signal {
	out := make([]model.Signal, 0, len(signals))
	for _, s := range signals {
		if s.ModelName != model.ModelIrony {
			out = append(out, s)
		}
	}
	return out
}

func baseScore(nonIrony []model.Signal, active model.Weights) float64 {
	var total float64
	for _, s := range nonIrony {
		total += s.CrisisSignal * active[s.ModelName]
	}
	return total
}

func applySafetyBias(score float64, bySignal map[model.ModelName]model.Signal, bias float64) float64 {
	var maxBartEmotion float64
	for _, name := range []model.ModelName{model.ModelBart, model.ModelEmotions} {
		if s, ok := bySignal[name]; ok && s.CrisisSignal > maxBartEmotion {
			maxBartEmotion = s.CrisisSignal
		}
	}
	sentimentScore := 0.0
	if s, ok := bySignal[model.ModelSentiment]; ok {
		sentimentScore = s.CrisisSignal
	}
	if maxBartEmotion-sentimentScore > 0.4 {
		score += bias
	}
	return clamp01(score)
}

// confidenceOf is 1 - variance(crisis_signal) over the non-irony successful
// signals. A single signal yields confidence 1.0.
func confidenceOf(nonIrony []model.Signal) float64 {
	if len(nonIrony) <= 1 {
		return 1.0
	}
	return clamp01(1 - varianceOf(nonIrony))
}

func varianceOf(nonIrony []model.Signal) float64 {
	n := len(nonIrony)
	if n <= 1 {
		return 0
	}
	var mean float64
	for _, s := range nonIrony {
		mean += s.CrisisSignal
	}
	mean /= float64(n)
	var sumSq float64
	for _, s := range nonIrony {
		d := s.CrisisSignal - mean
		sumSq += d * d
	}
	return sumSq / float64(n)
}

func agreementOf(variance float64) model.AgreementLevel {
	switch {
	case variance < 0.05:
		return model.AgreementStrong
	case variance < 0.15:
		return model.AgreementModerate
	case variance < 0.25:
		return model.AgreementWeak
	default:
		return model.AgreementSignificant
	}
}

func severityOf(score float64, t Thresholds) model.Severity {
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

func isCrisisSeverity(s model.Severity) bool {
	return s >= model.SeverityMedium
}

func hasHighSeverity(conflicts []model.Conflict) bool {
	for _, c := range conflicts {
		if c.Severity == model.ConflictSeverityHigh {
			return true
		}
	}
	return false
}

// detectConflicts implements the four named conflict conditions.
func detectConflicts(bySignal map[model.ModelName]model.Signal, nonIrony []model.Signal) []model.Conflict {
	var out []model.Conflict

	for i := 0; i < len(nonIrony); i++ {
		for j := i + 1; j < len(nonIrony); j++ {
			a, b := nonIrony[i], nonIrony[j]
			if diff := abs(a.CrisisSignal - b.CrisisSignal); diff >= 0.5 {
				out = append(out, model.Conflict{
					Type:     model.ConflictScoreDisagreement,
					Severity: model.ConflictSeverityHigh,
					Models:   []model.ModelName{a.ModelName, b.ModelName},
					Description: fmt.Sprintf("%s and %s crisis_signal differ by %.2f", a.ModelName, b.ModelName, diff),
					Values: map[string]float64{
						string(a.ModelName): a.CrisisSignal,
						string(b.ModelName): b.CrisisSignal,
					},
				})
			}
		}
	}

	if irony, ok := bySignal[model.ModelIrony]; ok {
		ironyScore := irony.AllScores["irony"]
		if sentiment, ok := bySignal[model.ModelSentiment]; ok {
			if ironyScore > 0.7 && sentiment.Label == "negative" {
				out = append(out, model.Conflict{
					Type:        model.ConflictIronySentiment,
					Severity:    model.ConflictSeverityMedium,
					Models:      []model.ModelName{model.ModelIrony, model.ModelSentiment},
					Description: "high irony score conflicts with negative sentiment label",
					Values:      map[string]float64{"irony_score": ironyScore, "sentiment_score": sentiment.CrisisSignal},
				})
			}
		}
	}

	if bart, ok := bySignal[model.ModelBart]; ok && bart.CrisisSignal > 0.7 {
		if emotions, ok := bySignal[model.ModelEmotions]; ok && wrapper.EmotionIsPositive(emotions.Label) {
			out = append(out, model.Conflict{
				Type:        model.ConflictEmotionCrisisMismatch,
				Severity:    model.ConflictSeverityMedium,
				Models:      []model.ModelName{model.ModelBart, model.ModelEmotions},
				Description: fmt.Sprintf("bart crisis_signal %.2f but top emotion %q is positive", bart.CrisisSignal, emotions.Label),
				Values:      map[string]float64{"bart": bart.CrisisSignal, "emotions": emotions.CrisisSignal},
			})
		}
	}

	if bart, ok := bySignal[model.ModelBart]; ok && wrapper.BartIsCrisisLabel(bart.Label) {
		if sentiment, ok := bySignal[model.ModelSentiment]; ok && sentiment.Label != "negative" {
			out = append(out, model.Conflict{
				Type:        model.ConflictLabelDisagreement,
				Severity:    model.ConflictSeverityLow,
				Models:      []model.ModelName{model.ModelBart, model.ModelSentiment},
				Description: fmt.Sprintf("bart label %q is a crisis label but sentiment label is %q", bart.Label, sentiment.Label),
				Values:      map[string]float64{"bart": bart.CrisisSignal, "sentiment": sentiment.CrisisSignal},
			})
		}
	}

	return out
}

// resolveConflicts applies the configured resolution strategy to a set of
// detected conflicts. It returns the possibly-replaced score and whether
// review_flag forces requires_review.
func resolveConflicts(score float64, nonIrony []model.Signal, conflicts []model.Conflict, strategy model.ResolutionStrategy) (float64, bool) {
	switch strategy {
	case model.ResolutionConservative:
		if hasHighSeverity(conflicts) {
			return maxCrisisSignal(nonIrony), false
		}
		return score, false
	case model.ResolutionOptimistic:
		return minCrisisSignal(nonIrony), false
	case model.ResolutionMean:
		return meanCrisisSignal(nonIrony), false
	case model.ResolutionReviewFlag:
		if hasHighSeverity(conflicts) {
			return maxCrisisSignal(nonIrony), true
		}
		return score, true
	default:
		return score, false
	}
}

func maxCrisisSignal(signals []model.Signal) float64 {
	var m float64
	for _, s := range signals {
		if s.CrisisSignal > m {
			m = s.CrisisSignal
		}
	}
	return m
}

func minCrisisSignal(signals []model.Signal) float64 {
	if len(signals) == 0 {
		return 0
	}
	m := signals[0].CrisisSignal
	for _, s := range signals[1:] {
		if s.CrisisSignal < m {
			m = s.CrisisSignal
		}
	}
	return m
}

func meanCrisisSignal(signals []model.Signal) float64 {
	if len(signals) == 0 {
		return 0
	}
	var total float64
	for _, s := range signals {
		total += s.CrisisSignal
	}
	return total / float64(len(signals))
}

// applyAlgorithm folds the alternative consensus algorithms into the
// otherwise weighted_voting result. conflict_aware only changes the
// resolution strategy, already handled by the caller; it falls through here.
func applyAlgorithm(algo model.ConsensusAlgorithm, defaultCrisis bool, severity model.Severity, action model.RecommendedAction, nonIrony []model.Signal, p Params, score float64) (bool, model.Severity, model.RecommendedAction) {
	switch algo {
	case model.ConsensusMajorityVoting:
		votes := 0
		for _, s := range nonIrony {
			if s.CrisisSignal >= 0.5 {
				votes++
			}
		}
		isCrisis := len(nonIrony) > 0 && votes*2 >= len(nonIrony)
		return isCrisis, severity, action
	case model.ConsensusUnanimous:
		threshold := p.UnanimousThreshold
		if threshold == 0 {
			threshold = 0.6
		}
		isCrisis := len(nonIrony) > 0
		for _, s := range nonIrony {
			if s.CrisisSignal < threshold {
				isCrisis = false
				break
			}
		}
		return isCrisis, severity, action
	default:
		return defaultCrisis, severity, action
	}
}

func sanityCheckWeights(active model.Weights) error {
	sum := active.Sum()
	if len(active) > 0 && (sum < 0.999 || sum > 1.001) {
		return apperr.Internal("active weights failed renormalization sanity check", fmt.Errorf("sum=%f", sum))
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
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
