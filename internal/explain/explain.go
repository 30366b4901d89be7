// Package explain renders a Scoring Kernel Assessment into the human-facing
// explanation, consensus, and conflict_analysis sections of the /analyze
// response, at the caller-requested verbosity. It is a pure rendering
// layer: no decisions are made here, only prose built from fields the
// Decision Engine already computed.
package explain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
)

// Explanation is the `explanation` section of the /analyze response.
type Explanation struct {
	Verbosity          model.Verbosity    `json:"verbosity"`
	DecisionSummary    string             `json:"decision_summary"`
	KeyFactors         []string           `json:"key_factors"`
	RecommendedAction  RecommendedAction  `json:"recommended_action"`
	PlainText          string             `json:"plain_text"`
	ConfidenceSummary  string             `json:"confidence_summary"`
	ModelContributions []ModelContribution `json:"model_contributions"`
	ConflictSummary    *string            `json:"conflict_summary"`
}

// RecommendedAction is the structured action block inside Explanation.
type RecommendedAction struct {
	Priority   string `json:"priority"`
	Action     model.RecommendedAction `json:"action"`
	Escalation bool   `json:"escalation"`
	Rationale  string `json:"rationale"`
}

// ModelContribution reports how much weight and signal one model contributed.
type ModelContribution struct {
	Model        model.ModelName `json:"model"`
	Weight       float64         `json:"weight"`
	CrisisSignal float64         `json:"crisis_signal"`
	Label        string          `json:"label"`
}

// Consensus is the `consensus` section of the /analyze response.
type Consensus struct {
	Algorithm        model.ConsensusAlgorithm   `json:"algorithm"`
	CrisisScore      float64                    `json:"crisis_score"`
	Confidence       float64                    `json:"confidence"`
	AgreementLevel   model.AgreementLevel       `json:"agreement_level"`
	IsCrisis         bool                       `json:"is_crisis"`
	RequiresReview   bool                       `json:"requires_review"`
	HasConflict      bool                       `json:"has_conflict"`
	IndividualScores map[model.ModelName]float64 `json:"individual_scores"`
	VoteBreakdown    map[string]int             `json:"vote_breakdown"`
}

// ConflictAnalysis is the `conflict_analysis` section, nil when no conflicts
// were detected.
type ConflictAnalysis struct {
	HasConflicts       bool                    `json:"has_conflicts"`
	ConflictCount      int                     `json:"conflict_count"`
	Conflicts          []model.Conflict        `json:"conflicts"`
	HighestSeverity    model.ConflictSeverity  `json:"highest_severity"`
	RequiresReview     bool                    `json:"requires_review"`
	Summary            string                  `json:"summary"`
	ResolutionStrategy model.ResolutionStrategy `json:"resolution_strategy"`
	OriginalScore      float64                 `json:"original_score"`
	ResolvedScore      float64                 `json:"resolved_score"`
}

// BuildConsensus renders the consensus section from an Assessment.
func BuildConsensus(a model.Assessment, algorithm model.ConsensusAlgorithm) Consensus {
	votes := map[string]int{"crisis": 0, "non_crisis": 0}
	for _, s := range a.IndividualScores {
		if s >= 0.5 {
			votes["crisis"]++
		} else {
			votes["non_crisis"]++
		}
	}
	return Consensus{
		Algorithm:        algorithm,
		CrisisScore:      a.CrisisScore,
		Confidence:       a.Confidence,
		AgreementLevel:   a.AgreementLevel,
		IsCrisis:         a.IsCrisis,
		RequiresReview:   a.RequiresReview,
		HasConflict:      len(a.Conflicts) > 0,
		IndividualScores: a.IndividualScores,
		VoteBreakdown:    votes,
	}
}

// BuildConflictAnalysis renders the conflict_analysis section, or nil when
// the Assessment carries no conflicts.
func BuildConflictAnalysis(a model.Assessment, originalScore float64) *ConflictAnalysis {
	if len(a.Conflicts) == 0 {
		return nil
	}
	highest := model.ConflictSeverityLow
	for _, c := range a.Conflicts {
		if severityRank(c.Severity) > severityRank(highest) {
			highest = c.Severity
		}
	}
	return &ConflictAnalysis{
		HasConflicts:       true,
		ConflictCount:      len(a.Conflicts),
		Conflicts:          a.Conflicts,
		HighestSeverity:    highest,
		RequiresReview:     a.RequiresReview,
		Summary:            conflictSummaryText(a.Conflicts),
		ResolutionStrategy: a.ResolutionApplied,
		OriginalScore:      originalScore,
		ResolvedScore:      a.CrisisScore,
	}
}

func severityRank(s model.ConflictSeverity) int {
	switch s {
	case model.ConflictSeverityHigh:
		return 2
	case model.ConflictSeverityMedium:
		return 1
	default:
		return 0
	}
}

func conflictSummaryText(conflicts []model.Conflict) string {
	parts := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		parts = append(parts, fmt.Sprintf("%s (%s)", c.Type, c.Severity))
	}
	return strings.Join(parts, "; ")
}

// Build renders the full explanation section at the requested verbosity.
func Build(a model.Assessment, signals []model.Signal, verbosity model.Verbosity) Explanation {
	if verbosity == "" {
		verbosity = model.VerbosityStandard
	}

	e := Explanation{
		Verbosity:       verbosity,
		DecisionSummary: decisionSummary(a),
		RecommendedAction: RecommendedAction{
			Priority:   priorityFor(a.Severity),
			Action:     a.RecommendedAction,
			Escalation: a.Severity >= model.SeverityHigh,
			Rationale:  rationaleFor(a),
		},
		ConfidenceSummary: confidenceSummary(a),
	}

	if verbosity == model.VerbosityMinimal {
		e.PlainText = e.DecisionSummary
		return e
	}

	e.KeyFactors = keyFactors(a, signals)
	e.PlainText = plainText(a)

	if verbosity == model.VerbosityDetailed {
		e.ModelContributions = modelContributions(a, signals)
		if len(a.Conflicts) > 0 {
			summary := conflictSummaryText(a.Conflicts)
			e.ConflictSummary = &summary
		}
	}

	return e
}

func decisionSummary(a model.Assessment) string {
	if a.IsDegraded && len(a.ModelsUsed) == 0 {
		return "unable to reach a confident assessment; all classifier models failed"
	}
	if a.IsCrisis {
		return fmt.Sprintf("crisis detected at %s severity (score %.2f)", a.Severity, a.CrisisScore)
	}
	return fmt.Sprintf("no crisis detected (score %.2f, severity %s)", a.CrisisScore, a.Severity)
}

func priorityFor(s model.Severity) string {
	switch {
	case s >= model.SeverityCritical:
		return "critical"
	case s >= model.SeverityHigh:
		return "high"
	case s >= model.SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

func rationaleFor(a model.Assessment) string {
	if a.IsDegraded && len(a.ModelsUsed) == 0 {
		return "all models unavailable; defaulting to safe action"
	}
	if a.RequiresReview {
		return "flagged for human review due to model disagreement or critical severity"
	}
	return fmt.Sprintf("%s agreement across %d active model(s)", a.AgreementLevel, len(a.ModelsUsed))
}

func confidenceSummary(a model.Assessment) string {
	switch {
	case a.Confidence >= 0.85:
		return "high confidence"
	case a.Confidence >= 0.5:
		return "moderate confidence"
	default:
		return "low confidence"
	}
}

func keyFactors(a model.Assessment, signals []model.Signal) []string {
	factors := make([]string, 0, 4)
	for _, s := range signals {
		if !s.Success {
			continue
		}
		if s.CrisisSignal >= 0.5 {
			factors = append(factors, fmt.Sprintf("%s flagged %s (%.2f)", s.ModelName, s.Label, s.CrisisSignal))
		}
	}
	for _, c := range a.Conflicts {
		factors = append(factors, fmt.Sprintf("conflict: %s", c.Description))
	}
	sort.Strings(factors)
	return factors
}

func plainText(a model.Assessment) string {
	var b strings.Builder
	b.WriteString(decisionSummary(a))
	if a.RequiresReview {
		b.WriteString("; recommended for human review")
	}
	return b.String()
}

func modelContributions(a model.Assessment, signals []model.Signal) []ModelContribution {
	out := make([]ModelContribution, 0, len(signals))
	for _, s := range signals {
		if !s.Success {
			continue
		}
		out = append(out, ModelContribution{
			Model:        s.ModelName,
			Weight:       a.ActiveWeights[s.ModelName],
			CrisisSignal: s.CrisisSignal,
			Label:        s.Label,
		})
	}
	return out
}
