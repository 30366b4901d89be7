// Package contextanalysis implements the temporal and escalation analysis
// over a bounded per-request message history. It is a pure function of
// (current score, history, now, timezone) with no lookup of persisted
// state, folding a sequence of past scores into a classified trend.
package contextanalysis

import (
	"math"
	"time"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
)

// Input bundles everything the analyzer needs for one request.
type Input struct {
	CurrentScore float64
	History      []model.HistoryItem // sorted ascending by timestamp, ≤20 items
	Now          time.Time
	Location     *time.Location
}

// Analyze produces the full ContextReport. Callers invoke
// this only when History is non-empty.
func Analyze(in Input) model.ContextReport {
	scored := scoredHistory(in.History)

	rate, escalationDetected := escalationRate(in.CurrentScore, scored, in.Now)
	trajectory := buildTrajectory(scored, in.CurrentScore)
	pattern, confidence := classifyPattern(trajectory, rate, len(scored))
	trend := buildTrend(scored, in.CurrentScore, in.Now)

	local := in.Now
	if in.Location != nil {
		local = in.Now.In(in.Location)
	}
	temporal := temporalFactors(local, in.History)

	severity := severityFromScore(in.CurrentScore)
	intervention := interventionFor(severity, rate, temporal.TimeRiskModifier, temporal.LateNightRisk)

	return model.ContextReport{
		EscalationDetected: escalationDetected,
		EscalationRate:     rate,
		EscalationPattern:  pattern,
		PatternConfidence:  confidence,
		Trend:              trend,
		TemporalFactors:    temporal,
		Trajectory:         trajectory,
		Intervention:       intervention,
		HistoryAnalyzed:    historySummary(in.History, in.Now),
	}
}

// severityFromScore bands the raw (pre-context) score using the same cut
// points as the Scoring Kernel, for intervention-urgency lookup only. The
// Decision Engine re-derives the bit-exact severity after applying the time
// risk modifier; this is a local approximation for urgency classification.
func severityFromScore(score float64) model.Severity {
	switch {
	case score >= 0.85:
		return model.SeverityCritical
	case score >= 0.70:
		return model.SeverityHigh
	case score >= 0.50:
		return model.SeverityMedium
	case score >= 0.30:
		return model.SeverityLow
	default:
		return model.SeveritySafe
	}
}

func scoredHistory(history []model.HistoryItem) []model.HistoryItem {
	out := make([]model.HistoryItem, 0, len(history))
	for _, h := range history {
		if h.CrisisScore != nil {
			out = append(out, h)
		}
	}
	return out
}

// escalationRate computes the velocity of recent score changes.
func escalationRate(current float64, scored []model.HistoryItem, now time.Time) (model.EscalationRate, bool) {
	if len(scored) == 0 {
		return model.EscalationNone, false
	}
	oldest := scored[0]
	delta := current - *oldest.CrisisScore
	spanHours := now.Sub(oldest.Timestamp).Hours()
	if spanHours < 0.1 {
		spanHours = 0.1
	}
	velocity := delta / spanHours

	var rate model.EscalationRate
	switch {
	case velocity > 0.30:
		rate = model.EscalationRapid
	case velocity > 0.10:
		rate = model.EscalationGradual
	case velocity >= -0.05:
		rate = model.EscalationStable
	default:
		rate = model.EscalationImproving
	}
	return rate, rate == model.EscalationRapid || rate == model.EscalationGradual
}

func buildTrajectory(scored []model.HistoryItem, current float64) model.Trajectory {
	if len(scored) == 0 {
		return model.Trajectory{StartScore: current, EndScore: current, PeakScore: current, Scores: []float64{current}}
	}
	scores := make([]float64, 0, len(scored)+1)
	for _, h := range scored {
		scores = append(scores, *h.CrisisScore)
	}
	scores = append(scores, current)

	peak := scores[0]
	for _, s := range scores {
		if s > peak {
			peak = s
		}
	}
	return model.Trajectory{
		StartScore: scores[0],
		EndScore:   current,
		PeakScore:  peak,
		Scores:     scores,
	}
}

// classifyPattern classifies the trend shape over
// the score deltas.
func classifyPattern(traj model.Trajectory, rate model.EscalationRate, historyCount int) (model.EscalationPattern, float64) {
	scores := traj.Scores
	if len(scores) < 2 {
		return model.PatternNone, 0
	}

	deltas := make([]float64, 0, len(scores)-1)
	for i := 1; i < len(scores); i++ {
		deltas = append(deltas, scores[i]-scores[i-1])
	}

	var totalVariation float64
	var maxAbsDelta float64
	for _, d := range deltas {
		totalVariation += math.Abs(d)
		if math.Abs(d) > maxAbsDelta {
			maxAbsDelta = math.Abs(d)
		}
	}

	signChanges := 0
	for i := 1; i < len(deltas); i++ {
		if (deltas[i] > 0) != (deltas[i-1] > 0) && deltas[i] != 0 && deltas[i-1] != 0 {
			signChanges++
		}
	}

	pattern := model.PatternNone
	switch {
	case maxAbsDelta > 0.4 && totalVariation > 0 && maxAbsDelta/totalVariation > 0.6:
		pattern = model.PatternSpike
	case isMonotonicIncreasingRatio(deltas, 1.3):
		pattern = model.PatternExponential
	case isRoughlyConstantPositive(deltas):
		pattern = model.PatternLinear
	case rate == model.EscalationStable && allAbove(scores, 0.5):
		pattern = model.PatternPlateau
	case signChanges >= 2:
		pattern = model.PatternOscillating
	}

	if pattern == model.PatternNone {
		return pattern, 0
	}
	confidence := float64(historyCount) / 5.0
	if confidence > 1 {
		confidence = 1
	}
	return pattern, confidence
}

func isMonotonicIncreasingRatio(deltas []float64, ratio float64) bool {
	if len(deltas) < 2 {
		return false
	}
	for i := 1; i < len(deltas); i++ {
		if deltas[i-1] <= 0 || deltas[i] <= 0 {
			return false
		}
		if deltas[i]/deltas[i-1] <= ratio {
			return false
		}
	}
	return true
}

func isRoughlyConstantPositive(deltas []float64) bool {
	if len(deltas) == 0 {
		return false
	}
	var mean float64
	for _, d := range deltas {
		if d <= 0 {
			return false
		}
		mean += d
	}
	mean /= float64(len(deltas))
	if mean == 0 {
		return false
	}
	var variance float64
	for _, d := range deltas {
		diff := d - mean
		variance += diff * diff
	}
	variance /= float64(len(deltas))
	cv := math.Sqrt(variance) / mean
	return cv < 0.25
}

func allAbove(scores []float64, threshold float64) bool {
	for _, s := range scores {
		if s <= threshold {
			return false
		}
	}
	return true
}

func buildTrend(scored []model.HistoryItem, current float64, now time.Time) model.Trend {
	if len(scored) == 0 {
		return model.Trend{Direction: model.TrendStable}
	}
	oldest := scored[0]
	delta := current - *oldest.CrisisScore
	spanHours := now.Sub(oldest.Timestamp).Hours()
	if spanHours < 0.1 {
		spanHours = 0.1
	}
	velocity := delta / spanHours

	direction := model.TrendStable
	switch {
	case velocity > 0.10:
		direction = model.TrendEscalating
	case velocity < -0.05:
		direction = model.TrendImproving
	}
	if hasOscillation(scored, current) {
		direction = model.TrendVolatile
	}

	return model.Trend{
		Direction:     direction,
		Velocity:      velocity,
		ScoreDelta:    delta,
		TimeSpanHours: spanHours,
	}
}

func hasOscillation(scored []model.HistoryItem, current float64) bool {
	scores := make([]float64, 0, len(scored)+1)
	for _, h := range scored {
		scores = append(scores, *h.CrisisScore)
	}
	scores = append(scores, current)
	if len(scores) < 3 {
		return false
	}
	signChanges := 0
	prevDelta := scores[1] - scores[0]
	for i := 2; i < len(scores); i++ {
		d := scores[i] - scores[i-1]
		if (d > 0) != (prevDelta > 0) && d != 0 && prevDelta != 0 {
			signChanges++
		}
		prevDelta = d
	}
	return signChanges >= 2
}

// temporalFactors computes the temporal risk modifier.
func temporalFactors(local time.Time, history []model.HistoryItem) model.TemporalFactors {
	hour := local.Hour()
	lateNight := (hour >= 22 && hour <= 23) || (hour >= 0 && hour <= 3)
	weekend := local.Weekday() == time.Saturday || local.Weekday() == time.Sunday

	rapidPosting := false
	if len(history) >= 5 {
		last5 := history[len(history)-5:]
		span := last5[len(last5)-1].Timestamp.Sub(last5[0].Timestamp)
		rapidPosting = span <= 30*time.Minute
	}

	modifier := 1.0
	if lateNight {
		modifier *= 1.2
	}
	if weekend {
		modifier *= 1.1
	}
	if rapidPosting {
		modifier *= 1.15
	}
	if modifier > 1.5 {
		modifier = 1.5
	}
	if modifier < 1.0 {
		modifier = 1.0
	}

	return model.TemporalFactors{
		LateNightRisk:    lateNight,
		RapidPosting:     rapidPosting,
		IsWeekend:        weekend,
		HourOfDay:        hour,
		TimeRiskModifier: modifier,
		TimezoneUsed:     local.Location().String(),
	}
}

// interventionFor maps severity, escalation rate, time-risk modifier and the
// late-night flag to an urgency tier.
func interventionFor(severity model.Severity, rate model.EscalationRate, modifier float64, lateNightRisk bool) model.Intervention {
	var urgency model.InterventionUrgency
	switch {
	case severity == model.SeverityCritical:
		urgency = model.UrgencyImmediate
	case severity == model.SeverityHigh && (rate == model.EscalationRapid || rate == model.EscalationGradual):
		urgency = model.UrgencyHigh
	case severity == model.SeverityHigh:
		urgency = model.UrgencyStandard
	case severity == model.SeverityMedium && lateNightRisk:
		urgency = model.UrgencyHigh
	case severity == model.SeverityMedium:
		urgency = model.UrgencyStandard
	case severity == model.SeverityLow && rate == model.EscalationRapid:
		urgency = model.UrgencyLow
	default:
		urgency = model.UrgencyNone
	}

	return model.Intervention{
		Urgency:             urgency,
		RecommendedPoint:    recommendedPointFor(urgency),
		InterventionDelayed: false,
	}
}

func recommendedPointFor(u model.InterventionUrgency) string {
	switch u {
	case model.UrgencyImmediate:
		return "immediate_human_review"
	case model.UrgencyHigh:
		return "priority_queue"
	case model.UrgencyStandard:
		return "standard_queue"
	case model.UrgencyLow:
		return "passive_log"
	default:
		return ""
	}
}

func historySummary(history []model.HistoryItem, now time.Time) model.HistorySummary {
	if len(history) == 0 {
		return model.HistorySummary{}
	}
	oldest := history[0].Timestamp
	newest := history[len(history)-1].Timestamp
	return model.HistorySummary{
		MessageCount:    len(history),
		TimeSpanHours:   now.Sub(oldest).Hours(),
		OldestTimestamp: oldest,
		NewestTimestamp: newest,
	}
}
