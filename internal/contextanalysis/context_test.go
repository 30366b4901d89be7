package contextanalysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
)

func scoreOf(v float64) *float64 { return &v }

// S4: escalating history triggers late-night context.
func TestAnalyze_EscalatingHistoryLateNight(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	now := time.Date(2026, 3, 5, 23, 0, 0, 0, loc)
	history := []model.HistoryItem{
		{Timestamp: now.Add(-2 * time.Hour), CrisisScore: scoreOf(0.35)},
		{Timestamp: now.Add(-90 * time.Minute), CrisisScore: scoreOf(0.45)},
		{Timestamp: now.Add(-30 * time.Minute), CrisisScore: scoreOf(0.62)},
	}

	report := Analyze(Input{
		CurrentScore: 0.70,
		History:      history,
		Now:          now,
		Location:     loc,
	})

	assert.Contains(t, []model.EscalationRate{model.EscalationRapid, model.EscalationGradual}, report.EscalationRate)
	assert.True(t, report.TemporalFactors.LateNightRisk)
	assert.GreaterOrEqual(t, report.TemporalFactors.TimeRiskModifier, 1.2)
	assert.Contains(t, []model.InterventionUrgency{model.UrgencyHigh, model.UrgencyImmediate}, report.Intervention.Urgency)
}

func TestAnalyze_NoScoredHistoryYieldsNoneRate(t *testing.T) {
	now := time.Now()
	report := Analyze(Input{
		CurrentScore: 0.5,
		History:      []model.HistoryItem{{Timestamp: now.Add(-time.Hour), CrisisScore: nil}},
		Now:          now,
	})
	assert.Equal(t, model.EscalationNone, report.EscalationRate)
	assert.False(t, report.EscalationDetected)
}

func TestAnalyze_TimeRiskModifierClampedToRange(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 7, 2, 0, 0, 0, loc) // Saturday, late night
	history := make([]model.HistoryItem, 5)
	base := now.Add(-29 * time.Minute)
	for i := range history {
		history[i] = model.HistoryItem{Timestamp: base.Add(time.Duration(i) * 5 * time.Minute), CrisisScore: scoreOf(0.4)}
	}

	report := Analyze(Input{CurrentScore: 0.5, History: history, Now: now, Location: loc})

	assert.True(t, report.TemporalFactors.LateNightRisk)
	assert.True(t, report.TemporalFactors.IsWeekend)
	assert.True(t, report.TemporalFactors.RapidPosting)
	assert.LessOrEqual(t, report.TemporalFactors.TimeRiskModifier, 1.5)
}

func TestAnalyze_ImprovingTrendWhenScoreDrops(t *testing.T) {
	now := time.Now()
	history := []model.HistoryItem{
		{Timestamp: now.Add(-3 * time.Hour), CrisisScore: scoreOf(0.8)},
	}
	report := Analyze(Input{CurrentScore: 0.3, History: history, Now: now})
	assert.Equal(t, model.EscalationImproving, report.EscalationRate)
}

func TestAnalyze_HistorySummaryCountsAllItems(t *testing.T) {
	now := time.Now()
	history := []model.HistoryItem{
		{Timestamp: now.Add(-2 * time.Hour), CrisisScore: scoreOf(0.2)},
		{Timestamp: now.Add(-time.Hour), CrisisScore: nil},
	}
	report := Analyze(Input{CurrentScore: 0.3, History: history, Now: now})
	assert.Equal(t, 2, report.HistoryAnalyzed.MessageCount)
}
