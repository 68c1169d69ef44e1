package emotion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tamagochai/internal/hormone"
)

func baseline() hormone.Levels {
	return hormone.DefaultTable().Baselines()
}

func TestDerive_Baseline(t *testing.T) {
	s := Derive(baseline())

	assert.Equal(t, Neutral, s.Primary)
	assert.Equal(t, Subtle, s.Intensity)
	assert.Equal(t, Loving, s.Secondary)
	assert.InDelta(t, 0.525, s.Valence, 1e-9)
	assert.InDelta(t, 0.3, s.Arousal, 1e-9)
}

func TestScores_Baseline(t *testing.T) {
	scores := DefaultFormulas().Scores(baseline())

	assert.InDelta(t, 55.0, scores[Neutral], 1e-9)
	assert.InDelta(t, 45.5, scores[Happy], 1e-9)
	assert.InDelta(t, 52.5, scores[Loving], 1e-9)
	assert.InDelta(t, 44.5, scores[Curious], 1e-9)
	assert.InDelta(t, 9.0, scores[Tired], 1e-9)
}

func TestDerive_Distress(t *testing.T) {
	l := baseline()
	l.Cortisol, l.Adrenaline, l.Serotonin = 100, 100, 10

	s := Derive(l)
	assert.Equal(t, Scared, s.Primary)
	assert.Equal(t, Angry, s.Secondary)
	assert.Equal(t, Overwhelming, s.Intensity)
	assert.Equal(t, -1.0, s.Valence)
	assert.InDelta(t, 0.85, s.Arousal, 1e-9)
}

func TestDerive_Elated(t *testing.T) {
	l := baseline()
	l.Dopamine, l.Serotonin, l.Endorphins, l.Cortisol = 90, 90, 80, 10

	s := Derive(l)
	assert.Equal(t, Happy, s.Primary)
	assert.Equal(t, Curious, s.Secondary)
	assert.Equal(t, Strong, s.Intensity)
	assert.Equal(t, 1.0, s.Valence)
}

func TestDerive_Deterministic(t *testing.T) {
	l := hormone.Levels{Dopamine: 33, Serotonin: 71, Oxytocin: 12, Cortisol: 64, Adrenaline: 48, Endorphins: 5}
	first := Derive(l)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Derive(l))
	}
}

func TestDerive_TieBreakUsesCanonicalOrder(t *testing.T) {
	f := &Formulas{
		Scoring: map[Tag]Formula{
			Sad:   {Terms: []Term{{Kind: Linear, Hormone: hormone.Dopamine, Weight: 1}}},
			Happy: {Terms: []Term{{Kind: Linear, Hormone: hormone.Dopamine, Weight: 1}}},
		},
		Intensity:    Thresholds{Moderate: 60, Strong: 75, Overwhelming: 90},
		SecondaryMin: 30,
	}
	s := f.Derive(hormone.Levels{Dopamine: 40})
	assert.Equal(t, Happy, s.Primary)
	assert.Equal(t, Sad, s.Secondary)
	assert.Equal(t, Subtle, s.Intensity)
}

func TestDerive_AllZeroIsNeutralWithoutSecondary(t *testing.T) {
	f := &Formulas{Scoring: map[Tag]Formula{}, SecondaryMin: 30}
	s := f.Derive(baseline())
	assert.Equal(t, Neutral, s.Primary)
	assert.Empty(t, s.Secondary)
}

func TestDerive_SecondaryNeedsScoreAboveThreshold(t *testing.T) {
	f := &Formulas{
		Scoring: map[Tag]Formula{
			Angry: {Terms: []Term{{Kind: Linear, Hormone: hormone.Cortisol, Weight: 1}}},
			Tired: {Terms: []Term{{Kind: Linear, Hormone: hormone.Adrenaline, Weight: 1}}},
		},
		SecondaryMin: 30,
	}
	s := f.Derive(hormone.Levels{Cortisol: 80, Adrenaline: 30})
	assert.Equal(t, Angry, s.Primary)
	assert.Empty(t, s.Secondary)
}

func TestThresholds_Classify(t *testing.T) {
	th := DefaultFormulas().Intensity
	assert.Equal(t, Subtle, th.Classify(0))
	assert.Equal(t, Subtle, th.Classify(59.9))
	assert.Equal(t, Moderate, th.Classify(60))
	assert.Equal(t, Strong, th.Classify(75))
	assert.Equal(t, Overwhelming, th.Classify(90))
	assert.Equal(t, Overwhelming, th.Classify(250))
}

func TestTerm_Eval(t *testing.T) {
	l := hormone.Levels{Serotonin: 30}
	assert.Equal(t, 15.0, Term{Kind: Linear, Hormone: hormone.Serotonin, Weight: 0.5}.Eval(l))
	assert.Equal(t, 15.0, Term{Kind: Deficit, Hormone: hormone.Serotonin, Pivot: 60, Weight: 0.5}.Eval(l))
	assert.Equal(t, 0.0, Term{Kind: Deficit, Hormone: hormone.Serotonin, Pivot: 20, Weight: 0.5}.Eval(l))
	assert.Equal(t, 20.0, Term{Kind: Proximity, Hormone: hormone.Serotonin, Pivot: 60, Span: 50, Weight: 1}.Eval(l))
}

func TestValenceArousal_Bounds(t *testing.T) {
	hi := hormone.Levels{Dopamine: 100, Serotonin: 100, Oxytocin: 100, Cortisol: 100, Adrenaline: 100, Endorphins: 100}
	lo := hormone.Levels{}
	for _, l := range []hormone.Levels{hi, lo, baseline()} {
		v, a := Valence(l), Arousal(l)
		assert.GreaterOrEqual(t, v, -1.0)
		assert.LessOrEqual(t, v, 1.0)
		assert.GreaterOrEqual(t, a, 0.0)
		assert.LessOrEqual(t, a, 1.0)
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "slightly neutral", Describe(State{Primary: Neutral, Intensity: Subtle}))
	assert.Equal(t, "happy", Describe(State{Primary: Happy, Intensity: Moderate}))
	assert.Equal(t, "extremely scared", Describe(State{Primary: Scared, Intensity: Overwhelming}))
	assert.Equal(t, Positive, PolarityOf(Curious))
	assert.Equal(t, Negative, PolarityOf(Tired))
	assert.Equal(t, NeutralMood, PolarityOf(Confused))
	assert.Equal(t, Expression("happy"), ExpressionOf(Excited))
}

func TestHistory_DropsOldest(t *testing.T) {
	h := NewHistory(3)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, tag := range []Tag{Happy, Sad, Angry, Scared} {
		h.Record(tag, now.Add(time.Duration(i)*time.Minute))
	}
	require.Equal(t, 3, h.Len())
	recent := h.Recent(0)
	assert.Equal(t, Sad, recent[0].Tag)
	assert.Equal(t, Scared, recent[2].Tag)
}

func TestHistory_DefaultBound(t *testing.T) {
	h := NewHistory(0)
	now := time.Now()
	for i := 0; i < 150; i++ {
		h.Record(Neutral, now)
	}
	assert.Equal(t, MaxHistory, h.Len())
}

func TestHistory_Stability(t *testing.T) {
	h := NewHistory(MaxHistory)
	now := time.Now()
	assert.Equal(t, 1.0, h.Stability())

	for i := 0; i < 10; i++ {
		h.Record(Happy, now)
	}
	assert.Equal(t, 1.0, h.Stability())

	h.Record(Sad, now)
	h.Record(Angry, now)
	assert.InDelta(t, 1-2.0/9.0, h.Stability(), 1e-9)

	h.Reset()
	assert.Zero(t, h.Len())
}

func TestHistory_Dominant(t *testing.T) {
	h := NewHistory(MaxHistory)
	now := time.Now()
	assert.Equal(t, Neutral, h.Dominant(20))

	h.Record(Sad, now)
	h.Record(Curious, now)
	h.Record(Curious, now)
	h.Record(Sad, now)
	// Tie between sad and curious resolves to the earlier tag.
	assert.Equal(t, Sad, h.Dominant(20))

	h.Record(Curious, now)
	assert.Equal(t, Curious, h.Dominant(20))
	assert.Equal(t, Curious, h.Dominant(1))
}
