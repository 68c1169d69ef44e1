// Package emotion derives a discrete emotional state from hormone levels.
// Derivation is a pure function: the same levels always produce the same
// state.
package emotion

import (
	"math"

	"github.com/talgya/tamagochai/internal/hormone"
)

// Tag names a discrete emotion.
type Tag string

const (
	Neutral  Tag = "neutral"
	Happy    Tag = "happy"
	Sad      Tag = "sad"
	Angry    Tag = "angry"
	Scared   Tag = "scared"
	Loving   Tag = "loving"
	Excited  Tag = "excited"
	Tired    Tag = "tired"
	Curious  Tag = "curious"
	Confused Tag = "confused"
)

// Tags lists every emotion in canonical order. Score ties resolve to the
// earliest tag in this list.
var Tags = []Tag{Neutral, Happy, Sad, Angry, Scared, Loving, Excited, Tired, Curious, Confused}

// Intensity is a bucketed strength of the primary emotion.
type Intensity string

const (
	Subtle       Intensity = "subtle"
	Moderate     Intensity = "moderate"
	Strong       Intensity = "strong"
	Overwhelming Intensity = "overwhelming"
)

// State is a derived emotional state. Secondary is empty when no other
// emotion scores above the secondary threshold.
type State struct {
	Primary   Tag       `json:"primary"`
	Secondary Tag       `json:"secondary,omitempty"`
	Intensity Intensity `json:"intensity"`
	Valence   float64   `json:"valence"` // -1..1
	Arousal   float64   `json:"arousal"` // 0..1
}

// Derive computes the emotional state for levels using DefaultFormulas.
func Derive(l hormone.Levels) State {
	return defaultFormulas.Derive(l)
}

// Derive computes the emotional state for levels.
func (f *Formulas) Derive(l hormone.Levels) State {
	scores := f.Scores(l)

	primary := Tags[0]
	best := scores[primary]
	for _, tag := range Tags[1:] {
		if scores[tag] > best {
			primary, best = tag, scores[tag]
		}
	}

	var secondary Tag
	second := f.SecondaryMin
	for _, tag := range Tags {
		if tag != primary && scores[tag] > second {
			secondary, second = tag, scores[tag]
		}
	}

	return State{
		Primary:   primary,
		Secondary: secondary,
		Intensity: f.Intensity.Classify(best),
		Valence:   Valence(l),
		Arousal:   Arousal(l),
	}
}

// Scores returns the raw score of every tag for l.
func (f *Formulas) Scores(l hormone.Levels) map[Tag]float64 {
	scores := make(map[Tag]float64, len(Tags))
	for _, tag := range Tags {
		scores[tag] = f.Scoring[tag].Eval(l)
	}
	return scores
}

// Valence is the mean of the positive hormones minus cortisol, scaled to [-1, 1].
func Valence(l hormone.Levels) float64 {
	positive := (l.Dopamine + l.Serotonin + l.Oxytocin + l.Endorphins) / 4
	return clamp((positive-l.Cortisol)/50, -1, 1)
}

// Arousal is a weighted activation measure in [0, 1].
func Arousal(l hormone.Levels) float64 {
	return clamp((0.3*l.Dopamine+0.5*l.Adrenaline+0.2*l.Cortisol)/100, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
