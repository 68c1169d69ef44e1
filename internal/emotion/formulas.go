package emotion

import (
	"math"

	"github.com/talgya/tamagochai/internal/hormone"
)

// TermKind selects how a Term turns a hormone level into a score contribution.
type TermKind int

const (
	// Linear contributes Weight*level.
	Linear TermKind = iota
	// Deficit contributes Weight*max(0, Pivot-level).
	Deficit
	// Proximity contributes Weight*max(0, Span-|level-Pivot|).
	Proximity
)

// Term is one weighted contribution to an emotion score.
type Term struct {
	Kind    TermKind
	Hormone hormone.Name
	Weight  float64
	Pivot   float64
	Span    float64
}

// Eval returns the term's contribution for l.
func (t Term) Eval(l hormone.Levels) float64 {
	v, _ := l.Get(t.Hormone)
	switch t.Kind {
	case Deficit:
		return t.Weight * math.Max(0, t.Pivot-v)
	case Proximity:
		return t.Weight * math.Max(0, t.Span-math.Abs(v-t.Pivot))
	}
	return t.Weight * v
}

// Formula is the scoring rule for one emotion: a sum of terms, optionally
// damped by a hormone as sum*(1 - level/DampScale).
type Formula struct {
	Terms     []Term
	DampBy    hormone.Name
	DampScale float64
}

// Eval scores l.
func (f Formula) Eval(l hormone.Levels) float64 {
	var sum float64
	for _, t := range f.Terms {
		sum += t.Eval(l)
	}
	if f.DampScale > 0 {
		v, _ := l.Get(f.DampBy)
		sum *= 1 - v/f.DampScale
	}
	return sum
}

// Thresholds are the ascending lower bounds of the moderate, strong and
// overwhelming buckets. Anything below Moderate is subtle.
type Thresholds struct {
	Moderate     float64
	Strong       float64
	Overwhelming float64
}

// Classify maps a primary score to an intensity.
func (t Thresholds) Classify(score float64) Intensity {
	switch {
	case score >= t.Overwhelming:
		return Overwhelming
	case score >= t.Strong:
		return Strong
	case score >= t.Moderate:
		return Moderate
	}
	return Subtle
}

// Formulas is the full derivation configuration.
type Formulas struct {
	Scoring      map[Tag]Formula
	Intensity    Thresholds
	SecondaryMin float64 // a secondary emotion must score strictly above this
}

var defaultFormulas = DefaultFormulas()

func lin(h hormone.Name, w float64) Term { return Term{Kind: Linear, Hormone: h, Weight: w} }

func deficit(h hormone.Name, pivot, w float64) Term {
	return Term{Kind: Deficit, Hormone: h, Pivot: pivot, Weight: w}
}

// DefaultFormulas returns the standard scoring configuration.
func DefaultFormulas() *Formulas {
	const (
		D = hormone.Dopamine
		S = hormone.Serotonin
		O = hormone.Oxytocin
		C = hormone.Cortisol
		A = hormone.Adrenaline
		E = hormone.Endorphins
	)
	return &Formulas{
		Scoring: map[Tag]Formula{
			Neutral: {Terms: []Term{
				{Kind: Proximity, Hormone: S, Pivot: 60, Span: 50, Weight: 1},
				deficit(C, 30, 1),
			}},
			Happy: {
				Terms:     []Term{lin(D, 0.4), lin(S, 0.4), lin(E, 0.2)},
				DampBy:    C,
				DampScale: 200,
			},
			Sad:      {Terms: []Term{deficit(S, 60, 0.5), deficit(D, 50, 0.3), lin(C, 0.2)}},
			Angry:    {Terms: []Term{lin(C, 0.4), lin(A, 0.3), deficit(S, 40, 0.3)}},
			Scared:   {Terms: []Term{lin(A, 0.5), lin(C, 0.4), deficit(O, 50, 0.1)}},
			Loving:   {Terms: []Term{lin(O, 0.7), lin(E, 0.2), lin(S, 0.1)}},
			Excited:  {Terms: []Term{lin(D, 0.4), lin(A, 0.4), lin(E, 0.2)}},
			Tired:    {Terms: []Term{deficit(D, 50, 0.4), deficit(A, 50, 0.3), deficit(S, 50, 0.3)}},
			Curious:  {Terms: []Term{lin(D, 0.5), deficit(C, 50, 0.3), lin(S, 0.2)}},
			Confused: {Terms: []Term{lin(C, 0.4), deficit(S, 50, 0.3), deficit(D, 50, 0.3)}},
		},
		Intensity:    Thresholds{Moderate: 60, Strong: 75, Overwhelming: 90},
		SecondaryMin: 30,
	}
}
