// Package hormone models the six-hormone endocrine state of a companion.
// Levels relax exponentially toward per-hormone baselines and are nudged by
// additive modifiers triggered by interaction events.
package hormone

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidHormone is returned for a modifier naming an unknown hormone.
	ErrInvalidHormone = errors.New("invalid hormone")
	// ErrInvalidModifier is returned for a modifier whose delta is NaN or infinite.
	ErrInvalidModifier = errors.New("invalid modifier")
)

// Name identifies a hormone.
type Name string

const (
	Dopamine   Name = "dopamine"
	Serotonin  Name = "serotonin"
	Oxytocin   Name = "oxytocin"
	Cortisol   Name = "cortisol"
	Adrenaline Name = "adrenaline"
	Endorphins Name = "endorphins"
)

// Names lists every hormone in canonical order.
var Names = []Name{Dopamine, Serotonin, Oxytocin, Cortisol, Adrenaline, Endorphins}

// Levels holds one value per hormone, each in [0, 100].
type Levels struct {
	Dopamine   float64 `json:"dopamine" db:"dopamine"`
	Serotonin  float64 `json:"serotonin" db:"serotonin"`
	Oxytocin   float64 `json:"oxytocin" db:"oxytocin"`
	Cortisol   float64 `json:"cortisol" db:"cortisol"`
	Adrenaline float64 `json:"adrenaline" db:"adrenaline"`
	Endorphins float64 `json:"endorphins" db:"endorphins"`
}

// Get returns the level for n.
func (l Levels) Get(n Name) (float64, bool) {
	switch n {
	case Dopamine:
		return l.Dopamine, true
	case Serotonin:
		return l.Serotonin, true
	case Oxytocin:
		return l.Oxytocin, true
	case Cortisol:
		return l.Cortisol, true
	case Adrenaline:
		return l.Adrenaline, true
	case Endorphins:
		return l.Endorphins, true
	}
	return 0, false
}

func (l *Levels) set(n Name, v float64) {
	switch n {
	case Dopamine:
		l.Dopamine = v
	case Serotonin:
		l.Serotonin = v
	case Oxytocin:
		l.Oxytocin = v
	case Cortisol:
		l.Cortisol = v
	case Adrenaline:
		l.Adrenaline = v
	case Endorphins:
		l.Endorphins = v
	}
}

// Config is the static behaviour of one hormone.
type Config struct {
	Baseline float64 // resting level
	HalfLife float64 // minutes for the distance to baseline to halve
	Min      float64
	Max      float64
}

// Table maps each hormone to its configuration. Loaded once at startup and
// treated as immutable.
type Table map[Name]Config

// DefaultTable returns the standard hormone configuration.
func DefaultTable() Table {
	return Table{
		Dopamine:   {Baseline: 50, HalfLife: 30, Min: 0, Max: 100},
		Serotonin:  {Baseline: 60, HalfLife: 45, Min: 0, Max: 100},
		Oxytocin:   {Baseline: 55, HalfLife: 20, Min: 0, Max: 100},
		Cortisol:   {Baseline: 25, HalfLife: 60, Min: 0, Max: 100},
		Adrenaline: {Baseline: 20, HalfLife: 10, Min: 0, Max: 100},
		Endorphins: {Baseline: 40, HalfLife: 25, Min: 0, Max: 100},
	}
}

// Validate checks that every hormone is configured with a positive half-life
// and a baseline inside its bounds.
func (t Table) Validate() error {
	for _, n := range Names {
		c, ok := t[n]
		if !ok {
			return fmt.Errorf("hormone %s: missing config", n)
		}
		if c.HalfLife <= 0 {
			return fmt.Errorf("hormone %s: half-life must be positive", n)
		}
		if c.Min >= c.Max || c.Baseline < c.Min || c.Baseline > c.Max {
			return fmt.Errorf("hormone %s: baseline %.1f outside [%.1f, %.1f]", n, c.Baseline, c.Min, c.Max)
		}
	}
	return nil
}

// Baselines returns the resting levels, used for a newborn or reset entity.
func (t Table) Baselines() Levels {
	var l Levels
	for _, n := range Names {
		l.set(n, t[n].Baseline)
	}
	return l
}

// State is the persisted hormone state of one entity.
type State struct {
	Levels    Levels
	LastDecay time.Time
}

// MinDecayInterval is the smallest elapsed time that triggers decay.
const MinDecayInterval = time.Minute

// Decay relaxes every level toward its baseline for the time elapsed since
// s.LastDecay. It reports false and returns s unchanged when less than
// MinDecayInterval has passed, so repeated calls with the same now are
// idempotent.
func (t Table) Decay(s State, now time.Time) (State, bool) {
	elapsed := now.Sub(s.LastDecay)
	if elapsed < MinDecayInterval {
		return s, false
	}
	minutes := elapsed.Minutes()

	out := State{LastDecay: now}
	for _, n := range Names {
		c := t[n]
		cur, _ := s.Levels.Get(n)
		factor := math.Pow(0.5, minutes/c.HalfLife)
		out.Levels.set(n, clamp(c.Baseline+(cur-c.Baseline)*factor, c.Min, c.Max))
	}
	return out, true
}

// Modifier is an additive delta for one hormone.
type Modifier struct {
	Hormone Name    `json:"hormone"`
	Delta   float64 `json:"delta"`
	Source  string  `json:"source,omitempty"`
}

// Apply adds each modifier's delta to levels and clamps the result. The
// modifiers are validated up front: on error the input is returned unchanged.
// Deltas that push a level past its bounds are clamped, not rejected.
func (t Table) Apply(levels Levels, mods []Modifier) (Levels, error) {
	for _, m := range mods {
		if _, ok := t[m.Hormone]; !ok {
			return levels, fmt.Errorf("%w: %q", ErrInvalidHormone, m.Hormone)
		}
		if math.IsNaN(m.Delta) || math.IsInf(m.Delta, 0) {
			return levels, fmt.Errorf("%w: %s delta %v", ErrInvalidModifier, m.Hormone, m.Delta)
		}
	}

	out := levels
	for _, m := range mods {
		c := t[m.Hormone]
		cur, _ := out.Get(m.Hormone)
		out.set(m.Hormone, clamp(cur+m.Delta, c.Min, c.Max))
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
