package hormone

import (
	"fmt"
	"math"
)

// Balance is the coarse classification of a hormone profile.
type Balance string

const (
	Balanced         Balance = "balanced"
	Stressed         Balance = "stressed"
	ElevatedPositive Balance = "elevated_positive"
	LowEnergy        Balance = "low_energy"
)

// ClassifyBalance buckets levels into a Balance. Stress wins over the
// positive and low-energy checks.
func ClassifyBalance(l Levels) Balance {
	switch {
	case l.Cortisol > 60 || l.Adrenaline > 50:
		return Stressed
	case l.Dopamine > 70 && l.Serotonin > 70:
		return ElevatedPositive
	case l.Dopamine < 30 && l.Serotonin < 40:
		return LowEnergy
	}
	return Balanced
}

// Dominant returns the hormone furthest from its baseline and the signed
// deviation. Ties go to the earlier hormone in Names; at baseline it
// returns Dopamine with zero deviation.
func (t Table) Dominant(l Levels) (Name, float64) {
	dominant := Dopamine
	var best, signed float64
	for _, n := range Names {
		v, _ := l.Get(n)
		d := v - t[n].Baseline
		if math.Abs(d) > best {
			best = math.Abs(d)
			signed = d
			dominant = n
		}
	}
	return dominant, signed
}

// Reading is a bucketed interpretation of a single level.
type Reading string

const (
	CriticalLow  Reading = "critical_low"
	Low          Reading = "low"
	Normal       Reading = "normal"
	High         Reading = "high"
	CriticalHigh Reading = "critical_high"
)

// Threshold boundaries used by Interpret and Alerts.
const (
	ThresholdCriticalLow  = 10
	ThresholdLow          = 25
	ThresholdHigh         = 80
	ThresholdCriticalHigh = 95
)

// Interpret buckets a single level.
func Interpret(level float64) Reading {
	switch {
	case level <= ThresholdCriticalLow:
		return CriticalLow
	case level <= ThresholdLow:
		return Low
	case level >= ThresholdCriticalHigh:
		return CriticalHigh
	case level >= ThresholdHigh:
		return High
	}
	return Normal
}

// Alerts lists hormones sitting at a critical level, as "<hormone>_<reading>".
func Alerts(l Levels) []string {
	var alerts []string
	for _, n := range Names {
		v, _ := l.Get(n)
		switch r := Interpret(v); r {
		case CriticalLow, CriticalHigh:
			alerts = append(alerts, fmt.Sprintf("%s_%s", n, r))
		}
	}
	return alerts
}

var dominantPhrases = map[Name]string{
	Dopamine:   "motivated and eager",
	Serotonin:  "calm and steady",
	Oxytocin:   "affectionate and connected",
	Cortisol:   "stressed and tense",
	Adrenaline: "excited and alert",
	Endorphins: "joyful and euphoric",
}

var balancePhrases = map[Balance]string{
	Balanced:         "balanced",
	Stressed:         "a little stressed",
	ElevatedPositive: "very happy",
	LowEnergy:        "tired",
}

// Describe renders a first-person sentence about the hormone profile.
func (t Table) Describe(l Levels) string {
	dominant, _ := t.Dominant(l)
	return fmt.Sprintf("I feel %s and %s overall.", dominantPhrases[dominant], balancePhrases[ClassifyBalance(l)])
}
