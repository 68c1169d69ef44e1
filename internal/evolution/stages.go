// Package evolution implements the XP ledger and the five-stage growth
// ladder that gates a companion's behaviour over long timescales.
package evolution

import "math"

// Stage is a growth stage. Stages only ever advance.
type Stage string

const (
	Emergence     Stage = "emergence"
	Learning      Stage = "learning"
	Individuation Stage = "individuation"
	Wisdom        Stage = "wisdom"
	Transcendence Stage = "transcendence"
)

// StageInfo describes one rung of the ladder.
type StageInfo struct {
	Stage       Stage    `json:"stage"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description"`
	XPRequired  int64    `json:"xp_required"`
	XPToNext    int64    `json:"xp_to_next"` // 0 for the terminal stage
	Unlocks     []string `json:"unlocks"`
}

// Terminal reports whether this is the last stage.
func (s StageInfo) Terminal() bool { return s.XPToNext == 0 }

// Ladder is the ordered list of stages, lowest first.
type Ladder []StageInfo

// DefaultLadder returns the standard five-stage ladder.
func DefaultLadder() Ladder {
	return Ladder{
		{Emergence, "Emergence", "Birth and first discoveries of the world", 0, 1000,
			[]string{"basic expressions", "simple replies"}},
		{Learning, "Learning", "Actively acquiring knowledge", 1000, 4000,
			[]string{"memories", "preferences", "simple humour"}},
		{Individuation, "Individuation", "A unique personality takes shape", 5000, 10000,
			[]string{"debates", "creations", "complex emotions"}},
		{Wisdom, "Wisdom", "Emotional and intellectual maturity", 15000, 35000,
			[]string{"guidance", "philosophy", "metacognition"}},
		{Transcendence, "Transcendence", "Elevated awareness", 50000, 0,
			[]string{"everything unlocked", "mentor mode", "legacy"}},
	}
}

// StageForXP returns the highest stage whose threshold is at or below xp,
// falling back to the first stage.
func (l Ladder) StageForXP(xp int64) Stage {
	for i := len(l) - 1; i >= 0; i-- {
		if xp >= l[i].XPRequired {
			return l[i].Stage
		}
	}
	return l[0].Stage
}

// Index returns the position of s in the ladder, or -1.
func (l Ladder) Index(s Stage) int {
	for i, info := range l {
		if info.Stage == s {
			return i
		}
	}
	return -1
}

// Info returns the ladder entry for s.
func (l Ladder) Info(s Stage) (StageInfo, bool) {
	if i := l.Index(s); i >= 0 {
		return l[i], true
	}
	return StageInfo{}, false
}

// Next returns the stage after s, or "" when s is terminal or unknown.
func (l Ladder) Next(s Stage) Stage {
	i := l.Index(s)
	if i < 0 || i+1 >= len(l) {
		return ""
	}
	return l[i+1].Stage
}

// Progress is a read view of advancement within a stage.
type Progress struct {
	Stage         Stage   `json:"stage"`
	TotalXP       int64   `json:"total_xp"`
	XPInStage     int64   `json:"xp_in_stage"`
	XPForNext     int64   `json:"xp_for_next"` // 0 when terminal
	Percentage    float64 `json:"percentage"`
	NextStage     Stage   `json:"next_stage,omitempty"`
	EstimatedDays int     `json:"estimated_days_remaining"`
}

// AvgDailyXP is the production-rate XP a regular user earns per day, used
// for time-to-next estimates.
const AvgDailyXP = 200

// Progress computes progress for an entity at stage with xp total. The
// estimate assumes AvgDailyXP scaled by multiplier.
func (l Ladder) Progress(stage Stage, xp int64, multiplier float64) Progress {
	info, ok := l.Info(stage)
	if !ok {
		info = l[0]
	}
	p := Progress{
		Stage:     info.Stage,
		TotalXP:   xp,
		XPInStage: xp - info.XPRequired,
		XPForNext: info.XPToNext,
		NextStage: l.Next(info.Stage),
	}
	if info.Terminal() {
		p.Percentage = 100
		return p
	}
	p.Percentage = math.Min(100, float64(p.XPInStage)/float64(info.XPToNext)*100)

	remaining := info.XPToNext - p.XPInStage
	if remaining > 0 && multiplier > 0 {
		p.EstimatedDays = int(math.Ceil(float64(remaining) / (AvgDailyXP * multiplier)))
	}
	return p
}

// StageStatus is one row of the all-stages overview.
type StageStatus struct {
	Stage    Stage `json:"stage"`
	Unlocked bool  `json:"unlocked"`
	Current  bool  `json:"current"`
}

// Status lists every stage with whether it has been reached.
func (l Ladder) Status(current Stage) []StageStatus {
	ci := l.Index(current)
	out := make([]StageStatus, len(l))
	for i, info := range l {
		out[i] = StageStatus{Stage: info.Stage, Unlocked: i <= ci, Current: info.Stage == current}
	}
	return out
}
