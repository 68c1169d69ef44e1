// Package sensors turns device context (battery, time of day) into named
// companion events.
package sensors

import (
	"math"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Battery thresholds, in percent.
const (
	LowBattery      = 20
	CriticalBattery = 10
	ChargingComfort = 50
)

// Battery is one battery reading.
type Battery struct {
	Level    int  `json:"level"`
	Charging bool `json:"charging"`
}

func (b Battery) Low() bool      { return b.Level < LowBattery }
func (b Battery) Critical() bool { return b.Level < CriticalBattery }

// BatterySource reports the battery state at a given time.
type BatterySource interface {
	Battery(now time.Time) (Battery, error)
}

// SimulatedBattery follows a smooth noise curve: the level is the curve's
// height and the battery is charging while the curve rises.
type SimulatedBattery struct {
	noise  opensimplex.Noise
	origin time.Time
	period time.Duration
}

// NewSimulatedBattery returns a deterministic battery for seed. One
// discharge cycle lasts roughly period.
func NewSimulatedBattery(seed int64, origin time.Time, period time.Duration) *SimulatedBattery {
	if period <= 0 {
		period = 8 * time.Hour
	}
	return &SimulatedBattery{
		noise:  opensimplex.NewNormalized(seed),
		origin: origin,
		period: period,
	}
}

func (s *SimulatedBattery) level(t time.Time) float64 {
	x := float64(t.Sub(s.origin)) / float64(s.period)
	return octaveNoise(s.noise, x, 0, 2, 1, 0.5)
}

func (s *SimulatedBattery) Battery(now time.Time) (Battery, error) {
	cur := s.level(now)
	next := s.level(now.Add(time.Minute))
	return Battery{
		Level:    int(math.Round(cur * 100)),
		Charging: next > cur,
	}, nil
}

// octaveNoise layers frequencies of normalized noise; the result stays in [0, 1].
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}
	return total / maxVal
}

// PartOfDay buckets the hour.
type PartOfDay string

const (
	Night     PartOfDay = "night"
	Morning   PartOfDay = "morning"
	Afternoon PartOfDay = "afternoon"
	Evening   PartOfDay = "evening"
)

// TimeContext describes the time of day as the companion perceives it.
type TimeContext struct {
	Hour      int       `json:"hour"`
	PartOfDay PartOfDay `json:"part_of_day"`
	Night     bool      `json:"night"`
	Weekend   bool      `json:"weekend"`
}

// TimeOf returns the context for t in t's location. Night runs 22:00-06:00.
func TimeOf(t time.Time) TimeContext {
	h := t.Hour()
	tc := TimeContext{Hour: h, Weekend: t.Weekday() == time.Saturday || t.Weekday() == time.Sunday}
	switch {
	case h >= 6 && h < 12:
		tc.PartOfDay = Morning
	case h >= 12 && h < 18:
		tc.PartOfDay = Afternoon
	case h >= 18 && h < 22:
		tc.PartOfDay = Evening
	default:
		tc.PartOfDay = Night
		tc.Night = true
	}
	return tc
}

// Reading is the full sensor context at one instant.
type Reading struct {
	Battery Battery     `json:"battery"`
	Time    TimeContext `json:"time"`
	At      time.Time   `json:"at"`
}

// Message returns what the companion would remark about r, or "".
func (r Reading) Message() string {
	switch {
	case r.Battery.Critical():
		return "My battery is almost empty... I'm going to switch off soon!"
	case r.Battery.Low():
		return "My battery is low... could you charge me?"
	case r.Battery.Charging:
		return "Thanks for charging me! I feel better."
	case r.Time.Night:
		return "It's late... maybe you should sleep?"
	}
	return ""
}
