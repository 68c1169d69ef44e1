package sensors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/tamagochai/internal/clock"
	"github.com/talgya/tamagochai/internal/companion"
	"github.com/talgya/tamagochai/internal/engine"
)

// ReactionCooldown is the minimum gap between two battery reactions.
const ReactionCooldown = 5 * time.Minute

// Sink receives the events a poll decides on.
type Sink interface {
	ApplyNamedEvent(ctx context.Context, id, name string) (*companion.Result, error)
}

// Poller reads sensors for one entity and forwards the resulting events.
type Poller struct {
	EntityID string
	Sink     Sink
	Battery  BatterySource
	Clock    clock.Clock
	Logger   *slog.Logger

	mu           sync.Mutex
	last         Reading
	lastReaction time.Time
	lastMorning  string
	wasNight     bool
	eng          *engine.Engine
}

// NewPoller creates a poller for id.
func NewPoller(id string, sink Sink, battery BatterySource, c clock.Clock) *Poller {
	return &Poller{EntityID: id, Sink: sink, Battery: battery, Clock: c, Logger: slog.Default()}
}

// Poll takes one reading and applies the events it calls for, returning
// their names in order:
//   - battery_critical, battery_low or battery_charging (below 50%), at most
//     once per ReactionCooldown
//   - night_time when night begins
//   - morning_greeting on the first morning poll of each day
func (p *Poller) Poll(ctx context.Context) ([]string, error) {
	now := p.Clock.Now()
	b, err := p.Battery.Battery(now)
	if err != nil {
		return nil, fmt.Errorf("read battery: %w", err)
	}
	r := Reading{Battery: b, Time: TimeOf(now), At: now}

	p.mu.Lock()
	var events []string
	if p.lastReaction.IsZero() || now.Sub(p.lastReaction) >= ReactionCooldown {
		switch {
		case b.Critical():
			events = append(events, companion.EventBatteryCritical)
		case b.Low():
			events = append(events, companion.EventBatteryLow)
		case b.Charging && b.Level < ChargingComfort:
			events = append(events, companion.EventBatteryCharging)
		}
		if len(events) > 0 {
			p.lastReaction = now
		}
	}
	if r.Time.Night && !p.wasNight {
		events = append(events, companion.EventNightTime)
	}
	p.wasNight = r.Time.Night
	if day := now.Format("2006-01-02"); r.Time.PartOfDay == Morning && p.lastMorning != day {
		events = append(events, companion.EventMorningGreeting)
		p.lastMorning = day
	}
	p.last = r
	p.mu.Unlock()

	for _, ev := range events {
		if _, err := p.Sink.ApplyNamedEvent(ctx, p.EntityID, ev); err != nil {
			return events, fmt.Errorf("apply %s: %w", ev, err)
		}
		p.Logger.Info("sensor event", "entity", p.EntityID, "event", ev, "battery", b.Level)
	}
	return events, nil
}

// Last returns the most recent reading; the zero Reading before any poll.
func (p *Poller) Last() Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Start polls every interval until Stop or ctx is cancelled.
func (p *Poller) Start(ctx context.Context, interval time.Duration) error {
	eng := engine.NewEngine("sensors:"+p.EntityID, interval)
	eng.OnTick = func(ctx context.Context, _ uint64) {
		if _, err := p.Poll(ctx); err != nil {
			p.Logger.Error("sensor poll failed", "entity", p.EntityID, "error", err)
		}
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.eng = eng
	p.mu.Unlock()
	return nil
}

// Stop halts polling and waits for an in-flight poll.
func (p *Poller) Stop() {
	p.mu.Lock()
	eng := p.eng
	p.eng = nil
	p.mu.Unlock()
	if eng != nil {
		eng.Stop()
	}
}
