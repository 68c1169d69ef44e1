package companion

import (
	"context"
	"fmt"
	"time"

	"github.com/talgya/tamagochai/internal/emotion"
	"github.com/talgya/tamagochai/internal/evolution"
	"github.com/talgya/tamagochai/internal/hormone"
)

// Read views never write. Hormone levels are projected forward to now with
// the decay model so callers see current values between ticks.

// HormoneSnapshot returns id's hormone levels as of now.
func (c *Companion) HormoneSnapshot(ctx context.Context, id string) (hormone.Levels, error) {
	hs, err := c.store.ReadHormoneState(ctx, id)
	if err != nil {
		return hormone.Levels{}, err
	}
	st, _ := c.hormones.Decay(hs.State, c.clock.Now())
	return st.Levels, nil
}

// EmotionState returns the derived emotion for id, served from a short-lived
// cache when one is configured.
func (c *Companion) EmotionState(ctx context.Context, id string) (emotion.State, error) {
	now := c.clock.Now()
	if c.cacheTTL > 0 {
		c.mu.Lock()
		cached, ok := c.cache[id]
		c.mu.Unlock()
		if ok && now.Sub(cached.at) < c.cacheTTL {
			return cached.state, nil
		}
	}

	levels, err := c.HormoneSnapshot(ctx, id)
	if err != nil {
		return emotion.State{}, err
	}
	st := c.formulas.Derive(levels)
	c.remember(id, st, now)
	return st, nil
}

// remember caches st and appends its primary emotion to id's history.
func (c *Companion) remember(id string, st emotion.State, at time.Time) {
	if c.cacheTTL > 0 {
		c.mu.Lock()
		c.cache[id] = cachedEmotion{state: st, at: at}
		c.mu.Unlock()
	}
	c.historyFor(id).Record(st.Primary, at)
}

// EmotionTrend summarises recently observed emotions.
type EmotionTrend struct {
	Dominant  emotion.Tag     `json:"dominant"`
	Stability float64         `json:"stability"`
	Recent    []emotion.Entry `json:"recent"`
}

// EmotionTrend returns the dominant emotion over the last window
// observations plus overall stability. It is process-local.
func (c *Companion) EmotionTrend(id string, window int) EmotionTrend {
	c.mu.Lock()
	h, ok := c.history[id]
	c.mu.Unlock()
	if !ok {
		return EmotionTrend{Dominant: emotion.Neutral, Stability: 1, Recent: []emotion.Entry{}}
	}
	return EmotionTrend{
		Dominant:  h.Dominant(window),
		Stability: h.Stability(),
		Recent:    h.Recent(window),
	}
}

// EvolutionProgress returns id's stage progress.
func (c *Companion) EvolutionProgress(ctx context.Context, id string) (evolution.Progress, error) {
	e, err := c.store.Entity(ctx, id)
	if err != nil {
		return evolution.Progress{}, err
	}
	return c.evo.Progress(e.Stage, e.TotalXP), nil
}

// StageStatus lists every stage with whether id has reached it.
func (c *Companion) StageStatus(ctx context.Context, id string) ([]evolution.StageStatus, error) {
	e, err := c.store.Entity(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.evo.Ladder.Status(e.Stage), nil
}

// Summary is a compact description of the hormone profile.
type Summary struct {
	Dominant    hormone.Name    `json:"dominant"`
	Deviation   float64         `json:"deviation"`
	Balance     hormone.Balance `json:"balance"`
	Alerts      []string        `json:"alerts,omitempty"`
	Line        string          `json:"line"`
	Description string          `json:"description"`
}

// Summary returns the dominant hormone and balance classification for id.
func (c *Companion) Summary(ctx context.Context, id string) (Summary, error) {
	levels, err := c.HormoneSnapshot(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	return c.summarize(levels), nil
}

func (c *Companion) summarize(levels hormone.Levels) Summary {
	dominant, dev := c.hormones.Dominant(levels)
	balance := hormone.ClassifyBalance(levels)

	direction := "at baseline"
	switch {
	case dev > 0:
		direction = fmt.Sprintf("elevated %+.0f", dev)
	case dev < 0:
		direction = fmt.Sprintf("depressed %+.0f", dev)
	}
	return Summary{
		Dominant:    dominant,
		Deviation:   dev,
		Balance:     balance,
		Alerts:      hormone.Alerts(levels),
		Line:        fmt.Sprintf("%s %s, %s", dominant, direction, balance),
		Description: c.hormones.Describe(levels),
	}
}

// Entities lists every stored companion, oldest first.
func (c *Companion) Entities(ctx context.Context) ([]Entity, error) {
	return c.store.Entities(ctx)
}

// Entity returns the stored record for id.
func (c *Companion) Entity(ctx context.Context, id string) (Entity, error) {
	return c.store.Entity(ctx, id)
}

// HormoneHistory returns the most recent audit records for id.
func (c *Companion) HormoneHistory(ctx context.Context, id string, limit int) ([]HistoryRecord, error) {
	if _, err := c.store.Entity(ctx, id); err != nil {
		return nil, err
	}
	return c.store.HormoneHistory(ctx, id, limit)
}

// XPHistory returns the most recent XP ledger entries for id.
func (c *Companion) XPHistory(ctx context.Context, id string, limit int) ([]evolution.Event, error) {
	if _, err := c.store.Entity(ctx, id); err != nil {
		return nil, err
	}
	return c.store.XPEvents(ctx, id, limit)
}

// PendingCelebrations returns stage transitions not yet shown to the user.
func (c *Companion) PendingCelebrations(ctx context.Context, id string) ([]evolution.Transition, error) {
	if _, err := c.store.Entity(ctx, id); err != nil {
		return nil, err
	}
	return c.store.PendingCelebrations(ctx, id)
}

// MarkCelebrated records that a transition has been shown.
func (c *Companion) MarkCelebrated(ctx context.Context, transitionID string) error {
	return c.store.MarkCelebrated(ctx, transitionID)
}

// PruneHistory drops hormone audit records older than keep.
func (c *Companion) PruneHistory(ctx context.Context, keep time.Duration) (int64, error) {
	n, err := c.store.PruneHormoneHistory(ctx, c.clock.Now().Add(-keep))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.log.Info("hormone history pruned", "rows", n, "keep", keep)
	}
	return n, nil
}
