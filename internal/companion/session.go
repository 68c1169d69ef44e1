package companion

import (
	"context"
	"errors"

	"github.com/talgya/tamagochai/internal/engine"
)

// StartSession begins periodic decay for id. Each tick takes the entity's
// lock like any other mutation. Starting an already running session is a
// no-op.
func (c *Companion) StartSession(ctx context.Context, id string) error {
	if _, err := c.store.Entity(ctx, id); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[id]; ok {
		return nil
	}

	eng := engine.NewEngine("decay:"+id, c.tickInterval)
	eng.OnTick = func(ctx context.Context, tick uint64) {
		if _, err := c.Decay(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error("decay tick failed", "entity", id, "tick", tick, "error", err)
		}
	}
	// Sessions outlive the request that started them; StopSession ends them.
	if err := eng.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	c.sessions[id] = eng
	c.log.Info("decay session started", "entity", id, "interval", c.tickInterval)
	return nil
}

// StopSession stops id's periodic decay and returns once no tick is in
// flight.
func (c *Companion) StopSession(id string) {
	c.mu.Lock()
	eng, ok := c.sessions[id]
	delete(c.sessions, id)
	c.mu.Unlock()

	if !ok {
		return
	}
	eng.Stop()
	c.log.Info("decay session stopped", "entity", id, "ticks", eng.Tick())
}

// SessionActive reports whether id has a running decay session.
func (c *Companion) SessionActive(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[id]
	return ok
}

// Close stops every session.
func (c *Companion) Close() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.StopSession(id)
	}
}
