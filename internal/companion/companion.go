// Package companion orchestrates a companion's affective state. Every
// mutation for one entity runs under that entity's lock as a single storage
// transaction: decay first, then modifiers, then any XP grant. Stage
// transitions are announced after the transaction commits and the entity
// lock is released.
package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/tamagochai/internal/clock"
	"github.com/talgya/tamagochai/internal/emotion"
	"github.com/talgya/tamagochai/internal/engine"
	"github.com/talgya/tamagochai/internal/evolution"
	"github.com/talgya/tamagochai/internal/hormone"
)

// DefaultMaxAttempts bounds retries of a unit of work after a stale write.
const DefaultMaxAttempts = 3

// Options configures a Companion. Zero values pick defaults.
type Options struct {
	Clock           clock.Clock
	Hormones        hormone.Table
	Formulas        *emotion.Formulas
	Evolution       *evolution.Engine
	Logger          *slog.Logger
	TickInterval    time.Duration // decay session period, default one minute
	EmotionCacheTTL time.Duration // 0 disables caching
	MaxAttempts     int
	AbsenceAfter    time.Duration // silence that counts as a long absence, default 24h
	Responder       Responder
	OnTransition    func(evolution.Transition)
}

// Companion is the orchestrator for any number of entities.
type Companion struct {
	store        Store
	clock        clock.Clock
	hormones     hormone.Table
	formulas     *emotion.Formulas
	evo          *evolution.Engine
	log          *slog.Logger
	tickInterval time.Duration
	cacheTTL     time.Duration
	maxAttempts  int
	absenceAfter time.Duration
	responder    Responder
	onTransition func(evolution.Transition)

	mu       sync.Mutex
	locks    map[string]*entityLock
	cache    map[string]cachedEmotion
	history  map[string]*emotion.History
	sessions map[string]*engine.Engine
}

// entityLock is shared by every caller working on one entity and dropped
// from the map when the last of them releases it.
type entityLock struct {
	mu   sync.Mutex
	refs int
}

type cachedEmotion struct {
	state emotion.State
	at    time.Time
}

// New creates a Companion over store.
func New(store Store, opts Options) *Companion {
	c := &Companion{
		store:        store,
		clock:        opts.Clock,
		hormones:     opts.Hormones,
		formulas:     opts.Formulas,
		evo:          opts.Evolution,
		log:          opts.Logger,
		tickInterval: opts.TickInterval,
		cacheTTL:     opts.EmotionCacheTTL,
		maxAttempts:  opts.MaxAttempts,
		absenceAfter: opts.AbsenceAfter,
		responder:    opts.Responder,
		onTransition: opts.OnTransition,
		locks:        make(map[string]*entityLock),
		cache:        make(map[string]cachedEmotion),
		history:      make(map[string]*emotion.History),
		sessions:     make(map[string]*engine.Engine),
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.hormones == nil {
		c.hormones = hormone.DefaultTable()
	}
	if c.formulas == nil {
		c.formulas = emotion.DefaultFormulas()
	}
	if c.evo == nil {
		c.evo = evolution.NewEngine(c.clock, evolution.Production, evolution.NewMemoryStore())
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.tickInterval <= 0 {
		c.tickInterval = time.Minute
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.absenceAfter <= 0 {
		c.absenceAfter = 24 * time.Hour
	}
	if c.responder == nil {
		c.responder = EchoResponder{}
	}
	return c
}

// Evolution returns the XP engine in use.
func (c *Companion) Evolution() *evolution.Engine { return c.evo }

// acquire locks id and returns the matching release.
func (c *Companion) acquire(id string) (release func()) {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &entityLock{}
		c.locks[id] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(c.locks, id)
		}
		c.mu.Unlock()
	}
}

// Create stores a new entity at baseline hormone levels and returns it.
// This is the only place default state is fabricated.
func (c *Companion) Create(ctx context.Context, name string) (Entity, error) {
	now := c.clock.Now()
	e := Entity{
		ID:              uuid.NewString(),
		Name:            name,
		CreatedAt:       now,
		LastInteraction: now,
		Stage:           c.evo.Ladder[0].Stage,
	}
	st := hormone.State{Levels: c.hormones.Baselines(), LastDecay: now}
	if err := c.store.Atomically(ctx, func(r Repo) error {
		return r.CreateEntity(ctx, e, st)
	}); err != nil {
		return Entity{}, fmt.Errorf("create entity: %w", err)
	}
	c.log.Info("companion created", "entity", e.ID, "name", name)
	return e, nil
}

// Reset returns an entity to its newborn state: baseline hormones, zero XP,
// first stage, empty history. Rate-limit state is left alone.
func (c *Companion) Reset(ctx context.Context, id string) error {
	release := c.acquire(id)
	defer release()

	now := c.clock.Now()
	st := hormone.State{Levels: c.hormones.Baselines(), LastDecay: now}
	if err := c.store.Atomically(ctx, func(r Repo) error {
		return r.ResetEntity(ctx, id, st, now)
	}); err != nil {
		return fmt.Errorf("reset entity: %w", err)
	}
	c.forget(id)
	c.log.Info("companion reset", "entity", id)
	return nil
}

// unit is the working state of one logical event inside a transaction.
type unit struct {
	ctx     context.Context
	repo    Repo
	id      string
	now     time.Time
	state   hormone.State
	decayed bool
	changed bool
	grants  []*evolution.Grant
	c       *Companion
}

// apply adds mods to the working levels and writes an audit record.
func (u *unit) apply(mods []hormone.Modifier, trigger string) error {
	levels, err := u.c.hormones.Apply(u.state.Levels, mods)
	if err != nil {
		return err
	}
	u.state.Levels = levels
	u.changed = true
	return u.repo.AppendHormoneHistory(u.ctx, u.id, HistoryRecord{Levels: levels, Trigger: trigger, Timestamp: u.now})
}

// grant awards XP inside the unit. A refused grant returns nil.
func (u *unit) grant(src evolution.Source, metadata map[string]any) (*evolution.Grant, error) {
	g, err := u.c.evo.Grant(u.ctx, u.repo, u.id, src, metadata)
	if err != nil || g == nil {
		return nil, err
	}
	u.grants = append(u.grants, g)
	return g, nil
}

// mutate runs fn as one atomic unit for id and then announces any stage
// transitions it produced, outside the entity lock.
func (c *Companion) mutate(ctx context.Context, id string, fn func(u *unit) error) (*unit, error) {
	u, err := c.commit(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	for _, g := range u.grants {
		if g.Transition != nil {
			c.announce(*g.Transition)
		}
	}
	return u, nil
}

// commit is lock, read, decay, fn, write. A stale write retries the whole
// unit with a fresh read.
func (c *Companion) commit(ctx context.Context, id string, fn func(u *unit) error) (*unit, error) {
	release := c.acquire(id)
	defer release()

	var u *unit
	for attempt := 1; ; attempt++ {
		err := c.store.Atomically(ctx, func(r Repo) error {
			hs, err := r.ReadHormoneState(ctx, id)
			if err != nil {
				return err
			}
			u = &unit{ctx: ctx, repo: r, id: id, now: c.clock.Now(), state: hs.State, c: c}
			if d, ok := c.hormones.Decay(u.state, u.now); ok {
				u.state, u.decayed = d, true
			}
			if fn != nil {
				if err := fn(u); err != nil {
					return err
				}
			}
			if !u.decayed && !u.changed {
				return nil
			}
			return r.WriteHormoneState(ctx, id, u.state, hs.Version)
		})
		if err == nil {
			break
		}
		if errors.Is(err, ErrStaleWrite) && attempt < c.maxAttempts {
			c.log.Warn("stale hormone write, retrying", "entity", id, "attempt", attempt)
			continue
		}
		return nil, err
	}

	for _, g := range u.grants {
		c.evo.Confirm(g)
	}
	if u.decayed || u.changed {
		c.invalidate(id)
	}
	return u, nil
}

func (c *Companion) announce(tr evolution.Transition) {
	c.log.Info("companion evolved", "entity", tr.EntityID, "from", tr.From, "to", tr.To, "xp", tr.XP)
	if c.onTransition != nil {
		c.onTransition(tr)
	}
}

func (c *Companion) invalidate(id string) {
	c.mu.Lock()
	delete(c.cache, id)
	c.mu.Unlock()
}

// forget drops the cached emotion and the emotion history for id.
func (c *Companion) forget(id string) {
	c.mu.Lock()
	delete(c.cache, id)
	delete(c.history, id)
	c.mu.Unlock()
}

// historyFor returns id's emotion history, creating it. Callers must have
// read the entity from storage first.
func (c *Companion) historyFor(id string) *emotion.History {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.history[id]
	if !ok {
		h = emotion.NewHistory(emotion.MaxHistory)
		c.history[id] = h
	}
	return h
}
