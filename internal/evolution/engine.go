package evolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/tamagochai/internal/clock"
)

// ErrUnknownSource is returned when granting XP from a source with no config.
var ErrUnknownSource = errors.New("unknown xp source")

// Event is one append-only XP ledger entry.
type Event struct {
	ID         string         `json:"id"`
	EntityID   string         `json:"entity_id"`
	Source     Source         `json:"source"`
	Amount     int64          `json:"amount"`
	BaseAmount int64          `json:"base_amount"`
	Multiplier float64        `json:"multiplier"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Transition records a stage advance. Exactly one is written per advance.
type Transition struct {
	ID         string    `json:"id"`
	EntityID   string    `json:"entity_id"`
	From       Stage     `json:"from"`
	To         Stage     `json:"to"`
	XP         int64     `json:"xp_at_transition"`
	Timestamp  time.Time `json:"timestamp"`
	Celebrated bool      `json:"celebrated"`
}

// Repo is the storage the engine writes through. Implementations are
// expected to run inside the caller's transaction.
type Repo interface {
	ReadTotalXP(ctx context.Context, entityID string) (int64, error)
	// IncrementTotalXP atomically adds delta and returns the new total.
	IncrementTotalXP(ctx context.Context, entityID string, delta int64) (int64, error)
	ReadStage(ctx context.Context, entityID string) (Stage, error)
	WriteStage(ctx context.Context, entityID string, stage Stage) error
	AppendXPEvent(ctx context.Context, ev Event) error
	AppendTransition(ctx context.Context, tr Transition) error
}

// Grant is the result of a successful XP award.
type Grant struct {
	Event      Event       `json:"event"`
	TotalXP    int64       `json:"total_xp"`
	Transition *Transition `json:"transition,omitempty"` // nil unless the stage advanced
}

// Engine awards XP and advances stages.
type Engine struct {
	Ladder     Ladder
	Sources    Sources
	Multiplier float64
	Limiter    *Limiter
	Clock      clock.Clock
	Logger     *slog.Logger
}

// NewEngine creates an engine with the default ladder and sources, scaled
// by mode, keeping rate-limit state in store.
func NewEngine(c clock.Clock, mode Mode, store CooldownStore) *Engine {
	sources := DefaultSources()
	return &Engine{
		Ladder:     DefaultLadder(),
		Sources:    sources,
		Multiplier: mode.Multiplier(),
		Limiter:    NewLimiter(c, store, sources),
		Clock:      c,
		Logger:     slog.Default(),
	}
}

// Grant awards XP from src to entityID. It returns (nil, nil) when the
// cooldown or daily limit refuses the grant. The caller must call Confirm
// once the surrounding unit of work has committed.
func (e *Engine) Grant(ctx context.Context, repo Repo, entityID string, src Source, metadata map[string]any) (*Grant, error) {
	cfg, ok := e.Sources[src]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, src)
	}
	if reason, ok := e.Limiter.Check(entityID, src); !ok {
		e.Logger.Debug("xp grant refused", "entity", entityID, "source", src, "reason", reason)
		return nil, nil
	}

	amount := int64(math.Floor(float64(cfg.BaseXP) * e.Multiplier))
	ev := Event{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		Source:     src,
		Amount:     amount,
		BaseAmount: cfg.BaseXP,
		Multiplier: e.Multiplier,
		Timestamp:  e.Clock.Now(),
		Metadata:   metadata,
	}

	total, err := repo.IncrementTotalXP(ctx, entityID, amount)
	if err != nil {
		return nil, fmt.Errorf("increment xp: %w", err)
	}
	if err := repo.AppendXPEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("append xp event: %w", err)
	}

	tr, err := e.Advance(ctx, repo, entityID, total)
	if err != nil {
		return nil, err
	}
	return &Grant{Event: ev, TotalXP: total, Transition: tr}, nil
}

// Confirm records a committed grant against the rate limiter.
func (e *Engine) Confirm(g *Grant) {
	if g == nil {
		return
	}
	e.Limiter.Record(g.Event.EntityID, g.Event.Source)
}

// Advance moves the stored stage forward to match total, persisting and
// returning a transition when it moves. A stage is never lowered.
func (e *Engine) Advance(ctx context.Context, repo Repo, entityID string, total int64) (*Transition, error) {
	current, err := repo.ReadStage(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("read stage: %w", err)
	}
	expected := e.Ladder.StageForXP(total)
	if e.Ladder.Index(expected) <= e.Ladder.Index(current) {
		return nil, nil
	}

	if err := repo.WriteStage(ctx, entityID, expected); err != nil {
		return nil, fmt.Errorf("write stage: %w", err)
	}
	tr := Transition{
		ID:        uuid.NewString(),
		EntityID:  entityID,
		From:      current,
		To:        expected,
		XP:        total,
		Timestamp: e.Clock.Now(),
	}
	if err := repo.AppendTransition(ctx, tr); err != nil {
		return nil, fmt.Errorf("append transition: %w", err)
	}
	return &tr, nil
}

// Progress returns the progress view for an entity.
func (e *Engine) Progress(stage Stage, xp int64) Progress {
	return e.Ladder.Progress(stage, xp, e.Multiplier)
}
