package companion

import (
	"context"
	"errors"
	"time"

	"github.com/talgya/tamagochai/internal/evolution"
	"github.com/talgya/tamagochai/internal/hormone"
)

var (
	// ErrEntityNotFound is returned when no companion exists for an id.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrStaleWrite is returned by storage when a versioned write lost a race.
	ErrStaleWrite = errors.New("stale write")
	// ErrUnknownEvent is returned for an event name with no catalog entry.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrTransitionNotFound is returned when marking an unknown transition.
	ErrTransitionNotFound = errors.New("transition not found")
)

// Entity is the persistent record of one companion.
type Entity struct {
	ID              string          `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	CreatedAt       time.Time       `json:"created_at"`
	LastInteraction time.Time       `json:"last_interaction_at"`
	TotalMessages   int64           `json:"total_messages" db:"total_messages"`
	TotalXP         int64           `json:"total_xp" db:"total_xp"`
	Stage           evolution.Stage `json:"stage" db:"stage"`
}

// HormoneState is the stored hormone state with its optimistic version.
type HormoneState struct {
	hormone.State
	Version int64
}

// HistoryRecord is one audit row written each time modifiers are applied.
type HistoryRecord struct {
	Levels    hormone.Levels `json:"levels"`
	Trigger   string         `json:"trigger"`
	Timestamp time.Time      `json:"timestamp"`
}

// Repo is the storage contract used inside a unit of work.
type Repo interface {
	evolution.Repo

	Entity(ctx context.Context, id string) (Entity, error)
	CreateEntity(ctx context.Context, e Entity, st hormone.State) error
	ResetEntity(ctx context.Context, id string, st hormone.State, at time.Time) error
	TouchInteraction(ctx context.Context, id string, at time.Time, messages int64) error

	ReadHormoneState(ctx context.Context, id string) (HormoneState, error)
	// WriteHormoneState stores levels and last-decay time if the stored
	// version still equals version, returning ErrStaleWrite otherwise.
	WriteHormoneState(ctx context.Context, id string, st hormone.State, version int64) error
	AppendHormoneHistory(ctx context.Context, id string, rec HistoryRecord) error
}

// Store is a Repo that can also run a group of operations atomically.
type Store interface {
	Repo
	// Atomically runs fn in a transaction. Any error rolls back every
	// write fn made.
	Atomically(ctx context.Context, fn func(Repo) error) error

	Entities(ctx context.Context) ([]Entity, error)
	HormoneHistory(ctx context.Context, id string, limit int) ([]HistoryRecord, error)
	XPEvents(ctx context.Context, id string, limit int) ([]evolution.Event, error)
	PendingCelebrations(ctx context.Context, id string) ([]evolution.Transition, error)
	MarkCelebrated(ctx context.Context, transitionID string) error
	PruneHormoneHistory(ctx context.Context, before time.Time) (int64, error)
}
