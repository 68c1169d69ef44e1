package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tamagochai/internal/companion"
	"github.com/talgya/tamagochai/internal/evolution"
	"github.com/talgya/tamagochai/internal/hormone"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *DB, id string) hormone.State {
	t.Helper()
	st := hormone.State{Levels: hormone.DefaultTable().Baselines(), LastDecay: now}
	err := db.CreateEntity(context.Background(), companion.Entity{
		ID:              id,
		Name:            "Tama",
		CreatedAt:       now,
		LastInteraction: now,
		Stage:           evolution.Emergence,
	}, st)
	require.NoError(t, err)
	return st
}

func TestEntity_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seed(t, db, "a")

	e, err := db.Entity(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Tama", e.Name)
	assert.True(t, e.CreatedAt.Equal(now))
	assert.Equal(t, evolution.Emergence, e.Stage)
	assert.Zero(t, e.TotalXP)

	_, err = db.Entity(ctx, "missing")
	assert.ErrorIs(t, err, companion.ErrEntityNotFound)

	all, err := db.Entities(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestHormoneState_VersionedWrite(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	st := seed(t, db, "a")

	got, err := db.ReadHormoneState(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, st.Levels, got.Levels)
	assert.True(t, got.LastDecay.Equal(now))
	assert.Equal(t, int64(1), got.Version)

	next := got.State
	next.Levels.Cortisol = 77
	next.LastDecay = now.Add(time.Minute)
	require.NoError(t, db.WriteHormoneState(ctx, "a", next, got.Version))

	// Writing against the old version now loses.
	err = db.WriteHormoneState(ctx, "a", next, got.Version)
	assert.ErrorIs(t, err, companion.ErrStaleWrite)

	err = db.WriteHormoneState(ctx, "missing", next, 1)
	assert.ErrorIs(t, err, companion.ErrEntityNotFound)

	got, err = db.ReadHormoneState(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 77.0, got.Levels.Cortisol)
	assert.Equal(t, int64(2), got.Version)

	_, err = db.ReadHormoneState(ctx, "missing")
	assert.ErrorIs(t, err, companion.ErrEntityNotFound)
}

func TestXP_IncrementAndStage(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seed(t, db, "a")

	total, err := db.IncrementTotalXP(ctx, "a", 40)
	require.NoError(t, err)
	assert.Equal(t, int64(40), total)
	total, err = db.IncrementTotalXP(ctx, "a", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(42), total)

	xp, err := db.ReadTotalXP(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(42), xp)

	_, err = db.IncrementTotalXP(ctx, "missing", 1)
	assert.ErrorIs(t, err, companion.ErrEntityNotFound)

	require.NoError(t, db.WriteStage(ctx, "a", evolution.Learning))
	stage, err := db.ReadStage(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, evolution.Learning, stage)
	assert.ErrorIs(t, db.WriteStage(ctx, "missing", evolution.Learning), companion.ErrEntityNotFound)
}

func TestXPEvents_Ledger(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seed(t, db, "a")

	require.NoError(t, db.AppendXPEvent(ctx, evolution.Event{
		ID: "e1", EntityID: "a", Source: evolution.MessageSent, Amount: 5, BaseAmount: 5, Multiplier: 1, Timestamp: now,
	}))
	require.NoError(t, db.AppendXPEvent(ctx, evolution.Event{
		ID: "e2", EntityID: "a", Source: evolution.MessageQuality, Amount: 100, BaseAmount: 10, Multiplier: 10,
		Timestamp: now.Add(time.Second), Metadata: map[string]any{"length": 72},
	}))

	evs, err := db.XPEvents(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "e2", evs[0].ID)
	assert.Equal(t, evolution.MessageQuality, evs[0].Source)
	assert.Equal(t, 10.0, evs[0].Multiplier)
	assert.Equal(t, float64(72), evs[0].Metadata["length"])
	assert.Nil(t, evs[1].Metadata)

	evs, err = db.XPEvents(ctx, "a", 1)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestTransitions_Celebrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seed(t, db, "a")

	require.NoError(t, db.AppendTransition(ctx, evolution.Transition{
		ID: "t1", EntityID: "a", From: evolution.Emergence, To: evolution.Learning, XP: 1000, Timestamp: now,
	}))

	pending, err := db.PendingCelebrations(ctx, "a")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, evolution.Learning, pending[0].To)
	assert.False(t, pending[0].Celebrated)

	require.NoError(t, db.MarkCelebrated(ctx, "t1"))
	pending, err = db.PendingCelebrations(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, db.MarkCelebrated(ctx, "nope"), companion.ErrTransitionNotFound)
}

func TestHormoneHistory_AppendListPrune(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	st := seed(t, db, "a")

	for i := 0; i < 3; i++ {
		require.NoError(t, db.AppendHormoneHistory(ctx, "a", companion.HistoryRecord{
			Levels:    st.Levels,
			Trigger:   "test",
			Timestamp: now.Add(time.Duration(i) * 24 * time.Hour),
		}))
	}

	recs, err := db.HormoneHistory(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.True(t, recs[0].Timestamp.Equal(now.Add(48*time.Hour)))
	assert.Equal(t, "test", recs[0].Trigger)

	n, err := db.PruneHormoneHistory(ctx, now.Add(36*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestAtomically_RollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seed(t, db, "a")

	boom := errors.New("boom")
	err := db.Atomically(ctx, func(r companion.Repo) error {
		if _, err := r.IncrementTotalXP(ctx, "a", 500); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	xp, err := db.ReadTotalXP(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, xp)

	err = db.Atomically(ctx, func(r companion.Repo) error {
		_, err := r.IncrementTotalXP(ctx, "a", 500)
		return err
	})
	require.NoError(t, err)
	xp, _ = db.ReadTotalXP(ctx, "a")
	assert.Equal(t, int64(500), xp)
}

func TestResetEntity(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	st := seed(t, db, "a")

	_, err := db.IncrementTotalXP(ctx, "a", 2000)
	require.NoError(t, err)
	require.NoError(t, db.WriteStage(ctx, "a", evolution.Learning))
	require.NoError(t, db.TouchInteraction(ctx, "a", now, 3))
	require.NoError(t, db.AppendHormoneHistory(ctx, "a", companion.HistoryRecord{Levels: st.Levels, Trigger: "x", Timestamp: now}))

	later := now.Add(time.Hour)
	require.NoError(t, db.ResetEntity(ctx, "a", hormone.State{Levels: st.Levels, LastDecay: later}, later))

	e, err := db.Entity(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, e.TotalXP)
	assert.Zero(t, e.TotalMessages)
	assert.Equal(t, evolution.Emergence, e.Stage)

	recs, err := db.HormoneHistory(ctx, "a", 10)
	require.NoError(t, err)
	assert.Empty(t, recs)

	hs, err := db.ReadHormoneState(ctx, "a")
	require.NoError(t, err)
	assert.True(t, hs.LastDecay.Equal(later))

	assert.ErrorIs(t, db.ResetEntity(ctx, "missing", st, later), companion.ErrEntityNotFound)
}

func TestTouchInteraction(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seed(t, db, "a")

	at := now.Add(5 * time.Minute)
	require.NoError(t, db.TouchInteraction(ctx, "a", at, 1))
	require.NoError(t, db.TouchInteraction(ctx, "a", at, 1))

	e, err := db.Entity(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.TotalMessages)
	assert.True(t, e.LastInteraction.Equal(at))

	assert.ErrorIs(t, db.TouchInteraction(ctx, "missing", at, 1), companion.ErrEntityNotFound)
}

func TestMeta(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.SaveMeta("active_entity", "a"))
	require.NoError(t, db.SaveMeta("active_entity", "b"))
	v, err := db.GetMeta("active_entity")
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	_, err = db.GetMeta("missing")
	assert.Error(t, err)
}
