package companion_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tamagochai/internal/clock"
	"github.com/talgya/tamagochai/internal/companion"
	"github.com/talgya/tamagochai/internal/emotion"
	"github.com/talgya/tamagochai/internal/evolution"
	"github.com/talgya/tamagochai/internal/hormone"
	"github.com/talgya/tamagochai/internal/persistence"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db    *persistence.DB
	clock *clock.Manual
	c     *companion.Companion
	id    string
}

func newFixture(t *testing.T, mutate ...func(*companion.Options)) *fixture {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "companion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newFixtureWithStore(t, db, db, mutate...)
}

func newFixtureWithStore(t *testing.T, db *persistence.DB, store companion.Store, mutate ...func(*companion.Options)) *fixture {
	t.Helper()
	mc := clock.NewManual(t0)
	opts := companion.Options{
		Clock:     mc,
		Evolution: evolution.NewEngine(mc, evolution.Production, evolution.NewMemoryStore()),
	}
	for _, m := range mutate {
		m(&opts)
	}
	c := companion.New(store, opts)
	t.Cleanup(c.Close)

	e, err := c.Create(context.Background(), "Tama")
	require.NoError(t, err)
	return &fixture{db: db, clock: mc, c: c, id: e.ID}
}

func TestCreate_StartsAtBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	levels, err := f.c.HormoneSnapshot(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, hormone.DefaultTable().Baselines(), levels)

	st, err := f.c.EmotionState(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, emotion.Neutral, st.Primary)
	assert.Equal(t, emotion.Subtle, st.Intensity)

	p, err := f.c.EvolutionProgress(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, evolution.Emergence, p.Stage)
	assert.Zero(t, p.TotalXP)
	assert.Equal(t, evolution.Learning, p.NextStage)
}

func TestDecay_HalfLifeScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.c.ApplyModifiers(ctx, f.id, []hormone.Modifier{{Hormone: hormone.Dopamine, Delta: 40}}, "test")
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)

	// The read view projects decay without persisting it.
	snap, err := f.c.HormoneSnapshot(ctx, f.id)
	require.NoError(t, err)
	assert.InDelta(t, 70.0, snap.Dopamine, 1e-6)

	levels, err := f.c.Decay(ctx, f.id)
	require.NoError(t, err)
	assert.InDelta(t, 70.0, levels.Dopamine, 1e-6)

	hs, err := f.db.ReadHormoneState(ctx, f.id)
	require.NoError(t, err)
	assert.True(t, hs.LastDecay.Equal(t0.Add(30*time.Minute)))

	// A second decay at the same instant changes nothing.
	again, err := f.c.Decay(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, levels, again)
}

func TestApplyNamedEvent_DecaysBeforeModifying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.c.ApplyModifiers(ctx, f.id, []hormone.Modifier{{Hormone: hormone.Cortisol, Delta: 50}}, "test")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	res, err := f.c.ApplyNamedEvent(ctx, f.id, companion.EventNegativeInteraction)
	require.NoError(t, err)
	// 75 decays to 50 over one cortisol half-life, then +15.
	assert.InDelta(t, 65.0, res.Levels.Cortisol, 1e-6)
}

func TestApplyModifiers_Clamps(t *testing.T) {
	f := newFixture(t)
	res, err := f.c.ApplyModifiers(context.Background(), f.id,
		[]hormone.Modifier{{Hormone: hormone.Cortisol, Delta: 90}}, "shock")
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Levels.Cortisol)
}

func TestApplyModifiers_InvalidLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock.Advance(10 * time.Minute)

	_, err := f.c.ApplyModifiers(ctx, f.id, []hormone.Modifier{
		{Hormone: hormone.Dopamine, Delta: 10},
		{Hormone: "melatonin", Delta: 10},
	}, "bad")
	require.ErrorIs(t, err, hormone.ErrInvalidHormone)

	hs, err := f.db.ReadHormoneState(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hs.Version)
	assert.True(t, hs.LastDecay.Equal(t0))

	recs, err := f.c.HormoneHistory(ctx, f.id, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestApplyNamedEvent_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.c.ApplyNamedEvent(ctx, f.id, "juggling")
	assert.ErrorIs(t, err, companion.ErrUnknownEvent)

	_, err = f.c.ApplyNamedEvent(ctx, "ghost", companion.EventUserMessage)
	assert.ErrorIs(t, err, companion.ErrEntityNotFound)

	_, err = f.c.HormoneSnapshot(ctx, "ghost")
	assert.ErrorIs(t, err, companion.ErrEntityNotFound)
	_, err = f.c.EmotionState(ctx, "ghost")
	assert.ErrorIs(t, err, companion.ErrEntityNotFound)
	_, err = f.c.EvolutionProgress(ctx, "ghost")
	assert.ErrorIs(t, err, companion.ErrEntityNotFound)
	_, err = f.c.GrantXP(ctx, "ghost", evolution.MessageSent, nil)
	assert.ErrorIs(t, err, companion.ErrEntityNotFound)
	assert.ErrorIs(t, f.c.StartSession(ctx, "ghost"), companion.ErrEntityNotFound)
}

func TestApplyNamedEvent_BundleAndXP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.c.ApplyNamedEvent(ctx, f.id, companion.EventUserMessage)
	require.NoError(t, err)
	assert.Equal(t, 58.0, res.Levels.Dopamine)
	require.Len(t, res.Grants, 1)
	assert.Equal(t, int64(5), res.Grants[0].Event.Amount)

	// Within the cooldown the bundle still applies but no XP is granted.
	f.clock.Advance(5 * time.Second)
	res, err = f.c.ApplyNamedEvent(ctx, f.id, companion.EventUserMessage)
	require.NoError(t, err)
	assert.Empty(t, res.Grants)
	assert.InDelta(t, 66.0, res.Levels.Dopamine, 1e-9)

	recs, err := f.c.HormoneHistory(ctx, f.id, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, companion.EventUserMessage, recs[0].Trigger)

	evs, err := f.c.XPHistory(ctx, f.id, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, companion.EventUserMessage, evs[0].Metadata["event"])
}

func TestGrantXP_RefusedIsNotAnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, err := f.c.GrantXP(ctx, f.id, evolution.DailyLogin, nil)
	require.NoError(t, err)
	require.NotNil(t, g)

	g, err = f.c.GrantXP(ctx, f.id, evolution.DailyLogin, nil)
	require.NoError(t, err)
	assert.Nil(t, g)

	_, err = f.c.GrantXP(ctx, f.id, "bribery", nil)
	assert.ErrorIs(t, err, evolution.ErrUnknownSource)
}

func TestGrantXP_StageTransitionEmittedOnce(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []evolution.Transition
	)
	f := newFixture(t, func(o *companion.Options) {
		o.OnTransition = func(tr evolution.Transition) {
			mu.Lock()
			transitions = append(transitions, tr)
			mu.Unlock()
		}
	})
	ctx := context.Background()

	_, err := f.db.IncrementTotalXP(ctx, f.id, 950)
	require.NoError(t, err)

	g, err := f.c.GrantXP(ctx, f.id, evolution.DailyLogin, nil)
	require.NoError(t, err)
	require.NotNil(t, g)
	require.NotNil(t, g.Transition)
	assert.Equal(t, evolution.Learning, g.Transition.To)

	f.clock.Advance(time.Minute)
	g, err = f.c.GrantXP(ctx, f.id, evolution.MessageSent, nil)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Nil(t, g.Transition)

	mu.Lock()
	require.Len(t, transitions, 1)
	assert.Equal(t, evolution.Emergence, transitions[0].From)
	mu.Unlock()

	p, err := f.c.EvolutionProgress(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, evolution.Learning, p.Stage)
	assert.Equal(t, int64(1005), p.TotalXP)
	assert.Equal(t, int64(5), p.XPInStage)

	pending, err := f.c.PendingCelebrations(ctx, f.id)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, f.c.MarkCelebrated(ctx, pending[0].ID))
	pending, err = f.c.PendingCelebrations(ctx, f.id)
	require.NoError(t, err)
	assert.Empty(t, pending)

	status, err := f.c.StageStatus(ctx, f.id)
	require.NoError(t, err)
	assert.True(t, status[1].Current)
}

func TestOnTransition_MayReenterCompanion(t *testing.T) {
	reentered := make(chan *companion.Result, 1)
	var f *fixture
	f = newFixture(t, func(o *companion.Options) {
		o.OnTransition = func(tr evolution.Transition) {
			res, err := f.c.ApplyNamedEvent(context.Background(), tr.EntityID, companion.EventPositiveInteraction)
			assert.NoError(t, err)
			reentered <- res
		}
	})
	ctx := context.Background()

	_, err := f.db.IncrementTotalXP(ctx, f.id, 950)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.c.GrantXP(ctx, f.id, evolution.DailyLogin, nil)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("GrantXP did not return while OnTransition used the same entity")
	}
	res := <-reentered
	require.NotNil(t, res)
	assert.Equal(t, 62.0, res.Levels.Dopamine)
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.c.Summary(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, hormone.Balanced, s.Balance)
	assert.Equal(t, "dopamine at baseline, balanced", s.Line)

	_, err = f.c.ApplyModifiers(ctx, f.id, []hormone.Modifier{{Hormone: hormone.Cortisol, Delta: 50}}, "test")
	require.NoError(t, err)
	s, err = f.c.Summary(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, hormone.Cortisol, s.Dominant)
	assert.Equal(t, hormone.Stressed, s.Balance)
	assert.Equal(t, "cortisol elevated +50, stressed", s.Line)
	assert.NotEmpty(t, s.Description)
}

func TestEmotionState_CacheInvalidatedByWrites(t *testing.T) {
	f := newFixture(t, func(o *companion.Options) { o.EmotionCacheTTL = time.Minute })
	ctx := context.Background()

	st, err := f.c.EmotionState(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, emotion.Neutral, st.Primary)

	_, err = f.c.ApplyModifiers(ctx, f.id, []hormone.Modifier{
		{Hormone: hormone.Cortisol, Delta: 75},
		{Hormone: hormone.Adrenaline, Delta: 80},
	}, "fright")
	require.NoError(t, err)

	st, err = f.c.EmotionState(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, emotion.Scared, st.Primary)

	trend := f.c.EmotionTrend(f.id, 20)
	assert.Equal(t, emotion.Neutral, trend.Recent[0].Tag)
	assert.Len(t, trend.Recent, 2)
}

func TestHandleMessage(t *testing.T) {
	var got companion.Prompt
	f := newFixture(t, func(o *companion.Options) {
		o.Responder = responderFunc(func(_ context.Context, p companion.Prompt) (string, error) {
			got = p
			return "hello human", nil
		})
	})
	ctx := context.Background()

	long := "This message is certainly longer than fifty characters, so it counts."
	res, err := f.c.HandleMessage(ctx, f.id, long)
	require.NoError(t, err)
	assert.Equal(t, "hello human", res.Reply)
	assert.False(t, res.LongAbsence)
	require.Len(t, res.Grants, 2)
	assert.Equal(t, evolution.MessageSent, res.Grants[0].Event.Source)
	assert.Equal(t, evolution.MessageQuality, res.Grants[1].Event.Source)
	assert.Equal(t, "Tama", got.Name)
	assert.Equal(t, long, got.Text)
	assert.Equal(t, int64(15), got.TotalXP)
	assert.Equal(t, 1, got.DaysAlive)

	e, err := f.db.Entity(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.TotalMessages)

	f.clock.Advance(25 * time.Hour)
	res, err = f.c.HandleMessage(ctx, f.id, "hi")
	require.NoError(t, err)
	assert.True(t, res.LongAbsence)
	require.Len(t, res.Grants, 1)

	recs, err := f.c.HormoneHistory(ctx, f.id, 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, companion.EventUserMessage, recs[0].Trigger)
	assert.Equal(t, companion.EventLongAbsence, recs[1].Trigger)
	assert.Equal(t, 2, got.DaysAlive)
}

func TestHandleMessage_DefaultResponder(t *testing.T) {
	f := newFixture(t)
	res, err := f.c.HandleMessage(context.Background(), f.id, "hey")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Reply)
}

func TestHandleMessage_FailingResponderKeepsCommittedResult(t *testing.T) {
	f := newFixture(t, func(o *companion.Options) {
		o.Responder = responderFunc(func(context.Context, companion.Prompt) (string, error) {
			return "", errors.New("generator down")
		})
	})
	ctx := context.Background()

	res, err := f.c.HandleMessage(ctx, f.id, "hello")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Contains(t, res.Reply, "I heard you.")
	require.Len(t, res.Grants, 1)

	e, err := f.c.Entity(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.TotalMessages)
	assert.Equal(t, int64(5), e.TotalXP)
}

func TestSession_DecaysOnTicks(t *testing.T) {
	f := newFixture(t, func(o *companion.Options) { o.TickInterval = 5 * time.Millisecond })
	ctx := context.Background()

	_, err := f.c.ApplyModifiers(ctx, f.id, []hormone.Modifier{{Hormone: hormone.Adrenaline, Delta: 60}}, "test")
	require.NoError(t, err)

	require.NoError(t, f.c.StartSession(ctx, f.id))
	require.NoError(t, f.c.StartSession(ctx, f.id))
	assert.True(t, f.c.SessionActive(f.id))

	f.clock.Advance(10 * time.Minute)
	require.Eventually(t, func() bool {
		hs, err := f.db.ReadHormoneState(ctx, f.id)
		return err == nil && hs.LastDecay.Equal(t0.Add(10*time.Minute))
	}, 2*time.Second, 5*time.Millisecond)

	f.c.StopSession(f.id)
	assert.False(t, f.c.SessionActive(f.id))

	hs, err := f.db.ReadHormoneState(ctx, f.id)
	require.NoError(t, err)
	// 80 relaxes halfway to 20 over one adrenaline half-life.
	assert.InDelta(t, 50.0, hs.Levels.Adrenaline, 1e-6)
}

func TestConcurrentEvents_NoLostUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.c.ApplyModifiers(ctx, f.id, []hormone.Modifier{{Hormone: hormone.Dopamine, Delta: 1}}, "poke")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	levels, err := f.c.HormoneSnapshot(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, 70.0, levels.Dopamine)
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.c.ApplyNamedEvent(ctx, f.id, companion.EventFlashMemory)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	require.NoError(t, f.c.Reset(ctx, f.id))

	levels, err := f.c.HormoneSnapshot(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, hormone.DefaultTable().Baselines(), levels)

	p, err := f.c.EvolutionProgress(ctx, f.id)
	require.NoError(t, err)
	assert.Zero(t, p.TotalXP)

	// The ledger goes with the total so it still sums to it.
	evs, err := f.c.XPHistory(ctx, f.id, 10)
	require.NoError(t, err)
	assert.Empty(t, evs)

	assert.ErrorIs(t, f.c.Reset(ctx, "ghost"), companion.ErrEntityNotFound)
}

func TestUnknownEntities_LeaveNoProcessState(t *testing.T) {
	f := newFixture(t, func(o *companion.Options) { o.EmotionCacheTTL = time.Minute })
	ctx := context.Background()

	for _, id := range []string{"ghost-1", "ghost-2"} {
		_, err := f.c.ApplyNamedEvent(ctx, id, companion.EventNightTime)
		assert.ErrorIs(t, err, companion.ErrEntityNotFound)
		_, err = f.c.EmotionState(ctx, id)
		assert.ErrorIs(t, err, companion.ErrEntityNotFound)
		_, err = f.c.PendingCelebrations(ctx, id)
		assert.ErrorIs(t, err, companion.ErrEntityNotFound)
		assert.Empty(t, f.c.EmotionTrend(id, 10).Recent)
	}
	locks, cached, histories := companion.Tracked(f.c)
	assert.Zero(t, locks)
	assert.Zero(t, cached)
	assert.Zero(t, histories)

	_, err := f.c.ApplyNamedEvent(ctx, f.id, companion.EventNightTime)
	require.NoError(t, err)
	_, err = f.c.EmotionState(ctx, f.id)
	require.NoError(t, err)
	locks, cached, histories = companion.Tracked(f.c)
	assert.Zero(t, locks)
	assert.Equal(t, 1, cached)
	assert.Equal(t, 1, histories)

	require.NoError(t, f.c.Reset(ctx, f.id))
	locks, cached, histories = companion.Tracked(f.c)
	assert.Zero(t, locks)
	assert.Zero(t, cached)
	assert.Zero(t, histories)
}

func TestPruneHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.c.ApplyNamedEvent(ctx, f.id, companion.EventNightTime)
	require.NoError(t, err)
	f.clock.Advance(40 * 24 * time.Hour)
	_, err = f.c.ApplyNamedEvent(ctx, f.id, companion.EventNightTime)
	require.NoError(t, err)

	n, err := f.c.PruneHistory(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// ── Stale writes ─────────────────────────────────────────────────────

type staleStore struct {
	*persistence.DB
	failures atomic.Int32
	attempts atomic.Int32
}

func (s *staleStore) Atomically(ctx context.Context, fn func(companion.Repo) error) error {
	s.attempts.Add(1)
	return s.DB.Atomically(ctx, func(r companion.Repo) error {
		return fn(&staleRepo{Repo: r, s: s})
	})
}

type staleRepo struct {
	companion.Repo
	s *staleStore
}

func (r *staleRepo) WriteHormoneState(ctx context.Context, id string, st hormone.State, version int64) error {
	if r.s.failures.Add(-1) >= 0 {
		return companion.ErrStaleWrite
	}
	return r.Repo.WriteHormoneState(ctx, id, st, version)
}

func newStaleFixture(t *testing.T) (*fixture, *staleStore) {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "stale.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := &staleStore{DB: db}
	f := newFixtureWithStore(t, db, s)
	s.attempts.Store(0)
	return f, s
}

func TestStaleWrite_RetriedWithFreshRead(t *testing.T) {
	f, s := newStaleFixture(t)
	ctx := context.Background()
	s.failures.Store(1)

	res, err := f.c.ApplyNamedEvent(ctx, f.id, companion.EventMemoryCreated)
	require.NoError(t, err)
	assert.Equal(t, int32(2), s.attempts.Load())
	assert.Equal(t, 60.0, res.Levels.Dopamine)

	// The rolled-back attempt left no XP behind.
	xp, err := f.db.ReadTotalXP(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, int64(15), xp)
	evs, err := f.db.XPEvents(ctx, f.id, 10)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestStaleWrite_GivesUpAfterMaxAttempts(t *testing.T) {
	f, s := newStaleFixture(t)
	ctx := context.Background()
	s.failures.Store(100)

	_, err := f.c.ApplyNamedEvent(ctx, f.id, companion.EventMemoryCreated)
	require.ErrorIs(t, err, companion.ErrStaleWrite)
	assert.Equal(t, int32(companion.DefaultMaxAttempts), s.attempts.Load())

	xp, err := f.db.ReadTotalXP(ctx, f.id)
	require.NoError(t, err)
	assert.Zero(t, xp)

	// The cooldown was never started, so a later attempt can still earn XP.
	s.failures.Store(0)
	res, err := f.c.ApplyNamedEvent(ctx, f.id, companion.EventMemoryCreated)
	require.NoError(t, err)
	assert.Len(t, res.Grants, 1)
}

type responderFunc func(ctx context.Context, p companion.Prompt) (string, error)

func (f responderFunc) Reply(ctx context.Context, p companion.Prompt) (string, error) { return f(ctx, p) }
