package evolution

import (
	"sync"
	"time"

	"github.com/talgya/tamagochai/internal/clock"
)

// Refusal explains why a grant was rate limited.
type Refusal string

const (
	RefusedCooldown   Refusal = "cooldown"
	RefusedDailyLimit Refusal = "daily_limit"
)

// Key identifies a cooldown slot.
type Key struct {
	EntityID string
	Source   Source
}

// Usage is the rate-limit state of one slot.
type Usage struct {
	LastGrant  time.Time
	CountToday int
	Day        string // calendar day CountToday belongs to, YYYY-MM-DD
}

// CooldownStore holds Usage per slot.
type CooldownStore interface {
	Get(k Key) (Usage, bool)
	Put(k Key, u Usage)
	Clear()
}

// MemoryStore is a process-local CooldownStore. Cooldowns reset on restart.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[Key]Usage
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[Key]Usage)}
}

func (m *MemoryStore) Get(k Key) (Usage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.slots[k]
	return u, ok
}

func (m *MemoryStore) Put(k Key, u Usage) {
	m.mu.Lock()
	m.slots[k] = u
	m.mu.Unlock()
}

func (m *MemoryStore) Clear() {
	m.mu.Lock()
	m.slots = make(map[Key]Usage)
	m.mu.Unlock()
}

// Limiter enforces per-source cooldowns and daily caps per entity.
// Check and Record are split so a grant is only counted once it has been
// durably committed.
type Limiter struct {
	clock   clock.Clock
	store   CooldownStore
	sources Sources
}

// NewLimiter creates a limiter. The calendar day used for daily caps is
// taken from the location of the times c returns.
func NewLimiter(c clock.Clock, store CooldownStore, sources Sources) *Limiter {
	return &Limiter{clock: c, store: store, sources: sources}
}

func day(t time.Time) string { return t.Format("2006-01-02") }

// Check reports whether entityID may earn XP from src now. An unknown
// source is never allowed.
func (l *Limiter) Check(entityID string, src Source) (Refusal, bool) {
	cfg, ok := l.sources[src]
	if !ok {
		return "", false
	}
	u, seen := l.store.Get(Key{entityID, src})
	if !seen {
		return "", true
	}
	now := l.clock.Now()

	if cfg.Cooldown > 0 && now.Sub(u.LastGrant) < cfg.Cooldown {
		return RefusedCooldown, false
	}
	if cfg.DailyLimit > 0 && u.Day == day(now) && u.CountToday >= cfg.DailyLimit {
		return RefusedDailyLimit, false
	}
	return "", true
}

// Record marks a committed grant for entityID from src. The daily counter
// rolls over lazily when the calendar day has changed.
func (l *Limiter) Record(entityID string, src Source) {
	k := Key{entityID, src}
	now := l.clock.Now()
	today := day(now)

	u, _ := l.store.Get(k)
	if u.Day != today {
		u.Day = today
		u.CountToday = 0
	}
	u.LastGrant = now
	u.CountToday++
	l.store.Put(k, u)
}

// Reset clears every cooldown and daily counter.
func (l *Limiter) Reset() {
	l.store.Clear()
}
