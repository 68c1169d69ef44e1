// Package engine provides the tick loop that drives periodic work such as
// hormone decay sessions and storage maintenance.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrRunning is returned by Start when the loop is already running.
var ErrRunning = errors.New("engine already running")

type periodic struct {
	every uint64
	fn    func(ctx context.Context, tick uint64)
}

// Engine calls OnTick every Interval, plus any callbacks registered with
// Every on their own multiples of the tick counter.
type Engine struct {
	Name     string
	Interval time.Duration

	// OnTick runs on every tick.
	OnTick func(ctx context.Context, tick uint64)

	tick     atomic.Uint64
	periodic []periodic

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a stopped engine ticking every interval.
func NewEngine(name string, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Engine{Name: name, Interval: interval}
}

// Every registers fn to run on ticks that are a multiple of n. Must be
// called before Start.
func (e *Engine) Every(n uint64, fn func(ctx context.Context, tick uint64)) {
	if n == 0 {
		n = 1
	}
	e.periodic = append(e.periodic, periodic{every: n, fn: fn})
}

// Tick returns the number of ticks run so far.
func (e *Engine) Tick() uint64 { return e.tick.Load() }

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done != nil
}

// Start launches the loop in a goroutine. The loop exits when ctx is
// cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done != nil {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done

	go func() {
		defer close(done)
		e.run(ctx)
	}()
	return nil
}

// Stop halts the loop and waits for any in-flight tick to finish. It is
// safe to call on a stopped engine.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (e *Engine) run(ctx context.Context) {
	slog.Debug("engine started", "engine", e.Name, "interval", e.Interval)
	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("engine stopped", "engine", e.Name, "tick", e.Tick())
			return
		case <-ticker.C:
			e.step(ctx)
		}
	}
}

// step advances the engine by one tick.
func (e *Engine) step(ctx context.Context) {
	tick := e.tick.Add(1)

	if e.OnTick != nil {
		e.OnTick(ctx, tick)
	}
	for _, p := range e.periodic {
		if tick%p.every == 0 {
			p.fn(ctx, tick)
		}
	}
}
