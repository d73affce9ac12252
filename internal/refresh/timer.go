package refresh

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// TimerOptions controls a TimerState's ticks.
type TimerOptions struct {
	// AllowOverlap runs every tick even when the previous one is still busy.
	AllowOverlap bool
	Logger       *slog.Logger
}

// TimerState owns at most one recurring refresh loop. The zero value is
// ready to use and skips overlapping ticks.
type TimerState struct {
	opts TimerOptions

	mu     sync.Mutex
	handle *timerHandle
}

type timerHandle struct {
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
}

// NewTimerState creates a TimerState with options.
func NewTimerState(opts TimerOptions) *TimerState {
	return &TimerState{opts: opts}
}

// Running reports whether a loop is scheduled.
func (ts *TimerState) Running() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.handle != nil
}

// StartRecurring schedules task every interval, the first run one interval
// from now. It returns false when a loop already exists or interval <= 0.
func StartRecurring(ctx context.Context, ts *TimerState, task func(ctx context.Context), interval time.Duration) bool {
	if interval <= 0 || task == nil {
		return false
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.handle != nil {
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h := &timerHandle{
		cancel:   cancel,
		done:     make(chan struct{}),
		interval: interval,
	}
	ts.handle = h

	go ts.run(loopCtx, h, task)

	ts.logger().Info("auto refresh started", "interval", interval)
	return true
}

// StopRecurring cancels the loop and waits for it to exit. Ticks already in
// flight see a cancelled context. It returns false when nothing was running.
func StopRecurring(ts *TimerState) bool {
	ts.mu.Lock()
	h := ts.handle
	ts.handle = nil
	ts.mu.Unlock()

	if h == nil {
		return false
	}

	h.cancel()
	<-h.done

	ts.logger().Info("auto refresh stopped")
	return true
}

func (ts *TimerState) run(ctx context.Context, h *timerHandle, task func(ctx context.Context)) {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var busy atomic.Bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !ts.opts.AllowOverlap && !busy.CompareAndSwap(false, true) {
				ts.logger().Debug("previous refresh still running, skipping tick")
				continue
			}
			go func() {
				defer busy.Store(false)
				defer func() {
					if r := recover(); r != nil {
						ts.logger().Error("auto refresh tick panicked", "panic", r)
					}
				}()
				task(ctx)
			}()
		}
	}
}

func (ts *TimerState) logger() *slog.Logger {
	if ts.opts.Logger != nil {
		return ts.opts.Logger
	}
	return slog.Default()
}
