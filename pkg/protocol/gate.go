package protocol

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/forager/pkg/kv"
	"github.com/cuemby/forager/pkg/log"
)

// Gate delays execution until a schedule predicate is satisfied. Gates
// are evaluated in order by the SFTP manager before each operation.
type Gate interface {
	// Wait blocks until the gate opens or ctx is cancelled.
	Wait(ctx context.Context) error

	// RecordSuccess marks a successful gated execution.
	RecordSuccess(ctx context.Context)
}

// sleepUntil sleeps until t or ctx cancellation.
func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScheduledDailyGate blocks until the next occurrence of a wall-clock
// time of day. When StartupSkipIfRanToday is set and a successful
// execution has already been recorded today, the gate waits for
// tomorrow's occurrence instead of catching up immediately.
type ScheduledDailyGate struct {
	// TimeOfDay is "HH:MM" in Location.
	TimeOfDay string
	Location  *time.Location

	StartupSkipIfRanToday bool

	// Store persists the last-success date under StateKey. Nil keeps
	// the record in memory only.
	Store    kv.Store
	StateKey string

	mu          sync.Mutex
	lastSuccess string // YYYY-MM-DD in Location
}

func (g *ScheduledDailyGate) loc() *time.Location {
	if g.Location == nil {
		return time.UTC
	}
	return g.Location
}

func (g *ScheduledDailyGate) ranToday(ctx context.Context, today string) bool {
	g.mu.Lock()
	last := g.lastSuccess
	g.mu.Unlock()
	if last == "" && g.Store != nil {
		if ok, err := g.Store.Get(ctx, g.stateKey(), &last); err != nil || !ok {
			return false
		}
	}
	return last == today
}

func (g *ScheduledDailyGate) stateKey() string {
	if g.StateKey != "" {
		return g.StateKey
	}
	return "gate:daily:last_success"
}

func (g *ScheduledDailyGate) Wait(ctx context.Context) error {
	var hour, min int
	if _, err := fmt.Sscanf(g.TimeOfDay, "%d:%d", &hour, &min); err != nil {
		return fmt.Errorf("invalid time of day %q: %w", g.TimeOfDay, err)
	}

	now := time.Now().In(g.loc())
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, g.loc())
	today := now.Format("2006-01-02")

	if now.After(target) {
		// Past today's slot: catch up now unless we already ran today.
		if !(g.StartupSkipIfRanToday && g.ranToday(ctx, today)) {
			return nil
		}
		target = target.AddDate(0, 0, 1)
	}

	log.WithComponent("gate").Info().
		Time("until", target).
		Msg("daily gate waiting")
	return sleepUntil(ctx, target)
}

func (g *ScheduledDailyGate) RecordSuccess(ctx context.Context) {
	today := time.Now().In(g.loc()).Format("2006-01-02")
	g.mu.Lock()
	g.lastSuccess = today
	g.mu.Unlock()
	if g.Store != nil {
		// 48h covers the next startup check.
		_ = g.Store.Put(ctx, g.stateKey(), today, 48*time.Hour)
	}
}

// OncePerIntervalGate spaces successive executions at least Interval
// apart, plus uniform random jitter in [0, Jitter].
type OncePerIntervalGate struct {
	Interval time.Duration
	Jitter   time.Duration

	mu      sync.Mutex
	lastRun time.Time
}

func (g *OncePerIntervalGate) Wait(ctx context.Context) error {
	// The mutex is held across the sleep: a waiter admitted while
	// another sleeps would compute its slot from a stale lastRun and
	// start inside the interval.
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.lastRun.IsZero() {
		target := g.lastRun.Add(g.Interval)
		if g.Jitter > 0 {
			target = target.Add(time.Duration(rand.Int63n(int64(g.Jitter) + 1)))
		}
		if err := sleepUntil(ctx, target); err != nil {
			return err
		}
	}

	// Executions are spaced from start to start.
	g.lastRun = time.Now()
	return nil
}

func (g *OncePerIntervalGate) RecordSuccess(ctx context.Context) {}
