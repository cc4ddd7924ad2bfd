package protocol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/forager/pkg/kv"
)

func TestOncePerIntervalGateSpacing(t *testing.T) {
	g := &OncePerIntervalGate{Interval: 50 * time.Millisecond}
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, g.Wait(ctx)) // first execution is immediate
	require.NoError(t, g.Wait(ctx))
	require.NoError(t, g.Wait(ctx))

	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestOncePerIntervalGateConcurrentWaiters(t *testing.T) {
	g := &OncePerIntervalGate{Interval: 80 * time.Millisecond}
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Wait(ctx))
		}()
	}
	wg.Wait()

	// Two waiters racing from a cold gate: the first is immediate, the
	// second must still be held a full interval behind it.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestOncePerIntervalGateCancellation(t *testing.T) {
	g := &OncePerIntervalGate{Interval: time.Hour}
	ctx := context.Background()
	require.NoError(t, g.Wait(ctx))

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := g.Wait(cancelCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduledDailyGateCatchUp(t *testing.T) {
	// Midnight has always passed: a slot earlier today that has not
	// run yet opens immediately.
	g := &ScheduledDailyGate{
		TimeOfDay: "00:00",
		Location:  time.UTC,
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("gate did not open for a missed slot")
	}
}

func TestScheduledDailyGateSkipIfRanToday(t *testing.T) {
	store := kv.NewMemoryStore(kv.Options{})
	defer store.Close()

	g := &ScheduledDailyGate{
		TimeOfDay:             "00:00",
		Location:              time.UTC,
		StartupSkipIfRanToday: true,
		Store:                 store,
	}
	ctx := context.Background()
	g.RecordSuccess(ctx)

	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := g.Wait(cancelCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded,
		"a slot already run today must wait for tomorrow")
}

func TestScheduledDailyGateInvalidTime(t *testing.T) {
	g := &ScheduledDailyGate{TimeOfDay: "not-a-time"}
	assert.Error(t, g.Wait(context.Background()))
}
