package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/forager/pkg/loader"
	"github.com/cuemby/forager/pkg/locator"
	"github.com/cuemby/forager/pkg/log"
	"github.com/cuemby/forager/pkg/metrics"
	"github.com/cuemby/forager/pkg/storage"
	"github.com/cuemby/forager/pkg/types"
)

const (
	defaultConcurrency = 4

	// dequeueTimeout is how long an idle worker waits before taking the
	// locator mutex to poll for more work or declare termination.
	dequeueTimeout = 5 * time.Second
)

// Recipe pairs one loader with the locators that feed it.
type Recipe struct {
	Loader   loader.BundleLoader
	Locators []locator.BundleLocator
}

// Fetcher drives a run: workers pull requests from a bounded queue,
// load them through the recipe's loader into the sink, and report
// outcomes back to the locators. One mutex serializes all locator
// access; locator state is not required to be thread-safe.
type Fetcher struct {
	recipe Recipe
	sink   storage.Sink

	// dequeueTimeout is shortened in tests.
	dequeueTimeout time.Duration
}

func New(recipe Recipe, sink storage.Sink) *Fetcher {
	return &Fetcher{recipe: recipe, sink: sink, dequeueTimeout: dequeueTimeout}
}

// Run executes the plan to exhaustion and returns a summary. The run
// terminates when the queue is empty and no locator yields more work,
// or when ctx is cancelled. Per-request failures are collected, not
// fatal.
func (f *Fetcher) Run(ctx context.Context, plan types.FetchPlan) (*types.FetchResult, error) {
	concurrency := plan.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	runCtx := plan.Context
	if runCtx == nil {
		runCtx = &types.FetchRunContext{RunID: uuid.NewString()}
	}
	if runCtx.RunID == "" {
		runCtx.RunID = uuid.NewString()
	}

	r := &run{
		recipe:  f.recipe,
		sink:    f.sink,
		runCtx:  runCtx,
		doneCh:  make(chan struct{}),
		timeout: f.dequeueTimeout,
	}
	if r.timeout <= 0 {
		r.timeout = dequeueTimeout
	}

	// Seed the queue with the plan's requests plus one initial poll of
	// every locator, sizing the queue so seeding cannot block.
	seed := append([]types.RequestMeta{}, plan.InitialRequests...)
	for _, loc := range f.recipe.Locators {
		batch, err := loc.NextURLs(ctx, runCtx)
		if err != nil {
			r.errors = append(r.errors, fmt.Sprintf("locator %s: %v", loc.Name(), err))
			continue
		}
		seed = append(seed, batch...)
	}
	capacity := concurrency
	if len(seed) > capacity {
		capacity = len(seed)
	}
	r.queue = make(chan types.RequestMeta, capacity)
	for _, req := range seed {
		r.queue <- req
	}

	log.WithRunID(runCtx.RunID).Info().
		Int("concurrency", concurrency).
		Int("seeded", len(seed)).
		Int("locators", len(f.recipe.Locators)).
		Msg("starting fetch run")

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.worker(ctx, id)
		}(i)
	}
	wg.Wait()

	result := &types.FetchResult{
		ProcessedCount: r.processed,
		Errors:         r.errors,
		Context:        runCtx,
	}
	log.WithRunID(runCtx.RunID).Info().
		Int("processed", result.ProcessedCount).
		Int("errors", len(result.Errors)).
		Msg("fetch run complete")
	return result, ctx.Err()
}

type run struct {
	recipe  Recipe
	sink    storage.Sink
	queue   chan types.RequestMeta
	runCtx  *types.FetchRunContext
	timeout time.Duration

	doneOnce sync.Once
	doneCh   chan struct{}

	// mu is the locator mutex; it also guards the counters below.
	mu        sync.Mutex
	errors    []string
	processed int
	inFlight  int
}

func (r *run) latchDone() {
	r.doneOnce.Do(func() { close(r.doneCh) })
}

func (r *run) isDone() bool {
	select {
	case <-r.doneCh:
		return true
	default:
		return false
	}
}

func (r *run) worker(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}
		metrics.QueueDepth.Set(float64(len(r.queue)))

		// Drain available work before considering termination, so the
		// done latch cannot race a pending request out of the queue.
		select {
		case req := <-r.queue:
			r.process(ctx, req)
			continue
		default:
		}
		if r.isDone() {
			return
		}

		timer := time.NewTimer(r.timeout)
		select {
		case req := <-r.queue:
			timer.Stop()
			r.process(ctx, req)
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.doneCh:
			timer.Stop()
		case <-timer.C:
			if len(r.queue) > 0 {
				continue
			}
			r.refill(ctx, id)
		}
	}
}

// refill polls every locator once under the locator mutex. When the
// queue is still empty and no locator yields anything, the run is
// declared complete. The polled batch is handed off only after the
// mutex is released: process needs the mutex to finish, so a blocking
// send held under it would wedge every worker once the queue fills.
func (r *run) refill(ctx context.Context, id int) {
	r.mu.Lock()

	if len(r.queue) > 0 || r.isDone() {
		r.mu.Unlock()
		return
	}

	var batch []types.RequestMeta
	for _, loc := range r.recipe.Locators {
		urls, err := loc.NextURLs(ctx, r.runCtx)
		if err != nil {
			metrics.FetchErrors.WithLabelValues("locator").Inc()
			r.errors = append(r.errors, fmt.Sprintf("locator %s: %v", loc.Name(), err))
			continue
		}
		batch = append(batch, urls...)
	}
	// A request still being loaded may produce follow-up work in its
	// completion callback, so termination waits for the queue, the
	// locators, and the in-flight count to all drain.
	if len(batch) == 0 && r.inFlight == 0 {
		log.WithRunID(r.runCtx.RunID).Debug().
			Int("worker", id).
			Msg("all locators exhausted, terminating")
		r.latchDone()
	}
	r.mu.Unlock()

	for _, req := range batch {
		if ctx.Err() != nil {
			return
		}
		select {
		case r.queue <- req:
		default:
			// The queue is full and the batch may exceed its free
			// capacity; work the overflow off directly so the handoff
			// never blocks.
			r.process(ctx, req)
		}
	}
}

func (r *run) process(ctx context.Context, req types.RequestMeta) {
	r.mu.Lock()
	r.inFlight++
	r.mu.Unlock()

	refs, err := r.recipe.Loader.Load(ctx, req, r.sink, r.runCtx)

	outcome := "success"
	if err != nil {
		outcome = "error"
		metrics.FetchErrors.WithLabelValues("loader").Inc()
		log.WithRunID(r.runCtx.RunID).Error().Err(err).
			Str("url", req.URL).
			Msg("failed to load request")
	}
	metrics.RequestsProcessed.WithLabelValues(outcome).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.errors = append(r.errors, fmt.Sprintf("%s: %v", req.URL, err))
		for _, loc := range r.recipe.Locators {
			if eh, ok := loc.(locator.ErrorHandler); ok {
				eh.URLError(ctx, req, err.Error())
			}
		}
	}
	for _, loc := range r.recipe.Locators {
		if ch, ok := loc.(locator.CompletionHandler); ok {
			ch.URLProcessed(ctx, req, refs, r.runCtx)
		}
	}
	r.processed++
	r.inFlight--
}
