package locator

import (
	"context"
	"sync"

	"github.com/cuemby/forager/pkg/kv"
	"github.com/cuemby/forager/pkg/log"
	"github.com/cuemby/forager/pkg/metrics"
	"github.com/cuemby/forager/pkg/types"
)

const retryBatchSize = 10

// RetryLocator feeds persisted failure records back into a run. It
// scans the error records of another locator's scope once, yields the
// URLs whose retry count is still under the cap, and clears the record
// when a retry succeeds. Failed retries go through the usual error
// path, which bumps the retry count for the next pass.
type RetryLocator struct {
	// Scope selects whose error records to replay.
	Scope string

	// MaxRetryCount caps replays; records at or above it are dropped.
	MaxRetryCount int

	// Headers are attached to every yielded request.
	Headers map[string]string

	state *stateStore

	mu      sync.Mutex
	queue   []types.RequestMeta
	yielded map[string]bool
	scanned bool
}

func NewRetryLocator(store kv.Store, scope string, maxRetryCount int) *RetryLocator {
	return &RetryLocator{
		Scope:         scope,
		MaxRetryCount: maxRetryCount,
		state:         newStateStore(store, scope),
	}
}

func (l *RetryLocator) Name() string { return "retry:" + l.Scope }

func (l *RetryLocator) NextURLs(ctx context.Context, run *types.FetchRunContext) ([]types.RequestMeta, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.scanned {
		records, err := l.state.errorRecords(ctx, 0)
		if err != nil {
			return nil, err
		}
		skipped := 0
		for _, rec := range records {
			if rec.RetryCount >= l.MaxRetryCount {
				skipped++
				continue
			}
			l.queue = append(l.queue, types.RequestMeta{URL: rec.URL, Headers: l.Headers})
		}
		l.scanned = true
		log.WithComponent("locator").Info().
			Str("locator", l.Name()).
			Int("queued", len(l.queue)).
			Int("over_limit", skipped).
			Msg("scanned error records for retry")
	}

	n := retryBatchSize
	if n > len(l.queue) {
		n = len(l.queue)
	}
	if n == 0 {
		return nil, nil
	}
	batch := l.queue[:n]
	l.queue = l.queue[n:]
	if l.yielded == nil {
		l.yielded = make(map[string]bool, n)
	}
	for _, req := range batch {
		l.yielded[req.URL] = true
	}
	metrics.LocatorURLsYielded.WithLabelValues(l.Name()).Add(float64(n))
	return batch, nil
}

func (l *RetryLocator) owns(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.yielded[url]
}

func (l *RetryLocator) URLProcessed(ctx context.Context, req types.RequestMeta, refs []types.BundleRef, run *types.FetchRunContext) {
	if !l.owns(req.URL) || len(refs) == 0 {
		return
	}
	if err := l.state.recordResult(ctx, req.URL, refs); err != nil {
		log.WithComponent("locator").Error().Err(err).
			Str("url", req.URL).
			Msg("failed to persist result record")
	}
	l.state.clearError(ctx, req.URL)
}

func (l *RetryLocator) URLError(ctx context.Context, req types.RequestMeta, errMsg string) {
	if !l.owns(req.URL) {
		return
	}
	if err := l.state.recordError(ctx, req.URL, errMsg); err != nil {
		log.WithComponent("locator").Error().Err(err).
			Str("url", req.URL).
			Msg("failed to persist error record")
	}
}
