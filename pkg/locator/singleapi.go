package locator

import (
	"context"
	"sync"

	"github.com/cuemby/forager/pkg/kv"
	"github.com/cuemby/forager/pkg/log"
	"github.com/cuemby/forager/pkg/metrics"
	"github.com/cuemby/forager/pkg/types"
)

const singleAPIBatchSize = 10

// SingleAPILocator yields a configured set of API endpoints once each,
// with shared request headers. Outcomes are persisted per URL: a
// success clears any standing error record so a later retry pass does
// not pick the URL up again.
type SingleAPILocator struct {
	// Scope namespaces persisted progress.
	Scope string

	// Endpoints are the API URLs to fetch.
	Endpoints []string

	// Headers are attached to every yielded request.
	Headers map[string]string

	state *stateStore

	mu        sync.Mutex
	processed map[string]bool
	pos       int
	loaded    bool
}

func NewSingleAPILocator(store kv.Store, scope string, endpoints []string) *SingleAPILocator {
	return &SingleAPILocator{
		Scope:     scope,
		Endpoints: endpoints,
		state:     newStateStore(store, scope),
	}
}

func (l *SingleAPILocator) Name() string { return "api:" + l.Scope }

func (l *SingleAPILocator) NextURLs(ctx context.Context, run *types.FetchRunContext) ([]types.RequestMeta, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		processed, err := l.state.loadProcessed(ctx)
		if err != nil {
			return nil, err
		}
		l.processed = processed
		l.loaded = true
	}

	var batch []types.RequestMeta
	for len(batch) < singleAPIBatchSize && l.pos < len(l.Endpoints) {
		u := l.Endpoints[l.pos]
		l.pos++
		if l.processed[u] {
			continue
		}
		l.processed[u] = true
		batch = append(batch, types.RequestMeta{URL: u, Headers: l.Headers})
	}
	if len(batch) == 0 {
		return nil, nil
	}

	if err := l.state.saveProcessed(ctx, l.processed); err != nil {
		return nil, err
	}
	metrics.LocatorURLsYielded.WithLabelValues(l.Name()).Add(float64(len(batch)))
	return batch, nil
}

func (l *SingleAPILocator) owns(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed[url]
}

func (l *SingleAPILocator) URLProcessed(ctx context.Context, req types.RequestMeta, refs []types.BundleRef, run *types.FetchRunContext) {
	if !l.owns(req.URL) {
		return
	}
	if err := l.state.recordResult(ctx, req.URL, refs); err != nil {
		log.WithComponent("locator").Error().Err(err).
			Str("url", req.URL).
			Msg("failed to persist result record")
		return
	}
	if len(refs) > 0 {
		l.state.clearError(ctx, req.URL)
	}
}

func (l *SingleAPILocator) URLError(ctx context.Context, req types.RequestMeta, errMsg string) {
	if !l.owns(req.URL) {
		return
	}
	if err := l.state.recordError(ctx, req.URL, errMsg); err != nil {
		log.WithComponent("locator").Error().Err(err).
			Str("url", req.URL).
			Msg("failed to persist error record")
	}
}
