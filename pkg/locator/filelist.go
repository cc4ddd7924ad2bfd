package locator

import (
	"context"
	"sync"

	"github.com/cuemby/forager/pkg/kv"
	"github.com/cuemby/forager/pkg/metrics"
	"github.com/cuemby/forager/pkg/types"
)

const fileListBatchSize = 10

// FileListLocator yields a fixed list of URLs, minus those already in
// the persisted processed set. It is the simplest resumable locator:
// re-running with the same scope picks up only the remainder.
type FileListLocator struct {
	// Scope namespaces persisted progress. Distinct lists need
	// distinct scopes.
	Scope string

	// URLs is the fixed work list, yielded in order.
	URLs []string

	state *stateStore

	mu        sync.Mutex
	processed map[string]bool
	pos       int
	loaded    bool
}

func NewFileListLocator(store kv.Store, scope string, urls []string) *FileListLocator {
	return &FileListLocator{
		Scope: scope,
		URLs:  urls,
		state: newStateStore(store, scope),
	}
}

func (l *FileListLocator) Name() string { return "filelist:" + l.Scope }

func (l *FileListLocator) NextURLs(ctx context.Context, run *types.FetchRunContext) ([]types.RequestMeta, error) {
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
	for len(batch) < fileListBatchSize && l.pos < len(l.URLs) {
		u := l.URLs[l.pos]
		l.pos++
		if l.processed[u] {
			continue
		}
		l.processed[u] = true
		batch = append(batch, types.RequestMeta{URL: u})
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

func (l *FileListLocator) owns(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed[url]
}

func (l *FileListLocator) URLProcessed(ctx context.Context, req types.RequestMeta, refs []types.BundleRef, run *types.FetchRunContext) {
	if !l.owns(req.URL) {
		return
	}
	l.state.recordResult(ctx, req.URL, refs)
}

func (l *FileListLocator) URLError(ctx context.Context, req types.RequestMeta, errMsg string) {
	if !l.owns(req.URL) {
		return
	}
	l.state.recordError(ctx, req.URL, errMsg)
}
