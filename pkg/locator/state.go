package locator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/forager/pkg/kv"
	"github.com/cuemby/forager/pkg/types"
)

// Retention windows for persisted locator state. Progress keys expire
// after a week of inactivity, results are kept a month for audit, and
// error records a day so retries stay fresh.
const (
	ttlProgress = 7 * 24 * time.Hour
	ttlResults  = 30 * 24 * time.Hour
	ttlErrors   = 24 * time.Hour
)

// stateStore wraps a kv.Store with the locator key layout:
//
//	processed_urls[:<scope>]      set of handled URLs
//	file_queue:<scope>            remaining discovered work
//	state:<scope>                 cursor / date / narrowing position
//	results:<scope>:<hash(url)>   per-URL outcome
//	errors:<scope>:<hash(url)>    per-URL failure record
//
// The store's own prefix supplies the leading namespace. scope keeps
// independent locator instances from sharing progress.
type stateStore struct {
	kv    kv.Store
	scope string
}

func newStateStore(store kv.Store, scope string) *stateStore {
	return &stateStore{kv: store, scope: scope}
}

func (s *stateStore) processedKey() string {
	if s.scope == "" {
		return "processed_urls"
	}
	return "processed_urls:" + s.scope
}

func (s *stateStore) queueKey() string { return "file_queue:" + s.scope }
func (s *stateStore) stateKey() string { return "state:" + s.scope }

func (s *stateStore) resultKey(url string) string {
	return "results:" + s.scope + ":" + types.HashURL(url)
}
func (s *stateStore) errorKey(url string) string {
	return "errors:" + s.scope + ":" + types.HashURL(url)
}

func (s *stateStore) loadProcessed(ctx context.Context) (map[string]bool, error) {
	var urls []string
	if _, err := s.kv.Get(ctx, s.processedKey(), &urls); err != nil {
		return nil, fmt.Errorf("failed to load processed set: %w", err)
	}
	set := make(map[string]bool, len(urls))
	for _, u := range urls {
		set[u] = true
	}
	return set, nil
}

func (s *stateStore) saveProcessed(ctx context.Context, set map[string]bool) error {
	urls := make([]string, 0, len(set))
	for u := range set {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return s.kv.Put(ctx, s.processedKey(), urls, ttlProgress)
}

func (s *stateStore) loadQueue(ctx context.Context) ([]string, bool, error) {
	var queue []string
	found, err := s.kv.Get(ctx, s.queueKey(), &queue)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load queue: %w", err)
	}
	return queue, found, nil
}

func (s *stateStore) saveQueue(ctx context.Context, queue []string) error {
	if queue == nil {
		queue = []string{}
	}
	return s.kv.Put(ctx, s.queueKey(), queue, ttlProgress)
}

func (s *stateStore) loadState(ctx context.Context) (types.LocatorState, bool, error) {
	var st types.LocatorState
	found, err := s.kv.Get(ctx, s.stateKey(), &st)
	if err != nil {
		return st, false, fmt.Errorf("failed to load locator state: %w", err)
	}
	return st, found, nil
}

func (s *stateStore) saveState(ctx context.Context, st types.LocatorState) error {
	st.LastUpdated = time.Now()
	return s.kv.Put(ctx, s.stateKey(), st, ttlProgress)
}

func (s *stateStore) recordResult(ctx context.Context, url string, refs []types.BundleRef) error {
	res := types.BundleResult{
		URL:         url,
		Timestamp:   time.Now(),
		Success:     len(refs) > 0,
		BundleCount: len(refs),
	}
	for _, ref := range refs {
		res.BundleRefs = append(res.BundleRefs, ref.BID)
	}
	return s.kv.Put(ctx, s.resultKey(url), res, ttlResults)
}

// recordError persists a failure record, incrementing the retry count
// of any existing record for the same URL.
func (s *stateStore) recordError(ctx context.Context, url, errMsg string) error {
	key := s.errorKey(url)
	var prev types.ErrorRecord
	found, err := s.kv.Get(ctx, key, &prev)
	if err != nil {
		return err
	}
	rec := types.ErrorRecord{
		URL:          url,
		ErrorMessage: errMsg,
		Timestamp:    time.Now(),
	}
	if found {
		rec.RetryCount = prev.RetryCount + 1
	}
	return s.kv.Put(ctx, key, rec, ttlErrors)
}

func (s *stateStore) clearError(ctx context.Context, url string) error {
	_, err := s.kv.Delete(ctx, s.errorKey(url))
	return err
}

// errorRecords returns all persisted failure records for this scope.
func (s *stateStore) errorRecords(ctx context.Context, limit int) ([]types.ErrorRecord, error) {
	start := "errors:" + s.scope + ":"
	pairs, err := s.kv.RangeGet(ctx, start, start+"~", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan error records: %w", err)
	}
	records := make([]types.ErrorRecord, 0, len(pairs))
	for _, p := range pairs {
		var rec types.ErrorRecord
		if err := s.kv.DecodeInto(p.Value, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
