package locator

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/forager/pkg/kv"
	"github.com/cuemby/forager/pkg/types"
)

func newTestStore(t *testing.T) kv.Store {
	t.Helper()
	s := kv.NewMemoryStore(kv.Options{Prefix: "forager"})
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeEntry satisfies fs.FileInfo for directory listing tests.
type fakeEntry struct {
	name  string
	dir   bool
	mtime time.Time
}

func (e fakeEntry) Name() string       { return e.name }
func (e fakeEntry) Size() int64        { return 0 }
func (e fakeEntry) Mode() fs.FileMode  { return 0 }
func (e fakeEntry) ModTime() time.Time { return e.mtime }
func (e fakeEntry) IsDir() bool        { return e.dir }
func (e fakeEntry) Sys() any           { return nil }

type fakeLister struct {
	entries []fs.FileInfo
	calls   int
}

func (f *fakeLister) ListDir(ctx context.Context, path string) ([]fs.FileInfo, error) {
	f.calls++
	return f.entries, nil
}

func drain(t *testing.T, l BundleLocator) []string {
	t.Helper()
	var urls []string
	for {
		batch, err := l.NextURLs(context.Background(), &types.FetchRunContext{})
		require.NoError(t, err)
		if len(batch) == 0 {
			return urls
		}
		for _, req := range batch {
			urls = append(urls, req.URL)
		}
	}
}

func TestDirectoryLocatorListsFiltersAndSorts(t *testing.T) {
	store := newTestStore(t)
	lister := &fakeLister{entries: []fs.FileInfo{
		fakeEntry{name: "20230729_y.txt"},
		fakeEntry{name: "20230725_x.txt"},
		fakeEntry{name: "notes.md"},
		fakeEntry{name: "archive", dir: true},
	}}

	l := NewDirectoryLocator(store, lister, "files.example.com", "/incoming")
	l.Pattern = "*.txt"
	l.FileFilter = func(name string) bool { return name[:8] >= "20230728" }

	urls := drain(t, l)
	require.Equal(t, []string{"sftp://files.example.com/incoming/20230729_y.txt"}, urls)
	assert.Equal(t, 1, lister.calls)
}

func TestDirectoryLocatorBatchesOfTen(t *testing.T) {
	store := newTestStore(t)
	var entries []fs.FileInfo
	for i := 0; i < 25; i++ {
		entries = append(entries, fakeEntry{name: string(rune('a'+i)) + ".csv"})
	}
	l := NewDirectoryLocator(store, &fakeLister{entries: entries}, "h", "/d")

	batch, err := l.NextURLs(context.Background(), &types.FetchRunContext{})
	require.NoError(t, err)
	assert.Len(t, batch, 10)

	assert.Len(t, drain(t, l), 15)
}

func TestDirectoryLocatorResumesWithoutRelisting(t *testing.T) {
	store := newTestStore(t)
	lister := &fakeLister{entries: []fs.FileInfo{
		fakeEntry{name: "a.txt"},
		fakeEntry{name: "b.txt"},
		fakeEntry{name: "c.txt"},
	}}

	first := NewDirectoryLocator(store, lister, "h", "/d")
	batch, err := first.NextURLs(context.Background(), &types.FetchRunContext{})
	require.NoError(t, err)
	require.Len(t, batch, 3)

	// A fresh instance over the same store sees everything processed
	// and never touches the remote again.
	second := NewDirectoryLocator(store, lister, "h", "/d")
	assert.Empty(t, drain(t, second))
	assert.Equal(t, 1, lister.calls)
}

func TestDirectoryLocatorCustomSort(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeLister{entries: []fs.FileInfo{
		fakeEntry{name: "old.txt", mtime: base},
		fakeEntry{name: "new.txt", mtime: base.Add(time.Hour)},
	}}

	l := NewDirectoryLocator(store, lister, "h", "/d")
	l.Less = func(a, b fs.FileInfo) bool { return a.ModTime().After(b.ModTime()) }

	urls := drain(t, l)
	require.Len(t, urls, 2)
	assert.Contains(t, urls[0], "new.txt")
}

func TestFileListLocatorYieldsListMinusProcessed(t *testing.T) {
	store := newTestStore(t)
	list := []string{"http://x/1", "http://x/2", "http://x/3"}

	first := NewFileListLocator(store, "batch1", list)
	assert.Equal(t, list, drain(t, first))

	second := NewFileListLocator(store, "batch1", list)
	assert.Empty(t, drain(t, second))

	// A different scope starts fresh.
	other := NewFileListLocator(store, "batch2", list)
	assert.Len(t, drain(t, other), 3)
}

func TestSingleAPILocatorRecordsOutcomes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	l := NewSingleAPILocator(store, "apis", []string{"http://api/a", "http://api/b"})
	l.Headers = map[string]string{"Accept": "application/json"}

	batch, err := l.NextURLs(ctx, &types.FetchRunContext{})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "application/json", batch[0].Headers["Accept"])

	ref := types.NewBundleRef("http://api/a")
	l.URLProcessed(ctx, batch[0], []types.BundleRef{*ref}, &types.FetchRunContext{})
	l.URLError(ctx, batch[1], "boom")

	var res types.BundleResult
	found, err := store.Get(ctx, "results:apis:"+types.HashURL("http://api/a"), &res)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, res.Success)
	assert.Equal(t, []string{ref.BID}, res.BundleRefs)

	var rec types.ErrorRecord
	found, err = store.Get(ctx, "errors:apis:"+types.HashURL("http://api/b"), &rec)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "boom", rec.ErrorMessage)
	assert.Equal(t, 0, rec.RetryCount)
}

func pageRef(rawURL string, count int, cursor string) types.BundleRef {
	body, _ := json.Marshal(map[string]any{
		"nombre":         count,
		"curseurSuivant": cursor,
	})
	ref := types.NewBundleRef(rawURL)
	ref.Meta["response_body"] = json.RawMessage(body)
	return *ref
}

func newPaginated(t *testing.T, store kv.Store) *PaginatedAPILocator {
	t.Helper()
	l := NewPaginatedAPILocator(store, "https://api.example.com/search", "2024-01-15", "2024-01-17")
	l.MaxRecordsPerPage = 1000
	l.Pagination = PaginationStrategy{
		CursorField: "curseurSuivant",
		CountField:  "nombre",
		MaxRecords:  1000,
	}
	return l
}

func nextOne(t *testing.T, l *PaginatedAPILocator) types.RequestMeta {
	t.Helper()
	batch, err := l.NextURLs(context.Background(), &types.FetchRunContext{})
	require.NoError(t, err)
	require.Len(t, batch, 1)
	return batch[0]
}

func queryOf(t *testing.T, rawURL string) url.Values {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return u.Query()
}

func TestPaginatedLocatorCursorChain(t *testing.T) {
	ctx := context.Background()
	l := newPaginated(t, newTestStore(t))

	req := nextOne(t, l)
	q := queryOf(t, req.URL)
	assert.Equal(t, "1000", q.Get("nombre"))
	assert.Equal(t, "*", q.Get("curseur"))
	assert.Equal(t, "2024-01-15", q.Get("q"))

	// Full page: the next URL carries the returned cursor.
	l.URLProcessed(ctx, req, []types.BundleRef{pageRef(req.URL, 1000, "abc")}, &types.FetchRunContext{})
	req = nextOne(t, l)
	assert.Equal(t, "abc", queryOf(t, req.URL).Get("curseur"))

	// Short page: date advances, cursor resets.
	l.URLProcessed(ctx, req, []types.BundleRef{pageRef(req.URL, 12, "def")}, &types.FetchRunContext{})
	req = nextOne(t, l)
	q = queryOf(t, req.URL)
	assert.Equal(t, "2024-01-16", q.Get("q"))
	assert.Equal(t, "*", q.Get("curseur"))
}

func TestPaginatedLocatorExhaustsAfterDateEnd(t *testing.T) {
	ctx := context.Background()
	l := newPaginated(t, newTestStore(t))

	for _, wantDate := range []string{"2024-01-15", "2024-01-16", "2024-01-17"} {
		req := nextOne(t, l)
		assert.Equal(t, wantDate, queryOf(t, req.URL).Get("q"))
		l.URLProcessed(ctx, req, []types.BundleRef{pageRef(req.URL, 0, "")}, &types.FetchRunContext{})
	}

	batch, err := l.NextURLs(ctx, &types.FetchRunContext{})
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestPaginatedLocatorFailureAdvancesLikeEmptyPage(t *testing.T) {
	ctx := context.Background()
	l := newPaginated(t, newTestStore(t))

	req := nextOne(t, l)
	l.URLProcessed(ctx, req, nil, &types.FetchRunContext{})

	next := nextOne(t, l)
	assert.Equal(t, "2024-01-16", queryOf(t, next.URL).Get("q"))
}

func TestPaginatedLocatorNarrowing(t *testing.T) {
	ctx := context.Background()
	l := newPaginated(t, newTestStore(t))
	narrowings := []string{"siren:1*", "siren:2*", "siren:99"}
	l.NarrowingStrategy = func(current string) string {
		for i, n := range narrowings {
			if current == n && i+1 < len(narrowings) {
				return narrowings[i+1]
			}
		}
		if current == "" {
			return narrowings[0]
		}
		return current
	}
	l.QueryBuilder = func(dateStr, narrowing string) string {
		if narrowing == "" {
			return dateStr
		}
		return dateStr + " AND " + narrowing
	}

	req := nextOne(t, l)
	assert.Equal(t, "2024-01-15", queryOf(t, req.URL).Get("q"))

	// Short pages walk the narrowing sequence, then the date advances
	// once the strategy returns its argument unchanged.
	for _, want := range []string{
		"2024-01-15 AND siren:1*",
		"2024-01-15 AND siren:2*",
		"2024-01-15 AND siren:99",
		"2024-01-16",
	} {
		l.URLProcessed(ctx, req, []types.BundleRef{pageRef(req.URL, 0, "")}, &types.FetchRunContext{})
		req = nextOne(t, l)
		assert.Equal(t, want, queryOf(t, req.URL).Get("q"))
	}
	assert.Equal(t, "*", queryOf(t, req.URL).Get("curseur"))
}

func pageRefWithTotal(rawURL string, count, total int, cursor string) types.BundleRef {
	body, _ := json.Marshal(map[string]any{
		"nombre":         count,
		"total":          total,
		"curseurSuivant": cursor,
	})
	ref := types.NewBundleRef(rawURL)
	ref.Meta["response_body"] = json.RawMessage(body)
	return *ref
}

func TestPaginatedLocatorOverCapTotalNarrows(t *testing.T) {
	ctx := context.Background()
	l := newPaginated(t, newTestStore(t))
	l.Pagination.TotalField = "total"
	l.Pagination.MaxRecords = 20000
	l.NarrowingStrategy = func(current string) string {
		if current == "" {
			return "siren:1*"
		}
		return current
	}
	l.QueryBuilder = func(dateStr, narrowing string) string {
		if narrowing == "" {
			return dateStr
		}
		return dateStr + " AND " + narrowing
	}

	req := nextOne(t, l)

	// Full page with a fresh cursor, but the reported total exceeds the
	// API's record cap: the cursor chain cannot reach the end of the
	// query, so the date narrows instead of chasing the cursor.
	l.URLProcessed(ctx, req, []types.BundleRef{pageRefWithTotal(req.URL, 1000, 30000, "abc")}, &types.FetchRunContext{})
	req = nextOne(t, l)
	q := queryOf(t, req.URL)
	assert.Equal(t, "2024-01-15 AND siren:1*", q.Get("q"))
	assert.Equal(t, "*", q.Get("curseur"))

	// The same page shape under the cap chains the cursor as usual.
	l.URLProcessed(ctx, req, []types.BundleRef{pageRefWithTotal(req.URL, 1000, 5000, "def")}, &types.FetchRunContext{})
	req = nextOne(t, l)
	assert.Equal(t, "def", queryOf(t, req.URL).Get("curseur"))
}

func TestPaginatedLocatorDateFilter(t *testing.T) {
	ctx := context.Background()
	l := newPaginated(t, newTestStore(t))
	l.DateFilter = func(dateStr string) bool { return dateStr != "2024-01-16" }

	req := nextOne(t, l)
	assert.Equal(t, "2024-01-15", queryOf(t, req.URL).Get("q"))

	l.URLProcessed(ctx, req, []types.BundleRef{pageRef(req.URL, 0, "")}, &types.FetchRunContext{})
	req = nextOne(t, l)
	assert.Equal(t, "2024-01-17", queryOf(t, req.URL).Get("q"))
}

func TestPaginatedLocatorResumesFromPersistedState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := newPaginated(t, store)
	req := nextOne(t, first)
	first.URLProcessed(ctx, req, []types.BundleRef{pageRef(req.URL, 1000, "abc")}, &types.FetchRunContext{})

	// A fresh instance resumes at the persisted cursor, not day one.
	second := newPaginated(t, store)
	resumed := nextOne(t, second)
	q := queryOf(t, resumed.URL)
	assert.Equal(t, "2024-01-15", q.Get("q"))
	assert.Equal(t, "abc", q.Get("curseur"))
}

func TestGapFillLocatorWalksBackward(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	l := NewGapFillLocator(store, "https://api.example.com/search", "2024-01-15", "2024-01-17")
	l.MaxRecordsPerPage = 1000
	l.Pagination = PaginationStrategy{CursorField: "curseurSuivant", CountField: "nombre"}

	for _, wantDate := range []string{"2024-01-17", "2024-01-16", "2024-01-15"} {
		req := nextOne(t, l)
		assert.Equal(t, wantDate, queryOf(t, req.URL).Get("q"))
		l.URLProcessed(ctx, req, []types.BundleRef{pageRef(req.URL, 0, "")}, &types.FetchRunContext{})
	}

	batch, err := l.NextURLs(ctx, &types.FetchRunContext{})
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestRetryLocatorReplaysErrorRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seed := newStateStore(store, "apis")
	require.NoError(t, seed.recordError(ctx, "http://api/fail1", "timeout"))
	require.NoError(t, seed.recordError(ctx, "http://api/fail2", "boom"))
	// Bump fail2 past the retry cap.
	for i := 0; i < 3; i++ {
		require.NoError(t, seed.recordError(ctx, "http://api/fail2", "boom"))
	}

	l := NewRetryLocator(store, "apis", 3)
	urls := drain(t, l)
	assert.Equal(t, []string{"http://api/fail1"}, urls)

	// Success clears the record; a second pass finds nothing.
	ref := types.NewBundleRef("http://api/fail1")
	l.URLProcessed(ctx, types.RequestMeta{URL: "http://api/fail1"}, []types.BundleRef{*ref}, &types.FetchRunContext{})

	again := NewRetryLocator(store, "apis", 3)
	assert.Empty(t, drain(t, again))
}

func TestStateStoreRetryCountIncrements(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	s := newStateStore(store, "sc")

	require.NoError(t, s.recordError(ctx, "http://x", "first"))
	require.NoError(t, s.recordError(ctx, "http://x", "second"))

	records, err := s.errorRecords(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].RetryCount)
	assert.Equal(t, "second", records[0].ErrorMessage)
}
