package locator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuemby/forager/pkg/kv"
	"github.com/cuemby/forager/pkg/log"
	"github.com/cuemby/forager/pkg/metrics"
	"github.com/cuemby/forager/pkg/types"
)

const (
	paginatedBatchSize = 5

	// CursorStart is the sentinel meaning "start of the page sequence
	// for the current date".
	CursorStart = "*"

	dateLayout = "2006-01-02"
)

// PaginationStrategy names the fields of the API's JSON envelope that
// drive cursor pagination.
type PaginationStrategy struct {
	// CursorField holds the opaque cursor for the next page.
	CursorField string `json:"cursor_field"`

	// TotalField holds the total record count for the query, when the
	// API reports one.
	TotalField string `json:"total_field"`

	// CountField holds the record count of this page.
	CountField string `json:"count_field"`

	// MaxRecords is the API's hard cap on records per query; a date
	// whose total exceeds it needs narrowing.
	MaxRecords int `json:"max_records"`
}

// PaginatedAPILocator walks a cursor-paginated, date-partitioned API.
// For each date it issues queries carrying the page size, the current
// cursor, and a date-derived query string; full pages continue the
// cursor chain, short or empty pages move to the next narrowing (or the
// next date when narrowing is done). Position survives restarts: the
// persisted {date, cursor, narrowing} triple regenerates the next URL.
type PaginatedAPILocator struct {
	// BaseURL is the endpoint queried with pagination parameters.
	BaseURL string

	// DateStart and DateEnd bound the date walk, inclusive, in
	// YYYY-MM-DD form. Empty DateEnd means today.
	DateStart string
	DateEnd   string

	// MaxRecordsPerPage is sent as the page size and compared against
	// each response's record count to detect full pages.
	MaxRecordsPerPage int

	// RateLimitRPS caps URL production. Zero disables the cap.
	RateLimitRPS float64

	// QueryParams are fixed parameters added to every URL.
	QueryParams map[string]string

	// Headers are attached to every yielded request.
	Headers map[string]string

	// DateFilter skips dates it rejects. Nil accepts all.
	DateFilter func(dateStr string) bool

	// QueryBuilder derives the q parameter from the current date and
	// narrowing. Nil uses the date string itself.
	QueryBuilder func(dateStr, narrowing string) string

	// NarrowingStrategy subdivides an over-cap date into narrower
	// queries. It returns the next narrowing, or its argument unchanged
	// when the date is done. Nil means dates are never narrowed.
	NarrowingStrategy func(current string) string

	// Pagination names the response fields driving the cursor chain.
	Pagination PaginationStrategy

	// Backward walks dates from DateEnd down to DateStart, for
	// backfilling historical gaps.
	Backward bool

	// Scope namespaces persisted state. Set it before first use;
	// defaults to a hash of BaseURL.
	Scope string

	store   kv.Store
	state   *stateStore
	limiter *rate.Limiter

	mu          sync.Mutex
	cur         types.LocatorState
	pending     []string
	processed   map[string]bool
	exhausted   bool
	initialized bool
}

// NewPaginatedAPILocator builds a forward date-walking locator.
func NewPaginatedAPILocator(store kv.Store, baseURL, dateStart, dateEnd string) *PaginatedAPILocator {
	return &PaginatedAPILocator{
		BaseURL:   baseURL,
		DateStart: dateStart,
		DateEnd:   dateEnd,
		store:     store,
	}
}

// NewGapFillLocator builds a locator walking the same date range
// backward from dateEnd, used to backfill gaps in historical data.
func NewGapFillLocator(store kv.Store, baseURL, dateStart, dateEnd string) *PaginatedAPILocator {
	l := NewPaginatedAPILocator(store, baseURL, dateStart, dateEnd)
	l.Backward = true
	return l
}

func (l *PaginatedAPILocator) scope() string {
	if l.Scope == "" {
		l.Scope = types.HashURL(l.BaseURL)
	}
	return l.Scope
}

func (l *PaginatedAPILocator) Name() string {
	if l.Backward {
		return "gapfill:" + l.scope()
	}
	return "paginated:" + l.scope()
}

func (l *PaginatedAPILocator) NextURLs(ctx context.Context, run *types.FetchRunContext) ([]types.RequestMeta, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized {
		if err := l.initialize(ctx); err != nil {
			return nil, err
		}
	}
	if l.exhausted {
		return nil, nil
	}

	var batch []types.RequestMeta
	for len(batch) < paginatedBatchSize && len(l.pending) > 0 {
		if l.limiter != nil && !l.limiter.Allow() {
			break
		}
		u := l.pending[0]
		l.pending = l.pending[1:]
		if l.processed[u] {
			continue
		}
		l.processed[u] = true
		batch = append(batch, types.RequestMeta{URL: u, Headers: l.Headers})
	}
	if len(batch) == 0 {
		return nil, nil
	}

	l.cur.LastRequestTime = float64(time.Now().UnixNano()) / float64(time.Second)
	if err := l.state.saveProcessed(ctx, l.processed); err != nil {
		return nil, err
	}
	if err := l.state.saveState(ctx, l.cur); err != nil {
		return nil, err
	}
	metrics.LocatorURLsYielded.WithLabelValues(l.Name()).Add(float64(len(batch)))
	return batch, nil
}

func (l *PaginatedAPILocator) initialize(ctx context.Context) error {
	l.state = newStateStore(l.store, l.scope())
	if l.RateLimitRPS > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(l.RateLimitRPS), 1)
	}
	if l.MaxRecordsPerPage <= 0 {
		l.MaxRecordsPerPage = 1000
	}

	processed, err := l.state.loadProcessed(ctx)
	if err != nil {
		return err
	}
	l.processed = processed

	st, found, err := l.state.loadState(ctx)
	if err != nil {
		return err
	}
	if found && st.Initialized {
		l.cur = st
		log.WithComponent("locator").Info().
			Str("locator", l.Name()).
			Str("date", st.CurrentDate).
			Str("cursor", st.CurrentCursor).
			Msg("resumed pagination state")
	} else {
		start, err := l.startDate()
		if err != nil {
			return err
		}
		date, ok := l.firstAcceptedDate(start)
		if !ok {
			l.exhausted = true
			l.initialized = true
			return nil
		}
		l.cur = types.LocatorState{
			CurrentDate:   date.Format(dateLayout),
			CurrentCursor: CursorStart,
			Initialized:   true,
		}
		if err := l.state.saveState(ctx, l.cur); err != nil {
			return err
		}
	}

	if !l.inRange(l.cur.CurrentDate) {
		l.exhausted = true
	} else {
		l.enqueueCurrent()
	}
	l.initialized = true
	return nil
}

// URLProcessed drives the pagination state machine: a full page with a
// fresh cursor continues the chain, anything else moves to the next
// narrowing or date. A query whose reported total exceeds the API's
// record cap can never be paged to completion, so it narrows
// immediately instead of chasing the cursor. Failures (empty refs) are
// treated like empty pages so one broken page cannot wedge the walk.
func (l *PaginatedAPILocator) URLProcessed(ctx context.Context, req types.RequestMeta, refs []types.BundleRef, run *types.FetchRunContext) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil || !l.processed[req.URL] {
		return
	}

	if err := l.state.recordResult(ctx, req.URL, refs); err != nil {
		log.WithComponent("locator").Error().Err(err).
			Str("url", req.URL).
			Msg("failed to persist result record")
	}

	count, total, nextCursor := l.parsePage(refs)
	overCap := l.Pagination.MaxRecords > 0 && total > l.Pagination.MaxRecords
	if !overCap && count >= l.MaxRecordsPerPage && nextCursor != "" && nextCursor != l.cur.CurrentCursor {
		l.cur.CurrentCursor = nextCursor
		l.enqueueCurrent()
	} else {
		l.advance()
	}

	if err := l.state.saveState(ctx, l.cur); err != nil {
		log.WithComponent("locator").Error().Err(err).
			Str("locator", l.Name()).
			Msg("failed to persist pagination state")
	}
}

func (l *PaginatedAPILocator) URLError(ctx context.Context, req types.RequestMeta, errMsg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil || !l.processed[req.URL] {
		return
	}
	if err := l.state.recordError(ctx, req.URL, errMsg); err != nil {
		log.WithComponent("locator").Error().Err(err).
			Str("url", req.URL).
			Msg("failed to persist error record")
	}
}

// parsePage extracts the record count, reported query total, and next
// cursor from the captured response body of the primary bundle. Missing
// body or fields read as an empty page.
func (l *PaginatedAPILocator) parsePage(refs []types.BundleRef) (count, total int, cursor string) {
	if len(refs) == 0 {
		return 0, 0, ""
	}
	raw, ok := refs[0].Meta["response_body"]
	if !ok {
		return 0, 0, ""
	}

	var data []byte
	switch v := raw.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return 0, 0, ""
	}

	var envelope map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		return 0, 0, ""
	}

	if f, ok := envelope[l.Pagination.CountField].(float64); ok {
		count = int(f)
	} else if records, ok := envelope[l.Pagination.CountField].([]any); ok {
		count = len(records)
	}
	if f, ok := envelope[l.Pagination.TotalField].(float64); ok {
		total = int(f)
	}

	cursor, _ = envelope[l.Pagination.CursorField].(string)
	return count, total, cursor
}

// advance moves to the next narrowing for the current date, or to the
// next accepted date when the narrowing strategy is done, resetting the
// cursor either way.
func (l *PaginatedAPILocator) advance() {
	if l.NarrowingStrategy != nil {
		next := l.NarrowingStrategy(l.cur.Narrowing)
		if next != l.cur.Narrowing {
			l.cur.Narrowing = next
			l.cur.CurrentCursor = CursorStart
			l.enqueueCurrent()
			return
		}
	}

	date, err := time.Parse(dateLayout, l.cur.CurrentDate)
	if err != nil {
		log.WithComponent("locator").Error().
			Str("locator", l.Name()).
			Str("date", l.cur.CurrentDate).
			Msg("unparseable persisted date, stopping")
		l.exhausted = true
		return
	}

	next, ok := l.stepDate(date)
	if !ok {
		l.exhausted = true
		log.WithComponent("locator").Info().
			Str("locator", l.Name()).
			Msg("date range exhausted")
		return
	}

	l.cur.CurrentDate = next.Format(dateLayout)
	l.cur.CurrentCursor = CursorStart
	l.cur.Narrowing = ""
	l.enqueueCurrent()
}

func (l *PaginatedAPILocator) enqueueCurrent() {
	l.pending = append(l.pending, l.buildURL(l.cur.CurrentDate, l.cur.CurrentCursor, l.cur.Narrowing))
}

func (l *PaginatedAPILocator) buildURL(dateStr, cursor, narrowing string) string {
	q := url.Values{}
	for k, v := range l.QueryParams {
		q.Set(k, v)
	}
	q.Set("nombre", strconv.Itoa(l.MaxRecordsPerPage))
	q.Set("curseur", cursor)

	query := dateStr
	if l.QueryBuilder != nil {
		query = l.QueryBuilder(dateStr, narrowing)
	}
	q.Set("q", query)

	return l.BaseURL + "?" + q.Encode()
}

func (l *PaginatedAPILocator) startDate() (time.Time, error) {
	if l.Backward {
		return l.parseEnd()
	}
	d, err := time.Parse(dateLayout, l.DateStart)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date_start %q: %w", l.DateStart, err)
	}
	return d, nil
}

func (l *PaginatedAPILocator) parseEnd() (time.Time, error) {
	if l.DateEnd == "" {
		return time.Now().Truncate(24 * time.Hour), nil
	}
	d, err := time.Parse(dateLayout, l.DateEnd)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date_end %q: %w", l.DateEnd, err)
	}
	return d, nil
}

// firstAcceptedDate returns the first in-range date at or after (or at
// or before, walking backward) start that the date filter accepts.
func (l *PaginatedAPILocator) firstAcceptedDate(start time.Time) (time.Time, bool) {
	d := start
	for l.inRange(d.Format(dateLayout)) {
		if l.DateFilter == nil || l.DateFilter(d.Format(dateLayout)) {
			return d, true
		}
		d = d.AddDate(0, 0, l.step())
	}
	return time.Time{}, false
}

// stepDate returns the next in-range date accepted by the filter.
func (l *PaginatedAPILocator) stepDate(d time.Time) (time.Time, bool) {
	for {
		d = d.AddDate(0, 0, l.step())
		if !l.inRange(d.Format(dateLayout)) {
			return time.Time{}, false
		}
		if l.DateFilter == nil || l.DateFilter(d.Format(dateLayout)) {
			return d, true
		}
	}
}

func (l *PaginatedAPILocator) step() int {
	if l.Backward {
		return -1
	}
	return 1
}

// inRange reports whether dateStr is within [DateStart, DateEnd],
// comparing lexically (the layout is sortable).
func (l *PaginatedAPILocator) inRange(dateStr string) bool {
	if l.DateStart != "" && dateStr < l.DateStart {
		return false
	}
	end := l.DateEnd
	if end == "" {
		end = time.Now().Format(dateLayout)
	}
	return dateStr <= end
}
