package types

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RequestMeta identifies one unit of fetch work. URL is the uniqueness key
// for deduplication.
type RequestMeta struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Depth   int               `json:"depth"`
	Referer string            `json:"referer,omitempty"`
}

// BundleRef identifies one bundle produced by a loader invocation. BID is
// time-ordered and unique, so storage keys derived from it bucket
// lexicographically by creation time.
type BundleRef struct {
	BID            string         `json:"bid"`
	PrimaryURL     string         `json:"primary_url"`
	ResourcesCount int            `json:"resources_count"`
	StorageKey     string         `json:"storage_key,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
}

// ResourceMeta describes one resource written within a bundle.
type ResourceMeta struct {
	URL         string            `json:"url"`
	Status      int               `json:"status,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Note        string            `json:"note,omitempty"`
	Size        int64             `json:"size"`
	WrittenAt   time.Time         `json:"written_at"`
}

// FetchRunContext is created by the entry point and lives for the run.
type FetchRunContext struct {
	RunID  string         `json:"run_id"`
	Shared map[string]any `json:"shared,omitempty"`
}

// FetchPlan is the input to a fetcher run.
type FetchPlan struct {
	InitialRequests []RequestMeta
	Context         *FetchRunContext
	Concurrency     int
}

// FetchResult summarizes a completed run. ProcessedCount counts every
// dequeued and handled request, successful or not.
type FetchResult struct {
	ProcessedCount int
	Errors         []string
	Context        *FetchRunContext
}

// ErrorRecord is persisted per failed URL, TTL ~24h.
type ErrorRecord struct {
	URL          string    `json:"url"`
	ErrorMessage string    `json:"error_message"`
	Timestamp    time.Time `json:"timestamp"`
	RetryCount   int       `json:"retry_count"`
}

// BundleResult is persisted per processed URL, TTL ~30d.
type BundleResult struct {
	URL         string    `json:"url"`
	Timestamp   time.Time `json:"timestamp"`
	Success     bool      `json:"success"`
	BundleCount int       `json:"bundle_count"`
	BundleRefs  []string  `json:"bundle_refs,omitempty"`
}

// LocatorState is the persisted cursor state of a resumable locator.
type LocatorState struct {
	CurrentDate     string    `json:"current_date,omitempty"`
	CurrentCursor   string    `json:"current_cursor"`
	Narrowing       string    `json:"narrowing,omitempty"`
	Initialized     bool      `json:"initialized"`
	LastRequestTime float64   `json:"last_request_time"`
	LastUpdated     time.Time `json:"last_updated"`
}

var (
	bidMu      sync.Mutex
	bidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewBID returns a new bundle identifier. BIDs are unique within the
// process and lexicographically non-decreasing in creation time.
func NewBID() string {
	bidMu.Lock()
	defer bidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), bidEntropy).String()
}

// NewBundleRef creates a bundle reference for the given primary URL.
func NewBundleRef(primaryURL string) *BundleRef {
	return &BundleRef{
		BID:        NewBID(),
		PrimaryURL: primaryURL,
		Meta:       make(map[string]any),
	}
}

// HashURL returns a short stable hash of a URL, used as a KV key suffix.
func HashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8])
}
