package locator

import (
	"context"

	"github.com/cuemby/forager/pkg/types"
)

// BundleLocator is a stateful, resumable producer of fetch work. A
// locator may return an empty batch when temporarily idle or
// permanently exhausted; it must never block on external I/O
// indefinitely. Any URL yielded is added to the locator's processed set
// at yield time and never yielded again within the same run.
type BundleLocator interface {
	// Name identifies the locator in logs and metrics.
	Name() string

	// NextURLs returns the next batch of requests.
	NextURLs(ctx context.Context, run *types.FetchRunContext) ([]types.RequestMeta, error)
}

// CompletionHandler is implemented by locators that track per-URL
// outcomes. URLProcessed is called once per request after the loader
// returns, regardless of success; empty refs signal failure. Calls may
// arrive in any order relative to NextURLs batches.
type CompletionHandler interface {
	URLProcessed(ctx context.Context, req types.RequestMeta, refs []types.BundleRef, run *types.FetchRunContext)
}

// ErrorHandler is implemented by locators that persist error records.
type ErrorHandler interface {
	URLError(ctx context.Context, req types.RequestMeta, errMsg string)
}
