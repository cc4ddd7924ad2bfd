package loader

import (
	"context"

	"github.com/cuemby/forager/pkg/storage"
	"github.com/cuemby/forager/pkg/types"
)

// BundleLoader fetches the bytes behind one request and writes them as
// bundles through the storage sink. A failed fetch returns an error and
// no refs; the orchestrator does the error accounting.
type BundleLoader interface {
	Load(ctx context.Context, req types.RequestMeta, sink storage.Sink, run *types.FetchRunContext) ([]types.BundleRef, error)
}
