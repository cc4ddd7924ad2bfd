package storage

import (
	"context"
	"io"

	"github.com/cuemby/forager/pkg/types"
)

// Sink persists bundles. OpenBundle begins the lifecycle for one
// bundle; the returned context accepts resource writes and must be
// closed on every exit path, success or failure.
type Sink interface {
	OpenBundle(ctx context.Context, ref *types.BundleRef) (BundleContext, error)
}

// BundleContext is the write scope of one open bundle. WriteResource
// consumes the stream fully; resources appear in the final artifact in
// write order. Close finalizes trailing metadata and removes any temp
// files; it is idempotent.
type BundleContext interface {
	WriteResource(ctx context.Context, url, contentType string, status int, r io.Reader) error
	Close(ctx context.Context) error
}
