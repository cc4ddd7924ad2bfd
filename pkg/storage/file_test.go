package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/forager/pkg/types"
)

func TestFileSinkBundleLayout(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)
	ctx := context.Background()

	ref := types.NewBundleRef("https://h/page.html")
	bctx, err := sink.OpenBundle(ctx, ref)
	require.NoError(t, err)

	err = bctx.WriteResource(ctx, "https://h/page.html", "text/html", 200, strings.NewReader("<html/>"))
	require.NoError(t, err)
	err = bctx.WriteResource(ctx, "https://h/data.json", "application/json", 200, strings.NewReader("{}"))
	require.NoError(t, err)
	require.NoError(t, bctx.Close(ctx))

	bundleDir := filepath.Join(dir, "bundle_"+ref.BID)
	assert.Equal(t, bundleDir, ref.StorageKey)
	assert.Equal(t, 2, ref.ResourcesCount)

	content, err := os.ReadFile(filepath.Join(bundleDir, "page.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html/>", string(content))

	var meta types.ResourceMeta
	sidecar, err := os.ReadFile(filepath.Join(bundleDir, "page.html.meta"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(sidecar, &meta))
	assert.Equal(t, "https://h/page.html", meta.URL)
	assert.Equal(t, 200, meta.Status)
	assert.Equal(t, int64(7), meta.Size)

	var summary map[string]any
	data, err := os.ReadFile(filepath.Join(bundleDir, "bundle.meta"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, ref.BID, summary["bid"])
	assert.Equal(t, float64(2), summary["resources_count"])
}

func TestFileSinkNameCollision(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)
	ctx := context.Background()

	ref := types.NewBundleRef("https://h/a")
	bctx, err := sink.OpenBundle(ctx, ref)
	require.NoError(t, err)

	require.NoError(t, bctx.WriteResource(ctx, "https://h/a", "", 200, strings.NewReader("one")))
	require.NoError(t, bctx.WriteResource(ctx, "https://h/a", "", 200, strings.NewReader("two")))
	require.NoError(t, bctx.Close(ctx))

	entries, err := os.ReadDir(filepath.Join(dir, "bundle_"+ref.BID))
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".meta") {
			names = append(names, e.Name())
		}
	}
	assert.Len(t, names, 2, "colliding names must not clobber")
}

func TestFileSinkCloseIdempotent(t *testing.T) {
	sink := NewFileSink(t.TempDir())
	ctx := context.Background()

	ref := types.NewBundleRef("https://h/x")
	bctx, err := sink.OpenBundle(ctx, ref)
	require.NoError(t, err)

	require.NoError(t, bctx.Close(ctx))
	require.NoError(t, bctx.Close(ctx))
}

func TestBIDOrdering(t *testing.T) {
	prev := types.NewBID()
	for i := 0; i < 100; i++ {
		next := types.NewBID()
		assert.Less(t, prev, next, "BIDs must be strictly increasing")
		prev = next
	}
}
