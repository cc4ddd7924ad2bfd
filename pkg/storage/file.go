package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/forager/pkg/log"
	"github.com/cuemby/forager/pkg/metrics"
	"github.com/cuemby/forager/pkg/types"
)

// FileSink writes each bundle to its own directory under OutputDir:
// bundle_<bid>/<safe_name> plus a <safe_name>.meta sidecar per resource
// and a bundle.meta summary on close.
type FileSink struct {
	OutputDir string
}

func NewFileSink(outputDir string) *FileSink {
	return &FileSink{OutputDir: outputDir}
}

func (s *FileSink) OpenBundle(ctx context.Context, ref *types.BundleRef) (BundleContext, error) {
	dir := filepath.Join(s.OutputDir, "bundle_"+ref.BID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bundle directory: %w", err)
	}
	ref.StorageKey = dir
	return &fileBundleContext{ref: ref, dir: dir}, nil
}

type fileBundleContext struct {
	ref       *types.BundleRef
	dir       string
	resources []types.ResourceMeta
	closed    bool
}

func (c *fileBundleContext) WriteResource(ctx context.Context, url, contentType string, status int, r io.Reader) error {
	name := SafeFilename(url)
	// Avoid clobbering distinct resources mapping to the same name.
	for i := 2; fileExists(filepath.Join(c.dir, name)); i++ {
		name = fmt.Sprintf("%s.%d", SafeFilename(url), i)
	}

	path := filepath.Join(c.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create resource file: %w", err)
	}

	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write resource %s: %w", url, err)
	}

	meta := types.ResourceMeta{
		URL:         url,
		Status:      status,
		ContentType: contentType,
		Size:        size,
		WrittenAt:   time.Now().UTC(),
	}
	sidecar, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path+".meta", sidecar, 0o644); err != nil {
		return fmt.Errorf("failed to write resource sidecar: %w", err)
	}

	c.resources = append(c.resources, meta)
	c.ref.ResourcesCount++
	metrics.ResourcesWritten.Inc()
	return nil
}

func (c *fileBundleContext) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true

	summary := map[string]any{
		"bid":             c.ref.BID,
		"primary_url":     c.ref.PrimaryURL,
		"resources_count": c.ref.ResourcesCount,
		"resources":       c.resources,
		"meta":            c.ref.Meta,
		"closed_at":       time.Now().UTC(),
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(c.dir, "bundle.meta"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write bundle.meta: %w", err)
	}

	metrics.BundlesWritten.Inc()
	log.WithBundleID(c.ref.BID).Debug().
		Int("resources", c.ref.ResourcesCount).
		Str("dir", c.dir).
		Msg("bundle closed")
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
