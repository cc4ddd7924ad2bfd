package storage

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cuemby/forager/pkg/types"
)

// BundleZipDecorator collects every resource of a bundle into per-
// resource temp files and, on close, forwards exactly one DEFLATE zip
// archive ("bundle.zip") to the inner sink carrying all of them as
// entries resource_<NNN>.<ext>.
type BundleZipDecorator struct {
	Inner Sink
}

func NewBundleZipDecorator(inner Sink) *BundleZipDecorator {
	return &BundleZipDecorator{Inner: inner}
}

func (d *BundleZipDecorator) OpenBundle(ctx context.Context, ref *types.BundleRef) (BundleContext, error) {
	inner, err := d.Inner.OpenBundle(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &bundleZipContext{inner: inner}, nil
}

type spooledResource struct {
	path        string
	contentType string
}

type bundleZipContext struct {
	inner     BundleContext
	resources []spooledResource
	closed    bool
}

func (c *bundleZipContext) WriteResource(ctx context.Context, url, contentType string, status int, r io.Reader) error {
	tmp, err := os.CreateTemp("", "forager-bundle-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to spool resource %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	c.resources = append(c.resources, spooledResource{path: tmp.Name(), contentType: contentType})
	return nil
}

// extensionFor maps a content type to an archive entry extension.
func extensionFor(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "html"):
		return "html"
	case strings.Contains(ct, "json"):
		return "json"
	case strings.Contains(ct, "xml"):
		return "xml"
	case strings.Contains(ct, "text"):
		return "txt"
	default:
		return "bin"
	}
}

func (c *bundleZipContext) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true

	defer func() {
		for _, res := range c.resources {
			os.Remove(res.path)
		}
	}()

	// The inner context is closed on every path: an abandoned bundle
	// must still release whatever the inner sink holds open.
	err := c.flush(ctx)
	if cerr := c.inner.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

// flush builds the archive from the spooled resources and forwards it
// to the inner sink. An empty bundle produces no archive.
func (c *bundleZipContext) flush(ctx context.Context) error {
	if len(c.resources) == 0 {
		return nil
	}

	archive, err := os.CreateTemp("", "forager-archive-*.zip")
	if err != nil {
		return err
	}
	defer func() {
		archive.Close()
		os.Remove(archive.Name())
	}()

	zw := zip.NewWriter(archive)
	for i, res := range c.resources {
		name := fmt.Sprintf("resource_%03d.%s", i, extensionFor(res.contentType))
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return err
		}
		f, err := os.Open(res.path)
		if err != nil {
			return err
		}
		_, cerr := io.Copy(w, f)
		f.Close()
		if cerr != nil {
			return cerr
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}

	if _, err := archive.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return c.inner.WriteResource(ctx, "bundle.zip", "application/zip", 200, archive)
}
