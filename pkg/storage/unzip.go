package storage

import (
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/cuemby/forager/pkg/log"
	"github.com/cuemby/forager/pkg/types"
)

// UnzipDecorator transparently decompresses resources on their way to
// the inner sink. The first two bytes of the stream are sniffed: gzip
// (0x1F 0x8B) is re-streamed decompressed with the .gz/.gzip suffix
// stripped from the URL; zip ("PK") is expanded into one write per
// non-directory entry. URLs ending in .zip (or an explicit
// application/zip content type) bypass decompression so intentional
// archives survive. Decompression failures fall back to the original
// bytes.
type UnzipDecorator struct {
	Inner Sink
}

func NewUnzipDecorator(inner Sink) *UnzipDecorator {
	return &UnzipDecorator{Inner: inner}
}

func (d *UnzipDecorator) OpenBundle(ctx context.Context, ref *types.BundleRef) (BundleContext, error) {
	inner, err := d.Inner.OpenBundle(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &unzipContext{inner: inner}, nil
}

type unzipContext struct {
	inner BundleContext
}

func bypassDecompression(rawURL, contentType string) bool {
	if contentType == "application/zip" {
		return true
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.HasSuffix(strings.ToLower(p), ".zip")
}

func stripCompressionSuffix(rawURL string) string {
	for _, suffix := range []string{".gz", ".gzip", ".zip"} {
		if strings.HasSuffix(strings.ToLower(rawURL), suffix) {
			return rawURL[:len(rawURL)-len(suffix)]
		}
	}
	return rawURL
}

func (c *unzipContext) WriteResource(ctx context.Context, rawURL, contentType string, status int, r io.Reader) error {
	if bypassDecompression(rawURL, contentType) {
		return c.inner.WriteResource(ctx, rawURL, contentType, status, r)
	}

	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil {
		// Short stream; nothing to sniff.
		return c.inner.WriteResource(ctx, rawURL, contentType, status, br)
	}

	switch {
	case magic[0] == 0x1F && magic[1] == 0x8B:
		return c.writeGzip(ctx, rawURL, contentType, status, br)
	case magic[0] == 'P' && magic[1] == 'K':
		return c.writeZip(ctx, rawURL, status, br)
	default:
		return c.inner.WriteResource(ctx, rawURL, contentType, status, br)
	}
}

func (c *unzipContext) writeGzip(ctx context.Context, rawURL, contentType string, status int, br *bufio.Reader) error {
	// NewReader consumes header bytes; capture them so a failed open
	// can still fall back to the original stream.
	capture := &captureReader{r: br, buf: &bytes.Buffer{}, capture: true}
	gz, err := gzip.NewReader(capture)
	if err != nil {
		log.WithComponent("storage").Warn().Err(err).Str("url", rawURL).
			Msg("gzip open failed, storing original bytes")
		original := io.MultiReader(bytes.NewReader(capture.buf.Bytes()), br)
		return c.inner.WriteResource(ctx, rawURL, contentType, status, original)
	}
	capture.capture = false
	defer gz.Close()
	return c.inner.WriteResource(ctx, stripCompressionSuffix(rawURL), contentType, status, gz)
}

// captureReader tees reads into buf while capture is set.
type captureReader struct {
	r       io.Reader
	buf     *bytes.Buffer
	capture bool
}

func (cr *captureReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if cr.capture && n > 0 {
		cr.buf.Write(p[:n])
	}
	return n, err
}

func (c *unzipContext) writeZip(ctx context.Context, rawURL string, status int, br *bufio.Reader) error {
	// Zip needs random access; spool the stream to a temp file.
	tmp, err := os.CreateTemp("", "forager-zip-*")
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, br)
	if err != nil {
		return err
	}

	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		log.WithComponent("storage").Warn().Err(err).Str("url", rawURL).
			Msg("zip open failed, storing original bytes")
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return err
		}
		return c.inner.WriteResource(ctx, rawURL, "application/octet-stream", status, tmp)
	}

	base := stripCompressionSuffix(rawURL)
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return err
		}
		entryURL := base + "/" + entry.Name
		werr := c.inner.WriteResource(ctx, entryURL, "application/octet-stream", status, rc)
		rc.Close()
		if werr != nil {
			return werr
		}
	}
	return nil
}

func (c *unzipContext) Close(ctx context.Context) error {
	return c.inner.Close(ctx)
}
