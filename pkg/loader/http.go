package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/cuemby/forager/pkg/log"
	"github.com/cuemby/forager/pkg/protocol"
	"github.com/cuemby/forager/pkg/storage"
	"github.com/cuemby/forager/pkg/types"
)

// defaultCaptureLimit bounds the response bytes copied into bundle
// meta for locator consumption.
const defaultCaptureLimit = 8 << 20

// HTTPLoader issues a GET through the HTTP manager and writes the
// response body as the primary resource of one bundle.
type HTTPLoader struct {
	Manager *protocol.HTTPManager

	// StatusOK decides whether a response status yields a bundle.
	// Nil accepts 2xx.
	StatusOK func(url string, status int) bool

	// CaptureBody copies JSON response bodies (up to CaptureLimit)
	// into BundleRef.Meta["response_body"], where paginated locators
	// read cursors from.
	CaptureBody  bool
	CaptureLimit int64
}

func (l *HTTPLoader) statusOK(url string, status int) bool {
	if l.StatusOK != nil {
		return l.StatusOK(url, status)
	}
	return status >= 200 && status < 300
}

func (l *HTTPLoader) Load(ctx context.Context, req types.RequestMeta, sink storage.Sink, run *types.FetchRunContext) ([]types.BundleRef, error) {
	resp, err := l.Manager.Do(ctx, http.MethodGet, req.URL, req.Headers, true)
	if err != nil {
		return nil, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if !l.statusOK(req.URL, resp.StatusCode) {
		log.WithComponent("loader").Warn().
			Str("url", req.URL).
			Int("status", resp.StatusCode).
			Msg("response status rejected, discarding")
		return nil, nil
	}

	ref := types.NewBundleRef(req.URL)
	contentType := resp.Header.Get("Content-Type")
	ref.Meta["status_code"] = resp.StatusCode
	ref.Meta["content_type"] = contentType
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			ref.Meta["content_length"] = n
		}
	}

	bctx, err := sink.OpenBundle(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer bctx.Close(ctx)

	var body io.Reader = resp.Body
	var captured *bytes.Buffer
	if l.CaptureBody {
		limit := l.CaptureLimit
		if limit <= 0 {
			limit = defaultCaptureLimit
		}
		captured = &bytes.Buffer{}
		body = io.TeeReader(resp.Body, &cappedWriter{buf: captured, limit: limit})
	}

	if err := bctx.WriteResource(ctx, req.URL, contentType, resp.StatusCode, body); err != nil {
		return nil, fmt.Errorf("failed to write resource %s: %w", req.URL, err)
	}
	if err := bctx.Close(ctx); err != nil {
		return nil, err
	}

	if captured != nil && json.Valid(captured.Bytes()) {
		ref.Meta["response_body"] = json.RawMessage(captured.Bytes())
	}
	return []types.BundleRef{*ref}, nil
}

// cappedWriter discards bytes beyond limit instead of failing the tee.
type cappedWriter struct {
	buf   *bytes.Buffer
	limit int64
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if remaining := w.limit - int64(w.buf.Len()); remaining > 0 {
		if int64(n) > remaining {
			w.buf.Write(p[:remaining])
		} else {
			w.buf.Write(p)
		}
	}
	return n, nil
}
