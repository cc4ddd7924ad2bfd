package storage

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/cuemby/forager/pkg/types"
)

// recordingSink captures every write for decorator assertions.
type recordingSink struct {
	mu      sync.Mutex
	writes  []recordedWrite
	closed  int
	openErr error
}

type recordedWrite struct {
	URL         string
	ContentType string
	Status      int
	Data        []byte
}

func (s *recordingSink) OpenBundle(ctx context.Context, ref *types.BundleRef) (BundleContext, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &recordingContext{sink: s, ref: ref}, nil
}

type recordingContext struct {
	sink *recordingSink
	ref  *types.BundleRef
}

func (c *recordingContext) WriteResource(ctx context.Context, url, contentType string, status int, r io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	c.sink.mu.Lock()
	c.sink.writes = append(c.sink.writes, recordedWrite{
		URL:         url,
		ContentType: contentType,
		Status:      status,
		Data:        buf.Bytes(),
	})
	c.sink.mu.Unlock()
	c.ref.ResourcesCount++
	return nil
}

func (c *recordingContext) Close(ctx context.Context) error {
	c.sink.mu.Lock()
	c.sink.closed++
	c.sink.mu.Unlock()
	return nil
}
