package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cuemby/forager/pkg/log"
	"github.com/cuemby/forager/pkg/metrics"
	"github.com/cuemby/forager/pkg/types"
)

// objectPutter is the S3 surface we consume, abstracted for tests.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures an S3Sink.
type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// S3Sink writes one object per resource under
// <prefix>/bundles/<bid>/resources_<name> and a terminal metadata.json.
// The metadata object is written last: its absence marks a partially
// written bundle for external sweeps.
type S3Sink struct {
	cfg    S3Config
	client objectPutter
}

// NewS3Sink builds an S3 sink using the default AWS config chain with
// optional region/endpoint overrides.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Sink{cfg: cfg, client: client}, nil
}

func (s *S3Sink) OpenBundle(ctx context.Context, ref *types.BundleRef) (BundleContext, error) {
	base := path.Join(s.cfg.Prefix, "bundles", ref.BID)
	ref.StorageKey = base
	return &s3BundleContext{sink: s, ref: ref, base: base}, nil
}

type s3BundleContext struct {
	sink      *S3Sink
	ref       *types.BundleRef
	base      string
	resources []types.ResourceMeta
	closed    bool
}

func (c *s3BundleContext) resourceKey(url string) string {
	name := SafeFilename(url)
	if name == "index.html" {
		name = types.HashURL(url)
	}
	return path.Join(c.base, "resources_"+name)
}

func (c *s3BundleContext) WriteResource(ctx context.Context, url, contentType string, status int, r io.Reader) error {
	// PutObject needs a seekable body with known length; spool to memory.
	var buf bytes.Buffer
	size, err := io.Copy(&buf, r)
	if err != nil {
		return fmt.Errorf("failed to read resource %s: %w", url, err)
	}

	key := c.resourceKey(url)
	in := &s3.PutObjectInput{
		Bucket: aws.String(c.sink.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := c.sink.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}

	c.resources = append(c.resources, types.ResourceMeta{
		URL:         url,
		Status:      status,
		ContentType: contentType,
		Size:        size,
		WrittenAt:   time.Now().UTC(),
	})
	c.ref.ResourcesCount++
	metrics.ResourcesWritten.Inc()
	return nil
}

func (c *s3BundleContext) Close(ctx context.Context) error {
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
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}

	key := path.Join(c.base, "metadata.json")
	_, err = c.sink.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.sink.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}

	metrics.BundlesWritten.Inc()
	log.WithBundleID(c.ref.BID).Debug().
		Int("resources", c.ref.ResourcesCount).
		Str("key", c.base).
		Msg("bundle closed")
	return nil
}
