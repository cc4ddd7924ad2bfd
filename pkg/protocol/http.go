package protocol

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	retry "github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"

	"github.com/cuemby/forager/pkg/auth"
	"github.com/cuemby/forager/pkg/log"
	"github.com/cuemby/forager/pkg/metrics"
)

// HTTPConfig configures an HTTPManager.
type HTTPConfig struct {
	// Timeout bounds each request, connect through body read.
	Timeout time.Duration

	// DefaultHeaders are applied to every request before caller
	// headers; callers win on conflict, the mechanism wins over both.
	DefaultHeaders map[string]string

	// RateLimitRPS enforces a minimum interval of 1/rps between the
	// starts of successive outgoing requests. Zero disables limiting.
	RateLimitRPS float64

	// MaxRetries is the number of additional attempts after the first
	// on transport-level failure, with exponential base-2 backoff.
	MaxRetries int

	// MaxRedirects caps the redirect chain length.
	MaxRedirects int

	// Auth is the authentication mechanism; nil means none.
	Auth auth.Mechanism
}

// Response exposes the status, headers, and one-shot body stream of an
// HTTP response. The body must be consumed or closed before the
// underlying connection is released.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// HTTPManager is a rate-limited, retrying, authenticated streaming HTTP
// client. Safe for concurrent use.
type HTTPManager struct {
	cfg      HTTPConfig
	limiter  *rate.Limiter
	client   *http.Client // follows redirects up to MaxRedirects
	noFollow *http.Client // stops at the first redirect response
}

const defaultMaxRedirects = 10

// NewHTTPManager creates an HTTP manager from config.
func NewHTTPManager(cfg HTTPConfig) *HTTPManager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}

	m := &HTTPManager{cfg: cfg}
	if cfg.RateLimitRPS > 0 {
		// Burst of one makes inter-start spacing exactly 1/rps.
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	maxRedirects := cfg.MaxRedirects
	m.client = &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	m.noFollow = &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return m
}

// Do issues one request. Transport failures are retried up to
// MaxRetries times with 2^attempt-second backoff; HTTP status codes are
// never retried here, upstream policy decides.
func (m *HTTPManager) Do(ctx context.Context, method, url string, headers map[string]string, followRedirects bool) (*Response, error) {
	client := m.client
	if !followRedirects {
		client = m.noFollow
	}

	httpLog := log.WithComponent("http")
	start := time.Now()

	var resp *http.Response
	err := retry.Do(
		func() error {
			if m.limiter != nil {
				if err := m.limiter.Wait(ctx); err != nil {
					return retry.Unrecoverable(err)
				}
			}

			req, err := http.NewRequestWithContext(ctx, method, url, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			for k, v := range m.cfg.DefaultHeaders {
				req.Header.Set(k, v)
			}
			for k, v := range headers {
				req.Header.Set(k, v)
			}
			if m.cfg.Auth != nil {
				if err := m.cfg.Auth.Apply(ctx, req.Header); err != nil {
					return retry.Unrecoverable(err)
				}
			}

			resp, err = client.Do(req)
			if err != nil {
				httpLog.Warn().Err(err).Str("url", url).Msg("transport failure")
				return err
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(m.cfg.MaxRetries+1)),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	metrics.RequestDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, url, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}
