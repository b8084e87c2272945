package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/diamond-cli/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration

	// RequestsPerSecond limits requests to any single host. Default: 5.
	RequestsPerSecond float64
}

// HTTPFetcher downloads over HTTP(S) with per-host rate limiting and retry
// on transient failures.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates an HTTPFetcher, filling in defaults.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff == 0 {
		opts.Backoff = time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "diamond-cli/1.0"
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (f *HTTPFetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(f.opts.RequestsPerSecond), 1)
		f.limiters[host] = lim
	}
	return lim
}

// Download fetches rawURL, retrying transport errors and 408/429/5xx
// responses with exponential backoff.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "http: parse url")
	}
	lim := f.limiterFor(u.Host)

	policy := resilience.RetryPolicy{
		Attempts: f.opts.MaxRetries,
		Backoff:  f.opts.Backoff,
		Jitter:   0.25,
		OnRetry:  resilience.LogRetry("http download"),
	}

	body, err := resilience.Retry(ctx, policy, func(ctx context.Context) (io.ReadCloser, error) {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "http: rate limiter wait")
		}
		return f.get(ctx, rawURL)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "http: download %s", rawURL)
	}
	return body, nil
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "http: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "http: request"), 0)
	}

	if resp.StatusCode == http.StatusOK {
		zap.L().Debug("http: downloaded",
			zap.String("url", rawURL),
			zap.Int64("content_length", resp.ContentLength),
		)
		return resp.Body, nil
	}

	_ = resp.Body.Close()
	statusErr := eris.Errorf("http: unexpected status %d", resp.StatusCode)
	if resilience.RetryableStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
	}
	return nil, statusErr
}
