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

	"github.com/sells-group/dealflow/internal/resilience"
)

// Options configures an HTTPFetcher.
type Options struct {
	// Name labels retry logs ("feed", "html").
	Name       string
	UserAgent  string
	Accept     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	// RatePerHost is the starting request rate for each host.
	RatePerHost  rate.Limit
	MaxBodyBytes int64
	// Client replaces the default HTTP client.
	Client *http.Client
	// OnRetry runs before each retry wait.
	OnRetry func(attempt int, err error)
}

const defaultUserAgent = "Mozilla/5.0 (compatible; DealflowBot/1.0)"

// AdaptiveLimiter wraps a rate.Limiter that speeds up 20% on success (up to
// 2x the initial rate) and halves on 429 (down to a quarter).
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	current rate.Limit
	maxRate rate.Limit
	minRate rate.Limit
}

// NewAdaptiveLimiter creates a limiter starting at initial.
func NewAdaptiveLimiter(initial rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(initial, burst),
		current: initial,
		maxRate: initial * 2,
		minRate: initial / 4,
	}
}

// Wait blocks until a request may be sent.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = min(a.current*1.2, a.maxRate)
	a.limiter.SetLimit(a.current)
}

// OnRateLimit halves the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = max(a.current*0.5, a.minRate)
	a.limiter.SetLimit(a.current)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// HTTPFetcher implements Getter.
type HTTPFetcher struct {
	client *http.Client
	opts   Options
	policy resilience.Policy

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates an HTTPFetcher. Zero options take defaults: 30s
// timeout, 3 retries from 1s, 2 requests/s per host, 10 MiB bodies.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.RatePerHost <= 0 {
		opts.RatePerHost = 2
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Name == "" {
		opts.Name = "http"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	policy := resilience.NewPolicy(opts.Name, opts.MaxRetries, opts.RetryDelay)
	policy.OnRetry = opts.OnRetry
	return &HTTPFetcher{
		client:   client,
		opts:     opts,
		policy:   policy,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

// limiterFor returns the host's limiter, creating it on first use.
func (f *HTTPFetcher) limiterFor(host string) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = NewAdaptiveLimiter(f.opts.RatePerHost, max(1, int(f.opts.RatePerHost)))
		f.limiters[host] = lim
	}
	return lim
}

// Get downloads rawURL, retrying transient failures.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, eris.Errorf("fetcher: invalid url %q", rawURL)
	}
	lim := f.limiterFor(u.Host)

	resp, err := resilience.DoVal(ctx, f.policy, func(ctx context.Context) (*Response, error) {
		return f.once(ctx, lim, rawURL)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: get %s", rawURL)
	}
	return resp, nil
}

func (f *HTTPFetcher) once(ctx context.Context, lim *AdaptiveLimiter, rawURL string) (*Response, error) {
	if err := lim.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if f.opts.Accept != "" {
		req.Header.Set("Accept", f.opts.Accept)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		lim.OnRateLimit()
		zap.L().Warn("fetcher: rate limited, slowing host",
			zap.String("host", req.URL.Host),
			zap.Float64("rate", float64(lim.Limit())),
		)
	}
	if err := resilience.CheckResponse(resp); err != nil {
		return nil, err
	}
	lim.OnSuccess()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "read body"))
	}
	return &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
