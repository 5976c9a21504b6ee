// Package embedding provides a client for the LLM service embedding endpoint.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dealflow/internal/resilience"
)

// DefaultDimension is the vector length of the default provider's model.
const DefaultDimension = 1536

// Client generates embeddings.
type Client interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per text, in input order. Texts that fail
	// after retries get a zero vector instead of failing the batch.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type embedRequest struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithProvider sets the provider field sent with every request.
func WithProvider(p string) Option {
	return func(c *httpClient) {
		if p != "" {
			c.provider = p
		}
	}
}

// WithUserID sets the X-User-ID header.
func WithUserID(id string) Option {
	return func(c *httpClient) {
		if id != "" {
			c.userID = id
		}
	}
}

// WithBatchSize sets how many texts are embedded concurrently per window.
func WithBatchSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithDimension sets the expected vector length.
func WithDimension(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.dimension = n
		}
	}
}

// WithRetry sets retries after the first attempt and the initial backoff.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *httpClient) {
		c.policy = resilience.NewPolicy("embedding", maxRetries, delay)
	}
}

// WithBreaker guards every request with b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = b
	}
}

// WithBatchPause sets the wait between batch windows.
func WithBatchPause(d time.Duration) Option {
	return func(c *httpClient) {
		c.pause = d
	}
}

// WithOnRetry registers a hook called before each retry wait.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(c *httpClient) {
		c.onRetry = fn
	}
}

type httpClient struct {
	baseURL   string
	provider  string
	userID    string
	batchSize int
	dimension int
	pause     time.Duration
	policy    resilience.Policy
	onRetry   func(int, error)
	breaker   *resilience.Breaker
	http      *http.Client
}

// NewClient creates an embedding client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		provider:  "openai",
		userID:    "system-ingestion",
		batchSize: 10,
		dimension: DefaultDimension,
		pause:     100 * time.Millisecond,
		policy:    resilience.NewPolicy("embedding", 3, time.Second),
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.policy.Retryable = retryable
	if c.onRetry != nil {
		c.policy.OnRetry = c.onRetry
	}
	return c
}

// retryable retries everything except client errors the service will keep
// rejecting.
func retryable(err error) bool {
	if errors.Is(err, resilience.ErrOpen) {
		return false
	}
	var se *resilience.StatusError
	if errors.As(err, &se) {
		return resilience.IsTransientStatus(se.StatusCode)
	}
	return true
}

func (c *httpClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := resilience.DoVal(ctx, c.policy, func(ctx context.Context) ([]float32, error) {
		if c.breaker == nil {
			return c.post(ctx, text)
		}
		return resilience.CallVal(ctx, c.breaker, func(ctx context.Context) ([]float32, error) {
			return c.post(ctx, text)
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "embedding: request failed")
	}
	return vec, nil
}

func (c *httpClient) post(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embedRequest{Text: text, Provider: c.provider})
	if err != nil {
		return nil, eris.Wrap(err, "embedding: marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "embedding: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-User-ID", c.userID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := resilience.CheckResponse(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "embedding: read response body")
	}

	var out embedResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "embedding: unmarshal response")
	}
	if len(out.Embedding) != c.dimension {
		return nil, eris.Errorf("embedding: got %d dimensions, want %d", len(out.Embedding), c.dimension)
	}
	return out.Embedding, nil
}

func (c *httpClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.batchSize)
		for i := start; i < end; i++ {
			g.Go(func() error {
				vec, err := c.Embed(gctx, texts[i])
				if err != nil {
					zap.L().Warn("embedding: using zero vector",
						zap.Int("index", i),
						zap.Error(err),
					)
					vec = make([]float32, c.dimension)
				}
				out[i] = vec
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "embedding: batch cancelled")
		}
		if end < len(texts) && c.pause > 0 {
			select {
			case <-ctx.Done():
				return nil, eris.Wrap(ctx.Err(), "embedding: batch cancelled")
			case <-time.After(c.pause):
			}
		}
	}
	return out, nil
}
