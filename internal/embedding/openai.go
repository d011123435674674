package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "text-embedding-3-small"
	// MaxBatchSize is the provider's limit on inputs per request.
	MaxBatchSize = 100

	defaultTimeout    = 30 * time.Second
	defaultRetryDelay = 250 * time.Millisecond
	maxErrorBodyBytes = 1 << 20
)

// OpenAIConfig configures an OpenAIClient. Zero values take the defaults above.
type OpenAIConfig struct {
	BaseURL   string
	Model     string
	Timeout   time.Duration
	BatchSize int
	// MaxRetries bounds retries of temporary failures; 0 disables retrying.
	MaxRetries     int
	RetryBaseDelay time.Duration
	// RequestsPerSecond throttles outgoing requests; 0 means unlimited.
	RequestsPerSecond float64
}

// OpenAIClient calls an OpenAI-compatible /embeddings endpoint.
type OpenAIClient struct {
	cfg        OpenAIConfig
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option configures an OpenAIClient.
type Option func(*OpenAIClient)

// WithLogger sets a logger for request and retry events.
func WithLogger(l *zap.Logger) Option {
	return func(c *OpenAIClient) { c.logger = l }
}

// WithHTTPClient replaces the HTTP client. The configured timeout is not applied to it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *OpenAIClient) { c.httpClient = hc }
}

// NewOpenAIClient creates a client, filling unset config fields with defaults.
func NewOpenAIClient(cfg OpenAIConfig, opts ...Option) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryDelay
	}
	c := &OpenAIClient{
		cfg:        cfg,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/embeddings",
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     zap.NewNop(),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the embedding model name sent with each request.
func (c *OpenAIClient) Model() string {
	return c.cfg.Model
}

// Close is a no-op; the client holds no resources beyond the HTTP client.
func (c *OpenAIClient) Close() error {
	return nil
}

// Embed embeds a single text in one request.
func (c *OpenAIClient) Embed(ctx context.Context, text, apiKey string) (*Result, error) {
	if apiKey == "" {
		return nil, ErrAuthentication
	}
	resp, err := c.post(ctx, text, 1, apiKey)
	if err != nil {
		return nil, err
	}
	return &Result{Embedding: resp.Data[0].Embedding, Usage: resp.Usage}, nil
}

// EmbedBatch embeds texts in requests of at most BatchSize inputs, sent one after
// another. Any failed request fails the whole call; no partial results are returned.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string, apiKey string) ([]*Result, error) {
	if apiKey == "" {
		return nil, ErrAuthentication
	}
	results := make([]*Result, 0, len(texts))
	for batch, start := 0, 0; start < len(texts); batch, start = batch+1, start+c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(texts))
		group := texts[start:end]
		resp, err := c.post(ctx, group, len(group), apiKey)
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d (%d texts): %w", batch, len(group), err)
		}
		for _, d := range resp.Data {
			results = append(results, &Result{Embedding: d.Embedding, Usage: resp.Usage, Batch: batch})
		}
		c.logger.Debug("embedded batch",
			zap.Int("batch", batch),
			zap.Int("texts", len(group)),
			zap.Int("total_tokens", resp.Usage.TotalTokens))
	}
	return results, nil
}

type embeddingRequest struct {
	Model          string `json:"model"`
	Input          any    `json:"input"`
	EncodingFormat string `json:"encoding_format"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Usage Usage           `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// post sends one request, retrying temporary provider failures with exponential backoff.
func (c *OpenAIClient) post(ctx context.Context, input any, expected int, apiKey string) (*embeddingResponse, error) {
	body, err := json.Marshal(embeddingRequest{
		Model:          c.cfg.Model,
		Input:          input,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding request: %w", err)
	}

	backoff := retry.WithMaxRetries(uint64(c.cfg.MaxRetries), retry.NewExponential(c.cfg.RetryBaseDelay))
	attempt := 0
	var out *embeddingResponse
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		resp, err := c.do(ctx, body, expected, apiKey)
		if err != nil {
			var pe *ProviderError
			if errors.As(err, &pe) && pe.Temporary() {
				c.logger.Warn("embedding request failed, retrying",
					zap.Int("attempt", attempt),
					zap.Int("status", pe.StatusCode),
					zap.Error(err))
				return retry.RetryableError(err)
			}
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenAIClient) do(ctx context.Context, body []byte, expected int, apiKey string) (*embeddingResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ProviderError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := readErrorMessage(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			if msg == "" {
				return nil, ErrAuthentication
			}
			return nil, fmt.Errorf("%w: %s", ErrAuthentication, msg)
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: msg}
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ProviderError{Message: "invalid response body: " + err.Error(), Err: err}
	}
	if len(out.Data) != expected {
		return nil, &ProviderError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("expected %d embeddings, got %d", expected, len(out.Data)),
		}
	}
	sort.SliceStable(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	return &out, nil
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
