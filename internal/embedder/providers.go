package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/dshills/reposync/internal/retry"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default endpoints (OpenAI-compatible embeddings API)
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultJinaBaseURL   = "https://api.jina.ai/v1"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-hash"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Batch limits
	MaxBatchSize = 100

	// Environment variables
	EnvProvider     = "REPOSYNC_EMBEDDING_PROVIDER"
	EnvModel        = "REPOSYNC_EMBEDDING_MODEL"
	EnvBaseURL      = "REPOSYNC_EMBEDDING_BASE_URL"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Known model dimensions; other models need an explicit dimension
var knownDimensions = map[string]int{
	"text-embedding-3-small":     1536,
	"text-embedding-3-large":     3072,
	"text-embedding-ada-002":     1536,
	"jina-embeddings-v3":         1024,
	"jina-embeddings-v2-base-en": 768,
}

// DefaultRetryPolicy is the API retry policy: 3 retries from 500ms
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}
}

// StatusError is a non-200 response from an embeddings API
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status indicates a transient condition
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// HTTPProvider implements Embedder against an OpenAI-compatible
// POST {base}/embeddings endpoint. OpenAI, Jina, and local servers such as
// Ollama all speak this format.
type HTTPProvider struct {
	provider   string
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
	policy     retry.Policy
	logger     *slog.Logger
}

// HTTPConfig configures an HTTPProvider
type HTTPConfig struct {
	Provider  string
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	Timeout   time.Duration
	Retry     *retry.Policy
	Cache     *Cache
	Logger    *slog.Logger
}

// NewHTTPProvider creates an embedder for an OpenAI-compatible API
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url not set", ErrNoProviderEnabled)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model not set", ErrUnsupportedModel)
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = knownDimensions[cfg.Model]
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension of %s unknown, set it explicitly", ErrUnsupportedModel, cfg.Model)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	policy := DefaultRetryPolicy()
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProvider{
		provider:   cfg.Provider,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cfg.Cache,
		policy:     policy,
		logger:     logger.With("component", "embedder", "provider", cfg.Provider),
	}, nil
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(apiKey string, cache *Cache) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	return NewHTTPProvider(HTTPConfig{
		Provider: ProviderOpenAI,
		BaseURL:  DefaultOpenAIBaseURL,
		APIKey:   apiKey,
		Model:    DefaultOpenAIModel,
		Cache:    cache,
	})
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(apiKey string, cache *Cache) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}
	return NewHTTPProvider(HTTPConfig{
		Provider: ProviderJina,
		BaseURL:  DefaultJinaBaseURL,
		APIKey:   apiKey,
		Model:    DefaultJinaModel,
		Cache:    cache,
	})
}

func (p *HTTPProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (p *HTTPProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings, hits, err := generateCached(ctx, p.cache, p.model, req.Texts, MaxBatchSize,
		func(ctx context.Context, texts []string) ([]*Embedding, error) {
			return retry.Do(ctx, p.policy, func(int) ([]*Embedding, error) {
				return p.callAPI(ctx, texts)
			}, retry.WithClassifier(isRetryableAPIError), retry.BeforeRetry(func(n int, err error, delay time.Duration) {
				p.logger.Warn("embedder.retry", "retry", n, "delay", delay, "err", err)
			}))
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.provider,
		Model:      p.model,
		CacheHits:  hits,
	}, nil
}

func isRetryableAPIError(err error) bool {
	if se, ok := err.(*StatusError); ok {
		return se.Retryable()
	}
	return retry.IsRetryable(err)
}

func (p *HTTPProvider) callAPI(ctx context.Context, texts []string) ([]*Embedding, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": p.model,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrUnexpectedResponse, len(apiResp.Data), len(texts))
	}

	sort.Slice(apiResp.Data, func(i, j int) bool { return apiResp.Data[i].Index < apiResp.Data[j].Index })

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		if len(data.Embedding) != p.dimension {
			return nil, fmt.Errorf("%w: %s returned %d, expected %d",
				ErrDimensionMismatch, p.model, len(data.Embedding), p.dimension)
		}
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  p.provider,
			Model:     p.model,
		}
	}

	return embeddings, nil
}

func (p *HTTPProvider) Dimension() int {
	return p.dimension
}

func (p *HTTPProvider) Provider() string {
	return p.provider
}

func (p *HTTPProvider) Model() string {
	return p.model
}

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider produces deterministic feature-hashed embeddings without a
// model. Texts sharing words land near each other, which is enough for
// offline runs and tests.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return NewLocalProviderWithDimension(LocalDimension, cache)
}

// NewLocalProviderWithDimension creates a local embedder of the given size
func NewLocalProviderWithDimension(dim int, cache *Cache) (*LocalProvider, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidInput)
	}
	return &LocalProvider{
		model:     DefaultLocalModel,
		dimension: dim,
		cache:     cache,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resp, err := l.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	embeddings, hits, err := generateCached(ctx, l.cache, l.model, req.Texts, MaxBatchSize,
		func(ctx context.Context, texts []string) ([]*Embedding, error) {
			out := make([]*Embedding, len(texts))
			for i, text := range texts {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				out[i] = &Embedding{
					Vector:    l.embed(text),
					Dimension: l.dimension,
					Provider:  ProviderLocal,
					Model:     l.model,
				}
			}
			return out, nil
		})
	if err != nil {
		return nil, err
	}
	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
		CacheHits:  hits,
	}, nil
}

// embed hashes each lower-cased word into a signed bucket and normalizes
func (l *LocalProvider) embed(text string) []float32 {
	vector := make([]float32, l.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		words = []string{text}
	}
	for _, w := range words {
		sum := sha256.Sum256([]byte(w))
		bucket := binary.BigEndian.Uint32(sum[:4]) % uint32(l.dimension)
		if sum[4]&1 == 0 {
			vector[bucket]++
		} else {
			vector[bucket]--
		}
	}
	return NormalizeVector(vector)
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}
