package embedder

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dshills/reposync/internal/retry"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	Dimension int
	CacheSize int
	Timeout   time.Duration
	Retry     *retry.Policy
	Logger    *slog.Logger
}

// NewFromEnv creates an embedder based on environment variables
// Priority:
// 1. REPOSYNC_EMBEDDING_PROVIDER (jina, openai, local)
// 2. Check for API keys: JINA_API_KEY, OPENAI_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv() (Embedder, error) {
	return New(Config{
		Provider:  DetectProvider(),
		Model:     os.Getenv(EnvModel),
		BaseURL:   os.Getenv(EnvBaseURL),
		CacheSize: 10000,
	})
}

// New creates an embedder with explicit configuration. An empty API key is
// read from the provider's environment variable. An OpenAI-compatible
// provider pointed at a custom base URL may run without a key.
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider()
	}

	switch provider {
	case ProviderJina:
		return newHTTP(cfg, ProviderJina, DefaultJinaBaseURL, DefaultJinaModel, EnvJinaAPIKey, cache)
	case ProviderOpenAI:
		return newHTTP(cfg, ProviderOpenAI, DefaultOpenAIBaseURL, DefaultOpenAIModel, EnvOpenAIAPIKey, cache)
	case ProviderLocal:
		dim := cfg.Dimension
		if dim <= 0 {
			dim = LocalDimension
		}
		return NewLocalProviderWithDimension(dim, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

func newHTTP(cfg Config, provider, defaultBase, defaultModel, keyEnv string, cache *Cache) (Embedder, error) {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBase
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv(keyEnv)
	}
	if key == "" && base == defaultBase {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, keyEnv)
	}
	return NewHTTPProvider(HTTPConfig{
		Provider:  provider,
		BaseURL:   base,
		APIKey:    key,
		Model:     model,
		Dimension: cfg.Dimension,
		Timeout:   cfg.Timeout,
		Retry:     cfg.Retry,
		Cache:     cache,
		Logger:    cfg.Logger,
	})
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}

	return ProviderLocal
}
