package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kidsclubplans/kcp/internal/config"
)

// ErrDisabled is returned by NewEmbeddingProvider when embeddings are
// turned off or no credentials are available.
var ErrDisabled = errors.New("embeddings disabled")

// EmbeddingResult contains the embeddings and metadata from an API call
type EmbeddingResult struct {
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions"`
	Embeddings []Embedding `json:"embeddings"`
	Usage      *UsageInfo  `json:"usage,omitempty"`
}

// Embedding holds a single text's embedding vector
type Embedding struct {
	Text   string    `json:"text"`
	Index  int       `json:"index"`
	Vector []float64 `json:"vector"`
}

// UsageInfo contains token usage information
type UsageInfo struct {
	PromptTokens int64 `json:"prompt_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// EmbedRequest contains parameters for generating embeddings
type EmbedRequest struct {
	Texts      []string // Input texts to embed
	Model      string   // Model override (empty = provider default)
	Dimensions int      // Custom dimensions (0 = model default)
	TaskType   string   // Gemini task type hint (empty = none)
}

// EmbeddingProvider is the interface for embedding providers
type EmbeddingProvider interface {
	// Name returns the provider id stored alongside vectors
	Name() string

	// Model returns the model vectors are produced with
	Model() string

	// Embed generates embeddings for the given texts
	Embed(ctx context.Context, req EmbedRequest) (*EmbeddingResult, error)
}

// NewEmbeddingProvider creates an embedding provider based on config.
// The provider may be given as "provider" or "provider:model".
func NewEmbeddingProvider(cfg *config.Config) (EmbeddingProvider, error) {
	provider, model := parseProviderModel(cfg.Embedding.Provider)
	if model == "" {
		model = cfg.Embedding.Model
	}

	switch provider {
	case "", "openai":
		if cfg.Embedding.APIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY not configured", ErrDisabled)
		}
		p := NewOpenAIProvider(cfg.Embedding.APIKey, cfg.LLM.OpenAI.BaseURL)
		if model != "" {
			p.model = model
		}
		return p, nil

	case "gemini":
		if cfg.Embedding.APIKey == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY not configured", ErrDisabled)
		}
		p := NewGeminiProvider(cfg.Embedding.APIKey)
		if model != "" {
			p.model = model
		}
		return p, nil

	case "ollama":
		baseURL := cfg.Embedding.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		p := NewOllamaProvider(baseURL)
		if model != "" {
			p.model = model
		}
		return p, nil

	case "none":
		return nil, ErrDisabled

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid: openai, gemini, ollama, none)", provider)
	}
}

// EmbedOne embeds a single text and returns its vector.
func EmbedOne(ctx context.Context, p EmbeddingProvider, text string) ([]float64, error) {
	res, err := p.Embed(ctx, EmbedRequest{Texts: []string{text}})
	if err != nil {
		return nil, err
	}
	if len(res.Embeddings) == 0 || len(res.Embeddings[0].Vector) == 0 {
		return nil, fmt.Errorf("%s returned no embedding", p.Name())
	}
	return res.Embeddings[0].Vector, nil
}

// buildResult pairs vectors with the texts they were computed for. Providers
// must return exactly one vector per input, in input order.
func buildResult(provider, model string, texts []string, vectors [][]float64) (*EmbeddingResult, error) {
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%s returned %d embeddings for %d texts", provider, len(vectors), len(texts))
	}
	res := &EmbeddingResult{Model: model, Embeddings: make([]Embedding, len(texts))}
	for i, vec := range vectors {
		res.Embeddings[i] = Embedding{Text: texts[i], Index: i, Vector: vec}
	}
	if len(vectors) > 0 {
		res.Dimensions = len(vectors[0])
	}
	return res, nil
}

// parseProviderModel parses "provider:model" or just "provider" from a string.
func parseProviderModel(s string) (string, string) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	provider := parts[0]
	model := ""
	if len(parts) == 2 {
		model = parts[1]
	}
	return provider, model
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical direction.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dotProduct / denom
}
