package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kidsclubplans/kcp/internal/config"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float64
		b        []float64
		expected float64
	}{
		{
			name:     "identical vectors",
			a:        []float64{1, 0, 0},
			b:        []float64{1, 0, 0},
			expected: 1.0,
		},
		{
			name:     "opposite vectors",
			a:        []float64{1, 0, 0},
			b:        []float64{-1, 0, 0},
			expected: -1.0,
		},
		{
			name:     "orthogonal vectors",
			a:        []float64{1, 0, 0},
			b:        []float64{0, 1, 0},
			expected: 0.0,
		},
		{
			name:     "similar vectors",
			a:        []float64{1, 1, 0},
			b:        []float64{1, 0, 0},
			expected: 1.0 / math.Sqrt(2),
		},
		{
			name:     "zero vector",
			a:        []float64{0, 0, 0},
			b:        []float64{1, 0, 0},
			expected: 0.0,
		},
		{
			name:     "empty vectors",
			a:        []float64{},
			b:        []float64{},
			expected: 0.0,
		},
		{
			name:     "mismatched lengths",
			a:        []float64{1, 2},
			b:        []float64{1, 2, 3},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CosineSimilarity(tt.a, tt.b)
			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("CosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestParseProviderModel(t *testing.T) {
	tests := []struct {
		input    string
		provider string
		model    string
	}{
		{"openai", "openai", ""},
		{"openai:text-embedding-3-large", "openai", "text-embedding-3-large"},
		{"gemini", "gemini", ""},
		{"gemini:gemini-embedding-001", "gemini", "gemini-embedding-001"},
		{"ollama:nomic-embed-text", "ollama", "nomic-embed-text"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, m := parseProviderModel(tt.input)
			if p != tt.provider {
				t.Errorf("parseProviderModel(%q) provider = %q, want %q", tt.input, p, tt.provider)
			}
			if m != tt.model {
				t.Errorf("parseProviderModel(%q) model = %q, want %q", tt.input, m, tt.model)
			}
		})
	}
}

func TestNewEmbeddingProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.Embedding.Provider = "openai:text-embedding-3-small"
	cfg.Embedding.APIKey = "sk-test"
	p, err := NewEmbeddingProvider(cfg)
	if err != nil {
		t.Fatalf("NewEmbeddingProvider: %v", err)
	}
	if p.Name() != "openai" || p.Model() != "text-embedding-3-small" {
		t.Fatalf("provider=%s model=%s", p.Name(), p.Model())
	}

	cfg.Embedding.Provider = "openai"
	cfg.Embedding.APIKey = ""
	if _, err := NewEmbeddingProvider(cfg); !errors.Is(err, ErrDisabled) {
		t.Fatalf("missing key err=%v, want ErrDisabled", err)
	}

	cfg.Embedding.Provider = "none"
	if _, err := NewEmbeddingProvider(cfg); !errors.Is(err, ErrDisabled) {
		t.Fatalf("none err=%v, want ErrDisabled", err)
	}

	cfg.Embedding.Provider = "bogus"
	if _, err := NewEmbeddingProvider(cfg); err == nil || errors.Is(err, ErrDisabled) {
		t.Fatalf("unknown provider err=%v", err)
	}
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path=%s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 1 || req.Input[0] != "finger painting" {
			t.Errorf("input=%v", req.Input)
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Model: req.Model, Embeddings: [][]float64{{0.1, 0.2, 0.3}}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL + "/")
	vec, err := EmbedOne(context.Background(), p, "finger painting")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Fatalf("vec=%v", vec)
	}
}

func TestOllamaEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{1, 0}}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL)
	_, err := p.Embed(context.Background(), EmbedRequest{Texts: []string{"tag", "relay"}})
	if err == nil {
		t.Fatal("expected error for one vector returned for two texts")
	}
}

func TestOllamaEmbedStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL).Embed(context.Background(), EmbedRequest{Texts: []string{"tag"}})
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestBuildResultKeepsInputOrder(t *testing.T) {
	res, err := buildResult("test", "m", []string{"a", "b"}, [][]float64{{1}, {2}})
	if err != nil {
		t.Fatalf("buildResult: %v", err)
	}
	if res.Dimensions != 1 || res.Embeddings[1].Text != "b" || res.Embeddings[1].Vector[0] != 2 {
		t.Fatalf("result = %+v", res)
	}
}
