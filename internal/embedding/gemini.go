package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"
)

const (
	geminiDefaultModel = "gemini-embedding-001"
	geminiEmbedTimeout = 30 * time.Second
	// geminiTaskType tunes vectors for activity lookup.
	geminiTaskType = "RETRIEVAL_DOCUMENT"
)

// GeminiProvider embeds activity text with the Gemini API. The client is
// created on first use and reused.
type GeminiProvider struct {
	apiKey string
	model  string

	once      sync.Once
	client    *genai.Client
	clientErr error
}

func NewGeminiProvider(apiKey string) *GeminiProvider {
	return &GeminiProvider{apiKey: apiKey, model: geminiDefaultModel}
}

func (p *GeminiProvider) Name() string  { return "gemini" }
func (p *GeminiProvider) Model() string { return p.model }

func (p *GeminiProvider) genaiClient(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		p.client, p.clientErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  p.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return p.client, p.clientErr
}

func (p *GeminiProvider) Embed(ctx context.Context, req EmbedRequest) (*EmbeddingResult, error) {
	model := chooseModel(req.Model, p.model)
	if len(req.Texts) == 0 {
		return &EmbeddingResult{Model: model}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, geminiEmbedTimeout)
	defer cancel()
	client, err := p.genaiClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	contents := make([]*genai.Content, 0, len(req.Texts))
	for _, text := range req.Texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}
	cfg := &genai.EmbedContentConfig{TaskType: chooseModel(req.TaskType, geminiTaskType)}
	if req.Dimensions > 0 {
		dim := int32(req.Dimensions)
		cfg.OutputDimensionality = &dim
	}

	resp, err := client.Models.EmbedContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: %w", err)
	}

	vectors := make([][]float64, 0, len(resp.Embeddings))
	for _, emb := range resp.Embeddings {
		vec := make([]float64, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float64(v)
		}
		vectors = append(vectors, vec)
	}
	return buildResult(p.Name(), model, req.Texts, vectors)
}
