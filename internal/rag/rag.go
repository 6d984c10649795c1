// Package rag retrieves catalog activities relevant to a query.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/kidsclubplans/kcp/internal/embedding"
	"github.com/kidsclubplans/kcp/internal/store"
)

// Filters narrow a search.
type Filters struct {
	Type          string `json:"type,omitempty"`
	IndoorOutdoor string `json:"indoor_outdoor,omitempty"`
}

// Searcher finds activities for a free-text query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, filters Filters) ([]store.Activity, error)
}

// VectorStore embeds queries and scans stored activity embeddings. Without an
// embedding provider it falls back to keyword matching over the catalog.
type VectorStore struct {
	store    *store.Store
	embedder embedding.EmbeddingProvider
}

// New returns a VectorStore. embedder may be nil.
func New(st *store.Store, embedder embedding.EmbeddingProvider) *VectorStore {
	return &VectorStore{store: st, embedder: embedder}
}

// Semantic reports whether searches use embeddings.
func (v *VectorStore) Semantic() bool {
	return v.embedder != nil
}

// Coverage counts catalog activities and how many of them have vectors for
// the current embedding model.
type Coverage struct {
	Activities int `json:"activities"`
	Embedded   int `json:"embedded"`
}

func (v *VectorStore) Coverage(ctx context.Context) (Coverage, error) {
	var c Coverage
	n, err := v.store.CountActivities(ctx, store.ActivityFilter{})
	if err != nil {
		return c, err
	}
	c.Activities = n
	if v.embedder == nil {
		return c, nil
	}
	c.Embedded, err = v.store.CountEmbeddings(ctx, v.embedder.Name(), v.embedder.Model())
	return c, err
}

// Search returns up to limit activities ordered by relevance, Score set.
func (v *VectorStore) Search(ctx context.Context, query string, limit int, filters Filters) ([]store.Activity, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = 5
	}
	filter := store.ActivityFilter{Type: filters.Type, IndoorOutdoor: filters.IndoorOutdoor}

	if v.embedder == nil {
		return v.keywordSearch(ctx, query, limit, filter)
	}

	vec, err := embedding.EmbedOne(ctx, v.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return v.store.VectorSearch(ctx, v.embedder.Name(), v.embedder.Model(), vec, limit, filter)
}

// Index stores the activity and, when embeddings are enabled, its vector.
func (v *VectorStore) Index(ctx context.Context, a *store.Activity) error {
	if err := v.store.UpsertActivity(ctx, a); err != nil {
		return err
	}
	if v.embedder == nil {
		return nil
	}
	vec, err := embedding.EmbedOne(ctx, v.embedder, a.SearchableText())
	if err != nil {
		return fmt.Errorf("embed activity %s: %w", a.ID, err)
	}
	return v.store.UpsertEmbedding(ctx, a.ID, v.embedder.Name(), v.embedder.Model(), vec)
}

// IndexBatch stores activities and embeds them in batches of batchSize.
// It returns the number of activities embedded.
func (v *VectorStore) IndexBatch(ctx context.Context, acts []*store.Activity, batchSize int) (int, error) {
	for _, a := range acts {
		if err := v.store.UpsertActivity(ctx, a); err != nil {
			return 0, err
		}
	}
	if v.embedder == nil {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 64
	}

	embedded := 0
	for start := 0; start < len(acts); start += batchSize {
		end := min(start+batchSize, len(acts))
		batch := acts[start:end]
		texts := make([]string, len(batch))
		for i, a := range batch {
			texts[i] = a.SearchableText()
		}
		res, err := v.embedder.Embed(ctx, embedding.EmbedRequest{Texts: texts})
		if err != nil {
			return embedded, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		if len(res.Embeddings) != len(batch) {
			return embedded, fmt.Errorf("embed batch at %d: got %d vectors for %d texts", start, len(res.Embeddings), len(batch))
		}
		for i, a := range batch {
			if err := v.store.UpsertEmbedding(ctx, a.ID, v.embedder.Name(), v.embedder.Model(), res.Embeddings[i].Vector); err != nil {
				return embedded, err
			}
			embedded++
		}
		slog.Debug("indexed activity batch", "start", start, "count", len(batch))
	}
	return embedded, nil
}

func (v *VectorStore) keywordSearch(ctx context.Context, query string, limit int, filter store.ActivityFilter) ([]store.Activity, error) {
	all, err := v.store.ListActivities(ctx, filter, 0)
	if err != nil {
		return nil, err
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var matches []store.Activity
	for _, a := range all {
		title := strings.ToLower(a.Title)
		body := strings.ToLower(a.SearchableText())
		score := 0.0
		for _, term := range terms {
			if strings.Contains(title, term) {
				score += 2
			} else if strings.Contains(body, term) {
				score++
			}
		}
		if score == 0 {
			continue
		}
		a.Score = score / float64(2*len(terms))
		matches = append(matches, a)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "for": true, "the": true, "of": true,
	"to": true, "with": true, "some": true, "me": true, "give": true, "find": true,
	"activities": true, "activity": true, "ideas": true, "kids": true, "children": true,
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, f := range fields {
		if len(f) < 2 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}
