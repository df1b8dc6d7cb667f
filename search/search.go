// Package search ranks stored clause embeddings against a query by cosine
// similarity. The scan is linear over all stored clauses; degraded zero
// vectors are included and score 0 against any query.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/lexatlas/lexatlas/graph"
)

// VectorSource provides the stored clause embeddings in insertion order.
type VectorSource interface {
	ClauseEmbeddings(ctx context.Context) ([]graph.ClauseVector, error)
}

// Embedder produces the query embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, bool, error)
}

// Result is one ranked clause match.
type Result struct {
	ClauseID   string  `json:"clause_id"`
	ContractID string  `json:"contract_id"`
	ClauseName string  `json:"clause_name"`
	Score      float64 `json:"score"`
}

// Engine runs similarity search over a vector source.
type Engine struct {
	source   VectorSource
	embedder Embedder
}

func New(source VectorSource, embedder Embedder) *Engine {
	return &Engine{source: source, embedder: embedder}
}

// Search embeds the query and returns up to topK clauses ordered by
// descending cosine similarity. Ties keep clause insertion order.
func (e *Engine) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("search: top_k must be positive, got %d", topK)
	}

	start := time.Now()
	queryVec, degraded, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if degraded {
		// A degraded query vector scores 0 against everything; results would
		// be meaningless but the contract still holds, so log and continue.
		slog.Warn("search: query embedding degraded, all scores will be zero")
	}

	vectors, err := e.source.ClauseEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading clause embeddings: %w", err)
	}

	results := make([]Result, 0, len(vectors))
	for _, v := range vectors {
		results = append(results, Result{
			ClauseID:   v.ClauseID,
			ContractID: v.ContractID,
			ClauseName: v.ClauseName,
			Score:      Cosine(queryVec, v.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}

	slog.Info("search: clause scan complete",
		"scanned", len(vectors),
		"returned", len(results),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return results, nil
}

// Cosine computes the cosine similarity dot(a,b) / (|a|*|b|). A zero-norm
// vector on either side yields 0, which scores a degraded clause as having
// no similarity to anything.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
