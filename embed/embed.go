// Package embed wraps an LLM embedding provider with the degradation policy
// the pipeline depends on: a service failure never halts processing, it
// yields a deterministic all-zero vector flagged as degraded.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lexatlas/lexatlas/llm"
)

// maxEmbedChars is the maximum character length for a single text sent to the
// embedding model. Most embedding models have a context window of 8192 tokens;
// using ~24000 chars (~6000 tokens) leaves headroom for varied tokenisers.
const maxEmbedChars = 24000

// batchSize is how many texts go to the provider in one request.
const batchSize = 32

// Generator produces fixed-dimension embeddings with graceful degradation.
type Generator struct {
	provider llm.Provider
	dim      int
}

// New creates a Generator over the given provider. dim is the declared
// output dimension D; every returned vector has exactly dim entries.
func New(provider llm.Provider, dim int) *Generator {
	return &Generator{provider: provider, dim: dim}
}

// Dim returns the declared embedding dimension.
func (g *Generator) Dim() int { return g.dim }

// Embed returns the embedding for one text. On any service failure, or when
// the service returns a vector of the wrong dimension, it returns an all-zero
// vector of length D and degraded=true instead of an error. The only error
// condition is a contract violation by the caller: empty input.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, bool, error) {
	if strings.TrimSpace(text) == "" {
		return nil, false, fmt.Errorf("embed: empty input text")
	}

	vecs, err := g.provider.Embed(ctx, []string{truncateForEmbed(text)})
	if err != nil {
		slog.Warn("embed: service call failed, substituting zero vector", "error", err)
		return g.zeroVector(), true, nil
	}
	if len(vecs) == 0 || len(vecs[0]) != g.dim {
		got := 0
		if len(vecs) > 0 {
			got = len(vecs[0])
		}
		slog.Warn("embed: dimension mismatch, substituting zero vector",
			"got", got, "want", g.dim)
		return g.zeroVector(), true, nil
	}

	return vecs[0], false, nil
}

// EmbedBatch embeds many texts at once. The provider is called in batches;
// a failed batch falls back to per-text calls so one bad text does not
// degrade the whole batch. Returns one vector per input text (zero vector
// where degraded) and the count of degraded entries.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, int, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}

	results := make([][]float32, len(texts))
	degraded := 0

	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := make([]string, end-i)
		for j := i; j < end; j++ {
			batch[j-i] = truncateForEmbed(texts[j])
		}

		vecs, err := g.provider.Embed(ctx, batch)
		if err != nil || len(vecs) != len(batch) {
			// Fall back to individual calls so one bad text doesn't
			// degrade the entire batch.
			slog.Warn("embed: batch failed, falling back to individual",
				"batch_start", i, "batch_end", end, "error", err)
			for j := range batch {
				vec, deg, eerr := g.Embed(ctx, batch[j])
				if eerr != nil {
					// Empty text inside a batch degrades rather than errors;
					// batch callers pass texts they did not author.
					vec, deg = g.zeroVector(), true
				}
				if deg {
					degraded++
				}
				results[i+j] = vec
			}
			continue
		}

		for j, vec := range vecs {
			if len(vec) != g.dim {
				results[i+j] = g.zeroVector()
				degraded++
				continue
			}
			results[i+j] = vec
		}
	}

	if degraded > 0 {
		slog.Warn("embed: some texts degraded to zero vectors",
			"degraded", degraded, "total", len(texts))
	}
	return results, degraded, nil
}

func (g *Generator) zeroVector() []float32 {
	return make([]float32, g.dim)
}

// truncateForEmbed truncates text to maxEmbedChars on a word boundary.
func truncateForEmbed(text string) string {
	if len(text) <= maxEmbedChars {
		return text
	}
	cut := strings.LastIndex(text[:maxEmbedChars], " ")
	if cut <= 0 {
		cut = maxEmbedChars
	}
	return text[:cut]
}
