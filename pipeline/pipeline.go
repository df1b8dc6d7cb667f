// Package pipeline sequences extraction, embedding, analysis, and storage
// over a single explicit state object. Stage ordering is fixed; the runner
// decides which failures are fatal and which degrade.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lexatlas/lexatlas/analyze"
	"github.com/lexatlas/lexatlas/graph"
)

// Status is the lifecycle state of one contract-processing run.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusExtracted Status = "EXTRACTED"
	StatusEmbedded  Status = "EMBEDDED"
	StatusAnalyzed  Status = "ANALYZED"
	StatusStored    Status = "STORED"
	StatusFailed    Status = "FAILED"
)

// Stage names a pipeline stage for failure reporting.
type Stage string

const (
	StageExtract Stage = "extract"
	StageEmbed   Stage = "embed"
	StageAnalyze Stage = "analyze"
	StageStore   Stage = "store"
)

// State carries everything one run accumulates across stages. On FAILED,
// Stage and Err identify where and why; the partial fields stay populated
// for diagnostics and retry.
type State struct {
	ContractID string
	Source     string
	FileName   string

	Text              string
	ContractEmbedding []float32
	ClauseEmbeddings  [][]float32
	Analysis          *analyze.StructuredAnalysis

	Status             Status
	Stage              Stage
	Err                error
	DegradedEmbeddings int
}

// Extractor turns a document source into plain text.
type Extractor interface {
	Extract(ctx context.Context, source string) (string, error)
}

// Embedder produces fixed-dimension vectors with graceful degradation.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, bool, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, int, error)
	Dim() int
}

// Analyzer maps contract text to a normalized structured analysis.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*analyze.StructuredAnalysis, error)
}

// Storer persists the composed contract record.
type Storer interface {
	UpsertContract(ctx context.Context, c *graph.Contract) error
}

// Runner executes the staged pipeline.
type Runner struct {
	extractor Extractor
	embedder  Embedder
	analyzer  Analyzer
	storer    Storer

	// stageTimeout bounds each external-service stage. Zero means unbounded.
	stageTimeout time.Duration
}

func New(extractor Extractor, embedder Embedder, analyzer Analyzer, storer Storer, stageTimeout time.Duration) *Runner {
	return &Runner{
		extractor:    extractor,
		embedder:     embedder,
		analyzer:     analyzer,
		storer:       storer,
		stageTimeout: stageTimeout,
	}
}

// Run drives the state machine to STORED or FAILED. Stages execute strictly
// in sequence; each is idempotent given identical input state, so a caller
// may retry a FAILED state from scratch without cleanup.
func (r *Runner) Run(ctx context.Context, st *State) *State {
	st.Status = StatusPending
	start := time.Now()

	if !r.runExtract(ctx, st) {
		return st
	}
	if !r.runEmbed(ctx, st) {
		return st
	}
	if !r.runAnalyze(ctx, st) {
		return st
	}
	if !r.runStore(ctx, st) {
		return st
	}

	slog.Info("pipeline: run complete",
		"contract_id", st.ContractID,
		"status", st.Status,
		"clauses", len(st.Analysis.Clauses),
		"degraded_embeddings", st.DegradedEmbeddings,
		"total_elapsed", time.Since(start).Round(time.Millisecond))
	return st
}

// runExtract: PENDING -> EXTRACTED. No text means nothing else can proceed,
// so any failure here is fatal.
func (r *Runner) runExtract(ctx context.Context, st *State) bool {
	stageStart := time.Now()

	text, err := r.extractor.Extract(ctx, st.Source)
	if err != nil {
		return r.fail(st, StageExtract, err)
	}
	if text == "" {
		return r.fail(st, StageExtract, fmt.Errorf("no text extracted from %s", st.Source))
	}

	st.Text = text
	st.Status = StatusExtracted
	slog.Info("pipeline: text extracted",
		"contract_id", st.ContractID, "chars", len(text),
		"elapsed", time.Since(stageStart).Round(time.Millisecond))
	return true
}

// runEmbed: EXTRACTED -> EMBEDDED. Embeds the contract text. Degradation is
// absorbed by the embedder; this stage never fails the run. A caller may
// pre-populate ContractEmbedding from a journaled earlier run, in which case
// the embedding service is not called.
func (r *Runner) runEmbed(ctx context.Context, st *State) bool {
	stageStart := time.Now()

	if len(st.ContractEmbedding) > 0 {
		st.Status = StatusEmbedded
		slog.Info("pipeline: reusing contract embedding",
			"contract_id", st.ContractID)
		return true
	}

	stageCtx, cancel := r.stageContext(ctx)
	defer cancel()

	vec, degraded, err := r.embedder.Embed(stageCtx, st.Text)
	if err != nil {
		// Only a contract violation (empty text) errors, and extraction
		// already guaranteed non-empty text. Treat defensively as fatal.
		return r.fail(st, StageEmbed, err)
	}
	if degraded {
		st.DegradedEmbeddings++
	}

	st.ContractEmbedding = vec
	st.Status = StatusEmbedded
	slog.Info("pipeline: contract embedded",
		"contract_id", st.ContractID, "degraded", degraded,
		"elapsed", time.Since(stageStart).Round(time.Millisecond))
	return true
}

// runAnalyze: EMBEDDED -> ANALYZED. Partial or malformed model output is
// recovered by defaulting inside the analyzer; only a total failure to
// obtain structure is fatal. Clause embeddings are computed here because
// clauses are unknown before analysis.
func (r *Runner) runAnalyze(ctx context.Context, st *State) bool {
	stageStart := time.Now()
	stageCtx, cancel := r.stageContext(ctx)
	defer cancel()

	analysis, err := r.analyzer.Analyze(stageCtx, st.Text)
	if err != nil {
		return r.fail(st, StageAnalyze, err)
	}
	st.Analysis = analysis

	if len(analysis.Clauses) > 0 {
		texts := make([]string, len(analysis.Clauses))
		for i, cl := range analysis.Clauses {
			texts[i] = cl.Name + ": " + cl.Summary
		}

		embedCtx, embedCancel := r.stageContext(ctx)
		vecs, degraded, err := r.embedder.EmbedBatch(embedCtx, texts)
		embedCancel()
		if err != nil {
			return r.fail(st, StageAnalyze, fmt.Errorf("embedding clauses: %w", err))
		}
		st.ClauseEmbeddings = vecs
		st.DegradedEmbeddings += degraded
	} else {
		st.ClauseEmbeddings = nil
	}

	st.Status = StatusAnalyzed
	slog.Info("pipeline: analysis complete",
		"contract_id", st.ContractID,
		"clauses", len(analysis.Clauses),
		"elapsed", time.Since(stageStart).Round(time.Millisecond))
	return true
}

// runStore: ANALYZED -> STORED. The upsert is transactional; failure here is
// fatal and leaves the accumulated state for diagnostics.
func (r *Runner) runStore(ctx context.Context, st *State) bool {
	stageStart := time.Now()
	stageCtx, cancel := r.stageContext(ctx)
	defer cancel()

	if err := r.storer.UpsertContract(stageCtx, r.compose(st)); err != nil {
		return r.fail(st, StageStore, err)
	}

	st.Status = StatusStored
	slog.Info("pipeline: contract stored",
		"contract_id", st.ContractID,
		"elapsed", time.Since(stageStart).Round(time.Millisecond))
	return true
}

// compose maps the accumulated state onto the graph record.
func (r *Runner) compose(st *State) *graph.Contract {
	c := &graph.Contract{
		ID:           st.ContractID,
		Title:        st.Analysis.Title,
		FileName:     st.FileName,
		GoverningLaw: st.Analysis.GoverningLaw,
		Embedding:    st.ContractEmbedding,
	}

	for _, p := range st.Analysis.Parties {
		c.Parties = append(c.Parties, graph.Party{Name: p.Name, Role: p.Role})
	}
	for _, d := range st.Analysis.Dates {
		c.Dates = append(c.Dates, graph.ImportantDate{Value: d.Value, Type: d.Type})
	}
	for i, cl := range st.Analysis.Clauses {
		embedding := make([]float32, r.embedder.Dim())
		if i < len(st.ClauseEmbeddings) && st.ClauseEmbeddings[i] != nil {
			embedding = st.ClauseEmbeddings[i]
		}
		c.Clauses = append(c.Clauses, graph.Clause{
			Name:       cl.Name,
			Summary:    cl.Summary,
			Ordinal:    i,
			Embedding:  embedding,
			RiskLevel:  cl.RiskLevel,
			RiskReason: cl.RiskReason,
			Obligation: cl.Obligation,
			Liability:  cl.Liability,
			AISummary:  cl.AISummary,
		})
	}
	return c
}

func (r *Runner) fail(st *State, stage Stage, err error) bool {
	st.Status = StatusFailed
	st.Stage = stage
	st.Err = err
	slog.Warn("pipeline: run failed",
		"contract_id", st.ContractID, "stage", stage, "error", err)
	return false
}

func (r *Runner) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.stageTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.stageTimeout)
}
