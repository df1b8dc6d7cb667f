package lexatlas

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lexatlas/lexatlas/analyze"
	"github.com/lexatlas/lexatlas/embed"
	"github.com/lexatlas/lexatlas/extract"
	"github.com/lexatlas/lexatlas/graph"
	"github.com/lexatlas/lexatlas/journal"
	"github.com/lexatlas/lexatlas/llm"
	"github.com/lexatlas/lexatlas/pipeline"
	"github.com/lexatlas/lexatlas/search"
)

// Engine is the main entry point for the contract-to-graph pipeline.
type Engine interface {
	// Process runs one contract document through the full pipeline.
	// The returned state reports STORED or FAILED with stage and reason.
	Process(ctx context.Context, source string, opts ...ProcessOption) (*pipeline.State, error)

	// ProcessBatch processes several documents concurrently, bounded by
	// Config.Concurrency. Results are in input order.
	ProcessBatch(ctx context.Context, sources []string) []*pipeline.State

	// GetContract returns the fully composed record for a contract id.
	GetContract(ctx context.Context, contractID string) (*graph.Contract, error)

	// ListContracts returns summary records for all stored contracts.
	ListContracts(ctx context.Context) ([]graph.Contract, error)

	// SearchClauses ranks stored clauses against a query by cosine similarity.
	SearchClauses(ctx context.Context, query string, topK int) ([]search.Result, error)

	// DeleteContract removes a contract and all of its children.
	DeleteContract(ctx context.Context, contractID string) error

	// ListRuns returns recent pipeline runs from the journal, newest first.
	ListRuns(ctx context.Context, limit int) ([]journal.Run, error)

	// GetRun returns one pipeline run by its run id.
	GetRun(ctx context.Context, runID string) (*journal.Run, error)

	// Close cleanly shuts down the engine.
	Close(ctx context.Context) error
}

// ProcessOption configures a single processing run.
type ProcessOption func(*processOptions)

type processOptions struct {
	contractID string
	fileName   string
	force      bool
}

// WithContractID sets an explicit contract id instead of deriving one from
// the document content.
func WithContractID(id string) ProcessOption {
	return func(o *processOptions) { o.contractID = id }
}

// WithFileName overrides the file name recorded on the contract.
func WithFileName(name string) ProcessOption {
	return func(o *processOptions) { o.fileName = name }
}

// WithForceReprocess reruns the pipeline even when the latest run for the
// same content already reached STORED.
func WithForceReprocess() ProcessOption {
	return func(o *processOptions) { o.force = true }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg      Config
	store    *graph.Store
	journal  *journal.Journal
	embedder *embed.Generator
	analyzer *analyze.Analyzer
	runner   *pipeline.Runner
	searcher *search.Engine
	registry *extract.Registry
}

// New creates a new lexatlas engine with the given configuration.
func New(ctx context.Context, cfg Config) (Engine, error) {
	// Apply defaults for zero values
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 384
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Neo4j.URI == "" {
		return nil, fmt.Errorf("%w: neo4j uri not set", ErrInvalidConfig)
	}

	jrnl, err := journal.New(cfg.resolveJournalPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	store, err := graph.New(ctx, graph.Config{
		URI:      cfg.Neo4j.URI,
		Username: cfg.Neo4j.Username,
		Password: cfg.Neo4j.Password,
		Database: cfg.Neo4j.Database,
	}, cfg.EmbeddingDim)
	if err != nil {
		jrnl.Close()
		return nil, fmt.Errorf("connecting graph store: %w", err)
	}

	embedLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		store.Close(ctx)
		jrnl.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	analysisLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Analysis.Provider,
		Model:    cfg.Analysis.Model,
		BaseURL:  cfg.Analysis.BaseURL,
		APIKey:   cfg.Analysis.APIKey,
	})
	if err != nil {
		store.Close(ctx)
		jrnl.Close()
		return nil, fmt.Errorf("creating analysis provider: %w", err)
	}

	embedder := embed.New(embedLLM, cfg.EmbeddingDim)
	analyzer := analyze.New(analysisLLM)
	registry := extract.NewRegistry()

	e := &engine{
		cfg:      cfg,
		store:    store,
		journal:  jrnl,
		embedder: embedder,
		analyzer: analyzer,
		registry: registry,
		searcher: search.New(store, embedder),
	}
	e.runner = pipeline.New(&registryExtractor{registry: registry}, embedder, analyzer, store, cfg.RequestTimeout)
	return e, nil
}

// Process runs one contract through extraction, embedding, analysis, and
// storage. When no contract id is supplied, one is derived from the SHA-256
// of the document bytes, so the same document always maps to the same id.
func (e *engine) Process(ctx context.Context, source string, opts ...ProcessOption) (*pipeline.State, error) {
	options := &processOptions{}
	for _, o := range opts {
		o(options)
	}

	absPath, err := filepath.Abs(source)
	if err != nil {
		return nil, fmt.Errorf("resolving source path: %w", err)
	}

	hash, err := fileHash(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	contractID := options.contractID
	if contractID == "" {
		contractID = hash
	}
	fileName := options.fileName
	if fileName == "" {
		fileName = filepath.Base(absPath)
	}

	last, err := e.journal.LatestForContract(ctx, contractID)
	if err != nil {
		// The journal is local retry state, never a reason to refuse work.
		slog.Warn("process: journal unavailable", "error", err)
		last = nil
	}

	// Skip when this exact content already reached STORED under this id.
	if !options.force && last != nil && last.ContentHash == hash &&
		last.Status == string(pipeline.StatusStored) {
		slog.Info("process: content unchanged, skipping",
			"contract_id", contractID, "source", fileName)
		return &pipeline.State{
			ContractID: contractID,
			Source:     absPath,
			FileName:   fileName,
			Status:     pipeline.StatusStored,
		}, nil
	}

	initial := &pipeline.State{
		ContractID: contractID,
		Source:     absPath,
		FileName:   fileName,
	}

	// A retry of unchanged content that failed at the store stage already
	// paid for its contract embedding; reuse the journaled vector.
	if last != nil && last.ContentHash == hash &&
		last.Status == string(pipeline.StatusFailed) && last.Stage == string(pipeline.StageStore) {
		if vec, err := e.journal.Embedding(ctx, last.ID); err != nil {
			slog.Warn("process: loading journaled embedding failed",
				"run_id", last.UID, "error", err)
		} else if len(vec) == e.cfg.EmbeddingDim {
			initial.ContractEmbedding = vec
			slog.Info("process: reusing journaled embedding",
				"contract_id", contractID, "run_id", last.UID)
		}
	}

	run, err := e.journal.Begin(ctx, contractID, absPath, fileName, hash)
	if err != nil {
		slog.Warn("process: journal unavailable", "error", err)
	}

	st := e.runner.Run(ctx, initial)
	if st.Status == pipeline.StatusFailed && st.Err != nil {
		st.Err = classifyFailure(st.Stage, st.Err)
	}

	if run != nil {
		run.Status = string(st.Status)
		run.Stage = string(st.Stage)
		if st.Err != nil {
			run.FailureReason = st.Err.Error()
		}
		run.DegradedEmbeddings = st.DegradedEmbeddings
		if err := e.journal.Update(ctx, run); err != nil {
			slog.Warn("process: journal update failed", "run_id", run.UID, "error", err)
		}
		if len(st.ContractEmbedding) == e.cfg.EmbeddingDim {
			if err := e.journal.SaveEmbedding(ctx, run.ID, st.ContractEmbedding); err != nil {
				slog.Warn("process: saving run embedding failed", "run_id", run.UID, "error", err)
			}
		}
	}

	return st, nil
}

// ProcessBatch runs sources concurrently under a semaphore sized by
// Config.Concurrency. A nil entry marks a source that could not be started.
func (e *engine) ProcessBatch(ctx context.Context, sources []string) []*pipeline.State {
	results := make([]*pipeline.State, len(sources))
	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, source := range sources {
		wg.Add(1)
		go func(i int, source string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = &pipeline.State{
					Source: source,
					Status: pipeline.StatusFailed,
					Err:    ctx.Err(),
				}
				return
			}

			st, err := e.Process(ctx, source)
			if err != nil {
				st = &pipeline.State{
					Source: source,
					Status: pipeline.StatusFailed,
					Stage:  pipeline.StageExtract,
					Err:    err,
				}
			}
			results[i] = st
		}(i, source)
	}

	wg.Wait()
	return results
}

// GetContract returns the fully composed contract record.
func (e *engine) GetContract(ctx context.Context, contractID string) (*graph.Contract, error) {
	c, err := e.store.GetContract(ctx, contractID)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrContractNotFound, contractID)
		}
		return nil, err
	}
	return c, nil
}

// ListContracts returns summary records for all stored contracts.
func (e *engine) ListContracts(ctx context.Context) ([]graph.Contract, error) {
	return e.store.ListContracts(ctx)
}

// SearchClauses ranks all stored clauses against the query.
func (e *engine) SearchClauses(ctx context.Context, query string, topK int) ([]search.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrEmptyInput)
	}
	return e.searcher.Search(ctx, query, topK)
}

// DeleteContract removes a contract and all its children from the graph.
func (e *engine) DeleteContract(ctx context.Context, contractID string) error {
	if err := e.store.DeleteContract(ctx, contractID); err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrContractNotFound, contractID)
		}
		return err
	}
	return nil
}

// ListRuns returns recent pipeline runs from the journal.
func (e *engine) ListRuns(ctx context.Context, limit int) ([]journal.Run, error) {
	return e.journal.List(ctx, limit)
}

// GetRun returns one pipeline run by its run id.
func (e *engine) GetRun(ctx context.Context, runID string) (*journal.Run, error) {
	run, err := e.journal.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	return run, nil
}

// Close shuts down the engine.
func (e *engine) Close(ctx context.Context) error {
	jerr := e.journal.Close()
	serr := e.store.Close(ctx)
	if serr != nil {
		return serr
	}
	return jerr
}

// classifyFailure wraps a pipeline failure in the sentinel for its stage, so
// callers can errors.Is against the package taxonomy. Extraction errors are
// already wrapped at the registry boundary.
func classifyFailure(stage pipeline.Stage, err error) error {
	if errors.Is(err, ErrExtractionFailed) || errors.Is(err, ErrUnsupportedFormat) {
		return err
	}
	switch stage {
	case pipeline.StageAnalyze:
		return fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	case pipeline.StageStore:
		if errors.Is(err, graph.ErrDimensionMismatch) {
			return fmt.Errorf("%w: %v", ErrDimensionMismatch, err)
		}
		return fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}
	return err
}

// registryExtractor adapts the format registry to the pipeline's extractor
// boundary: pick the extractor by file extension, reject unknown formats.
type registryExtractor struct {
	registry *extract.Registry
}

func (r *registryExtractor) Extract(ctx context.Context, source string) (string, error) {
	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(source), "."))

	ex, err := r.registry.Get(format)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	text, err := ex.Extract(ctx, source)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return text, nil
}

// fileHash computes the SHA-256 hash of a file's content.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
