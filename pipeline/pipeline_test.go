package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/lexatlas/lexatlas/analyze"
	"github.com/lexatlas/lexatlas/graph"
)

const testDim = 4

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) Extract(ctx context.Context, source string) (string, error) {
	return f.text, f.err
}

type fakeEmbedder struct {
	degradeAll bool
	embedCalls int
}

func (f *fakeEmbedder) Dim() int { return testDim }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, bool, error) {
	f.embedCalls++
	if f.degradeAll {
		return make([]float32, testDim), true, nil
	}
	vec := make([]float32, testDim)
	vec[0] = 1
	return vec, false, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, int, error) {
	out := make([][]float32, len(texts))
	degraded := 0
	for i := range texts {
		vec, deg, _ := f.Embed(ctx, texts[i])
		if deg {
			degraded++
		}
		out[i] = vec
	}
	return out, degraded, nil
}

type fakeAnalyzer struct {
	analysis *analyze.StructuredAnalysis
	err      error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, text string) (*analyze.StructuredAnalysis, error) {
	return f.analysis, f.err
}

type fakeStorer struct {
	stored *graph.Contract
	err    error
}

func (f *fakeStorer) UpsertContract(ctx context.Context, c *graph.Contract) error {
	if f.err != nil {
		return f.err
	}
	f.stored = c
	return nil
}

func sampleAnalysis() *analyze.StructuredAnalysis {
	return &analyze.StructuredAnalysis{
		Title:        "Service Agreement",
		GoverningLaw: "New York",
		Parties: []analyze.Party{
			{Name: "Acme Corp", Role: "Provider"},
			{Name: "Beta LLC", Role: "Client"},
		},
		Dates: []analyze.ImportantDate{
			{Value: "2025-01-15", Type: "effective_date"},
		},
		Clauses: []analyze.Clause{
			{Name: "Termination", Summary: "30 days notice.", RiskLevel: "High",
				RiskReason: "Short notice", Obligation: "Notify in writing",
				Liability: "None", AISummary: "Standard termination clause."},
			{Name: "Confidentiality", Summary: "5 year term.", RiskLevel: "Low",
				RiskReason: "Typical", Obligation: "Keep secrets", Liability: "Damages",
				AISummary: "Standard confidentiality clause."},
		},
	}
}

func newRunner(ex Extractor, em Embedder, an Analyzer, st Storer) *Runner {
	return New(ex, em, an, st, 0)
}

func newState() *State {
	return &State{ContractID: "c-1", Source: "/tmp/contract.pdf", FileName: "contract.pdf"}
}

// ---------------------------------------------------------------------------
// Full run
// ---------------------------------------------------------------------------

func TestRunSuccess(t *testing.T) {
	storer := &fakeStorer{}
	r := newRunner(
		&fakeExtractor{text: "contract text"},
		&fakeEmbedder{},
		&fakeAnalyzer{analysis: sampleAnalysis()},
		storer,
	)

	st := r.Run(context.Background(), newState())

	if st.Status != StatusStored {
		t.Fatalf("Status = %q, want %q (err: %v)", st.Status, StatusStored, st.Err)
	}
	if st.DegradedEmbeddings != 0 {
		t.Errorf("DegradedEmbeddings = %d, want 0", st.DegradedEmbeddings)
	}
	if storer.stored == nil {
		t.Fatal("expected contract handed to storer")
	}
	if storer.stored.Title != "Service Agreement" {
		t.Errorf("stored Title = %q", storer.stored.Title)
	}
	if len(storer.stored.Clauses) != 2 {
		t.Fatalf("stored %d clauses, want 2", len(storer.stored.Clauses))
	}
	for i, cl := range storer.stored.Clauses {
		if cl.Ordinal != i {
			t.Errorf("Clauses[%d].Ordinal = %d, want %d", i, cl.Ordinal, i)
		}
		if len(cl.Embedding) != testDim {
			t.Errorf("Clauses[%d].Embedding has %d dimensions, want %d", i, len(cl.Embedding), testDim)
		}
	}
	if len(storer.stored.Parties) != 2 || storer.stored.Parties[0].Role != "Provider" {
		t.Errorf("unexpected parties: %+v", storer.stored.Parties)
	}
}

func TestRunAllEmbeddingsDegraded(t *testing.T) {
	storer := &fakeStorer{}
	r := newRunner(
		&fakeExtractor{text: "contract text"},
		&fakeEmbedder{degradeAll: true},
		&fakeAnalyzer{analysis: sampleAnalysis()},
		storer,
	)

	st := r.Run(context.Background(), newState())

	if st.Status != StatusStored {
		t.Fatalf("degraded embeddings must not fail the run: Status = %q, err %v", st.Status, st.Err)
	}
	// Contract vector plus two clause vectors.
	if st.DegradedEmbeddings != 3 {
		t.Errorf("DegradedEmbeddings = %d, want 3", st.DegradedEmbeddings)
	}
	for i, cl := range storer.stored.Clauses {
		for _, v := range cl.Embedding {
			if v != 0 {
				t.Errorf("Clauses[%d] embedding should be all zeros", i)
				break
			}
		}
	}
}

func TestRunEmptyAnalysis(t *testing.T) {
	// An unparseable model response normalizes to a defaulted analysis with
	// no clauses. The run still stores.
	storer := &fakeStorer{}
	r := newRunner(
		&fakeExtractor{text: "contract text"},
		&fakeEmbedder{},
		&fakeAnalyzer{analysis: &analyze.StructuredAnalysis{
			Title:        analyze.DefaultTitle,
			GoverningLaw: analyze.DefaultText,
		}},
		storer,
	)

	st := r.Run(context.Background(), newState())

	if st.Status != StatusStored {
		t.Fatalf("Status = %q, want %q (err: %v)", st.Status, StatusStored, st.Err)
	}
	if storer.stored.Title != analyze.DefaultTitle {
		t.Errorf("stored Title = %q, want %q", storer.stored.Title, analyze.DefaultTitle)
	}
	if len(storer.stored.Clauses) != 0 {
		t.Errorf("expected no clauses, got %d", len(storer.stored.Clauses))
	}
}

func TestRunReusesPresetContractEmbedding(t *testing.T) {
	// A retry may carry the contract embedding from an earlier run. The
	// embed stage must accept it without calling the embedding service;
	// only the clause embeddings are computed fresh.
	embedder := &fakeEmbedder{}
	storer := &fakeStorer{}
	r := newRunner(
		&fakeExtractor{text: "contract text"},
		embedder,
		&fakeAnalyzer{analysis: sampleAnalysis()},
		storer,
	)

	preset := []float32{0.5, 0.5, 0.5, 0.5}
	st := newState()
	st.ContractEmbedding = preset

	st = r.Run(context.Background(), st)

	if st.Status != StatusStored {
		t.Fatalf("Status = %q, want %q (err: %v)", st.Status, StatusStored, st.Err)
	}
	if embedder.embedCalls != len(sampleAnalysis().Clauses) {
		t.Errorf("embedCalls = %d, want %d (contract text must not be re-embedded)",
			embedder.embedCalls, len(sampleAnalysis().Clauses))
	}
	for i, v := range storer.stored.Embedding {
		if v != preset[i] {
			t.Fatalf("stored embedding = %v, want preset %v", storer.stored.Embedding, preset)
		}
	}
}

// ---------------------------------------------------------------------------
// Failure modes
// ---------------------------------------------------------------------------

func TestRunExtractFailure(t *testing.T) {
	r := newRunner(
		&fakeExtractor{err: errors.New("corrupt file")},
		&fakeEmbedder{},
		&fakeAnalyzer{analysis: sampleAnalysis()},
		&fakeStorer{},
	)

	st := r.Run(context.Background(), newState())

	if st.Status != StatusFailed {
		t.Fatalf("Status = %q, want %q", st.Status, StatusFailed)
	}
	if st.Stage != StageExtract {
		t.Errorf("Stage = %q, want %q", st.Stage, StageExtract)
	}
	if st.Err == nil {
		t.Error("expected Err to be set")
	}
}

func TestRunEmptyTextFatal(t *testing.T) {
	r := newRunner(
		&fakeExtractor{text: ""},
		&fakeEmbedder{},
		&fakeAnalyzer{analysis: sampleAnalysis()},
		&fakeStorer{},
	)

	st := r.Run(context.Background(), newState())

	if st.Status != StatusFailed || st.Stage != StageExtract {
		t.Fatalf("empty text should fail at extract, got %q at %q", st.Status, st.Stage)
	}
}

func TestRunAnalyzeFailure(t *testing.T) {
	r := newRunner(
		&fakeExtractor{text: "contract text"},
		&fakeEmbedder{},
		&fakeAnalyzer{err: errors.New("model unavailable")},
		&fakeStorer{},
	)

	st := r.Run(context.Background(), newState())

	if st.Status != StatusFailed || st.Stage != StageAnalyze {
		t.Fatalf("Status/Stage = %q/%q, want FAILED/analyze", st.Status, st.Stage)
	}
	// Earlier stage output survives for diagnostics.
	if st.Text != "contract text" {
		t.Errorf("extracted text should be retained, got %q", st.Text)
	}
	if len(st.ContractEmbedding) != testDim {
		t.Error("contract embedding should be retained")
	}
}

func TestRunStoreFailure(t *testing.T) {
	r := newRunner(
		&fakeExtractor{text: "contract text"},
		&fakeEmbedder{},
		&fakeAnalyzer{analysis: sampleAnalysis()},
		&fakeStorer{err: errors.New("neo4j unreachable")},
	)

	st := r.Run(context.Background(), newState())

	if st.Status != StatusFailed || st.Stage != StageStore {
		t.Fatalf("Status/Stage = %q/%q, want FAILED/store", st.Status, st.Stage)
	}
	if st.Analysis == nil || len(st.Analysis.Clauses) != 2 {
		t.Error("analysis should be retained on store failure")
	}
	if len(st.ClauseEmbeddings) != 2 {
		t.Error("clause embeddings should be retained on store failure")
	}
}
