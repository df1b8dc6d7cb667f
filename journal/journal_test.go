//go:build cgo

package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	j, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func beginTestRun(t *testing.T, j *Journal, contractID string) *Run {
	t.Helper()
	run, err := j.Begin(context.Background(), contractID, "/data/contract.pdf", "contract.pdf", "hash123")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return run
}

// ---------------------------------------------------------------------------
// Run lifecycle
// ---------------------------------------------------------------------------

func TestBegin(t *testing.T) {
	j := newTestJournal(t)

	run := beginTestRun(t, j, "c-1")
	if run.UID == "" {
		t.Error("expected a generated run UID")
	}
	if run.ID == 0 {
		t.Error("expected a row id")
	}
	if run.Status != "PENDING" {
		t.Errorf("Status = %q, want PENDING", run.Status)
	}
}

func TestUpdateAndGet(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	run := beginTestRun(t, j, "c-1")
	run.Status = "FAILED"
	run.Stage = "analyze"
	run.FailureReason = "model unavailable"
	run.DegradedEmbeddings = 2
	if err := j.Update(ctx, run); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := j.Get(ctx, run.UID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != "FAILED" || got.Stage != "analyze" {
		t.Errorf("Status/Stage = %q/%q", got.Status, got.Stage)
	}
	if got.FailureReason != "model unavailable" {
		t.Errorf("FailureReason = %q", got.FailureReason)
	}
	if got.DegradedEmbeddings != 2 {
		t.Errorf("DegradedEmbeddings = %d, want 2", got.DegradedEmbeddings)
	}
	if got.ContentHash != "hash123" {
		t.Errorf("ContentHash = %q", got.ContentHash)
	}
}

func TestGetUnknown(t *testing.T) {
	j := newTestJournal(t)

	_, err := j.Get(context.Background(), "no-such-uid")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestList(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	first := beginTestRun(t, j, "c-1")
	second := beginTestRun(t, j, "c-2")

	runs, err := j.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	// Newest first.
	if runs[0].UID != second.UID || runs[1].UID != first.UID {
		t.Errorf("runs not in reverse insertion order: %v, %v", runs[0].UID, runs[1].UID)
	}

	limited, err := j.List(ctx, 1)
	if err != nil {
		t.Fatalf("List with limit: %v", err)
	}
	if len(limited) != 1 || limited[0].UID != second.UID {
		t.Errorf("limit 1 should return only the newest run")
	}
}

func TestLatestForContract(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	got, err := j.LatestForContract(ctx, "never-processed")
	if err != nil {
		t.Fatalf("LatestForContract: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unprocessed contract, got %+v", got)
	}

	beginTestRun(t, j, "c-1")
	latest := beginTestRun(t, j, "c-1")
	beginTestRun(t, j, "c-2")

	got, err = j.LatestForContract(ctx, "c-1")
	if err != nil {
		t.Fatalf("LatestForContract: %v", err)
	}
	if got == nil || got.UID != latest.UID {
		t.Errorf("expected latest run %q, got %+v", latest.UID, got)
	}
}

// ---------------------------------------------------------------------------
// Embeddings
// ---------------------------------------------------------------------------

func TestSaveAndLoadEmbedding(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	run := beginTestRun(t, j, "c-1")
	want := []float32{0.1, -0.5, 0.25, 1}
	if err := j.SaveEmbedding(ctx, run.ID, want); err != nil {
		t.Fatalf("SaveEmbedding: %v", err)
	}

	got, err := j.Embedding(ctx, run.ID)
	if err != nil {
		t.Fatalf("Embedding: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("embedding[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSaveEmbeddingDimensionMismatch(t *testing.T) {
	j := newTestJournal(t)

	run := beginTestRun(t, j, "c-1")
	if err := j.SaveEmbedding(context.Background(), run.ID, []float32{1, 2}); err == nil {
		t.Fatal("expected error for wrong-dimension embedding")
	}
}

func TestEmbeddingMissing(t *testing.T) {
	j := newTestJournal(t)

	run := beginTestRun(t, j, "c-1")
	got, err := j.Embedding(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Embedding: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unsaved embedding, got %v", got)
	}
}

// ---------------------------------------------------------------------------
// Serialization
// ---------------------------------------------------------------------------

func TestSerializeRoundTrip(t *testing.T) {
	want := []float32{0, 1.5, -3.25, 0.0001}
	got := deserializeFloat32(serializeFloat32(want))
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d = %v, want %v", i, got[i], want[i])
		}
	}
}
