// Package journal keeps a local SQLite record of pipeline runs: status,
// failed stage, degradation counts, and the computed contract embedding.
// It is retry state only; the graph remains the source of truth.
package journal

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// ErrNotFound is returned by Get for an unknown run uid.
var ErrNotFound = errors.New("journal: run not found")

// Run represents a row in the runs table.
type Run struct {
	ID                 int64  `json:"-"`
	UID                string `json:"run_id"`
	ContractID         string `json:"contract_id"`
	Source             string `json:"source"`
	FileName           string `json:"file_name"`
	ContentHash        string `json:"content_hash"`
	Status             string `json:"status"`
	Stage              string `json:"stage,omitempty"`
	FailureReason      string `json:"failure_reason,omitempty"`
	DegradedEmbeddings int    `json:"degraded_embeddings"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

// Journal wraps the SQLite database holding run records.
type Journal struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) the journal database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Journal, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging journal database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Journal{db: db, embeddingDim: embeddingDim}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Begin records the start of a pipeline run and returns it with a fresh UID.
func (j *Journal) Begin(ctx context.Context, contractID, source, fileName, contentHash string) (*Run, error) {
	run := &Run{
		UID:         uuid.New().String(),
		ContractID:  contractID,
		Source:      source,
		FileName:    fileName,
		ContentHash: contentHash,
		Status:      "PENDING",
	}

	res, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (run_uid, contract_id, source, file_name, content_hash, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.UID, run.ContractID, run.Source, run.FileName, run.ContentHash, run.Status)
	if err != nil {
		return nil, fmt.Errorf("recording run start: %w", err)
	}

	run.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Update writes the current status, stage, failure reason, and degraded
// count of a run back to the journal.
func (j *Journal) Update(ctx context.Context, run *Run) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, stage = ?, failure_reason = ?,
		                degraded_embeddings = ?, updated_at = CURRENT_TIMESTAMP
		WHERE run_uid = ?
	`, run.Status, run.Stage, run.FailureReason, run.DegradedEmbeddings, run.UID)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", run.UID, err)
	}
	return nil
}

// Get returns a run by UID.
func (j *Journal) Get(ctx context.Context, uid string) (*Run, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, run_uid, contract_id, source, file_name, content_hash,
		       status, COALESCE(stage, ''), COALESCE(failure_reason, ''),
		       degraded_embeddings, created_at, updated_at
		FROM runs WHERE run_uid = ?
	`, uid)

	var run Run
	err := row.Scan(&run.ID, &run.UID, &run.ContractID, &run.Source, &run.FileName,
		&run.ContentHash, &run.Status, &run.Stage, &run.FailureReason,
		&run.DegradedEmbeddings, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uid)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns the most recent runs, newest first.
func (j *Journal) List(ctx context.Context, limit int) ([]Run, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, run_uid, contract_id, source, file_name, content_hash,
		       status, COALESCE(stage, ''), COALESCE(failure_reason, ''),
		       degraded_embeddings, created_at, updated_at
		FROM runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.UID, &run.ContractID, &run.Source,
			&run.FileName, &run.ContentHash, &run.Status, &run.Stage,
			&run.FailureReason, &run.DegradedEmbeddings,
			&run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestForContract returns the most recent run for a contract id, or nil
// when the contract has never been processed.
func (j *Journal) LatestForContract(ctx context.Context, contractID string) (*Run, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, run_uid, contract_id, source, file_name, content_hash,
		       status, COALESCE(stage, ''), COALESCE(failure_reason, ''),
		       degraded_embeddings, created_at, updated_at
		FROM runs WHERE contract_id = ? ORDER BY id DESC LIMIT 1
	`, contractID)

	var run Run
	err := row.Scan(&run.ID, &run.UID, &run.ContractID, &run.Source, &run.FileName,
		&run.ContentHash, &run.Status, &run.Stage, &run.FailureReason,
		&run.DegradedEmbeddings, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// SaveEmbedding stores the contract embedding computed during a run.
func (j *Journal) SaveEmbedding(ctx context.Context, runID int64, embedding []float32) error {
	if len(embedding) != j.embeddingDim {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(embedding), j.embeddingDim)
	}
	_, err := j.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_runs (run_id, embedding) VALUES (?, ?)",
		runID, serializeFloat32(embedding))
	return err
}

// Embedding returns the stored contract embedding for a run, or nil when
// none was recorded.
func (j *Journal) Embedding(ctx context.Context, runID int64) ([]float32, error) {
	row := j.db.QueryRowContext(ctx,
		"SELECT embedding FROM vec_runs WHERE run_id = ?", runID)

	var blob []byte
	err := row.Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return deserializeFloat32(blob), nil
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
