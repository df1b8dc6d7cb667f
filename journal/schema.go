package journal

import "fmt"

// schemaSQL returns the DDL for the run journal. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Pipeline run journal: one row per processing attempt
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY,
    run_uid TEXT NOT NULL UNIQUE,
    contract_id TEXT NOT NULL,
    source TEXT NOT NULL,
    file_name TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'PENDING',
    stage TEXT,
    failure_reason TEXT,
    degraded_embeddings INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_contract ON runs(contract_id);

-- Contract embeddings per run via sqlite-vec, so a retry after a storage
-- failure can reuse the vector instead of re-calling the embedding service
CREATE VIRTUAL TABLE IF NOT EXISTS vec_runs USING vec0(
    run_id INTEGER PRIMARY KEY,
    embedding float[%d]
);
`, embeddingDim)
}
