package lexatlas

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration for the lexatlas engine.
type Config struct {
	// Neo4j is the graph database connection.
	Neo4j Neo4jConfig `json:"neo4j" yaml:"neo4j"`

	// JournalPath is the full path to the SQLite run-journal file.
	// If empty, defaults to ~/.lexatlas/<JournalName>.db
	JournalPath string `json:"journal_path" yaml:"journal_path"`

	// JournalName is the name for the journal database (used when JournalPath
	// is empty). Defaults to "lexatlas".
	JournalName string `json:"journal_name" yaml:"journal_name"`

	// StorageDir controls where the journal is created when JournalPath is not
	// explicitly set. Options: "home" (default) uses ~/.lexatlas/, "local" uses
	// the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`
	Analysis  LLMConfig `json:"analysis" yaml:"analysis"`

	// EmbeddingDim is the declared output dimension D of the embedding model.
	// Every contract and clause vector written to the graph has exactly this
	// many dimensions.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// RequestTimeout bounds each external-service call made by a pipeline
	// stage (embedding, analysis, storage). Zero means the default.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`

	// Concurrency caps how many contracts ProcessBatch works on in parallel.
	// The bound exists to respect rate limits on the embedding and analysis
	// services, not because runs contend with each other.
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// Neo4jConfig configures the graph database connection.
type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, openai, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults for local inference
// and a local Neo4j instance. The journal is stored in ~/.lexatlas/lexatlas.db
// by default.
func DefaultConfig() Config {
	return Config{
		Neo4j: Neo4jConfig{
			URI:      "bolt://localhost:7687",
			Username: "neo4j",
			Database: "neo4j",
		},
		JournalName: "lexatlas",
		StorageDir:  "home",
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "all-minilm",
			BaseURL:  "http://localhost:11434",
		},
		Analysis: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		EmbeddingDim:   384,
		RequestTimeout: 2 * time.Minute,
		Concurrency:    4,
	}
}

// resolveJournalPath computes the final journal path from config fields.
func (c *Config) resolveJournalPath() string {
	if c.JournalPath != "" {
		return c.JournalPath
	}

	name := c.JournalName
	if name == "" {
		name = "lexatlas"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".lexatlas")
		return filepath.Join(dir, name+".db")
	}
}
