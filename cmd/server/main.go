package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexatlas/lexatlas"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := lexatlas.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	// Override from environment variables.
	if v := os.Getenv("LEXATLAS_NEO4J_URI"); v != "" {
		cfg.Neo4j.URI = v
	}
	if v := os.Getenv("LEXATLAS_NEO4J_USERNAME"); v != "" {
		cfg.Neo4j.Username = v
	}
	if v := os.Getenv("LEXATLAS_NEO4J_PASSWORD"); v != "" {
		cfg.Neo4j.Password = v
	}
	if v := os.Getenv("LEXATLAS_NEO4J_DATABASE"); v != "" {
		cfg.Neo4j.Database = v
	}
	if v := os.Getenv("LEXATLAS_JOURNAL_PATH"); v != "" {
		cfg.JournalPath = v
	}
	if v := os.Getenv("LEXATLAS_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("LEXATLAS_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("LEXATLAS_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("LEXATLAS_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("LEXATLAS_ANALYSIS_PROVIDER"); v != "" {
		cfg.Analysis.Provider = v
	}
	if v := os.Getenv("LEXATLAS_ANALYSIS_MODEL"); v != "" {
		cfg.Analysis.Model = v
	}
	if v := os.Getenv("LEXATLAS_ANALYSIS_BASE_URL"); v != "" {
		cfg.Analysis.BaseURL = v
	}
	if v := os.Getenv("LEXATLAS_ANALYSIS_API_KEY"); v != "" {
		cfg.Analysis.APIKey = v
	}

	// Fallback: check well-known provider env vars for API keys.
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Analysis.APIKey == "" && cfg.Analysis.Provider == "openai" {
		cfg.Analysis.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	apiKey := os.Getenv("LEXATLAS_API_KEY")
	corsOrigins := os.Getenv("LEXATLAS_CORS_ORIGINS")

	ctx := context.Background()
	engine, err := lexatlas.New(ctx, cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close(context.Background())

	h := newHandler(engine)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /contracts", h.handleProcess)
	mux.HandleFunc("GET /contracts", h.handleListContracts)
	mux.HandleFunc("GET /contracts/{id}", h.handleGetContract)
	mux.HandleFunc("DELETE /contracts/{id}", h.handleDeleteContract)
	mux.HandleFunc("GET /search", h.handleSearch)
	mux.HandleFunc("GET /runs", h.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", h.handleGetRun)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // processing responses can be long
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
