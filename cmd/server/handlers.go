package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lexatlas/lexatlas"
)

type handler struct {
	engine lexatlas.Engine
}

func newHandler(engine lexatlas.Engine) *handler {
	return &handler{engine: engine}
}

// handleProcess ingests a contract document, either as a multipart file
// upload or as a JSON body referencing a path on the server host.
//
//	POST /contracts            multipart form, field "file"
//	POST /contracts            {"path": "/data/contract.pdf", "contract_id": "...", "force": true}
func (h *handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")

	var source string
	var cleanup func()
	var opts []lexatlas.ProcessOption

	switch {
	case strings.HasPrefix(ct, "multipart/form-data"):
		if err := r.ParseMultipartForm(64 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "parsing multipart form: "+err.Error())
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file field: "+err.Error())
			return
		}
		defer file.Close()

		// Never trust the client-supplied path.
		name := filepath.Base(header.Filename)
		tmp, err := os.CreateTemp("", "lexatlas-upload-*"+filepath.Ext(name))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "saving upload: "+err.Error())
			return
		}
		if _, err := io.Copy(tmp, file); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			writeError(w, http.StatusInternalServerError, "saving upload: "+err.Error())
			return
		}
		tmp.Close()

		source = tmp.Name()
		cleanup = func() { os.Remove(tmp.Name()) }
		opts = append(opts, lexatlas.WithFileName(name))

		if id := r.FormValue("contract_id"); id != "" {
			opts = append(opts, lexatlas.WithContractID(id))
		}
		if r.FormValue("force") == "true" {
			opts = append(opts, lexatlas.WithForceReprocess())
		}

	default:
		var req struct {
			Path       string `json:"path"`
			ContractID string `json:"contract_id"`
			Force      bool   `json:"force"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "parsing request body: "+err.Error())
			return
		}
		if req.Path == "" {
			writeError(w, http.StatusBadRequest, "path is required")
			return
		}
		info, err := os.Stat(req.Path)
		if err != nil {
			writeError(w, http.StatusBadRequest, "file not found: "+req.Path)
			return
		}
		if info.IsDir() {
			writeError(w, http.StatusBadRequest, "path is a directory: "+req.Path)
			return
		}
		source = req.Path
		if req.ContractID != "" {
			opts = append(opts, lexatlas.WithContractID(req.ContractID))
		}
		if req.Force {
			opts = append(opts, lexatlas.WithForceReprocess())
		}
	}

	if cleanup != nil {
		defer cleanup()
	}

	state, err := h.engine.Process(r.Context(), source, opts...)
	if err != nil {
		if errors.Is(err, lexatlas.ErrUnsupportedFormat) {
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusOK
	if state.Status == "FAILED" {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, state)
}

// handleGetContract returns the full contract graph for one contract.
//
//	GET /contracts/{id}
func (h *handler) handleGetContract(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	contract, err := h.engine.GetContract(r.Context(), id)
	if err != nil {
		if errors.Is(err, lexatlas.ErrContractNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, contract)
}

// handleDeleteContract removes a contract and everything hanging off it.
//
//	DELETE /contracts/{id}
func (h *handler) handleDeleteContract(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.engine.DeleteContract(r.Context(), id); err != nil {
		if errors.Is(err, lexatlas.ErrContractNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// handleListContracts returns summaries of all stored contracts.
//
//	GET /contracts
func (h *handler) handleListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.engine.ListContracts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"contracts": contracts,
		"count":     len(contracts),
	})
}

// handleSearch runs a semantic clause search.
//
//	GET /search?q=termination+for+convenience&top_k=5
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q parameter is required")
		return
	}

	topK := 10
	if v := r.URL.Query().Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "top_k must be an integer between 1 and 100")
			return
		}
		topK = n
	}

	results, err := h.engine.SearchClauses(r.Context(), query, topK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   query,
		"results": results,
		"count":   len(results),
	})
}

// handleListRuns returns recent pipeline runs from the journal.
//
//	GET /runs?limit=20
func (h *handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := h.engine.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleGetRun returns one pipeline run by its run id.
//
//	GET /runs/{id}
func (h *handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	run, err := h.engine.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, lexatlas.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleHealth reports liveness.
//
//	GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
