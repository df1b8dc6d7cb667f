// Package analyze turns raw contract text into a structured analysis via an
// LLM, tolerating malformed or partial model output through defensive parsing
// and field-level defaulting.
package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/lexatlas/lexatlas/llm"
)

const extractionPrompt = `You are a legal contract analysis engine.
Given the following contract text, extract a structured analysis.

Return a JSON object with exactly these keys:
  "title"         : string, the contract's title
  "governing_law" : string, the governing law or jurisdiction
  "parties"       : array of {"name": string, "role": string}
  "dates"         : array of {"value": string (ISO date if possible), "type": string}
  "clauses"       : array of {"name": string, "summary": string,
                              "risk": {"level": string, "reason": string},
                              "obligation": string, "liability": string,
                              "ai_summary": string}

Rules:
- "risk.level" must be exactly one of "Low", "Medium", "High".
- "role" describes the party's function, e.g. "Service Provider", "Client".
- "type" describes the date, e.g. "effective", "expiration", "renewal".
- Only include clauses clearly present in the text.
- If a field cannot be determined, use an empty string, not null.
- Do NOT include any text outside the JSON object.

CONTRACT TEXT:
%s`

// maxAnalysisChars bounds how much contract text goes into one analysis
// prompt. Chat models with 32k-token windows handle this comfortably.
const maxAnalysisChars = 100000

// RawAnalysis is the JSON shape returned by the extraction LLM call, before
// any validation. Every field may be missing or malformed.
type RawAnalysis struct {
	Title        string      `json:"title"`
	GoverningLaw string      `json:"governing_law"`
	Parties      []RawParty  `json:"parties"`
	Dates        []RawDate   `json:"dates"`
	Clauses      []RawClause `json:"clauses"`
}

type RawParty struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type RawDate struct {
	Value string `json:"value"`
	Type  string `json:"type"`
}

type RawClause struct {
	Name       string  `json:"name"`
	Summary    string  `json:"summary"`
	Risk       RawRisk `json:"risk"`
	Obligation string  `json:"obligation"`
	Liability  string  `json:"liability"`
	AISummary  string  `json:"ai_summary"`
}

type RawRisk struct {
	Level  string `json:"level"`
	Reason string `json:"reason"`
}

// Analyzer maps contract text to a normalized StructuredAnalysis.
type Analyzer struct {
	chat llm.Provider
}

// New creates an Analyzer over the given chat provider.
func New(chat llm.Provider) *Analyzer {
	return &Analyzer{chat: chat}
}

// Analyze invokes the model and returns an always-valid StructuredAnalysis.
// Malformed or partial model output is recovered through defaulting; only a
// complete failure to obtain any usable structure returns an error.
func (a *Analyzer) Analyze(ctx context.Context, text string) (*StructuredAnalysis, error) {
	if len(text) > maxAnalysisChars {
		text = text[:maxAnalysisChars]
	}

	start := time.Now()
	resp, err := a.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(extractionPrompt, text)},
		},
		Temperature:    0.0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("analysis llm chat: %w", err)
	}

	raw, err := parseResponse(resp.Content)
	if err != nil {
		// No usable structure at all: fall back to the minimal defaulted
		// analysis rather than failing the pipeline.
		slog.Warn("analyze: unparseable model output, using defaulted analysis",
			"error", err, "response_len", len(resp.Content))
		raw = &RawAnalysis{}
	}

	analysis := Normalize(raw)
	slog.Info("analyze: analysis complete",
		"title", analysis.Title,
		"clauses", len(analysis.Clauses),
		"parties", len(analysis.Parties),
		"dates", len(analysis.Dates),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return analysis, nil
}

// codeBlockRe strips markdown code fences from LLM output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// parseResponse attempts to decode a RawAnalysis from model output, handling
// common LLM quirks: markdown code blocks, prose before/after the JSON.
func parseResponse(raw string) (*RawAnalysis, error) {
	jsonStr, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var result RawAnalysis
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("unmarshalling analysis result: %w", err)
	}
	return &result, nil
}

// extractJSON attempts to find a valid JSON object in the LLM response text.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}

	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") && json.Valid([]byte(raw)) {
		return raw, nil
	}

	// Find the first '{' and last '}' to extract the JSON object.
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}

	return "", fmt.Errorf("no JSON object found in response")
}
