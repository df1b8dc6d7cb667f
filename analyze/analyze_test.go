package analyze

import (
	"context"
	"errors"
	"testing"

	"github.com/lexatlas/lexatlas/llm"
)

// fakeChat returns a canned chat response.
type fakeChat struct {
	content string
	err     error
}

func (f *fakeChat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.content}, nil
}

func (f *fakeChat) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

// ---------------------------------------------------------------------------
// JSON extraction
// ---------------------------------------------------------------------------

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"title":"NDA"}`, `{"title":"NDA"}`},
		{"code fence", "```json\n{\"title\":\"NDA\"}\n```", `{"title":"NDA"}`},
		{"plain fence", "```\n{\"title\":\"NDA\"}\n```", `{"title":"NDA"}`},
		{"leading prose", `Here is the analysis: {"title":"NDA"}`, `{"title":"NDA"}`},
		{"trailing prose", `{"title":"NDA"} Hope this helps!`, `{"title":"NDA"}`},
		{"prose both sides", `Sure! {"title":"NDA"} Done.`, `{"title":"NDA"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.in)
			if err != nil {
				t.Fatalf("extractJSON(%q) returned error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractJSONNoObject(t *testing.T) {
	for _, in := range []string{"", "no json here", "just } a brace"} {
		if _, err := extractJSON(in); err == nil {
			t.Errorf("extractJSON(%q) expected error", in)
		}
	}
}

// ---------------------------------------------------------------------------
// Normalization
// ---------------------------------------------------------------------------

func TestNormalizeDefaults(t *testing.T) {
	out := Normalize(nil)
	if out.Title != DefaultTitle {
		t.Errorf("Title = %q, want %q", out.Title, DefaultTitle)
	}
	if out.GoverningLaw != DefaultText {
		t.Errorf("GoverningLaw = %q, want %q", out.GoverningLaw, DefaultText)
	}
	if len(out.Parties) != 0 || len(out.Dates) != 0 || len(out.Clauses) != 0 {
		t.Error("empty raw analysis should normalize to empty collections")
	}
}

func TestNormalizeParties(t *testing.T) {
	raw := &RawAnalysis{Parties: []RawParty{
		{Name: "Acme Corp", Role: "Service Provider"},
		{Name: "  ", Role: "Client"},
		{Name: "Beta LLC"},
	}}

	out := Normalize(raw)
	if len(out.Parties) != 2 {
		t.Fatalf("expected 2 parties (nameless dropped), got %d", len(out.Parties))
	}
	if out.Parties[0].Role != "Service Provider" {
		t.Errorf("Parties[0].Role = %q", out.Parties[0].Role)
	}
	if out.Parties[1].Role != DefaultText {
		t.Errorf("missing role should default, got %q", out.Parties[1].Role)
	}
}

func TestNormalizeDates(t *testing.T) {
	raw := &RawAnalysis{Dates: []RawDate{
		{Value: "2025-01-01", Type: "effective_date"},
		{Value: "", Type: "expiration_date"},
		{Value: "2026-12-31"},
	}}

	out := Normalize(raw)
	if len(out.Dates) != 2 {
		t.Fatalf("expected 2 dates (valueless dropped), got %d", len(out.Dates))
	}
	if out.Dates[1].Type != DefaultText {
		t.Errorf("missing type should default, got %q", out.Dates[1].Type)
	}
}

func TestNormalizeClauses(t *testing.T) {
	raw := &RawAnalysis{Clauses: []RawClause{
		{
			Name:    "Termination",
			Summary: "Either party may terminate with 30 days notice.",
			Risk:    RawRisk{Level: "high", Reason: "Short notice period"},
		},
		{Name: "", Summary: ""},
		{Name: "Indemnification"},
	}}

	out := Normalize(raw)
	if len(out.Clauses) != 2 {
		t.Fatalf("expected 2 clauses (contentless dropped), got %d", len(out.Clauses))
	}

	first := out.Clauses[0]
	if first.RiskLevel != "High" {
		t.Errorf("RiskLevel = %q, want High", first.RiskLevel)
	}
	if first.RiskReason != "Short notice period" {
		t.Errorf("RiskReason = %q", first.RiskReason)
	}
	if first.Obligation != DefaultText || first.Liability != DefaultText || first.AISummary != DefaultText {
		t.Error("missing clause fields should default")
	}

	second := out.Clauses[1]
	if second.Summary != DefaultText {
		t.Errorf("clause with name only should default summary, got %q", second.Summary)
	}
	if second.RiskLevel != DefaultRiskLevel {
		t.Errorf("missing risk level should default to %q, got %q", DefaultRiskLevel, second.RiskLevel)
	}
}

func TestNormalizeRiskLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"low", "Low"},
		{"LOW", "Low"},
		{"Medium", "Medium"},
		{"moderate", "Medium"},
		{"high", "High"},
		{" High ", "High"},
		{"", "Medium"},
		{"critical", "Medium"},
		{"unknown", "Medium"},
	}

	for _, tt := range tests {
		if got := normalizeRiskLevel(tt.in); got != tt.want {
			t.Errorf("normalizeRiskLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Analyze
// ---------------------------------------------------------------------------

func TestAnalyze(t *testing.T) {
	content := `{
		"title": "Master Services Agreement",
		"governing_law": "Delaware",
		"parties": [{"name": "Acme Corp", "role": "Provider"}],
		"dates": [{"value": "2025-06-01", "type": "effective_date"}],
		"clauses": [{
			"name": "Limitation of Liability",
			"summary": "Caps liability at fees paid.",
			"risk": {"level": "Medium", "reason": "Standard cap"},
			"obligation": "None",
			"liability": "Capped at 12 months of fees",
			"ai_summary": "A typical liability cap."
		}]
	}`
	a := New(&fakeChat{content: content})

	analysis, err := a.Analyze(context.Background(), "contract text")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if analysis.Title != "Master Services Agreement" {
		t.Errorf("Title = %q", analysis.Title)
	}
	if analysis.GoverningLaw != "Delaware" {
		t.Errorf("GoverningLaw = %q", analysis.GoverningLaw)
	}
	if len(analysis.Clauses) != 1 || analysis.Clauses[0].RiskLevel != "Medium" {
		t.Errorf("unexpected clauses: %+v", analysis.Clauses)
	}
}

func TestAnalyzeTrailingProse(t *testing.T) {
	// Some models append commentary after the JSON object; the object must
	// still be recovered rather than collapsing to a defaulted analysis.
	a := New(&fakeChat{content: `{"title":"Consulting Agreement"} Hope this helps!`})

	analysis, err := a.Analyze(context.Background(), "contract text")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if analysis.Title != "Consulting Agreement" {
		t.Errorf("Title = %q, want %q", analysis.Title, "Consulting Agreement")
	}
}

func TestAnalyzeUnparseableOutput(t *testing.T) {
	a := New(&fakeChat{content: "I could not analyze this document."})

	analysis, err := a.Analyze(context.Background(), "contract text")
	if err != nil {
		t.Fatalf("unparseable output must default, not error: %v", err)
	}
	if analysis.Title != DefaultTitle {
		t.Errorf("Title = %q, want %q", analysis.Title, DefaultTitle)
	}
	if len(analysis.Clauses) != 0 {
		t.Errorf("expected no clauses, got %d", len(analysis.Clauses))
	}
}

func TestAnalyzeChatFailure(t *testing.T) {
	a := New(&fakeChat{err: errors.New("model unavailable")})

	if _, err := a.Analyze(context.Background(), "contract text"); err == nil {
		t.Fatal("expected error when the chat call fails")
	}
}
