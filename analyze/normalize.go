package analyze

import "strings"

// Defaults substituted for missing or invalid fields.
const (
	DefaultTitle     = "Untitled"
	DefaultText      = "Not specified"
	DefaultRiskLevel = "Medium"
)

// StructuredAnalysis is the normalized, always-valid analysis handed to
// storage. Every text field is non-empty and every risk level is one of
// Low, Medium, High.
type StructuredAnalysis struct {
	Title        string
	GoverningLaw string
	Parties      []Party
	Dates        []ImportantDate
	Clauses      []Clause
}

type Party struct {
	Name string
	Role string
}

type ImportantDate struct {
	Value string
	Type  string
}

type Clause struct {
	Name       string
	Summary    string
	RiskLevel  string
	RiskReason string
	Obligation string
	Liability  string
	AISummary  string
}

// Normalize is a pure function from possibly malformed raw model output to an
// always-valid StructuredAnalysis. Fields failing validation are replaced
// with defaults; entries with no content at all are dropped.
func Normalize(raw *RawAnalysis) *StructuredAnalysis {
	if raw == nil {
		raw = &RawAnalysis{}
	}

	out := &StructuredAnalysis{
		Title:        defaultString(raw.Title, DefaultTitle),
		GoverningLaw: defaultString(raw.GoverningLaw, DefaultText),
	}

	for _, p := range raw.Parties {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		out.Parties = append(out.Parties, Party{
			Name: name,
			Role: defaultString(p.Role, DefaultText),
		})
	}

	for _, d := range raw.Dates {
		value := strings.TrimSpace(d.Value)
		if value == "" {
			continue
		}
		out.Dates = append(out.Dates, ImportantDate{
			Value: value,
			Type:  defaultString(d.Type, DefaultText),
		})
	}

	for _, c := range raw.Clauses {
		name := strings.TrimSpace(c.Name)
		summary := strings.TrimSpace(c.Summary)
		if name == "" && summary == "" {
			continue
		}
		out.Clauses = append(out.Clauses, Clause{
			Name:       defaultString(name, DefaultText),
			Summary:    defaultString(summary, DefaultText),
			RiskLevel:  normalizeRiskLevel(c.Risk.Level),
			RiskReason: defaultString(c.Risk.Reason, DefaultText),
			Obligation: defaultString(c.Obligation, DefaultText),
			Liability:  defaultString(c.Liability, DefaultText),
			AISummary:  defaultString(c.AISummary, DefaultText),
		})
	}

	return out
}

// normalizeRiskLevel maps arbitrary model output onto {Low, Medium, High}.
// Anything unrecognized becomes the conservative default, Medium.
func normalizeRiskLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "low":
		return "Low"
	case "medium", "moderate":
		return "Medium"
	case "high":
		return "High"
	default:
		return DefaultRiskLevel
	}
}

func defaultString(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}
