package graph

// Contract is the fully composed contract record as stored in the graph.
type Contract struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	FileName     string          `json:"file_name"`
	GoverningLaw string          `json:"governing_law"`
	Embedding    []float32       `json:"embedding,omitempty"`
	CreatedAt    string          `json:"created_at,omitempty"`
	Parties      []Party         `json:"parties,omitempty"`
	Dates        []ImportantDate `json:"dates,omitempty"`
	Clauses      []Clause        `json:"clauses,omitempty"`
}

// Party is an organization bound to a contract. Role lives on the
// IS_PARTY_TO relationship, not the Organization node.
type Party struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// ImportantDate is a dated milestone owned by one contract.
type ImportantDate struct {
	Value string `json:"value"`
	Type  string `json:"type"`
}

// Clause is a contractual provision with its risk assessment. Risk level,
// reason, obligation, liability, and AI summary are separate nodes in the
// graph; they are flattened here for the composed record.
type Clause struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Summary    string    `json:"summary"`
	Ordinal    int       `json:"ordinal"`
	Embedding  []float32 `json:"embedding,omitempty"`
	RiskLevel  string    `json:"risk_level"`
	RiskReason string    `json:"risk_reason"`
	Obligation string    `json:"obligation"`
	Liability  string    `json:"liability"`
	AISummary  string    `json:"ai_summary"`
}

// ClauseVector is one stored clause embedding, as returned by the scan that
// backs similarity search. Ordered by contract creation then clause ordinal.
type ClauseVector struct {
	ClauseID   string
	ContractID string
	ClauseName string
	Embedding  []float32
}
