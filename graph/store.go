package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ErrNotFound is returned by GetContract for an unknown contract id.
var ErrNotFound = errors.New("graph: contract not found")

// ErrDimensionMismatch is returned when a vector handed to the store does not
// match the declared embedding dimension. A mismatch here is a contract
// violation upstream, never a service failure.
var ErrDimensionMismatch = errors.New("graph: embedding dimension mismatch")

// Config configures the graph database connection.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// Store persists contract records in Neo4j under the fixed schema:
//
//	(Contract)-[:HAS_CLAUSE]->(Clause)
//	(Contract)-[:HAS_DATE]->(ImportantDate)
//	(Organization)-[:IS_PARTY_TO {role}]->(Contract)
//	(Clause)-[:HAS_RISK]->(Risk {level})
//	(Clause)-[:HAS_REASON]->(RiskReason {text})
//	(Clause)-[:HAS_OBLIGATION]->(Obligation {text})
//	(Clause)-[:HAS_LIABILITY]->(Liability {text})
//	(Clause)-[:HAS_AI_SUMMARY]->(AISummary {text})
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	dim      int
}

// New connects to Neo4j and verifies connectivity. dim is the declared
// embedding dimension; vectors with any other length are rejected at upsert.
func New(ctx context.Context, cfg Config, dim int) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
	}

	s := &Store{driver: driver, database: cfg.Database, dim: dim}
	if err := s.ensureConstraints(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("creating graph constraints: %w", err)
	}
	return s, nil
}

// ensureConstraints creates the uniqueness constraints the upsert relies on.
// Without them, concurrent MERGEs of the same contract id can race and leave
// duplicate nodes.
func (s *Store) ensureConstraints(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	constraints := []string{
		`CREATE CONSTRAINT contract_id_unique IF NOT EXISTS
		 FOR (c:Contract) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT clause_id_unique IF NOT EXISTS
		 FOR (cl:Clause) REQUIRE cl.id IS UNIQUE`,
	}
	for _, stmt := range constraints {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying driver and its connection pool.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

// UpsertContract writes a full contract record in one transaction. Any
// previously stored clauses, dates, and party links for the same id are
// removed first, so re-ingestion never leaves stale children. Either the
// whole new structure commits or none of it does.
func (s *Store) UpsertContract(ctx context.Context, c *Contract) error {
	if c.ID == "" {
		return fmt.Errorf("contract id is empty")
	}
	if err := s.checkDim("contract", c.ID, c.Embedding); err != nil {
		return err
	}
	for _, cl := range c.Clauses {
		if err := s.checkDim("clause", cl.Name, cl.Embedding); err != nil {
			return err
		}
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	start := time.Now()
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := s.deleteChildren(ctx, tx, c.ID); err != nil {
			return nil, err
		}
		if err := s.writeContract(ctx, tx, c); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("upserting contract %s: %w", c.ID, err)
	}

	slog.Info("graph: contract upserted",
		"contract_id", c.ID,
		"clauses", len(c.Clauses),
		"parties", len(c.Parties),
		"dates", len(c.Dates),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// deleteChildren removes every child of the contract: clause subgraphs,
// dates, and the per-contract organization nodes.
func (s *Store) deleteChildren(ctx context.Context, tx neo4j.ManagedTransaction, id string) error {
	query := `
		MATCH (c:Contract {id: $id})
		OPTIONAL MATCH (c)-[:HAS_CLAUSE]->(cl:Clause)
		OPTIONAL MATCH (cl)-[:HAS_RISK|HAS_REASON|HAS_OBLIGATION|HAS_LIABILITY|HAS_AI_SUMMARY]->(child)
		OPTIONAL MATCH (c)-[:HAS_DATE]->(d:ImportantDate)
		OPTIONAL MATCH (o:Organization)-[:IS_PARTY_TO]->(c)
		DETACH DELETE cl, child, d, o
	`
	_, err := tx.Run(ctx, query, map[string]any{"id": id})
	return err
}

// createdAtFormat is RFC3339 with a fixed-width nanosecond fraction, so the
// lexical ordering of created_at strings is chronological even for contracts
// written within the same second.
const createdAtFormat = "2006-01-02T15:04:05.000000000Z07:00"

func createdAtTimestamp(t time.Time) string {
	return t.UTC().Format(createdAtFormat)
}

func (s *Store) writeContract(ctx context.Context, tx neo4j.ManagedTransaction, c *Contract) error {
	now := createdAtTimestamp(time.Now())

	query := `
		MERGE (c:Contract {id: $id})
		ON CREATE SET c.created_at = $now
		SET c.title = $title,
		    c.file_name = $fileName,
		    c.governing_law = $governingLaw,
		    c.embedding = $embedding
	`
	_, err := tx.Run(ctx, query, map[string]any{
		"id":           c.ID,
		"title":        c.Title,
		"fileName":     c.FileName,
		"governingLaw": c.GoverningLaw,
		"embedding":    float32sToFloat64s(c.Embedding),
		"now":          now,
	})
	if err != nil {
		return err
	}

	for _, p := range c.Parties {
		query := `
			MATCH (c:Contract {id: $id})
			CREATE (o:Organization {name: $name})
			CREATE (o)-[:IS_PARTY_TO {role: $role}]->(c)
		`
		if _, err := tx.Run(ctx, query, map[string]any{
			"id": c.ID, "name": p.Name, "role": p.Role,
		}); err != nil {
			return err
		}
	}

	for _, d := range c.Dates {
		query := `
			MATCH (c:Contract {id: $id})
			CREATE (d:ImportantDate {value: $value, type: $type})
			CREATE (c)-[:HAS_DATE]->(d)
		`
		if _, err := tx.Run(ctx, query, map[string]any{
			"id": c.ID, "value": d.Value, "type": d.Type,
		}); err != nil {
			return err
		}
	}

	for i, cl := range c.Clauses {
		clauseID := cl.ID
		if clauseID == "" {
			clauseID = uuid.New().String()
		}
		query := `
			MATCH (c:Contract {id: $id})
			CREATE (cl:Clause {id: $clauseID, name: $name, summary: $summary,
			                   ordinal: $ordinal, embedding: $embedding})
			CREATE (c)-[:HAS_CLAUSE]->(cl)
			CREATE (cl)-[:HAS_RISK]->(:Risk {level: $riskLevel})
			CREATE (cl)-[:HAS_REASON]->(:RiskReason {text: $riskReason})
			CREATE (cl)-[:HAS_OBLIGATION]->(:Obligation {text: $obligation})
			CREATE (cl)-[:HAS_LIABILITY]->(:Liability {text: $liability})
			CREATE (cl)-[:HAS_AI_SUMMARY]->(:AISummary {text: $aiSummary})
		`
		if _, err := tx.Run(ctx, query, map[string]any{
			"id":         c.ID,
			"clauseID":   clauseID,
			"name":       cl.Name,
			"summary":    cl.Summary,
			"ordinal":    i,
			"embedding":  float32sToFloat64s(cl.Embedding),
			"riskLevel":  cl.RiskLevel,
			"riskReason": cl.RiskReason,
			"obligation": cl.Obligation,
			"liability":  cl.Liability,
			"aiSummary":  cl.AISummary,
		}); err != nil {
			return err
		}
	}

	return nil
}

// GetContract returns the fully composed record for a contract id: the
// contract plus all parties, dates, and clauses with their risk children.
// Returns ErrNotFound for an unknown id.
func (s *Store) GetContract(ctx context.Context, id string) (*Contract, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	record, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		c, err := s.readContract(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if c.Parties, err = s.readParties(ctx, tx, id); err != nil {
			return nil, err
		}
		if c.Dates, err = s.readDates(ctx, tx, id); err != nil {
			return nil, err
		}
		if c.Clauses, err = s.readClauses(ctx, tx, id); err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting contract %s: %w", id, err)
	}

	return record.(*Contract), nil
}

func (s *Store) readContract(ctx context.Context, tx neo4j.ManagedTransaction, id string) (*Contract, error) {
	query := `
		MATCH (c:Contract {id: $id})
		RETURN c.id as id, c.title as title, c.file_name as file_name,
		       c.governing_law as governing_law, c.embedding as embedding,
		       c.created_at as created_at
	`
	result, err := tx.Run(ctx, query, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}

	if !result.Next(ctx) {
		return nil, ErrNotFound
	}

	record := result.Record()
	return &Contract{
		ID:           recordString(record, "id"),
		Title:        recordString(record, "title"),
		FileName:     recordString(record, "file_name"),
		GoverningLaw: recordString(record, "governing_law"),
		Embedding:    recordFloats(record, "embedding"),
		CreatedAt:    recordString(record, "created_at"),
	}, nil
}

func (s *Store) readParties(ctx context.Context, tx neo4j.ManagedTransaction, id string) ([]Party, error) {
	query := `
		MATCH (o:Organization)-[r:IS_PARTY_TO]->(c:Contract {id: $id})
		RETURN o.name as name, r.role as role
		ORDER BY o.name
	`
	result, err := tx.Run(ctx, query, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}

	var parties []Party
	for result.Next(ctx) {
		record := result.Record()
		parties = append(parties, Party{
			Name: recordString(record, "name"),
			Role: recordString(record, "role"),
		})
	}
	return parties, result.Err()
}

func (s *Store) readDates(ctx context.Context, tx neo4j.ManagedTransaction, id string) ([]ImportantDate, error) {
	query := `
		MATCH (c:Contract {id: $id})-[:HAS_DATE]->(d:ImportantDate)
		RETURN d.value as value, d.type as type
		ORDER BY d.value
	`
	result, err := tx.Run(ctx, query, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}

	var dates []ImportantDate
	for result.Next(ctx) {
		record := result.Record()
		dates = append(dates, ImportantDate{
			Value: recordString(record, "value"),
			Type:  recordString(record, "type"),
		})
	}
	return dates, result.Err()
}

func (s *Store) readClauses(ctx context.Context, tx neo4j.ManagedTransaction, id string) ([]Clause, error) {
	query := `
		MATCH (c:Contract {id: $id})-[:HAS_CLAUSE]->(cl:Clause)
		OPTIONAL MATCH (cl)-[:HAS_RISK]->(risk:Risk)
		OPTIONAL MATCH (cl)-[:HAS_REASON]->(reason:RiskReason)
		OPTIONAL MATCH (cl)-[:HAS_OBLIGATION]->(ob:Obligation)
		OPTIONAL MATCH (cl)-[:HAS_LIABILITY]->(li:Liability)
		OPTIONAL MATCH (cl)-[:HAS_AI_SUMMARY]->(ai:AISummary)
		RETURN cl.id as id, cl.name as name, cl.summary as summary,
		       cl.ordinal as ordinal, cl.embedding as embedding,
		       risk.level as risk_level, reason.text as risk_reason,
		       ob.text as obligation, li.text as liability, ai.text as ai_summary
		ORDER BY cl.ordinal
	`
	result, err := tx.Run(ctx, query, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}

	var clauses []Clause
	for result.Next(ctx) {
		record := result.Record()
		clauses = append(clauses, Clause{
			ID:         recordString(record, "id"),
			Name:       recordString(record, "name"),
			Summary:    recordString(record, "summary"),
			Ordinal:    recordInt(record, "ordinal"),
			Embedding:  recordFloats(record, "embedding"),
			RiskLevel:  recordString(record, "risk_level"),
			RiskReason: recordString(record, "risk_reason"),
			Obligation: recordString(record, "obligation"),
			Liability:  recordString(record, "liability"),
			AISummary:  recordString(record, "ai_summary"),
		})
	}
	return clauses, result.Err()
}

// ClauseEmbeddings scans every stored clause embedding across all contracts.
// Degraded zero vectors are included; ordering is contract creation then
// clause ordinal so ranking ties break on insertion order.
func (s *Store) ClauseEmbeddings(ctx context.Context) ([]ClauseVector, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH (c:Contract)-[:HAS_CLAUSE]->(cl:Clause)
		RETURN cl.id as clause_id, c.id as contract_id,
		       cl.name as clause_name, cl.embedding as embedding
		ORDER BY c.created_at, c.id, cl.ordinal
	`
	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("scanning clause embeddings: %w", err)
	}

	var vectors []ClauseVector
	for result.Next(ctx) {
		record := result.Record()
		vectors = append(vectors, ClauseVector{
			ClauseID:   recordString(record, "clause_id"),
			ContractID: recordString(record, "contract_id"),
			ClauseName: recordString(record, "clause_name"),
			Embedding:  recordFloats(record, "embedding"),
		})
	}
	return vectors, result.Err()
}

// DeleteContract removes a contract and all of its children.
func (s *Store) DeleteContract(ctx context.Context, id string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := s.deleteChildren(ctx, tx, id); err != nil {
			return nil, err
		}
		result, err := tx.Run(ctx,
			`MATCH (c:Contract {id: $id}) DETACH DELETE c RETURN count(c) as deleted`,
			map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		if recordInt(record, "deleted") == 0 {
			return nil, ErrNotFound
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting contract %s: %w", id, err)
	}
	return nil
}

// ListContracts returns summary records (no children) for all contracts.
func (s *Store) ListContracts(ctx context.Context) ([]Contract, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH (c:Contract)
		RETURN c.id as id, c.title as title, c.file_name as file_name,
		       c.governing_law as governing_law, c.created_at as created_at
		ORDER BY c.created_at, c.id
	`
	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("listing contracts: %w", err)
	}

	var contracts []Contract
	for result.Next(ctx) {
		record := result.Record()
		contracts = append(contracts, Contract{
			ID:           recordString(record, "id"),
			Title:        recordString(record, "title"),
			FileName:     recordString(record, "file_name"),
			GoverningLaw: recordString(record, "governing_law"),
			CreatedAt:    recordString(record, "created_at"),
		})
	}
	return contracts, result.Err()
}

func (s *Store) checkDim(kind, name string, embedding []float32) error {
	if len(embedding) != s.dim {
		return fmt.Errorf("%w: %s %q has %d dimensions, want %d",
			ErrDimensionMismatch, kind, name, len(embedding), s.dim)
	}
	return nil
}
