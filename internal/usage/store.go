// Package usage keeps a SQLite ledger of the model calls made while
// answering research requests and reports token and cost totals over
// time windows, per research request, model, provider, conversation or
// source.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Record is one model call made on behalf of a research request.
type Record struct {
	ID             string
	Timestamp      time.Time
	RequestID      string
	ConversationID string
	Model          string
	Provider       string // "openai", "anthropic", "gemini", "ollama"
	InputTokens    int
	OutputTokens   int
	CostUSD        float64
	Estimated      bool   // counts came from the local tokenizer
	Source         string // "api", "cli"
}

// Summary totals the model calls in a window.
type Summary struct {
	TotalRecords      int     `json:"total_records"`
	ResearchRequests  int     `json:"research_requests"`
	EstimatedRecords  int     `json:"estimated_records,omitempty"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
}

// CallsPerRequest is the average number of model calls per research
// request, a rough measure of how many tool rounds answers take.
func (s *Summary) CallsPerRequest() float64 {
	if s.ResearchRequests == 0 {
		return 0
	}
	return float64(s.TotalRecords) / float64(s.ResearchRequests)
}

// Groupings maps the accepted group_by names to their columns.
var Groupings = map[string]string{
	"model":        "model",
	"provider":     "provider",
	"conversation": "conversation_id",
	"request":      "request_id",
	"source":       "source",
}

// GroupNames returns the keys of [Groupings], sorted.
func GroupNames() []string {
	names := make([]string, 0, len(Groupings))
	for k := range Groupings {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// migrations are applied in order; PRAGMA user_version records how many
// have run.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS usage_records (
		id              TEXT PRIMARY KEY,
		timestamp       TEXT NOT NULL,
		request_id      TEXT NOT NULL,
		conversation_id TEXT,
		model           TEXT NOT NULL,
		provider        TEXT NOT NULL,
		input_tokens    INTEGER NOT NULL,
		output_tokens   INTEGER NOT NULL,
		cost_usd        REAL NOT NULL,
		estimated       INTEGER NOT NULL DEFAULT 0,
		source          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_conversation ON usage_records(conversation_id);`,
	`CREATE INDEX IF NOT EXISTS idx_usage_request ON usage_records(request_id);`,
}

// Store is the usage ledger. Methods are safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database and brings its schema up to date.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return err
	}
	for i := version; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			return err
		}
	}
	return nil
}

// Record appends rec, filling in a UUIDv7 ID and the current time when
// they are unset.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records
			(id, timestamp, request_id, conversation_id, model, provider,
			 input_tokens, output_tokens, cost_usd, estimated, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, stamp(rec.Timestamp), rec.RequestID, rec.ConversationID,
		rec.Model, rec.Provider, rec.InputTokens, rec.OutputTokens,
		rec.CostUSD, rec.Estimated, rec.Source,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// totals is the aggregate column list scanned by scanSummary.
const totals = `COUNT(*),
	COUNT(DISTINCT request_id),
	COALESCE(SUM(estimated), 0),
	COALESCE(SUM(input_tokens), 0),
	COALESCE(SUM(output_tokens), 0),
	COALESCE(SUM(cost_usd), 0)`

type scanner interface{ Scan(dest ...any) error }

func scanSummary(row scanner, lead ...any) (*Summary, error) {
	var sum Summary
	dest := append(lead, &sum.TotalRecords, &sum.ResearchRequests, &sum.EstimatedRecords,
		&sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalCostUSD)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &sum, nil
}

// Summary totals the records in [start, end).
func (s *Store) Summary(start, end time.Time) (*Summary, error) {
	row := s.db.QueryRow(
		`SELECT `+totals+` FROM usage_records WHERE timestamp >= ? AND timestamp < ?`,
		stamp(start), stamp(end),
	)
	sum, err := scanSummary(row)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return sum, nil
}

// Grouped totals the records in [start, end) per value of one of the
// [Groupings].
func (s *Store) Grouped(groupBy string, start, end time.Time) (map[string]*Summary, error) {
	column, ok := Groupings[groupBy]
	if !ok {
		return nil, fmt.Errorf("unknown group_by %q (valid: %s)", groupBy, strings.Join(GroupNames(), ", "))
	}
	query := fmt.Sprintf(
		`SELECT COALESCE(%[1]s, ''), %[2]s
		 FROM usage_records
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY %[1]s`,
		column, totals,
	)
	rows, err := s.db.Query(query, stamp(start), stamp(end))
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", groupBy, err)
	}
	defer rows.Close()

	out := make(map[string]*Summary)
	for rows.Next() {
		var key string
		sum, err := scanSummary(rows, &key)
		if err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", groupBy, err)
		}
		out[key] = sum
	}
	return out, rows.Err()
}

// RequestCost is the spend of one research request.
type RequestCost struct {
	RequestID      string    `json:"request_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Started        time.Time `json:"started"`
	ModelCalls     int       `json:"model_calls"`
	Tokens         int64     `json:"tokens"`
	CostUSD        float64   `json:"cost_usd"`
}

// Costliest returns up to limit research requests in [start, end),
// most expensive first.
func (s *Store) Costliest(start, end time.Time, limit int) ([]RequestCost, error) {
	rows, err := s.db.Query(
		`SELECT request_id, COALESCE(MAX(conversation_id), ''), MIN(timestamp), COUNT(*),
			COALESCE(SUM(input_tokens + output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM usage_records
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY request_id
		 ORDER BY SUM(cost_usd) DESC, SUM(input_tokens + output_tokens) DESC
		 LIMIT ?`,
		stamp(start), stamp(end), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query costliest requests: %w", err)
	}
	defer rows.Close()

	var out []RequestCost
	for rows.Next() {
		var rc RequestCost
		var started string
		if err := rows.Scan(&rc.RequestID, &rc.ConversationID, &started, &rc.ModelCalls, &rc.Tokens, &rc.CostUSD); err != nil {
			return nil, fmt.Errorf("scan costliest requests: %w", err)
		}
		if rc.Started, err = time.Parse(time.RFC3339, started); err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", started, err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}
