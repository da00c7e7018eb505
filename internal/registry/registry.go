// Package registry is the durable submission index behind the governance
// API: one row per submission, queryable by level, entity, and time
// window. The provenance store keeps the full records; the registry keeps
// what list endpoints and the guard's flow monitor need.
package registry

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Submission is one registry row.
type Submission struct {
	SubmissionID    string    `json:"submission_id"`
	GovernanceLevel string    `json:"governance_level"`
	DocumentType    string    `json:"document_type,omitempty"`
	Entity          string    `json:"entity,omitempty"`
	StructuralHash  string    `json:"structural_hash,omitempty"`
	ResilienceScore float64   `json:"resilience_score"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
	submission_id    TEXT PRIMARY KEY,
	governance_level TEXT NOT NULL,
	document_type    TEXT NOT NULL DEFAULT '',
	entity           TEXT NOT NULL DEFAULT '',
	structural_hash  TEXT NOT NULL DEFAULT '',
	resilience_score REAL NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'RECORDED',
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submissions_level ON submissions(governance_level);
CREATE INDEX IF NOT EXISTS idx_submissions_updated ON submissions(updated_at);
`

// Registry is the sqlite-backed submission index.
type Registry struct {
	db *sql.DB
}

// Open opens (creating if needed) the registry database at path.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry schema: %w", err)
	}
	return &Registry{db: db}, nil
}

// Close releases the database handle.
func (r *Registry) Close() error { return r.db.Close() }

// Record upserts a submission. created_at is preserved on update.
func (r *Registry) Record(s Submission) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.Status == "" {
		s.Status = "RECORDED"
	}
	_, err := r.db.Exec(`
		INSERT INTO submissions
			(submission_id, governance_level, document_type, entity,
			 structural_hash, resilience_score, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(submission_id) DO UPDATE SET
			governance_level = excluded.governance_level,
			document_type    = excluded.document_type,
			entity           = excluded.entity,
			structural_hash  = excluded.structural_hash,
			resilience_score = excluded.resilience_score,
			status           = excluded.status,
			updated_at       = excluded.updated_at`,
		s.SubmissionID, s.GovernanceLevel, s.DocumentType, s.Entity,
		s.StructuralHash, s.ResilienceScore, s.Status,
		s.CreatedAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

// Get returns one submission by id.
func (r *Registry) Get(id string) (*Submission, error) {
	row := r.db.QueryRow(`
		SELECT submission_id, governance_level, document_type, entity,
		       structural_hash, resilience_score, status, created_at, updated_at
		FROM submissions WHERE submission_id = ?`, id)
	return scanSubmission(row)
}

// Filter narrows a List query. Zero values mean "no constraint".
type Filter struct {
	Level  string
	Entity string
	After  time.Time
	Before time.Time
	Limit  int
}

// List returns submissions matching the filter, most recently updated
// first.
func (r *Registry) List(f Filter) ([]Submission, error) {
	var conds []string
	var args []interface{}
	if f.Level != "" {
		conds = append(conds, "governance_level = ?")
		args = append(args, f.Level)
	}
	if f.Entity != "" {
		conds = append(conds, "entity = ?")
		args = append(args, f.Entity)
	}
	if !f.After.IsZero() {
		conds = append(conds, "updated_at >= ?")
		args = append(args, f.After.UTC().Format(time.RFC3339Nano))
	}
	if !f.Before.IsZero() {
		conds = append(conds, "updated_at <= ?")
		args = append(args, f.Before.UTC().Format(time.RFC3339Nano))
	}

	q := `SELECT submission_id, governance_level, document_type, entity,
	             structural_hash, resilience_score, status, created_at, updated_at
	      FROM submissions`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY updated_at DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Count returns the total number of submissions.
func (r *Registry) Count() (int64, error) {
	var n int64
	err := r.db.QueryRow(`SELECT COUNT(*) FROM submissions`).Scan(&n)
	return n, err
}

// LevelCounts returns submission counts per governance level.
func (r *Registry) LevelCounts() (map[string]int64, error) {
	rows, err := r.db.Query(`SELECT governance_level, COUNT(*) FROM submissions GROUP BY governance_level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var level string
		var n int64
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		out[level] = n
	}
	return out, rows.Err()
}

// AverageResilience returns the mean resilience score, or -1 when the
// registry is empty.
func (r *Registry) AverageResilience() (float64, error) {
	var avg sql.NullFloat64
	if err := r.db.QueryRow(`SELECT AVG(resilience_score) FROM submissions`).Scan(&avg); err != nil {
		return 0, err
	}
	if !avg.Valid {
		return -1, nil
	}
	return avg.Float64, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var s Submission
	var created, updated string
	if err := row.Scan(&s.SubmissionID, &s.GovernanceLevel, &s.DocumentType, &s.Entity,
		&s.StructuralHash, &s.ResilienceScore, &s.Status, &created, &updated); err != nil {
		return nil, err
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	s.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &s, nil
}
