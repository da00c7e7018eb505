// Package forensic maintains the append-only audit chain: a relational
// ledger whose rows are linked by truncated SHA-256 hashes back to the
// literal "GENESIS". Appends serialize under one mutex; reads are
// lock-free because rows are never mutated.
package forensic

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// GenesisHash is the previous_hash of the first chain record.
const GenesisHash = "GENESIS"

// hashLen truncates chain hashes to 16 hex chars.
const hashLen = 16

// Record is one forensic ledger entry.
type Record struct {
	ID           int64  `json:"id"`
	DocumentID   string `json:"document_id"`
	Action       string `json:"action"`
	Actor        string `json:"actor"`
	Timestamp    string `json:"timestamp"` // RFC 3339
	PreviousHash string `json:"previous_hash"`
	CurrentHash  string `json:"current_hash"`
	DomainTag    string `json:"domain_tag,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS forensic_ledger (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id   TEXT NOT NULL,
	action        TEXT NOT NULL,
	actor         TEXT NOT NULL,
	timestamp     TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	current_hash  TEXT NOT NULL,
	domain_tag    TEXT NOT NULL DEFAULT '',
	notes         TEXT NOT NULL DEFAULT ''
);`

// Chain is the ledger handle. One chain lock serializes the
// read-tail → compute → append sequence; two writers without it would
// fork the chain.
type Chain struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*Chain, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger schema: %w", err)
	}
	return &Chain{db: db}, nil
}

// Close releases the database handle.
func (c *Chain) Close() error { return c.db.Close() }

// ComputeHash derives the chain hash of one record from its fields and
// the previous hash.
func ComputeHash(documentID, action, actor, timestamp, previousHash string) string {
	h := sha256.New()
	h.Write([]byte(documentID))
	h.Write([]byte("|"))
	h.Write([]byte(action))
	h.Write([]byte("|"))
	h.Write([]byte(actor))
	h.Write([]byte("|"))
	h.Write([]byte(timestamp))
	h.Write([]byte("|"))
	h.Write([]byte(previousHash))
	return hex.EncodeToString(h.Sum(nil))[:hashLen]
}

// Append writes a new chained record and returns it.
func (c *Chain) Append(documentID, action, actor, domainTag, notes string) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Legacy imports sit outside the chain, so the tail skips them.
	prev := GenesisHash
	var tail string
	err := c.db.QueryRow(`SELECT current_hash FROM forensic_ledger WHERE domain_tag != 'legacy' ORDER BY id DESC LIMIT 1`).Scan(&tail)
	switch err {
	case nil:
		prev = tail
	case sql.ErrNoRows:
		// first record
	default:
		return nil, fmt.Errorf("read tail: %w", err)
	}

	ts := time.Now().UTC().Format(time.RFC3339Nano)
	rec := &Record{
		DocumentID:   documentID,
		Action:       action,
		Actor:        actor,
		Timestamp:    ts,
		PreviousHash: prev,
		CurrentHash:  ComputeHash(documentID, action, actor, ts, prev),
		DomainTag:    domainTag,
		Notes:        notes,
	}

	res, err := c.db.Exec(`
		INSERT INTO forensic_ledger
			(document_id, action, actor, timestamp, previous_hash, current_hash, domain_tag, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.DocumentID, rec.Action, rec.Actor, rec.Timestamp,
		rec.PreviousHash, rec.CurrentHash, rec.DomainTag, rec.Notes)
	if err != nil {
		return nil, fmt.Errorf("append: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return rec, nil
}

// All returns every ledger row in id order.
func (c *Chain) All() ([]Record, error) {
	rows, err := c.db.Query(`
		SELECT id, document_id, action, actor, timestamp,
		       previous_hash, current_hash, domain_tag, notes
		FROM forensic_ledger ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Action, &r.Actor, &r.Timestamp,
			&r.PreviousHash, &r.CurrentHash, &r.DomainTag, &r.Notes); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Break describes one chain integrity violation.
type Break struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

// VerifyChain reconstructs the chain from rows in id order and reports
// every break: hash mismatches, linkage gaps, missing hashes, and
// non-monotonic timestamps. Rows tagged "legacy" predate the chain and
// are excluded from linkage.
func (c *Chain) VerifyChain() ([]Break, error) {
	records, err := c.All()
	if err != nil {
		return nil, err
	}

	var breaks []Break
	prev := GenesisHash
	var prevTS time.Time
	first := true

	for _, r := range records {
		if r.DomainTag == "legacy" {
			continue
		}
		if r.CurrentHash == "" {
			breaks = append(breaks, Break{ID: r.ID, Reason: "missing_hash"})
			continue
		}
		if r.PreviousHash != prev {
			breaks = append(breaks, Break{ID: r.ID, Reason: "linkage_gap"})
		}
		if got := ComputeHash(r.DocumentID, r.Action, r.Actor, r.Timestamp, r.PreviousHash); got != r.CurrentHash {
			breaks = append(breaks, Break{ID: r.ID, Reason: "hash_mismatch"})
		}
		if ts, err := time.Parse(time.RFC3339Nano, r.Timestamp); err == nil {
			if !first && ts.Before(prevTS) {
				breaks = append(breaks, Break{ID: r.ID, Reason: "timestamp_regression"})
			}
			prevTS = ts
		}
		prev = r.CurrentHash
		first = false
	}
	return breaks, nil
}

// Count returns the number of ledger rows.
func (c *Chain) Count() (int64, error) {
	var n int64
	err := c.db.QueryRow(`SELECT COUNT(*) FROM forensic_ledger`).Scan(&n)
	return n, err
}
