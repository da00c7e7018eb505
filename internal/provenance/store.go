package provenance

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// IndexEntry is one row of provenance/index.json.
type IndexEntry struct {
	RecordPath      string    `json:"record_path"`
	StructuralHash  string    `json:"structural_hash"`
	GovernanceLevel string    `json:"governance_level"`
	ResilienceScore int       `json:"resilience_score"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store persists records as one JSON file per submission plus an index
// file that is fully rewritten on every update. Writes are
// prepare-tmp-then-rename; the store is single-writer by convention
// (one instance per process, one process per install), so index reads
// are lock-free.
type Store struct {
	dir    string
	logger *log.Logger
}

// NewStore opens (creating if needed) the provenance directory layout.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "records"), 0o755); err != nil {
		return nil, fmt.Errorf("provenance dir: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: log.New(log.Writer(), "[PROVENANCE] ", log.LstdFlags),
	}, nil
}

// ShouldPersist applies the level rules: HIGH always, MEDIUM when a
// submission id is present, LOW only when explicitly forced.
func ShouldPersist(rec *Record) bool {
	switch rec.GovernanceContext.Level {
	case LevelHigh:
		return true
	case LevelMedium:
		return rec.SubmissionID != ""
	default:
		return strings.HasPrefix(rec.SubmissionID, ForcePrefix)
	}
}

// Persist writes the record file and updates the index. For HIGH records a
// failure is returned to the caller; for MEDIUM/LOW it is logged and the
// record still stands (best-effort persistence).
func (s *Store) Persist(rec *Record) error {
	err := s.write(rec)
	if err == nil {
		return nil
	}
	if rec.GovernanceContext.Level == LevelHigh {
		return fmt.Errorf("HIGH provenance persist failed: %w", err)
	}
	s.logger.Printf("⚠️  Best-effort persist failed (level=%s id=%s): %v",
		rec.GovernanceContext.Level, rec.SubmissionID, err)
	return nil
}

func (s *Store) write(rec *Record) error {
	relPath := filepath.Join("records", rec.SubmissionID+".json")
	absPath := filepath.Join(s.dir, relPath)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWrite(absPath, data); err != nil {
		return err
	}

	idx, err := s.ReadIndex()
	if err != nil {
		return err
	}
	idx[rec.SubmissionID] = IndexEntry{
		RecordPath:      relPath,
		StructuralHash:  rec.CryptographicProof.StructuralHash,
		GovernanceLevel: rec.GovernanceContext.Level,
		ResilienceScore: rec.DeepfakeResilience.Score,
		UpdatedAt:       time.Now(),
	}
	return s.writeIndex(idx)
}

// ReadIndex loads the full index; a missing file is an empty index.
func (s *Store) ReadIndex() (map[string]IndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "index.json"))
	if os.IsNotExist(err) {
		return map[string]IndexEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	idx := map[string]IndexEntry{}
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("corrupt index: %w", err)
	}
	return idx, nil
}

func (s *Store) writeIndex(idx map[string]IndexEntry) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(s.dir, "index.json"), data)
}

// Load reads one persisted record by submission id.
func (s *Store) Load(submissionID string) (*Record, error) {
	idx, err := s.ReadIndex()
	if err != nil {
		return nil, err
	}
	entry, ok := idx[submissionID]
	if !ok {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(filepath.Join(s.dir, entry.RecordPath))
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("corrupt record %s: %w", submissionID, err)
	}
	return rec, nil
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// atomicWrite writes data to a temp file in the target directory and
// renames it into place.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
