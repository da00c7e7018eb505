package guard

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists guard observations: health checks, alerts, ISP scans,
// chain checks, weekly reports, SGE snapshots, and file hash baselines.
type Store struct {
	db *sql.DB
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS health_checks (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	service    TEXT NOT NULL,
	status     TEXT NOT NULL,
	latency_ms INTEGER NOT NULL,
	checked_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS alerts (
	id          TEXT PRIMARY KEY,
	timestamp   TEXT NOT NULL,
	severity    TEXT NOT NULL,
	module      TEXT NOT NULL,
	title       TEXT NOT NULL,
	message     TEXT NOT NULL,
	details     TEXT NOT NULL DEFAULT '',
	resolved    INTEGER NOT NULL DEFAULT 0,
	resolved_at TEXT
);
CREATE TABLE IF NOT EXISTS isp_scans (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	profile    TEXT NOT NULL,
	valid      INTEGER NOT NULL,
	issues     INTEGER NOT NULL,
	tampered   INTEGER NOT NULL,
	scanned_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chain_checks (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	checked_at TEXT NOT NULL,
	records    INTEGER NOT NULL,
	breaks     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS guard_reports (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	week_start TEXT NOT NULL,
	built_at   TEXT NOT NULL,
	uptime_pct REAL NOT NULL,
	chain_breaks INTEGER NOT NULL,
	isps_valid INTEGER NOT NULL,
	alert_count INTEGER NOT NULL,
	verified   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sge_snapshots (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	taken_at  TEXT NOT NULL,
	avg_score REAL NOT NULL,
	pending   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS hash_baselines (
	path       TEXT PRIMARY KEY,
	hash       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

// OpenStore opens (creating if needed) the guard database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open guard db: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("guard schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func nowStr() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func (s *Store) recordHealthCheck(service, status string, latency time.Duration) error {
	_, err := s.db.Exec(`INSERT INTO health_checks (service, status, latency_ms, checked_at) VALUES (?, ?, ?, ?)`,
		service, status, latency.Milliseconds(), nowStr())
	return err
}

func (s *Store) persistAlert(a *Alert) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO alerts
		(id, timestamp, severity, module, title, message, details, resolved, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Timestamp.UTC().Format(time.RFC3339Nano), a.Severity, a.Module,
		a.Title, a.Message, a.Details, boolInt(a.Resolved), nullableTime(a.ResolvedAt))
	return err
}

func (s *Store) recordISPScan(profile string, valid bool, issues int, tampered bool) error {
	_, err := s.db.Exec(`INSERT INTO isp_scans (profile, valid, issues, tampered, scanned_at) VALUES (?, ?, ?, ?, ?)`,
		profile, boolInt(valid), issues, boolInt(tampered), nowStr())
	return err
}

func (s *Store) recordChainCheck(records int64, breaks int) error {
	_, err := s.db.Exec(`INSERT INTO chain_checks (checked_at, records, breaks) VALUES (?, ?, ?)`,
		nowStr(), records, breaks)
	return err
}

func (s *Store) recordSGESnapshot(avgScore float64, pending int) error {
	_, err := s.db.Exec(`INSERT INTO sge_snapshots (taken_at, avg_score, pending) VALUES (?, ?, ?)`,
		nowStr(), avgScore, pending)
	return err
}

// baseline returns the stored hash for path, or "" when none exists.
func (s *Store) baseline(path string) (string, error) {
	var h string
	err := s.db.QueryRow(`SELECT hash FROM hash_baselines WHERE path = ?`, path).Scan(&h)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return h, err
}

func (s *Store) setBaseline(path, hash string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO hash_baselines (path, hash, updated_at) VALUES (?, ?, ?)`,
		path, hash, nowStr())
	return err
}

func (s *Store) recordReport(r *Report) error {
	_, err := s.db.Exec(`INSERT INTO guard_reports
		(week_start, built_at, uptime_pct, chain_breaks, isps_valid, alert_count, verified)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.WeekStart.UTC().Format(time.RFC3339), nowStr(), r.UptimePct,
		r.ChainBreaks, boolInt(r.ISPsValid), r.AlertCount, boolInt(r.Verified))
	return err
}

// weeklyMetrics aggregates the last 7 days of observations.
func (s *Store) weeklyMetrics(since time.Time) (uptimePct float64, chainBreaks int, ispsValid bool, alertCount int, err error) {
	cutoff := since.UTC().Format(time.RFC3339Nano)

	var total, up int
	err = s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'OK' THEN 1 ELSE 0 END), 0)
		FROM health_checks WHERE checked_at >= ?`, cutoff).Scan(&total, &up)
	if err != nil {
		return
	}
	uptimePct = 100.0
	if total > 0 {
		uptimePct = 100.0 * float64(up) / float64(total)
	}

	err = s.db.QueryRow(`SELECT COALESCE(SUM(breaks), 0) FROM chain_checks WHERE checked_at >= ?`, cutoff).Scan(&chainBreaks)
	if err != nil {
		return
	}

	var invalid int
	err = s.db.QueryRow(`SELECT COALESCE(SUM(CASE WHEN valid = 0 OR tampered = 1 THEN 1 ELSE 0 END), 0)
		FROM isp_scans WHERE scanned_at >= ?`, cutoff).Scan(&invalid)
	if err != nil {
		return
	}
	ispsValid = invalid == 0

	err = s.db.QueryRow(`SELECT COUNT(*) FROM alerts WHERE timestamp >= ?`, cutoff).Scan(&alertCount)
	return
}

// lastSGEAverage returns the most recent SGE snapshot average, or -1.
func (s *Store) lastSGEAverage() (float64, error) {
	var avg float64
	err := s.db.QueryRow(`SELECT avg_score FROM sge_snapshots ORDER BY id DESC LIMIT 1`).Scan(&avg)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	return avg, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
