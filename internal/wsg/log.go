// Package wsg maintains the append-only violation log: one JSON line per
// governance violation report. The log is write-only from the service's
// perspective; operators consume it with standard line tooling.
package wsg

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Violation is one report line.
type Violation struct {
	Timestamp    time.Time              `json:"timestamp"`
	Kind         string                 `json:"kind"`
	SubmissionID string                 `json:"submission_id,omitempty"`
	Message      string                 `json:"message"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// Log appends violation reports to a JSON-lines file under one mutex.
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog creates (or reopens) the violation log at path.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Append writes one violation line. The file is opened per append so the
// log survives rotation out from under the process.
func (l *Log) Append(v Violation) error {
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now()
	}
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open violation log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append violation: %w", err)
	}
	return nil
}
