package guard

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/windi/backend/internal/circuitbreaker"
)

// Alert severities, in escalation order.
const (
	SeverityInfo      = "INFO"
	SeverityWarning   = "WARNING"
	SeverityCritical  = "CRITICAL"
	SeverityEmergency = "EMERGENCY"
)

// dedupWindow suppresses duplicate (module, title) alerts.
const dedupWindow = 5 * time.Minute

// severityRank orders severities for the dedup escalation bypass.
var severityRank = map[string]int{
	SeverityInfo:      0,
	SeverityWarning:   1,
	SeverityCritical:  2,
	SeverityEmergency: 3,
}

// warRoomTimeout bounds the best-effort dispatch POST.
const warRoomTimeout = 5 * time.Second

// Alert is one guard finding.
type Alert struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	Severity   string     `json:"severity"`
	Module     string     `json:"module"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Details    string     `json:"details,omitempty"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// AlertEngine deduplicates, persists, and dispatches alerts. Dispatch to
// the war-room endpoint is best-effort: unreachable means logged, never
// blocking the firing sub-module.
type firedState struct {
	at       time.Time
	severity string
}

type AlertEngine struct {
	mu         sync.Mutex
	lastFired  map[string]firedState // keyed "module|title"
	store      *Store
	warRoomURL string
	client     *http.Client
	breaker    *circuitbreaker.Breaker
	logger     *log.Logger
}

// NewAlertEngine creates the engine. warRoomURL may be empty (no dispatch).
func NewAlertEngine(store *Store, warRoomURL string) *AlertEngine {
	return &AlertEngine{
		lastFired:  make(map[string]firedState),
		store:      store,
		warRoomURL: warRoomURL,
		client:     &http.Client{Timeout: warRoomTimeout},
		breaker:    circuitbreaker.New(circuitbreaker.DefaultConfig("war-room")),
		logger:     log.New(log.Writer(), "[GUARD-ALERT] ", log.LstdFlags),
	}
}

// Fire raises an alert. Two alerts with identical (module, title) within
// the dedup window collapse to the first; the duplicate is dropped
// entirely, not persisted. A strictly higher severity bypasses the
// window, so an escalation (CRITICAL → EMERGENCY) always surfaces.
func (e *AlertEngine) Fire(severity, module, title, message, details string) *Alert {
	key := module + "|" + title

	e.mu.Lock()
	if prev, ok := e.lastFired[key]; ok && time.Since(prev.at) < dedupWindow &&
		severityRank[severity] <= severityRank[prev.severity] {
		e.mu.Unlock()
		return nil
	}
	e.lastFired[key] = firedState{at: time.Now(), severity: severity}
	e.mu.Unlock()

	a := &Alert{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Severity:  severity,
		Module:    module,
		Title:     title,
		Message:   message,
		Details:   details,
	}

	if e.store != nil {
		if err := e.store.persistAlert(a); err != nil {
			e.logger.Printf("❌ Failed to persist alert %s/%s: %v", module, title, err)
		}
	}

	e.logger.Printf("🚨 [%s] %s: %s — %s", severity, module, title, message)
	go e.dispatch(a)
	return a
}

// dispatch POSTs the alert to the war-room endpoint if one is configured.
// A breaker fails fast once the endpoint has been down repeatedly, so a
// dead war room never stacks 5s timeouts behind every alert.
func (e *AlertEngine) dispatch(a *Alert) {
	if e.warRoomURL == "" {
		return
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return
	}
	err = e.breaker.Do(func() error {
		resp, err := e.client.Post(e.warRoomURL, "application/json", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
	if err != nil {
		e.logger.Printf("⚠️  War-room dispatch failed: %v", err)
	}
}
