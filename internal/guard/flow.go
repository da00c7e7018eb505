package guard

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// staleAfter flags pending submissions whose last update is older than
// this.
const staleAfter = 48 * time.Hour

// SGE drift thresholds: a moving-average change of this many points, or
// the average dropping below the floor, is a drift warning.
const (
	sgeDriftPoints = 5.0
	sgeFloor       = 70.0
)

// flowSubmission is the subset of the governance API's submission shape
// the monitor cares about.
type flowSubmission struct {
	SubmissionID    string    `json:"submission_id"`
	GovernanceLevel string    `json:"governance_level"`
	ResilienceScore float64   `json:"resilience_score"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// FlowMonitor pulls pending submissions from the governance API, flags
// stale ones, and watches the SGE (Structural Governance Effectiveness)
// moving average for drift.
type FlowMonitor struct {
	apiBase string
	store   *Store
	alerts  *AlertEngine
	client  *http.Client
	logger  *log.Logger
}

func NewFlowMonitor(apiBase string, store *Store, alerts *AlertEngine) *FlowMonitor {
	return &FlowMonitor{
		apiBase: apiBase,
		store:   store,
		alerts:  alerts,
		client:  &http.Client{Timeout: probeTimeout},
		logger:  log.New(log.Writer(), "[GUARD-FLOW] ", log.LstdFlags),
	}
}

// Run performs one flow inspection pass.
func (m *FlowMonitor) Run() {
	subs, err := m.fetchSubmissions()
	if err != nil {
		m.alerts.Fire(SeverityWarning, "FlowMonitor", "Governance API unreachable",
			m.apiBase, err.Error())
		return
	}

	var stale []string
	var scoreSum float64
	for _, sub := range subs {
		if !sub.UpdatedAt.IsZero() && time.Since(sub.UpdatedAt) > staleAfter {
			stale = append(stale, sub.SubmissionID)
		}
		scoreSum += sub.ResilienceScore
	}

	if len(stale) > 0 {
		m.alerts.Fire(SeverityWarning, "FlowMonitor", "Stale submissions",
			fmt.Sprintf("%d submission(s) pending longer than %s", len(stale), staleAfter),
			fmt.Sprintf("%v", stale))
	}

	if len(subs) == 0 {
		return
	}
	avg := scoreSum / float64(len(subs))

	prev := -1.0
	if m.store != nil {
		if p, err := m.store.lastSGEAverage(); err == nil {
			prev = p
		}
		if err := m.store.recordSGESnapshot(avg, len(subs)); err != nil {
			m.logger.Printf("❌ Record SGE snapshot failed: %v", err)
		}
	}

	if prev >= 0 && abs(avg-prev) >= sgeDriftPoints {
		m.alerts.Fire(SeverityWarning, "FlowMonitor", "SGE drift",
			fmt.Sprintf("Moving average moved %.1f points", avg-prev),
			fmt.Sprintf("previous=%.1f current=%.1f", prev, avg))
	}
	if avg < sgeFloor {
		m.alerts.Fire(SeverityWarning, "FlowMonitor", "SGE below floor",
			fmt.Sprintf("Average %.1f under floor %.0f", avg, sgeFloor), "")
	}
}

func (m *FlowMonitor) fetchSubmissions() ([]flowSubmission, error) {
	resp, err := m.client.Get(m.apiBase + "/api/submissions?limit=500")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body struct {
		Submissions []flowSubmission `json:"submissions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Submissions, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
