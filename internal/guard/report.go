package guard

import (
	"log"
	"time"
)

// Verification gates for a weekly report.
const reportUptimeFloor = 95.0

// Report is the weekly aggregation of guard metrics.
type Report struct {
	WeekStart   time.Time `json:"week_start"`
	UptimePct   float64   `json:"uptime_pct"`
	ChainBreaks int       `json:"chain_breaks"`
	ISPsValid   bool      `json:"isps_valid"`
	AlertCount  int       `json:"alert_count"`
	Verified    bool      `json:"verified"`
}

// ReportBuilder aggregates the week's observations into one record.
// A report is verified iff the chain never broke, every ISP scanned
// valid, and uptime held the floor.
type ReportBuilder struct {
	store  *Store
	logger *log.Logger
}

func NewReportBuilder(store *Store) *ReportBuilder {
	return &ReportBuilder{
		store:  store,
		logger: log.New(log.Writer(), "[GUARD-REPORT] ", log.LstdFlags),
	}
}

// Run builds and persists the report for the trailing 7 days.
func (b *ReportBuilder) Run() {
	weekStart := time.Now().Add(-7 * 24 * time.Hour)
	uptime, breaks, ispsValid, alerts, err := b.store.weeklyMetrics(weekStart)
	if err != nil {
		b.logger.Printf("❌ Weekly metrics aggregation failed: %v", err)
		return
	}

	r := &Report{
		WeekStart:   weekStart,
		UptimePct:   uptime,
		ChainBreaks: breaks,
		ISPsValid:   ispsValid,
		AlertCount:  alerts,
		Verified:    breaks == 0 && ispsValid && uptime >= reportUptimeFloor,
	}
	if err := b.store.recordReport(r); err != nil {
		b.logger.Printf("❌ Report persist failed: %v", err)
		return
	}
	b.logger.Printf("Weekly report: uptime=%.1f%% breaks=%d isps_valid=%v alerts=%d verified=%v",
		r.UptimePct, r.ChainBreaks, r.ISPsValid, r.AlertCount, r.Verified)
}
