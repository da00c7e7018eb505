// Package guard is the supervisory daemon over the WINDI pipeline: health
// probes, forensic chain verification, ISP profile scanning, flow
// stagnation monitoring, alert dispatch, and weekly reporting. Sub-modules
// run on independent tickers and never block each other; a panic or error
// in one tick is logged and the loop continues at the next.
package guard

import (
	"context"
	"log"
	"time"
)

// Sub-module intervals.
const (
	HealthInterval = 120 * time.Second
	ChainInterval  = 300 * time.Second
	ISPInterval    = 900 * time.Second
	FlowInterval   = 600 * time.Second
	ReportInterval = 7 * 24 * time.Hour
)

// runner is one periodic sub-module.
type runner interface {
	Run()
}

// Guard owns the sub-module tasks.
type Guard struct {
	Health *HealthProbe
	Chain  *ChainWatcher
	ISP    *ISPScanner
	Flow   *FlowMonitor
	Report *ReportBuilder

	logger *log.Logger
}

// New assembles a guard from its sub-modules. Any of them may be nil
// (that loop is simply not started).
func New(health *HealthProbe, chain *ChainWatcher, ispScan *ISPScanner, flow *FlowMonitor, report *ReportBuilder) *Guard {
	return &Guard{
		Health: health,
		Chain:  chain,
		ISP:    ispScan,
		Flow:   flow,
		Report: report,
		logger: log.New(log.Writer(), "[GUARD] ", log.LstdFlags),
	}
}

// Start launches every configured sub-module on its own task. Cancellation
// is honored at the next interval tick; in-flight probes complete or time
// out on their own HTTP deadlines.
func (g *Guard) Start(ctx context.Context) {
	g.logger.Println("🛡️  Governance Guard starting")
	g.spawn(ctx, "HealthProbe", g.Health, HealthInterval)
	g.spawn(ctx, "ChainWatcher", g.Chain, ChainInterval)
	g.spawn(ctx, "ISPScanner", g.ISP, ISPInterval)
	g.spawn(ctx, "FlowMonitor", g.Flow, FlowInterval)
	g.spawn(ctx, "ReportBuilder", g.Report, ReportInterval)
}

func (g *Guard) spawn(ctx context.Context, name string, r runner, interval time.Duration) {
	if r == nil || isNilRunner(r) {
		return
	}
	go func() {
		// First pass immediately, then on the ticker.
		g.tick(name, r)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				g.logger.Printf("%s stopped", name)
				return
			case <-ticker.C:
				g.tick(name, r)
			}
		}
	}()
}

// tick runs one pass, containing panics at the sub-module boundary.
func (g *Guard) tick(name string, r runner) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Printf("❌ %s panicked: %v", name, rec)
		}
	}()
	r.Run()
}

// isNilRunner guards against typed-nil sub-modules passed through the
// runner interface.
func isNilRunner(r runner) bool {
	switch v := r.(type) {
	case *HealthProbe:
		return v == nil
	case *ChainWatcher:
		return v == nil
	case *ISPScanner:
		return v == nil
	case *FlowMonitor:
		return v == nil
	case *ReportBuilder:
		return v == nil
	}
	return false
}
