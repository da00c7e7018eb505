package bridge

import (
	"sort"
	"sync"
	"time"

	"github.com/windi/backend/internal/signal"
)

// Aggregator defaults. The deque bound caps resident memory; the recent
// buffer feeds hotspot ranking; the live feed is what dashboards stream.
const (
	DefaultCapacity = 5000
	recentWindow    = 200
	liveFeedSize    = 20
	hotspotCount    = 5
)

// Shelf health thresholds on average weight.
const (
	healthWarningAvg  = 50.0
	healthCriticalAvg = 75.0
)

// Totals are the aggregate ingestion counters.
type Totals struct {
	Received int64 `json:"received"`
	Rejected int64 `json:"rejected"`
}

// ShelfHealth summarizes one shelf for the dashboard.
type ShelfHealth struct {
	Count     int64   `json:"count"`
	AvgWeight float64 `json:"avg_weight"`
	Status    string  `json:"status"` // healthy | warning | critical
}

// Snapshot is a point-in-time copy of the aggregator, produced under the
// lock. All slices and maps are owned by the caller.
type Snapshot struct {
	Meta        map[string]interface{}  `json:"meta"`
	Totals      Totals                  `json:"totals"`
	ByShelf     map[string]int64        `json:"by_shelf"`
	BySeverity  map[string]int64        `json:"by_severity"`
	ByEvent     map[string]int64        `json:"by_event"`
	ShelfHealth map[string]ShelfHealth  `json:"shelf_health"`
	Hotspots    []signal.DecodedSignal  `json:"hotspots"`
	LiveFeed    []signal.DecodedSignal  `json:"live_feed"`
}

// Aggregator is the multi-client in-memory signal store behind every
// dashboard read. One lock covers the deque, the per-shelf indexes, and
// the statistics — snapshot reads copy under that lock.
type Aggregator struct {
	mu sync.Mutex

	capacity int
	deque    []signal.DecodedSignal // bounded, oldest first

	byShelfIndex map[string][]signal.DecodedSignal

	totals      Totals
	shelfCounts map[string]int64
	shelfWeight map[string]int64
	sevCounts   map[string]int64
	eventCounts map[string]int64
	weightSum   int64
	weightCount int64
	startedAt   time.Time
}

// NewAggregator creates an aggregator with the given deque capacity
// (DefaultCapacity when <= 0).
func NewAggregator(capacity int) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Aggregator{
		capacity:     capacity,
		byShelfIndex: make(map[string][]signal.DecodedSignal),
		shelfCounts:  make(map[string]int64),
		shelfWeight:  make(map[string]int64),
		sevCounts:    make(map[string]int64),
		eventCounts:  make(map[string]int64),
		startedAt:    time.Now(),
	}
}

// Ingest appends an accepted signal to the deque and all indexes.
func (a *Aggregator) Ingest(sig signal.DecodedSignal) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.deque) >= a.capacity {
		a.deque = a.deque[1:]
	}
	a.deque = append(a.deque, sig)

	shelf := a.byShelfIndex[sig.Shelf]
	if len(shelf) >= a.capacity {
		shelf = shelf[1:]
	}
	a.byShelfIndex[sig.Shelf] = append(shelf, sig)

	a.totals.Received++
	a.shelfCounts[sig.Shelf]++
	a.shelfWeight[sig.Shelf] += int64(sig.Weight)
	a.sevCounts[sig.Severity]++
	a.eventCounts[sig.Event]++
	a.weightSum += int64(sig.Weight)
	a.weightCount++
}

// RecordRejection counts a rejected packet.
func (a *Aggregator) RecordRejection() {
	a.mu.Lock()
	a.totals.Rejected++
	a.mu.Unlock()
}

// Totals returns a copy of the counters.
func (a *Aggregator) TotalsSnapshot() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals
}

// Shelf returns the last limit decoded signals for one shelf, newest last.
func (a *Aggregator) Shelf(shelf string, limit int) []signal.DecodedSignal {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.byShelfIndex[shelf]
	if limit > 0 && len(idx) > limit {
		idx = idx[len(idx)-limit:]
	}
	out := make([]signal.DecodedSignal, len(idx))
	copy(out, idx)
	return out
}

// Dashboard produces the full snapshot. snapshot_ts is sampled inside the
// lock so the view is point-in-time consistent.
func (a *Aggregator) Dashboard() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Meta: map[string]interface{}{
			"protocol":    signal.ProtocolVersion,
			"snapshot_ts": time.Now().UnixMilli(),
			"uptime_s":    int64(time.Since(a.startedAt).Seconds()),
			"capacity":    a.capacity,
			"resident":    len(a.deque),
		},
		Totals:      a.totals,
		ByShelf:     copyCounts(a.shelfCounts),
		BySeverity:  copyCounts(a.sevCounts),
		ByEvent:     copyCounts(a.eventCounts),
		ShelfHealth: make(map[string]ShelfHealth),
	}

	for shelf, count := range a.shelfCounts {
		avg := float64(a.shelfWeight[shelf]) / float64(count)
		snap.ShelfHealth[shelf] = ShelfHealth{
			Count:     count,
			AvgWeight: avg,
			Status:    healthStatus(avg),
		}
	}

	recent := a.deque
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}
	snap.Hotspots = topByWeight(recent, hotspotCount)

	feed := a.deque
	if len(feed) > liveFeedSize {
		feed = feed[len(feed)-liveFeedSize:]
	}
	snap.LiveFeed = make([]signal.DecodedSignal, len(feed))
	copy(snap.LiveFeed, feed)

	return snap
}

func healthStatus(avg float64) string {
	switch {
	case avg > healthCriticalAvg:
		return "critical"
	case avg > healthWarningAvg:
		return "warning"
	default:
		return "healthy"
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// topByWeight returns the n heaviest signals from window, heaviest first.
// Ties keep the more recent signal first.
func topByWeight(window []signal.DecodedSignal, n int) []signal.DecodedSignal {
	out := make([]signal.DecodedSignal, len(window))
	copy(out, window)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
