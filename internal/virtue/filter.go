package virtue

import (
	"github.com/windi/backend/internal/bridge"
	"github.com/windi/backend/internal/signal"
)

// AnnotatedSignal is a signal that survived filtering, stamped with the
// visibility mode it was granted under and the observing level.
type AnnotatedSignal struct {
	signal.DecodedSignal
	Visibility string `json:"_visibility"`
	SLevel     int    `json:"_s_level"`
}

// TokenMeta is appended to every filtered dashboard so consumers can see
// which credential shaped the view.
type TokenMeta struct {
	SLevel        int      `json:"s_level"`
	Clearance     string   `json:"clearance"`
	Shelves       []string `json:"shelves"`
	SignalCount   int      `json:"signal_count"`
	TemporalScope int64    `json:"temporal_scope"`
}

// FilteredSnapshot is a dashboard snapshot reduced to what a token may
// observe. No visibility decision is ever delegated to the client: every
// dashboard read passes through here server-side.
type FilteredSnapshot struct {
	Meta        map[string]interface{}        `json:"meta"`
	Totals      bridge.Totals                 `json:"totals"`
	ByShelf     map[string]int64              `json:"by_shelf"`
	BySeverity  map[string]int64              `json:"by_severity"`
	ByEvent     map[string]int64              `json:"by_event"`
	ShelfHealth map[string]bridge.ShelfHealth `json:"shelf_health"`
	Hotspots    []AnnotatedSignal             `json:"hotspots"`
	LiveFeed    []AnnotatedSignal             `json:"live_feed"`
	TokenMeta   TokenMeta                     `json:"_token_meta"`
}

// FilterSignals applies the visibility contract to a signal list: drop
// unless the code is in the token's signal set, the shelf in its shelf
// set, and the (level, code) pair has a defined visibility mode.
func FilterSignals(sigs []signal.DecodedSignal, tok *Token) []AnnotatedSignal {
	allowedCodes := stringSet(tok.Signals)
	allowedShelves := stringSet(tok.Shelves)

	out := make([]AnnotatedSignal, 0, len(sigs))
	for _, s := range sigs {
		if !allowedCodes[s.Code] || !allowedShelves[s.Shelf] {
			continue
		}
		mode := Visibility(tok.SLevel, s.Code)
		if mode == "" {
			continue
		}
		out = append(out, AnnotatedSignal{
			DecodedSignal: s,
			Visibility:    mode,
			SLevel:        tok.SLevel,
		})
	}
	return out
}

// FilterDashboard reduces a full aggregator snapshot to the token's view.
// Shelf-indexed maps and the feed/hotspot arrays are filtered identically.
func FilterDashboard(snap bridge.Snapshot, tok *Token) FilteredSnapshot {
	allowedShelves := stringSet(tok.Shelves)

	out := FilteredSnapshot{
		Meta:        snap.Meta,
		Totals:      snap.Totals,
		ByShelf:     make(map[string]int64),
		BySeverity:  snap.BySeverity,
		ByEvent:     snap.ByEvent,
		ShelfHealth: make(map[string]bridge.ShelfHealth),
		Hotspots:    FilterSignals(snap.Hotspots, tok),
		LiveFeed:    FilterSignals(snap.LiveFeed, tok),
		TokenMeta: TokenMeta{
			SLevel:        tok.SLevel,
			Clearance:     tok.Clearance,
			Shelves:       tok.Shelves,
			SignalCount:   len(tok.Signals),
			TemporalScope: tok.TemporalScope,
		},
	}
	for shelf, n := range snap.ByShelf {
		if allowedShelves[shelf] {
			out.ByShelf[shelf] = n
		}
	}
	for shelf, h := range snap.ShelfHealth {
		if allowedShelves[shelf] {
			out.ShelfHealth[shelf] = h
		}
	}
	return out
}

func stringSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
