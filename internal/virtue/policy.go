// Package virtue implements the Virtue Token bearer-credential system:
// issuance, validation, and the server-side signal filter that enforces
// Sovereignty-Level visibility on every aggregator read.
package virtue

import "github.com/windi/backend/internal/signal"

// Visibility modes. What a holder sees of a signal depends on their
// sovereignty level, never on the client.
const (
	VisibilityDirect     = "direct"
	VisibilityAggregated = "aggregated"
	VisibilityHistorical = "historical"
)

// Sovereignty levels.
const (
	LevelTactical  = 1
	LevelStrategic = 2
	LevelSovereign = 3
)

// Clearance labels per level.
var clearanceLabels = map[int]string{
	LevelTactical:  "TACTICAL",
	LevelStrategic: "STRATEGIC",
	LevelSovereign: "SOVEREIGN",
}

// Shelf partitions per level. L1 sees the tactical dimensions; L2 adds the
// strategic ones as aggregates; L3 adds the identity shelf with historical
// and forensic depth.
var (
	tacticalShelves  = []string{signal.ShelfFriction, signal.ShelfTemporal, signal.ShelfRelational}
	strategicShelves = []string{signal.ShelfImpact, signal.ShelfDensity, signal.ShelfOverride}
	sovereignShelves = []string{signal.ShelfIdentity}
)

// DefaultSignals returns the signal codes a level may observe by default.
func DefaultSignals(level int) []string {
	switch {
	case level >= LevelSovereign:
		return signal.CodesForShelves(signal.Shelves...)
	case level == LevelStrategic:
		return signal.CodesForShelves(append(append([]string{}, tacticalShelves...), strategicShelves...)...)
	default:
		return signal.CodesForShelves(tacticalShelves...)
	}
}

// DefaultTemporalScope returns the observation window per level, in seconds.
func DefaultTemporalScope(level int) int64 {
	switch {
	case level >= LevelSovereign:
		return 365 * 24 * 3600
	case level == LevelStrategic:
		return 30 * 24 * 3600
	default:
		return 24 * 3600
	}
}

// Visibility returns V(s_level, code): the mode under which a level
// observes a code, or "" when the pair is not in the policy table (the
// filter drops such signals).
func Visibility(level int, code string) string {
	def, ok := signal.Lookup(code)
	if !ok {
		return ""
	}
	switch def.Shelf {
	case signal.ShelfFriction, signal.ShelfTemporal, signal.ShelfRelational:
		if level >= LevelTactical {
			return VisibilityDirect
		}
	case signal.ShelfImpact, signal.ShelfDensity, signal.ShelfOverride:
		if level >= LevelStrategic {
			return VisibilityAggregated
		}
	case signal.ShelfIdentity:
		if level >= LevelSovereign {
			return VisibilityHistorical
		}
	}
	return ""
}

// Clearance returns the label for a level.
func Clearance(level int) string {
	if l, ok := clearanceLabels[level]; ok {
		return l
	}
	return "TACTICAL"
}
