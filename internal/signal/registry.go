// Package signal defines the Micro-Signal wire format and the closed
// registries of shelves, signal codes, and workflow events. A Micro-Signal
// describes a governance-relevant event in document workflow; it never
// carries document content, only structural fingerprints.
package signal

import "sort"

// ProtocolVersion is the wire protocol version carried in every header.
const ProtocolVersion = "1.0"

// Severity levels for registered signal codes.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// The seven governance shelves. Each shelf is one governance dimension;
// every signal code belongs to exactly one shelf.
const (
	ShelfIdentity   = "S1" // identity concentration
	ShelfImpact     = "S2" // decision impact
	ShelfFriction   = "S3" // domain friction
	ShelfDensity    = "S4" // governance density
	ShelfOverride   = "S5" // decision override
	ShelfTemporal   = "S6" // temporal pressure
	ShelfRelational = "S7" // relational / dependency
)

// Shelves lists every valid shelf in order.
var Shelves = []string{
	ShelfIdentity, ShelfImpact, ShelfFriction, ShelfDensity,
	ShelfOverride, ShelfTemporal, ShelfRelational,
}

// ShelfDimensions maps each shelf to its governance dimension name.
var ShelfDimensions = map[string]string{
	ShelfIdentity:   "identity",
	ShelfImpact:     "impact",
	ShelfFriction:   "domain_friction",
	ShelfDensity:    "governance_density",
	ShelfOverride:   "decision_override",
	ShelfTemporal:   "temporal",
	ShelfRelational: "relational",
}

// ValidShelf reports whether s is one of S1..S7.
func ValidShelf(s string) bool {
	_, ok := ShelfDimensions[s]
	return ok
}

// Definition is one entry of the compile-time signal registry.
type Definition struct {
	Code     string `json:"code"`
	Shelf    string `json:"shelf"`
	Name     string `json:"name"`
	Severity string `json:"severity"`
}

// Registry is the closed code → definition mapping. Codes not present here
// are rejected at the bridge boundary.
var Registry = map[string]Definition{
	// S1 — identity
	"ID-CONC":  {Code: "ID-CONC", Shelf: ShelfIdentity, Name: "identity_concentration", Severity: SeverityHigh},
	"ID-DRIFT": {Code: "ID-DRIFT", Shelf: ShelfIdentity, Name: "identity_drift", Severity: SeverityMedium},
	// S2 — impact
	"IM-EXPO":  {Code: "IM-EXPO", Shelf: ShelfImpact, Name: "impact_exposure", Severity: SeverityHigh},
	"IM-SCOPE": {Code: "IM-SCOPE", Shelf: ShelfImpact, Name: "impact_scope_shift", Severity: SeverityMedium},
	// S3 — domain friction
	"DF-XDOM":  {Code: "DF-XDOM", Shelf: ShelfFriction, Name: "cross_domain_friction", Severity: SeverityMedium},
	"DF-STALL": {Code: "DF-STALL", Shelf: ShelfFriction, Name: "domain_stall", Severity: SeverityLow},
	// S4 — governance density
	"GD-THIN": {Code: "GD-THIN", Shelf: ShelfDensity, Name: "governance_thinning", Severity: SeverityHigh},
	"GD-OVER": {Code: "GD-OVER", Shelf: ShelfDensity, Name: "governance_saturation", Severity: SeverityLow},
	// S5 — decision override
	"DO-OVRD": {Code: "DO-OVRD", Shelf: ShelfOverride, Name: "authority_override", Severity: SeverityHigh},
	"DO-SKIP": {Code: "DO-SKIP", Shelf: ShelfOverride, Name: "review_skipped", Severity: SeverityMedium},
	// S6 — temporal
	"TM-MISS": {Code: "TM-MISS", Shelf: ShelfTemporal, Name: "deadline_missed", Severity: SeverityMedium},
	"TM-RUSH": {Code: "TM-RUSH", Shelf: ShelfTemporal, Name: "compressed_cycle", Severity: SeverityLow},
	// S7 — relational
	"RL-DEP":  {Code: "RL-DEP", Shelf: ShelfRelational, Name: "dependency_blockage", Severity: SeverityMedium},
	"RL-ISOL": {Code: "RL-ISOL", Shelf: ShelfRelational, Name: "relational_isolation", Severity: SeverityLow},
}

// Events is the closed registry of workflow event names.
var Events = map[string]bool{
	"APPROVED":           true,
	"OVERRIDE":           true,
	"DEADLINE_MISSED":    true,
	"DEPENDENCY_BLOCKED": true,
	"ESCALATED":          true,
	"RELEASED":           true,
	"REVISED":            true,
	"FINALIZED":          true,
}

// Lookup returns the registry definition for code.
func Lookup(code string) (Definition, bool) {
	def, ok := Registry[code]
	return def, ok
}

// ValidEvent reports whether name is a registered workflow event.
func ValidEvent(name string) bool {
	return Events[name]
}

// CodesForShelves returns all registered codes whose shelf is in the given
// set, sorted for deterministic output.
func CodesForShelves(shelves ...string) []string {
	want := make(map[string]bool, len(shelves))
	for _, s := range shelves {
		want[s] = true
	}
	var codes []string
	for code, def := range Registry {
		if want[def.Shelf] {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// ShelvesForCodes derives the shelf set covered by the given codes,
// sorted S1..S7. Unknown codes are ignored.
func ShelvesForCodes(codes []string) []string {
	seen := make(map[string]bool)
	for _, code := range codes {
		if def, ok := Registry[code]; ok {
			seen[def.Shelf] = true
		}
	}
	var out []string
	for _, s := range Shelves {
		if seen[s] {
			out = append(out, s)
		}
	}
	return out
}
