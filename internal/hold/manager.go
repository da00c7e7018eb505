// Package hold implements the Governance Hold Protocol: an authority-gated
// pause on a scope, with a duration cap, dual-actor release, and an
// append-only trail. Holds are annotated on release, never deleted.
package hold

import (
	"crypto/sha256"
	"encoding/hex"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/windi/backend/internal/canonical"
	"github.com/windi/backend/internal/signal"
	"github.com/windi/backend/internal/virtue"
)

// MaxDurationHours caps every hold. No authority can exceed it.
const MaxDurationHours = 72

// Hold is one trail entry. ReleaseActorHash/ReleaseTimestamp stay empty
// until a second actor releases the hold.
type Hold struct {
	ActorHash        string    `json:"actor_hash"`
	Scope            string    `json:"scope"`
	ReasonCode       string    `json:"reason_code"`
	ReasonSignals    []string  `json:"reason_signals"`
	Timestamp        time.Time `json:"timestamp"`
	DurationHours    int       `json:"hold_duration_hours"`
	ReleaseActorHash string    `json:"release_actor_hash,omitempty"`
	ReleaseTimestamp time.Time `json:"release_timestamp,omitempty"`
	Signature        string    `json:"signature"`
}

// IsActive reports whether the hold currently binds: not yet released and
// inside its duration window.
func (h *Hold) IsActive() bool {
	if !h.ReleaseTimestamp.IsZero() {
		return false
	}
	return time.Now().Before(h.Timestamp.Add(time.Duration(h.DurationHours) * time.Hour))
}

// Manager owns the hold trail. All state is process memory; durable
// storage is a collaborator's concern.
type Manager struct {
	mu     sync.Mutex
	holds  []*Hold
	key    []byte
	logger *log.Logger
}

// NewManager creates a hold manager signing trail entries with key.
func NewManager(key []byte) *Manager {
	return &Manager{
		key:    key,
		logger: log.New(log.Writer(), "[HOLD] ", log.LstdFlags),
	}
}

// Activate records a new hold. Requires kill-switch authority at strategic
// level or above, and a duration within the cap.
func (m *Manager) Activate(tok *virtue.Token, scope, reasonCode string, reasonSignals []string, durationHours int) (*Hold, error) {
	if tok == nil || !tok.KillSwitchAuthority || tok.SLevel < virtue.LevelStrategic {
		return nil, signal.Err(signal.CodeHoldUnauthorized)
	}
	if durationHours <= 0 || durationHours > MaxDurationHours {
		return nil, signal.Errf(signal.CodeHoldDurationExceeded, "duration_hours=%d max=%d", durationHours, MaxDurationHours)
	}

	if reasonSignals == nil {
		reasonSignals = []string{}
	}
	h := &Hold{
		ActorHash:     hashActor(tok.Sub),
		Scope:         scope,
		ReasonCode:    reasonCode,
		ReasonSignals: reasonSignals,
		Timestamp:     time.Now(),
		DurationHours: durationHours,
	}
	sig, err := canonical.SignObject(m.key, h)
	if err != nil {
		return nil, signal.Errf(signal.CodeHoldUnauthorized, "sign: %v", err)
	}
	h.Signature = sig

	m.mu.Lock()
	m.holds = append(m.holds, h)
	m.mu.Unlock()

	m.logger.Printf("🛑 HOLD ACTIVATED: scope=%s reason=%s duration=%dh actor=%s",
		scope, reasonCode, durationHours, h.ActorHash[:12])
	return h, nil
}

// Release annotates hold #index as released by the token's actor. The
// releasing actor needs strategic level but not kill-switch authority —
// releasing is dual-actor, not symmetric with activation.
func (m *Manager) Release(tok *virtue.Token, index int) (*Hold, error) {
	if tok == nil || tok.SLevel < virtue.LevelStrategic {
		return nil, signal.Err(signal.CodeHoldReleaseUnauthorized)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.holds) {
		return nil, signal.Errf(signal.CodeHoldNoActiveHolds, "index=%d holds=%d", index, len(m.holds))
	}
	h := m.holds[index]
	if !h.ReleaseTimestamp.IsZero() {
		return nil, signal.Errf(signal.CodeHoldAlreadyReleased, "index=%d", index)
	}

	h.ReleaseActorHash = hashActor(tok.Sub)
	h.ReleaseTimestamp = time.Now()

	m.logger.Printf("✅ HOLD RELEASED: scope=%s index=%d by=%s", h.Scope, index, h.ReleaseActorHash[:12])
	cp := *h
	return &cp, nil
}

// ActiveHolds returns copies of every currently binding hold.
func (m *Manager) ActiveHolds() []Hold {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Hold
	for _, h := range m.holds {
		if h.IsActive() {
			out = append(out, *h)
		}
	}
	return out
}

// Trail returns the full append-only trail, released holds included.
func (m *Manager) Trail() []Hold {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Hold, len(m.holds))
	for i, h := range m.holds {
		out[i] = *h
	}
	return out
}

// ShouldQuarantine implements the bridge's HoldChecker: a signal is
// quarantined when any active hold's scope matches its shelf, its code,
// or is the wildcard "*".
func (m *Manager) ShouldQuarantine(sig signal.DecodedSignal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.holds {
		if !h.IsActive() {
			continue
		}
		if h.Scope == "*" || h.Scope == sig.Shelf || h.Scope == sig.Code ||
			strings.EqualFold(h.Scope, sig.DomainHash) {
			return true
		}
	}
	return false
}

func hashActor(sub string) string {
	sum := sha256.Sum256([]byte(sub))
	return hex.EncodeToString(sum[:])
}
