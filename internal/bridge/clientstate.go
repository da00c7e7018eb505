package bridge

import (
	"sync"
	"time"
)

// Anti-replay parameters. The nonce window bounds per-client memory; the
// grace window permits small batch reordering without accepting true
// sequence regressions.
const (
	NonceWindow = 10000
	SeqGrace    = 50

	// MaxDriftProduction is the clock-drift tolerance in normal operation.
	MaxDriftProduction = 5 * time.Minute
	// MaxDriftSimulation is the tolerance for clients explicitly registered
	// in simulation mode (replayed historical traffic).
	MaxDriftSimulation = 365 * 24 * time.Hour
)

// clientState is the per-cid anti-replay state. Mutated only under its own
// lock; created lazily by the registry on first sight of a cid.
type clientState struct {
	mu         sync.Mutex
	lastSeq    int64
	nonceSet   map[string]struct{}
	nonceQueue []string // FIFO of at most NonceWindow entries
	simulation bool
}

// admitNonce records a nonce, evicting the oldest once the window is full
// so that the evicted nonce becomes re-admissible. Caller holds st.mu.
func (st *clientState) admitNonce(nonce string) {
	if len(st.nonceQueue) >= NonceWindow {
		oldest := st.nonceQueue[0]
		st.nonceQueue = st.nonceQueue[1:]
		delete(st.nonceSet, oldest)
	}
	st.nonceQueue = append(st.nonceQueue, nonce)
	st.nonceSet[nonce] = struct{}{}
}

// maxDrift returns the drift tolerance for this client. Caller holds st.mu.
func (st *clientState) maxDrift() time.Duration {
	if st.simulation {
		return MaxDriftSimulation
	}
	return MaxDriftProduction
}

// ClientRegistry owns the per-client states. The top-level lock only guards
// map access; packet validation locks the individual client state.
type ClientRegistry struct {
	mu      sync.Mutex
	clients map[string]*clientState
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*clientState)}
}

// get returns the state for cid, creating it on first sight.
func (r *ClientRegistry) get(cid string) *clientState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.clients[cid]
	if !ok {
		st = &clientState{nonceSet: make(map[string]struct{})}
		r.clients[cid] = st
	}
	return st
}

// SetSimulation toggles the one-year drift tolerance for a single client.
// Explicit and client-scoped; the operator opts a cid in via configuration
// or the register endpoint, never globally.
func (r *ClientRegistry) SetSimulation(cid string, on bool) {
	st := r.get(cid)
	st.mu.Lock()
	st.simulation = on
	st.mu.Unlock()
}

// ClientCount returns the number of clients seen so far.
func (r *ClientRegistry) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
