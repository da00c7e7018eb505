// Package bridge implements the ingestion side of the WINDI telemetry
// pipeline: schema validation, HMAC verification, per-client anti-replay,
// and aggregation into shelf-indexed dashboards.
package bridge

import (
	"log"
	"time"

	"github.com/windi/backend/internal/canonical"
	"github.com/windi/backend/internal/signal"
)

// HoldChecker lets the bridge consult the governance-hold layer without
// depending on it. Signals arriving while a matching hold is active are
// annotated as quarantined, never dropped — a hold pauses downstream
// consumption, not observation.
type HoldChecker interface {
	ShouldQuarantine(sig signal.DecodedSignal) bool
}

// SignalSink receives every accepted signal after aggregation (live feed
// fan-out). Implementations must not block.
type SignalSink interface {
	SignalAccepted(sig signal.DecodedSignal)
}

// Validator runs the strict four-step ingestion pipeline. Any step's
// failure rejects the packet, increments total_rejected, and surfaces a
// stable coded error to the caller. The bridge is not retry-aware.
type Validator struct {
	keys    *Keyring
	clients *ClientRegistry
	agg     *Aggregator
	holds   HoldChecker
	sink    SignalSink
	logger  *log.Logger
}

// NewValidator wires the pipeline. holds and sink may be nil.
func NewValidator(keys *Keyring, clients *ClientRegistry, agg *Aggregator, holds HoldChecker, sink SignalSink) *Validator {
	return &Validator{
		keys:    keys,
		clients: clients,
		agg:     agg,
		holds:   holds,
		sink:    sink,
		logger:  log.New(log.Writer(), "[BRIDGE] ", log.LstdFlags),
	}
}

// ValidateAndIngest processes one raw packet through
// schema → auth → anti-replay → decode/ingest.
func (v *Validator) ValidateAndIngest(raw []byte) (*signal.DecodedSignal, error) {
	sig, err := v.validate(raw)
	if err != nil {
		v.agg.RecordRejection()
		recordRejection(signal.CodeOf(err))
		return nil, err
	}
	v.agg.Ingest(*sig)
	recordAccepted(sig.Shelf)
	if v.sink != nil {
		v.sink.SignalAccepted(*sig)
	}
	return sig, nil
}

func (v *Validator) validate(raw []byte) (*signal.DecodedSignal, error) {
	// Step 1: schema.
	pkt, err := validateSchema(raw)
	if err != nil {
		return nil, err
	}

	// Step 2: auth.
	key, ok := v.keys.Lookup(pkt.Header.KID)
	if !ok {
		return nil, signal.Errf(signal.CodeAuthUnknownKey, "kid=%s", pkt.Header.KID)
	}
	data, err := pkt.SigningBytes()
	if err != nil {
		return nil, signal.Errf(signal.CodeSchemaMalformed, "canonicalize: %v", err)
	}
	if !canonical.VerifyHMAC(key, data, pkt.Auth.Sig) {
		return nil, signal.Errf(signal.CodeAuthHMACInvalid, "kid=%s", pkt.Header.KID)
	}

	// Step 3: anti-replay, under the per-client lock.
	st := v.clients.get(pkt.Header.CID)
	st.mu.Lock()
	defer st.mu.Unlock()

	drift := time.Duration(abs64(time.Now().UnixMilli()-pkt.Header.TS)) * time.Millisecond
	if drift > st.maxDrift() {
		return nil, signal.Errf(signal.CodeReplayTSDrift, "drift_ms=%d max_ms=%d", drift.Milliseconds(), st.maxDrift().Milliseconds())
	}
	if _, seen := st.nonceSet[pkt.Header.Nonce]; seen {
		return nil, signal.Errf(signal.CodeReplayNonceReuse, "nonce=%s", truncate(pkt.Header.Nonce, 8))
	}
	if pkt.Header.Seq <= st.lastSeq-SeqGrace {
		return nil, signal.Errf(signal.CodeReplaySeqRegression, "seq=%d last_seq=%d grace=%d", pkt.Header.Seq, st.lastSeq, SeqGrace)
	}
	if pkt.Header.Seq > st.lastSeq {
		st.lastSeq = pkt.Header.Seq
	}
	st.admitNonce(pkt.Header.Nonce)

	// Step 4: decode.
	sig := signal.Decode(pkt)
	if v.holds != nil && v.holds.ShouldQuarantine(sig) {
		sig.Quarantined = true
		v.logger.Printf("⚠️  Signal quarantined under active hold: code=%s shelf=%s", sig.Code, sig.Shelf)
	}
	return &sig, nil
}

// BatchResult reports the outcome of a telemetry batch.
type BatchResult struct {
	Accepted int          `json:"accepted"`
	Rejected int          `json:"rejected"`
	Errors   []BatchError `json:"errors"`
}

// BatchError attributes one rejection to its packet index.
type BatchError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// IngestBatch runs each packet through the pipeline independently; one bad
// packet never blocks the rest.
func (v *Validator) IngestBatch(packets [][]byte) BatchResult {
	res := BatchResult{Errors: []BatchError{}}
	for i, raw := range packets {
		if _, err := v.ValidateAndIngest(raw); err != nil {
			res.Rejected++
			res.Errors = append(res.Errors, BatchError{Index: i, Reason: err.Error()})
			continue
		}
		res.Accepted++
	}
	return res
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
