package bridge

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windi/backend/internal/emitter"
	"github.com/windi/backend/internal/signal"
)

// testRig wires a full pipeline with one registered emitter.
type testRig struct {
	keys      *Keyring
	clients   *ClientRegistry
	agg       *Aggregator
	validator *Validator
	emitter   *emitter.Emitter
}

func newTestRig(t *testing.T, holds HoldChecker) *testRig {
	t.Helper()
	secret := []byte("registered-shared-secret")
	kid := "key-test-1"

	keys := NewKeyring()
	require.NoError(t, keys.Register(kid, secret))

	wireKey, err := DeriveClientKey(kid, secret)
	require.NoError(t, err)

	em, err := emitter.New(emitter.Config{
		ClientID: "test-client",
		KeyID:    kid,
		CSalt:    "salt",
		HMACKey:  wireKey,
	})
	require.NoError(t, err)

	clients := NewClientRegistry()
	agg := NewAggregator(0)
	return &testRig{
		keys:      keys,
		clients:   clients,
		agg:       agg,
		validator: NewValidator(keys, clients, agg, holds, nil),
		emitter:   em,
	}
}

func (r *testRig) emit(t *testing.T, mutate func(*signal.WirePacket)) []byte {
	t.Helper()
	pkt, err := r.emitter.Emit(emitter.Event{
		Shelf: "S3", Code: "DF-XDOM", Weight: 40, Event: "APPROVED", DomainID: "radiology",
	})
	require.NoError(t, err)
	if mutate != nil {
		mutate(pkt)
		require.NoError(t, r.emitter.Sign(pkt))
	}
	raw, err := json.Marshal(pkt)
	require.NoError(t, err)
	return raw
}

func TestValidator_AcceptsWellFormedPacket(t *testing.T) {
	rig := newTestRig(t, nil)

	sig, err := rig.validator.ValidateAndIngest(rig.emit(t, nil))
	require.NoError(t, err)
	assert.Equal(t, "DF-XDOM", sig.Code)
	assert.Equal(t, "cross_domain_friction", sig.SignalName)
	assert.False(t, sig.Quarantined)

	totals := rig.agg.TotalsSnapshot()
	assert.Equal(t, int64(1), totals.Received)
	assert.Equal(t, int64(0), totals.Rejected)
}

func TestValidator_UnknownKeyRejected(t *testing.T) {
	rig := newTestRig(t, nil)
	raw := rig.emit(t, func(p *signal.WirePacket) { p.Header.KID = "key-nobody" })

	_, err := rig.validator.ValidateAndIngest(raw)
	require.Error(t, err)
	// Re-signing kept the signature valid, but the kid is unregistered.
	assert.True(t, signal.HasCode(err, signal.CodeAuthUnknownKey), "got %v", err)
	assert.Equal(t, int64(1), rig.agg.TotalsSnapshot().Rejected)
}

func TestValidator_TamperedSignatureRejected(t *testing.T) {
	rig := newTestRig(t, nil)
	pkt, err := rig.emitter.Emit(emitter.Event{Shelf: "S3", Code: "DF-XDOM", Weight: 40, Event: "APPROVED"})
	require.NoError(t, err)
	pkt.Payload.Weight = 99 // mutate after signing
	raw, err := json.Marshal(pkt)
	require.NoError(t, err)

	_, err = rig.validator.ValidateAndIngest(raw)
	assert.True(t, signal.HasCode(err, signal.CodeAuthHMACInvalid), "got %v", err)
}

func TestValidator_NonceReuseRejected(t *testing.T) {
	rig := newTestRig(t, nil)
	raw := rig.emit(t, nil)

	_, err := rig.validator.ValidateAndIngest(raw)
	require.NoError(t, err)

	_, err = rig.validator.ValidateAndIngest(raw)
	assert.True(t, signal.HasCode(err, signal.CodeReplayNonceReuse), "got %v", err)
}

func TestValidator_SeqRegressionGraceBoundary(t *testing.T) {
	rig := newTestRig(t, nil)

	// Establish last_seq = 100.
	raw := rig.emit(t, func(p *signal.WirePacket) { p.Header.Seq = 100 })
	_, err := rig.validator.ValidateAndIngest(raw)
	require.NoError(t, err)

	// seq = last_seq - GRACE is exactly out of grace.
	raw = rig.emit(t, func(p *signal.WirePacket) { p.Header.Seq = 100 - SeqGrace })
	_, err = rig.validator.ValidateAndIngest(raw)
	assert.True(t, signal.HasCode(err, signal.CodeReplaySeqRegression), "got %v", err)

	// seq = last_seq - GRACE + 1 is the oldest admissible.
	raw = rig.emit(t, func(p *signal.WirePacket) { p.Header.Seq = 100 - SeqGrace + 1 })
	_, err = rig.validator.ValidateAndIngest(raw)
	assert.NoError(t, err)

	// Accepting an in-grace packet must not lower the high-water mark.
	raw = rig.emit(t, func(p *signal.WirePacket) { p.Header.Seq = 100 - SeqGrace })
	_, err = rig.validator.ValidateAndIngest(raw)
	assert.True(t, signal.HasCode(err, signal.CodeReplaySeqRegression), "got %v", err)
}

func TestValidator_TimestampDriftAndSimulationMode(t *testing.T) {
	rig := newTestRig(t, nil)
	stale := time.Now().Add(-10 * time.Minute).UnixMilli()

	raw := rig.emit(t, func(p *signal.WirePacket) { p.Header.TS = stale })
	_, err := rig.validator.ValidateAndIngest(raw)
	assert.True(t, signal.HasCode(err, signal.CodeReplayTSDrift), "got %v", err)

	// The same client in simulation mode tolerates up to a year.
	rig.clients.SetSimulation(rig.emitter.ClientIDHash(), true)
	raw = rig.emit(t, func(p *signal.WirePacket) { p.Header.TS = stale })
	_, err = rig.validator.ValidateAndIngest(raw)
	assert.NoError(t, err)
}

func TestValidator_SchemaRejections(t *testing.T) {
	rig := newTestRig(t, nil)

	cases := []struct {
		name     string
		raw      []byte
		wantCode string
	}{
		{"not json", []byte("][nope"), signal.CodeSchemaMalformed},
		{"missing auth", []byte(`{"header":{"v":"1.0","kid":"k","cid":"c","ts":1,"nonce":"n","seq":1},"payload":{"shelf":"S3","code":"DF-XDOM","weight":1,"event":"APPROVED"}}`), signal.CodeSchemaMissingSection},
		{"weight above bound", rig.emit(t, func(p *signal.WirePacket) { p.Payload.Weight = 101 }), signal.CodeSchemaInvalidWeight},
		{"weight below bound", rig.emit(t, func(p *signal.WirePacket) { p.Payload.Weight = -1 }), signal.CodeSchemaInvalidWeight},
		{"wrong protocol version", rig.emit(t, func(p *signal.WirePacket) { p.Header.V = "0.9" }), signal.CodeSchemaBadVersion},
		{"code under wrong shelf", rig.emit(t, func(p *signal.WirePacket) { p.Payload.Shelf = "S6" }), signal.CodeSchemaInvalidShelf},
		{"unknown code", rig.emit(t, func(p *signal.WirePacket) { p.Payload.Code = "XX-NOPE" }), signal.CodeSchemaUnknownCode},
		{"unknown event", rig.emit(t, func(p *signal.WirePacket) { p.Payload.Event = "SHIPPED" }), signal.CodeSchemaUnknownEvent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rig.validator.ValidateAndIngest(tc.raw)
			require.Error(t, err)
			assert.Equal(t, tc.wantCode, signal.CodeOf(err))
		})
	}
}

func TestValidator_WeightBoundsInclusive(t *testing.T) {
	rig := newTestRig(t, nil)
	for _, w := range []int{0, 100} {
		raw := rig.emit(t, func(p *signal.WirePacket) { p.Payload.Weight = w })
		_, err := rig.validator.ValidateAndIngest(raw)
		assert.NoError(t, err, "weight %d is in range", w)
	}
}

type quarantineAll struct{}

func (quarantineAll) ShouldQuarantine(signal.DecodedSignal) bool { return true }

func TestValidator_HoldAnnotatesNotDrops(t *testing.T) {
	rig := newTestRig(t, quarantineAll{})

	sig, err := rig.validator.ValidateAndIngest(rig.emit(t, nil))
	require.NoError(t, err)
	assert.True(t, sig.Quarantined)
	// Quarantined signals still count as received.
	assert.Equal(t, int64(1), rig.agg.TotalsSnapshot().Received)
}

func TestValidator_BatchIsolatesFailures(t *testing.T) {
	rig := newTestRig(t, nil)

	good1 := rig.emit(t, nil)
	bad := []byte(`{"broken":`)
	good2 := rig.emit(t, nil)

	res := rig.validator.IngestBatch([][]byte{good1, bad, good2})
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, 1, res.Rejected)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
}

func TestClientState_NonceWindowEviction(t *testing.T) {
	st := &clientState{nonceSet: make(map[string]struct{})}
	for i := 0; i < NonceWindow; i++ {
		st.admitNonce(fmt.Sprintf("nonce-%d", i))
	}
	if _, seen := st.nonceSet["nonce-0"]; !seen {
		t.Fatal("window not yet exceeded, nonce-0 should be tracked")
	}

	st.admitNonce("overflow")
	if _, seen := st.nonceSet["nonce-0"]; seen {
		t.Error("oldest nonce should be evicted at window capacity")
	}
	if len(st.nonceQueue) != NonceWindow {
		t.Errorf("queue should stay at window size, got %d", len(st.nonceQueue))
	}

	// The evicted nonce is re-admissible by design.
	st.admitNonce("nonce-0")
	if _, seen := st.nonceSet["nonce-0"]; !seen {
		t.Error("evicted nonce must be re-admissible")
	}
}
