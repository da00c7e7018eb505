package emitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windi/backend/internal/canonical"
	"github.com/windi/backend/internal/signal"
)

func testConfig() Config {
	return Config{
		ClientID: "clinic-7",
		KeyID:    "key-clinic-7",
		CSalt:    "install-salt",
		HMACKey:  []byte("0123456789abcdef0123456789abcdef"),
	}
}

func TestNew_RejectsIncompleteConfig(t *testing.T) {
	_, err := New(Config{KeyID: "k", HMACKey: testConfig().HMACKey})
	require.Error(t, err)
	assert.True(t, signal.HasCode(err, signal.CodeConfig))

	_, err = New(Config{ClientID: "c", KeyID: "k", HMACKey: []byte("short")})
	require.Error(t, err)
	assert.True(t, signal.HasCode(err, signal.CodeConfig))
}

func TestEmit_PacketShapeAndSequence(t *testing.T) {
	em, err := New(testConfig())
	require.NoError(t, err)

	p1, err := em.Emit(Event{Shelf: "S3", Code: "DF-XDOM", Weight: 40, Event: "APPROVED", DomainID: "radiology"})
	require.NoError(t, err)
	p2, err := em.Emit(Event{Shelf: "S3", Code: "DF-XDOM", Weight: 41, Event: "APPROVED", DomainID: "radiology"})
	require.NoError(t, err)

	assert.Equal(t, signal.ProtocolVersion, p1.Header.V)
	assert.Equal(t, "key-clinic-7", p1.Header.KID)
	assert.Equal(t, em.ClientIDHash(), p1.Header.CID)
	assert.Len(t, p1.Header.CID, 64)
	assert.Len(t, p1.Header.Nonce, 32)
	assert.NotEqual(t, p1.Header.Nonce, p2.Header.Nonce)
	assert.Equal(t, int64(1), p1.Header.Seq)
	assert.Equal(t, int64(2), p2.Header.Seq)
	assert.NotZero(t, p1.Header.TS)

	// Same salt + same domain → same hash; no raw identifier on the wire.
	assert.Equal(t, p1.Payload.DomainHash, p2.Payload.DomainHash)
	assert.Len(t, p1.Payload.DomainHash, 64)
	assert.NotContains(t, p1.Payload.DomainHash, "radiology")
}

func TestEmit_SignatureVerifiesAndBreaksOnTamper(t *testing.T) {
	cfg := testConfig()
	em, err := New(cfg)
	require.NoError(t, err)

	pkt, err := em.Emit(Event{Shelf: "S6", Code: "TM-RUSH", Weight: 25, Event: "FINALIZED"})
	require.NoError(t, err)

	data, err := pkt.SigningBytes()
	require.NoError(t, err)
	assert.True(t, canonical.VerifyHMAC(cfg.HMACKey, data, pkt.Auth.Sig))

	// Any payload mutation invalidates the signature.
	pkt.Payload.Weight = 26
	data, err = pkt.SigningBytes()
	require.NoError(t, err)
	assert.False(t, canonical.VerifyHMAC(cfg.HMACKey, data, pkt.Auth.Sig))
}

func TestEmit_SaltSeparatesInstallations(t *testing.T) {
	a, err := New(testConfig())
	require.NoError(t, err)
	cfgB := testConfig()
	cfgB.CSalt = "different-salt"
	b, err := New(cfgB)
	require.NoError(t, err)

	pa, err := a.Emit(Event{Shelf: "S1", Code: "ID-CONC", Weight: 80, Event: "ESCALATED", DomainID: "legal"})
	require.NoError(t, err)
	pb, err := b.Emit(Event{Shelf: "S1", Code: "ID-CONC", Weight: 80, Event: "ESCALATED", DomainID: "legal"})
	require.NoError(t, err)

	assert.NotEqual(t, pa.Payload.DomainHash, pb.Payload.DomainHash)
}
