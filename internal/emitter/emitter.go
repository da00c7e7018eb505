// Package emitter builds, signs, and serializes outbound Micro-Signal
// packets at the edge. The emitter is stateless per packet — no retries,
// no buffering; those belong to the transport collaborator.
package emitter

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/windi/backend/internal/canonical"
	"github.com/windi/backend/internal/signal"
)

// Config identifies one edge installation. HMACKey signs every packet;
// CSalt blinds domain ids and document vectors before hashing.
type Config struct {
	ClientID string
	KeyID    string
	CSalt    string
	HMACKey  []byte
}

// Event describes one governance-relevant workflow event to be emitted.
type Event struct {
	Shelf     string
	Code      string
	Weight    int
	DomainID  string
	DocVector []byte
	Event     string
	CtxWindow string
	CtxFlags  []string
	TS        int64 // epoch-ms; 0 means "now"
}

// Emitter signs and serializes packets for a single client identity.
// Safe for concurrent use: the sequence counter is atomic, everything
// else is immutable after construction.
type Emitter struct {
	cfg          Config
	clientIDHash string
	seq          atomic.Int64
}

// New validates the configuration and precomputes the client id hash.
func New(cfg Config) (*Emitter, error) {
	if cfg.ClientID == "" || cfg.KeyID == "" {
		return nil, signal.Errf(signal.CodeConfig, "client_id and key_id are required")
	}
	if len(cfg.HMACKey) < 16 {
		return nil, signal.Errf(signal.CodeConfig, "hmac key too short (%d bytes)", len(cfg.HMACKey))
	}
	sum := sha256.Sum256([]byte(cfg.ClientID))
	return &Emitter{
		cfg:          cfg,
		clientIDHash: hex.EncodeToString(sum[:]),
	}, nil
}

// ClientIDHash returns the precomputed SHA-256 of the client id.
func (e *Emitter) ClientIDHash() string { return e.clientIDHash }

// Emit builds and signs one wire packet. The sequence number is assigned
// monotonically per emitter instance; the nonce is fresh 128-bit randomness.
func (e *Emitter) Emit(ev Event) (*signal.WirePacket, error) {
	ts := ev.TS
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	nonce, err := canonical.NewNonce()
	if err != nil {
		return nil, signal.Errf(signal.CodeSignature, "nonce: %v", err)
	}

	flags := ev.CtxFlags
	if flags == nil {
		flags = []string{}
	}

	pkt := &signal.WirePacket{
		Header: signal.Header{
			V:     signal.ProtocolVersion,
			KID:   e.cfg.KeyID,
			CID:   e.clientIDHash,
			TS:    ts,
			Nonce: nonce,
			Seq:   e.seq.Add(1),
		},
		Payload: signal.Payload{
			Shelf:          ev.Shelf,
			Code:           ev.Code,
			Weight:         ev.Weight,
			Event:          ev.Event,
			DomainHash:     e.saltedHash([]byte(ev.DomainID)),
			DocFingerprint: e.saltedHash(ev.DocVector),
			Ctx: signal.Context{
				Window: ev.CtxWindow,
				Flags:  flags,
			},
		},
	}

	if err := e.sign(pkt); err != nil {
		return nil, err
	}
	return pkt, nil
}

// Sign recomputes the signature of an externally assembled packet.
func (e *Emitter) Sign(pkt *signal.WirePacket) error {
	return e.sign(pkt)
}

func (e *Emitter) sign(pkt *signal.WirePacket) error {
	data, err := pkt.SigningBytes()
	if err != nil {
		return signal.Errf(signal.CodeSignature, "canonicalize: %v", err)
	}
	pkt.Auth.Sig = canonical.SignHMAC(e.cfg.HMACKey, data)
	return nil
}

// saltedHash computes SHA256(csalt || data), lowercase hex.
func (e *Emitter) saltedHash(data []byte) string {
	h := sha256.New()
	h.Write([]byte(e.cfg.CSalt))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
