package signal

import (
	"time"

	"github.com/windi/backend/internal/canonical"
)

// Header is the wire-packet envelope: protocol version, key id, hashed
// client id, timestamp, anti-replay nonce and ordering sequence.
type Header struct {
	V     string `json:"v"`
	KID   string `json:"kid"`
	CID   string `json:"cid"`
	TS    int64  `json:"ts"` // epoch milliseconds
	Nonce string `json:"nonce"`
	Seq   int64  `json:"seq"`
}

// Context carries the observation window and free-form flags of a signal.
type Context struct {
	Window string   `json:"window"`
	Flags  []string `json:"flags"`
}

// Payload is the governance content of a Micro-Signal. DomainHash and
// DocFingerprint are salted SHA-256 digests — never raw identifiers.
type Payload struct {
	Shelf          string  `json:"shelf"`
	Code           string  `json:"code"`
	Weight         int     `json:"weight"` // 0..100
	Event          string  `json:"event"`
	DomainHash     string  `json:"domain_hash"`
	DocFingerprint string  `json:"doc_fingerprint"`
	Ctx            Context `json:"ctx"`
}

// Auth holds the packet signature: base64(HMAC-SHA256 over canonical JSON
// of {header, payload}).
type Auth struct {
	Sig string `json:"sig"`
}

// WirePacket is the full on-the-wire Micro-Signal.
type WirePacket struct {
	Header  Header  `json:"header"`
	Payload Payload `json:"payload"`
	Auth    Auth    `json:"auth"`
}

// SigningBytes returns the canonical JSON of {header, payload}, the exact
// byte sequence the HMAC signature covers.
func (p *WirePacket) SigningBytes() ([]byte, error) {
	return canonical.MarshalCanonical(map[string]interface{}{
		"header":  p.Header,
		"payload": p.Payload,
	})
}

// DecodedSignal is the ingested form of a packet: wire fields plus registry
// lookups and ingestion metadata.
type DecodedSignal struct {
	Shelf          string    `json:"shelf"`
	Code           string    `json:"code"`
	SignalName     string    `json:"signal_name"`
	Severity       string    `json:"severity"`
	Event          string    `json:"event"`
	Weight         int       `json:"weight"`
	ClientIDHash   string    `json:"client_id_hash"`
	DomainHash     string    `json:"domain_hash"`
	DocFingerprint string    `json:"doc_fingerprint"`
	TS             int64     `json:"ts"`
	Seq            int64     `json:"seq"`
	Window         string    `json:"window,omitempty"`
	Flags          []string  `json:"flags,omitempty"`
	Quarantined    bool      `json:"quarantined,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Decode builds a DecodedSignal from an already-validated wire packet.
// The caller guarantees the code is registered.
func Decode(p *WirePacket) DecodedSignal {
	def := Registry[p.Payload.Code]
	return DecodedSignal{
		Shelf:          p.Payload.Shelf,
		Code:           p.Payload.Code,
		SignalName:     def.Name,
		Severity:       def.Severity,
		Event:          p.Payload.Event,
		Weight:         p.Payload.Weight,
		ClientIDHash:   p.Header.CID,
		DomainHash:     p.Payload.DomainHash,
		DocFingerprint: p.Payload.DocFingerprint,
		TS:             p.Header.TS,
		Seq:            p.Header.Seq,
		Window:         p.Payload.Ctx.Window,
		Flags:          p.Payload.Ctx.Flags,
		ReceivedAt:     time.Now(),
	}
}
