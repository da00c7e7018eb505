package virtue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/windi/backend/internal/canonical"
	"github.com/windi/backend/internal/signal"
)

// Token is the Virtue Token payload: who the holder is (hashed), what
// sovereignty they carry, and exactly which signals, shelves, and temporal
// window they may observe.
type Token struct {
	Sub                 string   `json:"sub"`
	SLevel              int      `json:"s_level"`
	Domains             []string `json:"domains"`
	KillSwitchAuthority bool     `json:"kill_switch_authority"`
	Signals             []string `json:"signals"`
	Shelves             []string `json:"shelves"`
	TemporalScope       int64    `json:"temporal_scope"` // seconds
	IAT                 int64    `json:"iat"`
	EXP                 int64    `json:"exp"`
	Nonce               string   `json:"nonce"`
	Clearance           string   `json:"clearance"`
}

// SignedHeader is the fixed token header.
type SignedHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	V   string `json:"v"`
}

// SignedToken is the transport form: header, payload, and base64
// HMAC-SHA256 over the canonical-JSON payload.
type SignedToken struct {
	Header    SignedHeader `json:"header"`
	Payload   Token        `json:"payload"`
	Signature string       `json:"signature"`
}

// IssuanceEntry is one append-only issuance log record.
type IssuanceEntry struct {
	Actor  string    `json:"actor"`
	SLevel int       `json:"s_level"`
	IAT    int64     `json:"iat"`
	EXP    int64     `json:"exp"`
	At     time.Time `json:"at"`
}

const tokenTTL = 24 * time.Hour

// Issuer signs Virtue Tokens and keeps the append-only issuance log.
type Issuer struct {
	mu     sync.Mutex
	key    []byte
	log    []IssuanceEntry
	logger *log.Logger
}

// NewIssuer creates an issuer signing with the given secret.
func NewIssuer(secret []byte) *Issuer {
	return &Issuer{
		key:    secret,
		logger: log.New(log.Writer(), "[VIRTUE] ", log.LstdFlags),
	}
}

// Issue completes a draft token's defaults, signs it, and records the
// issuance. The draft's Sub may be a raw actor id; it is hashed here so
// raw identities never appear in a token.
func (is *Issuer) Issue(draft Token) (*SignedToken, error) {
	now := time.Now()

	tok := draft
	if tok.SLevel < LevelTactical {
		tok.SLevel = LevelTactical
	}
	if tok.SLevel > LevelSovereign {
		tok.SLevel = LevelSovereign
	}
	sum := sha256.Sum256([]byte(tok.Sub))
	tok.Sub = hex.EncodeToString(sum[:])

	if len(tok.Domains) == 0 {
		tok.Domains = []string{"*"}
	}
	if len(tok.Signals) == 0 {
		tok.Signals = DefaultSignals(tok.SLevel)
	}
	if len(tok.Shelves) == 0 {
		tok.Shelves = signal.ShelvesForCodes(tok.Signals)
	}
	if tok.TemporalScope == 0 {
		tok.TemporalScope = DefaultTemporalScope(tok.SLevel)
	}
	// Hold authority requires strategic clearance, whatever the draft says.
	if tok.SLevel < LevelStrategic {
		tok.KillSwitchAuthority = false
	}
	tok.IAT = now.Unix()
	tok.EXP = now.Add(tokenTTL).Unix()
	tok.Nonce = uuid.New().String()
	tok.Clearance = Clearance(tok.SLevel)

	sig, err := canonical.SignObject(is.key, tok)
	if err != nil {
		return nil, signal.Errf(signal.CodeAuthMalformedToken, "sign: %v", err)
	}

	is.mu.Lock()
	is.log = append(is.log, IssuanceEntry{
		Actor:  tok.Sub,
		SLevel: tok.SLevel,
		IAT:    tok.IAT,
		EXP:    tok.EXP,
		At:     now,
	})
	is.mu.Unlock()

	is.logger.Printf("Issued virtue token: s_level=%d clearance=%s exp=%d", tok.SLevel, tok.Clearance, tok.EXP)

	return &SignedToken{
		Header:    SignedHeader{Alg: "HS256", Typ: "VirtueToken", V: "1.0"},
		Payload:   tok,
		Signature: sig,
	}, nil
}

// Validate checks signature (constant time) and expiry, returning the
// reconstructed token.
func (is *Issuer) Validate(st *SignedToken) (*Token, error) {
	if st == nil || st.Header.Typ != "VirtueToken" {
		return nil, signal.Err(signal.CodeAuthMalformedToken)
	}
	data, err := canonical.MarshalCanonical(st.Payload)
	if err != nil {
		return nil, signal.Errf(signal.CodeAuthMalformedToken, "%v", err)
	}
	if !canonical.VerifyHMAC(is.key, data, st.Signature) {
		return nil, signal.Err(signal.CodeAuthSignatureInvalid)
	}
	if time.Now().Unix() > st.Payload.EXP {
		return nil, signal.Errf(signal.CodeAuthTokenExpired, "exp=%d", st.Payload.EXP)
	}
	tok := st.Payload
	return &tok, nil
}

// ValidateRaw parses a JSON-serialized signed token and validates it.
func (is *Issuer) ValidateRaw(raw []byte) (*Token, error) {
	var st SignedToken
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, signal.Errf(signal.CodeAuthMalformedToken, "%v", err)
	}
	return is.Validate(&st)
}

// IssuanceLog returns a copy of the append-only issuance log.
func (is *Issuer) IssuanceLog() []IssuanceEntry {
	is.mu.Lock()
	defer is.mu.Unlock()
	out := make([]IssuanceEntry, len(is.log))
	copy(out, is.log)
	return out
}
