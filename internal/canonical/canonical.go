// Package canonical provides the canonical-JSON and hashing primitives used
// everywhere a WINDI artifact is signed or fingerprinted. Anything that is
// hashed MUST go through MarshalCanonical so that two semantically equal
// payloads always produce byte-identical input (RFC 8785: sorted keys, UTF-8,
// minimal separators).
package canonical

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// MarshalCanonical serializes v to RFC 8785 canonical JSON.
func MarshalCanonical(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical transform: %w", err)
	}
	return out, nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashObject canonicalizes v and returns its SHA-256 hex digest.
func HashObject(v interface{}) (string, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(data), nil
}

// SignHMAC computes base64(HMAC-SHA256(key, data)).
func SignHMAC(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC recomputes the signature and compares in constant time.
func VerifyHMAC(key, data []byte, sigB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hmac.Equal(sig, mac.Sum(nil))
}

// SignObject canonicalizes v and signs it with key.
func SignObject(key []byte, v interface{}) (string, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return SignHMAC(key, data), nil
}

// NewNonce returns 128 bits of cryptographically secure randomness, hex-encoded.
func NewNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("nonce generation: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SecureCompare performs a constant-time comparison of two byte slices.
func SecureCompare(a, b []byte) bool {
	return hmac.Equal(a, b)
}
