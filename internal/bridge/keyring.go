package bridge

import (
	"crypto/sha256"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// keyInfo is the HKDF info string binding derived material to this protocol.
const keyInfo = "windi-telemetry-hmac-v1"

// DeriveClientKey expands a registered secret into the 32-byte HMAC key
// actually used on the wire. The key id is the HKDF salt, so the same
// secret registered under two kids yields independent keys. Emitters must
// apply the same derivation when provisioned.
func DeriveClientKey(kid string, secret []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, []byte(kid), []byte(keyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Keyring holds the HMAC verification keys known to the bridge, keyed by
// key id. Registration derives; lookup is hot-path.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string][]byte)}
}

// Register derives and stores the wire key for kid. Re-registration
// replaces the previous key.
func (k *Keyring) Register(kid string, secret []byte) error {
	key, err := DeriveClientKey(kid, secret)
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.keys[kid] = key
	k.mu.Unlock()
	return nil
}

// RegisterKey stores an already-derived wire key for kid, bypassing HKDF.
// Used when the caller provisions raw key material directly.
func (k *Keyring) RegisterKey(kid string, key []byte) {
	stored := make([]byte, len(key))
	copy(stored, key)
	k.mu.Lock()
	k.keys[kid] = stored
	k.mu.Unlock()
}

// Lookup returns the wire key for kid.
func (k *Keyring) Lookup(kid string) ([]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[kid]
	return key, ok
}

// Count returns the number of registered keys.
func (k *Keyring) Count() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}
