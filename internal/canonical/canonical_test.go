package canonical

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_KeyOrderIndependent(t *testing.T) {
	var a, b map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{"b":1,"a":{"z":true,"y":"x"}}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"a":{"y":"x","z":true},"b":1}`), &b))

	ca, err := MarshalCanonical(a)
	require.NoError(t, err)
	cb, err := MarshalCanonical(b)
	require.NoError(t, err)
	assert.Equal(t, string(ca), string(cb))
}

func TestHashObject_SemanticEquality(t *testing.T) {
	h1, err := HashObject(map[string]interface{}{"weight": 42, "shelf": "S3"})
	require.NoError(t, err)
	h2, err := HashObject(map[string]interface{}{"shelf": "S3", "weight": 42})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	h3, err := HashObject(map[string]interface{}{"shelf": "S3", "weight": 43})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestSignHMAC_VerifyRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	data := []byte(`{"header":{},"payload":{}}`)

	sig := SignHMAC(key, data)
	assert.True(t, VerifyHMAC(key, data, sig))

	// Flipped payload byte fails.
	tampered := append([]byte{}, data...)
	tampered[3] ^= 0x01
	assert.False(t, VerifyHMAC(key, tampered, sig))

	// Wrong key fails.
	assert.False(t, VerifyHMAC([]byte("another-key-another-key-another!"), data, sig))

	// Garbage base64 fails without panicking.
	assert.False(t, VerifyHMAC(key, data, "not-base64!!!"))
}

func TestNewNonce_LengthAndUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		n, err := NewNonce()
		require.NoError(t, err)
		assert.Len(t, n, 32) // 128 bits hex-encoded
		assert.False(t, seen[n], "nonce collision")
		seen[n] = true
	}
}

func TestSignObject_DeterministicAcrossFieldOrder(t *testing.T) {
	key := []byte("0123456789abcdef")
	s1, err := SignObject(key, map[string]interface{}{"a": 1, "b": "x"})
	require.NoError(t, err)
	s2, err := SignObject(key, map[string]interface{}{"b": "x", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}
