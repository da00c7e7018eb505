package virtue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windi/backend/internal/canonical"
	"github.com/windi/backend/internal/signal"
)

var issuerSecret = []byte("virtue-test-secret-32-bytes-long")

func TestIssue_DefaultsPerLevel(t *testing.T) {
	is := NewIssuer(issuerSecret)

	l1, err := is.Issue(Token{Sub: "analyst@clinic", SLevel: 1})
	require.NoError(t, err)
	l3, err := is.Issue(Token{Sub: "sovereign@hq", SLevel: 3})
	require.NoError(t, err)

	// Raw identity never appears in the token.
	assert.NotEqual(t, "analyst@clinic", l1.Payload.Sub)
	assert.Len(t, l1.Payload.Sub, 64)

	assert.Equal(t, "TACTICAL", l1.Payload.Clearance)
	assert.ElementsMatch(t, []string{"S3", "S6", "S7"}, l1.Payload.Shelves)
	assert.Equal(t, int64(24*3600), l1.Payload.TemporalScope)

	assert.Equal(t, "SOVEREIGN", l3.Payload.Clearance)
	assert.ElementsMatch(t, []string{"S1", "S2", "S3", "S4", "S5", "S6", "S7"}, l3.Payload.Shelves)
	assert.Equal(t, int64(365*24*3600), l3.Payload.TemporalScope)

	assert.Equal(t, "HS256", l1.Header.Alg)
	assert.Equal(t, "VirtueToken", l1.Header.Typ)
	assert.NotEqual(t, l1.Payload.Nonce, l3.Payload.Nonce)
	assert.Equal(t, l1.Payload.IAT+24*3600, l1.Payload.EXP)
}

func TestIssue_KillSwitchRequiresStrategicLevel(t *testing.T) {
	is := NewIssuer(issuerSecret)

	l1, err := is.Issue(Token{Sub: "a", SLevel: 1, KillSwitchAuthority: true})
	require.NoError(t, err)
	assert.False(t, l1.Payload.KillSwitchAuthority, "tactical holders never carry hold authority")

	l2, err := is.Issue(Token{Sub: "b", SLevel: 2, KillSwitchAuthority: true})
	require.NoError(t, err)
	assert.True(t, l2.Payload.KillSwitchAuthority)
}

func TestValidate_RoundTripAndTamper(t *testing.T) {
	is := NewIssuer(issuerSecret)
	signed, err := is.Issue(Token{Sub: "holder", SLevel: 2})
	require.NoError(t, err)

	tok, err := is.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, 2, tok.SLevel)

	// Raised level breaks the signature.
	forged := *signed
	forged.Payload.SLevel = 3
	_, err = is.Validate(&forged)
	assert.True(t, signal.HasCode(err, signal.CodeAuthSignatureInvalid), "got %v", err)

	// Foreign issuer key breaks the signature.
	other := NewIssuer([]byte("a-completely-different-secret!!!"))
	_, err = other.Validate(signed)
	assert.True(t, signal.HasCode(err, signal.CodeAuthSignatureInvalid), "got %v", err)
}

func TestValidate_ExpiredToken(t *testing.T) {
	is := NewIssuer(issuerSecret)

	// A correctly signed token whose exp is in the past.
	tok := Token{
		Sub: "expired-holder", SLevel: 1,
		Signals: []string{"DF-XDOM"}, Shelves: []string{"S3"},
		TemporalScope: 3600,
		IAT:           time.Now().Add(-48 * time.Hour).Unix(),
		EXP:           time.Now().Add(-24 * time.Hour).Unix(),
		Nonce:         "n", Clearance: "TACTICAL", Domains: []string{"*"},
	}
	sig, err := canonical.SignObject(issuerSecret, tok)
	require.NoError(t, err)

	_, err = is.Validate(&SignedToken{
		Header:    SignedHeader{Alg: "HS256", Typ: "VirtueToken", V: "1.0"},
		Payload:   tok,
		Signature: sig,
	})
	assert.True(t, signal.HasCode(err, signal.CodeAuthTokenExpired), "got %v", err)
}

func TestValidateRaw_MalformedInputs(t *testing.T) {
	is := NewIssuer(issuerSecret)

	_, err := is.ValidateRaw([]byte("not json"))
	assert.True(t, signal.HasCode(err, signal.CodeAuthMalformedToken), "got %v", err)

	wrongTyp, err := json.Marshal(SignedToken{Header: SignedHeader{Typ: "JWT"}})
	require.NoError(t, err)
	_, err = is.ValidateRaw(wrongTyp)
	assert.True(t, signal.HasCode(err, signal.CodeAuthMalformedToken), "got %v", err)
}

func TestIssuanceLog_AppendOnly(t *testing.T) {
	is := NewIssuer(issuerSecret)
	_, err := is.Issue(Token{Sub: "a", SLevel: 1})
	require.NoError(t, err)
	_, err = is.Issue(Token{Sub: "b", SLevel: 3})
	require.NoError(t, err)

	entries := is.IssuanceLog()
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].SLevel)
	assert.Equal(t, 3, entries[1].SLevel)
	assert.NotEqual(t, entries[0].Actor, entries[1].Actor)
}

func TestVisibility_PolicyTable(t *testing.T) {
	cases := []struct {
		level int
		code  string
		want  string
	}{
		{1, "DF-XDOM", VisibilityDirect},
		{1, "IM-EXPO", ""},
		{1, "ID-CONC", ""},
		{2, "IM-EXPO", VisibilityAggregated},
		{2, "DF-XDOM", VisibilityDirect},
		{2, "ID-CONC", ""},
		{3, "ID-CONC", VisibilityHistorical},
		{3, "XX-NOPE", ""},
	}
	for _, tc := range cases {
		if got := Visibility(tc.level, tc.code); got != tc.want {
			t.Errorf("Visibility(%d, %s) = %q, want %q", tc.level, tc.code, got, tc.want)
		}
	}
}
