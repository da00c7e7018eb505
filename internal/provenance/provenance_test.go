package provenance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBuilder() *Builder {
	return &Builder{SystemIdentity: "windi-test", VerifyBaseURL: "http://localhost:8090"}
}

func fullParams(id, level string) BuildParams {
	return BuildParams{
		SubmissionID:       id,
		Level:              level,
		PolicyVersion:      "windi-policy-2026.1",
		ConfigHash:         "cfg-hash",
		ISPProfile:         "clinic-profile",
		Organization:       "Test Clinic",
		Jurisdiction:       "EU",
		DecisionPayload:    map[string]interface{}{"document_type": "discharge", "approved": true},
		IdentityGovernance: map[string]interface{}{"reviewers": 2},
	}
}

func TestResilienceScore_LevelOrderingStrict(t *testing.T) {
	features := []Features{
		{},
		{ISPProfile: true},
		{ISPProfile: true, IdentityGovernance: true, ContentHash: true,
			PolicyVersion: true, ConfigHash: true, Organization: true},
	}
	for _, f := range features {
		high := ResilienceScore(LevelHigh, f)
		medium := ResilienceScore(LevelMedium, f)
		low := ResilienceScore(LevelLow, f)
		assert.Greater(t, high, medium, "features %+v", f)
		assert.Greater(t, medium, low, "features %+v", f)
		assert.LessOrEqual(t, high, 100)
		assert.GreaterOrEqual(t, low, 0)
	}
}

func TestResilienceRating_Thresholds(t *testing.T) {
	cases := map[int]string{
		100: "MAXIMUM", 85: "MAXIMUM",
		84: "HIGH", 70: "HIGH",
		69: "MODERATE", 50: "MODERATE",
		49: "BASIC", 0: "BASIC",
	}
	for score, want := range cases {
		assert.Equal(t, want, ResilienceRating(score), "score %d", score)
	}
}

func TestStructuralHash_Deterministic(t *testing.T) {
	h1, err := StructuralHash(map[string]interface{}{"b": 2, "a": "x"})
	require.NoError(t, err)
	h2, err := StructuralHash(map[string]interface{}{"a": "x", "b": 2})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestBuild_RecordShape(t *testing.T) {
	rec, err := testBuilder().Build(fullParams("SUB-001", LevelHigh))
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ProvenanceID)
	assert.Equal(t, "windi-test", rec.SystemIdentity)
	assert.Equal(t, "SHA-256", rec.CryptographicProof.Algorithm)
	assert.Len(t, rec.CryptographicProof.StructuralHash, 64)

	wantChain := rec.CryptographicProof.StructuralHash[:16] + "→" + rec.CryptographicProof.ProvenanceHash[:16]
	assert.Equal(t, wantChain, rec.CryptographicProof.HashChain)

	assert.True(t, strings.Contains(rec.Verification.VerifyURL, "SUB-001"))
	assert.Equal(t, "HIGH", rec.GovernanceContext.Level)
	assert.GreaterOrEqual(t, rec.DeepfakeResilience.Score, 85)
}

func TestShouldPersist_LevelRules(t *testing.T) {
	b := testBuilder()

	high, err := b.Build(fullParams("", LevelHigh))
	require.NoError(t, err)
	assert.True(t, ShouldPersist(high), "HIGH persists unconditionally")

	medWithID, err := b.Build(fullParams("SUB-002", LevelMedium))
	require.NoError(t, err)
	assert.True(t, ShouldPersist(medWithID))

	medNoID, err := b.Build(fullParams("", LevelMedium))
	require.NoError(t, err)
	assert.False(t, ShouldPersist(medNoID), "MEDIUM needs a submission id")

	low, err := b.Build(fullParams("SUB-003", LevelLow))
	require.NoError(t, err)
	assert.False(t, ShouldPersist(low), "LOW persists only when forced")

	forced, err := b.Build(fullParams(ForcePrefix+"SUB-004", LevelLow))
	require.NoError(t, err)
	assert.True(t, ShouldPersist(forced))
}

func TestStore_PersistAndLoad(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	rec, err := testBuilder().Build(fullParams("TEST-HIGH-001", LevelHigh))
	require.NoError(t, err)
	require.NoError(t, store.Persist(rec))

	loaded, err := store.Load("TEST-HIGH-001")
	require.NoError(t, err)
	assert.Equal(t, rec.ProvenanceID, loaded.ProvenanceID)
	assert.Equal(t, rec.CryptographicProof.StructuralHash, loaded.CryptographicProof.StructuralHash)

	idx, err := store.ReadIndex()
	require.NoError(t, err)
	entry, ok := idx["TEST-HIGH-001"]
	require.True(t, ok)
	assert.Equal(t, rec.CryptographicProof.StructuralHash, entry.StructuralHash)
	assert.Equal(t, LevelHigh, entry.GovernanceLevel)
}

func TestVerify_ValidUnknownTampered(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	params := fullParams("TEST-HIGH-001", LevelHigh)
	rec, err := testBuilder().Build(params)
	require.NoError(t, err)
	require.NoError(t, store.Persist(rec))

	v := &Verifier{Store: store, KnownSystems: []string{"windi-test"}}

	// Untouched payload verifies VALID.
	res := v.VerifyBySubmissionID("TEST-HIGH-001", params.DecisionPayload)
	assert.Equal(t, VerdictValid, res.Verdict)
	assert.True(t, res.Checks["structural_hash_match"])
	assert.True(t, res.Checks["hash_chain_valid"])

	// A single changed field is TAMPERED.
	mutated := map[string]interface{}{"document_type": "discharge", "approved": false}
	res = v.VerifyBySubmissionID("TEST-HIGH-001", mutated)
	assert.Equal(t, VerdictTampered, res.Verdict)
	assert.Equal(t, "structural_hash_mismatch", res.Reason)

	// An id nobody registered is UNKNOWN, never an error.
	res = v.VerifyBySubmissionID("NOPE-999", nil)
	assert.Equal(t, VerdictUnknown, res.Verdict)
	assert.Equal(t, "not_in_registry", res.Reason)
}

func TestVerify_UnknownSystemIdentityIsTampered(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	rec, err := testBuilder().Build(fullParams("TEST-HIGH-002", LevelHigh))
	require.NoError(t, err)
	require.NoError(t, store.Persist(rec))

	v := &Verifier{Store: store, KnownSystems: []string{"some-other-install"}}
	res := v.VerifyBySubmissionID("TEST-HIGH-002", nil)
	assert.Equal(t, VerdictTampered, res.Verdict)
	assert.False(t, res.Checks["system_identity"])
}

func TestVerifyByHash_PrefixLookup(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	rec, err := testBuilder().Build(fullParams("TEST-HIGH-003", LevelHigh))
	require.NoError(t, err)
	require.NoError(t, store.Persist(rec))

	v := &Verifier{Store: store, KnownSystems: []string{"windi-test"}}

	res := v.VerifyByHash(rec.CryptographicProof.StructuralHash[:16])
	assert.Equal(t, VerdictValid, res.Verdict)
	assert.Equal(t, "TEST-HIGH-003", res.SubmissionID)

	res = v.VerifyByHash("ffffffffffffffff")
	assert.Equal(t, VerdictUnknown, res.Verdict)
	assert.Equal(t, "hash_not_found", res.Reason)
}
