package provenance

import (
	"os"
	"path/filepath"
	"strings"
)

// Verification verdicts. Verify never errors to the caller — a failure to
// verify IS the result.
const (
	VerdictValid    = "VALID"
	VerdictUnknown  = "UNKNOWN"
	VerdictTampered = "TAMPERED"
)

// VerifyResult is the full verdict with per-check booleans and, for
// non-VALID verdicts, a stable reason token.
type VerifyResult struct {
	SubmissionID string          `json:"submission_id"`
	Verdict      string          `json:"verdict"`
	Reason       string          `json:"reason,omitempty"`
	Checks       map[string]bool `json:"checks"`
}

// Verifier replays the provenance checks against the persisted store.
// KnownSystems is build-time configuration until an authority model for
// updating it is defined.
type Verifier struct {
	Store        *Store
	KnownSystems []string
}

// VerifyBySubmissionID runs the check sequence. A supplied decision
// payload is re-hashed against the stored structural hash; any mismatch
// short-circuits to TAMPERED.
func (v *Verifier) VerifyBySubmissionID(submissionID string, decisionPayload map[string]interface{}) VerifyResult {
	res := VerifyResult{
		SubmissionID: submissionID,
		Checks:       map[string]bool{},
	}

	idx, err := v.Store.ReadIndex()
	if err != nil {
		res.Verdict = VerdictUnknown
		res.Reason = "index_unreadable"
		return res
	}
	entry, ok := idx[submissionID]
	res.Checks["registry_match"] = ok
	if !ok {
		res.Verdict = VerdictUnknown
		res.Reason = "not_in_registry"
		return res
	}

	rec, err := v.loadEntry(entry)
	res.Checks["record_exists"] = err == nil
	if err != nil {
		res.Verdict = VerdictUnknown
		res.Reason = "record_missing"
		return res
	}

	res.Checks["system_identity"] = v.knownSystem(rec.SystemIdentity)
	res.Checks["governance_level_valid"] = rec.GovernanceContext.Level == LevelHigh ||
		rec.GovernanceContext.Level == LevelMedium || rec.GovernanceContext.Level == LevelLow
	res.Checks["policy_version_present"] = rec.GovernanceContext.PolicyVersion != ""

	proof := rec.CryptographicProof
	res.Checks["hash_present"] = proof.StructuralHash != "" && proof.ProvenanceHash != ""
	res.Checks["hash_chain_valid"] = res.Checks["hash_present"] &&
		proof.HashChain == proof.StructuralHash[:16]+"→"+proof.ProvenanceHash[:16]

	if decisionPayload != nil {
		recomputed, hashErr := StructuralHash(decisionPayload)
		match := hashErr == nil && recomputed == proof.StructuralHash
		res.Checks["structural_hash_match"] = match
		if !match {
			res.Verdict = VerdictTampered
			res.Reason = "structural_hash_mismatch"
			return res
		}
	}

	res.Checks["protocol_valid"] = proof.Algorithm == "SHA-256"

	for _, ok := range res.Checks {
		if !ok {
			res.Verdict = VerdictTampered
			res.Reason = "check_failed"
			return res
		}
	}
	res.Verdict = VerdictValid
	return res
}

// VerifyByHash finds the first index entry whose structural hash starts
// with prefix and delegates to VerifyBySubmissionID.
func (v *Verifier) VerifyByHash(prefix string) VerifyResult {
	idx, err := v.Store.ReadIndex()
	if err != nil {
		return VerifyResult{Verdict: VerdictUnknown, Reason: "index_unreadable", Checks: map[string]bool{}}
	}
	for id, entry := range idx {
		if strings.HasPrefix(entry.StructuralHash, prefix) {
			return v.VerifyBySubmissionID(id, nil)
		}
	}
	return VerifyResult{Verdict: VerdictUnknown, Reason: "hash_not_found", Checks: map[string]bool{}}
}

func (v *Verifier) loadEntry(entry IndexEntry) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(v.Store.dir, entry.RecordPath))
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

func (v *Verifier) knownSystem(system string) bool {
	for _, s := range v.KnownSystems {
		if s == system {
			return true
		}
	}
	return false
}
