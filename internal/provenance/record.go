// Package provenance produces and verifies immutable document-level
// attestations: content-addressed structural hashes, per-document records
// with a resilience score, and a three-state verification verdict.
// Records never contain document content — only structural fingerprints.
package provenance

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/windi/backend/internal/canonical"
)

// Governance levels.
const (
	LevelHigh   = "HIGH"
	LevelMedium = "MEDIUM"
	LevelLow    = "LOW"
)

// ForcePrefix on a submission id forces persistence of a LOW record.
const ForcePrefix = "FORCE-"

// GovernanceContext captures the institutional setting a record was
// produced under.
type GovernanceContext struct {
	Level         string `json:"level"`
	ISPProfile    string `json:"isp_profile,omitempty"`
	PolicyVersion string `json:"policy_version"`
	ConfigHash    string `json:"config_hash,omitempty"`
	Organization  string `json:"organization,omitempty"`
}

// CryptographicProof links the structural hash to the provenance hash.
type CryptographicProof struct {
	StructuralHash        string `json:"structural_hash"`
	ProvenanceHash        string `json:"provenance_hash"`
	ContentStructuralHash string `json:"content_structural_hash,omitempty"`
	HashChain             string `json:"hash_chain"`
	Algorithm             string `json:"algorithm"`
}

// Resilience is the advisory forgery-defense score.
type Resilience struct {
	Score  int    `json:"score"` // 0..100
	Rating string `json:"rating"`
}

// Verification tells a third party where and how to verify.
type Verification struct {
	VerifyURL  string `json:"verify_url"`
	VerifyHash string `json:"verify_hash"`
}

// Record is one immutable provenance attestation.
type Record struct {
	ProvenanceID       string                 `json:"provenance_id"`
	SubmissionID       string                 `json:"submission_id"`
	GovernanceContext  GovernanceContext      `json:"governance_context"`
	IdentityGovernance map[string]interface{} `json:"identity_governance,omitempty"`
	SystemIdentity     string                 `json:"system_identity"`
	CryptographicProof CryptographicProof     `json:"cryptographic_proof"`
	DeepfakeResilience Resilience             `json:"deepfake_resilience"`
	Verification       Verification           `json:"verification"`
	DecisionPayload    map[string]interface{} `json:"decision_payload"`
	CreatedAt          time.Time              `json:"created_at"`
}

// BuildParams collects everything the builder needs for one record.
type BuildParams struct {
	SubmissionID       string
	Level              string
	PolicyVersion      string
	ConfigHash         string
	ISPProfile         string
	Organization       string
	Jurisdiction       string
	DecisionPayload    map[string]interface{}
	IdentityGovernance map[string]interface{}
	Content            []byte // optional; hashed, never stored
	ContentHash        string // optional precomputed content hash
}

// Builder assembles records for one installation. SystemIdentity is fixed
// per install.
type Builder struct {
	SystemIdentity string
	VerifyBaseURL  string
}

// StructuralHash computes SHA-256 over the canonical JSON of a decision
// payload. Deterministic: semantically equal payloads hash identically.
func StructuralHash(payload map[string]interface{}) (string, error) {
	return canonical.HashObject(payload)
}

// Build assembles a full provenance record without persisting it.
func (b *Builder) Build(p BuildParams) (*Record, error) {
	if p.DecisionPayload == nil {
		p.DecisionPayload = map[string]interface{}{}
	}
	structural, err := StructuralHash(p.DecisionPayload)
	if err != nil {
		return nil, fmt.Errorf("structural hash: %w", err)
	}

	contentHash := p.ContentHash
	if contentHash == "" && len(p.Content) > 0 {
		contentHash = canonical.SHA256Hex(p.Content)
	}

	provenanceID := uuid.New().String()
	provHash, err := canonical.HashObject(map[string]interface{}{
		"provenance_id":           provenanceID,
		"structural_hash":         structural,
		"content_structural_hash": contentHash,
		"system":                  b.SystemIdentity,
		"jurisdiction":            p.Jurisdiction,
	})
	if err != nil {
		return nil, fmt.Errorf("provenance hash: %w", err)
	}

	score := ResilienceScore(p.Level, Features{
		ISPProfile:         p.ISPProfile != "",
		IdentityGovernance: len(p.IdentityGovernance) > 0,
		ContentHash:        contentHash != "",
		PolicyVersion:      p.PolicyVersion != "",
		ConfigHash:         p.ConfigHash != "",
		Organization:       p.Organization != "",
	})

	rec := &Record{
		ProvenanceID: provenanceID,
		SubmissionID: p.SubmissionID,
		GovernanceContext: GovernanceContext{
			Level:         p.Level,
			ISPProfile:    p.ISPProfile,
			PolicyVersion: p.PolicyVersion,
			ConfigHash:    p.ConfigHash,
			Organization:  p.Organization,
		},
		IdentityGovernance: p.IdentityGovernance,
		SystemIdentity:     b.SystemIdentity,
		CryptographicProof: CryptographicProof{
			StructuralHash:        structural,
			ProvenanceHash:        provHash,
			ContentStructuralHash: contentHash,
			HashChain:             structural[:16] + "→" + provHash[:16],
			Algorithm:             "SHA-256",
		},
		DeepfakeResilience: Resilience{
			Score:  score,
			Rating: ResilienceRating(score),
		},
		Verification: Verification{
			VerifyURL:  b.VerifyBaseURL + "/api/integrity?submission_id=" + p.SubmissionID,
			VerifyHash: structural[:16],
		},
		DecisionPayload: p.DecisionPayload,
		CreatedAt:       time.Now(),
	}
	return rec, nil
}

// Features are the governance-context attributes feeding the resilience
// score. Only the HIGH>MEDIUM>LOW ordering is contractual; the weights
// are implementation detail.
type Features struct {
	ISPProfile         bool
	IdentityGovernance bool
	ContentHash        bool
	PolicyVersion      bool
	ConfigHash         bool
	Organization       bool
}

var levelBase = map[string]int{
	LevelHigh:   70,
	LevelMedium: 50,
	LevelLow:    30,
}

// ResilienceScore yields an integer in [0,100]. For identical features,
// HIGH strictly outscores MEDIUM, which strictly outscores LOW.
func ResilienceScore(level string, f Features) int {
	score := levelBase[level]
	if score == 0 {
		score = levelBase[LevelLow]
	}
	if f.ISPProfile {
		score += 8
	}
	if f.IdentityGovernance {
		score += 7
	}
	if f.ContentHash {
		score += 6
	}
	if f.PolicyVersion {
		score += 4
	}
	if f.ConfigHash {
		score += 3
	}
	if f.Organization {
		score += 2
	}
	if score > 100 {
		score = 100
	}
	return score
}

// ResilienceRating maps a score to its label via fixed thresholds.
func ResilienceRating(score int) string {
	switch {
	case score >= 85:
		return "MAXIMUM"
	case score >= 70:
		return "HIGH"
	case score >= 50:
		return "MODERATE"
	default:
		return "BASIC"
	}
}
