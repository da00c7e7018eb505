package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/windi/backend/internal/forensic"
	"github.com/windi/backend/internal/provenance"
	"github.com/windi/backend/internal/registry"
	"github.com/windi/backend/internal/wsg"
)

// GovernanceServer fronts the provenance side: record generation,
// submission listing, integrity verification, and compliance summaries.
type GovernanceServer struct {
	builder   *provenance.Builder
	store     *provenance.Store
	verifier  *provenance.Verifier
	registry  *registry.Registry
	chain     *forensic.Chain
	wsgLog    *wsg.Log
	policyRef string
	org       string
	startedAt time.Time
}

// NewGovernanceServer assembles the server. chain and wsgLog may be nil.
func NewGovernanceServer(builder *provenance.Builder, store *provenance.Store,
	verifier *provenance.Verifier, reg *registry.Registry, chain *forensic.Chain,
	wsgLog *wsg.Log, policyRef, org string) *GovernanceServer {
	return &GovernanceServer{
		builder:   builder,
		store:     store,
		verifier:  verifier,
		registry:  reg,
		chain:     chain,
		wsgLog:    wsgLog,
		policyRef: policyRef,
		org:       org,
		startedAt: time.Now(),
	}
}

// Router builds the governance route table.
func (s *GovernanceServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/api/generate", s.handleGenerate).Methods("POST")
	r.HandleFunc("/api/submissions", s.handleSubmissions).Methods("GET")
	r.HandleFunc("/api/submissions/{id}", s.handleSubmission).Methods("GET")
	r.HandleFunc("/api/dashboard", s.handleDashboard).Methods("GET")
	r.HandleFunc("/api/integrity", s.handleIntegrity).Methods("GET", "POST")
	r.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/api/compliance", s.handleCompliance).Methods("GET")
	r.HandleFunc("/api/health", s.handleHealth).Methods("GET")

	return r
}

// Start serves the governance API on the given port.
func (s *GovernanceServer) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	slog.Info("🚀 Governance API listening", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

// generateRequest is the /api/generate input shape.
type generateRequest struct {
	SubmissionID       string                 `json:"submission_id"`
	GovernanceLevel    string                 `json:"governance_level"`
	DocumentType       string                 `json:"document_type"`
	Entity             string                 `json:"entity"`
	ISPProfile         string                 `json:"isp_profile"`
	Jurisdiction       string                 `json:"jurisdiction"`
	Metadata           map[string]interface{} `json:"metadata"`
	IdentityGovernance map[string]interface{} `json:"identity_governance"`
	ContentHash        string                 `json:"content_hash"`
}

// handleGenerate validates the request, builds and persists a provenance
// record, chains the event, and registers the submission. A validation
// failure is BLOCKED: 422 plus a violation line in the WSG log.
func (s *GovernanceServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.block(w, req.SubmissionID, "malformed request body", nil)
		return
	}
	if reason := validateGenerate(&req); reason != "" {
		s.block(w, req.SubmissionID, reason, map[string]interface{}{
			"governance_level": req.GovernanceLevel,
			"document_type":    req.DocumentType,
		})
		return
	}

	payload := req.Metadata
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["document_type"] = req.DocumentType

	rec, err := s.builder.Build(provenance.BuildParams{
		SubmissionID:       req.SubmissionID,
		Level:              req.GovernanceLevel,
		PolicyVersion:      s.policyRef,
		ISPProfile:         req.ISPProfile,
		Organization:       s.org,
		Jurisdiction:       req.Jurisdiction,
		DecisionPayload:    payload,
		IdentityGovernance: req.IdentityGovernance,
		ContentHash:        req.ContentHash,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if provenance.ShouldPersist(rec) {
		if err := s.store.Persist(rec); err != nil {
			// Only HIGH surfaces persistence failures.
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": err.Error(),
				"code":  "INTEGRITY:PERSIST_FAILED",
			})
			return
		}
	}

	if s.chain != nil {
		actor := rec.SystemIdentity
		if _, err := s.chain.Append(req.SubmissionID, "PROVENANCE_GENERATED", actor, "", rec.ProvenanceID); err != nil {
			slog.Warn("⚠️  Forensic chain append failed", "error", err)
		}
	}

	if s.registry != nil && req.SubmissionID != "" {
		err := s.registry.Record(registry.Submission{
			SubmissionID:    req.SubmissionID,
			GovernanceLevel: req.GovernanceLevel,
			DocumentType:    req.DocumentType,
			Entity:          req.Entity,
			StructuralHash:  rec.CryptographicProof.StructuralHash,
			ResilienceScore: float64(rec.DeepfakeResilience.Score),
		})
		if err != nil {
			slog.Warn("⚠️  Registry record failed", "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, rec)
}

func validateGenerate(req *generateRequest) string {
	switch req.GovernanceLevel {
	case provenance.LevelHigh, provenance.LevelMedium, provenance.LevelLow:
	default:
		return "invalid governance_level: " + req.GovernanceLevel
	}
	if req.DocumentType == "" {
		return "document_type required"
	}
	if req.GovernanceLevel == provenance.LevelHigh && req.SubmissionID == "" {
		return "submission_id required at HIGH governance level"
	}
	return ""
}

// block emits the 422 BLOCKED response and appends a WSG violation line.
func (s *GovernanceServer) block(w http.ResponseWriter, submissionID, reason string, details map[string]interface{}) {
	if s.wsgLog != nil {
		if err := s.wsgLog.Append(wsg.Violation{
			Kind:         "GENERATION_BLOCKED",
			SubmissionID: submissionID,
			Message:      reason,
			Details:      details,
		}); err != nil {
			slog.Warn("⚠️  WSG log append failed", "error", err)
		}
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
		"status": "BLOCKED",
		"error":  reason,
	})
}

func (s *GovernanceServer) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := registry.Filter{
		Level:  strings.ToUpper(q.Get("level")),
		Entity: q.Get("entity"),
		Limit:  100,
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if raw := q.Get("after"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			f.After = t
		}
	}
	if raw := q.Get("before"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			f.Before = t
		}
	}

	subs, err := s.registry.List(f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"submissions": subs,
		"count":       len(subs),
	})
}

func (s *GovernanceServer) handleSubmission(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sub, err := s.registry.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown submission " + id})
		return
	}

	body := map[string]interface{}{"submission": sub}
	if rec, err := s.store.Load(id); err == nil {
		body["provenance"] = rec
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *GovernanceServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	levels, err := s.registry.LevelCounts()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	total, _ := s.registry.Count()
	avg, _ := s.registry.AverageResilience()

	body := map[string]interface{}{
		"total_submissions": total,
		"by_level":          levels,
		"avg_resilience":    avg,
		"snapshot_ts":       time.Now().UnixMilli(),
	}
	if s.chain != nil {
		if n, err := s.chain.Count(); err == nil {
			body["chain_length"] = n
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleIntegrity verifies a submission. It never errors to the caller:
// the verdict IS the result, UNKNOWN included. POST accepts a decision
// payload to re-hash against the stored structural hash.
func (s *GovernanceServer) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	submissionID := q.Get("submission_id")
	hashPrefix := q.Get("hash")

	var payload map[string]interface{}
	if r.Method == http.MethodPost {
		var req struct {
			SubmissionID    string                 `json:"submission_id"`
			DecisionPayload map[string]interface{} `json:"decision_payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			if submissionID == "" {
				submissionID = req.SubmissionID
			}
			payload = req.DecisionPayload
		}
	}

	var res provenance.VerifyResult
	switch {
	case submissionID != "":
		res = s.verifier.VerifyBySubmissionID(submissionID, payload)
	case hashPrefix != "":
		res = s.verifier.VerifyByHash(hashPrefix)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "submission_id or hash required"})
		return
	}

	if res.Verdict == provenance.VerdictTampered && s.wsgLog != nil {
		if err := s.wsgLog.Append(wsg.Violation{
			Kind:         "INTEGRITY_TAMPERED",
			SubmissionID: res.SubmissionID,
			Message:      res.Reason,
		}); err != nil {
			slog.Warn("⚠️  WSG log append failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *GovernanceServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"service":        "windi-governance",
		"system":         s.builder.SystemIdentity,
		"policy_version": s.policyRef,
		"uptime_s":       int64(time.Since(s.startedAt).Seconds()),
	}
	if s.chain != nil {
		breaks, err := s.chain.VerifyChain()
		if err == nil {
			body["chain_intact"] = len(breaks) == 0
			body["chain_breaks"] = len(breaks)
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *GovernanceServer) handleCompliance(w http.ResponseWriter, r *http.Request) {
	levels, err := s.registry.LevelCounts()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	avg, _ := s.registry.AverageResilience()

	idx, idxErr := s.store.ReadIndex()
	persisted := -1
	if idxErr == nil {
		persisted = len(idx)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policy_version":    s.policyRef,
		"organization":      s.org,
		"by_level":          levels,
		"avg_resilience":    avg,
		"persisted_records": persisted,
		"generated_at":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *GovernanceServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if _, err := s.registry.Count(); err != nil {
		status = "degraded"
	}
	hostname, _ := os.Hostname()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"host":   hostname,
	})
}
