package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/windi/backend/internal/bridge"
	"github.com/windi/backend/internal/canonical"
	"github.com/windi/backend/internal/fabric"
	"github.com/windi/backend/internal/hold"
	"github.com/windi/backend/internal/middleware"
	"github.com/windi/backend/internal/signal"
	"github.com/windi/backend/internal/virtue"
)

// BridgeServer fronts the telemetry pipeline: packet ingestion, key
// registration, token issuance, holds, and token-filtered dashboard
// reads. Every read of signal data is filtered server-side by the
// caller's Virtue Token; there is no unfiltered signal endpoint.
type BridgeServer struct {
	validator *bridge.Validator
	agg       *bridge.Aggregator
	keys      *bridge.Keyring
	clients   *bridge.ClientRegistry
	issuer    *virtue.Issuer
	holds     *hold.Manager
	streamer  *fabric.Streamer
	limiter   *middleware.RateLimiter
	adminKey  string
}

// NewBridgeServer assembles the server. streamer may be nil (no live
// feed). adminKey gates token issuance and key registration.
func NewBridgeServer(validator *bridge.Validator, agg *bridge.Aggregator, keys *bridge.Keyring,
	clients *bridge.ClientRegistry, issuer *virtue.Issuer, holds *hold.Manager,
	streamer *fabric.Streamer, adminKey string) *BridgeServer {
	return &BridgeServer{
		validator: validator,
		agg:       agg,
		keys:      keys,
		clients:   clients,
		issuer:    issuer,
		holds:     holds,
		streamer:  streamer,
		limiter:   middleware.NewRateLimiter(middleware.RateLimitConfig{}),
		adminKey:  adminKey,
	}
}

// Router builds the full route table. Split out from Start so tests can
// drive it with httptest.
func (s *BridgeServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/v1/registry", s.handleRegistry).Methods("GET")

	r.HandleFunc("/api/v1/register", s.handleRegister).Methods("POST")
	r.HandleFunc("/api/v1/token", s.handleIssueToken).Methods("POST")

	// Ingestion is throttled per source before any validation runs.
	r.Handle("/api/v1/telemetry",
		s.limiter.Middleware(http.HandlerFunc(s.handleTelemetry))).Methods("POST")
	r.Handle("/api/v1/telemetry/batch",
		s.limiter.Middleware(http.HandlerFunc(s.handleTelemetryBatch))).Methods("POST")

	r.HandleFunc("/api/v1/dashboard", s.handleDashboard).Methods("GET")
	r.HandleFunc("/api/v1/shelf/{shelf}", s.handleShelf).Methods("GET")

	r.HandleFunc("/api/v1/hold", s.handleHoldActivate).Methods("POST")
	r.HandleFunc("/api/v1/hold/release", s.handleHoldRelease).Methods("POST")
	r.HandleFunc("/api/v1/holds", s.handleHolds).Methods("GET")

	if s.streamer != nil {
		r.HandleFunc("/api/v1/feed", s.streamer.HandleFeed)
	}
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

// Start serves the bridge API on the given port.
func (s *BridgeServer) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	slog.Info("🚀 Bridge API listening", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

// token extracts and validates the Virtue Token from X-Virtue-Token.
func (s *BridgeServer) token(r *http.Request) (*virtue.Token, error) {
	raw := r.Header.Get("X-Virtue-Token")
	if raw == "" {
		return nil, signal.Errf(signal.CodeAuthMalformedToken, "missing X-Virtue-Token header")
	}
	return s.issuer.ValidateRaw([]byte(raw))
}

func (s *BridgeServer) admin(r *http.Request) bool {
	supplied := r.Header.Get("X-Admin-Key")
	return supplied != "" && canonical.SecureCompare([]byte(supplied), []byte(s.adminKey))
}

func (s *BridgeServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	totals := s.agg.TotalsSnapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"protocol": signal.ProtocolVersion,
		"ts":       time.Now().UnixMilli(),
		"motto":    "Governance made observable and attributable",
		"clients":  s.clients.ClientCount(),
		"keys":     s.keys.Count(),
		"received": totals.Received,
		"rejected": totals.Rejected,
		"limiter":  s.limiter.Stats(),
	})
}

// handleRegistry publishes the closed shelf/code/event registries. Public
// metadata: no token required, no signal data involved.
func (s *BridgeServer) handleRegistry(w http.ResponseWriter, r *http.Request) {
	events := make([]string, 0, len(signal.Events))
	for e := range signal.Events {
		events = append(events, e)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"protocol": signal.ProtocolVersion,
		"shelves":  signal.ShelfDimensions,
		"codes":    signal.Registry,
		"events":   events,
	})
}

func (s *BridgeServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.admin(r) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin key required"})
		return
	}
	var req struct {
		KeyID          string `json:"key_id"`
		KID            string `json:"kid"` // accepted alias
		Secret         string `json:"secret"`
		HMACKeyB64     string `json:"hmac_key_b64"`
		ClientIDHash   string `json:"client_id_hash"`
		SimulationMode bool   `json:"simulation_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed registration"})
		return
	}
	kid := req.KeyID
	if kid == "" {
		kid = req.KID
	}
	if kid == "" || (req.Secret == "" && req.HMACKeyB64 == "") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "key_id plus secret or hmac_key_b64 required"})
		return
	}

	// A shared secret goes through HKDF; a pre-derived wire key is stored
	// as supplied.
	if req.Secret != "" {
		if err := s.keys.Register(kid, []byte(req.Secret)); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	} else {
		key, err := base64.StdEncoding.DecodeString(req.HMACKeyB64)
		if err != nil || len(key) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "hmac_key_b64 not valid base64"})
			return
		}
		s.keys.RegisterKey(kid, key)
	}
	req.KeyID = kid
	if req.ClientIDHash != "" {
		s.clients.SetSimulation(req.ClientIDHash, req.SimulationMode)
	}
	slog.Info("Key registered", "kid", req.KeyID, "simulation", req.SimulationMode)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"kid":        req.KeyID,
		"simulation": req.SimulationMode,
	})
}

func (s *BridgeServer) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if !s.admin(r) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin key required"})
		return
	}
	var draft virtue.Token
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed token draft"})
		return
	}
	signed, err := s.issuer.Issue(draft)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, signed)
}

func (s *BridgeServer) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r, 1<<20)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	sig, err := s.validator.ValidateAndIngest(raw)
	if err != nil {
		// Rejections answer in the accepted/message shape too; the message
		// starts with the stable coded token so clients can branch on it.
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"accepted": false,
			"message":  err.Error(),
			"code":     signal.CodeOf(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accepted":    true,
		"message":     "OK",
		"shelf":       sig.Shelf,
		"code":        sig.Code,
		"quarantined": sig.Quarantined,
	})
}

func (s *BridgeServer) handleTelemetryBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Packets []json.RawMessage `json:"packets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed batch"})
		return
	}
	packets := make([][]byte, len(req.Packets))
	for i, p := range req.Packets {
		packets[i] = []byte(p)
	}
	writeJSON(w, http.StatusOK, s.validator.IngestBatch(packets))
}

func (s *BridgeServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	tok, err := s.token(r)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, virtue.FilterDashboard(s.agg.Dashboard(), tok))
}

func (s *BridgeServer) handleShelf(w http.ResponseWriter, r *http.Request) {
	tok, err := s.token(r)
	if err != nil {
		writeCoded(w, err)
		return
	}
	shelf := strings.ToUpper(mux.Vars(r)["shelf"])
	if !signal.ValidShelf(shelf) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown shelf " + shelf})
		return
	}
	allowed := false
	for _, granted := range tok.Shelves {
		if granted == shelf {
			allowed = true
			break
		}
	}
	if !allowed {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error": "shelf outside token scope",
			"shelf": shelf,
		})
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	sigs := virtue.FilterSignals(s.agg.Shelf(shelf, limit), tok)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"shelf":   shelf,
		"count":   len(sigs),
		"signals": sigs,
	})
}

func (s *BridgeServer) handleHoldActivate(w http.ResponseWriter, r *http.Request) {
	tok, err := s.token(r)
	if err != nil {
		writeCoded(w, err)
		return
	}
	var req struct {
		Scope         string   `json:"scope"`
		ReasonCode    string   `json:"reason_code"`
		ReasonSignals []string `json:"reason_signals"`
		DurationHours int      `json:"duration_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Scope == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "scope required"})
		return
	}
	h, err := s.holds.Activate(tok, req.Scope, req.ReasonCode, req.ReasonSignals, req.DurationHours)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

func (s *BridgeServer) handleHoldRelease(w http.ResponseWriter, r *http.Request) {
	tok, err := s.token(r)
	if err != nil {
		writeCoded(w, err)
		return
	}
	var req struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed release request"})
		return
	}
	h, err := s.holds.Release(tok, req.Index)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *BridgeServer) handleHolds(w http.ResponseWriter, r *http.Request) {
	if _, err := s.token(r); err != nil {
		writeCoded(w, err)
		return
	}
	active := s.holds.ActiveHolds()
	if active == nil {
		active = []hold.Hold{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active": active,
		"count":  len(active),
	})
}
