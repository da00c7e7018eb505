package guard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "guard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// ==== ALERT ENGINE ====

func TestAlertEngine_DedupWithinWindow(t *testing.T) {
	store := openTestStore(t)
	engine := NewAlertEngine(store, "")

	first := engine.Fire(SeverityWarning, "TestModule", "Same title", "msg-1", "")
	dup := engine.Fire(SeverityWarning, "TestModule", "Same title", "msg-2", "")
	lower := engine.Fire(SeverityInfo, "TestModule", "Same title", "msg-3", "")
	other := engine.Fire(SeverityWarning, "TestModule", "Different title", "msg-4", "")

	require.NotNil(t, first)
	assert.Nil(t, dup, "duplicate (module,title) inside the window is dropped")
	assert.Nil(t, lower, "lower severity inside the window is dropped too")
	require.NotNil(t, other)

	// Only the non-duplicates were persisted.
	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM alerts`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestAlertEngine_EscalationBypassesDedup(t *testing.T) {
	store := openTestStore(t)
	engine := NewAlertEngine(store, "")

	require.NotNil(t, engine.Fire(SeverityCritical, "HealthProbe", "Service down: bridge", "1 failure", ""))
	escalated := engine.Fire(SeverityEmergency, "HealthProbe", "Service down: bridge", "3 consecutive failures", "")
	require.NotNil(t, escalated, "a strictly higher severity must not be suppressed")
	assert.Equal(t, SeverityEmergency, escalated.Severity)

	// After the escalation, an equal-severity repeat is back inside the window.
	assert.Nil(t, engine.Fire(SeverityEmergency, "HealthProbe", "Service down: bridge", "still down", ""))

	var n int
	require.NoError(t, store.db.QueryRow(
		`SELECT COUNT(*) FROM alerts WHERE title = 'Service down: bridge'`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestAlertEngine_DedupKeyIsModuleAndTitle(t *testing.T) {
	engine := NewAlertEngine(nil, "")
	require.NotNil(t, engine.Fire(SeverityInfo, "ModuleA", "Title", "", ""))
	require.NotNil(t, engine.Fire(SeverityInfo, "ModuleB", "Title", "", ""),
		"same title under another module is not a duplicate")
}

func TestAlertEngine_WarRoomDispatchBestEffort(t *testing.T) {
	received := make(chan Alert, 1)
	warRoom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		json.NewDecoder(r.Body).Decode(&a)
		received <- a
		w.WriteHeader(http.StatusOK)
	}))
	defer warRoom.Close()

	engine := NewAlertEngine(nil, warRoom.URL)
	engine.Fire(SeverityEmergency, "TestModule", "Escalated", "all hands", "")

	select {
	case a := <-received:
		assert.Equal(t, SeverityEmergency, a.Severity)
		assert.NotEmpty(t, a.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("war-room never received the alert")
	}

	// An unreachable war room must not block or panic.
	silent := NewAlertEngine(nil, "http://127.0.0.1:1")
	assert.NotNil(t, silent.Fire(SeverityWarning, "TestModule", "Unreachable", "", ""))
}

// ==== HEALTH PROBE ====

func TestHealthProbe_StatusesAndEscalation(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	store := openTestStore(t)
	engine := NewAlertEngine(store, "")
	probe := NewHealthProbe([]ServiceSpec{
		{Name: "healthy-svc", URL: healthy.URL, Critical: false},
		{Name: "failing-svc", URL: failing.URL, Critical: true},
	}, store, engine)

	probe.Run()
	assert.Equal(t, 0, probe.ConsecutiveFailures("healthy-svc"))
	assert.Equal(t, 1, probe.ConsecutiveFailures("failing-svc"))

	probe.Run()
	probe.Run()
	assert.Equal(t, 3, probe.ConsecutiveFailures("failing-svc"),
		"three consecutive failures reached the escalation threshold")

	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM health_checks`).Scan(&n))
	assert.Equal(t, 6, n)
}

func TestHealthProbe_RecoveryResetsFailureCount(t *testing.T) {
	up := true
	svc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if up {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer svc.Close()

	probe := NewHealthProbe([]ServiceSpec{{Name: "flappy", URL: svc.URL, Critical: true}},
		nil, NewAlertEngine(nil, ""))

	up = false
	probe.Run()
	probe.Run()
	assert.Equal(t, 2, probe.ConsecutiveFailures("flappy"))

	up = true
	probe.Run()
	assert.Equal(t, 0, probe.ConsecutiveFailures("flappy"))
}

// ==== FLOW MONITOR ====

func TestFlowMonitor_StaleSubmissionsAndSGE(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"submissions": []map[string]interface{}{
				{"submission_id": "FRESH-1", "governance_level": "HIGH", "resilience_score": 90.0,
					"updated_at": time.Now().Format(time.RFC3339)},
				{"submission_id": "STALE-1", "governance_level": "MEDIUM", "resilience_score": 40.0,
					"updated_at": time.Now().Add(-72 * time.Hour).Format(time.RFC3339)},
			},
		})
	}))
	defer api.Close()

	store := openTestStore(t)
	monitor := NewFlowMonitor(api.URL, store, NewAlertEngine(store, ""))
	monitor.Run()

	// Average (90+40)/2 = 65 is below the 70 floor → snapshot + alert.
	avg, err := store.lastSGEAverage()
	require.NoError(t, err)
	assert.InDelta(t, 65.0, avg, 0.01)

	var staleAlerts int
	require.NoError(t, store.db.QueryRow(
		`SELECT COUNT(*) FROM alerts WHERE title = 'Stale submissions'`).Scan(&staleAlerts))
	assert.Equal(t, 1, staleAlerts)

	var floorAlerts int
	require.NoError(t, store.db.QueryRow(
		`SELECT COUNT(*) FROM alerts WHERE title = 'SGE below floor'`).Scan(&floorAlerts))
	assert.Equal(t, 1, floorAlerts)
}

func TestFlowMonitor_APIUnreachable(t *testing.T) {
	store := openTestStore(t)
	monitor := NewFlowMonitor("http://127.0.0.1:1", store, NewAlertEngine(store, ""))
	monitor.Run()

	var n int
	require.NoError(t, store.db.QueryRow(
		`SELECT COUNT(*) FROM alerts WHERE title = 'Governance API unreachable'`).Scan(&n))
	assert.Equal(t, 1, n)
}

// ==== ISP SCANNER ====

func TestISPScanner_BaselineTamperDetection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clinic.json")
	profile := `{"name":"Clinic","organization":"O","governance_level":"HIGH","policy_version":"1","jurisdiction":"EU","review_cycle":"q","contact":"x@y","templates":["a.md"]}`
	require.NoError(t, os.WriteFile(path, []byte(profile), 0o644))

	store := openTestStore(t)
	scanner := NewISPScanner(dir, store, NewAlertEngine(store, ""))

	// First scan establishes the baseline.
	scanner.Run()
	var tampers int
	require.NoError(t, store.db.QueryRow(
		`SELECT COUNT(*) FROM alerts WHERE title LIKE 'Profile tampered%'`).Scan(&tampers))
	assert.Equal(t, 0, tampers)

	// Any byte change after baselining is a tamper alert.
	require.NoError(t, os.WriteFile(path, []byte(profile+" "), 0o644))
	scanner.Run()
	require.NoError(t, store.db.QueryRow(
		`SELECT COUNT(*) FROM alerts WHERE title LIKE 'Profile tampered%'`).Scan(&tampers))
	assert.Equal(t, 1, tampers)

	var tamperedScans int
	require.NoError(t, store.db.QueryRow(
		`SELECT COUNT(*) FROM isp_scans WHERE tampered = 1`).Scan(&tamperedScans))
	assert.Equal(t, 1, tamperedScans)
}

func TestISPScanner_InvalidProfileAlert(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "thin.json"),
		[]byte(`{"name":"Thin"}`), 0o644))

	store := openTestStore(t)
	scanner := NewISPScanner(dir, store, NewAlertEngine(store, ""))
	scanner.Run()

	var n int
	require.NoError(t, store.db.QueryRow(
		`SELECT COUNT(*) FROM alerts WHERE title = 'Invalid profile: thin.json'`).Scan(&n))
	assert.Equal(t, 1, n)
}

// ==== REPORT BUILDER ====

func TestReportBuilder_VerifiedRequiresCleanWeek(t *testing.T) {
	store := openTestStore(t)

	// A clean week: healthy checks, no breaks, valid ISP scans.
	require.NoError(t, store.recordHealthCheck("svc", StatusOK, 10*time.Millisecond))
	require.NoError(t, store.recordHealthCheck("svc", StatusOK, 12*time.Millisecond))
	require.NoError(t, store.recordChainCheck(10, 0))
	require.NoError(t, store.recordISPScan("p.json", true, 0, false))

	NewReportBuilder(store).Run()

	var verified int
	require.NoError(t, store.db.QueryRow(
		`SELECT verified FROM guard_reports ORDER BY id DESC LIMIT 1`).Scan(&verified))
	assert.Equal(t, 1, verified)

	// A chain break taints the following report.
	require.NoError(t, store.recordChainCheck(11, 2))
	NewReportBuilder(store).Run()
	require.NoError(t, store.db.QueryRow(
		`SELECT verified FROM guard_reports ORDER BY id DESC LIMIT 1`).Scan(&verified))
	assert.Equal(t, 0, verified)
}
