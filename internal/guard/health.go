package guard

import (
	"log"
	"net/http"
	"sync"
	"time"
)

// probeTimeout bounds each health probe request.
const probeTimeout = 10 * time.Second

// degradedLatency marks a responding service as DEGRADED.
const degradedLatency = 2 * time.Second

// escalateAfter is the consecutive-failure count at which a critical
// service's alert escalates from CRITICAL to EMERGENCY.
const escalateAfter = 3

// Probe statuses.
const (
	StatusOK       = "OK"
	StatusDegraded = "DEGRADED"
	StatusDown     = "DOWN"
)

// ServiceSpec names one HTTP service the guard watches.
type ServiceSpec struct {
	Name     string `yaml:"name" json:"name"`
	URL      string `yaml:"url" json:"url"`
	Critical bool   `yaml:"critical" json:"critical"`
}

// HealthProbe HTTP-probes each configured service, records status and
// latency, and alerts on DOWN/DEGRADED with consecutive-failure
// escalation.
type HealthProbe struct {
	mu       sync.Mutex
	services []ServiceSpec
	failures map[string]int
	store    *Store
	alerts   *AlertEngine
	client   *http.Client
	logger   *log.Logger
}

// NewHealthProbe creates a probe over the given services.
func NewHealthProbe(services []ServiceSpec, store *Store, alerts *AlertEngine) *HealthProbe {
	return &HealthProbe{
		services: services,
		failures: make(map[string]int),
		store:    store,
		alerts:   alerts,
		client:   &http.Client{Timeout: probeTimeout},
		logger:   log.New(log.Writer(), "[GUARD-HEALTH] ", log.LstdFlags),
	}
}

// Run probes every service once. In-flight probes complete or time out;
// one failing service never stops the others.
func (p *HealthProbe) Run() {
	for _, svc := range p.services {
		status, latency := p.probe(svc)

		if p.store != nil {
			if err := p.store.recordHealthCheck(svc.Name, status, latency); err != nil {
				p.logger.Printf("❌ Record health check failed: %v", err)
			}
		}

		switch status {
		case StatusOK:
			p.mu.Lock()
			p.failures[svc.Name] = 0
			p.mu.Unlock()
		case StatusDegraded:
			p.alerts.Fire(SeverityWarning, "HealthProbe", "Service degraded: "+svc.Name,
				"Latency above threshold", latency.String())
		case StatusDown:
			p.mu.Lock()
			p.failures[svc.Name]++
			n := p.failures[svc.Name]
			p.mu.Unlock()

			severity := SeverityCritical
			if svc.Critical && n >= escalateAfter {
				severity = SeverityEmergency
			}
			p.alerts.Fire(severity, "HealthProbe", "Service down: "+svc.Name,
				"Probe failed", svc.URL)
		}
	}
}

func (p *HealthProbe) probe(svc ServiceSpec) (string, time.Duration) {
	start := time.Now()
	resp, err := p.client.Get(svc.URL)
	latency := time.Since(start)
	if err != nil {
		return StatusDown, latency
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return StatusDown, latency
	}
	if latency > degradedLatency || resp.StatusCode >= 400 {
		return StatusDegraded, latency
	}
	return StatusOK, latency
}

// ConsecutiveFailures returns the current failure streak for a service.
func (p *HealthProbe) ConsecutiveFailures(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures[name]
}
