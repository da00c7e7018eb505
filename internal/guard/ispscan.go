package guard

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/windi/backend/internal/canonical"
	"github.com/windi/backend/internal/isp"
)

// ISPScanner validates every Institutional Style Profile under a
// directory: required/recommended fields, template presence, and a file
// hash compared against the stored baseline — a mismatch is a tamper
// alert, not a validation warning.
type ISPScanner struct {
	dir    string
	store  *Store
	alerts *AlertEngine
	logger *log.Logger
}

func NewISPScanner(dir string, store *Store, alerts *AlertEngine) *ISPScanner {
	return &ISPScanner{
		dir:    dir,
		store:  store,
		alerts: alerts,
		logger: log.New(log.Writer(), "[GUARD-ISP] ", log.LstdFlags),
	}
}

// Run scans all profile JSON files once.
func (s *ISPScanner) Run() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.alerts.Fire(SeverityWarning, "ISPScanner", "Profile directory unreadable",
			s.dir, err.Error())
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		s.scanProfile(filepath.Join(s.dir, entry.Name()))
	}
}

func (s *ISPScanner) scanProfile(path string) {
	name := filepath.Base(path)

	profile, err := isp.Load(path)
	if err != nil {
		s.alerts.Fire(SeverityWarning, "ISPScanner", "Unparseable profile: "+name, "", err.Error())
		if s.store != nil {
			s.store.recordISPScan(name, false, 0, false)
		}
		return
	}

	issues, hasTemplates := isp.Validate(profile)
	valid := isp.Valid(profile)

	var missing []string
	for _, is := range issues {
		if is.Severity == "required" {
			missing = append(missing, is.Field)
		}
	}
	if len(missing) > 0 {
		s.alerts.Fire(SeverityWarning, "ISPScanner", "Invalid profile: "+name,
			"Missing required fields", strings.Join(missing, ", "))
	}
	if !hasTemplates {
		s.alerts.Fire(SeverityInfo, "ISPScanner", "Profile has no templates: "+name,
			"Neither inline templates nor a populated templates directory found", "")
	}

	tampered := s.checkBaseline(path, name)

	if s.store != nil {
		if err := s.store.recordISPScan(name, valid, len(issues), tampered); err != nil {
			s.logger.Printf("❌ Record ISP scan failed: %v", err)
		}
	}
}

// checkBaseline re-hashes the file and compares against the stored
// baseline. The first scan of a file establishes it.
func (s *ISPScanner) checkBaseline(path, name string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	hash := canonical.SHA256Hex(data)

	if s.store == nil {
		return false
	}
	baseline, err := s.store.baseline(path)
	if err != nil {
		s.logger.Printf("❌ Baseline lookup failed for %s: %v", name, err)
		return false
	}
	if baseline == "" {
		if err := s.store.setBaseline(path, hash); err != nil {
			s.logger.Printf("❌ Baseline store failed for %s: %v", name, err)
		}
		return false
	}
	if baseline != hash {
		s.alerts.Fire(SeverityCritical, "ISPScanner", "Profile tampered: "+name,
			"File hash diverged from stored baseline",
			fmt.Sprintf("baseline=%s current=%s", baseline[:16], hash[:16]))
		return true
	}
	return false
}
