// windi-check is the pre-flight diagnostic: it probes every WINDI plane
// and prints a pass/fail line per component before operators route
// production telemetry at a fresh install.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/windi/backend/internal/forensic"
	"github.com/windi/backend/internal/isp"
)

type component struct {
	name string
	test func() error
}

var client = &http.Client{Timeout: 5 * time.Second}

func main() {
	godotenv.Load()

	bridgeURL := flag.String("bridge", "http://localhost:8080", "bridge base URL")
	govURL := flag.String("governance", "http://localhost:8090", "governance base URL")
	ledgerDB := flag.String("ledger", os.Getenv("WINDI_EVENT_LOG_DB"), "forensic ledger path")
	ispDir := flag.String("isp", os.Getenv("WINDI_ISP_DIR"), "ISP profile directory")
	flag.Parse()

	fmt.Println("\033[96mWINDI Governance Bridge - Pre-Flight Diagnostic\033[0m")
	fmt.Println("---------------------------------------------------------")

	components := []component{
		{"Bridge Ingestion", func() error { return checkHTTP(*bridgeURL + "/api/v1/health") }},
		{"Signal Registry", func() error { return checkHTTP(*bridgeURL + "/api/v1/registry") }},
		{"Governance API", func() error { return checkHTTP(*govURL + "/api/health") }},
		{"Forensic Ledger", func() error { return checkLedger(*ledgerDB) }},
		{"ISP Profiles", func() error { return checkProfiles(*ispDir) }},
	}

	failures := 0
	for _, c := range components {
		fmt.Printf("Checking %-25s ", c.name+"...")
		if err := c.test(); err != nil {
			failures++
			fmt.Println("\033[31m[FAIL]\033[0m")
			fmt.Printf("  >> Error: %v\n", err)
		} else {
			fmt.Println("\033[32m[OK]\033[0m")
		}
	}

	fmt.Println("---------------------------------------------------------")
	if failures > 0 {
		fmt.Printf("\033[31mStatus: %d component(s) failing.\033[0m\n", failures)
		os.Exit(1)
	}
	fmt.Println("\033[96mStatus: System Ready for Telemetry Traffic.\033[0m")
}

func checkHTTP(url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d from %s", resp.StatusCode, url)
	}
	return nil
}

// checkLedger opens the chain and verifies every link.
func checkLedger(path string) error {
	if path == "" {
		return fmt.Errorf("no ledger path (set WINDI_EVENT_LOG_DB or -ledger)")
	}
	chain, err := forensic.Open(path)
	if err != nil {
		return err
	}
	defer chain.Close()

	breaks, err := chain.VerifyChain()
	if err != nil {
		return err
	}
	if len(breaks) > 0 {
		return fmt.Errorf("%d chain break(s), first at record %d (%s)", len(breaks), breaks[0].ID, breaks[0].Reason)
	}
	return nil
}

// checkProfiles loads every profile in the ISP directory and validates it.
func checkProfiles(dir string) error {
	if dir == "" {
		return fmt.Errorf("no profile directory (set WINDI_ISP_DIR or -isp)")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	checked := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p, err := isp.Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		issues, _ := isp.Validate(p)
		for _, issue := range issues {
			if issue.Severity == "required" {
				return fmt.Errorf("%s: missing required field %q", e.Name(), issue.Field)
			}
		}
		checked++
	}
	if checked == 0 {
		return fmt.Errorf("no profiles found in %s", dir)
	}
	return nil
}
