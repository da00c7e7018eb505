// simulate_clinic registers a throwaway key against a local bridge and
// streams plausible governance signals at it. Development tool: run the
// bridge, then `go run scripts/simulate_clinic.go -n 50`.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/windi/backend/internal/bridge"
	"github.com/windi/backend/internal/emitter"
	"github.com/windi/backend/internal/signal"
)

type scenarioEntry struct {
	shelf, code string
	minW, maxW  int
}

// The scenario table and event list are built from the compiled-in
// registries, so the simulator can never emit vocabulary the bridge
// rejects. Weight ranges track code severity.
var (
	scenario = buildScenario()
	events   = registeredEvents()
)

func buildScenario() []scenarioEntry {
	ranges := map[string][2]int{
		signal.SeverityLow:    {10, 45},
		signal.SeverityMedium: {25, 70},
		signal.SeverityHigh:   {55, 95},
	}
	var out []scenarioEntry
	for _, code := range signal.CodesForShelves(signal.Shelves...) {
		def, _ := signal.Lookup(code)
		r := ranges[def.Severity]
		out = append(out, scenarioEntry{shelf: def.Shelf, code: def.Code, minW: r[0], maxW: r[1]})
	}
	return out
}

func registeredEvents() []string {
	out := make([]string, 0, len(signal.Events))
	for e := range signal.Events {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func main() {
	bridgeURL := flag.String("bridge", "http://localhost:8080", "bridge base URL")
	count := flag.Int("n", 25, "packets to emit")
	interval := flag.Duration("interval", 200*time.Millisecond, "gap between packets")
	adminKey := flag.String("admin-key", os.Getenv("WINDI_ADMIN_KEY"), "admin key for registration")
	flag.Parse()

	kid := "sim-" + uuid.New().String()[:8]
	secret := uuid.New().String()

	fmt.Println("🏥 Simulated clinic starting")
	fmt.Printf("📡 Registering key %s with %s...\n", kid, *bridgeURL)
	if err := register(*bridgeURL, *adminKey, kid, secret); err != nil {
		log.Fatalf("❌ Registration failed: %v", err)
	}

	wireKey, err := bridge.DeriveClientKey(kid, []byte(secret))
	if err != nil {
		log.Fatalf("❌ Key derivation failed: %v", err)
	}
	em, err := emitter.New(emitter.Config{
		ClientID: "sim-clinic-" + kid,
		KeyID:    kid,
		CSalt:    uuid.New().String(),
		HMACKey:  wireKey,
	})
	if err != nil {
		log.Fatalf("❌ Emitter setup failed: %v", err)
	}

	accepted, rejected := 0, 0
	for i := 0; i < *count; i++ {
		sc := scenario[rand.Intn(len(scenario))]
		pkt, err := em.Emit(emitter.Event{
			Shelf:    sc.shelf,
			Code:     sc.code,
			Weight:   sc.minW + rand.Intn(sc.maxW-sc.minW+1),
			Event:    events[rand.Intn(len(events))],
			DomainID: fmt.Sprintf("case-%04d", rand.Intn(200)),
		})
		if err != nil {
			log.Fatalf("❌ Emit failed: %v", err)
		}

		raw, _ := json.Marshal(pkt)
		resp, err := http.Post(*bridgeURL+"/api/v1/telemetry", "application/json", bytes.NewReader(raw))
		if err != nil {
			log.Fatalf("❌ Bridge unreachable: %v", err)
		}
		if resp.StatusCode == http.StatusOK {
			accepted++
		} else {
			rejected++
		}
		resp.Body.Close()

		time.Sleep(*interval)
	}

	fmt.Printf("✅ Done: %d accepted, %d rejected\n", accepted, rejected)
}

func register(baseURL, adminKey, kid, secret string) error {
	body, _ := json.Marshal(map[string]interface{}{
		"kid":    kid,
		"secret": secret,
	})
	req, err := http.NewRequest("POST", baseURL+"/api/v1/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", adminKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("status %d (is WINDI_ADMIN_KEY set?)", resp.StatusCode)
	}
	return nil
}
