package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/windi/backend/internal/api"
	"github.com/windi/backend/internal/config"
	"github.com/windi/backend/internal/forensic"
	"github.com/windi/backend/internal/provenance"
	"github.com/windi/backend/internal/registry"
	"github.com/windi/backend/internal/wsg"
)

func main() {
	log.Println("🔥 Starting WINDI Governance (provenance & verification)...")
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to yaml config file")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Config load failed: %v", err)
		}
	} else {
		cfg = config.Default()
	}

	// 1. Provenance store and builder
	store, err := provenance.NewStore(cfg.Governance.ProvenanceDir)
	if err != nil {
		log.Fatalf("Provenance store failed: %v", err)
	}
	builder := &provenance.Builder{
		SystemIdentity: cfg.Governance.SystemID,
		VerifyBaseURL:  fmt.Sprintf("http://localhost:%d", cfg.Governance.Port),
	}
	verifier := &provenance.Verifier{
		Store:        store,
		KnownSystems: cfg.Governance.KnownSystems,
	}

	// 2. Submission registry
	reg, err := registry.Open(cfg.Governance.RegistryDB)
	if err != nil {
		log.Fatalf("Registry open failed: %v", err)
	}
	defer reg.Close()

	// 3. Forensic ledger
	chain, err := forensic.Open(cfg.Forensic.LedgerDB)
	if err != nil {
		log.Fatalf("Forensic ledger open failed: %v", err)
	}
	defer chain.Close()

	// 4. Violation log
	wsgLog := wsg.NewLog(cfg.WSG.LogPath)

	server := api.NewGovernanceServer(builder, store, verifier, reg, chain, wsgLog,
		cfg.Governance.PolicyRef, cfg.Governance.Organization)
	if err := server.Start(cfg.Governance.Port); err != nil {
		log.Fatalf("Governance server failed: %v", err)
	}
}
