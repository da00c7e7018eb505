package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/windi/backend/internal/config"
	"github.com/windi/backend/internal/forensic"
	"github.com/windi/backend/internal/guard"
)

func main() {
	log.Println("🔥 Starting WINDI Governance Guard (supervisory daemon)...")
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

	store, err := guard.OpenStore(cfg.Guard.DBPath)
	if err != nil {
		log.Fatalf("Guard store failed: %v", err)
	}
	defer store.Close()

	alerts := guard.NewAlertEngine(store, cfg.Guard.WarRoomURL)

	var health *guard.HealthProbe
	if len(cfg.Guard.Services) > 0 {
		health = guard.NewHealthProbe(cfg.Guard.Services, store, alerts)
	}

	var chainWatch *guard.ChainWatcher
	chain, err := forensic.Open(cfg.Forensic.LedgerDB)
	if err != nil {
		log.Printf("⚠️  Forensic ledger unavailable, chain watching disabled: %v", err)
	} else {
		defer chain.Close()
		chainWatch = guard.NewChainWatcher(chain, store, alerts)
	}

	var ispScan *guard.ISPScanner
	if cfg.Guard.ISPDir != "" {
		ispScan = guard.NewISPScanner(cfg.Guard.ISPDir, store, alerts)
	}

	var flow *guard.FlowMonitor
	if cfg.Guard.GovernanceAPI != "" {
		flow = guard.NewFlowMonitor(cfg.Guard.GovernanceAPI, store, alerts)
	}

	report := guard.NewReportBuilder(store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	guard.New(health, chainWatch, ispScan, flow, report).Start(ctx)

	<-ctx.Done()
	log.Println("🛑 Guard shutting down")
}
