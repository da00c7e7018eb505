package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/windi/backend/internal/api"
	"github.com/windi/backend/internal/bridge"
	"github.com/windi/backend/internal/config"
	"github.com/windi/backend/internal/fabric"
	"github.com/windi/backend/internal/hold"
	"github.com/windi/backend/internal/virtue"
)

func main() {
	log.Println("🔥 Starting WINDI Bridge (telemetry ingestion)...")
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

	// 1. Ingestion pipeline state
	keys := bridge.NewKeyring()
	clients := bridge.NewClientRegistry()
	for _, cid := range cfg.Bridge.SimulationClients {
		clients.SetSimulation(cid, true)
	}
	agg := bridge.NewAggregator(cfg.Bridge.Capacity)

	// 2. Governance collaborators
	issuer := virtue.NewIssuer([]byte(cfg.Issuer.Secret))
	holds := hold.NewManager([]byte(cfg.Issuer.Secret))

	// 3. Signal fan-out: Redis when configured, local otherwise
	var bus *fabric.SignalBus
	if cfg.Fabric.RedisAddr != "" {
		bus, err = fabric.NewRedisBus(cfg.Fabric.RedisAddr, cfg.Fabric.Channel)
		if err != nil {
			log.Printf("⚠️  Redis unavailable (%v), running local-only fan-out", err)
			bus = fabric.NewLocalBus()
		}
	} else {
		bus = fabric.NewLocalBus()
	}
	defer bus.Close()

	streamer := fabric.NewStreamer(bus, issuer)
	defer streamer.Close()

	validator := bridge.NewValidator(keys, clients, agg, holds, bus)

	adminKey := os.Getenv("WINDI_ADMIN_KEY")
	if adminKey == "" {
		adminKey = cfg.Issuer.Secret
	}

	server := api.NewBridgeServer(validator, agg, keys, clients, issuer, holds, streamer, adminKey)
	if err := server.Start(cfg.Bridge.Port); err != nil {
		log.Fatalf("Bridge server failed: %v", err)
	}
}
