package config

import (
	"os"

	"gopkg.in/yaml.v2"

	"github.com/windi/backend/internal/guard"
)

type Config struct {
	Bridge     BridgeConfig     `yaml:"bridge"`
	Governance GovernanceConfig `yaml:"governance"`
	Issuer     IssuerConfig     `yaml:"issuer"`
	Guard      GuardConfig      `yaml:"guard"`
	Forensic   ForensicConfig   `yaml:"forensic"`
	Fabric     FabricConfig     `yaml:"fabric"`
	WSG        WSGConfig        `yaml:"wsg"`
}

type BridgeConfig struct {
	Port     int `yaml:"port"`
	Capacity int `yaml:"capacity"`
	// SimulationClients lists client id hashes granted the one-year clock
	// drift tolerance. Explicit and per-client; there is no global toggle.
	SimulationClients []string `yaml:"simulation_clients"`
}

type GovernanceConfig struct {
	Port          int    `yaml:"port"`
	ProvenanceDir string `yaml:"provenance_dir"`
	RegistryDB    string `yaml:"registry_db"`
	PolicyRef     string `yaml:"policy_ref"`
	Organization  string `yaml:"organization"`
	Jurisdiction  string `yaml:"jurisdiction"`
	SystemID      string `yaml:"system_id"`
	// KnownSystems is the verification registry; defaults to the local
	// SystemID when unset.
	KnownSystems []string `yaml:"known_systems"`
}

type IssuerConfig struct {
	ID     string `yaml:"id"`
	Secret string `yaml:"secret"`
}

type GuardConfig struct {
	DBPath        string              `yaml:"db_path"`
	WarRoomURL    string              `yaml:"war_room_url"`
	ISPDir        string              `yaml:"isp_dir"`
	GovernanceAPI string              `yaml:"governance_api"`
	Services      []guard.ServiceSpec `yaml:"services"`
}

type ForensicConfig struct {
	LedgerDB string `yaml:"ledger_db"`
}

type FabricConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	Channel   string `yaml:"channel"`
}

type WSGConfig struct {
	LogPath string `yaml:"log_path"`
}

// Load reads the yaml config file and applies WINDI_* env overrides on
// top of it.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config built from env overrides and built-in
// defaults, for running without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	setEnv(&c.Issuer.ID, "WINDI_ISSUER_ID")
	setEnv(&c.Issuer.Secret, "WINDI_ISSUER_SECRET")
	setEnv(&c.Governance.PolicyRef, "WINDI_POLICY_REF")
	setEnv(&c.Governance.ProvenanceDir, "WINDI_PROVENANCE_DIR")
	setEnv(&c.Governance.RegistryDB, "WINDI_MEDIUM_REGISTRY_DB")
	setEnv(&c.Forensic.LedgerDB, "WINDI_EVENT_LOG_DB")
	setEnv(&c.Governance.SystemID, "WINDI_SERVER_ID")
	setEnv(&c.Fabric.RedisAddr, "WINDI_REDIS_ADDR")
}

func (c *Config) applyDefaults() {
	if c.Bridge.Port == 0 {
		c.Bridge.Port = 8080
	}
	if c.Governance.Port == 0 {
		c.Governance.Port = 8090
	}
	if c.Governance.ProvenanceDir == "" {
		c.Governance.ProvenanceDir = "provenance"
	}
	if c.Governance.RegistryDB == "" {
		c.Governance.RegistryDB = "windi_registry.db"
	}
	if c.Governance.PolicyRef == "" {
		c.Governance.PolicyRef = "windi-policy-2026.1"
	}
	if c.Governance.SystemID == "" {
		c.Governance.SystemID = "windi-local"
	}
	if len(c.Governance.KnownSystems) == 0 {
		c.Governance.KnownSystems = []string{c.Governance.SystemID}
	}
	if c.Forensic.LedgerDB == "" {
		c.Forensic.LedgerDB = "windi_ledger.db"
	}
	if c.Guard.DBPath == "" {
		c.Guard.DBPath = "windi_guard.db"
	}
	if c.WSG.LogPath == "" {
		c.WSG.LogPath = "wsg_violations.jsonl"
	}
	if c.Issuer.ID == "" {
		c.Issuer.ID = "windi-issuer"
	}
	if c.Issuer.Secret == "" {
		// Dev fallback only; production sets WINDI_ISSUER_SECRET.
		c.Issuer.Secret = "windi-dev-issuer-secret-change-in-production"
	}
}

func setEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
