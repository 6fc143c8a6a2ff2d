package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "127.0.0.1:8545" {
		t.Fatalf("RPCAddress = %q", cfg.RPCAddress)
	}
	if cfg.NetworkName != "market-local" {
		t.Fatalf("NetworkName = %q", cfg.NetworkName)
	}
	if cfg.BlockIntervalSeconds != 5 {
		t.Fatalf("BlockIntervalSeconds = %d", cfg.BlockIntervalSeconds)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file not written: %v", err)
	}
}

func TestLoadParsesGenesisAndOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
RPCAddress = "127.0.0.1:9000"
DataDir = "/tmp/market"
OwnerAddress = "0x0101010101010101010101010101010101010101"
PausedModules = ["market"]

[[Genesis]]
Address = "0x0202020202020202020202020202020202020202"
Balance = "1000"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	nodeCfg, err := cfg.NodeConfig()
	if err != nil {
		t.Fatalf("node config: %v", err)
	}
	if nodeCfg.Owner[0] != 0x01 {
		t.Fatalf("owner not parsed: %x", nodeCfg.Owner)
	}
	if len(nodeCfg.Genesis) != 1 || nodeCfg.Genesis[0].Balance.Int64() != 1000 {
		t.Fatalf("genesis not parsed: %+v", nodeCfg.Genesis)
	}
	if len(nodeCfg.Paused) != 1 || nodeCfg.Paused[0] != "market" {
		t.Fatalf("paused modules not parsed: %v", nodeCfg.Paused)
	}
}

func TestNodeConfigRejectsBadValues(t *testing.T) {
	cfg := &Config{OwnerAddress: "nonsense"}
	if _, err := cfg.NodeConfig(); err == nil {
		t.Fatalf("bad owner address should fail")
	}
	cfg = &Config{Genesis: []GenesisAlloc{{Address: "0x0202020202020202020202020202020202020202", Balance: "-5"}}}
	if _, err := cfg.NodeConfig(); err == nil {
		t.Fatalf("negative balance should fail")
	}
}
