package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"nftmarket/core"
)

// GenesisAlloc seeds a native balance on the first boot of a fresh data
// directory.
type GenesisAlloc struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

type Config struct {
	RPCAddress           string         `toml:"RPCAddress"`
	DataDir              string         `toml:"DataDir"`
	NetworkName          string         `toml:"NetworkName"`
	BlockIntervalSeconds uint64         `toml:"BlockIntervalSeconds"`
	OwnerAddress         string         `toml:"OwnerAddress"`
	PausedModules        []string       `toml:"PausedModules"`
	Genesis              []GenesisAlloc `toml:"Genesis"`
}

// Load reads the configuration from the given path. A missing file is
// created with defaults so a fresh checkout boots without ceremony.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "market-local"
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8545"
	}
	if cfg.BlockIntervalSeconds == 0 {
		cfg.BlockIntervalSeconds = 5
	}
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
	return cfg, nil
}

// NodeConfig translates the file representation into the node's boot
// parameters.
func (c *Config) NodeConfig() (core.NodeConfig, error) {
	out := core.NodeConfig{Paused: append([]string{}, c.PausedModules...)}
	if strings.TrimSpace(c.OwnerAddress) != "" {
		owner, err := parseAddress(c.OwnerAddress)
		if err != nil {
			return core.NodeConfig{}, fmt.Errorf("OwnerAddress: %w", err)
		}
		out.Owner = owner
	}
	for i, alloc := range c.Genesis {
		addr, err := parseAddress(alloc.Address)
		if err != nil {
			return core.NodeConfig{}, fmt.Errorf("Genesis[%d].Address: %w", i, err)
		}
		balance, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Balance), 10)
		if !ok || balance.Sign() <= 0 {
			return core.NodeConfig{}, fmt.Errorf("Genesis[%d].Balance: not a positive decimal integer: %q", i, alloc.Balance)
		}
		out.Genesis = append(out.Genesis, core.GenesisAccount{Address: addr, Balance: balance})
	}
	return out, nil
}

func parseAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if !ethcommon.IsHexAddress(trimmed) {
		return out, fmt.Errorf("not a hex address: %q", value)
	}
	copy(out[:], ethcommon.HexToAddress(trimmed).Bytes())
	return out, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:           "127.0.0.1:8545",
		DataDir:              "./market-data",
		NetworkName:          "market-local",
		BlockIntervalSeconds: 5,
		PausedModules:        []string{},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
