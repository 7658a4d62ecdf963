package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr       = ":8545"
	DefaultStreamBufferSize = 64
)

// MutatorConfig is the on-disk configuration of the mutator daemon.
type MutatorConfig struct {
	// Admin is the only address allowed to administer collections at startup.
	Admin common.Address `yaml:"admin"`
	// Address is the engine's custody and issuance address.
	Address common.Address `yaml:"address"`
	BaseURI string         `yaml:"base_uri"`

	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	// DataDir holds the registry database. Empty keeps it in memory.
	DataDir          string   `yaml:"data_dir"`
	StreamBufferSize uint     `yaml:"stream_buffer_size"`
	AllowedOrigins   []string `yaml:"allowed_origins"`

	Genesis Genesis `yaml:"genesis"`
}

// Genesis seeds a fresh deployment.
type Genesis struct {
	Holdings    []Holding           `yaml:"holdings"`
	Collections []GenesisCollection `yaml:"collections"`
}

// Holding mints TokenIDs of Collection to Owner.
type Holding struct {
	Collection common.Address `yaml:"collection"`
	Owner      common.Address `yaml:"owner"`
	TokenIDs   []*big.Int     `yaml:"token_ids"`
}

type GenesisCollection struct {
	Address common.Address `yaml:"address"`
	Pool    []*big.Int     `yaml:"pool"`
	Fee     *big.Int       `yaml:"fee"`
}

// LoadConfig reads a configuration file from the given path, applies defaults
// and validates it.
func LoadConfig(path string) (*MutatorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates a YAML configuration.
func Parse(data []byte) (*MutatorConfig, error) {
	var cfg MutatorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.StreamBufferSize == 0 {
		cfg.StreamBufferSize = DefaultStreamBufferSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *MutatorConfig) Validate() error {
	if c.Admin == (common.Address{}) {
		return errors.New("config: admin is required")
	}
	if c.Address == (common.Address{}) {
		return errors.New("config: address is required")
	}
	if c.MetricsAddr != "" && c.MetricsAddr == c.ListenAddr {
		return errors.New("config: metrics_addr must differ from listen_addr")
	}
	for i, h := range c.Genesis.Holdings {
		if h.Collection == (common.Address{}) || h.Owner == (common.Address{}) {
			return fmt.Errorf("config: genesis holding %d needs a collection and an owner", i)
		}
		if h.Collection == c.Address {
			return fmt.Errorf("config: genesis holding %d mints into the engine's own collection", i)
		}
		if err := checkIDs(h.TokenIDs); err != nil {
			return fmt.Errorf("config: genesis holding %d: %w", i, err)
		}
	}
	for i, gc := range c.Genesis.Collections {
		if gc.Address == (common.Address{}) {
			return fmt.Errorf("config: genesis collection %d needs an address", i)
		}
		if gc.Fee == nil || gc.Fee.Sign() <= 0 {
			return fmt.Errorf("config: genesis collection %s needs a positive fee", gc.Address)
		}
		if len(gc.Pool) == 0 {
			return fmt.Errorf("config: genesis collection %s has an empty pool", gc.Address)
		}
		if err := checkIDs(gc.Pool); err != nil {
			return fmt.Errorf("config: genesis collection %s: %w", gc.Address, err)
		}
	}
	return nil
}

func checkIDs(ids []*big.Int) error {
	for _, id := range ids {
		if id == nil || id.Sign() < 0 || id.BitLen() > 256 {
			return fmt.Errorf("token id %v is not a uint256", id)
		}
	}
	return nil
}
