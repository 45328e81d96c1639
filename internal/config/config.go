// Package config provides configuration management for the marketplace node.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"nft_marketplace/internal/units"
)

// ErrUnknownNetwork is returned when the configured chain id has no network entry.
var ErrUnknownNetwork = errors.New("unknown network")

// Config represents the marketplace node configuration.
type Config struct {
	ChainID           uint64             `yaml:"chain_id"`
	Networks          map[uint64]Network `yaml:"networks"`
	DevelopmentChains []string           `yaml:"development_chains"`
	Accounts          []Account          `yaml:"accounts"`
	Server            ServerConfig       `yaml:"server"`
	Indexer           IndexerConfig      `yaml:"indexer"`
	Frontend          FrontendConfig     `yaml:"frontend"`
	Log               LogConfig          `yaml:"log"`
}

// Network holds chain-specific parameters.
type Network struct {
	Name               string `yaml:"name"`
	BlockConfirmations int    `yaml:"block_confirmations"`
	TxFee              string `yaml:"tx_fee"` // wei
}

// Account is a named account created at startup.
type Account struct {
	Name    string `yaml:"name"`
	Balance string `yaml:"balance"` // ether
}

// ServerConfig contains HTTP settings.
type ServerConfig struct {
	Listen    string        `yaml:"listen"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// IndexerConfig selects the SQL database events are indexed into.
type IndexerConfig struct {
	Driver string `yaml:"driver"` // "sqlite3" or "postgres"
	DSN    string `yaml:"dsn"`
}

// FrontendConfig controls the post-deploy export of addresses and method descriptors.
type FrontendConfig struct {
	Update        bool   `yaml:"update"`
	AddressesFile string `yaml:"addresses_file"`
	ABIDir        string `yaml:"abi_dir"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a configuration for a local development chain.
func Default() *Config {
	return &Config{
		ChainID: 31337,
		Networks: map[uint64]Network{
			31337: {Name: "localhost", BlockConfirmations: 1, TxFee: "0"},
			5:     {Name: "goerli", BlockConfirmations: 6, TxFee: "21000000000000"},
		},
		DevelopmentChains: []string{"hardhat", "localhost"},
		Accounts: []Account{
			{Name: "deployer", Balance: "10000"},
			{Name: "user", Balance: "10000"},
		},
		Server: ServerConfig{
			Listen:    ":8081",
			JWTSecret: "insecure-dev-secret",
			TokenTTL:  time.Hour,
		},
		Indexer: IndexerConfig{
			Driver: "sqlite3",
			DSN:    "file:marketplace-events.db?_journal_mode=WAL&_busy_timeout=5000",
		},
		Frontend: FrontendConfig{
			AddressesFile: "../nextjs-nftmarketplace/constants/networkMapping.json",
			ABIDir:        "../nextjs-nftmarketplace/constants/",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults, then applies .env and
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	// .env is optional
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("NFTM_CHAIN_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("NFTM_CHAIN_ID: %w", err)
		}
		c.ChainID = id
	}
	if v := os.Getenv("NFTM_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("NFTM_JWT_SECRET"); v != "" {
		c.Server.JWTSecret = v
	}
	if v := os.Getenv("NFTM_INDEXER_DRIVER"); v != "" {
		c.Indexer.Driver = v
	}
	if v := os.Getenv("NFTM_INDEXER_DSN"); v != "" {
		c.Indexer.DSN = v
	}
	if v := os.Getenv("UPDATE_FRONTEND"); v != "" {
		update, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("UPDATE_FRONTEND: %w", err)
		}
		c.Frontend.Update = update
	}
	return nil
}

// Validate checks that the active network exists and amounts parse.
func (c *Config) Validate() error {
	network, err := c.Network()
	if err != nil {
		return err
	}
	if _, err := units.ParseWei(network.TxFee); err != nil {
		return fmt.Errorf("network %s tx_fee: %w", network.Name, err)
	}
	seen := map[string]bool{}
	for _, acct := range c.Accounts {
		if acct.Name == "" {
			return errors.New("account with empty name")
		}
		if seen[acct.Name] {
			return fmt.Errorf("duplicate account %q", acct.Name)
		}
		seen[acct.Name] = true
		if _, err := units.ParseEther(acct.Balance); err != nil {
			return fmt.Errorf("account %s balance: %w", acct.Name, err)
		}
	}
	switch c.Indexer.Driver {
	case "", "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported indexer driver %q", c.Indexer.Driver)
	}
	return nil
}

// Network returns the parameters of the active chain.
func (c *Config) Network() (Network, error) {
	network, ok := c.Networks[c.ChainID]
	if !ok {
		return Network{}, fmt.Errorf("%w: chain id %d", ErrUnknownNetwork, c.ChainID)
	}
	if network.TxFee == "" {
		network.TxFee = "0"
	}
	return network, nil
}

// IsDevelopment reports whether the active network is a local development chain.
func (c *Config) IsDevelopment() bool {
	network, err := c.Network()
	if err != nil {
		return false
	}
	return slices.Contains(c.DevelopmentChains, network.Name)
}

// TxFee returns the active network's flat transaction fee in wei.
func (c *Config) TxFee() (*big.Int, error) {
	network, err := c.Network()
	if err != nil {
		return nil, err
	}
	return units.ParseWei(network.TxFee)
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
