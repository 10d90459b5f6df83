package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration loaded from TOML.
type Config struct {
	DataDir        string `toml:"DataDir"`
	Environment    string `toml:"Environment"`
	MetricsAddress string `toml:"MetricsAddress"`

	Bond    BondConfig    `toml:"bond"`
	Oracle  OracleConfig  `toml:"oracle"`
	Factory FactoryConfig `toml:"factory"`
}

// BondConfig carries the series-level defaults applied at instantiation.
type BondConfig struct {
	Admin          string   `toml:"Admin"`
	ProtocolFeeBps uint64   `toml:"ProtocolFeeBps"`
	FeeRecipient   string   `toml:"FeeRecipient"`
	PriceFeeders   []string `toml:"PriceFeeders"`
}

// OracleConfig wires the external price and registry endpoints.
type OracleConfig struct {
	// Priority orders the registered price sources; the first fresh quote
	// wins.
	Priority           []string `toml:"Priority"`
	MaxQuoteAgeSeconds uint64   `toml:"MaxQuoteAgeSeconds"`
	BandEndpoint       string   `toml:"BandEndpoint"`
	RegistryEndpoint   string   `toml:"RegistryEndpoint"`
}

// FactoryConfig is the series-creation policy.
type FactoryConfig struct {
	Admin                        string   `toml:"Admin"`
	AllowedPrincipalDenoms       []string `toml:"AllowedPrincipalDenoms"`
	MinInitialCollateralRatioBps uint64   `toml:"MinInitialCollateralRatioBps"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./heb-data"
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = ":9090"
	}
	if c.Oracle.MaxQuoteAgeSeconds == 0 {
		c.Oracle.MaxQuoteAgeSeconds = 300
	}
	if c.Oracle.Priority == nil {
		c.Oracle.Priority = []string{}
	}
	if c.Bond.PriceFeeders == nil {
		c.Bond.PriceFeeders = []string{}
	}
	if c.Factory.AllowedPrincipalDenoms == nil {
		c.Factory.AllowedPrincipalDenoms = []string{}
	}
	if c.Bond.ProtocolFeeBps > 10_000 {
		return fmt.Errorf("config: ProtocolFeeBps %d exceeds 10000", c.Bond.ProtocolFeeBps)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir:        "./heb-data",
		Environment:    "local",
		MetricsAddress: ":9090",
		Bond: BondConfig{
			ProtocolFeeBps: 50,
			PriceFeeders:   []string{},
		},
		Oracle: OracleConfig{
			Priority:           []string{"manual"},
			MaxQuoteAgeSeconds: 300,
		},
		Factory: FactoryConfig{
			AllowedPrincipalDenoms:       []string{},
			MinInitialCollateralRatioBps: 10_000,
		},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
