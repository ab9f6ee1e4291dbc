package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"creditprotocol/economy"
)

var (
	ErrInvalidThreshold = errors.New("config: BlockThreshold must be positive")
	ErrInvalidBurnRate  = errors.New("config: BurnRateBps must be at most 10000")
	ErrInvalidGate      = errors.New("config: RewardGate must be within [0, 1]")
)

// Economy holds the tunable subset of the token policy. Anything omitted
// keeps its default.
type Economy struct {
	BurnRateBps     uint64  `toml:"BurnRateBps"`
	BasePriceTokens int64   `toml:"BasePriceTokens"`
	RewardGate      float64 `toml:"RewardGate"`
}

type Config struct {
	ListenAddress  string  `toml:"ListenAddress"`
	DataDir        string  `toml:"DataDir"`
	Environment    string  `toml:"Environment"`
	LogFile        string  `toml:"LogFile"`
	BlockThreshold int     `toml:"BlockThreshold"`
	PolicyFile     string  `toml:"PolicyFile"`
	PolicyName     string  `toml:"PolicyName"`
	OTLPEndpoint   string  `toml:"OTLPEndpoint"`
	Economy        Economy `toml:"Economy"`
}

// Load reads the configuration at path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	applyFallbacks(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFallbacks(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":7423"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./credit-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if cfg.BlockThreshold == 0 {
		cfg.BlockThreshold = 100
	}
	if strings.TrimSpace(cfg.PolicyName) == "" {
		cfg.PolicyName = "default"
	}
}

func (c *Config) validate() error {
	if c.BlockThreshold <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, c.BlockThreshold)
	}
	if c.Economy.BurnRateBps > 10_000 {
		return fmt.Errorf("%w: %d", ErrInvalidBurnRate, c.Economy.BurnRateBps)
	}
	if c.Economy.RewardGate < 0 || c.Economy.RewardGate > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidGate, c.Economy.RewardGate)
	}
	return nil
}

// EconomyParams folds the configured overrides into the default policy.
func (c *Config) EconomyParams() economy.Params {
	params := economy.DefaultParams()
	if c.Economy.BurnRateBps > 0 {
		params.BurnRateBps = c.Economy.BurnRateBps
	}
	if c.Economy.BasePriceTokens > 0 {
		params.BasePrice = economy.Tokens(c.Economy.BasePriceTokens)
	}
	if c.Economy.RewardGate > 0 {
		params.RewardGate = c.Economy.RewardGate
	}
	return params
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:  ":7423",
		DataDir:        "./credit-data",
		Environment:    "local",
		BlockThreshold: 100,
		PolicyName:     "default",
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
