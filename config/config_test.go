package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credit.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":7423" {
		t.Fatalf("listen address: got %s", cfg.ListenAddress)
	}
	if cfg.BlockThreshold != 100 {
		t.Fatalf("block threshold: got %d", cfg.BlockThreshold)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}

	// A second load reads the file it just wrote.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.DataDir != cfg.DataDir {
		t.Fatalf("reload data dir: got %s want %s", again.DataDir, cfg.DataDir)
	}
}

func TestLoadAppliesFallbacks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credit.toml")
	if err := os.WriteFile(path, []byte("LogFile = \"/var/log/creditd.log\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "local" {
		t.Fatalf("environment fallback: got %s", cfg.Environment)
	}
	if cfg.PolicyName != "default" {
		t.Fatalf("policy fallback: got %s", cfg.PolicyName)
	}
	if cfg.LogFile != "/var/log/creditd.log" {
		t.Fatalf("log file: got %s", cfg.LogFile)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{"negative threshold", "BlockThreshold = -1\n", ErrInvalidThreshold},
		{"burn over 100 percent", "[Economy]\nBurnRateBps = 10001\n", ErrInvalidBurnRate},
		{"gate out of range", "[Economy]\nRewardGate = 1.5\n", ErrInvalidGate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "credit.toml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); !errors.Is(err, tc.want) {
				t.Fatalf("error: got %v want %v", err, tc.want)
			}
		})
	}
}

func TestEconomyParamsOverrides(t *testing.T) {
	cfg := &Config{Economy: Economy{BurnRateBps: 300, BasePriceTokens: 250}}
	params := cfg.EconomyParams()
	if params.BurnRateBps != 300 {
		t.Fatalf("burn rate: got %d", params.BurnRateBps)
	}
	if params.BasePrice.Int64() != 250*100 {
		t.Fatalf("base price: got %s", params.BasePrice)
	}
	// Untouched knobs keep their defaults.
	if params.RewardGate != 0.85 {
		t.Fatalf("reward gate default: got %v", params.RewardGate)
	}
}
