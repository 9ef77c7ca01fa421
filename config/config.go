package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds the service configuration loaded from a TOML file.
type Config struct {
	RPCAddress      string `toml:"RPCAddress"`
	DataDir         string `toml:"DataDir"`
	AuditDBPath     string `toml:"AuditDBPath"`
	DocumentGateway string `toml:"DocumentGateway"`
	OwnerAddress    string `toml:"OwnerAddress"`
	TemplateVersion string `toml:"TemplateVersion"`
	NetworkName     string `toml:"NetworkName"`
	Environment     string `toml:"Environment"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	if strings.TrimSpace(cfg.AuditDBPath) == "" {
		cfg.AuditDBPath = filepath.Join(cfg.DataDir, "audit.db")
	}
	if strings.TrimSpace(cfg.DocumentGateway) == "" {
		cfg.DocumentGateway = "ipfs://"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "dealvault-local"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
}

// Validate rejects configurations that cannot bootstrap the factory.
func (c *Config) Validate() error {
	owner := strings.TrimSpace(c.OwnerAddress)
	if owner == "" {
		return fmt.Errorf("config: OwnerAddress is required")
	}
	if !strings.HasPrefix(owner, "0x") || len(owner) != 42 {
		return fmt.Errorf("config: OwnerAddress must be a 0x-prefixed 20-byte hex address")
	}
	if strings.TrimSpace(c.TemplateVersion) == "" {
		return fmt.Errorf("config: TemplateVersion is required")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
