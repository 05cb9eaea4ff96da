// Package config loads deadbolt configuration from a TOML file next to
// the vault, falling back to built-in defaults when the file is absent.
//
// The PBKDF2 iteration count is intentionally NOT configurable; it is a
// compile-time constant in internal/crypto.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ConfigFile is the name of the optional configuration file inside the
// vault root.
const ConfigFile = "deadbolt.toml"

// Config represents the complete deadbolt configuration.
type Config struct {
	// Auth contains password authentication limits.
	Auth AuthConfig `toml:"auth"`

	// Escalation contains error counter thresholds.
	Escalation EscalationConfig `toml:"escalation"`

	// Audit contains audit trail rotation settings.
	Audit AuditConfig `toml:"audit"`
}

// AuthConfig contains password authentication limits.
type AuthConfig struct {
	// MaxFailedAttempts is the number of consecutive invalid
	// classifications before the duress sequence fires.
	MaxFailedAttempts int `toml:"max_failed_attempts"`
}

// EscalationConfig contains per-category error thresholds. Crossing a
// threshold triggers the destruction sequence.
type EscalationConfig struct {
	CryptoThreshold   int `toml:"crypto_threshold"`
	SecurityThreshold int `toml:"security_threshold"`
	StorageThreshold  int `toml:"storage_threshold"`
	OtherThreshold    int `toml:"other_threshold"`
}

// AuditConfig contains audit trail rotation settings.
type AuditConfig struct {
	// MaxContainerBytes is the size at which the active container is
	// sealed and archived.
	MaxContainerBytes int64 `toml:"max_container_bytes"`
	// MaxArchives is the number of archived containers retained; the
	// oldest is discarded first.
	MaxArchives int `toml:"max_archives"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Auth: AuthConfig{
			MaxFailedAttempts: 10,
		},
		Escalation: EscalationConfig{
			CryptoThreshold:   5,
			SecurityThreshold: 3,
			StorageThreshold:  7,
			OtherThreshold:    10,
		},
		Audit: AuditConfig{
			MaxContainerBytes: 1 << 20, // 1 MiB
			MaxArchives:       5,
		},
	}
}

// Load reads the configuration file at path. A missing file yields the
// defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.MaxFailedAttempts < 1 {
		return fmt.Errorf("auth.max_failed_attempts must be at least 1")
	}
	for name, v := range map[string]int{
		"escalation.crypto_threshold":   c.Escalation.CryptoThreshold,
		"escalation.security_threshold": c.Escalation.SecurityThreshold,
		"escalation.storage_threshold":  c.Escalation.StorageThreshold,
		"escalation.other_threshold":    c.Escalation.OtherThreshold,
	} {
		if v < 1 {
			return fmt.Errorf("%s must be at least 1", name)
		}
	}
	if c.Audit.MaxContainerBytes < 1024 {
		return fmt.Errorf("audit.max_container_bytes must be at least 1024")
	}
	if c.Audit.MaxArchives < 1 {
		return fmt.Errorf("audit.max_archives must be at least 1")
	}
	return nil
}
