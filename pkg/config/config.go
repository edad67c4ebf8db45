// Package config loads sherpa-dns's YAML configuration file, applying
// ${VAR} / ${VAR:-default} environment-variable substitution before
// parsing and filling every section with its documented defaults.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v2"

	"github.com/sherpa-dns/sherpa-dns/pkg/cleanup"
)

// Config is the root of the YAML configuration file.
type Config struct {
	Source     SourceConfig     `yaml:"source"`
	Provider   ProviderConfig   `yaml:"provider"`
	Registry   RegistryConfig   `yaml:"registry"`
	Controller ControllerConfig `yaml:"controller"`
	Domains    DomainsConfig    `yaml:"domains"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SourceConfig configures how containers are discovered and filtered.
type SourceConfig struct {
	LabelPrefix string `yaml:"label_prefix"`
	LabelFilter string `yaml:"label_filter"`
}

// ProviderConfig selects and configures the DNS provider backend.
type ProviderConfig struct {
	Name       string           `yaml:"name"`
	Cloudflare CloudflareConfig `yaml:"cloudflare"`
	RFC2136    RFC2136Config    `yaml:"rfc2136"`
}

// CloudflareConfig configures the Cloudflare provider.
type CloudflareConfig struct {
	APIToken         string `yaml:"api_token"`
	ProxiedByDefault bool   `yaml:"proxied_by_default"`
}

// RFC2136Config configures the RFC2136 dynamic-update provider.
type RFC2136Config struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Zone          string `yaml:"zone"`
	TSIGKeyName   string `yaml:"tsig_key_name"`
	TSIGSecret    string `yaml:"tsig_secret"`
	TSIGSecretAlg string `yaml:"tsig_secret_alg"`
	MinTTL        int64  `yaml:"min_ttl"`
	Timeout       string `yaml:"timeout"` // e.g. "10s"; empty uses the provider default.
}

// RegistryConfig configures record-ownership tracking.
type RegistryConfig struct {
	Type                   string `yaml:"type"`
	TXTPrefix              string `yaml:"txt_prefix"`
	TXTOwnerID             string `yaml:"txt_owner_id"`
	TXTWildcardReplacement string `yaml:"txt_wildcard_replacement"`
	Encrypt                bool   `yaml:"encrypt"`
	EncryptionKey          string `yaml:"encryption_key"`
}

// ControllerConfig configures the reconciliation loop.
type ControllerConfig struct {
	Interval string `yaml:"interval"` // e.g. "1m"
	Once     bool   `yaml:"once"`
	DryRun   bool   `yaml:"dry_run"`
	// CleanupOnStop is a pointer so an absent key can default to true while
	// an explicit "false" is still honored; use CleanupOnStopOrDefault.
	CleanupOnStop *bool  `yaml:"cleanup_on_stop"`
	CleanupDelay  string `yaml:"cleanup_delay"` // e.g. "15m"
}

// CleanupOnStopOrDefault returns the configured value, defaulting to true
// (matching the original implementation) when the key was absent.
func (c *ControllerConfig) CleanupOnStopOrDefault() bool {
	if c.CleanupOnStop == nil {
		return true
	}
	return *c.CleanupOnStop
}

// DomainsConfig restricts which DNS names this instance manages. An empty
// Include matches every domain; Exclude always wins over Include.
type DomainsConfig struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// envVarPattern matches ${NAME} and ${NAME:-default} references.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${NAME} with the environment variable NAME
// (empty string if unset), and ${NAME:-default} with NAME or default when
// NAME is unset.
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(ref string) string {
		inner := ref[2 : len(ref)-1]
		name, def, hasDefault := inner, "", false
		for i := 0; i+1 < len(inner); i++ {
			if inner[i] == ':' && inner[i+1] == '-' {
				name, def, hasDefault = inner[:i], inner[i+2:], true
				break
			}
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
}

// Load reads, substitutes, and parses the YAML configuration file at path,
// then fills every unset field with its documented default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	substituted := substituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(substituted), &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills every field left at its zero value with the
// documented default for that field.
func (c *Config) applyDefaults() {
	if c.Source.LabelPrefix == "" {
		c.Source.LabelPrefix = "sherpa.dns"
	}
	if c.Provider.Name == "" {
		c.Provider.Name = "cloudflare"
	}
	if c.Registry.Type == "" {
		c.Registry.Type = "txt"
	}
	if c.Registry.TXTPrefix == "" {
		c.Registry.TXTPrefix = "sherpa-dns-"
	}
	if c.Registry.TXTOwnerID == "" {
		c.Registry.TXTOwnerID = "default"
	}
	if c.Registry.TXTWildcardReplacement == "" {
		c.Registry.TXTWildcardReplacement = "star"
	}
	if c.Controller.Interval == "" {
		c.Controller.Interval = "1m"
	}
	if c.Controller.CleanupDelay == "" {
		c.Controller.CleanupDelay = "15m"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// IntervalDuration parses Controller.Interval, defaulting to one minute on
// a malformed value.
func (c *Config) IntervalDuration() time.Duration {
	return parseDurationOr(c.Controller.Interval, time.Minute)
}

// CleanupDelayDuration parses Controller.CleanupDelay with
// cleanup.ParseDuration ("<digits><s|m|h|d>"), defaulting to 15 minutes on
// a malformed value.
func (c *Config) CleanupDelayDuration() time.Duration {
	return cleanup.ParseDuration(c.Controller.CleanupDelay)
}

// RFC2136Timeout parses Provider.RFC2136.Timeout, defaulting to zero (the
// rfc2136 provider applies its own default) when unset or malformed.
func (c *Config) RFC2136Timeout() time.Duration {
	return parseDurationOr(c.Provider.RFC2136.Timeout, 0)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
