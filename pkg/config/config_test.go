package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sherpa-dns.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
provider:
  name: cloudflare
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Source.LabelPrefix != "sherpa.dns" {
		t.Errorf("LabelPrefix = %q, want sherpa.dns", cfg.Source.LabelPrefix)
	}
	if cfg.Registry.Type != "txt" {
		t.Errorf("Registry.Type = %q, want txt", cfg.Registry.Type)
	}
	if cfg.Registry.TXTPrefix != "sherpa-dns-" {
		t.Errorf("TXTPrefix = %q, want sherpa-dns-", cfg.Registry.TXTPrefix)
	}
	if cfg.Registry.TXTOwnerID != "default" {
		t.Errorf("TXTOwnerID = %q, want default", cfg.Registry.TXTOwnerID)
	}
	if cfg.Controller.Interval != "1m" {
		t.Errorf("Interval = %q, want 1m", cfg.Controller.Interval)
	}
	if cfg.Controller.CleanupDelay != "15m" {
		t.Errorf("CleanupDelay = %q, want 15m", cfg.Controller.CleanupDelay)
	}
	if !cfg.Controller.CleanupOnStopOrDefault() {
		t.Error("CleanupOnStopOrDefault() = false, want true when unset")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoad_ExplicitValuesOverrideDefaults(t *testing.T) {
	path := writeTempConfig(t, `
source:
  label_prefix: custom.prefix
  label_filter: "env=prod"
provider:
  name: rfc2136
  rfc2136:
    host: ns1.example.com
    port: 53
    zone: example.com.
controller:
  interval: 30s
  cleanup_on_stop: false
  cleanup_delay: 5m
domains:
  include: ["example.com"]
  exclude: ["internal.example.com"]
logging:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Source.LabelPrefix != "custom.prefix" {
		t.Errorf("LabelPrefix = %q, want custom.prefix", cfg.Source.LabelPrefix)
	}
	if cfg.Provider.Name != "rfc2136" {
		t.Errorf("Provider.Name = %q, want rfc2136", cfg.Provider.Name)
	}
	if cfg.Provider.RFC2136.Host != "ns1.example.com" {
		t.Errorf("RFC2136.Host = %q, want ns1.example.com", cfg.Provider.RFC2136.Host)
	}
	if cfg.Controller.CleanupOnStopOrDefault() {
		t.Error("CleanupOnStopOrDefault() = true, want false (explicitly set)")
	}
	if got := cfg.IntervalDuration(); got != 30*time.Second {
		t.Errorf("IntervalDuration() = %v, want 30s", got)
	}
	if got := cfg.CleanupDelayDuration(); got != 5*time.Minute {
		t.Errorf("CleanupDelayDuration() = %v, want 5m", got)
	}
	if len(cfg.Domains.Include) != 1 || cfg.Domains.Include[0] != "example.com" {
		t.Errorf("Domains.Include = %v, want [example.com]", cfg.Domains.Include)
	}
	if len(cfg.Domains.Exclude) != 1 || cfg.Domains.Exclude[0] != "internal.example.com" {
		t.Errorf("Domains.Exclude = %v, want [internal.example.com]", cfg.Domains.Exclude)
	}
}

func TestLoad_SubstitutesEnvVars(t *testing.T) {
	t.Setenv("CF_TOKEN", "secret-token-value")
	path := writeTempConfig(t, `
provider:
  name: cloudflare
  cloudflare:
    api_token: ${CF_TOKEN}
registry:
  encryption_key: ${MISSING_KEY:-fallback-key}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider.Cloudflare.APIToken != "secret-token-value" {
		t.Errorf("APIToken = %q, want secret-token-value", cfg.Provider.Cloudflare.APIToken)
	}
	if cfg.Registry.EncryptionKey != "fallback-key" {
		t.Errorf("EncryptionKey = %q, want fallback-key", cfg.Registry.EncryptionKey)
	}
}

func TestLoad_MissingEnvVarWithoutDefaultBecomesEmpty(t *testing.T) {
	os.Unsetenv("SHERPA_TEST_UNSET_VAR")
	path := writeTempConfig(t, `
provider:
  cloudflare:
    api_token: ${SHERPA_TEST_UNSET_VAR}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider.Cloudflare.APIToken != "" {
		t.Errorf("APIToken = %q, want empty string", cfg.Provider.Cloudflare.APIToken)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("Load() error = nil, want error for missing file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeTempConfig(t, "source: [this is not a valid mapping")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() error = nil, want parse error")
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	os.Unsetenv("UNSET_VAR")

	tests := []struct {
		name, in, want string
	}{
		{"plain substitution", "${FOO}", "bar"},
		{"default used when unset", "${UNSET_VAR:-baz}", "baz"},
		{"set value wins over default", "${FOO:-baz}", "bar"},
		{"unset without default is empty", "${UNSET_VAR}", ""},
		{"no reference untouched", "plain text", "plain text"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := substituteEnvVars(tc.in); got != tc.want {
				t.Errorf("substituteEnvVars(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseDurationOr(t *testing.T) {
	if got := parseDurationOr("", 5*time.Second); got != 5*time.Second {
		t.Errorf("empty string: got %v, want 5s", got)
	}
	if got := parseDurationOr("not-a-duration", 5*time.Second); got != 5*time.Second {
		t.Errorf("malformed: got %v, want 5s", got)
	}
	if got := parseDurationOr("10m", 5*time.Second); got != 10*time.Minute {
		t.Errorf("valid: got %v, want 10m", got)
	}
}
