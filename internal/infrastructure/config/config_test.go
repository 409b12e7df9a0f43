package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Hub.Token = "opaque-long-lived-token"
	return cfg
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "hub",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
site:
  timezone: "Europe/London"
hub:
  url: "http://hub.local:8123"
  token: "abc123"
  ignored_domains: ["automation", "update"]
connection:
  reconnect_base: 2
  reconnect_max: 30
  staleness_threshold: 120
cache:
  addr: "redis:6379"
triggers:
  mode: "sync"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hub.URL != "http://hub.local:8123" {
		t.Errorf("Hub.URL = %q, want %q", cfg.Hub.URL, "http://hub.local:8123")
	}
	if len(cfg.Hub.IgnoredDomains) != 2 || cfg.Hub.IgnoredDomains[1] != "update" {
		t.Errorf("Hub.IgnoredDomains = %v", cfg.Hub.IgnoredDomains)
	}
	if cfg.GetReconnectBase() != 2*time.Second {
		t.Errorf("GetReconnectBase() = %v, want 2s", cfg.GetReconnectBase())
	}
	if cfg.GetStalenessThreshold() != 2*time.Minute {
		t.Errorf("GetStalenessThreshold() = %v, want 2m", cfg.GetStalenessThreshold())
	}
	if cfg.Triggers.Mode != "sync" {
		t.Errorf("Triggers.Mode = %q, want sync", cfg.Triggers.Mode)
	}
	// Untouched sections keep their defaults.
	if cfg.GetStateTTL() != time.Hour {
		t.Errorf("GetStateTTL() = %v, want 1h", cfg.GetStateTTL())
	}
	if cfg.Location().String() != "Europe/London" {
		t.Errorf("Location() = %v, want Europe/London", cfg.Location())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_EmptyPathUsesEnvironment(t *testing.T) {
	t.Setenv("HUBRELAY_HUB_TOKEN", "from-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Hub.Token != "from-env" {
		t.Errorf("Hub.Token = %q, want from-env", cfg.Hub.Token)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
hub:
  url: "http://hub.local:8123"
  token: ""
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for empty hub.token, got nil")
	}
	if !strings.Contains(err.Error(), "hub.token is required") {
		t.Errorf("Load() error = %v, want hub.token message", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:    "missing hub url",
			mutate:  func(c *Config) { c.Hub.URL = "" },
			wantErr: "hub.url is required",
		},
		{
			name:    "relative hub url",
			mutate:  func(c *Config) { c.Hub.URL = "hub.local:8123" },
			wantErr: "hub.url must be an absolute",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Site.Timezone = "Mars/Olympus" },
			wantErr: "site.timezone",
		},
		{
			name:    "max below base",
			mutate:  func(c *Config) { c.Connection.ReconnectBase = 10; c.Connection.ReconnectMax = 5 },
			wantErr: "reconnect_max",
		},
		{
			name:    "ping not below read timeout",
			mutate:  func(c *Config) { c.Connection.PingInterval = 30; c.Connection.ReadTimeout = 30 },
			wantErr: "ping_interval",
		},
		{
			name:    "unknown dispatch mode",
			mutate:  func(c *Config) { c.Triggers.Mode = "parallel" },
			wantErr: "triggers.mode",
		},
		{
			name:    "negative concurrency",
			mutate:  func(c *Config) { c.Triggers.MaxConcurrent = -1 },
			wantErr: "max_concurrent",
		},
		{
			name:    "influx enabled without bucket",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.URL = "http://influx:8086" },
			wantErr: "influxdb.url and influxdb.bucket",
		},
		{
			name:   "mqtt qos ignored when disabled",
			mutate: func(c *Config) { c.MQTT.QoS = 7 },
		},
		{
			name:    "short api secret",
			mutate:  func(c *Config) { c.API.JWTSecret = "too-short" },
			wantErr: "api.jwt_secret",
		},
		{
			name:    "zero token ttl",
			mutate:  func(c *Config) { c.API.TokenTTL = 0 },
			wantErr: "api.token_ttl",
		},
		{
			name:    "mqtt qos checked when enabled",
			mutate:  func(c *Config) { c.MQTT.Enabled = true; c.MQTT.QoS = 7 },
			wantErr: "mqtt.qos",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Hub.URL = ""
	cfg.Cache.Addr = ""
	cfg.Database.Path = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"hub.url", "cache.addr", "database.path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q: %v", want, err)
		}
	}
}

func TestCheckTokenExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "opaque token", token: "not-a-jwt"},
		{name: "future exp", token: signedToken(t, now.Add(24*time.Hour))},
		{name: "past exp", token: signedToken(t, now.Add(-time.Hour)), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkTokenExpiry(tt.token, now)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkTokenExpiry() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("HUBRELAY_HUB_URL", "https://hub.example.com")
	t.Setenv("HUBRELAY_HUB_IGNORED_DOMAINS", "update,zone")
	t.Setenv("HUBRELAY_CACHE_ADDR", "redis.example.com:6379")
	t.Setenv("HUBRELAY_CONNECTION_STALENESS_THRESHOLD", "90")
	t.Setenv("HUBRELAY_MQTT_AUTH_USERNAME", "testuser")
	t.Setenv("HUBRELAY_DATABASE_PATH", "/custom/path.db")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	if cfg.Hub.URL != "https://hub.example.com" {
		t.Errorf("Hub.URL = %q", cfg.Hub.URL)
	}
	if len(cfg.Hub.IgnoredDomains) != 2 || cfg.Hub.IgnoredDomains[0] != "update" {
		t.Errorf("Hub.IgnoredDomains = %v", cfg.Hub.IgnoredDomains)
	}
	if cfg.Cache.Addr != "redis.example.com:6379" {
		t.Errorf("Cache.Addr = %q", cfg.Cache.Addr)
	}
	if cfg.Connection.StalenessThreshold != 90 {
		t.Errorf("Connection.StalenessThreshold = %d, want 90", cfg.Connection.StalenessThreshold)
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q", cfg.MQTT.Auth.Username)
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	// Unset variables keep defaults.
	if cfg.Connection.ReconnectMax != 60 {
		t.Errorf("Connection.ReconnectMax = %d, want default 60", cfg.Connection.ReconnectMax)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.GetReconnectBase() != time.Second || cfg.GetReconnectMax() != time.Minute {
		t.Errorf("reconnect defaults = %v/%v, want 1s/1m", cfg.GetReconnectBase(), cfg.GetReconnectMax())
	}
	if cfg.GetSolarLookahead() != 20*time.Hour {
		t.Errorf("GetSolarLookahead() = %v, want 20h", cfg.GetSolarLookahead())
	}
	if cfg.GetLockTTL() != 10*time.Second {
		t.Errorf("GetLockTTL() = %v, want 10s", cfg.GetLockTTL())
	}
	if cfg.Triggers.Mode != "async" {
		t.Errorf("Triggers.Mode = %q, want async", cfg.Triggers.Mode)
	}
	// Token has no default; a bare default config must not validate.
	if err := cfg.Validate(); err == nil {
		t.Error("defaultConfig().Validate() = nil, want hub.token error")
	}
}
