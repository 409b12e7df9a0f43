package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every env tag in this package.
const envPrefix = "HUBRELAY_"

// minJWTSecretLen is the shortest accepted API signing secret.
const minJWTSecretLen = 32

// Config is the root configuration structure for hubrelay.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site" envPrefix:"SITE_"`
	Hub        HubConfig        `yaml:"hub" envPrefix:"HUB_"`
	Connection ConnectionConfig `yaml:"connection" envPrefix:"CONNECTION_"`
	Cache      CacheConfig      `yaml:"cache" envPrefix:"CACHE_"`
	Triggers   TriggersConfig   `yaml:"triggers" envPrefix:"TRIGGERS_"`
	Database   DatabaseConfig   `yaml:"database" envPrefix:"DATABASE_"`
	MQTT       MQTTConfig       `yaml:"mqtt" envPrefix:"MQTT_"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb" envPrefix:"INFLUXDB_"`
	API        APIConfig        `yaml:"api" envPrefix:"API_"`
	Logging    LoggingConfig    `yaml:"logging" envPrefix:"LOGGING_"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	Name     string `yaml:"name" env:"NAME"`
	Timezone string `yaml:"timezone" env:"TIMEZONE"`
}

// HubConfig describes the upstream home-automation hub.
type HubConfig struct {
	// URL is the hub base URL, e.g. http://hub.local:8123.
	// The streaming endpoint is derived from it (ws[s]://host/api/websocket).
	URL   string `yaml:"url" env:"URL"`
	Token string `yaml:"token" env:"TOKEN"`

	// RequestTimeout bounds every REST call, in seconds.
	RequestTimeout int `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`

	// IgnoredDomains lists entity domains whose state changes are dropped
	// before caching or dispatch.
	IgnoredDomains []string `yaml:"ignored_domains" env:"IGNORED_DOMAINS" envSeparator:","`
}

// ConnectionConfig holds the streaming session policy.
type ConnectionConfig struct {
	// ReconnectBase is the first reconnect delay and the linear step, in seconds.
	ReconnectBase int `yaml:"reconnect_base" env:"RECONNECT_BASE"`
	// ReconnectMax caps the reconnect delay, in seconds.
	ReconnectMax int `yaml:"reconnect_max" env:"RECONNECT_MAX"`
	// StalenessThreshold is the disconnect duration, in seconds, after which
	// a reconnect triggers a full resync.
	StalenessThreshold int `yaml:"staleness_threshold" env:"STALENESS_THRESHOLD"`
	// ReadTimeout is the read deadline of the listener loop, in seconds.
	ReadTimeout int `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// PingInterval is the keep-alive interval, in seconds. Zero disables pings.
	PingInterval int `yaml:"ping_interval" env:"PING_INTERVAL"`
}

// CacheConfig contains Redis connection and key lifetime settings.
type CacheConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`

	// StateTTL is the lifetime of STATE keys, in seconds.
	StateTTL int `yaml:"state_ttl" env:"STATE_TTL"`
	// RegisteredTTL is the lifetime of REGISTERED keys, in seconds.
	RegisteredTTL int `yaml:"registered_ttl" env:"REGISTERED_TTL"`
	// LockTTL is the auto-expiry of LOCK keys, in seconds.
	LockTTL int `yaml:"lock_ttl" env:"LOCK_TTL"`
	// LockWait bounds lock acquisition, in seconds.
	LockWait int `yaml:"lock_wait" env:"LOCK_WAIT"`
}

// TriggersConfig controls trigger dispatch.
type TriggersConfig struct {
	// Mode is "async" (one goroutine per matched handler) or "sync".
	Mode string `yaml:"mode" env:"MODE"`
	// MaxConcurrent caps in-flight async handlers. Zero means unbounded.
	MaxConcurrent int `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	// SolarLookahead is the minimum distance, in hours, between a solar
	// trigger firing and its rescheduled occurrence.
	SolarLookahead int `yaml:"solar_lookahead" env:"SOLAR_LOOKAHEAD"`
}

// DatabaseConfig contains SQLite database settings for the job store.
type DatabaseConfig struct {
	// Path is the SQLite file. Its directory is created on first open.
	Path string `yaml:"path" env:"PATH"`

	// WALMode enables write-ahead logging so reads never wait on writes.
	WALMode bool `yaml:"wal_mode" env:"WAL_MODE"`

	// BusyTimeout is how long a statement waits on a lock, in seconds.
	BusyTimeout int `yaml:"busy_timeout" env:"BUSY_TIMEOUT"`
}

// MQTTConfig contains MQTT broker connection settings for the state mirror.
type MQTTConfig struct {
	// Enabled turns the mirror on. Off by default.
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// Broker is where the mirror publishes.
	Broker MQTTBrokerConfig `yaml:"broker" envPrefix:"BROKER_"`

	// Auth holds optional broker credentials.
	Auth MQTTAuthConfig `yaml:"auth" envPrefix:"AUTH_"`

	// QoS is the default delivery level, 0 to 2.
	QoS int `yaml:"qos" env:"QOS"`

	// Reconnect bounds paho's reconnect delays.
	Reconnect MQTTReconnectConfig `yaml:"reconnect" envPrefix:"RECONNECT_"`

	// TopicPrefix roots every mirrored topic, e.g. hubrelay/state/light/kitchen.
	TopicPrefix string `yaml:"topic_prefix" env:"TOPIC_PREFIX"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	// Host is the broker hostname or IP.
	Host string `yaml:"host" env:"HOST"`

	// Port is the broker port, usually 1883 or 8883 with TLS.
	Port int `yaml:"port" env:"PORT"`

	// TLS switches the scheme to ssl:// with TLS 1.2 or later.
	TLS bool `yaml:"tls" env:"TLS"`

	// ClientID must be unique per broker; it also appears in presence
	// payloads.
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	// Username is sent only when non-empty.
	Username string `yaml:"username" env:"USERNAME"`

	// Password should come from HUBRELAY_MQTT_AUTH_PASSWORD.
	Password string `yaml:"password" env:"PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	// InitialDelay is the first retry delay, in seconds.
	InitialDelay int `yaml:"initial_delay" env:"INITIAL_DELAY"`

	// MaxDelay caps the retry delay, in seconds.
	MaxDelay int `yaml:"max_delay" env:"MAX_DELAY"`
}

// InfluxDBConfig contains InfluxDB connection settings for state history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	URL           string `yaml:"url" env:"URL"`
	Token         string `yaml:"token" env:"TOKEN"`
	Org           string `yaml:"org" env:"ORG"`
	Bucket        string `yaml:"bucket" env:"BUCKET"`
	BatchSize     int    `yaml:"batch_size" env:"BATCH_SIZE"`
	FlushInterval int    `yaml:"flush_interval" env:"FLUSH_INTERVAL"`

	// Domains limits history to these entity domains. Empty records all.
	Domains []string `yaml:"domains" env:"DOMAINS" envSeparator:","`
}

// APIConfig contains the health/metrics HTTP listener settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Host    string `yaml:"host" env:"HOST"`
	Port    int    `yaml:"port" env:"PORT"`

	// JWTSecret, when set, requires a signed bearer token on /debug.
	// Should be set via HUBRELAY_API_JWT_SECRET, never in the file.
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`

	// TokenTTL is the lifetime of issued operator tokens in minutes.
	TokenTTL int `yaml:"token_ttl" env:"TOKEN_TTL"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	Output string `yaml:"output" env:"OUTPUT"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HUBRELAY_SECTION_KEY
// For example: HUBRELAY_HUB_TOKEN, HUBRELAY_CACHE_ADDR
//
// A missing file is not an error when path is empty; the defaults plus
// environment are used instead.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			Name:     "home",
			Timezone: "UTC",
		},
		Hub: HubConfig{
			URL:            "http://localhost:8123",
			RequestTimeout: 5,
		},
		Connection: ConnectionConfig{
			ReconnectBase:      1,
			ReconnectMax:       60,
			StalenessThreshold: 30,
			ReadTimeout:        30,
			PingInterval:       10,
		},
		Cache: CacheConfig{
			Addr:          "localhost:6379",
			StateTTL:      3600,
			RegisteredTTL: 7 * 24 * 3600,
			LockTTL:       10,
			LockWait:      5,
		},
		Triggers: TriggersConfig{
			Mode:           "async",
			MaxConcurrent:  0,
			SolarLookahead: 20,
		},
		Database: DatabaseConfig{
			Path:        "./data/hubrelay.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hubrelay",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "hubrelay",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled:  true,
			Host:     "0.0.0.0",
			Port:     9090,
			TokenTTL: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies HUBRELAY_* environment variables on top of cfg.
// Unset variables leave the current value untouched.
func applyEnvOverrides(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("site.timezone %q is not a valid location", c.Site.Timezone))
	}

	// Hub validation
	if c.Hub.URL == "" {
		errs = append(errs, "hub.url is required")
	} else if u, err := url.Parse(c.Hub.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "hub.url must be an absolute http(s) URL")
	}
	if c.Hub.Token == "" {
		errs = append(errs, "hub.token is required (set HUBRELAY_HUB_TOKEN environment variable)")
	} else if err := checkTokenExpiry(c.Hub.Token, time.Now()); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Hub.RequestTimeout < 1 {
		errs = append(errs, "hub.request_timeout must be at least 1 second")
	}

	// Connection policy
	if c.Connection.ReconnectBase < 1 {
		errs = append(errs, "connection.reconnect_base must be at least 1 second")
	}
	if c.Connection.ReconnectMax < c.Connection.ReconnectBase {
		errs = append(errs, "connection.reconnect_max must not be less than reconnect_base")
	}
	if c.Connection.StalenessThreshold < 0 {
		errs = append(errs, "connection.staleness_threshold must not be negative")
	}
	if c.Connection.ReadTimeout < 1 {
		errs = append(errs, "connection.read_timeout must be at least 1 second")
	}
	if c.Connection.PingInterval < 0 || (c.Connection.PingInterval > 0 && c.Connection.PingInterval >= c.Connection.ReadTimeout) {
		errs = append(errs, "connection.ping_interval must be zero or less than read_timeout")
	}

	// Cache validation
	if c.Cache.Addr == "" {
		errs = append(errs, "cache.addr is required")
	}
	if c.Cache.StateTTL < 1 || c.Cache.RegisteredTTL < 1 {
		errs = append(errs, "cache.state_ttl and cache.registered_ttl must be positive")
	}
	if c.Cache.LockTTL < 1 || c.Cache.LockWait < 1 {
		errs = append(errs, "cache.lock_ttl and cache.lock_wait must be positive")
	}

	// Trigger dispatch
	switch c.Triggers.Mode {
	case "async", "sync":
	default:
		errs = append(errs, "triggers.mode must be async or sync")
	}
	if c.Triggers.MaxConcurrent < 0 {
		errs = append(errs, "triggers.max_concurrent must not be negative")
	}
	if c.Triggers.SolarLookahead < 1 || c.Triggers.SolarLookahead > 24 {
		errs = append(errs, "triggers.solar_lookahead must be between 1 and 24 hours")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.JWTSecret != "" && len(c.API.JWTSecret) < minJWTSecretLen {
		errs = append(errs, fmt.Sprintf("api.jwt_secret must be at least %d characters", minJWTSecretLen))
	}
	if c.API.TokenTTL < 1 {
		errs = append(errs, "api.token_ttl must be at least 1 minute")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// checkTokenExpiry rejects hub tokens that are JWTs with an exp claim in the
// past. The signature is not verified; only the hub can do that. Opaque
// (non-JWT) tokens pass.
func checkTokenExpiry(token string, now time.Time) error {
	claims := jwt.RegisteredClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil
		}
		return fmt.Errorf("hub.token could not be decoded: %v", err)
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return fmt.Errorf("hub.token expired at %s", claims.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// Location returns the site timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetTokenTTL returns the operator token lifetime as a Duration.
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.API.TokenTTL) * time.Minute
}

// GetRequestTimeout returns the hub REST timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Hub.RequestTimeout) * time.Second
}

// GetReconnectBase returns the linear reconnect step as a Duration.
func (c *Config) GetReconnectBase() time.Duration {
	return time.Duration(c.Connection.ReconnectBase) * time.Second
}

// GetReconnectMax returns the reconnect delay cap as a Duration.
func (c *Config) GetReconnectMax() time.Duration {
	return time.Duration(c.Connection.ReconnectMax) * time.Second
}

// GetStalenessThreshold returns the resync threshold as a Duration.
func (c *Config) GetStalenessThreshold() time.Duration {
	return time.Duration(c.Connection.StalenessThreshold) * time.Second
}

// GetReadTimeout returns the listener read deadline as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Connection.ReadTimeout) * time.Second
}

// GetPingInterval returns the keep-alive interval as a Duration.
func (c *Config) GetPingInterval() time.Duration {
	return time.Duration(c.Connection.PingInterval) * time.Second
}

// GetStateTTL returns the lifetime of cached entity state.
func (c *Config) GetStateTTL() time.Duration {
	return time.Duration(c.Cache.StateTTL) * time.Second
}

// GetRegisteredTTL returns the lifetime of registration tracking keys.
func (c *Config) GetRegisteredTTL() time.Duration {
	return time.Duration(c.Cache.RegisteredTTL) * time.Second
}

// GetLockTTL returns the auto-expiry of entity locks.
func (c *Config) GetLockTTL() time.Duration {
	return time.Duration(c.Cache.LockTTL) * time.Second
}

// GetLockWait returns the lock acquisition bound.
func (c *Config) GetLockWait() time.Duration {
	return time.Duration(c.Cache.LockWait) * time.Second
}

// GetSolarLookahead returns the minimum solar reschedule distance.
func (c *Config) GetSolarLookahead() time.Duration {
	return time.Duration(c.Triggers.SolarLookahead) * time.Hour
}
