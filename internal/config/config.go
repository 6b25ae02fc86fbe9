// Package config loads centrald's configuration from a YAML file, then
// layers environment variable overrides and hardcoded defaults on top.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the fully resolved, process-wide configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
	Boot     BootConfig     `yaml:"boot"`
	Wallet   WalletConfig   `yaml:"wallet"`
}

// ServerConfig holds the two listener addresses and their timeouts.
type ServerConfig struct {
	Env               string `yaml:"env"`
	WSPort            string `yaml:"ws_port"`
	HTTPPort          string `yaml:"http_port"`
	ReadTimeoutSec    int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec   int    `yaml:"write_timeout_sec"`
	ShutdownTimeout   int    `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins  []string `yaml:"cors_allow_origins"`
}

// SecurityConfig holds the control-plane API key.
type SecurityConfig struct {
	APIKey     string `yaml:"api_key"`
	APIKeyHash string `yaml:"api_key_hash"` // bcrypt hash, takes precedence over APIKey when set
}

// WatchdogConfig governs the no-session timer armed when a connector enters
// Preparing or Occupied with no active transaction.
type WatchdogConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// BootConfig governs the post-BootNotification handshake.
type BootConfig struct {
	GetConfigurationTimeoutSec int    `yaml:"get_configuration_timeout_sec"`
	QRCodeURL                  string `yaml:"qr_code_url"`
}

// WalletConfig governs the prepaid cutoff behavior.
type WalletConfig struct {
	ZeroCreditCutoffEnabled bool `yaml:"zero_credit_cutoff_enabled"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide config singleton, loading it from
// CONFIG_PATH (default config.yaml) on first call.
func Get() *Config {
	once.Do(func() {
		_ = godotenv.Load()

		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load file, using defaults and env", "error", err)
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		cfg.applyDefaults()
		instance = cfg
	})
	return instance
}

// LoadConfig reads and decodes a YAML config file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Env = getEnv("EVCENTRAL_ENV", c.Server.Env)
	c.Server.WSPort = getEnv("EVCENTRAL_WS_PORT", c.Server.WSPort)
	c.Server.HTTPPort = getEnv("EVCENTRAL_HTTP_PORT", c.Server.HTTPPort)

	if v := getEnvInt("EVCENTRAL_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("EVCENTRAL_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("EVCENTRAL_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}
	if origins := getEnv("EVCENTRAL_CORS_ALLOW_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}

	c.Security.APIKey = getEnv("EVCENTRAL_API_KEY", c.Security.APIKey)
	c.Security.APIKeyHash = getEnv("EVCENTRAL_API_KEY_HASH", c.Security.APIKeyHash)

	if v := getEnvInt("EVCENTRAL_WATCHDOG_TIMEOUT_SEC", 0); v > 0 {
		c.Watchdog.TimeoutSec = v
	}

	if v := getEnvInt("EVCENTRAL_BOOT_GETCONFIG_TIMEOUT_SEC", 0); v > 0 {
		c.Boot.GetConfigurationTimeoutSec = v
	}
	c.Boot.QRCodeURL = getEnv("EVCENTRAL_QR_CODE_URL", c.Boot.QRCodeURL)

	c.Wallet.ZeroCreditCutoffEnabled = getEnvBool("EVCENTRAL_ZERO_CREDIT_CUTOFF", c.Wallet.ZeroCreditCutoffEnabled)
}

func (c *Config) applyDefaults() {
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Server.WSPort == "" {
		c.Server.WSPort = "9000"
	}
	if c.Server.HTTPPort == "" {
		c.Server.HTTPPort = "8080"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"*"}
	}
	if c.Watchdog.TimeoutSec == 0 {
		c.Watchdog.TimeoutSec = 90
	}
	if c.Boot.GetConfigurationTimeoutSec == 0 {
		c.Boot.GetConfigurationTimeoutSec = 10
	}
	if c.Boot.QRCodeURL == "" {
		c.Boot.QRCodeURL = "https://pay.example.com/qr/connector1"
	}
	// ZeroCreditCutoffEnabled defaults to true: the zero-balance transaction
	// cutoff is part of the prepaid model, not an opt-in.
	if os.Getenv("EVCENTRAL_ZERO_CREDIT_CUTOFF") == "" {
		c.Wallet.ZeroCreditCutoffEnabled = true
	}
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
