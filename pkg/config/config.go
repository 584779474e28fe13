// Package config loads runtime settings from the environment (optionally a
// .env file) or a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"quantgate/internal/domain"
	"quantgate/internal/gateway"
)

// Config holds settings for the runner.
type Config struct {
	Key          string `yaml:"key"`
	Secret       string `yaml:"secret"`
	Server       string `yaml:"server"`        // REAL or TESTNET
	PositionMode string `yaml:"position_mode"` // MergedSingle or BothSide
	ProxyHost    string `yaml:"proxy_host"`
	ProxyPort    int    `yaml:"proxy_port"`

	Symbols     []string `yaml:"symbols"`
	JournalPath string   `yaml:"journal_path"`
	WebhookURL  string   `yaml:"webhook_url"`
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Key:          os.Getenv("BYBIT_API_KEY"),
		Secret:       os.Getenv("BYBIT_API_SECRET"),
		Server:       getEnv("BYBIT_SERVER", "REAL"),
		PositionMode: getEnv("BYBIT_POSITION_MODE", "MergedSingle"),
		ProxyHost:    os.Getenv("PROXY_HOST"),
		ProxyPort:    getEnvInt("PROXY_PORT", 0),
		Symbols:      splitAndTrim(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")),
		JournalPath:  getEnv("JOURNAL_PATH", "./data/quantgate.db"),
		WebhookURL:   os.Getenv("WEBHOOK_URL"),
	}, nil
}

// LoadFile reads a YAML settings file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Server == "" {
		cfg.Server = "REAL"
	}
	if cfg.PositionMode == "" {
		cfg.PositionMode = "MergedSingle"
	}
	return &cfg, nil
}

// GatewaySetting converts the runner config into gateway settings.
func (c *Config) GatewaySetting() gateway.Setting {
	return gateway.Setting{
		Key:          c.Key,
		Secret:       c.Secret,
		ProxyHost:    c.ProxyHost,
		ProxyPort:    c.ProxyPort,
		Server:       domain.ServerMode(c.Server),
		PositionMode: domain.PositionMode(c.PositionMode),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
