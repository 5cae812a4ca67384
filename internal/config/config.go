package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration for the server binary and the demo client.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
}

// ServerConfig holds matchmaking server settings. Durations are expressed in
// seconds in the yaml file and env vars.
type ServerConfig struct {
	Addr             string `yaml:"addr"`
	PublicWSURL      string `yaml:"public_ws_url"`
	JWTSecret        string `yaml:"jwt_secret"`
	RoundSeconds     int    `yaml:"round_seconds"`
	SkipCooldownSecs int    `yaml:"skip_cooldown_seconds"`
	AnonTTLSeconds   int    `yaml:"anon_ttl_seconds"`
	RegisteredTTLHrs int    `yaml:"registered_ttl_hours"`
}

// ClientConfig holds demo client settings.
type ClientConfig struct {
	BaseURL     string `yaml:"base_url"`
	DisplayName string `yaml:"display_name"`
}

// Default returns the configuration used when no file or env overrides exist.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:             ":8080",
			PublicWSURL:      "ws://localhost:8080/ws/chat",
			JWTSecret:        "dev-only-secret",
			RoundSeconds:     180,
			SkipCooldownSecs: 10,
			AnonTTLSeconds:   300,
			RegisteredTTLHrs: 24,
		},
		Client: ClientConfig{
			BaseURL: "http://localhost:8080",
		},
	}
}

// Load reads a yaml config file over the defaults and then applies env
// overrides. A missing file is not an error; env-only setups are common.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("KNOCK_ADDR", c.Server.Addr)
	c.Server.PublicWSURL = getEnv("KNOCK_PUBLIC_WS_URL", c.Server.PublicWSURL)
	c.Server.JWTSecret = getEnv("KNOCK_JWT_SECRET", c.Server.JWTSecret)
	c.Server.RoundSeconds = getEnvAsInt("KNOCK_ROUND_SECONDS", c.Server.RoundSeconds)
	c.Server.SkipCooldownSecs = getEnvAsInt("KNOCK_SKIP_COOLDOWN_SECONDS", c.Server.SkipCooldownSecs)
	c.Server.AnonTTLSeconds = getEnvAsInt("KNOCK_ANON_TTL_SECONDS", c.Server.AnonTTLSeconds)
	c.Server.RegisteredTTLHrs = getEnvAsInt("KNOCK_REGISTERED_TTL_HOURS", c.Server.RegisteredTTLHrs)
	c.Client.BaseURL = getEnv("KNOCK_BASE_URL", c.Client.BaseURL)
	c.Client.DisplayName = getEnv("KNOCK_DISPLAY_NAME", c.Client.DisplayName)
}

func (s ServerConfig) RoundDuration() time.Duration {
	return time.Duration(s.RoundSeconds) * time.Second
}

func (s ServerConfig) SkipCooldown() time.Duration {
	return time.Duration(s.SkipCooldownSecs) * time.Second
}

func (s ServerConfig) AnonTTL() time.Duration {
	return time.Duration(s.AnonTTLSeconds) * time.Second
}

func (s ServerConfig) RegisteredTTL() time.Duration {
	return time.Duration(s.RegisteredTTLHrs) * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
