package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
	Engine   EngineConfig   `yaml:"engine"`
}

// ServerConfig holds relay server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// DatabaseConfig holds database configuration for the Postgres-backed
// shared store. Leave Host empty to run with the in-memory store only.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// JWTConfig holds JWT configuration for relay connection tokens
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// EngineConfig holds the tunables of the sync engine. LivenessWindow is
// the silence threshold after which a user is reclassified offline; the
// default is 30s.
type EngineConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	LivenessWindow    time.Duration `yaml:"liveness_window"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	InviteTTL         time.Duration `yaml:"invite_ttl"`
	SimulatedLatency  time.Duration `yaml:"simulated_latency"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with working engine defaults so the
// engine is constructible without a config file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Log:    LogConfig{Level: "info"},
		Engine: EngineConfig{
			HeartbeatInterval: 10 * time.Second,
			LivenessWindow:    30 * time.Second,
			PollInterval:      5 * time.Second,
			InviteTTL:         30 * time.Second,
		},
	}
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
