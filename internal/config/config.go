package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Gateway GatewayConfig `yaml:"gateway"`
	Reaper  ReaperConfig  `yaml:"reaper"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

type GatewayConfig struct {
	Enabled           bool            `yaml:"enabled"`
	MaxConnections    int             `yaml:"max_connections"`
	ConnectionTimeout time.Duration   `yaml:"connection_timeout"`
	HeartbeatInterval time.Duration   `yaml:"heartbeat_interval"`
	WriteTimeout      time.Duration   `yaml:"write_timeout"`
	Compression       bool            `yaml:"compression"`
	AllowedOrigins    []string        `yaml:"allowed_origins"`
	Auth              AuthConfig      `yaml:"auth"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
}

type AuthConfig struct {
	Required bool   `yaml:"required"`
	Token    string `yaml:"token"`
}

type RateLimitConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
	Skip   []string      `yaml:"skip"`
}

type ReaperConfig struct {
	SessionSweepInterval time.Duration `yaml:"session_sweep_interval"`
	RoomSweepInterval    time.Duration `yaml:"room_sweep_interval"`
	SessionStaleAfter    time.Duration `yaml:"session_stale_after"`
	RoomStaleAfter       time.Duration `yaml:"room_stale_after"`
}

// Default returns the configuration used when no file overrides apply.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Gateway: GatewayConfig{
			Enabled:           true,
			MaxConnections:    1000,
			ConnectionTimeout: 5 * time.Minute,
			HeartbeatInterval: 25 * time.Second,
			WriteTimeout:      10 * time.Second,
			RateLimit: RateLimitConfig{
				Max:    100,
				Window: time.Minute,
				Skip:   []string{"ping"},
			},
		},
		Reaper: ReaperConfig{
			SessionSweepInterval: time.Minute,
			RoomSweepInterval:    5 * time.Minute,
			SessionStaleAfter:    5 * time.Minute,
			RoomStaleAfter:       10 * time.Minute,
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
