// Package config loads pinionctl TOML files.
//
// Loaders start from defaults and overlay only the keys present in the file, so an
// empty file is a valid configuration.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ClientConfig configures a session opened by pinionctl.
type ClientConfig struct {
	Host           string
	Port           int
	Path           string
	User           map[string]any
	LogLevel       string
	ConnectTimeout time.Duration
}

// RateLimit is the per-peer inbound limit of the reference server.
type RateLimit struct {
	Enabled           bool
	MessagesPerSecond float64
	Burst             int
}

// Protos are the schema tables loaded from a protos file.
type Protos struct {
	Client map[string]any `json:"client"`
	Server map[string]any `json:"server"`
}

// ServerConfig configures the reference server.
type ServerConfig struct {
	Addr           string
	Path           string
	Heartbeat      time.Duration
	Dict           map[string]uint16
	Protos         Protos
	RateLimit      RateLimit
	AllowedOrigins []string
	LogLevel       string
}

// clientFile is the client.toml key mapping.
type clientFile struct {
	Host                  string         `toml:"host"`
	Port                  int            `toml:"port"`
	Path                  string         `toml:"path"`
	User                  map[string]any `toml:"user"`
	LogLevel              string         `toml:"log_level"`
	ConnectTimeoutSeconds float64        `toml:"connect_timeout_seconds"`
}

// serverFile is the server.toml key mapping.
type serverFile struct {
	Addr             string           `toml:"addr"`
	Path             string           `toml:"path"`
	HeartbeatSeconds float64          `toml:"heartbeat_seconds"`
	Dict             map[string]int64 `toml:"dict"`
	ProtosFile       string           `toml:"protos_file"`
	AllowedOrigins   []string         `toml:"allowed_origins"`
	LogLevel         string           `toml:"log_level"`
	RateLimit        struct {
		Enabled           bool    `toml:"enabled"`
		MessagesPerSecond float64 `toml:"messages_per_second"`
		Burst             int     `toml:"burst"`
	} `toml:"rate_limit"`
}

// DefaultClientConfig returns the client settings used when the file omits them.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:           "localhost",
		Port:           3010,
		LogLevel:       "info",
		ConnectTimeout: 5 * time.Second,
	}
}

// DefaultServerConfig returns the server settings used when the file omits them.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":3010",
		Path:      "/",
		Heartbeat: 30 * time.Second,
		RateLimit: RateLimit{
			Enabled:           true,
			MessagesPerSecond: 100,
			Burst:             200,
		},
		LogLevel: "info",
	}
}

// LoadClientConfig reads path over DefaultClientConfig and validates the result.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("path") {
		cfg.Path = strings.TrimSpace(raw.Path)
	}
	if meta.IsDefined("user") {
		cfg.User = raw.User
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("connect_timeout_seconds") {
		cfg.ConnectTimeout = seconds(raw.ConnectTimeoutSeconds)
	}

	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// LoadServerConfig reads path over DefaultServerConfig and validates the result. A
// relative protos_file is resolved against the directory of path.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("path") {
		cfg.Path = strings.TrimSpace(raw.Path)
	}
	if meta.IsDefined("heartbeat_seconds") {
		cfg.Heartbeat = seconds(raw.HeartbeatSeconds)
	}
	if meta.IsDefined("allowed_origins") {
		cfg.AllowedOrigins = raw.AllowedOrigins
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("rate_limit", "enabled") {
		cfg.RateLimit.Enabled = raw.RateLimit.Enabled
	}
	if meta.IsDefined("rate_limit", "messages_per_second") {
		cfg.RateLimit.MessagesPerSecond = raw.RateLimit.MessagesPerSecond
	}
	if meta.IsDefined("rate_limit", "burst") {
		cfg.RateLimit.Burst = raw.RateLimit.Burst
	}

	if len(raw.Dict) > 0 {
		cfg.Dict = make(map[string]uint16, len(raw.Dict))
		for route, code := range raw.Dict {
			if code < 0 || code > math.MaxUint16 {
				return ServerConfig{}, fmt.Errorf("config invalid (%s): dict code %d for %q out of range", path, code, route)
			}
			cfg.Dict[route] = uint16(code)
		}
	}

	if protosPath := strings.TrimSpace(raw.ProtosFile); protosPath != "" {
		if !filepath.IsAbs(protosPath) {
			protosPath = filepath.Join(filepath.Dir(path), protosPath)
		}
		protos, err := LoadProtos(protosPath)
		if err != nil {
			return ServerConfig{}, err
		}
		cfg.Protos = protos
	}

	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// LoadProtos reads a JSON file holding {"client": {...}, "server": {...}} schema tables.
func LoadProtos(path string) (Protos, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Protos{}, fmt.Errorf("protos load failed (%s): %w", path, err)
	}
	var p Protos
	if err := json.Unmarshal(data, &p); err != nil {
		return Protos{}, fmt.Errorf("protos parse failed (%s): %w", path, err)
	}
	return p, nil
}

// ValidateClientConfig reports the first invalid client setting.
func ValidateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return fmt.Errorf("client config missing host")
	}
	if cfg.Port < 0 || cfg.Port > math.MaxUint16 {
		return fmt.Errorf("client config port %d out of range", cfg.Port)
	}
	if cfg.ConnectTimeout <= 0 {
		return fmt.Errorf("client config connect timeout must be positive")
	}
	return nil
}

// ValidateServerConfig reports the first invalid server setting.
func ValidateServerConfig(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("server config missing addr")
	}
	if cfg.Path != "" && !strings.HasPrefix(cfg.Path, "/") {
		return fmt.Errorf("server config path %q must start with /", cfg.Path)
	}
	if cfg.Heartbeat < 0 {
		return fmt.Errorf("server config heartbeat must not be negative")
	}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate limit messages_per_second must be positive")
		}
		if cfg.RateLimit.Burst < 1 {
			return fmt.Errorf("rate limit burst must be at least 1")
		}
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
