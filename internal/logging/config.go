// Package logging configures the process-wide zerolog settings and hands out
// component loggers.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Environment variables that override the profile defaults.
const (
	EnvLogLevel     = "PINION_LOG_LEVEL"
	EnvLogTimestamp = "PINION_LOG_TIMESTAMP"
	EnvLogNoColor   = "PINION_LOG_NOCOLOR"
	EnvLogJSON      = "PINION_LOG_JSON"
)

// Profile selects a set of logging defaults.
type Profile int

const (
	// ProfileRuntime logs info and above with timestamps.
	ProfileRuntime Profile = iota
	// ProfileTest logs debug and above without timestamps or color.
	ProfileTest
)

// Config is the resolved logging setup.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	JSON      bool
}

var (
	configureOnce sync.Once

	mu     sync.RWMutex
	active = defaultConfig(ProfileRuntime)
	out    io.Writer = os.Stderr
)

// ConfigureRuntime applies the runtime profile.
func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

// ConfigureTests applies the test profile.
func ConfigureTests() {
	Configure(ProfileTest)
}

// Configure applies profile defaults and environment overrides. Only the first call
// has an effect.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		apply(cfg)
	})
}

// SetLevel overrides the global level, typically from a config file or flag.
func SetLevel(raw string) bool {
	lvl, ok := parseLevel(raw)
	if !ok {
		return false
	}
	mu.Lock()
	active.Level = lvl
	mu.Unlock()
	zerolog.SetGlobalLevel(lvl)
	return true
}

// New returns a logger tagged with app.
func New(app string) zerolog.Logger {
	mu.RLock()
	cfg := active
	w := out
	mu.RUnlock()

	if !cfg.JSON {
		w = zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
	}
	ctx := zerolog.New(w).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Str("app", app).Logger()
}

func apply(cfg Config) {
	mu.Lock()
	active = cfg
	mu.Unlock()
	zerolog.SetGlobalLevel(cfg.Level)
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Timestamp: false, NoColor: true}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogJSON)); ok {
		cfg.JSON = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
