package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw    string
		want   zerolog.Level
		wantOK bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, true},
		{" WARN ", zerolog.WarnLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tt := range tests {
		got, ok := parseLevel(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("parseLevel(%q) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseBool(t *testing.T) {
	if v, ok := parseBool("true"); !v || !ok {
		t.Errorf("parseBool(true) = %v, %v", v, ok)
	}
	if _, ok := parseBool(""); ok {
		t.Error("empty input should not be accepted")
	}
	if _, ok := parseBool("maybe"); ok {
		t.Error("garbage input should not be accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogNoColor, "1")
	t.Setenv(EnvLogJSON, "true")
	t.Setenv(EnvLogTimestamp, "false")

	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)

	want := Config{Level: zerolog.ErrorLevel, Timestamp: false, NoColor: true, JSON: true}
	if cfg != want {
		t.Errorf("config = %+v, want %+v", cfg, want)
	}
}

func TestTestProfileDefaults(t *testing.T) {
	cfg := defaultConfig(ProfileTest)
	if cfg.Level != zerolog.DebugLevel || cfg.Timestamp {
		t.Errorf("test profile = %+v", cfg)
	}
}
