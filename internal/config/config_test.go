package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadClientConfigDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "client.toml", "")

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultClientConfig(), cfg)
}

func TestLoadClientConfigOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "client.toml", `
host = "game.example.com"
port = 4010
path = "/ws"
log_level = "debug"
connect_timeout_seconds = 2.5

[user]
name = "alice"
level = 3
`)

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "game.example.com", cfg.Host)
	assert.Equal(t, 4010, cfg.Port)
	assert.Equal(t, "/ws", cfg.Path)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2500*time.Millisecond, cfg.ConnectTimeout)
	assert.Equal(t, map[string]any{"name": "alice", "level": int64(3)}, cfg.User)
}

func TestLoadClientConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadClientConfig(filepath.Join(dir, "missing.toml"))
	assert.ErrorContains(t, err, "config load failed")

	_, err = LoadClientConfig(writeFile(t, dir, "bad.toml", "host = "))
	assert.ErrorContains(t, err, "config load failed")

	_, err = LoadClientConfig(writeFile(t, dir, "empty-host.toml", `host = " "`))
	assert.ErrorContains(t, err, "missing host")

	_, err = LoadClientConfig(writeFile(t, dir, "port.toml", `port = 70000`))
	assert.ErrorContains(t, err, "out of range")
}

func TestLoadServerConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "protos.json", `{
  "client": {"room.join": {"required uInt32 roomId": 1}},
  "server": {"room.join": {"required uInt32 code": 1}}
}`)
	path := writeFile(t, dir, "server.toml", `
addr = "127.0.0.1:4000"
path = "/game"
heartbeat_seconds = 10
protos_file = "protos.json"
allowed_origins = ["https://example.com"]

[dict]
"chat.message" = 1
"room.join" = 2

[rate_limit]
messages_per_second = 5
burst = 10
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4000", cfg.Addr)
	assert.Equal(t, "/game", cfg.Path)
	assert.Equal(t, 10*time.Second, cfg.Heartbeat)
	assert.Equal(t, map[string]uint16{"chat.message": 1, "room.join": 2}, cfg.Dict)
	assert.Equal(t, []string{"https://example.com"}, cfg.AllowedOrigins)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 5.0, cfg.RateLimit.MessagesPerSecond)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Contains(t, cfg.Protos.Client, "room.join")
	assert.Contains(t, cfg.Protos.Server, "room.join")
}

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig(writeFile(t, t.TempDir(), "server.toml", ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultServerConfig(), cfg)
}

func TestLoadServerConfigErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "dict code out of range", content: "[dict]\n\"a\" = 70000", want: "out of range"},
		{name: "relative path", content: `path = "ws"`, want: "must start with /"},
		{name: "negative heartbeat", content: `heartbeat_seconds = -1`, want: "must not be negative"},
		{name: "zero burst", content: "[rate_limit]\nburst = 0", want: "burst"},
		{name: "missing protos file", content: `protos_file = "nope.json"`, want: "protos load failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServerConfig(writeFile(t, dir, tt.name+".toml", tt.content))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRateLimitDisabledSkipsValidation(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.RateLimit = RateLimit{Enabled: false}
	assert.NoError(t, ValidateServerConfig(cfg))
}
