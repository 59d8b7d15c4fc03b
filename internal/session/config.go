package session

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/pinion"
	"github.com/luciancaetano/pinion/internal/heartbeat"
)

// Config holds everything a session needs to connect.
type Config struct {
	Host string
	Port int
	// Path is appended to the URL; empty means the server root.
	Path string

	// User is sent as the user object of the handshake request.
	User map[string]any
	// HandshakeCallback receives the user object of the handshake response.
	HandshakeCallback pinion.HandshakeFunc
	// OnEvent receives every session event. May be nil.
	OnEvent pinion.EventHandler

	Dialer pinion.Dialer
	// Scheduler drives heartbeat timers. Nil means the wall clock.
	Scheduler heartbeat.Scheduler
	Logger    zerolog.Logger

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

// DefaultConfig returns a config with transport defaults filled in.
func DefaultConfig() Config {
	return Config{
		Logger:         zerolog.Nop(),
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// URL returns ws://host[:port][path].
func (c Config) URL() string {
	u := "ws://" + c.Host
	if c.Port > 0 {
		u = fmt.Sprintf("%s:%d", u, c.Port)
	}
	if c.Path != "" {
		if c.Path[0] != '/' {
			u += "/"
		}
		u += c.Path
	}
	return u
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Scheduler == nil {
		c.Scheduler = heartbeat.SystemScheduler()
	}
}
