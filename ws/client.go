package ws

import (
	"github.com/luciancaetano/pinion"
	"github.com/luciancaetano/pinion/internal/logging"
	"github.com/luciancaetano/pinion/internal/session"
	"github.com/luciancaetano/pinion/internal/websocket"
)

type Config = session.Config

// New creates a session over WebSocket. Nothing is dialed until Init.
//
// A nil cfg.Dialer is replaced by the WebSocket dialer.
//
// Example:
//
//	sess := ws.New(ws.NewConfig("localhost", 3010, map[string]any{"name": "alice"}, onEvent))
//	err := sess.Init(ctx, func() {
//	    log.Println("connected")
//	})
func New(cfg Config) pinion.Session {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.NewDialer(cfg.Logger)
	}
	return session.New(cfg)
}

// NewConfig returns a session config for ws://host:port with default timeouts and a
// console logger. user is sent in the handshake; onEvent may be nil.
func NewConfig(host string, port int, user map[string]any, onEvent pinion.EventHandler) Config {
	cfg := session.DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.User = user
	cfg.OnEvent = onEvent
	cfg.Logger = logging.New("pinion")
	return cfg
}
