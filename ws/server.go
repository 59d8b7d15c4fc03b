package ws

import (
	"net/http"
	"time"

	"github.com/luciancaetano/pinion"
	"github.com/luciancaetano/pinion/internal/logging"
	"github.com/luciancaetano/pinion/internal/websocket"
)

type Server = websocket.Server
type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = websocket.OnConnectFn
type OnDisconnectFn = websocket.OnClientDisconnectFn
type HandshakeFn = websocket.HandshakeFn
type Protos = websocket.Protos
type ErrorBody = websocket.ErrorBody
type ServerConfig = *websocket.ServerConfig

// NewServer creates the reference server with rate limiting and connection callbacks.
//
// An invalid route dictionary or schema table in cfg is reported as an error.
//
// Example:
//
//	srv, err := ws.NewServer(ws.NewServerConfig(":3010", ws.DefaultRateLimitConfig(), ws.AllOrigins(), func(peer pinion.Peer) {
//	    log.Printf("Peer connected: %s", peer.ID())
//	}, nil))
func NewServer(cfg ServerConfig) (*Server, error) {
	return websocket.New(cfg)
}

// NewServerConfig returns a server config with a logger and a 30 second heartbeat.
// Dict, Protos, OnHandshake and Path can be set on the result before NewServer.
//
// Parameters:
//   - addr: The server address (e.g., ":3010" or "localhost:3010")
//   - rateLimitConfig: Rate limiting configuration. Use DefaultRateLimitConfig() or NoRateLimit()
//   - checkOrigin: Function to validate WebSocket origins. Use AllOrigins() to allow all (dev only)
//   - onConnect: Optional callback called when a peer connects. Can be nil.
//   - onDisconnect: Optional callback called when a peer disconnects. Can be nil.
func NewServerConfig(addr string, rateLimitConfig *RateLimitConfig, checkOrigin CheckOriginFn, onConnect OnConnectFn, onDisconnect OnDisconnectFn) ServerConfig {
	return &websocket.ServerConfig{
		Addr:               addr,
		RateLimitConfig:    rateLimitConfig,
		CheckOrigin:        checkOrigin,
		OnConnect:          onConnect,
		OnClientDisconnect: onDisconnect,
		Heartbeat:          30 * time.Second,
		Logger:             logging.New("pinion-server"),
	}
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// Origins returns a checkOrigin function that allows only the listed origins.
// Requests without an Origin header are allowed.
func Origins(allowed ...string) CheckOriginFn {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

var _ pinion.Server = (*Server)(nil)
