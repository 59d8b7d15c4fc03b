package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/pinion"
	"github.com/luciancaetano/pinion/internal/codec"
	"github.com/luciancaetano/pinion/internal/metrics"
	"github.com/luciancaetano/pinion/internal/protocol"
	"github.com/luciancaetano/pinion/internal/route"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultPingInterval = 54 * time.Second
)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
// Use this to implement CORS policies for your WebSocket server.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is a callback function that is called when a new peer connects.
// It is called after the WebSocket upgrade completes and before the protocol
// handshake, so the peer cannot receive pushes yet.
//
// Note: This function is called synchronously during connection setup.
// Avoid long-running operations that could block new connections.
type OnConnectFn = func(peer pinion.Peer)

// OnClientDisconnectFn is a callback type invoked when a connected peer disconnects from the server.
// The function receives the disconnected peer and a boolean that is true when the disconnect was
// initiated by the peer with a normal close, and false for unexpected or server-initiated disconnects.
type OnClientDisconnectFn = func(peer pinion.Peer, voluntary bool)

// HandshakeFn decides whether a peer's handshake is accepted. It returns the response
// code and the user object sent back to the client. Returning pinion.ResCodeOK accepts.
type HandshakeFn = func(peer pinion.Peer, req protocol.HandshakeRequest) (code int, user map[string]any)

// Protos are the schema tables announced in the handshake.
type Protos struct {
	// Client describes bodies sent by clients.
	Client map[string]any
	// Server describes bodies sent by the server.
	Server map[string]any
}

// ServerConfig configures the reference server.
type ServerConfig struct {
	Addr string
	// Path the upgrade handler is mounted on. Defaults to "/".
	Path               string
	RateLimitConfig    *RateLimitConfig
	CheckOrigin        CheckOriginFn
	OnConnect          OnConnectFn
	OnClientDisconnect OnClientDisconnectFn
	OnHandshake        HandshakeFn

	// Heartbeat is announced to clients; zero disables heartbeats.
	Heartbeat time.Duration
	Dict      map[string]uint16
	Protos    Protos
	Logger    zerolog.Logger
}

// RateLimitConfig defines rate limiting configuration for peers
type RateLimitConfig struct {
	// MessagesPerSecond defines how many frames a peer can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

func (c *RateLimitConfig) newLimiter() *rate.Limiter {
	if c == nil || !c.Enabled {
		return nil
	}
	return rate.NewLimiter(c.MessagesPerSecond, c.Burst)
}

// ErrorBody is the response body sent when a request fails on the server.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server implements pinion.Server
type Server struct {
	addr     string
	path     string
	server   *http.Server
	listener net.Listener
	peers    sync.Map // map[string]*peer
	handlers sync.Map // map[string]pinion.HandlerFunc

	rateLimitConfig *RateLimitConfig
	heartbeat       time.Duration
	readTimeout     time.Duration
	dict            *route.Dictionary
	codecs          *codec.Selector
	sys             protocol.HandshakeSysInfo
	log             zerolog.Logger

	mu           sync.RWMutex
	running      bool
	upgrader     websocket.Upgrader
	onConnect    OnConnectFn
	onDisconnect OnClientDisconnectFn
	onHandshake  HandshakeFn
}

var _ pinion.Server = (*Server)(nil)

// New creates a new server instance with the specified configuration.
//
// The route dictionary and schema tables are validated here; an invalid table is an
// error. If RateLimitConfig is nil, DefaultRateLimitConfig() is used.
//
// Example:
//
//	srv, err := New(&ServerConfig{
//	    Addr:        ":3010",
//	    Heartbeat:   10 * time.Second,
//	    Dict:        map[string]uint16{"chat.message": 1},
//	    CheckOrigin: func(r *http.Request) bool { return true },
//	})
func New(cfg *ServerConfig) (*Server, error) {
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = DefaultRateLimitConfig()
	}
	path := cfg.Path
	if path == "" {
		path = "/"
	}

	dict, err := route.NewDictionary(cfg.Dict)
	if err != nil {
		return nil, err
	}
	selector, err := codec.NewSelector(cfg.Protos.Client, cfg.Protos.Server)
	if err != nil {
		return nil, err
	}

	readTimeout := defaultReadTimeout
	if hb := 2 * cfg.Heartbeat; hb > readTimeout {
		readTimeout = hb
	}

	s := &Server{
		addr:            cfg.Addr,
		path:            path,
		rateLimitConfig: cfg.RateLimitConfig,
		heartbeat:       cfg.Heartbeat,
		readTimeout:     readTimeout,
		dict:            dict,
		codecs:          selector.Reverse(),
		log:             cfg.Logger,
		onConnect:       cfg.OnConnect,
		onDisconnect:    cfg.OnClientDisconnect,
		onHandshake:     cfg.OnHandshake,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
	s.sys = s.sysInfo(cfg)
	return s, nil
}

func (s *Server) sysInfo(cfg *ServerConfig) protocol.HandshakeSysInfo {
	sys := protocol.HandshakeSysInfo{Heartbeat: cfg.Heartbeat.Seconds()}
	if s.dict.Len() > 0 {
		sys.Dict = make(map[string]any, s.dict.Len())
		for r, code := range s.dict.Forward() {
			sys.Dict[r] = code
		}
	}
	if cfg.Protos.Client != nil || cfg.Protos.Server != nil {
		sys.Protos = &protocol.HandshakeProtos{Client: cfg.Protos.Client, Server: cfg.Protos.Server}
	}
	return sys
}

// Start starts listening. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return pinion.ErrServerRunning
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, s)
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.listener = ln
	s.running = true
	srv := s.server
	s.mu.Unlock()

	s.log.Info().Str("addr", ln.Addr().String()).Str("path", s.path).Msg("server listening")
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("server stopped")
		}
	}()
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes every peer and shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.server
	s.mu.Unlock()

	s.peers.Range(func(_, value any) bool {
		if p, ok := value.(*peer); ok {
			_ = p.Close(pinion.CloseGoingAway, "server shutting down")
		}
		return true
	})

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// Handle registers the handler for route
func (s *Server) Handle(routeName string, handler pinion.HandlerFunc) {
	s.handlers.Store(routeName, handler)
}

// ServeHTTP upgrades the request and serves the peer until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	p := newPeer(s, ws, r.RemoteAddr)
	s.peers.Store(p.ID(), p)
	metrics.PeerConnected()
	p.log.Debug().Msg("peer connected")

	if s.onConnect != nil {
		s.onConnect(p)
	}
	go p.serve(p)
}

func (s *Server) removePeer(p *peer, code int) {
	s.peers.Delete(p.ID())
	metrics.PeerDisconnected()

	voluntary := !p.closedLocally() && (code == pinion.CloseNormalClosure || code == pinion.CloseGoingAway)
	p.log.Debug().Int("code", code).Bool("voluntary", voluntary).Msg("peer disconnected")
	if s.onDisconnect != nil {
		s.onDisconnect(p, voluntary)
	}
}

// GetPeer returns a peer by ID
func (s *Server) GetPeer(id string) (pinion.Peer, bool) {
	p, ok := s.peer(id)
	if !ok {
		return nil, false
	}
	return p, true
}

func (s *Server) peer(id string) (*peer, bool) {
	if v, ok := s.peers.Load(id); ok {
		return v.(*peer), true
	}
	return nil, false
}

// Push sends a push message to one peer
func (s *Server) Push(ctx context.Context, peerID string, routeName string, body any) error {
	p, ok := s.peer(peerID)
	if !ok {
		return fmt.Errorf("%w: %s", pinion.ErrPeerNotFound, peerID)
	}
	return p.Push(ctx, routeName, body)
}

// Broadcast sends a push message to every peer that completed the handshake
func (s *Server) Broadcast(ctx context.Context, routeName string, body any) error {
	frame, err := s.encodePush(routeName, body)
	if err != nil {
		return err
	}

	var errs []error
	s.peers.Range(func(_, value any) bool {
		p, ok := value.(*peer)
		if !ok || !p.ready() {
			return true
		}
		if err := p.Send(ctx, frame); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", p.ID(), err))
		}
		return true
	})
	return errors.Join(errs...)
}

// Kick sends a kick packet to one peer and closes its connection
func (s *Server) Kick(ctx context.Context, peerID string, reason string) error {
	p, ok := s.peer(peerID)
	if !ok {
		return fmt.Errorf("%w: %s", pinion.ErrPeerNotFound, peerID)
	}

	body, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return err
	}
	if err := p.sendPacket(ctx, protocol.PacketKick, body); err != nil {
		return err
	}
	p.log.Info().Str("reason", reason).Msg("peer kicked")
	return p.Close(pinion.CloseNormalClosure, "kicked")
}

// encodePush builds the data packet of a push on routeName.
func (s *Server) encodePush(routeName string, body any) ([]byte, error) {
	return s.encodeMessage(protocol.Message{Type: protocol.MessagePush, Route: routeName}, routeName, body)
}

// encodeMessage encodes body with the server's outbound codec for routeName and wraps
// the message in a data packet. A response body that does not fit the route's schema,
// such as an ErrorBody, is sent as JSON instead.
func (s *Server) encodeMessage(msg protocol.Message, routeName string, body any) ([]byte, error) {
	bc := s.codecs.For(codec.Outbound, routeName)
	raw, err := bc.Encode(routeName, body)
	if err != nil && msg.Type == protocol.MessageResponse && bc.Name() != (codec.JSON{}).Name() {
		s.log.Debug().Err(err).Str("route", routeName).Msg("schema encode failed, sending json")
		raw, err = codec.JSON{}.Encode(routeName, body)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pinion.ErrMsgFailedToEncode, err)
	}
	msg.Body = raw

	if msg.Type == protocol.MessagePush {
		if code, ok := s.dict.Code(routeName); ok {
			msg.CompressRoute = true
			msg.RouteCode = code
		}
	}
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return nil, err
	}
	return protocol.EncodePacket(protocol.PacketData, data)
}
