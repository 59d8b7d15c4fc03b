// Package session implements pinion.Session: one logical client connection to a
// route-based application server.
//
// All mutable state is owned by a serial executor. Public methods validate their
// arguments, post the work and return. Transport callbacks and heartbeat timers post to
// the same executor, so callbacks and events are delivered one at a time and in order.
//
// Each Init creates a fresh conn. Events from a transport whose conn is no longer
// current are ignored, which makes late callbacks from a previous connection harmless.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/pinion"
	"github.com/luciancaetano/pinion/internal/codec"
	"github.com/luciancaetano/pinion/internal/heartbeat"
	"github.com/luciancaetano/pinion/internal/metrics"
	"github.com/luciancaetano/pinion/internal/protocol"
	"github.com/luciancaetano/pinion/internal/route"
)

// Session implements pinion.Session.
type Session struct {
	id    string
	cfg   Config
	log   zerolog.Logger
	exec  executor
	sched heartbeat.Scheduler

	state atomic.Int32

	doneMu sync.Mutex
	done   chan struct{}

	// owned by exec
	conn   *conn
	nextID uint64
}

// conn is the state of one connection attempt, from Init to teardown.
type conn struct {
	transport pinion.Transport
	initCb    pinion.InitFunc
	hb        *heartbeat.Monitor
	dict      *route.Dictionary
	codecs    *codec.Selector
	pending   *pendingTable
}

var _ pinion.Session = (*Session)(nil)

// New creates a disconnected session.
func New(cfg Config) *Session {
	cfg.applyDefaults()
	id := uuid.NewString()
	log := cfg.Logger.With().Str("session_id", id).Logger()

	s := &Session{
		id:   id,
		cfg:  cfg,
		log:  log,
		exec: executor{log: log},
		done: closedChan(),
	}
	s.sched = heartbeat.Posting(cfg.Scheduler, s.exec.post)
	return s
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current connection state.
func (s *Session) State() pinion.State {
	return pinion.State(s.state.Load())
}

// Done is closed when the session returns to Disconnected.
func (s *Session) Done() <-chan struct{} {
	s.doneMu.Lock()
	defer s.doneMu.Unlock()
	return s.done
}

func (s *Session) setState(st pinion.State) {
	prev := pinion.State(s.state.Swap(int32(st)))
	if prev != st {
		s.log.Debug().Stringer("from", prev).Stringer("to", st).Msg("state change")
	}
}

// Init opens the transport and starts the handshake.
func (s *Session) Init(ctx context.Context, cb pinion.InitFunc) error {
	if s.cfg.Dialer == nil {
		return pinion.ErrNoDialer
	}

	// The state CAS and the done swap happen under doneMu so a concurrent teardown
	// cannot close the channel of the next connection.
	s.doneMu.Lock()
	if !s.state.CompareAndSwap(int32(pinion.StateDisconnected), int32(pinion.StateConnecting)) {
		s.doneMu.Unlock()
		return pinion.ErrAlreadyStarted
	}
	s.done = make(chan struct{})
	s.doneMu.Unlock()

	s.exec.post(func() {
		c := &conn{
			initCb:  cb,
			codecs:  &codec.Selector{},
			pending: newPendingTable(),
		}
		c.hb = heartbeat.New(s.sched,
			func() error { return s.sendPacket(c, protocol.PacketHeartbeat, nil) },
			func() { s.onHeartbeatTimeout(c) },
			s.log,
		)
		s.conn = c
		go s.dial(ctx, c)
	})
	return nil
}

func (s *Session) dial(ctx context.Context, c *conn) {
	url := s.cfg.URL()
	s.log.Debug().Str("url", url).Msg("dialing")

	dctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	t, err := s.cfg.Dialer.Dial(dctx, url, &frameHandler{s: s, c: c})
	s.exec.post(func() { s.onOpen(c, t, err) })
}

func (s *Session) onOpen(c *conn, t pinion.Transport, err error) {
	if c != s.conn {
		if t != nil {
			_ = t.Close(pinion.CloseNormalClosure, "")
		}
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("dial failed")
		s.emit(pinion.IOErrorEvent{Err: err})
		s.teardown(c, pinion.CloseAbnormalClosure, err.Error())
		return
	}

	c.transport = t
	s.setState(pinion.StateHandshaking)

	body, err := buildHandshake(s.cfg.User)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode handshake")
		s.emit(pinion.ErrorEvent{Reason: pinion.ReasonHandshakeFail, Err: err})
		s.teardown(c, pinion.CloseInternalError, pinion.ReasonHandshakeFail)
		return
	}
	if err := s.sendPacket(c, protocol.PacketHandshake, body); err != nil {
		s.log.Error().Err(err).Msg("failed to send handshake")
		s.emit(pinion.IOErrorEvent{Err: err})
	}
}

// Request sends a request and registers cb for the response.
func (s *Session) Request(routeName string, payload any, cb pinion.ResponseFunc) error {
	routeName = resolveRoute(routeName, payload)
	if routeName == "" {
		return pinion.ErrMissingRoute
	}
	if s.State() != pinion.StateEstablished {
		return pinion.ErrNotConnected
	}
	s.exec.post(func() { s.request(routeName, payload, cb) })
	return nil
}

// Call sends a request and waits for its response.
func (s *Session) Call(ctx context.Context, routeName string, payload any) (any, error) {
	type result struct {
		body any
		err  error
	}
	ch := make(chan result, 1)
	done := s.Done()

	err := s.Request(routeName, payload, func(err error, body any) {
		ch <- result{body: body, err: err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		return r.body, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		select {
		case r := <-ch:
			return r.body, r.err
		default:
			return nil, pinion.ErrSessionClosed
		}
	}
}

// Notify sends a one-way message.
func (s *Session) Notify(routeName string, payload any) error {
	if routeName == "" {
		return pinion.ErrMissingRoute
	}
	if s.State() != pinion.StateEstablished {
		return pinion.ErrNotConnected
	}
	s.exec.post(func() { s.notify(routeName, payload) })
	return nil
}

// Disconnect tears the current connection down. It is a no-op when disconnected.
func (s *Session) Disconnect() {
	s.exec.post(func() {
		if s.conn == nil {
			return
		}
		s.log.Info().Msg("disconnect requested")
		s.teardown(s.conn, pinion.CloseNormalClosure, "")
	})
}

// teardown closes c and returns the session to Disconnected. Pending requests are
// abandoned.
func (s *Session) teardown(c *conn, code int, reason string) {
	if c == nil || c != s.conn {
		return
	}
	s.conn = nil

	c.hb.Stop()
	if c.transport != nil {
		if err := c.transport.Close(code, reason); err != nil {
			s.log.Debug().Err(err).Msg("transport close")
		}
	}
	if n := c.pending.len(); n > 0 {
		s.log.Info().Int("pending", n).Uints64("ids", c.pending.ids()).Msg("abandoning pending requests")
	}

	s.doneMu.Lock()
	close(s.done)
	s.setState(pinion.StateDisconnected)
	s.doneMu.Unlock()

	s.emit(pinion.CloseEvent{Code: code, Text: reason})
}

func (s *Session) onHeartbeatTimeout(c *conn) {
	if c != s.conn {
		return
	}
	metrics.RecordHeartbeatTimeout()
	s.emit(pinion.HeartbeatTimeoutEvent{})
	s.teardown(c, pinion.CloseNormalClosure, pinion.EventHeartbeatTimeout.String())
}

func (s *Session) sendPacket(c *conn, typ protocol.PacketType, body []byte) error {
	if c.transport == nil {
		return pinion.ErrNotConnected
	}
	data, err := protocol.EncodePacket(typ, body)
	if err != nil {
		return fmt.Errorf("%s: %w", pinion.ErrMsgFailedToEncode, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	return c.transport.Send(ctx, data)
}

// emit delivers ev to the application handler.
func (s *Session) emit(ev pinion.Event) {
	if s.cfg.OnEvent == nil {
		return
	}
	s.cfg.OnEvent(ev)
}

// frameHandler forwards transport callbacks for one conn to the executor.
type frameHandler struct {
	s *Session
	c *conn
}

func (h *frameHandler) OnFrame(frame []byte) {
	h.s.exec.post(func() { h.s.onFrame(h.c, frame) })
}

func (h *frameHandler) OnError(err error) {
	h.s.exec.post(func() {
		if h.c != h.s.conn {
			return
		}
		h.s.log.Warn().Err(err).Msg("transport error")
		h.s.emit(pinion.IOErrorEvent{Err: err})
	})
}

func (h *frameHandler) OnClose(code int, text string) {
	h.s.exec.post(func() {
		if h.c != h.s.conn {
			return
		}
		h.s.log.Info().Int("code", code).Str("text", text).Msg("transport closed")
		h.s.teardown(h.c, code, text)
	})
}
