package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/pinion"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	closeGrace     = time.Second
)

// connOptions tunes a Conn. Zero values disable the corresponding keepalive.
type connOptions struct {
	ReadTimeout  time.Duration
	PingInterval time.Duration
	Logger       zerolog.Logger
}

// Conn is one WebSocket connection carrying binary frames. It implements
// pinion.Transport and is shared by the dialer and the server.
type Conn struct {
	id          string
	ws          *websocket.Conn
	remoteAddr  string
	ctx         context.Context
	cancel      context.CancelFunc
	sendCh      chan []byte
	readTimeout time.Duration
	log         zerolog.Logger

	mu         sync.RWMutex
	closed     bool
	localClose bool
	closeCode  int
	closeText  string
}

var _ pinion.Transport = (*Conn)(nil)

func newConn(ws *websocket.Conn, remoteAddr string, opts connOptions) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()

	c := &Conn{
		id:          id,
		ws:          ws,
		remoteAddr:  remoteAddr,
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan []byte, sendBufferSize),
		readTimeout: opts.ReadTimeout,
		log:         opts.Logger.With().Str("conn_id", id).Str("remote_addr", remoteAddr).Logger(),
	}

	if c.readTimeout > 0 {
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		})
	}

	go c.writePump(opts.PingInterval)
	return c
}

// ID returns a unique identifier for the connection
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the remote network address
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Context is cancelled once the connection is gone
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Send queues one binary frame. It never blocks: a full queue is an error.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Hold the read lock so Close cannot close sendCh mid-send.
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return pinion.ErrConnClosed
	}

	select {
	case c.sendCh <- frame:
		return nil
	default:
		return pinion.ErrSendBufferFull
	}
}

// Close flushes queued frames, then sends a close message with code and reason.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.localClose = true
	c.closeCode = code
	c.closeText = reason
	close(c.sendCh)
	return nil
}

// IsAlive returns true if the connection is still open
func (c *Conn) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *Conn) closedLocally() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.localClose
}

// serve reads frames until the connection fails and reports them to h. OnClose is
// called exactly once, last.
func (c *Conn) serve(h pinion.FrameHandler) {
	code, text := pinion.CloseAbnormalClosure, ""
	defer func() {
		c.shutdown()
		h.OnClose(code, text)
	}()

	for {
		if c.readTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			code, text = c.closeStatus(err, h)
			return
		}
		h.OnFrame(data)
	}
}

func (c *Conn) closeStatus(err error, h pinion.FrameHandler) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}

	c.mu.RLock()
	local, code, text := c.localClose, c.closeCode, c.closeText
	c.mu.RUnlock()
	if local {
		return code, text
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		c.log.Warn().Err(err).Msg("unexpected websocket close")
	}
	h.OnError(err)
	return pinion.CloseAbnormalClosure, err.Error()
}

// shutdown releases the socket. Safe to call more than once.
func (c *Conn) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.sendCh)
	}
	c.mu.Unlock()

	c.cancel()
	_ = c.ws.Close()
}

// writePump pumps frames from the send channel to the websocket connection
func (c *Conn) writePump(pingInterval time.Duration) {
	var tick <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.shutdown()

	for {
		select {
		case frame, ok := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.writeClose()
				return
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}

		case <-tick:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// writeClose sends the close message of a local Close and waits briefly for the peer
// to answer it.
func (c *Conn) writeClose() {
	c.mu.RLock()
	local, code, text := c.localClose, c.closeCode, c.closeText
	c.mu.RUnlock()
	if !local {
		return
	}

	msg := websocket.FormatCloseMessage(code, text)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		return
	}
	select {
	case <-c.ctx.Done():
	case <-time.After(closeGrace):
	}
}
