package websocket

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/pinion"
)

// Dialer opens client connections. It implements pinion.Dialer.
type Dialer struct {
	// HandshakeTimeout bounds the HTTP upgrade; the dial context bounds the whole dial.
	HandshakeTimeout time.Duration
	// ReadLimit is the largest accepted inbound frame. Zero means no limit.
	ReadLimit int64
	// Header is sent with the upgrade request.
	Header http.Header
	Logger zerolog.Logger
}

var _ pinion.Dialer = (*Dialer)(nil)

// NewDialer returns a dialer with default settings.
func NewDialer(log zerolog.Logger) *Dialer {
	return &Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadLimit:        1 << 24,
		Logger:           log,
	}
}

// Dial connects to url and starts delivering frames to h.
func (d *Dialer) Dial(ctx context.Context, url string, h pinion.FrameHandler) (pinion.Transport, error) {
	wd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}

	ws, resp, err := wd.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if d.ReadLimit > 0 {
		ws.SetReadLimit(d.ReadLimit)
	}

	c := newConn(ws, ws.RemoteAddr().String(), connOptions{Logger: d.Logger})
	c.log.Debug().Str("url", url).Msg("connected")
	go c.serve(h)
	return c, nil
}
