package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/pinion"
	"github.com/luciancaetano/pinion/internal/heartbeat"
	"github.com/luciancaetano/pinion/internal/protocol"
)

const waitTimeout = 2 * time.Second

type fakeTransport struct {
	mu      sync.Mutex
	frames  chan []byte
	closed  bool
	code    int
	sendErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan []byte, 128)}
}

func (t *fakeTransport) Send(_ context.Context, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return pinion.ErrConnClosed
	}
	if t.sendErr != nil {
		return t.sendErr
	}
	t.frames <- append([]byte(nil), frame...)
	return nil
}

func (t *fakeTransport) Close(code int, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return pinion.ErrConnClosed
	}
	t.closed = true
	t.code = code
	return nil
}

func (t *fakeTransport) isClosed() (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed, t.code
}

func (t *fakeTransport) setSendErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

type fakeDialer struct {
	mu      sync.Mutex
	next    []*fakeTransport
	err     error
	url     string
	handler pinion.FrameHandler
	dials   int
}

func (d *fakeDialer) Dial(_ context.Context, url string, h pinion.FrameHandler) (pinion.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
	d.handler = h
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	t := d.next[0]
	if len(d.next) > 1 {
		d.next = d.next[1:]
	}
	return t, nil
}

func (d *fakeDialer) frameHandler() pinion.FrameHandler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handler
}

// harness drives one Session against a scripted server.
type harness struct {
	t      *testing.T
	sess   *Session
	dialer *fakeDialer
	tr     *fakeTransport
	sched  *heartbeat.ManualScheduler
	events chan pinion.Event
	users  chan map[string]any
	inits  atomic.Int32
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()

	h := &harness{
		t:      t,
		tr:     newFakeTransport(),
		sched:  heartbeat.NewManualScheduler(time.Unix(1700000000, 0)),
		events: make(chan pinion.Event, 64),
		users:  make(chan map[string]any, 4),
	}
	h.dialer = &fakeDialer{next: []*fakeTransport{h.tr}}

	cfg := DefaultConfig()
	cfg.Host = "localhost"
	cfg.Port = 3010
	cfg.Dialer = h.dialer
	cfg.Scheduler = h.sched
	cfg.OnEvent = func(ev pinion.Event) {
		select {
		case h.events <- ev:
		default:
			t.Errorf("event buffer full, dropping %T", ev)
		}
	}
	cfg.HandshakeCallback = func(user map[string]any) {
		h.users <- user
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h.sess = New(cfg)
	t.Cleanup(h.sess.Disconnect)
	return h
}

// start calls Init and consumes the handshake request.
func (h *harness) start() protocol.HandshakeRequest {
	h.t.Helper()
	require.NoError(h.t, h.sess.Init(context.Background(), func() { h.inits.Add(1) }))

	p := h.nextPacket()
	require.Equal(h.t, protocol.PacketHandshake, p.Type)

	var req protocol.HandshakeRequest
	require.NoError(h.t, json.Unmarshal(p.Body, &req))
	return req
}

// connect runs a successful handshake with sys.
func (h *harness) connect(sys protocol.HandshakeSysInfo) {
	h.t.Helper()
	h.start()
	h.handshake(protocol.HandshakeResponse{Code: pinion.ResCodeOK, Sys: sys})

	p := h.nextPacket()
	require.Equal(h.t, protocol.PacketHandshakeAck, p.Type)
	h.flush()
	require.Equal(h.t, pinion.StateEstablished, h.sess.State())
}

func (h *harness) handshake(res protocol.HandshakeResponse) {
	h.t.Helper()
	raw, err := json.Marshal(res)
	require.NoError(h.t, err)
	h.serverSend(protocol.PacketHandshake, raw)
}

func (h *harness) serverSend(typ protocol.PacketType, body []byte) {
	h.t.Helper()
	data, err := protocol.EncodePacket(typ, body)
	require.NoError(h.t, err)
	h.dialer.frameHandler().OnFrame(data)
}

func (h *harness) serverMessage(msg protocol.Message) {
	h.t.Helper()
	data, err := protocol.EncodeMessage(msg)
	require.NoError(h.t, err)
	h.serverSend(protocol.PacketData, data)
}

// flush waits until everything posted so far has run.
func (h *harness) flush() {
	h.t.Helper()
	h.inLoop(func() {})
}

// inLoop runs f on the session executor and waits for it.
func (h *harness) inLoop(f func()) {
	h.t.Helper()
	done := make(chan struct{})
	h.sess.exec.post(func() {
		f()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(waitTimeout):
		h.t.Fatal("timed out waiting for the session executor")
	}
}

func (h *harness) nextPacket() protocol.Packet {
	h.t.Helper()
	select {
	case frame := <-h.tr.frames:
		packets, err := protocol.DecodePackets(frame)
		require.NoError(h.t, err)
		require.Len(h.t, packets, 1)
		return packets[0]
	case <-time.After(waitTimeout):
		h.t.Fatal("timed out waiting for an outbound packet")
	}
	return protocol.Packet{}
}

func (h *harness) nextMessage() protocol.Message {
	h.t.Helper()
	p := h.nextPacket()
	require.Equal(h.t, protocol.PacketData, p.Type)
	msg, err := protocol.DecodeMessage(p.Body)
	require.NoError(h.t, err)
	return msg
}

func (h *harness) requireNoPacket() {
	h.t.Helper()
	h.flush()
	select {
	case frame := <-h.tr.frames:
		h.t.Fatalf("unexpected outbound frame %v", frame)
	default:
	}
}

func (h *harness) nextEvent() pinion.Event {
	h.t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(waitTimeout):
		h.t.Fatal("timed out waiting for an event")
	}
	return nil
}

func (h *harness) requireNoEvent() {
	h.t.Helper()
	h.flush()
	select {
	case ev := <-h.events:
		h.t.Fatalf("unexpected event %#v", ev)
	default:
	}
}

func (h *harness) pendingLen() int {
	h.t.Helper()
	n := 0
	h.inLoop(func() {
		if h.sess.conn != nil {
			n = h.sess.conn.pending.len()
		}
	})
	return n
}
