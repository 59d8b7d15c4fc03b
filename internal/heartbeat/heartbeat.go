// Package heartbeat implements the server-driven keepalive of a session.
//
// The server sends heartbeats; the client answers each one after the negotiated
// interval and then expects to hear from the server again within the timeout. Any
// inbound packet counts as proof of life.
//
// Timer firings are not trusted to be punctual. Each timeout check compares one
// deadline against the clock and, when it fired early, re-arms itself for exactly the
// remaining time.
package heartbeat

import (
	"time"

	"github.com/rs/zerolog"
)

// GapThreshold is the scheduling slack tolerated before a timeout is declared.
const GapThreshold = 100 * time.Millisecond

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler provides time and delayed callbacks.
//
// The Monitor is not safe for concurrent use; a Scheduler must deliver callbacks on the
// goroutine that owns the Monitor.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Monitor is the keepalive state machine. It is Idle while no send is scheduled and
// Armed while one is.
type Monitor struct {
	sched     Scheduler
	send      func() error
	onTimeout func()
	log       zerolog.Logger

	interval time.Duration
	timeout  time.Duration

	nextDeadline time.Time

	sendTimer  Timer
	sendSeq    uint64
	checkTimer Timer
	checkSeq   uint64
}

// New returns a disabled monitor. send transmits one heartbeat packet; onTimeout is
// called once the server has been silent past the deadline.
func New(sched Scheduler, send func() error, onTimeout func(), log zerolog.Logger) *Monitor {
	return &Monitor{
		sched:     sched,
		send:      send,
		onTimeout: onTimeout,
		log:       log,
	}
}

// Configure sets the negotiated timing. An interval of zero disables the monitor.
func (m *Monitor) Configure(interval, timeout time.Duration) {
	m.interval = interval
	m.timeout = timeout
}

// Enabled reports whether heartbeats were negotiated.
func (m *Monitor) Enabled() bool {
	return m.interval > 0
}

// Armed reports whether a heartbeat send is scheduled.
func (m *Monitor) Armed() bool {
	return m.sendTimer != nil
}

// Interval returns the negotiated interval.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Timeout returns the negotiated timeout.
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}

// Deadline returns the time by which the server must have sent something.
func (m *Monitor) Deadline() time.Time {
	return m.nextDeadline
}

// Touch records inbound traffic. It must be called for every inbound packet.
func (m *Monitor) Touch() {
	m.nextDeadline = m.sched.Now().Add(m.timeout)
}

// OnHeartbeat handles a heartbeat packet from the server.
func (m *Monitor) OnHeartbeat() {
	if !m.Enabled() {
		return
	}
	// The server answered; the pending check is superseded by the next send cycle.
	m.cancelCheck()
	if m.sendTimer != nil {
		return
	}

	m.sendSeq++
	seq := m.sendSeq
	m.sendTimer = m.sched.AfterFunc(m.interval, func() {
		if seq != m.sendSeq {
			return
		}
		m.fireSend()
	})
}

// Stop cancels both timers. The monitor stays configured but Idle.
func (m *Monitor) Stop() {
	if m.sendTimer != nil {
		m.sendTimer.Stop()
		m.sendTimer = nil
	}
	m.sendSeq++
	m.cancelCheck()
}

func (m *Monitor) fireSend() {
	m.sendTimer = nil
	if err := m.send(); err != nil {
		m.log.Warn().Err(err).Msg("heartbeat send failed")
	}
	m.nextDeadline = m.sched.Now().Add(m.timeout)
	m.armCheck(m.timeout)
}

func (m *Monitor) armCheck(d time.Duration) {
	m.cancelCheck()
	seq := m.checkSeq
	m.checkTimer = m.sched.AfterFunc(d, func() {
		if seq != m.checkSeq {
			return
		}
		m.fireCheck()
	})
}

func (m *Monitor) cancelCheck() {
	if m.checkTimer != nil {
		m.checkTimer.Stop()
		m.checkTimer = nil
	}
	m.checkSeq++
}

func (m *Monitor) fireCheck() {
	m.checkTimer = nil
	remaining := m.nextDeadline.Sub(m.sched.Now())
	if remaining > GapThreshold {
		m.log.Debug().Dur("remaining", remaining).Msg("heartbeat check fired early, re-arming")
		m.armCheck(remaining)
		return
	}
	m.log.Warn().Dur("timeout", m.timeout).Msg("heartbeat timeout")
	m.onTimeout()
}
