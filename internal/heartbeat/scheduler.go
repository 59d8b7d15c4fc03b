package heartbeat

import (
	"sort"
	"sync"
	"time"
)

type systemScheduler struct{}

// SystemScheduler returns a Scheduler backed by the wall clock and time.AfterFunc.
// Callbacks run on their own goroutine; wrap it with Posting to move them onto the
// owning goroutine.
func SystemScheduler() Scheduler {
	return systemScheduler{}
}

func (systemScheduler) Now() time.Time {
	return time.Now()
}

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type postingScheduler struct {
	inner Scheduler
	post  func(func())
}

// Posting wraps a Scheduler so every callback is handed to post instead of being run
// directly.
func Posting(inner Scheduler, post func(func())) Scheduler {
	return postingScheduler{inner: inner, post: post}
}

func (s postingScheduler) Now() time.Time {
	return s.inner.Now()
}

func (s postingScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return s.inner.AfterFunc(d, func() { s.post(f) })
}

// ManualScheduler is a Scheduler whose clock only moves when Advance is called.
// It is safe for concurrent use.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*manualTimer
}

type manualTimer struct {
	s       *ManualScheduler
	when    time.Time
	seq     uint64
	f       func()
	stopped bool
}

// NewManualScheduler returns a ManualScheduler whose clock starts at start.
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTimer{s: s, when: s.now.Add(d), seq: s.seq, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Pending returns the number of scheduled, unfired, unstopped timers.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d, firing due timers in deadline order. Each
// timer fires with the clock set to its deadline. Timers scheduled by a firing
// callback fire in the same call if they fall due before the target time.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		sort.SliceStable(s.timers, func(i, j int) bool {
			if s.timers[i].when.Equal(s.timers[j].when) {
				return s.timers[i].seq < s.timers[j].seq
			}
			return s.timers[i].when.Before(s.timers[j].when)
		})
		var next *manualTimer
		for i, t := range s.timers {
			if t.stopped {
				continue
			}
			if t.when.After(target) {
				break
			}
			next = t
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			break
		}
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.now = next.when
		s.mu.Unlock()
		next.f()
	}
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	for i, other := range t.s.timers {
		if other == t {
			t.s.timers = append(t.s.timers[:i], t.s.timers[i+1:]...)
			return true
		}
	}
	return false
}
