package session

import (
	"sync"

	"github.com/rs/zerolog"
)

// executor runs posted functions one at a time in posting order.
//
// The queue is unbounded so a running function may post more work without blocking.
// A drain goroutine exists only while there is work; it exits once the queue is empty.
type executor struct {
	log zerolog.Logger

	mu      sync.Mutex
	queue   []func()
	running bool
}

func (e *executor) post(f func()) {
	e.mu.Lock()
	e.queue = append(e.queue, f)
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()
	go e.drain()
}

func (e *executor) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.running = false
			e.queue = nil
			e.mu.Unlock()
			return
		}
		f := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.run(f)
	}
}

func (e *executor) run(f func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("session task panicked")
		}
	}()
	f()
}
