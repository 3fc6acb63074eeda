// Package eventbus provides the single-writer main loop and the typed
// event publication used to break the Actor/PG/Job manager callback
// cycle (see DESIGN.md, "eventbus"). Managers never import
// each other; they publish events here and the server shell wires
// listeners at boot.
package eventbus

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// MainLoop is the single-writer event loop. Every mutation of manager
// state happens here; RPC handlers, background work and pub/sub
// callbacks post closures instead of touching manager state directly.
type MainLoop struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

// NewMainLoop creates a main loop with the given task backlog capacity.
func NewMainLoop(backlog int) *MainLoop {
	return &MainLoop{
		tasks: make(chan func(), backlog),
		done:  make(chan struct{}),
	}
}

// Start runs the loop's single consumer goroutine until Stop is called.
func (l *MainLoop) Start() {
	go func() {
		for {
			select {
			case fn := <-l.tasks:
				fn()
			case <-l.done:
				return
			}
		}
	}()
}

// Post enqueues a closure to run on the main loop. Safe to call from
// any goroutine (RPC handlers, the heartbeat loop, background work).
// Silently drops the task if the loop has already stopped, mirroring
// the teacher's best-effort shutdown policy.
func (l *MainLoop) Post(fn func()) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		log.Debug("dropping task posted after main loop stop")
		return
	}
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// Stop signals the consumer goroutine to exit. It does not wait for the
// backlog to drain; callers needing a barrier should Post a closure that
// closes a channel and wait on that.
func (l *MainLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.once.Do(func() { close(l.done) })
}
