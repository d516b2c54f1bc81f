// Package runloop provides the single-threaded task scheduler the map
// core runs on. Surface callbacks and network completions are posted
// here and executed as discrete, non-preemptible turns, so component
// invariants only need to hold between tasks.
package runloop

import "sync"

// Loop runs posted tasks one at a time on a dedicated goroutine, in
// FIFO order. A task posted from within a running task executes in a
// later turn, never the current one.
type Loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
	done    chan struct{}
}

// New starts a loop.
func New() *Loop {
	l := &Loop{done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if l.stopped && len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		task := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		task()
	}
}

// Post schedules a task. Posting to a stopped loop is a no-op.
func (l *Loop) Post(task func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.queue = append(l.queue, task)
	l.cond.Signal()
}

// Flush blocks until every task posted before the call has run. Tasks
// that earlier tasks post during the flush run after it returns; call
// Flush again to drain those.
func (l *Loop) Flush() {
	ch := make(chan struct{})
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, func() { close(ch) })
	l.cond.Signal()
	l.mu.Unlock()
	<-ch
}

// Stop drains remaining tasks and stops the loop. Idempotent; blocks
// until the loop goroutine exits.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.stopped = true
	l.cond.Signal()
	l.mu.Unlock()
	<-l.done
}
