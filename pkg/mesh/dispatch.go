package mesh

import (
	"fmt"
	"log/slog"
	"sync"
)

const dispatchLogPrefix = "mesh:dispatch"

// dispatcher owns the single dispatch goroutine all inbound command and
// variable handlers run on. Transport callbacks enqueue work in delivery
// order; nothing runs until the readiness gate opens. The queue keeps
// per-subscription order because each transport subscription delivers its
// callbacks sequentially.
type dispatcher struct {
	queue chan func()
	ready chan struct{}

	openOnce sync.Once
	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

func newDispatcher(depth int) *dispatcher {
	if depth <= 0 {
		depth = 256
	}
	return &dispatcher{
		queue:   make(chan func(), depth),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// start spawns the dispatch goroutine. It blocks on the readiness gate before
// touching the queue, so registered handlers stay dormant until openGate.
func (d *dispatcher) start() {
	go func() {
		defer close(d.stopped)

		select {
		case <-d.ready:
		case <-d.done:
			return
		}

		for {
			select {
			case job := <-d.queue:
				d.run(job)
			case <-d.done:
				return
			}
		}
	}()
}

// run executes one job, keeping the dispatch goroutine alive on panics.
// Command and variable handlers carry their own recovery; this is the final
// backstop for the loop itself.
func (d *dispatcher) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - dispatched job panicked: %v", dispatchLogPrefix, r))
		}
	}()
	job()
}

// enqueue queues one inbound message for dispatch. Blocks the transport
// callback when the queue is full, which applies backpressure instead of
// reordering or dropping.
func (d *dispatcher) enqueue(job func()) {
	select {
	case d.queue <- job:
	case <-d.done:
	}
}

// openGate releases the dispatch goroutine. Safe to call once; callers guard
// the at-most-once readiness contract above this layer.
func (d *dispatcher) openGate() {
	d.openOnce.Do(func() {
		close(d.ready)
	})
}

// stop terminates the dispatch goroutine and waits for it to exit. Queued but
// undelivered messages are discarded; the module is shutting down.
func (d *dispatcher) stop() {
	d.stopOnce.Do(func() {
		close(d.done)
	})
	<-d.stopped
}
