// Package executor implements a fixed-size worker pool with a bounded
// task queue, used to fire off asynchronous backend calls (primarily
// deauthorize) without blocking the event loop and without letting an
// unbounded backlog of goroutines accumulate.
package executor

import (
	"sync"

	"github.com/google/uuid"

	"github.com/maxirmx/fuelflux-sub000/internal/logging"
)

// task pairs a unit of work with a correlation ID for logging.
type task struct {
	id string
	fn func()
}

// Executor runs submitted tasks on a fixed pool of worker goroutines.
// Submit never blocks: if the queue is full, or shutdown has begun, it
// returns false and the caller decides whether to drop the work.
type Executor struct {
	queue chan task
	log   *logging.Logger

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// New starts workers goroutines reading from a queue bounded at
// queueLen. Both must be positive.
func New(workers, queueLen int, log *logging.Logger) *Executor {
	if workers < 1 {
		workers = 1
	}
	if queueLen < 1 {
		queueLen = 1
	}
	if log == nil {
		log = logging.NewFromEnv("executor")
	}

	e := &Executor{
		queue: make(chan task, queueLen),
		log:   log,
	}
	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	return e
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for t := range e.queue {
		e.run(t)
	}
}

// run invokes the task's function, recovering a panic so one failed
// task never takes down a worker goroutine.
func (e *Executor) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithFields(map[string]interface{}{
				"task_id": t.id,
				"panic":   r,
			}).Error("executor task panicked")
		}
	}()
	t.fn()
}

// Submit enqueues fn for execution. Returns false immediately if the
// queue is full or Shutdown has been called; it never blocks the
// caller waiting for capacity.
func (e *Executor) Submit(fn func()) bool {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	t := task{id: uuid.NewString(), fn: fn}
	select {
	case e.queue <- t:
		return true
	default:
		e.log.WithField("task_id", t.id).Warn("executor queue full, dropping task")
		return false
	}
}

// Shutdown stops accepting new tasks, lets in-flight and already
// queued tasks drain, and blocks until every worker has exited.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return
	}
	e.shutdown = true
	e.mu.Unlock()

	close(e.queue)
	e.wg.Wait()
}
