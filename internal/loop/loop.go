// Package loop provides the single goroutine that owns all session state.
//
// Connection goroutines never touch a session directly.  They post
// closures to the loop, which runs them one at a time in arrival order.
// Tasks posted from one goroutine therefore run in the order they were
// posted, and no task ever runs concurrently with another.
package loop

import (
	"context"
	"sync"
	"sync/atomic"

	errs "stratumproxy/internal/errors"
	"stratumproxy/util"
)

// DefaultCapacity is the inbox size.  A full inbox blocks posters, which
// slows readers down instead of dropping their data.
const DefaultCapacity = 4096

// DefaultBatch is how many queued tasks run per wakeup.
const DefaultBatch = 64

// Task is a unit of work executed on the loop goroutine.
type Task func()

// Loop is a single-goroutine task executor.
type Loop struct {
	inbox    chan Task
	batch    int
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	executed atomic.Int64
	log      *util.Logger
}

// New creates a loop with the given inbox capacity and batch size.
// Non-positive values select the defaults.
func New(capacity, batch int, log *util.Logger) *Loop {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if batch <= 0 {
		batch = DefaultBatch
	}
	if log == nil {
		log = util.NewLogger(0)
	}
	return &Loop{
		inbox: make(chan Task, capacity),
		batch: batch,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Run executes tasks until ctx is cancelled or Stop is called.  It must
// be called exactly once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return nil // already running
	}
	defer close(l.done)

	batch := make([]Task, 0, l.batch)
	for {
		batch = batch[:0]

		select {
		case <-ctx.Done():
			l.stopOnce.Do(func() { close(l.quit) })
			return nil
		case <-l.quit:
			return nil
		case t := <-l.inbox:
			batch = append(batch, t)
		}

		// Non-blocking drain up to the batch size.
	drain:
		for len(batch) < l.batch {
			select {
			case t := <-l.inbox:
				batch = append(batch, t)
			default:
				break drain
			}
		}

		for _, t := range batch {
			l.exec(t)
		}
	}
}

func (l *Loop) exec(t Task) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("loop: task panicked: %v", r)
		}
	}()
	t()
	l.executed.Add(1)
}

// Post queues t, blocking while the inbox is full.  It fails with
// ErrLoopStopped once the loop has been stopped.
func (l *Loop) Post(t Task) error {
	select {
	case <-l.quit:
		return errs.ErrLoopStopped
	default:
	}
	select {
	case l.inbox <- t:
		return nil
	case <-l.quit:
		return errs.ErrLoopStopped
	}
}

// TryPost queues t without blocking.  Returns false if the inbox is full
// or the loop is stopped.
func (l *Loop) TryPost(t Task) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.inbox <- t:
		return true
	default:
		return false
	}
}

// Call runs t on the loop and waits for it to finish.  It must not be
// called from the loop goroutine itself.
func (l *Loop) Call(ctx context.Context, t Task) error {
	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		t()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// The task may still have run if it was already dequeued.
		select {
		case <-finished:
			return nil
		default:
			return errs.ErrLoopStopped
		}
	}
}

// Stop signals Run to exit and waits for it if it was started.  Queued
// tasks that have not run yet are discarded.  Stop must not be called
// from a task.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
	if l.running.Load() {
		<-l.done
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Pending returns the approximate number of queued tasks.
func (l *Loop) Pending() int { return len(l.inbox) }

// Executed returns the number of tasks run so far.
func (l *Loop) Executed() int64 { return l.executed.Load() }
