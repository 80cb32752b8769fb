package session

import (
	"sync"

	"github.com/eapache/queue"
)

// outbox is the queue between the loop, which produces reply lines, and
// the connection's writer goroutine.  Only the loop pushes; only the
// writer pops.
type outbox struct {
	mu       sync.Mutex
	q        *queue.Queue // of []byte
	queued   int          // bytes currently queued
	limit    int
	draining bool // flush what is queued, then close
	aborted  bool // drop everything and stop
	wake     chan struct{}
}

func newOutbox(limit int) *outbox {
	return &outbox{
		q:     queue.New(),
		limit: limit,
		wake:  make(chan struct{}, 1),
	}
}

// push queues one line.  It returns false when the outbox no longer
// accepts data or the byte limit would be exceeded.
func (o *outbox) push(line []byte) bool {
	o.mu.Lock()
	if o.draining || o.aborted || o.queued+len(line) > o.limit {
		o.mu.Unlock()
		return false
	}
	o.q.Add(line)
	o.queued += len(line)
	o.mu.Unlock()
	o.signal()
	return true
}

// drain asks the writer to flush queued lines and then close.
func (o *outbox) drain() {
	o.mu.Lock()
	o.draining = true
	o.mu.Unlock()
	o.signal()
}

// abort asks the writer to stop without flushing.
func (o *outbox) abort() {
	o.mu.Lock()
	o.aborted = true
	for o.q.Length() > 0 {
		o.q.Remove()
	}
	o.queued = 0
	o.mu.Unlock()
	o.signal()
}

// next blocks until a line is available or the outbox is finished.
// ok is false when the writer should stop; graceful reports whether that
// stop is graceful (the connection should be closed by the writer).
func (o *outbox) next() (line []byte, ok, graceful bool) {
	for {
		o.mu.Lock()
		switch {
		case o.aborted:
			o.mu.Unlock()
			return nil, false, false
		case o.q.Length() > 0:
			line = o.q.Remove().([]byte)
			o.queued -= len(line)
			o.mu.Unlock()
			return line, true, false
		case o.draining:
			o.mu.Unlock()
			return nil, false, true
		}
		o.mu.Unlock()
		<-o.wake
	}
}

// pending returns the number of queued bytes.
func (o *outbox) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queued
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}
