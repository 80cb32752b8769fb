package session

import (
	"context"
	"sync"
	"time"

	errs "stratumproxy/internal/errors"
	"stratumproxy/internal/handle"
	"stratumproxy/internal/loop"
	"stratumproxy/internal/metrics"
	"stratumproxy/internal/protocol"
	"stratumproxy/internal/transport"
	"stratumproxy/util"
)

// Session defaults.
const (
	DefaultLoginTimeout = 10 * time.Second
	DefaultIdleTimeout  = 600 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultJobCacheSize = 8
	DefaultOutboxLimit  = 256 * 1024
)

// Env is the process-wide context shared by every miner: the loop that
// owns them, the registry that names them and the collaborators they
// report to.  Fields are read-only once the first miner exists.
type Env struct {
	Loop     *loop.Loop
	Registry *handle.Registry[*Miner]
	Hooks    Hooks
	Metrics  *metrics.Collector
	Log      *util.Logger
	Access   *util.Logger // one line per login and disconnect; may be nil

	LoginTimeout time.Duration
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	LineCapacity int
	JobCacheSize int
	OutboxLimit  int

	conns sync.WaitGroup // connection goroutines
}

// NewEnv returns an Env with default limits.
func NewEnv(l *loop.Loop, hooks Hooks, m *metrics.Collector, log *util.Logger) *Env {
	if hooks == nil {
		hooks = NopHooks{}
	}
	if log == nil {
		log = util.NewLogger(0)
	}
	return &Env{
		Loop:         l,
		Registry:     handle.New[*Miner](1024),
		Hooks:        hooks,
		Metrics:      m,
		Log:          log,
		LoginTimeout: DefaultLoginTimeout,
		IdleTimeout:  DefaultIdleTimeout,
		WriteTimeout: DefaultWriteTimeout,
		LineCapacity: protocol.DefaultLineCapacity,
		JobCacheSize: DefaultJobCacheSize,
		OutboxLimit:  DefaultOutboxLimit,
	}
}

// Dispatch posts fn to the loop, to run only if token still names a
// live miner.  Late callbacks for destroyed miners are dropped.
func (e *Env) Dispatch(token handle.Token, fn func(*Miner)) {
	_ = e.Loop.Post(func() {
		if m, ok := e.Registry.Resolve(token); ok {
			fn(m)
		}
	})
}

// Wait blocks until every connection goroutine has exited or ctx is
// done.  Miners closed gracefully finish flushing before their writer
// exits.
func (e *Env) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errs.ErrTimeout
	}
}

// Policy is the per-listener configuration a miner is built with.
type Policy struct {
	CustomDiff uint64                 // pool-wide ceiling, 0 = none
	NiceHash   bool                   // reserve a nonce byte per miner
	TLS        *transport.TLSContext // nil for plaintext listeners
	LocalPort  uint16
	IPv6       bool
}
