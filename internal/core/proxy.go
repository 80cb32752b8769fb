package core

import (
	"context"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"stratumproxy/config"
	errs "stratumproxy/internal/errors"
	"stratumproxy/internal/handle"
	"stratumproxy/internal/loop"
	"stratumproxy/internal/metrics"
	"stratumproxy/internal/protocol"
	"stratumproxy/internal/session"
	"stratumproxy/util"
)

// Proxy owns the event loop, the session environment and every
// listener.  Its exported methods are safe to call from any goroutine;
// they reach sessions by posting to the loop.
type Proxy struct {
	loop      *loop.Loop
	env       *session.Env
	upstream  session.Hooks
	acceptors []*Acceptor
	services  []Service
	log       *util.Logger
	grace     time.Duration

	// Owned by the loop.
	maxConns   int
	customDiff uint64
	nicehash   bool
	lastJob    *protocol.Job
	closing    bool
}

// MinerInfo is a point-in-time view of one session.
type MinerInfo struct {
	ID         int64        `json:"id"`
	Token      handle.Token `json:"-"`
	IP         string       `json:"ip,omitempty"`
	User       string       `json:"user"`
	RigID      string       `json:"rig_id"`
	Agent      string       `json:"agent"`
	State      string       `json:"state"`
	TLS        bool         `json:"tls"`
	NiceHash   bool         `json:"nicehash"`
	FixedByte  uint8        `json:"fixed_byte"`
	Diff       uint64       `json:"diff"`
	CustomDiff uint64       `json:"custom_diff,omitempty"`
	LocalPort  uint16       `json:"port"`
	RX         uint64       `json:"rx"`
	TX         uint64       `json:"tx"`
	Timestamp  time.Time    `json:"timestamp"`
}

// Loop returns the event loop.
func (p *Proxy) Loop() *loop.Loop { return p.loop }

// Env returns the session environment.
func (p *Proxy) Env() *session.Env { return p.env }

// Metrics returns the proxy-wide counters.
func (p *Proxy) Metrics() *metrics.Collector { return p.env.Metrics }

// Acceptors returns the configured listeners.
func (p *Proxy) Acceptors() []*Acceptor { return p.acceptors }

// Attach adds a service that runs, and stops, together with the proxy.
// It must be called before Run.
func (p *Proxy) Attach(s Service) { p.services = append(p.services, s) }

// Run starts the loop, every acceptor and every attached service, and
// blocks until ctx is cancelled or one of them fails.  Sessions are then
// closed gracefully and the loop stopped.
func (p *Proxy) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.loop.Run(context.Background()) })
	g.Go(func() error {
		<-gctx.Done()
		p.shutdown()
		return nil
	})
	for _, a := range p.acceptors {
		a := a
		g.Go(func() error { return a.Run(gctx) })
	}
	for _, s := range p.services {
		s := s
		g.Go(func() error { return s.Run(gctx) })
	}
	return g.Wait()
}

func (p *Proxy) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), p.grace)
	defer cancel()

	var n int
	err := p.loop.Call(ctx, func() {
		p.closing = true
		var live []*session.Miner
		p.env.Registry.Range(func(_ handle.Token, m *session.Miner) bool {
			live = append(live, m)
			return true
		})
		for _, m := range live {
			m.Close()
		}
		n = len(live)
	})
	if err != nil {
		p.log.Warn("shutdown: %v", err)
	} else if n > 0 {
		p.log.Info("closing %d miners", n)
	}
	if err := p.env.Wait(ctx); err != nil {
		p.log.Warn("shutdown: %v, connections still flushing after %v", err, p.grace)
	}
	p.loop.Stop()
}

// ── Admission ────────────────────────────────────────────────────────

// handoff moves an accepted socket onto the loop.
func (p *Proxy) handoff(conn net.Conn, a *Acceptor) {
	if err := p.loop.Post(func() { p.admit(conn, a) }); err != nil {
		conn.Close()
	}
}

// admit builds a session for conn, or rejects it at the connection limit.
func (p *Proxy) admit(conn net.Conn, a *Acceptor) {
	if p.closing {
		conn.Close()
		return
	}
	if p.maxConns > 0 && p.env.Registry.Len() >= p.maxConns {
		p.env.Metrics.MinerRejected()
		p.log.Verbose("rejecting %s: %v (%d)", util.RemoteIP(conn.RemoteAddr()), errs.ErrTooManyMiners, p.maxConns)
		conn.Close()
		return
	}
	m := session.New(p.env, session.Policy{
		CustomDiff: p.customDiff,
		NiceHash:   p.nicehash,
		TLS:        a.TLS,
		LocalPort:  a.Bind.Port,
		IPv6:       a.Bind.IsIPv6(),
	})
	m.Accept(conn)
}

// ── Jobs ─────────────────────────────────────────────────────────────

// SetJob forwards job to the miner named by token.  It reports false when
// the miner has not logged in yet, and ErrSessionClosed when it is gone.
func (p *Proxy) SetJob(ctx context.Context, token handle.Token, job protocol.Job) (bool, error) {
	var ok bool
	err := p.Do(ctx, token, func(m *session.Miner) { ok = m.SetJob(job) })
	return ok, err
}

// Broadcast sends job to every logged-in miner and remembers it for
// miners that log in later.  It returns how many miners took the job.
func (p *Proxy) Broadcast(ctx context.Context, job protocol.Job) (int, error) {
	if err := job.Validate(); err != nil {
		return 0, err
	}
	var n int
	err := p.loop.Call(ctx, func() {
		j := job
		p.lastJob = &j
		var live []*session.Miner
		p.env.Registry.Range(func(_ handle.Token, m *session.Miner) bool {
			live = append(live, m)
			return true
		})
		for _, m := range live {
			if m.SetJob(job) {
				n++
			}
		}
	})
	return n, err
}

// Do runs fn on the loop with the miner named by token.  A stale token
// yields ErrSessionClosed and fn is not called.
func (p *Proxy) Do(ctx context.Context, token handle.Token, fn func(*session.Miner)) error {
	found := false
	err := p.loop.Call(ctx, func() {
		if m, ok := p.env.Registry.Resolve(token); ok {
			found = true
			fn(m)
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return errs.ErrSessionClosed
	}
	return nil
}

// ── Inspection ───────────────────────────────────────────────────────

// Miners returns a snapshot of every live session.
func (p *Proxy) Miners(ctx context.Context) ([]MinerInfo, error) {
	var out []MinerInfo
	err := p.loop.Call(ctx, func() {
		out = make([]MinerInfo, 0, p.env.Registry.Len())
		p.env.Registry.Range(func(t handle.Token, m *session.Miner) bool {
			out = append(out, MinerInfo{
				ID:         m.ID(),
				Token:      t,
				IP:         m.IP(),
				User:       m.User(),
				RigID:      m.SafeRigID(),
				Agent:      m.Agent(),
				State:      m.State().String(),
				TLS:        m.IsTLS(),
				NiceHash:   m.NiceHash(),
				FixedByte:  m.FixedByte(),
				Diff:       m.Diff(),
				CustomDiff: m.CustomDiff(),
				LocalPort:  m.LocalPort(),
				RX:         m.RX(),
				TX:         m.TX(),
				Timestamp:  m.Timestamp(),
			})
			return true
		})
	})
	return out, err
}

// ── Reconfiguration ──────────────────────────────────────────────────

// Apply takes over the session policy of a reloaded config.  Only
// sessions accepted afterwards see the change.
func (p *Proxy) Apply(cfg *config.Config) {
	customDiff := cfg.CustomDiff
	nicehash := cfg.Mode == config.ModeNiceHash
	maxConns := cfg.MaxConnections
	err := p.loop.Post(func() {
		if customDiff != p.customDiff || nicehash != p.nicehash || maxConns != p.maxConns {
			p.log.Info("config reloaded: mode=%s custom-diff=%d max-connections=%d", cfg.Mode, customDiff, maxConns)
		}
		p.customDiff = customDiff
		p.nicehash = nicehash
		p.maxConns = maxConns
	})
	if err != nil {
		p.log.Debug("config reload ignored: %v", err)
	}
}
