package core

import (
	"time"

	"stratumproxy/config"
	"stratumproxy/internal/loop"
	"stratumproxy/internal/metrics"
	"stratumproxy/internal/protocol"
	"stratumproxy/internal/retry"
	"stratumproxy/internal/session"
	"stratumproxy/internal/transport"
	"stratumproxy/util"
)

// Options carries the collaborators Build does not derive from Config.
type Options struct {
	Upstream session.Hooks      // nil selects a LoggingUpstream
	Metrics  *metrics.Collector // nil creates one
	Access   *util.Logger       // login/logout lines; may be nil
}

// Build constructs a Proxy from the given configuration.  cfg must be
// finalized and validated.  This is the single dispatch point between
// configuration and running components.
func Build(cfg *config.Config, logger *util.Logger, opts Options) (*Proxy, error) {
	if logger == nil {
		logger = util.NewLogger(0)
	}

	var tlsCtx *transport.TLSContext
	if cfg.IsTLS() {
		var err error
		tlsCtx, err = transport.NewTLSContext(cfg.TLS, logger)
		if err != nil {
			return nil, err
		}
	}

	upstream := opts.Upstream
	if upstream == nil {
		upstream = NewLoggingUpstream(logger)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	p := &Proxy{
		loop:       loop.New(0, 0, logger),
		upstream:   upstream,
		log:        logger,
		grace:      config.DefaultGracePeriod,
		maxConns:   cfg.MaxConnections,
		customDiff: cfg.CustomDiff,
		nicehash:   cfg.Mode == config.ModeNiceHash,
	}
	p.env = buildEnv(cfg, p, m, logger)
	p.env.Access = opts.Access

	for _, b := range cfg.Binds() {
		p.acceptors = append(p.acceptors, buildAcceptor(cfg, b, tlsCtx, p, logger))
	}
	return p, nil
}

// ── builders ─────────────────────────────────────────────────────────

func buildEnv(cfg *config.Config, p *Proxy, m *metrics.Collector, logger *util.Logger) *session.Env {
	env := session.NewEnv(p.loop, proxyHooks{p}, m, logger)
	if d := cfg.LoginTimeoutDuration(); d > 0 {
		env.LoginTimeout = d
	}
	if d := cfg.IdleTimeoutDuration(); d > 0 {
		env.IdleTimeout = d
	}
	return env
}

func buildAcceptor(cfg *config.Config, b config.BindHost, tlsCtx *transport.TLSContext, p *Proxy, logger *util.Logger) *Acceptor {
	a := &Acceptor{
		Bind:          b,
		ProxyProtocol: cfg.ProxyProtocol,
		KeepAlive:     config.DefaultKeepAlivePeriod,
		Backoff:       buildBackoff(cfg),
		Breaker: retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
			MaxFailures:  config.DefaultAcceptFailureThreshold,
			ResetTimeout: config.DefaultAcceptPause,
			HalfOpenMax:  1,
			OnStateChange: func(from, to retry.State) {
				if to == retry.StateClosed {
					logger.Info("accept on %s recovered", b)
				}
			},
		}),
		Metrics: p.env.Metrics,
		Logger:  logger,
		Handoff: p.handoff,
	}
	if b.TLS {
		a.TLS = tlsCtx
	}
	return a
}

// buildBackoff turns retries/retry-pause into the listen retry policy.
func buildBackoff(cfg *config.Config) *retry.Backoff {
	pause := cfg.RetryPauseDuration()
	if pause <= 0 {
		pause = time.Second
	}
	return &retry.Backoff{
		InitialDelay: pause,
		MaxDelay:     pause,
		Multiplier:   1,
		MaxAttempts:  max(cfg.Retries, 1),
	}
}

// ── hooks ────────────────────────────────────────────────────────────

// proxyHooks sits between sessions and the upstream.  It hands the most
// recent broadcast job to miners that log in after it was sent.
type proxyHooks struct{ p *Proxy }

func (h proxyHooks) OnLogin(m *session.Miner, params protocol.LoginParams) error {
	if err := h.p.upstream.OnLogin(m, params); err != nil {
		return err
	}
	if h.p.lastJob == nil {
		return nil
	}
	job := *h.p.lastJob
	token := m.Token()
	env := h.p.env
	// The miner only becomes WaitReady once OnLogin returns.
	if !h.p.loop.TryPost(func() {
		if m, ok := env.Registry.Resolve(token); ok {
			m.SetJob(job)
		}
	}) {
		h.p.log.Debug("loop busy, miner #%d waits for the next job", m.ID())
	}
	return nil
}

func (h proxyHooks) OnSubmit(m *session.Miner, s session.Share) error {
	return h.p.upstream.OnSubmit(m, s)
}

func (h proxyHooks) OnClose(m *session.Miner) { h.p.upstream.OnClose(m) }
