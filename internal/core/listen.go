package core

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	proxyproto "github.com/pires/go-proxyproto"

	"stratumproxy/config"
	errs "stratumproxy/internal/errors"
	"stratumproxy/internal/metrics"
	"stratumproxy/internal/retry"
	"stratumproxy/internal/transport"
	"stratumproxy/util"
)

// proxyHeaderTimeout bounds how long a PROXY protocol header may take.
const proxyHeaderTimeout = 5 * time.Second

// Acceptor listens on one bind address and hands every accepted socket
// to Handoff.  It never touches sessions itself.
type Acceptor struct {
	Bind          config.BindHost
	TLS           *transport.TLSContext // nil for plaintext binds
	ProxyProtocol bool
	KeepAlive     time.Duration
	Backoff       *retry.Backoff        // listen retries; nil = one attempt
	Breaker       *retry.CircuitBreaker // pauses accepting after repeated failures
	Metrics       *metrics.Collector
	Logger        *util.Logger

	// Handoff receives each accepted connection.  It runs on the accept
	// goroutine; while it blocks no further connection is accepted.
	Handoff func(conn net.Conn, a *Acceptor)

	once  sync.Once
	ready chan struct{}
	addr  net.Addr
}

// Ready is closed once the listener is bound.
func (a *Acceptor) Ready() <-chan struct{} {
	a.once.Do(func() { a.ready = make(chan struct{}) })
	return a.ready
}

// Addr returns the bound address, or nil before Ready.
func (a *Acceptor) Addr() net.Addr { return a.addr }

// Run binds the listener and accepts until ctx is cancelled.
func (a *Acceptor) Run(ctx context.Context) error {
	a.Ready()
	if a.Logger == nil {
		a.Logger = util.NewLogger(0)
	}
	if a.Breaker == nil {
		a.Breaker = retry.NewCircuitBreaker(nil)
	}

	ln, err := a.listen(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer ln.Close()

	if a.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln, ReadHeaderTimeout: proxyHeaderTimeout}
	}

	a.addr = ln.Addr()
	close(a.ready)
	a.Logger.Info("listening on %s (tls=%v, proxy-protocol=%v)", a.Bind, a.TLS != nil, a.ProxyProtocol)

	// Shut the listener down when the context expires.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		var conn net.Conn
		err := a.Breaker.Execute(func() error {
			c, err := ln.Accept()
			conn = c
			return err
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if errs.Is(err, errs.ErrCircuitOpen) {
				a.pause(ctx)
				continue
			}
			if errs.IsRetryable(err) {
				a.Logger.Verbose("accept on %s: %v", a.Bind, err)
			} else {
				a.Logger.Warn("accept on %s: %v", a.Bind, err)
			}
			a.Metrics.RecordError(err.Error())
			continue
		}

		transport.SetNoDelay(conn)
		if a.ProxyProtocol {
			go a.resolveProxied(conn)
			continue
		}
		a.Handoff(conn, a)
	}
}

// listen binds the socket, retrying with the configured backoff.
func (a *Acceptor) listen(ctx context.Context) (net.Listener, error) {
	network, address := a.Bind.Network(), a.Bind.String()
	b := a.Backoff
	if b == nil {
		b = &retry.Backoff{MaxAttempts: 1}
	}

	var ln net.Listener
	err := b.Do(ctx, func(attempt int) error {
		l, err := transport.ListenTCP(ctx, network, address, a.KeepAlive)
		if err != nil {
			a.Logger.Warn("bind %s failed (attempt %d): %v", address, attempt, err)
			if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EADDRNOTAVAIL) {
				return retry.Permanent(errs.Wrap("listen", address, err))
			}
			return errs.Wrap("listen", address, err)
		}
		ln = l
		return nil
	})
	return ln, err
}

// pause waits out an open circuit.
func (a *Acceptor) pause(ctx context.Context) {
	wait := a.Breaker.RetryAfter()
	if wait <= 0 {
		return
	}
	a.Metrics.AcceptPaused()
	a.Logger.Warn("accept on %s failing repeatedly, pausing for %v", a.Bind, wait.Truncate(time.Millisecond))

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// resolveProxied reads the PROXY header off the accept goroutine so a
// slow load balancer cannot stall other accepts, then hands off.  The
// real client address is cached by the connection afterwards.
func (a *Acceptor) resolveProxied(conn net.Conn) {
	addr := conn.RemoteAddr()
	a.Logger.Debug("proxied connection from %s", util.RemoteIP(addr))
	a.Handoff(conn, a)
}
