// Package session implements the per-connection protocol engine: one
// Miner per accepted socket, driven entirely from the event loop.
//
// A Miner moves through WaitLogin, WaitReady, Ready and Closing.  Socket
// reads, writes and timer firings happen on other goroutines and reach
// the Miner only through its registry token, so a callback arriving
// after destruction is simply dropped.
package session

import (
	"bytes"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"stratumproxy/internal/handle"
	"stratumproxy/internal/protocol"
	"stratumproxy/internal/transport"
	"stratumproxy/util"
)

var nextID atomic.Int64

// jobEntry remembers a job sent to the miner, for share validation.
type jobEntry struct {
	diff      uint64
	submitted map[string]struct{} // nonces already seen
}

// Miner is one downstream connection.  All methods must be called on the
// loop goroutine.
type Miner struct {
	env    *Env
	policy Policy
	token  handle.Token
	log    *util.Logger

	id        int64
	ip        string
	localPort uint16
	ipv6      bool

	agent    string
	user     string
	password string
	rigID    string
	algos    []string
	rpcID    string
	loginID  int64

	routeID   int32
	mapperID  int64
	fixedByte uint8
	nicehash  bool

	diff       uint64 // pool difficulty of the current job
	customDiff uint64 // ceiling, 0 = none

	timestamp time.Time
	expire    time.Time
	rx, tx    uint64

	state    State
	accepted bool
	ch       transport.Channel
	parser   *protocol.LineParser
	out      *outbox
	sendBuf  bytes.Buffer
	jobs     *lru.Cache[string, *jobEntry]
	sup      supervisor
}

// New builds a miner and registers it.  The miner does nothing until
// Accept hands it a connection.
func New(env *Env, policy Policy) *Miner {
	m := &Miner{
		env:       env,
		policy:    policy,
		id:        nextID.Add(1),
		localPort: policy.LocalPort,
		ipv6:      policy.IPv6,
		routeID:   -1,
		mapperID:  -1,
		nicehash:  policy.NiceHash,
		state:     WaitLogin,
		parser:    protocol.NewLineParser(env.LineCapacity),
		out:       newOutbox(env.OutboxLimit),
	}
	m.SetCustomDiff(policy.CustomDiff)
	m.jobs, _ = lru.New[string, *jobEntry](max(env.JobCacheSize, 1))

	m.token = env.Registry.Insert(m)
	m.sup = supervisor{env: env, token: m.token}
	m.log = env.Log.WithPrefix(fmt.Sprintf("miner #%d", m.id))
	return m
}

// Accept takes ownership of conn, wraps it in the listener's TLS context
// when there is one, arms the login deadline and starts the connection
// goroutines.  It returns false, and destroys the miner, when conn is
// unusable or the miner was already accepted or closed.
func (m *Miner) Accept(conn net.Conn) bool {
	if conn == nil || m.accepted || m.state == Closing {
		if conn != nil {
			conn.Close()
		}
		m.shutdown(true)
		return false
	}

	m.ip = util.RemoteIP(conn.RemoteAddr())
	if m.ip == "" {
		m.log.Debug("accept: no remote address")
		conn.Close()
		m.shutdown(true)
		return false
	}
	m.log = m.log.WithPrefix(m.ip)

	m.accepted = true
	m.ch = transport.NewChannel(conn, m.policy.TLS)
	m.timestamp = time.Now()
	m.expire = m.timestamp.Add(m.env.LoginTimeout)
	m.sup.arm(m.env.LoginTimeout)
	m.env.Metrics.MinerConnected()

	m.env.conns.Add(2)
	go readLoop(m.env, m.token, m.ch, m.env.LoginTimeout, m.log)
	go writeLoop(m.env, m.token, m.ch, m.out, m.env.WriteTimeout)

	m.log.Debug("accepted on port %d (tls=%v)", m.localPort, m.ch.IsTLS())
	return true
}

// Close requests a graceful shutdown: pending replies are flushed before
// the socket closes.
func (m *Miner) Close() { m.shutdown(false) }

// ── Accessors ────────────────────────────────────────────────────────

func (m *Miner) ID() int64            { return m.id }
func (m *Miner) Token() handle.Token  { return m.token }
func (m *Miner) IP() string           { return m.ip }
func (m *Miner) Agent() string        { return m.agent }
func (m *Miner) User() string         { return m.user }
func (m *Miner) Password() string     { return m.password }
func (m *Miner) RigID() string        { return m.rigID }
func (m *Miner) Algos() []string      { return m.algos }
func (m *Miner) RPCID() string        { return m.rpcID }
func (m *Miner) RouteID() int32       { return m.routeID }
func (m *Miner) MapperID() int64      { return m.mapperID }
func (m *Miner) FixedByte() uint8     { return m.fixedByte }
func (m *Miner) NiceHash() bool       { return m.nicehash }
func (m *Miner) State() State         { return m.state }
func (m *Miner) LocalPort() uint16    { return m.localPort }
func (m *Miner) IsIPv6() bool         { return m.ipv6 }
func (m *Miner) CustomDiff() uint64   { return m.customDiff }
func (m *Miner) PoolDiff() uint64     { return m.diff }
func (m *Miner) Expire() time.Time    { return m.expire }
func (m *Miner) Timestamp() time.Time { return m.timestamp }
func (m *Miner) RX() uint64           { return m.rx }
func (m *Miner) TX() uint64           { return m.tx }
func (m *Miner) Pending() int         { return m.out.pending() }

// SafeRigID returns the rig id, or the user when the miner sent none.
func (m *Miner) SafeRigID() string {
	if m.rigID != "" {
		return m.rigID
	}
	return m.user
}

// Diff returns the effective difficulty: the custom ceiling when set and
// lower than the pool difficulty, otherwise the pool difficulty.
func (m *Miner) Diff() uint64 { return protocol.EffectiveDiff(m.diff, m.customDiff) }

// IsTLS reports whether the miner connected through a TLS listener.
func (m *Miner) IsTLS() bool {
	if m.ch != nil {
		return m.ch.IsTLS()
	}
	return m.policy.TLS != nil
}

// ── Setters ──────────────────────────────────────────────────────────

// SetCustomDiff stores a difficulty ceiling.  Values outside
// [MinCustomDiff, MaxCustomDiff) are ignored and false is returned; the
// previous value is kept.
func (m *Miner) SetCustomDiff(v uint64) bool {
	if !protocol.ValidCustomDiff(v) {
		return false
	}
	m.customDiff = v
	return true
}

func (m *Miner) SetFixedByte(b uint8) { m.fixedByte = b }
func (m *Miner) SetMapperID(id int64) { m.mapperID = id }
func (m *Miner) SetNiceHash(on bool)  { m.nicehash = on }
func (m *Miner) SetRouteID(id int32)  { m.routeID = id }

// ── Lifecycle ────────────────────────────────────────────────────────

func (m *Miner) setState(st State) {
	if m.state == st {
		return
	}
	m.log.Debug("state %s -> %s", m.state, st)
	m.state = st
}

// shutdown enters Closing.  The miner is deregistered before the socket
// is touched; with hadError the socket closes at once and queued replies
// are dropped, otherwise the writer flushes them first.
func (m *Miner) shutdown(hadError bool) {
	if m.state == Closing {
		return
	}
	prev := m.state
	m.setState(Closing)
	m.sup.stop()
	m.env.Registry.Remove(m.token)

	if !m.accepted {
		return
	}

	if hadError {
		m.out.abort()
		m.ch.Close()
	} else {
		m.out.drain()
	}

	m.env.Metrics.MinerDisconnected()
	if prev != WaitLogin {
		m.env.Hooks.OnClose(m)
	}
	if m.env.Access != nil && prev != WaitLogin {
		m.env.Access.Info("#%d %s logout %s rx/tx %d/%d", m.id, m.ip, m.user, m.rx, m.tx)
	}
}

// fail handles a transport error reported by a connection goroutine.
func (m *Miner) fail(err error) {
	if m.state == Closing {
		return
	}
	if util.IsClosedConn(err) {
		m.log.Debug("disconnected")
	} else {
		m.log.Warn("connection error: %v", err)
		m.env.Metrics.RecordError(err.Error())
	}
	m.shutdown(true)
}

// onTimer runs when the deadline timer fires.  Traffic may have moved
// the deadline since the timer was armed; then it is re-armed for the
// remainder.
func (m *Miner) onTimer() {
	if m.state == Closing {
		return
	}
	if remaining := time.Until(m.expire); remaining > 0 {
		m.sup.arm(remaining)
		return
	}
	if m.state == WaitLogin {
		m.log.Verbose("login timeout")
	} else {
		m.log.Verbose("idle timeout")
	}
	m.shutdown(false)
}

// heartbeat moves the idle deadline after inbound traffic.  The login
// deadline is fixed.
func (m *Miner) heartbeat() {
	if m.state == WaitLogin {
		return
	}
	m.expire = time.Now().Add(m.env.IdleTimeout)
}

// onData feeds bytes read from the socket through the line parser.
func (m *Miner) onData(data []byte) {
	if m.state == Closing {
		return
	}
	m.rx += uint64(len(data))
	m.heartbeat()

	if err := m.parser.Feed(data, m.handleLine); err != nil {
		if m.state != Closing {
			m.log.Warn("%v (%d bytes buffered)", err, m.parser.Buffered())
			m.env.Metrics.RecordError(err.Error())
			m.shutdown(true)
		}
	}
}
