package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"stratumproxy/internal/loop"
	"stratumproxy/internal/metrics"
	"stratumproxy/internal/protocol"
)

const (
	testBlob   = "0707f7a4f0d605b303260816ba3f10902e1a145ac5fad3aa3af6ea44c11869dc4f853f002b2eea0000000077b206a02ca5b1d4ce6bbfdf0acac38bded34d2dcdeef95cd20cefc12f61d56109"
	strongHash = "0000000000000000000000000000000000000000000000000000000000000000"
	weakHash   = "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
)

// recorder is a Hooks implementation that records every call.  Its
// fields are only touched on the loop goroutine.
type recorder struct {
	logins    []protocol.LoginParams
	shares    []Share
	closed    []int64
	loginErr  error
	submitErr error
	onLogin   func(m *Miner)
	answer    bool // reply OK to accepted shares
}

func (r *recorder) OnLogin(m *Miner, p protocol.LoginParams) error {
	r.logins = append(r.logins, p)
	if r.loginErr != nil {
		return r.loginErr
	}
	if r.onLogin != nil {
		r.onLogin(m)
	}
	return nil
}

func (r *recorder) OnSubmit(m *Miner, s Share) error {
	if r.submitErr != nil {
		return r.submitErr
	}
	r.shares = append(r.shares, s)
	if r.answer {
		m.Success(s.RequestID, protocol.StatusOK)
	}
	return nil
}

func (r *recorder) OnClose(m *Miner) { r.closed = append(r.closed, m.ID()) }

type harness struct {
	t     *testing.T
	loop  *loop.Loop
	env   *Env
	hooks *recorder
}

func newHarness(t *testing.T, tune ...func(*Env)) *harness {
	t.Helper()
	l := loop.New(0, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx) //nolint:errcheck

	hooks := &recorder{answer: true}
	env := NewEnv(l, hooks, metrics.New(), nil)
	env.LoginTimeout = 5 * time.Second
	env.IdleTimeout = 5 * time.Second
	env.WriteTimeout = 5 * time.Second
	for _, f := range tune {
		f(env)
	}

	t.Cleanup(func() {
		cancel()
		l.Stop()
	})
	return &harness{t: t, loop: l, env: env, hooks: hooks}
}

// do runs fn on the loop and waits for it.
func (h *harness) do(fn func()) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.loop.Call(ctx, fn))
}

// connect builds a miner on one end of a pipe and returns the miner side
// and a client on the other end.
func (h *harness) connect(policy Policy) (*Miner, *client) {
	h.t.Helper()
	serverSide, clientSide := net.Pipe()
	var (
		m  *Miner
		ok bool
	)
	h.do(func() {
		m = New(h.env, policy)
		ok = m.Accept(serverSide)
	})
	require.True(h.t, ok, "accept")
	c := newClient(h.t, clientSide)
	return m, c
}

// state reads the miner state on the loop.
func (h *harness) state(m *Miner) State {
	var st State
	h.do(func() { st = m.State() })
	return st
}

// waitState polls until m reaches want.
func (h *harness) waitState(m *Miner, want State, within time.Duration) {
	h.t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if h.state(m) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("miner state = %s, want %s after %v", h.state(m), want, within)
}

// setJob pushes job on the loop.
func (h *harness) setJob(m *Miner, job protocol.Job) bool {
	var ok bool
	h.do(func() { ok = m.SetJob(job) })
	return ok
}

// login performs a login and pushes the first job, leaving m Ready.
func (h *harness) login(m *Miner, c *client, user string) gjson.Result {
	h.t.Helper()
	c.send(`{"id":1,"jsonrpc":"2.0","method":"login","params":{"login":"%s","pass":"x","agent":"xmrig/6.21","rigid":"rig1"}}`, user)
	h.waitState(m, WaitReady, 2*time.Second)
	require.True(h.t, h.setJob(m, testJob("job-1", 10000)))
	reply := c.recv()
	require.Equal(h.t, Ready, h.state(m))
	return reply
}

func testJob(id string, diff uint64) protocol.Job {
	return protocol.Job{ID: id, Blob: testBlob, Diff: diff, Algo: "rx/0", Height: 3000000}
}

// ── client ───────────────────────────────────────────────────────────

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
	mu   sync.Mutex
}

func newClient(t *testing.T, conn net.Conn) *client {
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) send(format string, args ...any) {
	c.t.Helper()
	line := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	c.sendRaw(line)
}

func (c *client) sendRaw(data string) {
	c.t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	_, err := c.conn.Write([]byte(data))
	require.NoError(c.t, err)
}

// recv reads one reply line.
func (c *client) recv() gjson.Result {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err, "waiting for a reply line")
	require.True(c.t, gjson.Valid(line), "reply is not JSON: %q", line)
	return gjson.Parse(line)
}

// expectClosed waits for the server side to close the connection.
func (c *client) expectClosed(within time.Duration) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(within)) //nolint:errcheck
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			var ne net.Error
			if ok := asNetError(err, &ne); ok && ne.Timeout() {
				c.t.Fatalf("connection still open after %v", within)
			}
			return
		}
		c.t.Logf("discarding %q before close", line)
	}
}

func asNetError(err error, target *net.Error) bool {
	ne, ok := err.(net.Error)
	if ok {
		*target = ne
	}
	return ok
}
