package session

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"stratumproxy/config"
	errs "stratumproxy/internal/errors"
	"stratumproxy/internal/protocol"
	"stratumproxy/internal/transport"
)

func submitLine(id int64, rpcID, jobID, nonce, result string) string {
	return `{"id":` + strconv.FormatInt(id, 10) + `,"jsonrpc":"2.0","method":"submit","params":{"id":"` + rpcID +
		`","job_id":"` + jobID + `","nonce":"` + nonce + `","result":"` + result + `","algo":"rx/0"}}`
}

func errorMessage(r gjson.Result) string { return r.Get("error.message").String() }

// ── Login ────────────────────────────────────────────────────────────

func TestMiner_LoginAnsweredByFirstJob(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{LocalPort: 3333})

	assert.Equal(t, WaitLogin, h.state(m))
	reply := h.login(m, c, "wallet1")

	assert.Equal(t, int64(1), reply.Get("id").Int())
	assert.Equal(t, gjson.Null, reply.Get("error").Type)
	assert.Equal(t, "OK", reply.Get("result.status").String())

	var rpcID string
	h.do(func() { rpcID = m.RPCID() })
	require.NotEmpty(t, rpcID)
	assert.Equal(t, rpcID, reply.Get("result.id").String())
	assert.Equal(t, rpcID, reply.Get("result.job.id").String())
	assert.Equal(t, "job-1", reply.Get("result.job.job_id").String())
	assert.Equal(t, protocol.Target(10000), reply.Get("result.job.target").String())
	assert.Equal(t, testBlob, reply.Get("result.job.blob").String())

	var ext []string
	for _, e := range reply.Get("result.extensions").Array() {
		ext = append(ext, e.String())
	}
	assert.Equal(t, []string{"algo", "keepalive"}, ext)

	h.do(func() {
		assert.Equal(t, "wallet1", m.User())
		assert.Equal(t, "xmrig/6.21", m.Agent())
		assert.Equal(t, "rig1", m.RigID())
		assert.Equal(t, "rig1", m.SafeRigID())
		assert.Equal(t, uint64(10000), m.Diff())
		require.Len(t, h.hooks.logins, 1)
		assert.Equal(t, "wallet1", h.hooks.logins[0].Login)
	})
}

func TestMiner_LaterJobsAreNotifications(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})
	h.login(m, c, "wallet1")

	require.True(t, h.setJob(m, testJob("job-2", 20000)))
	note := c.recv()

	assert.Equal(t, "job", note.Get("method").String())
	assert.False(t, note.Get("id").Exists())
	assert.Equal(t, "job-2", note.Get("params.job_id").String())
	assert.Equal(t, protocol.Target(20000), note.Get("params.target").String())
	assert.Equal(t, Ready, h.state(m))
}

func TestMiner_SetJobIgnoredBeforeLogin(t *testing.T) {
	h := newHarness(t)
	m, _ := h.connect(Policy{})

	assert.False(t, h.setJob(m, testJob("job-1", 1000)))
	assert.Equal(t, WaitLogin, h.state(m))
}

func TestMiner_SetJobRejectsInvalidJob(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})
	c.send(`{"id":1,"method":"login","params":{"login":"w"}}`)
	h.waitState(m, WaitReady, 2*time.Second)

	bad := testJob("job-1", 1000)
	bad.Blob = "abcd"
	assert.False(t, h.setJob(m, bad))
	assert.Equal(t, WaitReady, h.state(m))
}

func TestMiner_LoginWithoutAddressCloses(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})

	c.send(`{"id":4,"jsonrpc":"2.0","method":"login","params":{"login":"","pass":"x"}}`)
	reply := c.recv()
	assert.Equal(t, int64(4), reply.Get("id").Int())
	assert.Equal(t, "Invalid payment address provided", errorMessage(reply))

	c.expectClosed(2 * time.Second)
	h.do(func() {
		assert.Equal(t, Closing, m.State())
		assert.Equal(t, 0, h.env.Registry.Len())
		assert.Empty(t, h.hooks.closed, "no close hook for a miner that never logged in")
	})
}

func TestMiner_LoginRefusedByHooks(t *testing.T) {
	h := newHarness(t)
	h.hooks.loginErr = errs.RejectFatal(0, "Pool unavailable")
	m, c := h.connect(Policy{})

	c.send(`{"id":2,"method":"login","params":{"login":"wallet"}}`)
	reply := c.recv()
	assert.Equal(t, "Pool unavailable", errorMessage(reply))
	c.expectClosed(2 * time.Second)
	assert.Equal(t, Closing, h.state(m))
}

func TestMiner_LoginDifficultySuffix(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})
	reply := h.login(m, c, "wallet+5000")

	assert.Equal(t, protocol.Target(5000), reply.Get("result.job.target").String())
	h.do(func() {
		assert.Equal(t, "wallet", m.User())
		assert.Equal(t, uint64(5000), m.CustomDiff())
		assert.Equal(t, uint64(10000), m.PoolDiff())
		assert.Equal(t, uint64(5000), m.Diff())
	})
}

func TestMiner_LoginDifficultySuffixOutOfRange(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{CustomDiff: 2000})
	reply := h.login(m, c, "wallet+50")

	assert.Equal(t, protocol.Target(2000), reply.Get("result.job.target").String())
	h.do(func() {
		assert.Equal(t, "wallet", m.User())
		assert.Equal(t, uint64(2000), m.CustomDiff())
	})
}

func TestMiner_CustomDiffAboveJobDiffIgnored(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{CustomDiff: 50000})
	reply := h.login(m, c, "wallet")
	assert.Equal(t, protocol.Target(10000), reply.Get("result.job.target").String())
}

func TestMiner_SecondLoginIsInvalidMethod(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})
	h.login(m, c, "wallet")

	c.send(`{"id":9,"method":"login","params":{"login":"other"}}`)
	reply := c.recv()
	assert.Equal(t, int64(9), reply.Get("id").Int())
	assert.Equal(t, "Invalid method", errorMessage(reply))
	assert.Equal(t, Ready, h.state(m))
}

// ── Requests before login ────────────────────────────────────────────

func TestMiner_RequestsBeforeLoginAreUnauthenticated(t *testing.T) {
	for _, method := range []string{"submit", "keepalived", "getjob"} {
		t.Run(method, func(t *testing.T) {
			h := newHarness(t)
			m, c := h.connect(Policy{})

			c.send(`{"id":3,"method":"%s","params":{}}`, method)
			reply := c.recv()
			assert.Equal(t, int64(3), reply.Get("id").Int())
			assert.Equal(t, "Unauthenticated", errorMessage(reply))
			assert.Equal(t, WaitLogin, h.state(m))
		})
	}
}

func TestMiner_MalformedJSONBeforeLoginCloses(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})

	c.send(`{"id":1,"method":`)
	reply := c.recv()
	assert.Equal(t, "Parse error", errorMessage(reply))
	c.expectClosed(2 * time.Second)
	assert.Equal(t, Closing, h.state(m))
}

func TestMiner_MalformedJSONAfterLoginKeepsSession(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})
	h.login(m, c, "wallet")

	c.send(`not json`)
	assert.Equal(t, "Parse error", errorMessage(c.recv()))

	c.send(`{"id":5,"params":{}}`)
	reply := c.recv()
	assert.Equal(t, int64(5), reply.Get("id").Int())
	assert.Equal(t, "Invalid JSON-RPC", errorMessage(reply))

	assert.Equal(t, Ready, h.state(m))
}

func TestMiner_BlankLinesIgnored(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})
	h.login(m, c, "wallet")

	c.sendRaw("\n\r\n   \n")
	c.send(`{"id":6,"method":"keepalived"}`)
	reply := c.recv()
	assert.Equal(t, int64(6), reply.Get("id").Int())
	assert.Equal(t, Ready, h.state(m))
}

// ── Requests after login ─────────────────────────────────────────────

func TestMiner_Keepalive(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})
	h.login(m, c, "wallet")

	c.send(`{"id":7,"method":"keepalived","params":{"id":"x"}}`)
	reply := c.recv()
	assert.Equal(t, int64(7), reply.Get("id").Int())
	assert.Equal(t, "KEEPALIVED", reply.Get("result.status").String())
}

func TestMiner_UnknownMethod(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})
	h.login(m, c, "wallet")

	c.send(`{"id":8,"method":"getjob"}`)
	assert.Equal(t, "Invalid method", errorMessage(c.recv()))
	assert.Equal(t, Ready, h.state(m))
}

func TestMiner_SubmitBeforeFirstJob(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})
	c.send(`{"id":1,"method":"login","params":{"login":"wallet"}}`)
	h.waitState(m, WaitReady, 2*time.Second)

	c.send(submitLine(2, "x", "job-1", "00000000", strongHash))
	assert.Equal(t, "Invalid job id", errorMessage(c.recv()))
	assert.Equal(t, WaitReady, h.state(m))
}

// ── Shares ───────────────────────────────────────────────────────────

func TestMiner_SubmitValidation(t *testing.T) {
	tests := []struct {
		name    string
		rpcID   string // empty = the miner's own
		jobID   string
		nonce   string
		result  string
		wantErr string
	}{
		{"accepted", "", "job-1", "00000001", strongHash, ""},
		{"foreign rpc id", "someone-else", "job-1", "00000001", strongHash, "Unauthenticated"},
		{"unknown job", "", "job-9", "00000001", strongHash, "Invalid job id"},
		{"short nonce", "", "job-1", "0001", strongHash, "Invalid nonce"},
		{"non hex nonce", "", "job-1", "zzzzzzzz", strongHash, "Invalid nonce"},
		{"short result", "", "job-1", "00000001", "abcd", "Invalid result"},
		{"low difficulty", "", "job-1", "00000001", weakHash, "Low difficulty share"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			m, c := h.connect(Policy{})
			h.login(m, c, "wallet")

			rpcID := tt.rpcID
			if rpcID == "" {
				h.do(func() { rpcID = m.RPCID() })
			}
			c.send(submitLine(11, rpcID, tt.jobID, tt.nonce, tt.result))
			reply := c.recv()
			assert.Equal(t, int64(11), reply.Get("id").Int())

			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, errorMessage(reply))
				assert.Equal(t, int64(1), h.env.Metrics.RejectedShares())
				return
			}
			assert.Equal(t, "OK", reply.Get("result.status").String())
			assert.Equal(t, int64(1), h.env.Metrics.AcceptedShares())
			h.do(func() {
				require.Len(t, h.hooks.shares, 1)
				s := h.hooks.shares[0]
				assert.Equal(t, "job-1", s.JobID)
				assert.Equal(t, "00000001", s.Nonce)
				assert.Equal(t, uint64(10000), s.Diff)
				assert.Greater(t, s.ActualDiff, s.Diff)
			})
		})
	}
}

func TestMiner_DuplicateShare(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})
	h.login(m, c, "wallet")
	var rpcID string
	h.do(func() { rpcID = m.RPCID() })

	c.send(submitLine(1, rpcID, "job-1", "0000ABCD", strongHash))
	assert.Equal(t, "OK", c.recv().Get("result.status").String())

	c.send(submitLine(2, rpcID, "job-1", "0000abcd", strongHash))
	assert.Equal(t, "Duplicate share", errorMessage(c.recv()))
}

func TestMiner_ShareRejectedUpstream(t *testing.T) {
	h := newHarness(t)
	h.hooks.submitErr = errs.New("Block expired")
	m, c := h.connect(Policy{})
	h.login(m, c, "wallet")
	var rpcID string
	h.do(func() { rpcID = m.RPCID() })

	c.send(submitLine(3, rpcID, "job-1", "00000001", strongHash))
	assert.Equal(t, "Block expired", errorMessage(c.recv()))
	assert.Equal(t, int64(1), h.env.Metrics.RejectedShares())
	assert.Equal(t, Ready, h.state(m))
}

func TestMiner_SharesForOlderJobsStillValid(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})
	h.login(m, c, "wallet")
	require.True(t, h.setJob(m, testJob("job-2", 10000)))
	c.recv()

	var rpcID string
	h.do(func() { rpcID = m.RPCID() })
	c.send(submitLine(4, rpcID, "job-1", "00000002", strongHash))
	assert.Equal(t, "OK", c.recv().Get("result.status").String())
}

func TestMiner_JobCacheEvictsOldest(t *testing.T) {
	h := newHarness(t, func(e *Env) { e.JobCacheSize = 2 })
	m, c := h.connect(Policy{})
	h.login(m, c, "wallet")
	for _, id := range []string{"job-2", "job-3"} {
		require.True(t, h.setJob(m, testJob(id, 10000)))
		c.recv()
	}

	var rpcID string
	h.do(func() { rpcID = m.RPCID() })
	c.send(submitLine(5, rpcID, "job-1", "00000003", strongHash))
	assert.Equal(t, "Invalid job id", errorMessage(c.recv()))
}

// ── NiceHash ─────────────────────────────────────────────────────────

func TestMiner_NiceHashFixedByte(t *testing.T) {
	h := newHarness(t)
	h.hooks.onLogin = func(m *Miner) { m.SetFixedByte(0x2a) }
	m, c := h.connect(Policy{NiceHash: true})
	reply := h.login(m, c, "wallet")

	blob := reply.Get("result.job.blob").String()
	require.Len(t, blob, len(testBlob))
	assert.Equal(t, "2a", blob[84:86])
	assert.Equal(t, testBlob[:84], blob[:84])
	assert.Equal(t, testBlob[86:], blob[86:])
	assert.Contains(t, reply.Get("result.extensions").String(), "nicehash")

	var rpcID string
	h.do(func() { rpcID = m.RPCID() })

	c.send(submitLine(1, rpcID, "job-1", "00000000", strongHash))
	assert.Equal(t, "Invalid nonce; is miner not compatible with NiceHash?", errorMessage(c.recv()))

	c.send(submitLine(2, rpcID, "job-1", "0100002a", strongHash))
	assert.Equal(t, "OK", c.recv().Get("result.status").String())
}

// ── Timeouts ─────────────────────────────────────────────────────────

func TestMiner_LoginTimeout(t *testing.T) {
	h := newHarness(t, func(e *Env) { e.LoginTimeout = 100 * time.Millisecond })
	m, c := h.connect(Policy{})

	c.expectClosed(2 * time.Second)
	assert.Equal(t, Closing, h.state(m))
	assert.Equal(t, 0, h.env.Registry.Len())
}

func TestMiner_LoginTimeoutNotExtendedByTraffic(t *testing.T) {
	h := newHarness(t, func(e *Env) { e.LoginTimeout = 300 * time.Millisecond })
	m, c := h.connect(Policy{})

	for i := 0; i < 2; i++ {
		time.Sleep(100 * time.Millisecond)
		c.send(`{"id":1,"method":"keepalived"}`)
		assert.Equal(t, "Unauthenticated", errorMessage(c.recv()))
	}
	c.expectClosed(time.Second)
	assert.Equal(t, Closing, h.state(m))
}

func TestMiner_IdleTimeoutExtendedByTraffic(t *testing.T) {
	h := newHarness(t, func(e *Env) { e.IdleTimeout = 250 * time.Millisecond })
	m, c := h.connect(Policy{})
	h.login(m, c, "wallet")

	for i := 0; i < 5; i++ {
		time.Sleep(100 * time.Millisecond)
		c.send(`{"id":%d,"method":"keepalived"}`, i+10)
		assert.Equal(t, "KEEPALIVED", c.recv().Get("result.status").String())
	}
	assert.Equal(t, Ready, h.state(m))

	c.expectClosed(2 * time.Second)
	assert.Equal(t, Closing, h.state(m))
	h.do(func() { assert.Equal(t, []int64{m.ID()}, h.hooks.closed) })
}

// TestMiner_TimeoutClosesGracefully verifies a deadline closes without
// an error: a reply queued just before it still reaches the miner.
func TestMiner_TimeoutClosesGracefully(t *testing.T) {
	tests := []struct {
		name  string
		tune  func(*Env)
		login bool
		queue func(m *Miner)
		check func(t *testing.T, r gjson.Result)
	}{
		{
			name:  "idle",
			tune:  func(e *Env) { e.IdleTimeout = 200 * time.Millisecond },
			login: true,
			queue: func(m *Miner) { m.Success(99, protocol.StatusOK) },
			check: func(t *testing.T, r gjson.Result) {
				assert.Equal(t, int64(99), r.Get("id").Int())
				assert.Equal(t, protocol.StatusOK, r.Get("result.status").String())
			},
		},
		{
			name:  "login",
			tune:  func(e *Env) { e.LoginTimeout = 200 * time.Millisecond },
			queue: func(m *Miner) { m.ReplyWithError(98, "Unauthenticated") },
			check: func(t *testing.T, r gjson.Result) {
				assert.Equal(t, int64(98), r.Get("id").Int())
				assert.Equal(t, "Unauthenticated", errorMessage(r))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.tune)
			m, c := h.connect(Policy{})
			if tt.login {
				h.login(m, c, "wallet")
			}

			// The pipe holds the reply in the writer until the client
			// reads, which it only does after the deadline has passed.
			h.do(func() { tt.queue(m) })
			h.waitState(m, Closing, 2*time.Second)

			tt.check(t, c.recv())
			c.expectClosed(2 * time.Second)
			assert.Equal(t, 0, h.env.Registry.Len())
		})
	}
}

// ── Framing ──────────────────────────────────────────────────────────

func TestMiner_OverlongLineCloses(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})

	c.sendRaw(strings.Repeat("a", protocol.DefaultLineCapacity+100))
	c.expectClosed(2 * time.Second)
	assert.Equal(t, Closing, h.state(m))
}

func TestMiner_RequestsSplitAcrossWrites(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})
	h.login(m, c, "wallet")

	c.sendRaw(`{"id":21,"method":"keep`)
	c.sendRaw(`alived"}` + "\n" + `{"id":22,"method":"keepalived"}` + "\n")
	assert.Equal(t, int64(21), c.recv().Get("id").Int())
	assert.Equal(t, int64(22), c.recv().Get("id").Int())
}

// ── Shutdown ─────────────────────────────────────────────────────────

func TestMiner_CloseFlushesPendingReplies(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})
	h.login(m, c, "wallet")

	h.do(func() {
		m.Success(77, protocol.StatusOK)
		m.Close()
		m.Close()
		m.Success(78, protocol.StatusOK) // dropped: already closing
	})

	assert.Equal(t, int64(77), c.recv().Get("id").Int())
	c.expectClosed(2 * time.Second)
	h.do(func() {
		assert.Equal(t, 0, h.env.Registry.Len())
		assert.Len(t, h.hooks.closed, 1)
	})
	assert.Equal(t, int64(0), h.env.Metrics.ActiveMiners())
}

func TestEnv_WaitForConnectionGoroutines(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.env.Wait(ctx), errs.ErrTimeout)

	h.do(m.Close)
	c.expectClosed(2 * time.Second)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel2()
	assert.NoError(t, h.env.Wait(ctx2))
}

func TestMiner_StaleTokenDispatchDropped(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})
	token := m.Token()
	h.do(m.Close)
	c.expectClosed(2 * time.Second)

	called := false
	h.env.Dispatch(token, func(*Miner) { called = true })
	h.do(func() {})
	assert.False(t, called)
}

func TestMiner_ClientDisconnect(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})
	h.login(m, c, "wallet")

	c.conn.Close()
	h.waitState(m, Closing, 2*time.Second)
	h.do(func() {
		assert.Equal(t, []int64{m.ID()}, h.hooks.closed)
		assert.Equal(t, 0, h.env.Registry.Len())
	})
}

func TestMiner_DisconnectBeforeLoginSkipsCloseHook(t *testing.T) {
	h := newHarness(t)
	m, c := h.connect(Policy{})

	c.conn.Close()
	h.waitState(m, Closing, 2*time.Second)
	h.do(func() { assert.Empty(t, h.hooks.closed) })
}

func TestMiner_AcceptTwiceFails(t *testing.T) {
	h := newHarness(t)
	m, _ := h.connect(Policy{})

	a, b := net.Pipe()
	defer b.Close()
	var ok bool
	h.do(func() { ok = m.Accept(a) })
	assert.False(t, ok)
	assert.Equal(t, Closing, h.state(m))
}

func TestMiner_AcceptNil(t *testing.T) {
	h := newHarness(t)
	var ok bool
	h.do(func() {
		m := New(h.env, Policy{})
		ok = m.Accept(nil)
	})
	assert.False(t, ok)
	h.do(func() { assert.Equal(t, 0, h.env.Registry.Len()) })
}

// ── TLS ──────────────────────────────────────────────────────────────

func TestMiner_TLS(t *testing.T) {
	tlsCtx, err := transport.NewTLSContext(config.TLSConfig{
		Cert:    "../transport/testdata/cert.pem",
		CertKey: "../transport/testdata/key.pem",
	}, nil)
	require.NoError(t, err)

	h := newHarness(t)
	serverSide, clientSide := net.Pipe()
	var (
		m  *Miner
		ok bool
	)
	h.do(func() {
		m = New(h.env, Policy{TLS: tlsCtx})
		ok = m.Accept(serverSide)
	})
	require.True(t, ok)

	tc := tls.Client(clientSide, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec
	c := newClient(t, tc)
	reply := h.login(m, c, "wallet")

	assert.Contains(t, reply.Get("result.extensions").String(), `"tls"`)
	h.do(func() { assert.True(t, m.IsTLS()) })
}

func TestMiner_TLSHandshakeFailure(t *testing.T) {
	tlsCtx, err := transport.NewTLSContext(config.TLSConfig{
		Cert:    "../transport/testdata/cert.pem",
		CertKey: "../transport/testdata/key.pem",
	}, nil)
	require.NoError(t, err)

	h := newHarness(t)
	serverSide, clientSide := net.Pipe()
	var m *Miner
	h.do(func() {
		m = New(h.env, Policy{TLS: tlsCtx})
		m.Accept(serverSide)
	})

	defer clientSide.Close()
	go clientSide.Write([]byte(`{"id":1,"method":"login","params":{"login":"plaintext"}}` + "\n")) //nolint:errcheck
	h.waitState(m, Closing, 2*time.Second)
}

// ── Helpers ──────────────────────────────────────────────────────────

func TestSplitDiffSuffix(t *testing.T) {
	tests := []struct {
		in       string
		user     string
		diff     uint64
		hasValue bool
	}{
		{"wallet", "wallet", 0, false},
		{"wallet+5000", "wallet", 5000, true},
		{"wallet+", "wallet+", 0, false},
		{"+5000", "+5000", 0, false},
		{"wallet+abc", "wallet+abc", 0, false},
		{"a+b+250", "a+b", 250, true},
	}
	for _, tt := range tests {
		user, diff, ok := splitDiffSuffix(tt.in)
		assert.Equal(t, tt.user, user, tt.in)
		assert.Equal(t, tt.diff, diff, tt.in)
		assert.Equal(t, tt.hasValue, ok, tt.in)
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "wait-login", WaitLogin.String())
	assert.Equal(t, "wait-ready", WaitReady.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "closing", Closing.String())
}
