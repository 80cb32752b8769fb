package session

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	errs "stratumproxy/internal/errors"
	"stratumproxy/internal/protocol"
)

// Error messages sent to miners.
const (
	msgUnauthenticated = "Unauthenticated"
	msgInvalidMethod   = "Invalid method"
	msgInvalidJobID    = "Invalid job id"
	msgInvalidNonce    = "Invalid nonce"
	msgInvalidResult   = "Invalid result"
	msgNiceHashNonce   = "Invalid nonce; is miner not compatible with NiceHash?"
	msgLowDifficulty   = "Low difficulty share"
	msgDuplicateShare  = "Duplicate share"
)

// ── Requests ─────────────────────────────────────────────────────────

// handleLine decodes and dispatches one request line.
func (m *Miner) handleLine(line []byte) {
	if m.state == Closing {
		return
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	req, err := protocol.DecodeRequest(line)
	if err != nil {
		m.log.Debug("bad request: %v", err)
		if m.state == WaitLogin {
			m.reject(errs.RejectFatal(req.ID, err.Error()))
		} else {
			m.reject(errs.Reject(req.ID, err.Error()))
		}
		return
	}

	switch req.Method {
	case protocol.MethodLogin:
		if m.state != WaitLogin {
			m.reject(errs.Reject(req.ID, msgInvalidMethod))
			return
		}
		m.login(req)

	case protocol.MethodSubmit:
		switch m.state {
		case WaitLogin:
			m.reject(errs.Reject(req.ID, msgUnauthenticated))
		case WaitReady:
			m.reject(errs.Reject(req.ID, msgInvalidJobID))
		default:
			m.submit(req)
		}

	case protocol.MethodKeepalive:
		if m.state == WaitLogin {
			m.reject(errs.Reject(req.ID, msgUnauthenticated))
			return
		}
		m.Success(req.ID, protocol.StatusKeepalive)

	default:
		if m.state == WaitLogin {
			m.reject(errs.Reject(req.ID, msgUnauthenticated))
			return
		}
		m.reject(errs.Reject(req.ID, msgInvalidMethod))
	}
}

// reject answers with the error's message and, for fatal errors, starts
// a graceful close so the reply still reaches the miner.
func (m *Miner) reject(pe *errs.ProtocolError) {
	m.ReplyWithError(pe.ID, pe.Message)
	if errs.IsFatal(pe) {
		m.shutdown(false)
	}
}

func (m *Miner) login(req protocol.Request) {
	params, err := protocol.ParseLogin(req.Params)
	if err != nil {
		m.log.Verbose("login rejected: %v", err)
		m.reject(errs.RejectFatal(req.ID, err.Error()))
		return
	}

	user, diff, ok := splitDiffSuffix(params.Login)
	if ok {
		if !m.SetCustomDiff(diff) {
			m.log.Debug("ignoring out of range difficulty suffix %d", diff)
		}
	}

	m.user = user
	m.password = params.Pass
	m.agent = params.Agent
	m.rigID = params.RigID
	m.algos = params.Algos
	m.loginID = req.ID
	m.rpcID = uuid.NewString()

	if err := m.env.Hooks.OnLogin(m, params); err != nil {
		msg := err.Error()
		var pe *errs.ProtocolError
		if errs.As(err, &pe) {
			msg = pe.Message
		}
		m.log.Verbose("login refused upstream: %s", msg)
		m.reject(errs.RejectFatal(req.ID, msg))
		return
	}

	m.setState(WaitReady)
	m.sup.stop()
	m.heartbeat()
	m.sup.arm(m.env.IdleTimeout)

	m.log.Verbose("login %s agent=%q rig=%q", m.user, m.agent, m.rigID)
	if m.env.Access != nil {
		m.env.Access.Info("#%d %s login %s %q", m.id, m.ip, m.user, m.agent)
	}
}

// splitDiffSuffix splits "wallet+5000" into the wallet and 5000.  ok is
// false when login carries no numeric suffix.
func splitDiffSuffix(login string) (user string, diff uint64, ok bool) {
	i := strings.LastIndexByte(login, '+')
	if i <= 0 || i == len(login)-1 {
		return login, 0, false
	}
	v, err := strconv.ParseUint(login[i+1:], 10, 64)
	if err != nil {
		return login, 0, false
	}
	return login[:i], v, true
}

func (m *Miner) submit(req protocol.Request) {
	p, err := protocol.ParseSubmit(req.Params)
	if err != nil {
		m.rejectShare(req.ID, err.Error())
		return
	}
	if p.ID != m.rpcID {
		m.rejectShare(req.ID, msgUnauthenticated)
		return
	}

	job, ok := m.jobs.Get(p.JobID)
	if !ok {
		m.rejectShare(req.ID, msgInvalidJobID)
		return
	}

	b, ok := protocol.NonceFixedByte(p.Nonce)
	if !ok {
		m.rejectShare(req.ID, msgInvalidNonce)
		return
	}
	if !protocol.ValidResult(p.Result) {
		m.rejectShare(req.ID, msgInvalidResult)
		return
	}
	if m.nicehash && b != m.fixedByte {
		m.rejectShare(req.ID, msgNiceHashNonce)
		return
	}

	nonce := strings.ToLower(p.Nonce)
	if _, dup := job.submitted[nonce]; dup {
		m.rejectShare(req.ID, msgDuplicateShare)
		return
	}

	actual := protocol.ShareDiff(p.Result)
	if actual < job.diff {
		m.rejectShare(req.ID, msgLowDifficulty)
		return
	}
	job.submitted[nonce] = struct{}{}

	share := Share{
		RequestID:  req.ID,
		JobID:      p.JobID,
		Nonce:      nonce,
		Result:     p.Result,
		Algo:       p.Algo,
		Diff:       job.diff,
		ActualDiff: actual,
	}
	if err := m.env.Hooks.OnSubmit(m, share); err != nil {
		m.rejectShare(req.ID, err.Error())
		return
	}
	m.env.Metrics.ShareAccepted()
}

func (m *Miner) rejectShare(id int64, msg string) {
	m.log.Verbose("share rejected: %s", msg)
	m.env.Metrics.ShareRejected()
	m.ReplyWithError(id, msg)
}

// ── Jobs ─────────────────────────────────────────────────────────────

// SetJob forwards job to the miner.  The first job after login answers
// the login request and makes the miner Ready; later jobs are pushed as
// notifications.  Ignored, returning false, before login, after close or
// for an invalid job.
func (m *Miner) SetJob(job protocol.Job) bool {
	if m.state != WaitReady && m.state != Ready {
		return false
	}
	if err := job.Validate(); err != nil {
		m.log.Warn("dropping job: %v", err)
		return false
	}

	m.diff = job.Diff
	if m.nicehash {
		job = job.WithFixedByte(m.fixedByte)
	}
	diff := m.Diff()
	m.jobs.Add(job.ID, &jobEntry{diff: diff, submitted: make(map[string]struct{})})
	params := job.Params(m.rpcID, diff)

	m.sendBuf.Reset()
	var err error
	if m.state == WaitReady {
		err = protocol.AppendResult(&m.sendBuf, m.loginID, protocol.LoginResult{
			ID:         m.rpcID,
			Job:        params,
			Extensions: m.extensions(),
			Status:     protocol.StatusOK,
		})
	} else {
		err = protocol.AppendJob(&m.sendBuf, params)
	}
	if err != nil {
		m.log.Error("encode job %s: %v", job.ID, err)
		return false
	}

	m.timestamp = time.Now()
	m.flush()
	if m.state == WaitReady {
		m.setState(Ready)
	}
	m.log.Debug("job %s diff %d", job.ID, diff)
	return m.state != Closing
}

func (m *Miner) extensions() []string {
	ext := []string{"algo", "keepalive"}
	if m.nicehash {
		ext = append(ext, "nicehash")
	}
	if m.IsTLS() {
		ext = append(ext, "tls")
	}
	return ext
}

// ── Replies ──────────────────────────────────────────────────────────

// ReplyWithError sends an error reply for request id.
func (m *Miner) ReplyWithError(id int64, message string) {
	if m.state == Closing {
		return
	}
	m.sendBuf.Reset()
	if err := protocol.AppendError(&m.sendBuf, id, message); err != nil {
		m.log.Error("encode error reply: %v", err)
		return
	}
	m.flush()
}

// Success sends a status reply for request id.
func (m *Miner) Success(id int64, status string) {
	if m.state == Closing {
		return
	}
	m.sendBuf.Reset()
	if err := protocol.AppendStatus(&m.sendBuf, id, status); err != nil {
		m.log.Error("encode reply: %v", err)
		return
	}
	m.flush()
}

// flush hands the staged line to the writer.  The line is copied since
// the staging buffer is reused by the next reply.
func (m *Miner) flush() {
	if !m.accepted || m.sendBuf.Len() == 0 {
		return
	}
	line := bytes.Clone(m.sendBuf.Bytes())
	if !m.out.push(line) {
		m.log.Warn("send queue full (%d bytes pending), dropping miner", m.out.pending())
		m.shutdown(true)
		return
	}
	m.tx += uint64(len(line))
}
