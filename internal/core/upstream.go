package core

import (
	"stratumproxy/internal/protocol"
	"stratumproxy/internal/session"
	"stratumproxy/util"
)

// LoggingUpstream stands in for the pool side when no upstream component
// is linked in.  It logs logins and shares, accepts every share and, in
// NiceHash mode, hands out fixed bytes round robin.
type LoggingUpstream struct {
	Logger *util.Logger

	nextByte uint16
}

// NewLoggingUpstream returns a stand-in upstream that logs to logger.
func NewLoggingUpstream(logger *util.Logger) *LoggingUpstream {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &LoggingUpstream{Logger: logger.WithPrefix("upstream")}
}

func (u *LoggingUpstream) OnLogin(m *session.Miner, p protocol.LoginParams) error {
	m.SetRouteID(0)
	if m.NiceHash() {
		if u.nextByte > 0xff {
			u.Logger.Warn("more than 256 NiceHash miners on one upstream, fixed bytes are reused")
			u.nextByte = 0
		}
		m.SetMapperID(0)
		m.SetFixedByte(uint8(u.nextByte))
		u.nextByte++
	}
	u.Logger.Verbose("login #%d %s rig=%s algo=%v", m.ID(), m.User(), m.SafeRigID(), p.Algos)
	return nil
}

func (u *LoggingUpstream) OnSubmit(m *session.Miner, s session.Share) error {
	u.Logger.Verbose("share #%d job=%s nonce=%s diff=%d/%d", m.ID(), s.JobID, s.Nonce, s.ActualDiff, s.Diff)
	m.Success(s.RequestID, protocol.StatusOK)
	return nil
}

func (u *LoggingUpstream) OnClose(m *session.Miner) {
	u.Logger.Debug("close #%d %s", m.ID(), m.User())
}
