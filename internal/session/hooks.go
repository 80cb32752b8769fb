package session

import (
	"stratumproxy/internal/protocol"
)

// Share is a submission that passed local validation and is handed to
// the upstream component.
type Share struct {
	RequestID  int64
	JobID      string
	Nonce      string
	Result     string
	Algo       string
	Diff       uint64 // effective difficulty the job was sent with
	ActualDiff uint64 // difficulty the result hash meets
}

// Hooks connect sessions to the upstream component that owns pools and
// jobs.  Every method is called on the loop goroutine and must not
// block.
type Hooks interface {
	// OnLogin is called after a login request passed validation.  It may
	// assign the route, mapper and fixed byte through the Miner setters.
	// A non-nil error rejects the login: the miner gets the error message
	// as reply and is disconnected.
	OnLogin(m *Miner, params protocol.LoginParams) error

	// OnSubmit receives a validated share.  A non-nil error is sent to
	// the miner as rejection.  On nil the upstream answers later through
	// Miner.Success or Miner.ReplyWithError.
	OnSubmit(m *Miner, share Share) error

	// OnClose is called once when the miner enters Closing.
	OnClose(m *Miner)
}

// NopHooks accepts every login and share and answers shares at once.
type NopHooks struct{}

func (NopHooks) OnLogin(*Miner, protocol.LoginParams) error { return nil }

func (NopHooks) OnSubmit(m *Miner, s Share) error {
	m.Success(s.RequestID, protocol.StatusOK)
	return nil
}

func (NopHooks) OnClose(*Miner) {}
