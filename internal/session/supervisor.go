package session

import (
	"time"

	"stratumproxy/internal/handle"
)

// supervisor owns a miner's single deadline timer.  The timer only ever
// posts to the loop; the miner decides on the loop whether the deadline
// really passed, since inbound traffic moves it without touching the
// timer.
type supervisor struct {
	env   *Env
	token handle.Token
	timer *time.Timer
}

// arm (re)starts the timer to fire after d.
func (s *supervisor) arm(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	token := s.token
	env := s.env
	s.timer = time.AfterFunc(d, func() {
		env.Dispatch(token, func(m *Miner) { m.onTimer() })
	})
}

// stop cancels a pending firing.  A firing already posted to the loop is
// harmless: it resolves to nothing once the miner is removed, and is a
// no-op re-arm otherwise.
func (s *supervisor) stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
