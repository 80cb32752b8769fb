package session

import (
	"context"
	"time"

	"stratumproxy/internal/handle"
	"stratumproxy/internal/transport"
	"stratumproxy/util"
)

// ── Connection goroutines ────────────────────────────────────────────
//
// Each accepted miner gets one reader and one writer goroutine.  They do
// the blocking socket work and talk to the miner only through
// Env.Dispatch with the miner's token, never through a *Miner.

// readLoop completes the handshake, then forwards every chunk read from
// ch to the loop.  It exits on the first read error.
func readLoop(env *Env, token handle.Token, ch transport.Channel, handshakeTimeout time.Duration, log *util.Logger) {
	defer env.conns.Done()

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	err := ch.Handshake(ctx)
	cancel()
	if err != nil {
		env.Dispatch(token, func(m *Miner) { m.fail(err) })
		return
	}
	if sec := ch.Security(); sec != "" {
		log.Verbose("tls established: %s", sec)
	}

	buf := util.GetBuf()
	defer util.PutBuf(buf)

	for {
		n, err := ch.Read(*buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, (*buf)[:n])
			env.Metrics.BytesReceived(int64(n))
			env.Dispatch(token, func(m *Miner) { m.onData(data) })
		}
		if err != nil {
			env.Dispatch(token, func(m *Miner) { m.fail(err) })
			return
		}
	}
}

// writeLoop drains out into ch.  A graceful stop closes ch after the
// last queued line; an abort leaves closing to the loop.
func writeLoop(env *Env, token handle.Token, ch transport.Channel, out *outbox, writeTimeout time.Duration) {
	defer env.conns.Done()

	for {
		line, ok, graceful := out.next()
		if !ok {
			if graceful {
				ch.Close()
			}
			return
		}

		if writeTimeout > 0 {
			ch.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
		}
		n, err := ch.Write(line)
		env.Metrics.BytesSent(int64(n))
		if err != nil {
			env.Dispatch(token, func(m *Miner) { m.fail(err) })
			ch.Close()
			return
		}
	}
}
