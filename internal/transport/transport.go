// Package transport provides the byte channel between a miner socket and
// its session.  A Channel is either a plaintext pass-through or a TLS
// server endpoint; the session never needs to know which beyond IsTLS.
package transport

import (
	"context"
	"net"
)

// Channel is a miner connection as seen by a session.  Reads return
// plaintext and writes accept plaintext; for TLS channels the record
// layer is applied underneath.
type Channel interface {
	net.Conn

	// Handshake completes protocol setup.  It is a no-op for plaintext
	// channels.  Errors are fatal for the connection.
	Handshake(ctx context.Context) error

	// IsTLS reports whether the channel encrypts traffic.
	IsTLS() bool

	// Security describes the negotiated protocol and cipher for logs.
	// Empty for plaintext channels or before the handshake.
	Security() string
}

// NewChannel wraps conn.  A nil tlsCtx yields a plaintext channel.
func NewChannel(conn net.Conn, tlsCtx *TLSContext) Channel {
	if tlsCtx == nil {
		return plainChannel{conn}
	}
	return tlsCtx.Server(conn)
}

// plainChannel passes bytes through unchanged.
type plainChannel struct {
	net.Conn
}

func (plainChannel) Handshake(context.Context) error { return nil }
func (plainChannel) IsTLS() bool                     { return false }
func (plainChannel) Security() string                { return "" }
