package util

import (
	"errors"
	"io"
	"net"
)

// DefaultBufSize is the read buffer size for miner connections (16 KiB).
// One read may carry several protocol lines.
const DefaultBufSize = 16 * 1024

// IsClosedConn reports whether err is the normal result of a peer hanging
// up or of the local side closing the socket.  Such errors are logged at
// debug level only.
func IsClosedConn(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
