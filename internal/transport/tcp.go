package transport

import (
	"context"
	"net"
	"time"
)

// ListenTCP opens a TCP listener on address.  Accepted connections get
// TCP keepalive with the given period (0 leaves the OS default, negative
// disables it).
func ListenTCP(ctx context.Context, network, address string, keepAlive time.Duration) (net.Listener, error) {
	lc := net.ListenConfig{KeepAlive: keepAlive}
	return lc.Listen(ctx, network, address)
}

// SetNoDelay disables Nagle's algorithm on TCP connections so short
// protocol lines go out immediately.  Other connection types are left
// alone.
func SetNoDelay(conn net.Conn) {
	for {
		switch c := conn.(type) {
		case *net.TCPConn:
			c.SetNoDelay(true) //nolint:errcheck
			return
		case interface{ Raw() net.Conn }:
			conn = c.Raw()
		default:
			return
		}
	}
}
