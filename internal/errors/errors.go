// Package errors provides domain-specific error types for the proxy.
//
// These types carry structured context (operation, address, request id)
// that lets the session state machine decide whether a failure is fatal
// for one connection, answerable with an error reply, or ignorable.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrSessionClosed   = errors.New("session is closed")
	ErrLoopStopped     = errors.New("event loop stopped")
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTimeout         = errors.New("operation timed out")
	ErrTooManyMiners   = errors.New("connection limit reached")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrTLSNotAvailable = errors.New("TLS bind requested but no certificate is configured")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a socket operation.
type NetworkError struct {
	Op        string // operation: "listen", "accept", "read", "write"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TLSError represents a TLS failure: loading key material, the handshake
// or a record-layer error.  It is always fatal for the connection.
type TLSError struct {
	Op   string // "load", "handshake", "record"
	Addr string
	Err  error
}

func (e *TLSError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("tls %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("tls %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TLSError) Unwrap() error { return e.Err }

// ProtocolError is a request-level failure that is answered with an error
// reply carrying Message.  Fatal marks the errors that also close the
// session (login failures).
type ProtocolError struct {
	ID      int64
	Message string
	Fatal   bool
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("request %d: %s", e.ID, e.Message)
}

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapTLS creates a TLSError.
func WrapTLS(op, addr string, err error) *TLSError {
	return &TLSError{Op: op, Addr: addr, Err: err}
}

// Reject creates a recoverable ProtocolError.
func Reject(id int64, message string) *ProtocolError {
	return &ProtocolError{ID: id, Message: message}
}

// RejectFatal creates a ProtocolError that also closes the session.
func RejectFatal(id int64, message string) *ProtocolError {
	return &ProtocolError{ID: id, Message: message, Fatal: true}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsFatal reports whether err must close the session it occurred on:
// every transport and TLS error, and fatal protocol errors.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Fatal
	}
	return true
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	// net.OpError with Temporary() hint
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	// DNS errors
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use stratumproxy/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }
