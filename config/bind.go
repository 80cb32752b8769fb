package config

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ── Bind hosts ───────────────────────────────────────────────────────

// BindHost is one listen endpoint.  Family is 4 or 6 and decides both
// the socket family and how the address is printed.
type BindHost struct {
	Host   string `json:"host"`
	Port   uint16 `json:"port"`
	Family int    `json:"-"`
	TLS    bool   `json:"tls"`
}

// ParseBindHost parses "host:port", "[v6]:port" or "v6-with-colons:port"
// into a plaintext BindHost.
func ParseBindHost(s string) (BindHost, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return BindHost{}, fmt.Errorf("empty bind address")
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// Unbracketed IPv6 literal: the port follows the last colon.
		i := strings.LastIndexByte(s, ':')
		if i <= 0 || strings.Count(s, ":") < 2 {
			return BindHost{}, fmt.Errorf("invalid bind address %q: %w", s, err)
		}
		host, portStr = s[:i], s[i+1:]
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return BindHost{}, fmt.Errorf("invalid bind port %q in %q", portStr, s)
	}
	if host == "" {
		return BindHost{}, fmt.Errorf("bind address %q has no host", s)
	}

	return NewBindHost(host, uint16(port), false), nil
}

// ParseTLSBindHost is ParseBindHost for a TLS listener.
func ParseTLSBindHost(s string) (BindHost, error) {
	b, err := ParseBindHost(s)
	if err != nil {
		return BindHost{}, err
	}
	b.TLS = true
	return b, nil
}

// NewBindHost builds a BindHost, deriving the family from the host text.
func NewBindHost(host string, port uint16, tls bool) BindHost {
	return BindHost{Host: host, Port: port, Family: familyOf(host), TLS: tls}
}

func familyOf(host string) int {
	if strings.Contains(host, ":") {
		return 6
	}
	return 4
}

// IsValid reports whether the endpoint can be listened on.
func (b BindHost) IsValid() bool {
	return b.Host != "" && b.Port > 0 && (b.Family == 4 || b.Family == 6)
}

// IsIPv6 reports whether the endpoint is an IPv6 listener.
func (b BindHost) IsIPv6() bool { return b.Family == 6 }

// Network returns the net.Listen network for the endpoint's family.
func (b BindHost) Network() string {
	if b.IsIPv6() {
		return "tcp6"
	}
	return "tcp4"
}

// String returns the host:port form, bracketing IPv6 hosts.
func (b BindHost) String() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(int(b.Port)))
}

// UnmarshalText parses a plaintext bind address (env vars, flags).
func (b *BindHost) UnmarshalText(text []byte) error {
	parsed, err := ParseBindHost(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// MarshalText returns the host:port form.
func (b BindHost) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalJSON accepts either "host:port" or {"host":..,"port":..,"tls":..}.
func (b *BindHost) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return b.UnmarshalText([]byte(s))
	}

	var obj struct {
		Host string `json:"host"`
		Port uint16 `json:"port"`
		TLS  bool   `json:"tls"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("bind entry must be a string or an object: %w", err)
	}
	*b = NewBindHost(strings.Trim(obj.Host, "[]"), obj.Port, obj.TLS)
	if !b.IsValid() {
		return fmt.Errorf("invalid bind entry %s", string(data))
	}
	return nil
}

// MarshalJSON writes the object form so the TLS flag survives.
func (b BindHost) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Host string `json:"host"`
		Port uint16 `json:"port"`
		TLS  bool   `json:"tls"`
	}{b.Host, b.Port, b.TLS})
}

// ── Modes ────────────────────────────────────────────────────────────

// Mode selects how miners share upstream work.
type Mode int

const (
	// ModeNiceHash gives every miner a fixed nonce byte so many miners
	// can share one upstream job.
	ModeNiceHash Mode = iota
	// ModeSimple forwards jobs unchanged, one upstream per miner.
	ModeSimple
)

var modeNames = [...]string{
	ModeNiceHash: "nicehash",
	ModeSimple:   "simple",
}

// ParseMode returns the mode for name.  Names are case sensitive;
// anything but an exact match selects nicehash.
func ParseMode(name string) Mode {
	for i, n := range modeNames {
		if name == n {
			return Mode(i)
		}
	}
	return ModeNiceHash
}

// String returns the mode name.
func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return modeNames[ModeNiceHash]
	}
	return modeNames[m]
}

// UnmarshalText implements encoding.TextUnmarshaler; it never fails.
func (m *Mode) UnmarshalText(text []byte) error {
	*m = ParseMode(string(text))
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
