// Package config defines the runtime configuration for stratum-proxy and
// provides helpers for parsing bind addresses and proxy modes.
package config

import (
	"encoding/json"
	"time"

	errs "stratumproxy/internal/errors"
	"stratumproxy/internal/protocol"
	"stratumproxy/util"
)

// Config holds every tuneable for a proxy process.
type Config struct {
	// ── Listeners ────────────────────────────────────────────────────
	Bind           []BindHost `json:"bind" env:"BIND" envSeparator:","`
	TLSBind        []BindHost `json:"tls-bind" env:"TLS_BIND" envSeparator:","`
	ProxyProtocol  bool       `json:"proxy-protocol" env:"PROXY_PROTOCOL"`
	MaxConnections int        `json:"max-connections" env:"MAX_CONNECTIONS"`
	TLS            TLSConfig  `json:"tls" envPrefix:"TLS_"`

	// ── Miner policy ─────────────────────────────────────────────────
	Mode         Mode   `json:"mode" env:"MODE"`
	CustomDiff   uint64 `json:"custom-diff" env:"CUSTOM_DIFF"`
	ReuseTimeout int    `json:"reuse-timeout" env:"REUSE_TIMEOUT"` // seconds
	LoginTimeout int    `json:"login-timeout" env:"LOGIN_TIMEOUT"` // seconds
	IdleTimeout  int    `json:"idle-timeout" env:"IDLE_TIMEOUT"`   // seconds

	// ── Upstream (opaque, handed to the pool component) ──────────────
	Pools       []json.RawMessage `json:"pools"`
	Retries     int               `json:"retries" env:"RETRIES"`
	RetryPause  int               `json:"retry-pause" env:"RETRY_PAUSE"` // seconds
	DonateLevel int               `json:"donate-level" env:"DONATE_LEVEL"`

	// ── HTTP API ─────────────────────────────────────────────────────
	API APIConfig `json:"api" envPrefix:"API_"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose       int    `json:"verbose" env:"VERBOSE"`
	Colors        bool   `json:"colors" env:"COLORS"`
	LogFile       string `json:"log-file" env:"LOG_FILE"`
	AccessLogFile string `json:"access-log-file" env:"ACCESS_LOG_FILE"`
	Watch         bool   `json:"watch" env:"WATCH"`

	// Path of the file the config was loaded from, if any.
	Path string `json:"-"`
}

// TLSConfig names the key material and protocol policy for TLS binds.
// Cert may be a PEM chain or a PKCS#12 bundle (.p12, .pfx).
type TLSConfig struct {
	Cert           string `json:"cert" env:"CERT"`
	CertKey        string `json:"cert_key" env:"CERT_KEY"`
	PKCS12Password string `json:"pkcs12-password" env:"PKCS12_PASSWORD"`
	DHParam        string `json:"dhparam" env:"DHPARAM"`
	Ciphers        string `json:"ciphers" env:"CIPHERS"`
	CipherSuites   string `json:"ciphersuites" env:"CIPHERSUITES"`
	Protocols      string `json:"protocols" env:"PROTOCOLS"`
}

// Enabled reports whether any certificate is configured.
func (t TLSConfig) Enabled() bool { return t.Cert != "" }

// APIConfig controls the HTTP status API.  Port 0 disables it.  A
// restricted API omits miner addresses from worker listings.
type APIConfig struct {
	Host        string `json:"host" env:"HOST"`
	Port        int    `json:"port" env:"PORT"`
	AccessToken string `json:"access-token" env:"ACCESS_TOKEN"`
	Restricted  bool   `json:"restricted" env:"RESTRICTED"`
}

// Enabled reports whether the API listener should be started.
func (a APIConfig) Enabled() bool { return a.Port > 0 }

// Addr returns the API listen address.
func (a APIConfig) Addr() string {
	return util.FormatAddr(a.Host, a.Port)
}

// ── Derived values ───────────────────────────────────────────────────

// Binds returns every listener, plaintext first.  Valid after Finalize.
func (c *Config) Binds() []BindHost {
	out := make([]BindHost, 0, len(c.Bind)+len(c.TLSBind))
	out = append(out, c.Bind...)
	out = append(out, c.TLSBind...)
	return out
}

// IsTLS reports whether any listener terminates TLS.
func (c *Config) IsTLS() bool {
	for _, b := range c.Binds() {
		if b.TLS {
			return true
		}
	}
	return false
}

// SetCustomDiff applies a pool-wide custom difficulty.  Values outside
// [MinCustomDiff, MaxCustomDiff) are ignored and false is returned; 0
// clears the override.
func (c *Config) SetCustomDiff(v uint64) bool {
	if v != 0 && !protocol.ValidCustomDiff(v) {
		return false
	}
	c.CustomDiff = v
	return true
}

// LoginTimeoutDuration returns the login deadline.
func (c *Config) LoginTimeoutDuration() time.Duration {
	return secondsDuration(c.LoginTimeout)
}

// IdleTimeoutDuration returns the inactivity deadline.
func (c *Config) IdleTimeoutDuration() time.Duration {
	return secondsDuration(c.IdleTimeout)
}

// RetryPauseDuration returns the pause between listener bind attempts.
func (c *Config) RetryPauseDuration() time.Duration {
	return secondsDuration(c.RetryPause)
}

// ── Finalization ─────────────────────────────────────────────────────

// Finalize fills in derived defaults once every source has been applied:
// the default dual-stack listeners when none are configured, TLS marking
// of tls-bind entries, and dropping an out-of-range custom difficulty.
func (c *Config) Finalize() {
	for i := range c.TLSBind {
		c.TLSBind[i].TLS = true
	}
	if len(c.Bind) == 0 && len(c.TLSBind) == 0 {
		c.Bind = DefaultBinds()
	}
	if c.CustomDiff != 0 && !protocol.ValidCustomDiff(c.CustomDiff) {
		c.CustomDiff = 0
	}
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	for _, b := range c.Binds() {
		if !b.IsValid() {
			return &errs.ConfigError{
				Field:   bindField(b),
				Value:   b.String(),
				Message: "invalid listen address",
				Hint:    "use host:port, e.g. 0.0.0.0:3333 or [::]:3333",
			}
		}
	}

	if c.IsTLS() && !c.TLS.Enabled() {
		return &errs.ConfigError{
			Field:   "tls-cert",
			Message: errs.ErrTLSNotAvailable.Error(),
			Hint:    "pass --tls-cert and --tls-cert-key, or a .p12 bundle with --tls-cert",
		}
	}

	if c.LoginTimeout <= 0 {
		return &errs.ConfigError{Field: "login-timeout", Value: c.LoginTimeout, Message: "must be positive"}
	}
	if c.IdleTimeout <= 0 {
		return &errs.ConfigError{Field: "idle-timeout", Value: c.IdleTimeout, Message: "must be positive"}
	}
	if c.MaxConnections < 0 {
		return &errs.ConfigError{
			Field:   "max-connections",
			Value:   c.MaxConnections,
			Message: "must not be negative",
			Hint:    "use 0 for no limit",
		}
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return &errs.ConfigError{Field: "api-port", Value: c.API.Port, Message: "out of range 0-65535"}
	}
	if c.Verbose < 0 || c.Verbose > 3 {
		return &errs.ConfigError{Field: "verbose", Value: c.Verbose, Message: "out of range 0-3"}
	}

	return nil
}

func bindField(b BindHost) string {
	if b.TLS {
		return "tls-bind"
	}
	return "bind"
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
