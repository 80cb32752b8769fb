package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPort is the standard stratum listen port.
	DefaultPort = 3333

	// DefaultBindV4 and DefaultBindV6 are the wildcard listen hosts used
	// when no bind is configured.
	DefaultBindV4 = "0.0.0.0"
	DefaultBindV6 = "::"

	// DefaultLoginTimeout is how long a miner may stay connected without
	// a successful login, in seconds.
	DefaultLoginTimeout = 10

	// DefaultIdleTimeout is how long a logged-in miner may stay silent,
	// in seconds.
	DefaultIdleTimeout = 600

	// DefaultRetries is how many times a listener bind is attempted.
	DefaultRetries = 5

	// DefaultRetryPause is the base pause between attempts, in seconds.
	DefaultRetryPause = 5

	// DefaultDonateLevel is reported to the upstream component only.
	DefaultDonateLevel = 2

	// DefaultAPIHost keeps the status API on loopback unless overridden.
	DefaultAPIHost = "127.0.0.1"

	// DefaultKeepAlivePeriod is the TCP keepalive interval on miner sockets.
	DefaultKeepAlivePeriod = 60 * time.Second

	// DefaultAcceptFailureThreshold is how many consecutive accept errors
	// pause a listener.
	DefaultAcceptFailureThreshold = 5

	// DefaultAcceptPause is how long a paused listener waits before
	// accepting again.
	DefaultAcceptPause = time.Second

	// DefaultGracePeriod is how long shutdown waits for writers to flush.
	DefaultGracePeriod = 5 * time.Second

	// DefaultWatchDebounce coalesces bursts of file events into one reload.
	DefaultWatchDebounce = 250 * time.Millisecond

	// EnvPrefix is prepended to every environment variable name.
	EnvPrefix = "SPROXY_"
)

// Default returns a Config populated with default values.  Binds are
// left empty; Finalize adds the dual-stack defaults when nothing else
// configures a listener.
func Default() *Config {
	return &Config{
		Mode:         ModeNiceHash,
		LoginTimeout: DefaultLoginTimeout,
		IdleTimeout:  DefaultIdleTimeout,
		Retries:      DefaultRetries,
		RetryPause:   DefaultRetryPause,
		DonateLevel:  DefaultDonateLevel,
		API:          APIConfig{Host: DefaultAPIHost},
		Verbose:      1,
		Colors:       true,
	}
}

// DefaultBinds returns the listeners used when none are configured:
// 0.0.0.0:3333 and [::]:3333, both plaintext.
func DefaultBinds() []BindHost {
	return []BindHost{
		NewBindHost(DefaultBindV4, DefaultPort, false),
		NewBindHost(DefaultBindV6, DefaultPort, false),
	}
}
