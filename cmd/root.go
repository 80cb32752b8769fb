// Package cmd wires up the CLI flags and runs the proxy.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"stratumproxy/config"
	"stratumproxy/internal/api"
	"stratumproxy/internal/core"
	errs "stratumproxy/internal/errors"
	"stratumproxy/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X stratumproxy/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// options holds flag values before they are laid over the config.
type options struct {
	configPath string
	binds      []string
	tlsBinds   []string
	mode       string
	customDiff uint64

	reuseTimeout int
	loginTimeout int
	idleTimeout  int

	maxConns      int
	proxyProtocol bool

	tlsCert, tlsKey, tlsPKCS12Pass string
	tlsDHParam, tlsCiphers         string
	tlsCipherSuites, tlsProtocols  string

	apiHost, apiToken string
	apiPort           int
	apiRestricted     bool

	retries, retryPause, donateLevel int

	verbose                int
	quiet, noColor, watch  bool
	logFile, accessLogFile string

	dryRun, showVersion, showHelp bool
}

// Execute parses args and runs the proxy until ctx is cancelled.
func Execute(ctx context.Context, args []string) error {
	var o options
	fs := newFlagSet(&o)

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if o.showHelp {
		printUsage(fs)
		return nil
	}
	if o.showVersion {
		fmt.Printf("stratum-proxy %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q (use --help for usage)", fs.Arg(0))
	}

	// ── configuration ────────────────────────────────────────────
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(fs, &o, cfg); err != nil {
		return err
	}
	cfg.Finalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	if o.dryRun {
		printSummary(os.Stdout, cfg)
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger, access, closeLogs, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLogs()

	proxy, err := core.Build(cfg, logger, core.Options{Access: access})
	if err != nil {
		return err
	}
	if cfg.API.Enabled() {
		proxy.Attach(api.New(cfg.API, proxy, version, logger))
	}
	if cfg.Watch && cfg.Path != "" {
		w, err := config.NewWatcher(cfg.Path, func(c *config.Config) {
			if err := applyFlags(fs, &o, c); err != nil {
				logger.Warn("config reload: %v", err)
				return
			}
			c.Finalize()
			proxy.Apply(c)
		}, func(err error) {
			logger.Warn("config reload: %v", err)
		})
		if err != nil {
			return err
		}
		proxy.Attach(w)
	}

	logger.Info("stratum-proxy %s, mode %s, %d listeners", version, cfg.Mode, len(cfg.Binds()))
	if len(cfg.Pools) > 0 {
		logger.Verbose("%d pools configured, handled by the upstream component", len(cfg.Pools))
	}
	return proxy.Run(ctx)
}

func newFlagSet(o *options) *flag.FlagSet {
	fs := flag.NewFlagSet("stratum-proxy", flag.ContinueOnError)

	fs.StringVarP(&o.configPath, "config", "c", "", "Load a JSON configuration file")

	// ── listeners ────────────────────────────────────────────────
	fs.StringSliceVarP(&o.binds, "bind", "b", nil, "Listen on host:port (repeatable)")
	fs.StringSliceVar(&o.tlsBinds, "tls-bind", nil, "Listen for TLS on host:port (repeatable)")
	fs.BoolVar(&o.proxyProtocol, "proxy-protocol", false, "Expect a PROXY protocol header on every connection")
	fs.IntVar(&o.maxConns, "max-connections", 0, "Reject miners beyond this many (0 = unlimited)")

	// ── miner policy ─────────────────────────────────────────────
	fs.StringVarP(&o.mode, "mode", "m", "", "Proxy mode: nicehash or simple")
	fs.Uint64Var(&o.customDiff, "custom-diff", 0, "Override pool difficulty with a lower ceiling")
	fs.IntVar(&o.reuseTimeout, "reuse-timeout", 0, "Keep idle upstreams for N seconds (simple mode)")
	fs.IntVar(&o.loginTimeout, "login-timeout", config.DefaultLoginTimeout, "Seconds a miner has to log in")
	fs.IntVar(&o.idleTimeout, "idle-timeout", config.DefaultIdleTimeout, "Seconds of silence before a miner is dropped")

	// ── TLS ──────────────────────────────────────────────────────
	fs.StringVar(&o.tlsCert, "tls-cert", "", "Certificate chain (PEM) or PKCS#12 bundle")
	fs.StringVar(&o.tlsKey, "tls-cert-key", "", "Private key (PEM)")
	fs.StringVar(&o.tlsPKCS12Pass, "tls-pkcs12-password", "", "Password of a PKCS#12 bundle")
	fs.StringVar(&o.tlsDHParam, "tls-dhparam", "", "DH parameters file")
	fs.StringVar(&o.tlsCiphers, "tls-ciphers", "", "TLS 1.2 cipher list")
	fs.StringVar(&o.tlsCipherSuites, "tls-ciphersuites", "", "TLS 1.3 cipher suites")
	fs.StringVar(&o.tlsProtocols, "tls-protocols", "", "Enabled protocols, e.g. \"TLSv1.2 TLSv1.3\"")

	// ── upstream ─────────────────────────────────────────────────
	fs.IntVarP(&o.retries, "retries", "r", config.DefaultRetries, "Listener bind attempts")
	fs.IntVarP(&o.retryPause, "retry-pause", "R", config.DefaultRetryPause, "Seconds between bind attempts")
	fs.IntVar(&o.donateLevel, "donate-level", config.DefaultDonateLevel, "Donate level passed to the upstream")

	// ── HTTP API ─────────────────────────────────────────────────
	fs.StringVar(&o.apiHost, "api-host", config.DefaultAPIHost, "Status API listen host")
	fs.IntVar(&o.apiPort, "api-port", 0, "Status API port (0 = disabled)")
	fs.StringVar(&o.apiToken, "api-access-token", "", "Bearer token required by the status API")
	fs.BoolVar(&o.apiRestricted, "api-restricted", false, "Hide miner addresses in the status API")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&o.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&o.quiet, "quiet", "q", false, "Only print errors")
	fs.BoolVar(&o.noColor, "no-color", false, "Disable colored output")
	fs.StringVarP(&o.logFile, "log-file", "l", "", "Also write the log to a file")
	fs.StringVar(&o.accessLogFile, "access-log-file", "", "Write one line per miner login and logout")
	fs.BoolVar(&o.watch, "watch", false, "Reload the config file when it changes")

	fs.BoolVar(&o.dryRun, "dry-run", false, "Validate the configuration and exit")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&o.showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }
	return fs
}

// applyFlags lays every flag the user set over cfg.
func applyFlags(fs *flag.FlagSet, o *options, cfg *config.Config) error {
	set := fs.Changed

	if set("bind") {
		binds, err := parseBinds(o.binds, config.ParseBindHost, "bind")
		if err != nil {
			return err
		}
		cfg.Bind = binds
	}
	if set("tls-bind") {
		binds, err := parseBinds(o.tlsBinds, config.ParseTLSBindHost, "tls-bind")
		if err != nil {
			return err
		}
		cfg.TLSBind = binds
	}
	if set("proxy-protocol") {
		cfg.ProxyProtocol = o.proxyProtocol
	}
	if set("max-connections") {
		cfg.MaxConnections = o.maxConns
	}

	if set("mode") {
		cfg.Mode = config.ParseMode(o.mode)
	}
	if set("custom-diff") {
		// Out of range values are ignored, as for a miner's +diff suffix.
		cfg.SetCustomDiff(o.customDiff)
	}
	if set("reuse-timeout") {
		cfg.ReuseTimeout = o.reuseTimeout
	}
	if set("login-timeout") {
		cfg.LoginTimeout = o.loginTimeout
	}
	if set("idle-timeout") {
		cfg.IdleTimeout = o.idleTimeout
	}

	strFlags := []struct {
		name string
		dst  *string
		val  string
	}{
		{"tls-cert", &cfg.TLS.Cert, o.tlsCert},
		{"tls-cert-key", &cfg.TLS.CertKey, o.tlsKey},
		{"tls-pkcs12-password", &cfg.TLS.PKCS12Password, o.tlsPKCS12Pass},
		{"tls-dhparam", &cfg.TLS.DHParam, o.tlsDHParam},
		{"tls-ciphers", &cfg.TLS.Ciphers, o.tlsCiphers},
		{"tls-ciphersuites", &cfg.TLS.CipherSuites, o.tlsCipherSuites},
		{"tls-protocols", &cfg.TLS.Protocols, o.tlsProtocols},
		{"api-host", &cfg.API.Host, o.apiHost},
		{"api-access-token", &cfg.API.AccessToken, o.apiToken},
		{"log-file", &cfg.LogFile, o.logFile},
		{"access-log-file", &cfg.AccessLogFile, o.accessLogFile},
	}
	for _, f := range strFlags {
		if set(f.name) {
			*f.dst = f.val
		}
	}

	if set("retries") {
		cfg.Retries = o.retries
	}
	if set("retry-pause") {
		cfg.RetryPause = o.retryPause
	}
	if set("donate-level") {
		cfg.DonateLevel = o.donateLevel
	}
	if set("api-port") {
		cfg.API.Port = o.apiPort
	}
	if set("api-restricted") {
		cfg.API.Restricted = o.apiRestricted
	}

	if set("verbose") {
		cfg.Verbose = min(config.Default().Verbose+o.verbose, 3)
	}
	if o.quiet {
		cfg.Verbose = 0
	}
	if o.noColor {
		cfg.Colors = false
	}
	if set("watch") {
		cfg.Watch = o.watch
	}
	return nil
}

func parseBinds(list []string, parse func(string) (config.BindHost, error), field string) ([]config.BindHost, error) {
	out := make([]config.BindHost, 0, len(list))
	for _, s := range list {
		b, err := parse(s)
		if err != nil {
			return nil, &errs.ConfigError{
				Field:   field,
				Value:   s,
				Message: err.Error(),
				Hint:    "use host:port, e.g. 0.0.0.0:3333 or [::]:3333",
			}
		}
		out = append(out, b)
	}
	return out, nil
}

// ── helpers ──────────────────────────────────────────────────────────

// setupLogging builds the main and access loggers.  The returned func
// closes any files that were opened.
func setupLogging(cfg *config.Config) (logger, access *util.Logger, closeFn func(), err error) {
	var files []io.Closer
	closeFn = func() {
		for _, f := range files {
			f.Close()
		}
	}

	logger = util.NewLogger(cfg.Verbose)
	logger.SetColors(cfg.Colors)
	logger.SetTimestamps(true)

	if cfg.LogFile != "" {
		f, err := openLog(cfg.LogFile)
		if err != nil {
			return nil, nil, closeFn, err
		}
		files = append(files, f)
		logger.AddOutput(f)
	}

	if cfg.AccessLogFile != "" {
		f, err := openLog(cfg.AccessLogFile)
		if err != nil {
			closeFn()
			return nil, nil, func() {}, err
		}
		files = append(files, f)
		access = util.NewLogger(int(util.LogNormal))
		access.SetOutput(f)
		access.SetColors(false)
		access.SetTimestamps(true)
	}
	return logger, access, closeFn, nil
}

func openLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	return f, nil
}

func printSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "mode:        %s\n", cfg.Mode)
	for _, b := range cfg.Binds() {
		kind := "plain"
		if b.TLS {
			kind = "tls"
		}
		fmt.Fprintf(w, "bind:        %s (%s)\n", b, kind)
	}
	if cfg.CustomDiff > 0 {
		fmt.Fprintf(w, "custom-diff: %d\n", cfg.CustomDiff)
	}
	fmt.Fprintf(w, "timeouts:    login %v, idle %v\n", cfg.LoginTimeoutDuration(), cfg.IdleTimeoutDuration())
	if cfg.API.Enabled() {
		fmt.Fprintf(w, "api:         %s\n", cfg.API.Addr())
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `stratum-proxy v%s

A stratum proxy that accepts many miners and shares upstream work.

Usage:
  stratum-proxy [options]

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  stratum-proxy -b 0.0.0.0:3333                        Plain listener
  stratum-proxy --tls-bind 0.0.0.0:443 --tls-cert c.p12
  stratum-proxy -c proxy.json --watch                   Live config reload
  stratum-proxy -m simple --custom-diff 5000 -vv

Every option can also be set with an SPROXY_ environment variable,
e.g. SPROXY_BIND, SPROXY_TLS_CERT, SPROXY_API_PORT.
`)
}
