package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pkcs12"

	"stratumproxy/config"
	errs "stratumproxy/internal/errors"
	"stratumproxy/util"
)

// TLSContext holds the server key material and protocol policy shared
// by every TLS listener.  It is immutable after construction.
type TLSContext struct {
	config *tls.Config
}

// NewTLSContext loads the certificate described by cfg and applies its
// protocol and cipher restrictions.  Returns ErrTLSNotAvailable when no
// certificate is configured.
func NewTLSContext(cfg config.TLSConfig, log *util.Logger) (*TLSContext, error) {
	if !cfg.Enabled() {
		return nil, errs.ErrTLSNotAvailable
	}
	if log == nil {
		log = util.NewLogger(0)
	}

	cert, err := loadCertificate(cfg)
	if err != nil {
		return nil, errs.WrapTLS("load", "", err)
	}

	tc := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.Protocols != "" {
		lo, hi, err := ParseProtocols(cfg.Protocols)
		if err != nil {
			return nil, errs.WrapTLS("load", "", err)
		}
		tc.MinVersion, tc.MaxVersion = lo, hi
	}

	if cfg.Ciphers != "" {
		ids, err := ParseCiphers(cfg.Ciphers)
		if err != nil {
			return nil, errs.WrapTLS("load", "", err)
		}
		tc.CipherSuites = ids
	}

	if cfg.CipherSuites != "" {
		if err := checkTLS13Suites(cfg.CipherSuites); err != nil {
			return nil, errs.WrapTLS("load", "", err)
		}
		log.Verbose("tls: TLS 1.3 cipher suites are fixed by the runtime, %q accepted as a hint", cfg.CipherSuites)
	}

	if cfg.DHParam != "" {
		log.Warn("tls: dhparam %s ignored, DHE key exchange is not supported (ECDHE is used)", cfg.DHParam)
	}

	return &TLSContext{config: tc}, nil
}

// Server wraps conn in a server-side TLS channel.  No bytes are exchanged
// until Handshake or the first Read/Write.
func (c *TLSContext) Server(conn net.Conn) Channel {
	return &tlsChannel{Conn: tls.Server(conn, c.config), addr: addrString(conn.RemoteAddr())}
}

// Config returns a copy of the underlying tls.Config.
func (c *TLSContext) Config() *tls.Config { return c.config.Clone() }

// ── Key material ─────────────────────────────────────────────────────

func loadCertificate(cfg config.TLSConfig) (tls.Certificate, error) {
	switch strings.ToLower(filepath.Ext(cfg.Cert)) {
	case ".p12", ".pfx":
		return loadPKCS12(cfg.Cert, cfg.PKCS12Password)
	}
	if cfg.CertKey == "" {
		return tls.Certificate{}, fmt.Errorf("certificate %s has no private key (set cert_key)", cfg.Cert)
	}
	cert, err := tls.LoadX509KeyPair(cfg.Cert, cfg.CertKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load key pair: %w", err)
	}
	return cert, nil
}

func loadPKCS12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read bundle: %w", err)
	}
	key, leaf, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// ── Protocol and cipher policy ───────────────────────────────────────

var protocolVersions = map[string]uint16{
	"tlsv1":   tls.VersionTLS10,
	"tlsv1.0": tls.VersionTLS10,
	"tlsv1.1": tls.VersionTLS11,
	"tlsv1.2": tls.VersionTLS12,
	"tlsv1.3": tls.VersionTLS13,
}

// ParseProtocols turns a list such as "TLSv1.2 TLSv1.3" into the lowest
// and highest enabled versions.
func ParseProtocols(list string) (lo, hi uint16, err error) {
	for _, name := range splitList(list) {
		v, ok := protocolVersions[strings.ToLower(name)]
		if !ok {
			return 0, 0, fmt.Errorf("unknown TLS protocol %q", name)
		}
		if lo == 0 || v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == 0 {
		return 0, 0, fmt.Errorf("empty TLS protocol list")
	}
	return lo, hi, nil
}

// openSSLCiphers maps the OpenSSL spelling of common TLS 1.2 suites to
// their IANA names.
var openSSLCiphers = map[string]string{
	"ECDHE-ECDSA-AES128-GCM-SHA256": "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256",
	"ECDHE-RSA-AES128-GCM-SHA256":   "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
	"ECDHE-ECDSA-AES256-GCM-SHA384": "TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384",
	"ECDHE-RSA-AES256-GCM-SHA384":   "TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384",
	"ECDHE-ECDSA-CHACHA20-POLY1305": "TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256",
	"ECDHE-RSA-CHACHA20-POLY1305":   "TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256",
	"ECDHE-ECDSA-AES128-SHA":        "TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA",
	"ECDHE-RSA-AES128-SHA":          "TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA",
	"ECDHE-ECDSA-AES256-SHA":        "TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA",
	"ECDHE-RSA-AES256-SHA":          "TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA",
	"AES128-GCM-SHA256":             "TLS_RSA_WITH_AES_128_GCM_SHA256",
	"AES256-GCM-SHA384":             "TLS_RSA_WITH_AES_256_GCM_SHA384",
}

// ParseCiphers turns a colon, comma or space separated cipher list into
// suite ids.  Both OpenSSL and IANA names are accepted.
func ParseCiphers(list string) ([]uint16, error) {
	known := map[string]uint16{}
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}
	for _, s := range tls.InsecureCipherSuites() {
		known[s.Name] = s.ID
	}

	var ids []uint16
	for _, name := range splitList(list) {
		if iana, ok := openSSLCiphers[strings.ToUpper(name)]; ok {
			name = iana
		}
		id, ok := known[strings.ToUpper(name)]
		if !ok {
			return nil, fmt.Errorf("unknown cipher %q", name)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty cipher list")
	}
	return ids, nil
}

var tls13Suites = map[string]bool{
	"TLS_AES_128_GCM_SHA256":       true,
	"TLS_AES_256_GCM_SHA384":       true,
	"TLS_CHACHA20_POLY1305_SHA256": true,
}

func checkTLS13Suites(list string) error {
	for _, name := range splitList(list) {
		if !tls13Suites[strings.ToUpper(name)] {
			return fmt.Errorf("unknown TLS 1.3 cipher suite %q", name)
		}
	}
	return nil
}

func splitList(list string) []string {
	return strings.FieldsFunc(list, func(r rune) bool {
		return r == ':' || r == ',' || r == ' ' || r == '\t'
	})
}

// ── Channel ──────────────────────────────────────────────────────────

// tlsChannel is a server-side TLS endpoint.  Handshake, read and write
// failures surface as *errors.TLSError, except for clean closes which
// are passed through so callers can tell a hang-up from a fault.
type tlsChannel struct {
	*tls.Conn
	addr string
}

func (c *tlsChannel) Handshake(ctx context.Context) error {
	if err := c.Conn.HandshakeContext(ctx); err != nil {
		return errs.WrapTLS("handshake", c.addr, err)
	}
	return nil
}

func (c *tlsChannel) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if err != nil && !util.IsClosedConn(err) {
		err = errs.WrapTLS("read", c.addr, err)
	}
	return n, err
}

func (c *tlsChannel) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if err != nil && !util.IsClosedConn(err) {
		err = errs.WrapTLS("write", c.addr, err)
	}
	return n, err
}

func (c *tlsChannel) IsTLS() bool { return true }

func (c *tlsChannel) Security() string {
	st := c.Conn.ConnectionState()
	if !st.HandshakeComplete {
		return ""
	}
	return tls.VersionName(st.Version) + " " + tls.CipherSuiteName(st.CipherSuite)
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
