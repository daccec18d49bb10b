package netstack

import (
	"crypto/tls"
	"net"
	"strings"
)

// clientConfig enforces TLS 1.3 and derives the server name from addr
// when the caller left it empty.
func clientConfig(addr string, cfg *tls.Config) *tls.Config {
	if cfg == nil {
		cfg = &tls.Config{}
	}
	cfg = cfg.Clone()
	if cfg.MinVersion < tls.VersionTLS13 {
		cfg.MinVersion = tls.VersionTLS13
	}
	if cfg.ServerName == "" {
		host := addr
		if h, _, err := net.SplitHostPort(addr); err == nil {
			host = h
		}
		cfg.ServerName = strings.Trim(host, "[]")
	}
	return cfg
}

// TLSServer wraps ln with TLS, raising the minimum version to 1.3.
func TLSServer(ln net.Listener, cfg *tls.Config) net.Listener {
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.MinVersion < tls.VersionTLS13 {
		cfg = cfg.Clone()
		cfg.MinVersion = tls.VersionTLS13
	}
	return tls.NewListener(ln, cfg)
}
