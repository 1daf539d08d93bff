// Package dialer implements the composable connect stack of spec §4.2
// (C2): plain TCP (optionally through a SOCKS5h proxy), then TLS, then a
// WebSocket upgrade, each layer a no-op unless enabled. Layers are applied
// in that fixed order regardless of which ones are active, mirroring the
// decorator-chain dialer composition used throughout the corpus (e.g.
// ooni-probe-cli's netx/dialer.New, which wraps a base Dialer with a
// resolver, logger and saver layers one on top of the other).
package dialer

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"
)

// Config describes one dial: the target host/port and which optional
// layers to apply.
type Config struct {
	Host string
	Port uint16

	// Socks5hPort, if non-zero, routes the TCP layer through
	// 127.0.0.1:Socks5hPort using SOCKS5h (hostname resolution delegated
	// to the proxy).
	Socks5hPort uint16

	// UseTLS enables the TLS layer.
	UseTLS       bool
	TLSVerifyPeer bool
	CABundlePath string

	// UseWebSocket enables the HTTP upgrade layer.
	UseWebSocket    bool
	URLPath         string
	SecWSProtocol   string
	UserAgent       string

	// Timeout is one deadline for the whole Stack call, not one per step.
	// It bounds the TCP connect (to the target or to the SOCKS5h proxy)
	// and the TLS handshake; the SOCKS5h exchange and the WebSocket
	// upgrade request/response do not observe it.
	Timeout time.Duration

	// Dialer overrides the TCP layer's connector, e.g. with a
	// traffic-shaping or test fixture dialer. Unused when Socks5hPort is
	// set (the SOCKS5h layer owns its own TCP connect to the proxy). A
	// nil Dialer uses a plain *net.Dialer.
	Dialer ContextDialer
}

// ContextDialer is satisfied by *net.Dialer and by
// internal/trafficshaping.Dialer alike.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Stack dials according to Config, composing the TCP/SOCKS5h/TLS/WS-upgrade
// layers. It returns the raw net.Conn ready for either the ndt5 codec
// (wrapped in wsframe.Conn when UseWebSocket) or the ndt7 driver.
func Stack(ctx context.Context, cfg *Config) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	conn, err := dialTCP(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.UseTLS {
		tlsConn, err := handshakeTLS(ctx, conn, cfg)
		if err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	if cfg.UseWebSocket {
		wsConn, err := upgradeWebSocket(ctx, conn, cfg)
		if err != nil {
			conn.Close()
			return nil, err
		}
		conn = wsConn
	}

	return conn, nil
}

func dialTCP(ctx context.Context, cfg *Config) (net.Conn, error) {
	addr := net.JoinHostPort(cfg.Host, portString(cfg.Port))
	if cfg.Socks5hPort != 0 {
		return dialSocks5h(ctx, cfg)
	}
	// net.Dialer.DialContext resolves cfg.Host (numeric form first, then
	// DNS) and tries each candidate address in turn, stopping at first
	// success -- this is exactly the resolve-then-iterate behavior spec
	// §4.2 describes for the TCP layer; the Go runtime's dialer already
	// implements it, so C1's "list of addresses" loop is not hand-rolled
	// here.
	d := cfg.Dialer
	if d == nil {
		d = &net.Dialer{}
	}
	return d.DialContext(ctx, "tcp", addr)
}

func portString(p uint16) string {
	return strconv.Itoa(int(p))
}

// tlsConfig builds the *tls.Config for a handshake, resolving the CA
// bundle per spec §4.2.
func tlsConfig(cfg *Config) (*tls.Config, error) {
	tc := &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: !cfg.TLSVerifyPeer,
	}
	if !cfg.TLSVerifyPeer {
		return tc, nil
	}
	pool, err := loadCABundle(cfg.CABundlePath)
	if err != nil {
		return nil, err
	}
	tc.RootCAs = pool
	return tc, nil
}
