package dialer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"os"
)

// ErrInvalidCABundle is returned when no usable CA bundle could be found
// or parsed. Kept local to this package (rather than imported from the
// root libndt package) to avoid a dependency cycle; the root package
// recognizes it via errors.Is when classifying dial failures.
var ErrInvalidCABundle = errors.New("dialer: invalid or missing CA bundle")

// caBundleCandidates lists the well-known system CA bundle locations that
// different distros populate, searched in order when cfg.CABundlePath is
// empty. Mirrors the probing Go's own crypto/x509 does internally on Unix.
// The path that is chosen is not reported to the caller or the observer.
var caBundleCandidates = []string{
	"/etc/ssl/cert.pem",
	"/etc/ssl/certs/ca-certificates.crt",
	"/etc/pki/tls/certs/ca-bundle.crt",
}

// loadCABundle returns a cert pool built from path, or -- if path is empty
// -- the first readable candidate in caBundleCandidates. It never falls
// back to the Go runtime's implicit system pool, so verification only
// ever uses the bundle at path or one from that list.
func loadCABundle(path string) (*x509.CertPool, error) {
	if path == "" {
		for _, candidate := range caBundleCandidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return nil, ErrInvalidCABundle
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, ErrInvalidCABundle
	}
	return pool, nil
}

// handshakeTLS performs the TLS layer of spec §4.2's C2 dial stack over an
// already-connected conn.
func handshakeTLS(ctx context.Context, conn net.Conn, cfg *Config) (net.Conn, error) {
	tc, err := tlsConfig(cfg)
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Client(conn, tc)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}
