package dialer

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
)

// websocketGUID is the fixed GUID RFC 6455 §1.3 uses to derive
// Sec-WebSocket-Accept from the client's nonce.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// maxUpgradeLineLength and maxUpgradeHeaders bound the response this
// client is willing to parse, per spec §4.2's limits on the handshake
// reply (protecting against a misbehaving or malicious server).
const (
	maxUpgradeLineLength = 8000
	maxUpgradeHeaders    = 1000
)

var (
	ErrUpgradeStatus      = errors.New("dialer: server did not return 101 Switching Protocols")
	ErrUpgradeMissingHdr  = errors.New("dialer: upgrade response missing a required header")
	ErrUpgradeBadAccept   = errors.New("dialer: Sec-WebSocket-Accept does not match the request nonce")
	ErrUpgradeTooManyHdrs = errors.New("dialer: upgrade response has too many header lines")
	ErrUpgradeLineTooLong = errors.New("dialer: upgrade response line exceeds the length limit")
)

// upgradeWebSocket performs the client side of the RFC 6455 §4.1 HTTP/1.1
// upgrade handshake over conn, which must already be a connected
// (optionally TLS) stream. On success conn is left positioned right after
// the response headers, ready for WebSocket framing.
func upgradeWebSocket(ctx context.Context, conn net.Conn, cfg *Config) (net.Conn, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	if err := writeUpgradeRequest(conn, cfg, nonce); err != nil {
		return nil, err
	}
	return readUpgradeResponse(conn, cfg, nonce)
}

func newNonce() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw[:]), nil
}

func acceptKey(nonce string) string {
	h := sha1.New()
	h.Write([]byte(nonce))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func writeUpgradeRequest(conn net.Conn, cfg *Config, nonce string) error {
	path := cfg.URLPath
	if path == "" {
		path = "/"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", cfg.Host)
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Key: %s\r\n", nonce)
	b.WriteString("Sec-WebSocket-Version: 13\r\n")
	if cfg.SecWSProtocol != "" {
		fmt.Fprintf(&b, "Sec-WebSocket-Protocol: %s\r\n", cfg.SecWSProtocol)
	}
	if cfg.UserAgent != "" {
		fmt.Fprintf(&b, "User-Agent: %s\r\n", cfg.UserAgent)
	}
	b.WriteString("\r\n")
	_, err := conn.Write([]byte(b.String()))
	return err
}

// readUpgradeResponse parses the HTTP/1.1 response headers from conn and,
// on success, returns a net.Conn that first drains whatever bytes the
// buffered reader already pulled past the header boundary before falling
// through to conn -- otherwise any frame bytes the server pipelined
// immediately after the 101 response would be silently lost. Validates all
// four headers spec §4.2 requires: Upgrade, Connection, Sec-WebSocket-Accept
// and, when cfg.SecWSProtocol was sent, the matching Sec-WebSocket-Protocol.
func readUpgradeResponse(conn net.Conn, cfg *Config, nonce string) (net.Conn, error) {
	br := bufio.NewReaderSize(conn, maxUpgradeLineLength)
	tp := textproto.NewReader(br)

	statusLine, err := readBoundedLine(tp)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(statusLine, " 101 ") {
		return nil, ErrUpgradeStatus
	}

	hdr, err := readBoundedHeaders(tp)
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(hdr.Get("Upgrade"), "websocket") {
		return nil, ErrUpgradeMissingHdr
	}
	if !strings.EqualFold(hdr.Get("Connection"), "upgrade") {
		return nil, ErrUpgradeMissingHdr
	}
	accept := hdr.Get("Sec-WebSocket-Accept")
	if accept == "" {
		return nil, ErrUpgradeMissingHdr
	}
	if accept != acceptKey(nonce) {
		return nil, ErrUpgradeBadAccept
	}
	if cfg.SecWSProtocol != "" && hdr.Get("Sec-WebSocket-Protocol") != cfg.SecWSProtocol {
		return nil, ErrUpgradeMissingHdr
	}

	if br.Buffered() == 0 {
		return conn, nil
	}
	leftover := make([]byte, br.Buffered())
	if _, err := br.Read(leftover); err != nil {
		return nil, err
	}
	return &prefixedConn{Conn: conn, prefix: leftover}, nil
}

// prefixedConn is a net.Conn whose first reads are served from a buffered
// prefix before falling through to the embedded connection.
type prefixedConn struct {
	net.Conn
	prefix []byte
}

func (c *prefixedConn) Read(p []byte) (int, error) {
	if len(c.prefix) == 0 {
		return c.Conn.Read(p)
	}
	n := copy(p, c.prefix)
	c.prefix = c.prefix[n:]
	return n, nil
}

func readBoundedLine(tp *textproto.Reader) (string, error) {
	line, err := tp.ReadLine()
	if err != nil {
		return "", err
	}
	if len(line) > maxUpgradeLineLength {
		return "", ErrUpgradeLineTooLong
	}
	return line, nil
}

func readBoundedHeaders(tp *textproto.Reader) (textproto.MIMEHeader, error) {
	hdr := make(textproto.MIMEHeader)
	for i := 0; ; i++ {
		if i >= maxUpgradeHeaders {
			return nil, ErrUpgradeTooManyHdrs
		}
		line, err := readBoundedLine(tp)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return hdr, nil
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, ErrUpgradeMissingHdr
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		hdr.Add(key, val)
	}
}
