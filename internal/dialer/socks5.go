package dialer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
)

// socks5Version is the only SOCKS protocol version this client speaks.
const socks5Version = 0x05

// ErrSocks5 wraps a SOCKS5h protocol violation. Unlike a transport-level
// failure, this is never retried: §7 classifies socks5h errors as a
// non-retryable protocol policy error. Exported so the root package's
// ClassifyError can recognize it via errors.Is.
var ErrSocks5 = errors.New("socks5h: protocol error")

func socks5Error(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrSocks5, fmt.Sprintf(format, args...))
}

// dialSocks5h connects to 127.0.0.1:cfg.Socks5hPort and tunnels a CONNECT
// to cfg.Host:cfg.Port, per RFC 1928, no-auth only, ATYPE=domainname (so
// that DNS resolution happens at the proxy -- the "h" in SOCKS5h).
func dialSocks5h(ctx context.Context, cfg *Config) (net.Conn, error) {
	if len(cfg.Host) > 255 {
		return nil, socks5Error("hostname too long for domainname ATYPE: %d bytes", len(cfg.Host))
	}
	proxyAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(cfg.Socks5hPort)))
	d := &net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, err
	}
	if err := socks5Handshake(conn, cfg.Host, cfg.Port); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func socks5Handshake(conn net.Conn, host string, port uint16) error {
	// Greeting: version, 1 method, no-auth (0x00).
	if _, err := conn.Write([]byte{socks5Version, 0x01, 0x00}); err != nil {
		return err
	}
	var reply [2]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		return err
	}
	if reply[0] != socks5Version {
		return socks5Error("unexpected version in method-selection reply: 0x%02x", reply[0])
	}
	if reply[1] != 0x00 {
		return socks5Error("proxy rejected no-auth method selection: 0x%02x", reply[1])
	}

	// CONNECT request with ATYPE=domainname.
	req := []byte{socks5Version, 0x01, 0x00, 0x03, byte(len(host))}
	req = append(req, []byte(host)...)
	var portBytes [2]byte
	portBytes[0] = byte(port >> 8)
	portBytes[1] = byte(port)
	req = append(req, portBytes[:]...)
	if _, err := conn.Write(req); err != nil {
		return err
	}

	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return err
	}
	if hdr[0] != socks5Version {
		return socks5Error("unexpected version in CONNECT reply: 0x%02x", hdr[0])
	}
	if hdr[1] != 0x00 {
		return socks5Error("CONNECT failed with reply code 0x%02x", hdr[1])
	}
	if hdr[2] != 0x00 {
		return socks5Error("nonzero reserved byte in CONNECT reply: 0x%02x", hdr[2])
	}
	// Drain the bound address per the ATYPE of the reply.
	switch hdr[3] {
	case 0x01: // IPv4
		var addr [4]byte
		if _, err := io.ReadFull(conn, addr[:]); err != nil {
			return err
		}
	case 0x04: // IPv6
		var addr [16]byte
		if _, err := io.ReadFull(conn, addr[:]); err != nil {
			return err
		}
	case 0x03: // domainname
		var l [1]byte
		if _, err := io.ReadFull(conn, l[:]); err != nil {
			return err
		}
		name := make([]byte, l[0])
		if _, err := io.ReadFull(conn, name); err != nil {
			return err
		}
	default:
		return socks5Error("unexpected ATYPE in CONNECT reply: 0x%02x", hdr[3])
	}
	var boundPort [2]byte
	if _, err := io.ReadFull(conn, boundPort[:]); err != nil {
		return err
	}
	return nil
}
