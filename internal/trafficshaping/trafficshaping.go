// Package trafficshaping provides a ContextDialer that rate-limits every
// connection it opens, used by cmd/ndt-client's -throttle flag. It plugs in wherever libndt.Settings.Dialer
// does -- the control connection, every ndt5 flow socket, and the single
// ndt7 WebSocket connection alike all go through the same shaped dialer,
// since Settings.Dialer is applied once at the TCP layer of
// internal/dialer.Stack regardless of which protocol is driving it.
package trafficshaping

import (
	"context"
	"net"

	"github.com/google/martian/v3/trafficshape"
)

// defaultBitrate is the throttle applied when no explicit rate is given.
const defaultBitrate = 1 << 20

// Dialer is a ContextDialer that shapes every connection it opens to a
// fixed read and write bitrate.
type Dialer struct {
	readBitrate  int64
	writeBitrate int64
	dialer       *net.Dialer
}

// NewDialerWithBitrates returns a Dialer throttled independently on read
// and write, useful for simulating an asymmetric link (e.g. typical
// residential upload/download imbalance) during manual testing.
func NewDialerWithBitrates(readBitrate, writeBitrate int64) *Dialer {
	return &Dialer{readBitrate: readBitrate, writeBitrate: writeBitrate, dialer: new(net.Dialer)}
}

// NewDialerWithBitrate returns a Dialer throttled to the same bitrate in
// both directions.
func NewDialerWithBitrate(bitrate int64) *Dialer {
	return NewDialerWithBitrates(bitrate, bitrate)
}

// NewDialer returns a Dialer throttled to the default bitrate.
func NewDialer() *Dialer {
	return NewDialerWithBitrate(defaultBitrate)
}

// Dial dials a shaped network connection.
func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

// DialContext is like Dial but with a context, satisfying
// libndt.ContextDialer.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := d.dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	listener := trafficshape.NewListener(new(net.TCPListener))
	listener.SetReadBitrate(d.readBitrate)
	listener.SetWriteBitrate(d.writeBitrate)
	return listener.GetTrafficShapedConn(conn), nil
}
