//go:build linux

package ndt7

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// collectTCPInfo reads TCP_INFO off conn's underlying file descriptor.
// conn must ultimately wrap a *net.TCPConn (directly, or via *tls.Conn's
// NetConn); any other conn type yields a nil snapshot, which callers
// must treat as "unavailable" rather than an error -- spec §6 marks the
// TCPInfo subobject as present "when available".
func collectTCPInfo(conn net.Conn) *TCPInfo {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		if nc, ok := conn.(interface{ NetConn() net.Conn }); ok {
			return collectTCPInfo(nc.NetConn())
		}
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil
	}
	var (
		info *unix.TCPInfo
		cerr error
	)
	err = raw.Control(func(fd uintptr) {
		info, cerr = unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	})
	if err != nil || cerr != nil || info == nil {
		return nil
	}
	return &TCPInfo{
		TcpiState:         info.State,
		TcpiCaState:       info.Ca_state,
		TcpiRetransmits:   info.Retransmits,
		TcpiRto:           info.Rto,
		TcpiAto:           info.Ato,
		TcpiSndMss:        info.Snd_mss,
		TcpiRcvMss:        info.Rcv_mss,
		TcpiRtt:           info.Rtt,
		TcpiRttvar:        info.Rttvar,
		TcpiSndSsthresh:   info.Snd_ssthresh,
		TcpiSndCwnd:       info.Snd_cwnd,
		TcpiAdvmss:        info.Advmss,
		TcpiReordering:    info.Reordering,
		TcpiTotalRetrans:  info.Total_retrans,
		TcpiBytesAcked:    info.Bytes_acked,
		TcpiBytesReceived: info.Bytes_received,
		TcpiSegsOut:       info.Segs_out,
		TcpiSegsIn:        info.Segs_in,
		TcpiMinRtt:        info.Min_rtt,
		TcpiDeliveryRate:  info.Delivery_rate,
		TcpiBytesSent:     info.Bytes_sent,
		TcpiBytesRetrans:  info.Bytes_retrans,
	}
}
