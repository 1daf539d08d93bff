//go:build !linux

package ndt7

import "net"

// collectTCPInfo has no portable implementation outside Linux; spec §6
// marks TCPInfo as present only "when available".
func collectTCPInfo(conn net.Conn) *TCPInfo {
	return nil
}
