// Package libndt implements the client side of the Network Diagnostic Tool
// (NDT) measurement protocol, supporting both the legacy message-framed
// ndt5 protocol and the WebSocket/JSON-over-TLS ndt7 protocol.
//
// A Client discovers a nearby measurement server (unless a hostname is
// given explicitly), connects to it, and runs the subtests selected by
// Settings. Progress, results, and errors are surfaced through the
// Observer interface rather than returned synchronously, because a run
// may emit many events (periodic speed samples, web100/TCPInfo key-value
// pairs, warnings) over its lifetime.
package libndt
