// Package ndt5 implements the legacy message-framed NDT control/measurement
// protocol (spec components C4 and C5): a 3-byte-header message codec,
// optionally wrapped in WebSocket framing or a JSON envelope, driving a
// multi-phase login/kickoff/queue/test state machine. Grounded on the
// teacher's controlconn.go/protocol.go state-machine shape; a single codec
// type hides whether the stream is raw TCP or WebSocket-upgraded, so the
// same driver logic runs over either.
package ndt5

import (
	"time"

	"github.com/bassosimone/libndt/internal/dialer"
)

// SubtestFlags mirrors the wire nettest flag bitset (spec §6). Kept as an
// independent type (rather than importing the root package's) to avoid an
// import cycle -- libndt.Client converts its own Settings.Subtests into
// this type when constructing a Config.
type SubtestFlags uint8

const (
	SubtestMiddlebox      SubtestFlags = 1 << 0
	SubtestUpload         SubtestFlags = 1 << 1
	SubtestDownload       SubtestFlags = 1 << 2
	SubtestSimpleFirewall SubtestFlags = 1 << 3
	SubtestStatus         SubtestFlags = 1 << 4
	SubtestMeta           SubtestFlags = 1 << 5
	SubtestUploadExt      SubtestFlags = 1 << 6
	SubtestDownloadExt    SubtestFlags = 1 << 7
)

// Config parameterizes one ndt5 run against a single already-resolved FQDN.
// The caller (the root Client) owns discovery and FQDN-retry looping;
// this package owns everything from "dial this host" onward.
type Config struct {
	Host string
	Port uint16

	Socks5hPort  uint16
	UseTLS       bool
	TLSVerifyPeer bool
	CABundlePath string
	UseWebSocket bool
	UserAgent    string

	JSON bool

	Subtests SubtestFlags
	Metadata map[string]string

	Timeout    time.Duration
	MaxRuntime time.Duration

	// Dialer overrides the TCP connector, e.g. for a traffic-shaping CLI
	// flag or a test fixture. Nil uses a plain *net.Dialer.
	Dialer dialer.ContextDialer
}

// Reporter receives progress events from Run. Its method set is a
// structural subset of the root package's Observer interface: anything
// that satisfies Observer (including the root package's internal
// serializing wrapper) already satisfies Reporter, with no adapter code.
type Reporter interface {
	OnWarning(err error)
	OnInfo(message string)
	OnDebug(message string)
	OnResult(scope, name, value string)
	OnPerformance(subtest string, nflows int, bytes int64, elapsed, maxRuntime time.Duration)
	OnServerBusy(reason string)
}

// NopReporter discards every event; useful in tests.
type NopReporter struct{}

func (NopReporter) OnWarning(error)                                               {}
func (NopReporter) OnInfo(string)                                                 {}
func (NopReporter) OnDebug(string)                                                {}
func (NopReporter) OnResult(string, string, string)                              {}
func (NopReporter) OnPerformance(string, int, int64, time.Duration, time.Duration) {}
func (NopReporter) OnServerBusy(string)                                          {}
