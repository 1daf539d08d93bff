// Package ndt7 implements the WebSocket/JSON-over-TLS NDT7 transfer loop
// (spec component C7): timed download/upload with quarter-second
// measurement snapshots and, on upload, periodic JSON measurement
// messages. It reuses internal/wsframe and internal/dialer directly,
// bypassing the ndt5 message codec entirely, per spec §2's dependency
// order ("C7 reuses C3/C2/C1 directly").
package ndt7

import (
	"time"

	"github.com/bassosimone/libndt/internal/dialer"
)

// Subtest names the direction being measured; its values match the last
// element of DownloadPath and UploadPath.
type Subtest string

const (
	Download Subtest = "download"
	Upload   Subtest = "upload"
)

// Subprotocol is the fixed ndt7 WebSocket subprotocol (spec §6).
const Subprotocol = "net.measurementlab.ndt.v7"

// DownloadPath and UploadPath are the fixed ndt7 URL paths (spec §6).
const (
	DownloadPath = "/ndt/v7/download"
	UploadPath   = "/ndt/v7/upload"
)

// UploadDuration is the fixed upload cap: spec §4.7 is explicit that
// upload runs for 10s regardless of MaxRuntime.
const UploadDuration = 10 * time.Second

// SampleInterval is the fixed measurement cadence (spec §4.7).
const SampleInterval = 250 * time.Millisecond

// uploadFrameSize is the size of the random binary payload that upload
// generates once and then sends continuously, each send as a freshly
// masked frame.
const uploadFrameSize = 8 * 1024

// downloadBufferSize bounds the WebSocket message buffer during download:
// a larger message fails the download (spec §4.7: "buffer 128 KiB").
const downloadBufferSize = 128 * 1024

// Config parameterizes one ndt7 run against a single already-resolved
// FQDN; unlike ndt5 there is no server-busy/FQDN-retry loop (spec
// Non-goals: no automatic failover under ndt7).
type Config struct {
	Host string
	Port uint16

	Socks5hPort  uint16
	CABundlePath string
	TLSVerifyPeer bool
	UserAgent    string

	// MeasurementID identifies this client run to the server, sent as the
	// "mid" query parameter. When empty, Run generates a fresh UUID.
	MeasurementID string

	MaxRuntime time.Duration
	Timeout    time.Duration

	// Dialer overrides the TCP connector, e.g. for a traffic-shaping CLI
	// flag or a test fixture. Nil uses a plain *net.Dialer.
	Dialer dialer.ContextDialer
}

// Reporter receives progress events from Run. Structurally compatible
// with the root package's Observer, same rationale as ndt5.Reporter.
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
