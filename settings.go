package libndt

import (
	"context"
	"net"
	"time"
)

// ContextDialer overrides the TCP layer's connector. Satisfied by
// *net.Dialer and by internal/trafficshaping.Dialer.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SubtestFlags selects which ndt5 subtests a run should request from the
// server. Bit values match the wire nettest flags of §6.
type SubtestFlags uint8

// Subtest bits, as sent in the ndt5 login message.
const (
	SubtestMiddlebox       SubtestFlags = 1 << 0
	SubtestUpload          SubtestFlags = 1 << 1
	SubtestDownload        SubtestFlags = 1 << 2
	SubtestSimpleFirewall  SubtestFlags = 1 << 3
	SubtestStatus          SubtestFlags = 1 << 4
	SubtestMeta            SubtestFlags = 1 << 5
	SubtestUploadExt       SubtestFlags = 1 << 6
	SubtestDownloadExt     SubtestFlags = 1 << 7
)

// unimplementedSubtests are stripped from the outgoing login with a
// warning: the server-mandated middlebox/simple-firewall/upload-ext
// subtests are out of scope (spec Non-goals).
const unimplementedSubtests = SubtestMiddlebox | SubtestSimpleFirewall | SubtestUploadExt

// ProtocolFlags selects the wire protocol variant.
type ProtocolFlags uint8

// Protocol bits.
const (
	ProtocolJSON      ProtocolFlags = 1 << 0
	ProtocolTLS       ProtocolFlags = 1 << 1
	ProtocolWebSocket ProtocolFlags = 1 << 2
	ProtocolNDT7      ProtocolFlags = 1 << 3
)

// MlabnsPolicy selects how the location service should pick a server.
type MlabnsPolicy string

// Supported location-service policies.
const (
	PolicyClosest     MlabnsPolicy = "closest"
	PolicyRandom      MlabnsPolicy = "random"
	PolicyGeoOptions  MlabnsPolicy = "geo_options"
)

// Settings configures a Client. It is immutable once Run has started; the
// zero value is not usable directly, use NewSettings.
type Settings struct {
	// Hostname is the server to use. Empty means "discover one".
	Hostname string

	// Port overrides the protocol default port (3001 plaintext ndt5,
	// 3010 ndt5+TLS, 443 ndt7) when non-zero.
	Port uint16

	// MlabnsURL is the base URL of the location service.
	MlabnsURL string

	// MlabnsPolicy selects the discovery policy.
	MlabnsPolicy MlabnsPolicy

	// Timeout bounds every individual I/O wait.
	Timeout time.Duration

	// MaxRuntime bounds the wall-clock duration of one subtest.
	MaxRuntime time.Duration

	// SubtestFlags selects which ndt5 subtests to request.
	Subtests SubtestFlags

	// ProtocolFlags selects protocol variants.
	Protocol ProtocolFlags

	// Socks5hPort, if non-zero, routes all connects through
	// 127.0.0.1:Socks5hPort as a SOCKS5h proxy.
	Socks5hPort uint16

	// CABundlePath overrides the platform-default CA bundle probing.
	CABundlePath string

	// TLSVerifyPeer enables peer certificate and hostname verification.
	TLSVerifyPeer bool

	// Metadata is sent as key:value pairs during the meta subtest.
	Metadata map[string]string

	// ClientName/ClientVersion identify this client to mlabns and to the
	// WebSocket upgrade's User-Agent header.
	ClientName    string
	ClientVersion string

	// Dialer overrides the TCP connector used by every dial this client
	// makes, e.g. a traffic-shaping dialer for CLI throttling tests. Nil
	// uses a plain *net.Dialer.
	Dialer ContextDialer
}

// Defaults, per spec §3/§6.
const (
	DefaultTimeout       = 7 * time.Second
	DefaultMaxRuntime    = 14 * time.Second
	DefaultNDT5Port      = 3001
	DefaultNDT5TLSPort   = 3010
	Ndt7UploadDuration   = 10 * time.Second
	SampleInterval       = 250 * time.Millisecond
)

// NewSettings returns Settings populated with spec-mandated defaults.
func NewSettings() *Settings {
	return &Settings{
		MlabnsURL:     "https://locate.measurementlab.net/v2/nearest",
		MlabnsPolicy:  PolicyClosest,
		Timeout:       DefaultTimeout,
		MaxRuntime:    DefaultMaxRuntime,
		Subtests:      SubtestDownload | SubtestUpload,
		Protocol:      0,
		Metadata:      map[string]string{},
		ClientName:    "libndt-go",
		ClientVersion: "0.1.0",
	}
}

// Normalize applies the cross-field rules of §6's configuration table and
// returns the list of subtest bits that were stripped for being
// unimplemented (so the caller can emit one warning per bit).
func (s *Settings) Normalize() (stripped SubtestFlags) {
	s.Subtests |= SubtestStatus | SubtestMeta
	stripped = s.Subtests & unimplementedSubtests
	s.Subtests &^= unimplementedSubtests
	if s.Protocol&ProtocolNDT7 != 0 {
		s.Protocol |= ProtocolTLS | ProtocolWebSocket
	}
	if s.Subtests&SubtestDownloadExt != 0 {
		s.Protocol |= ProtocolJSON
		s.Protocol &^= ProtocolTLS | ProtocolWebSocket
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.MaxRuntime <= 0 {
		s.MaxRuntime = DefaultMaxRuntime
	}
	return stripped
}

// effectivePort returns the effective port to dial, applying protocol defaults
// when Settings.Port is unset.
func (s *Settings) effectivePort() uint16 {
	if s.Port != 0 {
		return s.Port
	}
	if s.Protocol&ProtocolNDT7 != 0 {
		return 443
	}
	if s.Protocol&ProtocolTLS != 0 {
		return DefaultNDT5TLSPort
	}
	return DefaultNDT5Port
}
