package libndt

import "testing"

func TestNormalizeForcesStatusAndMeta(t *testing.T) {
	s := &Settings{Subtests: SubtestDownload}
	s.Normalize()
	if s.Subtests&SubtestStatus == 0 || s.Subtests&SubtestMeta == 0 {
		t.Fatalf("status|meta must always be forced on, got %08b", s.Subtests)
	}
}

func TestNormalizeStripsUnimplementedSubtests(t *testing.T) {
	s := &Settings{Subtests: SubtestDownload | SubtestMiddlebox | SubtestSimpleFirewall | SubtestUploadExt}
	stripped := s.Normalize()
	if stripped != (SubtestMiddlebox | SubtestSimpleFirewall | SubtestUploadExt) {
		t.Fatalf("got stripped=%08b, want middlebox|simple_firewall|upload_ext", stripped)
	}
	if s.Subtests&(SubtestMiddlebox|SubtestSimpleFirewall|SubtestUploadExt) != 0 {
		t.Fatalf("stripped bits leaked into Subtests: %08b", s.Subtests)
	}
}

func TestNormalizeNDT7ImpliesTLSAndWebSocket(t *testing.T) {
	s := &Settings{Protocol: ProtocolNDT7}
	s.Normalize()
	if s.Protocol&ProtocolTLS == 0 || s.Protocol&ProtocolWebSocket == 0 {
		t.Fatalf("ndt7 must imply tls|websocket, got %08b", s.Protocol)
	}
}

func TestNormalizeDownloadExtForcesJSONDisablesTLSWebSocket(t *testing.T) {
	s := &Settings{Subtests: SubtestDownloadExt, Protocol: ProtocolTLS | ProtocolWebSocket}
	s.Normalize()
	if s.Protocol&ProtocolJSON == 0 {
		t.Fatal("download_ext must force json on")
	}
	if s.Protocol&(ProtocolTLS|ProtocolWebSocket) != 0 {
		t.Fatal("download_ext must force tls|websocket off")
	}
}

func TestNormalizeAppliesTimeoutDefaults(t *testing.T) {
	s := &Settings{}
	s.Normalize()
	if s.Timeout != DefaultTimeout {
		t.Fatalf("got Timeout=%v, want default %v", s.Timeout, DefaultTimeout)
	}
	if s.MaxRuntime != DefaultMaxRuntime {
		t.Fatalf("got MaxRuntime=%v, want default %v", s.MaxRuntime, DefaultMaxRuntime)
	}
}

func TestEffectivePortDefaults(t *testing.T) {
	cases := []struct {
		name string
		s    Settings
		want uint16
	}{
		{"plain ndt5", Settings{}, DefaultNDT5Port},
		{"ndt5 tls", Settings{Protocol: ProtocolTLS}, DefaultNDT5TLSPort},
		{"ndt7", Settings{Protocol: ProtocolNDT7}, 443},
		{"explicit override", Settings{Port: 12345, Protocol: ProtocolTLS}, 12345},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.s.effectivePort(); got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestNewSettingsDefaults(t *testing.T) {
	s := NewSettings()
	if s.Timeout != DefaultTimeout || s.MaxRuntime != DefaultMaxRuntime {
		t.Fatal("NewSettings must populate the spec-mandated defaults")
	}
	if s.MlabnsPolicy != PolicyClosest {
		t.Fatalf("got default policy %q, want %q", s.MlabnsPolicy, PolicyClosest)
	}
}
