package ndt7

import "time"

// TCPInfo carries a platform socket-statistics snapshot, serialized
// verbatim as the "TCPInfo" subobject of the upload measurement JSON
// (spec §6). Field names match the wire names exactly (Tcpi-prefixed) so
// json.Marshal needs no tag remapping.
type TCPInfo struct {
	ElapsedTime int64 `json:"ElapsedTime"`

	TcpiState         uint8  `json:"TcpiState"`
	TcpiCaState       uint8  `json:"TcpiCaState"`
	TcpiRetransmits   uint8  `json:"TcpiRetransmits"`
	TcpiRto           uint32 `json:"TcpiRto"`
	TcpiAto           uint32 `json:"TcpiAto"`
	TcpiSndMss        uint32 `json:"TcpiSndMss"`
	TcpiRcvMss        uint32 `json:"TcpiRcvMss"`
	TcpiRtt           uint32 `json:"TcpiRtt"`
	TcpiRttvar        uint32 `json:"TcpiRttvar"`
	TcpiSndSsthresh   uint32 `json:"TcpiSndSsthresh"`
	TcpiSndCwnd       uint32 `json:"TcpiSndCwnd"`
	TcpiAdvmss        uint32 `json:"TcpiAdvmss"`
	TcpiReordering    uint32 `json:"TcpiReordering"`
	TcpiTotalRetrans  uint32 `json:"TcpiTotalRetrans"`
	TcpiBytesAcked    uint64 `json:"TcpiBytesAcked"`
	TcpiBytesReceived uint64 `json:"TcpiBytesReceived"`
	TcpiSegsOut       uint32 `json:"TcpiSegsOut"`
	TcpiSegsIn        uint32 `json:"TcpiSegsIn"`
	TcpiMinRtt        uint32 `json:"TcpiMinRtt"`
	TcpiDeliveryRate  uint64 `json:"TcpiDeliveryRate"`
	TcpiBytesSent     uint64 `json:"TcpiBytesSent"`
	TcpiBytesRetrans  uint64 `json:"TcpiBytesRetrans"`
}

// AppInfo carries application-level counters, the sibling of TCPInfo in
// the upload measurement JSON.
type AppInfo struct {
	ElapsedTime int64 `json:"ElapsedTime"`
	NumBytes    int64 `json:"NumBytes"`
}

// Measurement is one upload-side measurement message (spec §4.7/§6).
type Measurement struct {
	AppInfo AppInfo  `json:"AppInfo"`
	TCPInfo *TCPInfo `json:"TCPInfo,omitempty"`
}

func newAppInfo(elapsed time.Duration, numBytes int64) AppInfo {
	return AppInfo{ElapsedTime: elapsed.Microseconds(), NumBytes: numBytes}
}
