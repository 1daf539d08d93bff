package ndt7

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/bassosimone/libndt/internal/dialer"
	"github.com/bassosimone/libndt/internal/wsframe"
)

// Run dials and executes subtest (Download or Upload) against
// cfg.Host/cfg.Port, reporting progress and results through rep.
func Run(ctx context.Context, subtest Subtest, cfg Config, rep Reporter) error {
	if rep == nil {
		rep = NopReporter{}
	}
	if cfg.MeasurementID == "" {
		cfg.MeasurementID = uuid.NewString()
	}

	path := DownloadPath
	if subtest == Upload {
		path = UploadPath
	}

	conn, err := dial(ctx, cfg, path)
	if err != nil {
		return err
	}
	defer conn.Close()
	ws := wsframe.NewConn(conn)

	switch subtest {
	case Download:
		return runDownload(ctx, cfg, conn, ws, rep)
	case Upload:
		return runUpload(ctx, cfg, conn, ws, rep)
	default:
		return fmt.Errorf("ndt7: unknown subtest %q", subtest)
	}
}

func dial(ctx context.Context, cfg Config, path string) (net.Conn, error) {
	dc := &dialer.Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Socks5hPort:   cfg.Socks5hPort,
		UseTLS:        true,
		TLSVerifyPeer: cfg.TLSVerifyPeer,
		CABundlePath:  cfg.CABundlePath,
		UseWebSocket:  true,
		URLPath:       fmt.Sprintf("%s?mid=%s", path, cfg.MeasurementID),
		SecWSProtocol: Subprotocol,
		UserAgent:     cfg.UserAgent,
		Timeout:       cfg.Timeout,
		Dialer:        cfg.Dialer,
	}
	return dialer.Stack(ctx, dc)
}

// runDownload implements spec §4.7's download loop: read messages until
// eof, surfacing text payloads verbatim, sampling every 250ms, bounded by
// cfg.MaxRuntime.
func runDownload(ctx context.Context, cfg Config, conn net.Conn, ws *wsframe.Conn, rep Reporter) error {
	maxRuntime := cfg.MaxRuntime
	if maxRuntime <= 0 {
		maxRuntime = 14 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, maxRuntime)
	defer cancel()

	start := time.Now()
	var total atomic.Int64

	ticker := time.NewTicker(SampleInterval)
	defer ticker.Stop()
	sampleDone := make(chan struct{})
	go func() {
		for {
			select {
			case <-sampleDone:
				return
			case <-ticker.C:
				rep.OnPerformance(string(Download), 1, total.Load(), time.Since(start), maxRuntime)
			}
		}
	}()
	defer close(sampleDone)

	for {
		if ctx.Err() != nil {
			return fmt.Errorf("ndt7: download exceeded max_runtime without eof")
		}
		deadline, _ := ctx.Deadline()
		_ = conn.SetReadDeadline(deadline)
		opcode, payload, err := ws.RecvMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return fmt.Errorf("ndt7: download exceeded max_runtime without eof")
			}
			return err
		}
		total.Add(int64(len(payload)))
		if opcode == wsframe.OpText {
			rep.OnResult("ndt7", "download", string(payload))
		}
		if len(payload) > downloadBufferSize {
			return fmt.Errorf("ndt7: download message exceeds the configured buffer: %w", syscall.EMSGSIZE)
		}
	}
	return nil
}

// runUpload implements spec §4.7's upload loop: generate an 8 KiB random
// payload once and send it continuously for a fixed 10s, each send as a
// freshly masked binary frame, emitting a JSON measurement message (with
// TCPInfo when available) every 250ms.
func runUpload(ctx context.Context, cfg Config, conn net.Conn, ws *wsframe.Conn, rep Reporter) error {
	ctx, cancel := context.WithTimeout(ctx, UploadDuration)
	defer cancel()

	payload := make([]byte, uploadFrameSize)
	if _, err := rand.Read(payload); err != nil {
		return err
	}

	start := time.Now()
	var total int64

	ticker := time.NewTicker(SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			elapsed := time.Since(start)
			m := Measurement{AppInfo: newAppInfo(elapsed, total), TCPInfo: tcpInfoWithElapsed(conn, elapsed)}
			body, err := json.Marshal(m)
			if err != nil {
				return err
			}
			if err := ws.SendMessage(wsframe.OpText, body); err != nil {
				return err
			}
			rep.OnResult("ndt7", "upload", string(body))
			rep.OnPerformance(string(Upload), 1, total, elapsed, UploadDuration)
		default:
			if err := ws.SendMessage(wsframe.OpBinary, payload); err != nil {
				return err
			}
			total += int64(len(payload))
		}
	}
}

func tcpInfoWithElapsed(conn net.Conn, elapsed time.Duration) *TCPInfo {
	info := collectTCPInfo(conn)
	if info == nil {
		return nil
	}
	info.ElapsedTime = elapsed.Microseconds()
	return info
}
