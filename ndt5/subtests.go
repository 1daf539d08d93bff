package ndt5

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bassosimone/libndt/internal/dialer"
	"github.com/bassosimone/libndt/internal/transfer"
	"github.com/bassosimone/libndt/internal/wsframe"
)

const maxFlows = 16

// testPrepareOptions is the parsed, space-separated body of a
// TEST_PREPARE message: options[0] is the flow port, options[5] (if
// present) is the flow count.
type testPrepareOptions struct {
	port   uint16
	nflows int
}

func parseTestPrepare(body []byte) (testPrepareOptions, error) {
	fields := strings.Fields(string(body))
	if len(fields) == 0 {
		return testPrepareOptions{}, fmt.Errorf("ndt5: TEST_PREPARE missing port option")
	}
	port, err := strconv.Atoi(fields[0])
	if err != nil || port < 1 || port > 65535 {
		return testPrepareOptions{}, fmt.Errorf("ndt5: TEST_PREPARE invalid port %q", fields[0])
	}
	nflows := 1
	if len(fields) > 5 {
		n, err := strconv.Atoi(fields[5])
		if err != nil || n < 1 || n > maxFlows {
			return testPrepareOptions{}, fmt.Errorf("ndt5: TEST_PREPARE invalid nflows %q", fields[5])
		}
		nflows = n
	}
	return testPrepareOptions{port: uint16(port), nflows: nflows}, nil
}

// dialFlows serially dials n additional sockets to host:port, applying
// the same TLS/WebSocket layering as the control connection. Serial
// dialing is mandatory when WebSocket framing is in play: concurrent
// upgrade handshakes against the same server have been observed to
// confuse NDT5 servers that serialize per-client connection state.
func dialFlows(ctx context.Context, cfg Config, port uint16, n int, subprotocol string) ([]net.Conn, error) {
	conns := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		dc := &dialer.Config{
			Host:          cfg.Host,
			Port:          port,
			Socks5hPort:   cfg.Socks5hPort,
			UseTLS:        cfg.UseTLS,
			TLSVerifyPeer: cfg.TLSVerifyPeer,
			CABundlePath:  cfg.CABundlePath,
			UseWebSocket:  cfg.UseWebSocket,
			URLPath:       "/ndt_protocol",
			SecWSProtocol: subprotocol,
			UserAgent:     cfg.UserAgent,
			Timeout:       cfg.Timeout,
			Dialer:        cfg.Dialer,
		}
		conn, err := dialer.Stack(ctx, dc)
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func closeAll(conns []net.Conn) {
	for _, c := range conns {
		c.Close()
	}
}

// flowReadWriter adapts a flow socket (raw or WebSocket-framed) to the
// transfer engine's minimal ReadWriteCloser, applying the "binary message
// framed as one read" rule WebSocket mode requires.
type flowReadWriter struct {
	raw      net.Conn
	ws       *wsframe.Conn
	sendOp   wsframe.Opcode
	leftover []byte
}

func newFlow(conn net.Conn, useWS bool) *flowReadWriter {
	f := &flowReadWriter{raw: conn, sendOp: wsframe.OpBinary}
	if useWS {
		f.ws = wsframe.NewConn(conn)
	}
	return f
}

func (f *flowReadWriter) Read(p []byte) (int, error) {
	if f.ws == nil {
		return f.raw.Read(p)
	}
	if len(f.leftover) == 0 {
		opcode, payload, err := f.ws.RecvMessage()
		if err != nil {
			return 0, err
		}
		if opcode != wsframe.OpBinary {
			return 0, wsframe.ErrUnexpectedData
		}
		f.leftover = payload
	}
	n := copy(p, f.leftover)
	f.leftover = f.leftover[n:]
	return n, nil
}

func (f *flowReadWriter) Write(p []byte) (int, error) {
	if f.ws == nil {
		return f.raw.Write(p)
	}
	if err := f.ws.SendMessage(wsframe.OpBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// runDownload implements spec §4.5's run_download.
func runDownload(ctx context.Context, cfg Config, c *codec, rep Reporter) error {
	prep, err := expectType(c, MsgTestPrepare)
	if err != nil {
		return fmt.Errorf("ndt5: run_download TEST_PREPARE: %w", err)
	}
	opts, err := parseTestPrepare(prep.Body)
	if err != nil {
		return err
	}

	flowConns, err := dialFlows(ctx, cfg, opts.port, opts.nflows, "s2c")
	if err != nil {
		return err
	}
	defer closeAll(flowConns)

	if _, err := expectType(c, MsgTestStart); err != nil {
		return fmt.Errorf("ndt5: run_download TEST_START: %w", err)
	}

	flows := make([]transfer.ReadWriteCloser, len(flowConns))
	for i, fc := range flowConns {
		flows[i] = newFlow(fc, cfg.UseWebSocket)
	}

	result := transfer.Run(ctx, transfer.Config{
		Flows:      flows,
		Direction:  transfer.Recv,
		MaxRuntime: cfg.MaxRuntime,
		OnSample: func(s transfer.Sample) {
			rep.OnPerformance("download", opts.nflows, s.TotalBytes, s.Elapsed, cfg.MaxRuntime)
		},
		OnFlowError: func(err error) {
			rep.OnWarning(fmt.Errorf("ndt5: download flow stopped early: %w", err))
		},
	})

	if _, err := expectType(c, MsgTestMsg); err != nil {
		return fmt.Errorf("ndt5: run_download server speed TEST_MSG: %w", err)
	}

	kbits := kbitsPerSecond(result.TotalBytes, result.Elapsed)
	if err := c.writeMessage(MsgTestMsg, []byte(fmt.Sprintf("%.4f", kbits))); err != nil {
		return err
	}

	return recvWeb100(c, rep)
}

// recvWeb100 reads TEST_MSG/TEST_FINALIZE pairs of "key: value" lines,
// scoped as "web100", capped at 256 iterations.
func recvWeb100(c *codec, rep Reporter) error {
	for i := 0; i < 256; i++ {
		msg, err := c.readMessage()
		if err != nil {
			return fmt.Errorf("ndt5: recv_web100: %w", err)
		}
		switch msg.Type {
		case MsgTestFinalize:
			return nil
		case MsgTestMsg:
			emitKeyValue(rep, "web100", msg.Body)
		default:
			return fmt.Errorf("ndt5: recv_web100: unexpected message type %d", msg.Type)
		}
	}
	return fmt.Errorf("ndt5: recv_web100: exceeded 256 messages without TEST_FINALIZE")
}

func emitKeyValue(rep Reporter, scope string, line []byte) {
	parts := strings.SplitN(string(line), ":", 2)
	if len(parts) != 2 {
		rep.OnWarning(fmt.Errorf("ndt5: malformed %s line %q", scope, line))
		return
	}
	rep.OnResult(scope, strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
}

// runUpload implements spec §4.5's run_upload: single mandatory flow.
func runUpload(ctx context.Context, cfg Config, c *codec, rep Reporter) error {
	prep, err := expectType(c, MsgTestPrepare)
	if err != nil {
		return fmt.Errorf("ndt5: run_upload TEST_PREPARE: %w", err)
	}
	opts, err := parseTestPrepare(prep.Body)
	if err != nil {
		return err
	}

	flowConns, err := dialFlows(ctx, cfg, opts.port, 1, "c2s")
	if err != nil {
		return err
	}
	defer closeAll(flowConns)

	if _, err := expectType(c, MsgTestStart); err != nil {
		return fmt.Errorf("ndt5: run_upload TEST_START: %w", err)
	}

	payload, err := randomPrintableASCII(transfer.BufferSize)
	if err != nil {
		return err
	}

	flow := newFlow(flowConns[0], cfg.UseWebSocket)
	result := transfer.Run(ctx, transfer.Config{
		Flows:       []transfer.ReadWriteCloser{flow},
		Direction:   transfer.Send,
		MaxRuntime:  cfg.MaxRuntime,
		SendPayload: payload,
		OnSample: func(s transfer.Sample) {
			rep.OnPerformance("upload", 1, s.TotalBytes, s.Elapsed, cfg.MaxRuntime)
		},
		OnFlowError: func(err error) {
			rep.OnWarning(fmt.Errorf("ndt5: upload flow stopped early: %w", err))
		},
	})

	if _, err := expectType(c, MsgTestMsg); err != nil {
		return fmt.Errorf("ndt5: run_upload server speed TEST_MSG: %w", err)
	}
	_, err = expectType(c, MsgTestFinalize)
	if err != nil {
		return fmt.Errorf("ndt5: run_upload TEST_FINALIZE: %w", err)
	}

	kbits := kbitsPerSecond(result.TotalBytes, result.Elapsed)
	rep.OnResult("summary", "upload-speed-kbps", fmt.Sprintf("%.4f", kbits))
	return nil
}

// runMeta implements spec §4.5's run_meta.
func runMeta(cfg Config, c *codec, rep Reporter) error {
	if _, err := expectType(c, MsgTestPrepare); err != nil {
		return fmt.Errorf("ndt5: run_meta TEST_PREPARE: %w", err)
	}
	if _, err := expectType(c, MsgTestStart); err != nil {
		return fmt.Errorf("ndt5: run_meta TEST_START: %w", err)
	}
	for key, value := range cfg.Metadata {
		line := fmt.Sprintf("%s:%s", key, value)
		if err := c.writeMessage(MsgTestMsg, []byte(line)); err != nil {
			return err
		}
	}
	if err := c.writeMessage(MsgTestMsg, nil); err != nil {
		return err
	}
	if _, err := expectType(c, MsgTestFinalize); err != nil {
		return fmt.Errorf("ndt5: run_meta TEST_FINALIZE: %w", err)
	}
	return nil
}

func kbitsPerSecond(bytes int64, elapsed time.Duration) float64 {
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(bytes) * 8 / 1000 / seconds
}

const printableASCIILow, printableASCIIHigh = 0x20, 0x7e

func randomPrintableASCII(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	span := byte(printableASCIIHigh - printableASCIILow + 1)
	for i, b := range buf {
		buf[i] = printableASCIILow + b%span
	}
	return buf, nil
}
