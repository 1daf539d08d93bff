package ndt5

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bassosimone/libndt/internal/dialer"
	"github.com/bassosimone/libndt/internal/wsframe"
)

// ErrServerBusy is returned by Run when the server reports SRV_QUEUE with
// a non-"0" body: the caller should retry against the next discovered
// FQDN, per spec §4.5's "any failure before authorized restarts at the
// next discovered FQDN".
var ErrServerBusy = errors.New("ndt5: server reported busy")

// ErrUnsupportedTestID is returned when the server grants a subtest ID
// this client does not implement.
var ErrUnsupportedTestID = errors.New("ndt5: server granted an unsupported test ID")

const controlURLPath = "/ndt_protocol"

// Run executes one full ndt5 session against cfg.Host/cfg.Port: dial,
// login, the granted subtests, results, logout. A nil error means the
// logout handshake completed; ErrServerBusy specifically signals that the
// caller should retry the next discovered FQDN rather than give up.
func Run(ctx context.Context, cfg Config, rep Reporter) error {
	if rep == nil {
		rep = NopReporter{}
	}

	conn, err := dialControl(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	var ws *wsframe.Conn
	if cfg.UseWebSocket {
		ws = wsframe.NewConn(conn)
	}
	c := newCodec(conn, ws, cfg.JSON)

	stripped := cfg.Subtests & (SubtestMiddlebox | SubtestSimpleFirewall | SubtestUploadExt)
	if stripped != 0 {
		rep.OnWarning(fmt.Errorf("ndt5: stripping unimplemented subtests from login: %d", stripped))
	}
	outgoing := cfg.Subtests &^ (SubtestMiddlebox | SubtestSimpleFirewall | SubtestUploadExt)

	rep.OnInfo("ndt5: sending login")
	if err := c.writeLogin(outgoing); err != nil {
		return err
	}

	if !cfg.UseWebSocket {
		rep.OnDebug("ndt5: awaiting kickoff sequence")
		if err := readKickoff(conn); err != nil {
			return err
		}
	}

	if err := waitInQueue(c, rep); err != nil {
		return err
	}

	if _, err := expectType(c, MsgLogin); err != nil {
		return fmt.Errorf("ndt5: recv_version: %w", err)
	}

	testIDsMsg, err := expectType(c, MsgLogin)
	if err != nil {
		return fmt.Errorf("ndt5: recv_test_ids: %w", err)
	}
	ids, err := parseTestIDs(testIDsMsg.Body)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := runSubtest(ctx, id, cfg, c, rep); err != nil {
			return err
		}
	}

	if err := recvResultsAndLogout(c, rep); err != nil {
		return err
	}

	waitClose(conn)
	return nil
}

func dialControl(ctx context.Context, cfg Config) (net.Conn, error) {
	dc := &dialer.Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Socks5hPort:   cfg.Socks5hPort,
		UseTLS:        cfg.UseTLS,
		TLSVerifyPeer: cfg.TLSVerifyPeer,
		CABundlePath:  cfg.CABundlePath,
		UseWebSocket:  cfg.UseWebSocket,
		URLPath:       controlURLPath,
		SecWSProtocol: "ndt",
		UserAgent:     cfg.UserAgent,
		Timeout:       cfg.Timeout,
		Dialer:        cfg.Dialer,
	}
	return dialer.Stack(ctx, dc)
}

func waitInQueue(c *codec, rep Reporter) error {
	msg, err := expectType(c, MsgSrvQueue)
	if err != nil {
		return fmt.Errorf("ndt5: wait_in_queue: %w", err)
	}
	if string(msg.Body) != "0" {
		rep.OnServerBusy(string(msg.Body))
		return ErrServerBusy
	}
	return nil
}

func expectType(c *codec, want MsgType) (Message, error) {
	msg, err := c.readMessage()
	if err != nil {
		return Message{}, err
	}
	if msg.Type != want {
		return Message{}, fmt.Errorf("ndt5: expected message type %d, got %d", want, msg.Type)
	}
	return msg, nil
}

func parseTestIDs(body []byte) ([]int, error) {
	fields := strings.Fields(string(body))
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 || n > 256 {
			return nil, fmt.Errorf("ndt5: invalid test id %q", f)
		}
		ids = append(ids, n)
	}
	return ids, nil
}

// Test IDs as granted in the test-id message, matching the subtest flag
// bit positions (spec §6: the server grants the same bit values it was
// asked for).
const (
	testIDUpload      = 2
	testIDDownload    = 4
	testIDMeta        = 32
	testIDUploadExt   = 64
	testIDDownloadExt = 128
)

func runSubtest(ctx context.Context, id int, cfg Config, c *codec, rep Reporter) error {
	switch id {
	case testIDDownload, testIDDownloadExt:
		return runDownload(ctx, cfg, c, rep)
	case testIDUpload:
		return runUpload(ctx, cfg, c, rep)
	case testIDMeta:
		return runMeta(cfg, c, rep)
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedTestID, id)
	}
}

// waitClose waits readable up to 3s (errors ignored) then the deferred
// conn.Close in Run tears the socket down, per spec §4.5's wait_close.
func waitClose(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var buf [1]byte
	_, _ = conn.Read(buf[:])
}
