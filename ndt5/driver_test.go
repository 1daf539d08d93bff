package ndt5

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// rawConn wraps a net.Conn with a *bufio.Reader for the fake-server side of
// these tests, matching the 3-byte-header framing of spec §4.4.
type rawConn struct {
	net.Conn
	r *bufio.Reader
}

func wrapRaw(c net.Conn) *rawConn { return &rawConn{Conn: c, r: bufio.NewReader(c)} }

func (c *rawConn) writeMsg(typ MsgType, body string) error {
	var hdr [3]byte
	hdr[0] = byte(typ)
	binary.BigEndian.PutUint16(hdr[1:], uint16(len(body)))
	if _, err := c.Write(hdr[:]); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := c.Write([]byte(body))
	return err
}

func (c *rawConn) readMsg() (MsgType, string, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return 0, "", err
	}
	length := binary.BigEndian.Uint16(hdr[1:])
	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(c.r, body); err != nil {
			return 0, "", err
		}
	}
	return MsgType(hdr[0]), string(body), nil
}

// recordingReporter captures every callback for assertions.
type recordingReporter struct {
	mu         sync.Mutex
	warnings   []string
	results    []string
	perfs      int
	serverBusy []string
}

func (r *recordingReporter) OnWarning(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, err.Error())
}
func (r *recordingReporter) OnInfo(string)  {}
func (r *recordingReporter) OnDebug(string) {}
func (r *recordingReporter) OnResult(scope, name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, scope+"/"+name+"/"+value)
}
func (r *recordingReporter) OnPerformance(string, int, int64, time.Duration, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perfs++
}
func (r *recordingReporter) OnServerBusy(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serverBusy = append(r.serverBusy, reason)
}

func (r *recordingReporter) resultCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}
func (r *recordingReporter) perfCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perfs
}

func listen(t *testing.T) (net.Listener, uint16) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return ln, uint16(port)
}

// TestDownloadSingleFlowRaw is spec §8 seed scenario 1: ndt5 raw download,
// single flow, no server busy.
func TestDownloadSingleFlowRaw(t *testing.T) {
	controlLn, controlPort := listen(t)
	defer controlLn.Close()
	flowLn, flowPort := listen(t)
	defer flowLn.Close()

	serverErrs := make(chan error, 1)
	go func() {
		serverErrs <- func() error {
			conn, err := controlLn.Accept()
			if err != nil {
				return err
			}
			defer conn.Close()
			if _, err := conn.Write([]byte(kickoffLiteral)); err != nil {
				return err
			}
			rc := wrapRaw(conn)

			typ, body, err := rc.readMsg()
			if err != nil {
				return err
			}
			if typ != MsgLogin || len(body) != 1 {
				return fmt.Errorf("unexpected login: type=%d body=%q", typ, body)
			}

			if err := rc.writeMsg(MsgSrvQueue, "0"); err != nil {
				return err
			}
			if err := rc.writeMsg(MsgLogin, "v3.7.0"); err != nil {
				return err
			}
			if err := rc.writeMsg(MsgLogin, strconv.Itoa(testIDDownload)); err != nil {
				return err
			}
			if err := rc.writeMsg(MsgTestPrepare, strconv.Itoa(int(flowPort))); err != nil {
				return err
			}

			flowConn, err := flowLn.Accept()
			if err != nil {
				return err
			}
			go func() {
				defer flowConn.Close()
				chunk := make([]byte, 4096)
				for i := 0; i < 64; i++ {
					if _, err := flowConn.Write(chunk); err != nil {
						return
					}
				}
			}()

			if err := rc.writeMsg(MsgTestStart, ""); err != nil {
				return err
			}

			if err := rc.writeMsg(MsgTestMsg, "1234.5"); err != nil {
				return err
			}
			typ, _, err = rc.readMsg() // client-computed speed
			if err != nil {
				return err
			}
			if typ != MsgTestMsg {
				return fmt.Errorf("expected client TEST_MSG, got %d", typ)
			}
			if err := rc.writeMsg(MsgTestMsg, "web100key: web100value"); err != nil {
				return err
			}
			if err := rc.writeMsg(MsgTestFinalize, ""); err != nil {
				return err
			}

			if err := rc.writeMsg(MsgResults, "resultkey: resultvalue"); err != nil {
				return err
			}
			if err := rc.writeMsg(MsgLogout, ""); err != nil {
				return err
			}
			return nil
		}()
	}()

	rep := &recordingReporter{}
	cfg := Config{
		Host:       "127.0.0.1",
		Port:       controlPort,
		Subtests:   SubtestDownload,
		Timeout:    3 * time.Second,
		MaxRuntime: 3 * time.Second,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := Run(ctx, cfg, rep); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := <-serverErrs; err != nil {
		t.Fatalf("fake server failed: %v", err)
	}

	if rep.resultCount() != 2 { // web100key + resultkey
		t.Fatalf("got %d results, want 2; results=%v", rep.resultCount(), rep.results)
	}
	if rep.perfCount() == 0 {
		t.Fatal("expected at least one OnPerformance callback")
	}
}

// TestServerBusyReturnsErrServerBusy is spec §8 seed scenario 5: the server
// replies SRV_QUEUE with a non-"0" body.
func TestServerBusyReturnsErrServerBusy(t *testing.T) {
	ln, port := listen(t)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte(kickoffLiteral))
		rc := wrapRaw(conn)
		if _, _, err := rc.readMsg(); err != nil {
			return
		}
		rc.writeMsg(MsgSrvQueue, "9999")
	}()

	rep := &recordingReporter{}
	cfg := Config{
		Host:       "127.0.0.1",
		Port:       port,
		Subtests:   SubtestDownload,
		Timeout:    2 * time.Second,
		MaxRuntime: 2 * time.Second,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := Run(ctx, cfg, rep)
	if err == nil {
		t.Fatal("expected ErrServerBusy")
	}
	if !strings.Contains(err.Error(), "busy") {
		t.Fatalf("got %v, want a server-busy error", err)
	}
	rep.mu.Lock()
	busy := append([]string{}, rep.serverBusy...)
	rep.mu.Unlock()
	if len(busy) != 1 || busy[0] != "9999" {
		t.Fatalf("got OnServerBusy calls %v, want exactly [\"9999\"]", busy)
	}
}

// TestMetaSubtestSendsTerminatingEmptyMessage is the open-question (c)
// behavior: run_meta sends each metadata pair then one empty TEST_MSG.
func TestMetaSubtestSendsTerminatingEmptyMessage(t *testing.T) {
	ln, port := listen(t)
	defer ln.Close()

	seen := make(chan []string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte(kickoffLiteral))
		rc := wrapRaw(conn)
		if _, _, err := rc.readMsg(); err != nil {
			return
		}
		rc.writeMsg(MsgSrvQueue, "0")
		rc.writeMsg(MsgLogin, "v3.7.0")
		rc.writeMsg(MsgLogin, strconv.Itoa(testIDMeta))
		rc.writeMsg(MsgTestPrepare, "")
		rc.writeMsg(MsgTestStart, "")

		var bodies []string
		for {
			typ, body, err := rc.readMsg()
			if err != nil {
				return
			}
			if typ != MsgTestMsg {
				return
			}
			bodies = append(bodies, body)
			if body == "" {
				break
			}
		}
		rc.writeMsg(MsgTestFinalize, "")
		rc.writeMsg(MsgResults, "x: y")
		rc.writeMsg(MsgLogout, "")
		seen <- bodies
	}()

	rep := &recordingReporter{}
	cfg := Config{
		Host:       "127.0.0.1",
		Port:       port,
		Subtests:   SubtestMeta,
		Metadata:   map[string]string{"client.os": "linux"},
		Timeout:    2 * time.Second,
		MaxRuntime: 2 * time.Second,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := Run(ctx, cfg, rep); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	select {
	case bodies := <-seen:
		if len(bodies) != 2 || bodies[0] != "client.os:linux" || bodies[1] != "" {
			t.Fatalf("got bodies %v, want [\"client.os:linux\", \"\"]", bodies)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fake server never completed")
	}
}
