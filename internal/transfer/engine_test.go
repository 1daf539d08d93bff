package transfer

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// brokenFlow always fails with a non-EOF error, to exercise OnFlowError
// independently of net.Pipe's EOF-on-peer-close semantics.
type brokenFlow struct{}

var errBrokenFlow = errors.New("brokenFlow: simulated I/O failure")

func (brokenFlow) Read([]byte) (int, error)  { return 0, errBrokenFlow }
func (brokenFlow) Write([]byte) (int, error) { return 0, errBrokenFlow }

func TestRunRecvAccumulatesAcrossFlows(t *testing.T) {
	var flows []ReadWriteCloser
	var closers []net.Conn
	for i := 0; i < 3; i++ {
		client, peer := net.Pipe()
		closers = append(closers, client, peer)
		flows = append(flows, client)
		go func(peer net.Conn) {
			defer peer.Close()
			peer.Write(make([]byte, 4096))
		}(peer)
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	var samples []Sample
	result := Run(context.Background(), Config{
		Flows:      flows,
		Direction:  Recv,
		MaxRuntime: 2 * time.Second,
		OnSample: func(s Sample) {
			samples = append(samples, s)
		},
	})

	if result.TotalBytes != 3*4096 {
		t.Fatalf("got %d total bytes, want %d", result.TotalBytes, 3*4096)
	}
	if len(samples) == 0 {
		t.Fatal("expected at least the final sample")
	}
	last := samples[len(samples)-1]
	if last.ActiveWorkers != 0 {
		t.Fatalf("final sample should report zero active workers, got %d", last.ActiveWorkers)
	}
}

func TestRunSendUsesFixedPayload(t *testing.T) {
	client, peer := net.Pipe()
	defer client.Close()
	defer peer.Close()

	payload := []byte("abcd")
	received := make(chan int64, 1)
	go func() {
		var total int64
		buf := make([]byte, 1024)
		for {
			n, err := peer.Read(buf)
			total += int64(n)
			if err != nil {
				received <- total
				return
			}
		}
	}()

	result := Run(context.Background(), Config{
		Flows:       []ReadWriteCloser{client},
		Direction:   Send,
		MaxRuntime:  200 * time.Millisecond,
		SendPayload: payload,
	})

	client.Close()
	peer.Close()
	got := <-received
	if got == 0 {
		t.Fatal("peer received no bytes")
	}
	if result.TotalBytes == 0 {
		t.Fatal("engine reported zero total bytes sent")
	}
}

func TestRunStopsOnWorkerError(t *testing.T) {
	client, peer := net.Pipe()
	peer.Close() // immediately broken: Read will fail right away

	result := Run(context.Background(), Config{
		Flows:      []ReadWriteCloser{client},
		Direction:  Recv,
		MaxRuntime: 500 * time.Millisecond,
	})
	client.Close()

	if result.TotalBytes != 0 {
		t.Fatalf("expected zero bytes from an immediately-broken flow, got %d", result.TotalBytes)
	}
}

func TestRunReportsFlowErrorButKeepsTotal(t *testing.T) {
	var reported error
	result := Run(context.Background(), Config{
		Flows:      []ReadWriteCloser{brokenFlow{}},
		Direction:  Recv,
		MaxRuntime: 500 * time.Millisecond,
		OnFlowError: func(err error) {
			reported = err
		},
	})

	if !errors.Is(reported, errBrokenFlow) {
		t.Fatalf("expected OnFlowError to report the flow's error, got %v", reported)
	}
	if result.TotalBytes != 0 {
		t.Fatalf("a failed flow must not fabricate bytes, got %d", result.TotalBytes)
	}
}

func TestRunOmitsFlowErrorOnCleanEOF(t *testing.T) {
	client, peer := net.Pipe()
	go func() {
		peer.Write([]byte("x"))
		peer.Close()
	}()

	var reported error
	Run(context.Background(), Config{
		Flows:      []ReadWriteCloser{client},
		Direction:  Recv,
		MaxRuntime: 500 * time.Millisecond,
		OnFlowError: func(err error) {
			reported = err
		},
	})
	client.Close()

	if reported != nil {
		t.Fatalf("a clean EOF is not a flow error, got %v", reported)
	}
}

func TestRunEmptyFlowSetReturnsImmediately(t *testing.T) {
	start := time.Now()
	result := Run(context.Background(), Config{
		Flows:      nil,
		Direction:  Recv,
		MaxRuntime: 5 * time.Second,
	})
	if time.Since(start) > time.Second {
		t.Fatal("Run with no flows should return promptly, not wait out MaxRuntime")
	}
	if result.TotalBytes != 0 {
		t.Fatalf("got %d bytes with no flows", result.TotalBytes)
	}
}
