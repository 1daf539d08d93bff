package libndt

import (
	"sync"
	"time"
)

// Observer receives progress, result and error events from a running
// Client. Implementations must not call back into the Client (no
// re-entrancy); the engine holds a single mutex for the duration of each
// callback (§5), so a slow or blocking Observer serializes all further
// progress.
type Observer interface {
	// OnWarning reports a non-fatal condition.
	OnWarning(err error)

	// OnInfo reports a progress message.
	OnInfo(message string)

	// OnDebug reports a low-level diagnostic message, e.g. a raw frame.
	OnDebug(message string)

	// OnResult reports a single key/value measurement. scope is one of
	// "summary" (ndt5 RESULTS, plus the client-computed ndt5 upload
	// speed), "web100" (ndt5 per-flow download stats),
	// or "ndt7" (ndt7 JSON measurement payload verbatim as value).
	OnResult(scope, name, value string)

	// OnPerformance reports a periodic speed sample for an in-progress
	// subtest.
	OnPerformance(subtest string, nflows int, bytes int64, elapsed, maxRuntime time.Duration)

	// OnServerBusy reports that the server declined to run the test now.
	OnServerBusy(reason string)
}

// NopObserver implements Observer by discarding every event.
type NopObserver struct{}

func (NopObserver) OnWarning(error)                                                 {}
func (NopObserver) OnInfo(string)                                                   {}
func (NopObserver) OnDebug(string)                                                  {}
func (NopObserver) OnResult(string, string, string)                                 {}
func (NopObserver) OnPerformance(string, int, int64, time.Duration, time.Duration)   {}
func (NopObserver) OnServerBusy(string)                                             {}

// syncObserver serializes calls to an underlying Observer with a single
// mutex, matching §5's "process-wide mutex used solely to serialize
// observer callbacks".
type syncObserver struct {
	mu   sync.Mutex
	next Observer
}

func newSyncObserver(o Observer) *syncObserver {
	if o == nil {
		o = NopObserver{}
	}
	return &syncObserver{next: o}
}

func (s *syncObserver) OnWarning(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next.OnWarning(err)
}

func (s *syncObserver) OnInfo(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next.OnInfo(message)
}

func (s *syncObserver) OnDebug(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next.OnDebug(message)
}

func (s *syncObserver) OnResult(scope, name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next.OnResult(scope, name, value)
}

func (s *syncObserver) OnPerformance(subtest string, nflows int, bytes int64, elapsed, maxRuntime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next.OnPerformance(subtest, nflows, bytes, elapsed, maxRuntime)
}

func (s *syncObserver) OnServerBusy(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next.OnServerBusy(reason)
}
