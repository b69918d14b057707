package transport

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// recordingHandler counts callback invocations.
type recordingHandler struct {
	established atomic.Int64
	closed      atomic.Int64
	received    atomic.Int64
	outcomes    atomic.Int64
	timeouts    atomic.Int64
	readable    atomic.Int64
	created     atomic.Int64
}

func (h *recordingHandler) OnEstablished(Connection)                      { h.established.Add(1) }
func (h *recordingHandler) OnClosed(Connection)                           { h.closed.Add(1) }
func (h *recordingHandler) OnStreamCreated(_ Connection, _ uint64)        { h.created.Add(1) }
func (h *recordingHandler) OnStreamReadable(_ Connection, _ uint64)       { h.readable.Add(1) }
func (h *recordingHandler) OnStreamWritable(_ Connection, _ uint64)       {}
func (h *recordingHandler) OnStreamClosed(_ Connection, _ uint64)         {}
func (h *recordingHandler) OnDatagramReceived(Connection)                 { h.received.Add(1) }
func (h *recordingHandler) OnDatagramOutcome(_ Connection, _ DatagramOutcome) {
	h.outcomes.Add(1)
}
func (h *recordingHandler) OnTimeout(Connection) { h.timeouts.Add(1) }

func TestLoopDispatch(t *testing.T) {
	a, b := NewMemoryPair()
	h := &recordingHandler{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- NewLoop(b, h, time.Hour).Run(ctx) }()

	if err := a.SendDatagram([]byte("ping"), 4, false); err != nil {
		t.Fatalf("SendDatagram error: %v", err)
	}
	id, err := a.OpenStream(0)
	if err != nil {
		t.Fatalf("OpenStream error: %v", err)
	}
	if _, err := a.WriteStream(id, []byte("data"), true); err != nil {
		t.Fatalf("WriteStream error: %v", err)
	}
	if err := a.Close(true, 0, "ok"); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("loop returned error: %v", err)
	}
	if got := h.established.Load(); got != 1 {
		t.Errorf("established callbacks = %d, want 1", got)
	}
	if got := h.received.Load(); got != 1 {
		t.Errorf("datagram callbacks = %d, want 1", got)
	}
	if got := h.created.Load(); got != 1 {
		t.Errorf("stream created callbacks = %d, want 1", got)
	}
	if got := h.closed.Load(); got != 1 {
		t.Errorf("closed callbacks = %d, want 1", got)
	}
}

func TestLoopTimeoutTicks(t *testing.T) {
	a, b := NewMemoryPair()
	h := &recordingHandler{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- NewLoop(b, h, time.Millisecond).Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	if err := a.Close(true, 0, "ok"); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("loop returned error: %v", err)
	}

	if got := h.timeouts.Load(); got < 5 {
		t.Errorf("timeout callbacks = %d, want several over 30ms at 1ms ticks", got)
	}
}

func TestLoopContextCancel(t *testing.T) {
	_, b := NewMemoryPair()
	h := &recordingHandler{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewLoop(b, h, time.Hour).Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected a context error from a cancelled loop")
		}
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on context cancel")
	}
}

func TestDatagramOutcomeString(t *testing.T) {
	for outcome, want := range map[DatagramOutcome]string{
		DatagramAcked:   "acked",
		DatagramDropped: "dropped",
		DatagramExpired: "expired",
		DatagramLost:    "lost",
	} {
		if got := outcome.String(); got != want {
			t.Errorf("outcome %d String() = %q, want %q", outcome, got, want)
		}
	}
}
