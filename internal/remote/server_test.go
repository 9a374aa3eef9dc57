package remote

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/avolkin/midibeat/internal/model"
)

type fakeProvider struct {
	snap atomic.Pointer[model.Snapshot]
}

func (f *fakeProvider) Snapshot() *model.Snapshot { return f.snap.Load() }

func (f *fakeProvider) set(gen uint64, bpm float64, ok bool) {
	f.snap.Store(&model.Snapshot{
		Generation: gen,
		Estimate:   model.Estimate{BPM: bpm, Confidence: 1, OK: ok},
	})
}

func startServer(t *testing.T, src SnapshotProvider) (string, context.CancelFunc) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(addr, src, zap.NewNop())
	go srv.Run(ctx)

	// Wait until the port answers.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return addr, cancel
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	t.Fatalf("server did not start on %s", addr)
	return "", nil
}

func readLine(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return strings.TrimSuffix(line, "\n")
}

func TestServerPushesTempoChanges(t *testing.T) {
	src := &fakeProvider{}
	src.set(1, 0, false)
	addr, cancel := startServer(t, src)
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	src.set(2, 120, true)
	if got := readLine(t, conn); got != "TEMPO|120.00" {
		t.Errorf("line = %q, want TEMPO|120.00", got)
	}

	src.set(3, 128.5, true)
	if got := readLine(t, conn); got != "TEMPO|128.50" {
		t.Errorf("line = %q, want TEMPO|128.50", got)
	}
}

func TestServerLateJoinerGetsCurrentTempo(t *testing.T) {
	src := &fakeProvider{}
	src.set(1, 95, true)
	addr, cancel := startServer(t, src)
	defer cancel()

	// Let the server observe the confident estimate first.
	time.Sleep(3 * pollInterval)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if got := readLine(t, conn); got != "TEMPO|95.00" {
		t.Errorf("line = %q, want TEMPO|95.00", got)
	}
}

func TestServerSkipsUnconfidentSnapshots(t *testing.T) {
	src := &fakeProvider{}
	src.set(1, 110, true)
	addr, cancel := startServer(t, src)
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if got := readLine(t, conn); got != "TEMPO|110.00" {
		t.Fatalf("line = %q", got)
	}

	// Losing confidence must not push anything; the next confident
	// value must come through.
	src.set(2, 0, false)
	time.Sleep(3 * pollInterval)
	src.set(3, 111, true)
	if got := readLine(t, conn); got != "TEMPO|111.00" {
		t.Errorf("line = %q, want TEMPO|111.00", got)
	}
}
