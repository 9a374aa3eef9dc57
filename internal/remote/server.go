// Package remote pushes tempo updates to TCP clients.
//
// Clients connect and receive one line per confident tempo change:
//
//	TEMPO|123.45\n
//
// The protocol is push-only; anything a client writes is ignored.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avolkin/midibeat/internal/model"
)

const pollInterval = 100 * time.Millisecond

// SnapshotProvider exposes the engine's latest published state.
type SnapshotProvider interface {
	Snapshot() *model.Snapshot
}

// Server broadcasts tempo updates to connected TCP clients.
type Server struct {
	addr string
	src  SnapshotProvider
	log  *zap.Logger

	mu      sync.Mutex
	clients map[net.Conn]struct{}

	lastGen uint64
	lastBPM float64
	hasBPM  bool
}

// NewServer creates a tempo push server bound to addr, e.g. ":7777".
func NewServer(addr string, src SnapshotProvider, log *zap.Logger) *Server {
	return &Server{
		addr:    addr,
		src:     src,
		log:     log.Named("remote"),
		clients: make(map[net.Conn]struct{}),
	}
}

// Run listens, accepts clients, and polls the snapshot for tempo
// changes until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go s.acceptLoop(ln)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return ctx.Err()
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		s.mu.Lock()
		s.clients[conn] = struct{}{}
		n := len(s.clients)
		s.mu.Unlock()
		s.log.Info("client connected",
			zap.String("peer", conn.RemoteAddr().String()),
			zap.Int("clients", n))

		// Late joiners get the current tempo right away.
		s.mu.Lock()
		if s.hasBPM {
			s.send(conn, s.lastBPM)
		}
		s.mu.Unlock()
	}
}

// poll checks the latest snapshot and broadcasts when the confident
// estimate changed since the last push.
func (s *Server) poll() {
	snap := s.src.Snapshot()
	if snap.Generation == s.lastGen {
		return
	}
	s.lastGen = snap.Generation
	if !snap.Estimate.OK {
		return
	}
	bpm := snap.Estimate.BPM

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasBPM && bpm == s.lastBPM {
		return
	}
	s.lastBPM = bpm
	s.hasBPM = true
	for conn := range s.clients {
		s.send(conn, bpm)
	}
	s.log.Debug("tempo pushed",
		zap.Float64("bpm", bpm),
		zap.Int("clients", len(s.clients)))
}

// send writes one tempo line; a dead client is dropped. Callers hold s.mu.
func (s *Server) send(conn net.Conn, bpm float64) {
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := fmt.Fprintf(conn, "TEMPO|%.2f\n", bpm); err != nil {
		s.log.Info("client dropped",
			zap.String("peer", conn.RemoteAddr().String()),
			zap.Error(err))
		conn.Close()
		delete(s.clients, conn)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
}
