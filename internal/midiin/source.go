package midiin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/avolkin/midibeat/internal/model"
)

// Recorder accepts note onsets as they are decoded from the wire.
type Recorder interface {
	Record(o model.Onset) error
}

// Source reads a raw MIDI device node and feeds note starts to a
// Recorder. Timestamps are taken from the monotonic clock at the
// moment the message completes, relative to the start of the read
// loop, so recorder timestamps never regress.
type Source struct {
	path string
	rec  Recorder
	log  *zap.Logger
}

// NewSource creates a source for the given device path.
func NewSource(path string, rec Recorder, log *zap.Logger) *Source {
	return &Source{path: path, rec: rec, log: log.Named("midiin")}
}

// Run opens the device and pumps onsets until ctx is cancelled or the
// device read fails. A note-on with velocity zero is a note-off on the
// wire and is never recorded as an onset.
func (s *Source) Run(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open MIDI device %s: %w", s.path, err)
	}
	defer f.Close()

	// Raw device reads block with no deadline support; closing the
	// file from the watcher goroutine is what unblocks the loop.
	go func() {
		<-ctx.Done()
		f.Close()
	}()

	s.log.Info("listening", zap.String("device", s.path))
	err = s.pump(ctx, f)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Source) pump(ctx context.Context, r io.Reader) error {
	var p Parser
	start := time.Now()
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			msg, ok := p.Feed(b)
			if !ok {
				continue
			}
			var ch, key, vel uint8
			if !msg.GetNoteStart(&ch, &key, &vel) {
				continue
			}
			onset := model.Onset{
				Timestamp: time.Since(start),
				Note:      key,
				Velocity:  vel,
			}
			if rerr := s.rec.Record(onset); rerr != nil {
				s.log.Warn("onset dropped", zap.Error(rerr))
				continue
			}
			s.log.Debug("onset",
				zap.Duration("at", onset.Timestamp),
				zap.Uint8("note", key),
				zap.Uint8("velocity", vel))
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read MIDI device %s: %w", s.path, err)
		}
	}
}
