// Package tempo implements the real-time tempo inference engine: a
// wait-free onset buffer fed by the MIDI producer, a pairwise interval
// analysis that votes candidate BPM values onto a score curve, and a
// peak selector that publishes ranked hypotheses as immutable snapshots.
package tempo

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/avolkin/midibeat/internal/model"
)

// ErrClockRegression is returned when an onset arrives with a timestamp
// earlier than the previous one. Causality cannot be established for it,
// so it is discarded without touching buffer state.
var ErrClockRegression = errors.New("onset timestamp regressed")

// onsetSlot is one ring cell. seq holds 2n+1 while slot n is being
// written and 2n+2 once it is stable, so a reader can detect a cell that
// was reused under it (seqlock per cell, Vyukov style).
type onsetSlot struct {
	seq  atomic.Uint64
	ts   atomic.Int64
	note atomic.Uint32 // note<<8 | velocity
}

// OnsetBuffer is a fixed-capacity, time-windowed store of recent note
// onsets. Record is single-producer, wait-free and allocation-free;
// Onsets may be called from any goroutine and never blocks the producer.
type OnsetBuffer struct {
	slots []onsetSlot
	size  uint64
	head  atomic.Uint64 // count of onsets ever accepted
	floor atomic.Uint64 // onsets below this index are cleared (reset)
	last  atomic.Int64  // newest accepted timestamp, nanoseconds
}

// NewOnsetBuffer allocates a ring of the given capacity. Capacity is an
// upper bound for any Window.MaxOnsets the engine may later be handed.
func NewOnsetBuffer(capacity int) *OnsetBuffer {
	if capacity < 2 {
		capacity = 2
	}
	return &OnsetBuffer{
		slots: make([]onsetSlot, capacity),
		size:  uint64(capacity),
	}
}

// Record appends one onset, overwriting the oldest cell once the ring
// is full. It must only be called from a single producer goroutine.
// Timestamps must not decrease; equal timestamps are accepted so that
// chord notes sharing a clock reading are not lost.
func (b *OnsetBuffer) Record(o model.Onset) error {
	ns := o.Timestamp.Nanoseconds()
	w := b.head.Load()
	if w > b.floor.Load() && ns < b.last.Load() {
		return ErrClockRegression
	}
	slot := &b.slots[w%b.size]
	slot.seq.Store(2*w + 1)
	slot.ts.Store(ns)
	slot.note.Store(uint32(o.Note)<<8 | uint32(o.Velocity))
	slot.seq.Store(2*w + 2)
	b.last.Store(ns)
	b.head.Store(w + 1)
	return nil
}

// Len reports how many onsets are currently addressable, before any
// window filtering.
func (b *OnsetBuffer) Len() int {
	head := b.head.Load()
	lo := b.floor.Load()
	if head-lo > b.size {
		lo = head - b.size
	}
	return int(head - lo)
}

// Reset discards all retained onsets. Safe to call concurrently with
// Record: the producer keeps appending past the new floor as normal.
func (b *OnsetBuffer) Reset() {
	b.floor.Store(b.head.Load())
}

// Onsets appends a consistent point-in-time copy of the retained onsets
// to dst, oldest first, honoring the window's count and age bounds. A
// cell overwritten while being read is simply skipped: by construction
// the onset it held had already been evicted.
func (b *OnsetBuffer) Onsets(w model.Window, dst []model.Onset) []model.Onset {
	head := b.head.Load()
	lo := b.floor.Load()
	if head <= lo {
		return dst
	}
	if head-lo > b.size {
		lo = head - b.size
	}
	if max := uint64(w.MaxOnsets); max > 0 && head-lo > max {
		lo = head - max
	}

	start := len(dst)
	for i := lo; i < head; i++ {
		slot := &b.slots[i%b.size]
		seq := slot.seq.Load()
		if seq != 2*i+2 {
			continue
		}
		ns := slot.ts.Load()
		packed := slot.note.Load()
		if slot.seq.Load() != seq {
			continue
		}
		dst = append(dst, model.Onset{
			Timestamp: time.Duration(ns),
			Note:      uint8(packed >> 8),
			Velocity:  uint8(packed),
		})
	}

	if w.MaxAge > 0 && len(dst) > start {
		newest := dst[len(dst)-1].Timestamp
		cut := start
		for cut < len(dst) && newest-dst[cut].Timestamp > w.MaxAge {
			cut++
		}
		if cut > start {
			dst = append(dst[:start], dst[cut:]...)
		}
	}
	return dst
}
