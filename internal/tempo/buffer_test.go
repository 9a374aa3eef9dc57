package tempo

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/avolkin/midibeat/internal/model"
)

func onsetAt(ms int) model.Onset {
	return model.Onset{Timestamp: time.Duration(ms) * time.Millisecond, Note: 60, Velocity: 100}
}

func TestBufferWindowBounds(t *testing.T) {
	b := NewOnsetBuffer(16)
	for i := 0; i < 100; i++ {
		if err := b.Record(onsetAt(i * 100)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	w := model.Window{MaxOnsets: 8, MaxAge: 10 * time.Second}
	got := b.Onsets(w, nil)
	if len(got) != 8 {
		t.Fatalf("expected 8 onsets, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp < got[i-1].Timestamp {
			t.Fatalf("onsets out of order at %d: %v", i, got)
		}
	}
	if got[len(got)-1].Timestamp != 9900*time.Millisecond {
		t.Fatalf("expected newest onset last, got %v", got[len(got)-1].Timestamp)
	}
}

func TestBufferAgeEviction(t *testing.T) {
	b := NewOnsetBuffer(16)
	for _, ms := range []int{0, 100, 5000, 5100, 5200} {
		if err := b.Record(onsetAt(ms)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	w := model.Window{MaxOnsets: 16, MaxAge: time.Second}
	got := b.Onsets(w, nil)
	if len(got) != 3 {
		t.Fatalf("expected 3 onsets inside the age window, got %d: %v", len(got), got)
	}
	if got[0].Timestamp != 5000*time.Millisecond {
		t.Fatalf("expected oldest survivor at 5s, got %v", got[0].Timestamp)
	}
}

func TestBufferClockRegression(t *testing.T) {
	b := NewOnsetBuffer(8)
	if err := b.Record(onsetAt(1000)); err != nil {
		t.Fatalf("record: %v", err)
	}
	err := b.Record(onsetAt(900))
	if !errors.Is(err, ErrClockRegression) {
		t.Fatalf("expected ErrClockRegression, got %v", err)
	}
	// Equal timestamps (chord notes) are accepted.
	if err := b.Record(onsetAt(1000)); err != nil {
		t.Fatalf("equal timestamp rejected: %v", err)
	}
	if got := b.Len(); got != 2 {
		t.Fatalf("expected 2 onsets after rejection, got %d", got)
	}
}

func TestBufferReset(t *testing.T) {
	b := NewOnsetBuffer(8)
	for i := 0; i < 5; i++ {
		if err := b.Record(onsetAt(i * 100)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	b.Reset()
	if got := b.Len(); got != 0 {
		t.Fatalf("expected empty buffer after reset, got %d", got)
	}
	// Recording continues past the reset floor.
	if err := b.Record(onsetAt(1000)); err != nil {
		t.Fatalf("record after reset: %v", err)
	}
	got := b.Onsets(model.Window{MaxOnsets: 8, MaxAge: time.Minute}, nil)
	if len(got) != 1 || got[0].Timestamp != time.Second {
		t.Fatalf("unexpected onsets after reset: %v", got)
	}
}

func TestBufferConcurrentReaders(t *testing.T) {
	b := NewOnsetBuffer(64)
	w := model.Window{MaxOnsets: 64, MaxAge: time.Minute}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var dst []model.Onset
			for {
				select {
				case <-stop:
					return
				default:
				}
				dst = b.Onsets(w, dst[:0])
				for i := 1; i < len(dst); i++ {
					if dst[i].Timestamp < dst[i-1].Timestamp {
						t.Errorf("torn read: %v before %v", dst[i-1].Timestamp, dst[i].Timestamp)
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 10000; i++ {
		if err := b.Record(onsetAt(i)); err != nil {
			t.Errorf("record: %v", err)
			break
		}
	}
	close(stop)
	wg.Wait()
}
