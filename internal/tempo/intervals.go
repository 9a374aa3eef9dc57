package tempo

import (
	"time"

	"github.com/avolkin/midibeat/internal/model"
)

// pairInterval is the positive time delta between two retained onsets,
// plus the metadata the mapper weighs it by.
type pairInterval struct {
	gap  time.Duration // to.Timestamp - from.Timestamp
	age  time.Duration // newest onset's timestamp - to.Timestamp
	span time.Duration // window span, for normalizing age
	from model.Onset
	to   model.Onset
}

// extractIntervals appends every ordered pair delta of the window to
// dst. The curve is rebuilt from scratch each tick, so the full
// recompute over all pairs yields exactly the accumulated set an
// incremental newest-versus-prior extraction would have produced.
// Deltas below minGap (retrigger jitter, chord notes) are dropped.
func extractIntervals(onsets []model.Onset, minGap time.Duration, dst []pairInterval) []pairInterval {
	if len(onsets) < 2 {
		return dst
	}
	newest := onsets[len(onsets)-1].Timestamp
	span := newest - onsets[0].Timestamp
	for i := 0; i < len(onsets)-1; i++ {
		for j := i + 1; j < len(onsets); j++ {
			gap := onsets[j].Timestamp - onsets[i].Timestamp
			if gap < minGap {
				continue
			}
			dst = append(dst, pairInterval{
				gap:  gap,
				age:  newest - onsets[j].Timestamp,
				span: span,
				from: onsets[i],
				to:   onsets[j],
			})
		}
	}
	return dst
}
