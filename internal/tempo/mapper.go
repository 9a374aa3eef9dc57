package tempo

import (
	"time"

	"github.com/avolkin/midibeat/internal/model"
)

// vote is one candidate BPM emitted for an interval, before tolerance
// shaping spreads it across curve bins.
type vote struct {
	bpm    float64
	weight float64
	gap    time.Duration // originating interval, sizes the tolerance band
}

// mapVotes converts one interval into zero or more BPM votes. For each
// harmonic k up to the configured bound the interval is read two ways:
// as spanning k beats (bpm = 60k/gap) and as a k-th subdivision of one
// beat (bpm = 60/(gap*k)). Candidates outside the tempo range are
// discarded before they can influence the curve.
func mapVotes(cfg model.Detection, pi pairInterval, dst []vote) []vote {
	base := pairWeight(cfg, pi)
	if base <= 0 {
		return dst
	}
	gapSec := pi.gap.Seconds()
	if gapSec <= 0 {
		return dst
	}
	for k := 1; k <= cfg.MaxHarmonic; k++ {
		hw := base * harmonicWeight(cfg, k)
		if bpm := 60 * float64(k) / gapSec; cfg.Range.Contains(bpm) {
			dst = append(dst, vote{bpm: bpm, weight: hw, gap: pi.gap})
		}
		if k == 1 {
			continue // k=1 subdivision duplicates the k=1 multiple
		}
		if bpm := 60 / (gapSec * float64(k)); cfg.Range.Contains(bpm) {
			dst = append(dst, vote{bpm: bpm, weight: hw, gap: pi.gap})
		}
	}
	return dst
}

// harmonicWeight decays with k: an interval is most plausibly one beat,
// less plausibly two, and so on.
func harmonicWeight(cfg model.Detection, k int) float64 {
	return 1 / (1 + cfg.HarmonicDecay*float64(k-1))
}

// pairWeight folds the non-timing criteria into one multiplier: recency
// of the later onset, how hard both notes were struck, and how close
// together they sit in pitch and octave. Each criterion blends toward 1
// as its configured weight approaches 0, so disabled criteria are inert.
func pairWeight(cfg model.Detection, pi pairInterval) float64 {
	w := recencyWeight(cfg, pi)

	if cfg.VelocityWeight > 0 {
		vel := (float64(pi.from.Velocity) + float64(pi.to.Velocity)) / (2 * 127)
		w *= blend(vel, cfg.VelocityWeight)
	}
	if cfg.PitchWeight > 0 {
		d := pitchClassDistance(pi.from.Note, pi.to.Note)
		w *= blend(1-float64(d)/12, cfg.PitchWeight)
	}
	if cfg.OctaveWeight > 0 {
		d := octaveDistance(pi.from.Note, pi.to.Note)
		w *= blend(1-float64(d)/11, cfg.OctaveWeight)
	}
	return w
}

// recencyWeight decays linearly with the age of the later onset so that
// stale intervals lose influence once the player shifts tempo. The
// oldest interval in the window keeps MinAgeWeight of full weight.
func recencyWeight(cfg model.Detection, pi pairInterval) float64 {
	if pi.span <= 0 {
		return 1
	}
	frac := float64(pi.age) / float64(pi.span)
	if frac > 1 {
		frac = 1
	}
	return 1 - (1-cfg.MinAgeWeight)*frac
}

// blend maps criterion value c in [0,1] to a multiplier in [1-w, 1].
func blend(c, w float64) float64 {
	if c < 0 {
		c = 0
	} else if c > 1 {
		c = 1
	}
	return 1 - w*(1-c)
}

func pitchClassDistance(a, b uint8) int {
	d := int(a%12) - int(b%12)
	if d < 0 {
		d = -d
	}
	if d > 6 {
		d = 12 - d
	}
	return d
}

func octaveDistance(a, b uint8) int {
	d := int(a/12) - int(b/12)
	if d < 0 {
		d = -d
	}
	return d
}
