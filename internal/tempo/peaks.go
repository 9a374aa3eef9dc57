package tempo

import (
	"math"
	"sort"

	"github.com/avolkin/midibeat/internal/model"
)

// peakSelector turns the raw curve into ranked hypotheses and a
// stabilized current estimate. It is the only stateful stage of the
// analysis pipeline: it remembers the previous estimate for hysteresis.
type peakSelector struct {
	prevBPM   float64
	prevScore float64
	hasPrev   bool
	smoothed  []float64
}

func (s *peakSelector) reset() {
	s.hasPrev = false
	s.prevBPM = 0
	s.prevScore = 0
}

// smoothCurve applies a centered moving average over the bins, reducing
// bin-quantization noise before peak extraction.
func smoothCurve(bins []float64, window int, dst []float64) []float64 {
	dst = append(dst[:0], bins...)
	if window <= 1 || len(bins) == 0 {
		return dst
	}
	half := window / 2
	for i := range bins {
		lo := i - half
		hi := i + half
		if lo < 0 {
			lo = 0
		}
		if hi >= len(bins) {
			hi = len(bins) - 1
		}
		var sum float64
		for j := lo; j <= hi; j++ {
			sum += bins[j]
		}
		dst[i] = sum / float64(hi-lo+1)
	}
	return dst
}

// selectPeaks extracts local maxima from the smoothed curve, ranks them
// by score descending with lower BPM breaking ties, and picks the
// current estimate. The top peak is only promoted when enough intervals
// back it, it stands out against the curve mean, and (with a previous
// estimate standing) it clears the hysteresis margin.
func (s *peakSelector) selectPeaks(cfg model.Detection, acc *accumulator, intervals int) ([]model.Hypothesis, model.Estimate) {
	s.smoothed = smoothCurve(acc.bins, cfg.SmoothingBins, s.smoothed)
	curve := s.smoothed

	var mean, max float64
	for _, v := range curve {
		mean += v
		if v > max {
			max = v
		}
	}
	if len(curve) > 0 {
		mean /= float64(len(curve))
	}
	if max <= 0 {
		s.reset()
		return nil, model.Estimate{}
	}

	hyps := make([]model.Hypothesis, 0, 8)
	for i := range curve {
		if !isLocalMax(curve, i) {
			continue
		}
		hyps = append(hyps, model.Hypothesis{
			BPM:        acc.bpmAt(i),
			Score:      curve[i],
			Confidence: curve[i] / max,
		})
	}
	sort.SliceStable(hyps, func(i, j int) bool {
		if hyps[i].Score != hyps[j].Score {
			return hyps[i].Score > hyps[j].Score
		}
		return hyps[i].BPM < hyps[j].BPM
	})

	if len(hyps) == 0 || intervals < cfg.MinIntervals || hyps[0].Score < cfg.MinProminence*mean {
		s.reset()
		return hyps, model.Estimate{}
	}

	chosen := hyps[0]
	if s.hasPrev {
		if prev, ok := nearestHypothesis(hyps, s.prevBPM, 2*cfg.Resolution); ok && prev.BPM != chosen.BPM {
			// Prefer the standing estimate unless the challenger clearly
			// wins; this stops flapping between close harmonics.
			if chosen.Score <= prev.Score*(1+cfg.HysteresisMargin) {
				chosen = prev
			}
		}
	}
	s.prevBPM = chosen.BPM
	s.prevScore = chosen.Score
	s.hasPrev = true

	return hyps, model.Estimate{BPM: chosen.BPM, Confidence: chosen.Confidence, OK: true}
}

// isLocalMax treats the first bin of a plateau as the maximum, which
// keeps peak positions deterministic and biased toward lower BPM.
func isLocalMax(curve []float64, i int) bool {
	v := curve[i]
	if v <= 0 {
		return false
	}
	if i > 0 {
		if curve[i-1] > v {
			return false
		}
		if curve[i-1] == v {
			return false // plateau continues from the left
		}
	}
	if i < len(curve)-1 && curve[i+1] > v {
		return false
	}
	return true
}

// nearestHypothesis finds the ranked peak closest to bpm within maxDist.
func nearestHypothesis(hyps []model.Hypothesis, bpm, maxDist float64) (model.Hypothesis, bool) {
	best := -1
	bestDist := maxDist
	for i, h := range hyps {
		d := math.Abs(h.BPM - bpm)
		if d <= bestDist {
			bestDist = d
			best = i
		}
	}
	if best < 0 {
		return model.Hypothesis{}, false
	}
	return hyps[best], true
}
