package tempo

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/avolkin/midibeat/internal/model"
)

// gaussianSigma is the normal falloff's standard deviation measured in
// tolerance half-widths, so the curve has decayed to roughly 4% of full
// weight at the edge of the margin before being truncated to zero.
const gaussianSigma = 0.4

// accumulator folds votes into a fixed-resolution score curve over the
// tempo range. It is rebuilt from scratch each tick from the full
// current window, so no drift can accumulate across ticks.
type accumulator struct {
	cfg  model.Detection
	bins []float64
	norm distuv.Normal
	peak float64 // norm density at zero offset, for normalization
}

func newAccumulator(cfg model.Detection) *accumulator {
	n := int(cfg.Range.Span()/cfg.Resolution) + 1
	norm := distuv.Normal{Mu: 0, Sigma: gaussianSigma}
	return &accumulator{
		cfg:  cfg,
		bins: make([]float64, n),
		norm: norm,
		peak: norm.Prob(0),
	}
}

func (a *accumulator) reset() {
	for i := range a.bins {
		a.bins[i] = 0
	}
}

func (a *accumulator) bpmAt(i int) float64 {
	return a.cfg.Range.Min + float64(i)*a.cfg.Resolution
}

// add spreads one vote across the bins its tolerance band covers: full
// weight at the candidate BPM, decaying to zero at the edge of the
// margin. This is how a single physical interval supports a band of
// nearby tempi instead of one exact bin.
func (a *accumulator) add(v vote) {
	half := a.halfWidthBPM(v)
	if half < a.cfg.Resolution {
		// Band narrower than one bin: all weight to the nearest bin.
		if i := a.binOf(v.bpm); i >= 0 {
			a.bins[i] += v.weight
		}
		return
	}
	lo := int(math.Ceil((v.bpm - half - a.cfg.Range.Min) / a.cfg.Resolution))
	hi := int(math.Floor((v.bpm + half - a.cfg.Range.Min) / a.cfg.Resolution))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(a.bins) {
		hi = len(a.bins) - 1
	}
	for i := lo; i <= hi; i++ {
		off := math.Abs(a.bpmAt(i)-v.bpm) / half
		if off > 1 {
			continue
		}
		a.bins[i] += v.weight * a.falloff(off)
	}
}

// halfWidthBPM converts the timing tolerance into a BPM half-width
// around the candidate. For bpm = 60k/gap (and its subdivision twin)
// the sensitivity to a timing error t is bpm*t/gap in either direction.
func (a *accumulator) halfWidthBPM(v vote) float64 {
	tol := a.cfg.Tolerance
	t := tol.Absolute.Seconds()
	if t <= 0 {
		// Relative tolerance is a fraction of the candidate beat period.
		t = tol.Relative * 60 / v.bpm
	}
	return v.bpm * t / v.gap.Seconds()
}

// falloff maps a normalized offset in [0,1] to a weight factor in (0,1].
func (a *accumulator) falloff(off float64) float64 {
	if a.cfg.Tolerance.Shape == model.FalloffGaussian {
		return a.norm.Prob(off) / a.peak
	}
	return 1 - off
}

func (a *accumulator) binOf(bpm float64) int {
	i := int(math.Round((bpm - a.cfg.Range.Min) / a.cfg.Resolution))
	if i < 0 || i >= len(a.bins) {
		return -1
	}
	return i
}

// curvePoints materializes the bins as (BPM, score) samples.
func (a *accumulator) curvePoints(scores []float64) []model.CurvePoint {
	out := make([]model.CurvePoint, len(scores))
	for i, s := range scores {
		out[i] = model.CurvePoint{BPM: a.bpmAt(i), Score: s}
	}
	return out
}
