// Package model defines shared data structures.
package model

import "time"

// Onset is a single qualifying note-on event, stamped on a monotonic
// clock relative to the start of the input stream. Note and Velocity are
// kept for vote weighting only; timing comes from Timestamp alone.
type Onset struct {
	Timestamp time.Duration
	Note      uint8
	Velocity  uint8
}

// TempoRange bounds the BPM domain of the analysis.
type TempoRange struct {
	Min float64
	Max float64
}

// Span returns the width of the range in BPM.
func (r TempoRange) Span() float64 {
	return r.Max - r.Min
}

// Contains reports whether bpm falls inside the range, inclusive.
func (r TempoRange) Contains(bpm float64) bool {
	return bpm >= r.Min && bpm <= r.Max
}

// FalloffShape selects how a vote's weight decays across neighboring
// BPM values inside the tolerance margin.
type FalloffShape string

const (
	// FalloffTriangular decays linearly from the candidate BPM to zero
	// at the edge of the tolerance margin.
	FalloffTriangular FalloffShape = "triangular"
	// FalloffGaussian decays along a normal curve truncated at the edge
	// of the tolerance margin.
	FalloffGaussian FalloffShape = "gaussian"
)

// Tolerance is the margin of error allowed between an observed interval
// and an exact harmonic match. Absolute takes precedence when set;
// otherwise Relative is interpreted as a fraction of the candidate beat
// period.
type Tolerance struct {
	Absolute time.Duration
	Relative float64
	Shape    FalloffShape
}

// Window bounds how many and how far back onsets are retained.
type Window struct {
	MaxOnsets int
	MaxAge    time.Duration
}

// Detection carries every tunable of the tempo inference engine. It is
// treated as an immutable value: configuration changes swap in a whole
// new Detection at a tick boundary.
type Detection struct {
	Range     TempoRange
	Tolerance Tolerance
	Window    Window

	// Resolution is the BPM width of one curve bin.
	Resolution float64
	// MaxHarmonic bounds the integer harmonic/subharmonic search: an
	// interval may span up to MaxHarmonic beats, or subdivide a beat up
	// to MaxHarmonic times.
	MaxHarmonic int
	// HarmonicDecay reduces vote weight per harmonic step; higher
	// harmonics are less certain interpretations of an interval.
	HarmonicDecay float64

	// MinInterval rejects deltas caused by retrigger jitter and
	// near-simultaneous chord notes.
	MinInterval time.Duration
	// MinIntervals is the evidence gate: fewer qualifying intervals than
	// this yields no confident estimate.
	MinIntervals int
	// MinProminence gates the top peak: its smoothed score must exceed
	// the curve mean by this factor.
	MinProminence float64
	// HysteresisMargin keeps the previous estimate unless a competing
	// peak beats its score by this fraction.
	HysteresisMargin float64
	// SmoothingBins is the moving-average window applied to the raw
	// curve before peak extraction.
	SmoothingBins int

	// MinAgeWeight floors the recency decay: the oldest interval in the
	// window still contributes this fraction of full weight.
	MinAgeWeight float64
	// VelocityWeight, PitchWeight and OctaveWeight shape votes by how
	// hard and how close together the two notes were played. Zero
	// disables a criterion.
	VelocityWeight float64
	PitchWeight    float64
	OctaveWeight   float64
}

// Hypothesis is one candidate tempo with its accumulated score and its
// confidence normalized against the curve maximum.
type Hypothesis struct {
	BPM        float64
	Score      float64
	Confidence float64
}

// CurvePoint is one sample of the score curve over the tempo range.
type CurvePoint struct {
	BPM   float64
	Score float64
}

// Estimate is the stabilized best guess. OK is false while the engine
// has not yet seen enough evidence; callers must treat that as a valid,
// displayable state.
type Estimate struct {
	BPM        float64
	Confidence float64
	OK         bool
}

// Snapshot is an immutable result bundle published at the end of each
// analysis tick. Readers may hold it as long as they like; it is
// superseded, never mutated.
type Snapshot struct {
	Generation uint64
	Curve      []CurvePoint
	Hypotheses []Hypothesis
	Estimate   Estimate
	Onsets     int
	Intervals  int
}
