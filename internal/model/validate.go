package model

import (
	"errors"
	"fmt"
	"time"
)

// MaxOnsetCapacity is the hard upper bound on retained onsets; the onset
// buffer's backing ring is sized to it once and never reallocated.
const MaxOnsetCapacity = 4096

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate rejects a degenerate tempo range.
func (r TempoRange) Validate() error {
	if r.Min <= 0 {
		return invalidf("min bpm must be positive, got %g", r.Min)
	}
	if r.Min >= r.Max {
		return invalidf("min bpm %g must be below max bpm %g", r.Min, r.Max)
	}
	return nil
}

// Validate requires exactly one positive margin and a known shape.
func (t Tolerance) Validate() error {
	if t.Absolute <= 0 && t.Relative <= 0 {
		return invalidf("tolerance must be positive")
	}
	if t.Absolute > 0 && t.Relative > 0 {
		return invalidf("tolerance must be absolute or relative, not both")
	}
	if t.Relative >= 1 {
		return invalidf("relative tolerance %g must be below 1", t.Relative)
	}
	switch t.Shape {
	case FalloffTriangular, FalloffGaussian:
		return nil
	default:
		return invalidf("unknown falloff shape %q", t.Shape)
	}
}

// Validate bounds the analysis window.
func (w Window) Validate() error {
	if w.MaxOnsets < 2 {
		return invalidf("window must retain at least 2 onsets, got %d", w.MaxOnsets)
	}
	if w.MaxOnsets > MaxOnsetCapacity {
		return invalidf("window of %d onsets exceeds capacity %d", w.MaxOnsets, MaxOnsetCapacity)
	}
	if w.MaxAge <= 0 {
		return invalidf("window max age must be positive, got %s", w.MaxAge)
	}
	return nil
}

// Validate checks the whole detection configuration. It never clamps:
// out-of-bounds values are rejected so the caller can report them.
func (d Detection) Validate() error {
	if err := d.Range.Validate(); err != nil {
		return err
	}
	if err := d.Tolerance.Validate(); err != nil {
		return err
	}
	if err := d.Window.Validate(); err != nil {
		return err
	}
	if d.Resolution <= 0 {
		return invalidf("curve resolution must be positive, got %g", d.Resolution)
	}
	if d.Resolution > d.Range.Span() {
		return invalidf("curve resolution %g exceeds tempo range span %g", d.Resolution, d.Range.Span())
	}
	if d.MaxHarmonic < 1 {
		return invalidf("max harmonic must be at least 1, got %d", d.MaxHarmonic)
	}
	if d.HarmonicDecay < 0 {
		return invalidf("harmonic decay must not be negative, got %g", d.HarmonicDecay)
	}
	if d.MinInterval < 0 {
		return invalidf("min interval must not be negative, got %s", d.MinInterval)
	}
	if d.MinIntervals < 1 {
		return invalidf("min intervals must be at least 1, got %d", d.MinIntervals)
	}
	if d.MinProminence < 1 {
		return invalidf("min prominence must be at least 1, got %g", d.MinProminence)
	}
	if d.HysteresisMargin < 0 {
		return invalidf("hysteresis margin must not be negative, got %g", d.HysteresisMargin)
	}
	if d.SmoothingBins < 1 {
		return invalidf("smoothing bins must be at least 1, got %d", d.SmoothingBins)
	}
	if d.MinAgeWeight < 0 || d.MinAgeWeight > 1 {
		return invalidf("min age weight %g must be within [0,1]", d.MinAgeWeight)
	}
	for _, w := range []struct {
		name  string
		value float64
	}{
		{"velocity weight", d.VelocityWeight},
		{"pitch weight", d.PitchWeight},
		{"octave weight", d.OctaveWeight},
	} {
		if w.value < 0 || w.value > 1 {
			return invalidf("%s %g must be within [0,1]", w.name, w.value)
		}
	}
	return nil
}

// DefaultDetection returns the stock engine tuning: a wide pop/rock
// tempo range with a 4-beat harmonic search and moderate smoothing.
func DefaultDetection() Detection {
	return Detection{
		Range: TempoRange{Min: 50, Max: 200},
		Tolerance: Tolerance{
			Absolute: 25 * time.Millisecond,
			Shape:    FalloffGaussian,
		},
		Window: Window{
			MaxOnsets: 64,
			MaxAge:    12 * time.Second,
		},
		Resolution:       0.5,
		MaxHarmonic:      4,
		HarmonicDecay:    0.5,
		MinInterval:      30 * time.Millisecond,
		MinIntervals:     3,
		MinProminence:    2.0,
		HysteresisMargin: 0.1,
		SmoothingBins:    3,
		MinAgeWeight:     0.25,
		VelocityWeight:   0.5,
		PitchWeight:      0.3,
		OctaveWeight:     0.3,
	}
}
