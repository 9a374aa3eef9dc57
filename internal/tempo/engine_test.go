package tempo

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkin/midibeat/internal/model"
)

func newTestEngine(t *testing.T, cfg model.Detection) *Engine {
	t.Helper()
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func record(t *testing.T, e *Engine, ms int) {
	t.Helper()
	require.NoError(t, e.Record(model.Onset{
		Timestamp: time.Duration(ms) * time.Millisecond,
		Note:      60,
		Velocity:  100,
	}))
}

// scoreNear returns the curve score at the bin closest to bpm.
func scoreNear(s *model.Snapshot, bpm float64) float64 {
	best := -1
	bestDist := math.Inf(1)
	for i, p := range s.Curve {
		if d := math.Abs(p.BPM - bpm); d < bestDist {
			bestDist = d
			best = i
		}
	}
	if best < 0 {
		return 0
	}
	return s.Curve[best].Score
}

// hypothesisNear finds a ranked hypothesis within dist of bpm.
func hypothesisNear(s *model.Snapshot, bpm, dist float64) (int, model.Hypothesis, bool) {
	for i, h := range s.Hypotheses {
		if math.Abs(h.BPM-bpm) <= dist {
			return i, h, true
		}
	}
	return -1, model.Hypothesis{}, false
}

// Two onsets exactly 0.5s apart with no harmonic search must land on
// 120 BPM.
func TestScenarioTwoOnsets(t *testing.T) {
	cfg := testDetection()
	cfg.Range = model.TempoRange{Min: 60, Max: 180}
	cfg.MaxHarmonic = 1
	cfg.MinIntervals = 1
	e := newTestEngine(t, cfg)

	record(t, e, 0)
	record(t, e, 500)
	e.Tick()

	s := e.Snapshot()
	require.True(t, s.Estimate.OK, "expected a confident estimate")
	assert.InDelta(t, 120, s.Estimate.BPM, cfg.Resolution)
	require.NotEmpty(t, s.Hypotheses)
	assert.InDelta(t, 120, s.Hypotheses[0].BPM, cfg.Resolution)
}

// A steady 500ms pulse strengthens the 120 BPM score with every onset.
func TestScenarioSteadyPulse(t *testing.T) {
	cfg := testDetection()
	cfg.Range = model.TempoRange{Min: 60, Max: 180}
	cfg.MinIntervals = 1
	e := newTestEngine(t, cfg)

	prev := 0.0
	for i := 0; i < 8; i++ {
		record(t, e, i*500)
		e.Tick()
		if i == 0 {
			continue
		}
		score := scoreNear(e.Snapshot(), 120)
		assert.Greater(t, score, prev, "score at 120 BPM must grow with onset %d", i)
		prev = score
	}

	s := e.Snapshot()
	require.True(t, s.Estimate.OK)
	assert.InDelta(t, 120, s.Estimate.BPM, cfg.Resolution)
}

// Alternating 500ms/250ms spacing (eighth-note subdivision) must show
// peaks at both 120 and 240 BPM with the fundamental ranked at least as
// high as the harmonic.
func TestScenarioSubdivision(t *testing.T) {
	cfg := testDetection()
	cfg.Range = model.TempoRange{Min: 60, Max: 300}
	cfg.MaxHarmonic = 2
	cfg.MinIntervals = 1
	cfg.Tolerance = model.Tolerance{Absolute: 10 * time.Millisecond, Shape: model.FalloffGaussian}
	e := newTestEngine(t, cfg)

	ts := 0
	record(t, e, ts)
	for i := 0; i < 8; i++ {
		if i%2 == 0 {
			ts += 500
		} else {
			ts += 250
		}
		record(t, e, ts)
	}
	e.Tick()

	s := e.Snapshot()
	rankFund, fund, okFund := hypothesisNear(s, 120, 2)
	require.True(t, okFund, "no peak near 120 BPM: %+v", s.Hypotheses)
	rankHarm, harm, okHarm := hypothesisNear(s, 240, 2)
	require.True(t, okHarm, "no peak near 240 BPM: %+v", s.Hypotheses)

	assert.LessOrEqual(t, rankFund, rankHarm, "fundamental ranked below harmonic")
	assert.GreaterOrEqual(t, fund.Score, harm.Score)
}

// Below the evidence threshold the snapshot must report no confident
// estimate.
func TestScenarioInsufficientEvidence(t *testing.T) {
	cfg := testDetection()
	cfg.MinIntervals = 3
	e := newTestEngine(t, cfg)

	record(t, e, 0)
	record(t, e, 500)
	e.Tick()

	s := e.Snapshot()
	assert.False(t, s.Estimate.OK)
	assert.Equal(t, 1, s.Intervals)
}

// Reset erases all prior influence: history before the reset must not
// seep into the next snapshot.
func TestScenarioReset(t *testing.T) {
	cfg := testDetection()
	cfg.MinIntervals = 3
	e := newTestEngine(t, cfg)

	for i := 0; i < 8; i++ {
		record(t, e, i*500)
	}
	e.Tick()
	require.True(t, e.Snapshot().Estimate.OK)

	e.Reset()
	record(t, e, 5000)
	e.Tick()

	s := e.Snapshot()
	assert.False(t, s.Estimate.OK, "estimate survived reset")
	assert.Equal(t, 1, s.Onsets)
	assert.Equal(t, 0, s.Intervals)
	assert.Empty(t, s.Hypotheses)
}

func TestSnapshotIdempotent(t *testing.T) {
	e := newTestEngine(t, testDetection())
	record(t, e, 0)
	record(t, e, 500)
	e.Tick()

	a := e.Snapshot()
	b := e.Snapshot()
	assert.Same(t, a, b, "snapshot changed without an intervening tick")
}

func TestGenerationMonotonic(t *testing.T) {
	e := newTestEngine(t, testDetection())
	last := e.Snapshot().Generation
	for i := 0; i < 5; i++ {
		record(t, e, i*500)
		e.Tick()
		gen := e.Snapshot().Generation
		require.Greater(t, gen, last, "generation did not advance on tick %d", i)
		last = gen
	}
}

func TestDeterministicRuns(t *testing.T) {
	cfg := testDetection()
	run := func() *model.Snapshot {
		e := newTestEngine(t, cfg)
		ts := 0
		for i := 0; i < 12; i++ {
			ts += 300 + (i%3)*110
			require.NoError(t, e.Record(model.Onset{
				Timestamp: time.Duration(ts) * time.Millisecond,
				Note:      uint8(48 + i),
				Velocity:  uint8(64 + i),
			}))
			e.Tick()
		}
		return e.Snapshot()
	}

	a := run()
	b := run()
	require.Equal(t, len(a.Curve), len(b.Curve))
	for i := range a.Curve {
		assert.Equal(t, a.Curve[i], b.Curve[i], "curve bin %d diverged", i)
	}
	assert.Equal(t, a.Hypotheses, b.Hypotheses)
	assert.Equal(t, a.Estimate, b.Estimate)
}

func TestConfigureAppliedAtTick(t *testing.T) {
	cfg := testDetection()
	cfg.Range = model.TempoRange{Min: 60, Max: 180}
	cfg.Resolution = 1.0
	e := newTestEngine(t, cfg)

	record(t, e, 0)
	record(t, e, 500)
	e.Tick()
	require.Len(t, e.Snapshot().Curve, 121)

	next := cfg
	next.Range = model.TempoRange{Min: 60, Max: 240}
	require.NoError(t, e.Configure(next))
	e.Tick()
	assert.Len(t, e.Snapshot().Curve, 181, "new range not applied at tick boundary")
}

func TestConfigureRejectsInvalid(t *testing.T) {
	e := newTestEngine(t, testDetection())

	bad := testDetection()
	bad.Range = model.TempoRange{Min: 180, Max: 60}
	err := e.Configure(bad)
	require.ErrorIs(t, err, model.ErrInvalidConfig)

	bad = testDetection()
	bad.Tolerance = model.Tolerance{}
	require.ErrorIs(t, e.Configure(bad), model.ErrInvalidConfig)

	// The live configuration is untouched by rejected changes.
	assert.NoError(t, e.Config().Validate())
}

func TestRecordRejectsRegression(t *testing.T) {
	e := newTestEngine(t, testDetection())
	record(t, e, 1000)
	err := e.Record(model.Onset{Timestamp: 500 * time.Millisecond})
	require.ErrorIs(t, err, ErrClockRegression)

	// The rejected onset must not corrupt analysis state.
	e.Tick()
	assert.Equal(t, 1, e.Snapshot().Onsets)
}

func TestVotesNeverEscapeRange(t *testing.T) {
	cfg := testDetection()
	cfg.Range = model.TempoRange{Min: 90, Max: 150}
	cfg.MaxHarmonic = 8
	cfg.MinIntervals = 1
	e := newTestEngine(t, cfg)

	// Wild spacing mixing very short and very long gaps.
	for i, ms := range []int{0, 40, 90, 1100, 1150, 4000, 4030, 9000} {
		require.NoError(t, e.Record(model.Onset{
			Timestamp: time.Duration(ms) * time.Millisecond,
			Note:      uint8(50 + i),
			Velocity:  90,
		}))
	}
	e.Tick()

	s := e.Snapshot()
	for _, p := range s.Curve {
		assert.GreaterOrEqual(t, p.BPM, 90.0)
		assert.LessOrEqual(t, p.BPM, 150.0)
	}
	for _, h := range s.Hypotheses {
		assert.True(t, cfg.Range.Contains(h.BPM), "hypothesis %g escaped range", h.BPM)
	}
}
