package tempo

import (
	"testing"

	"github.com/avolkin/midibeat/internal/model"
)

func TestSmoothCurve(t *testing.T) {
	bins := []float64{0, 0, 9, 0, 0}
	got := smoothCurve(bins, 3, nil)
	want := []float64{0, 3, 3, 3, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bin %d: expected %g, got %g (%v)", i, want[i], got[i], got)
		}
	}
	// Window of 1 is a copy.
	got = smoothCurve(bins, 1, got)
	for i := range bins {
		if got[i] != bins[i] {
			t.Fatalf("smoothing with window 1 altered bin %d", i)
		}
	}
}

func selectorConfig() model.Detection {
	cfg := testDetection()
	cfg.Range = model.TempoRange{Min: 60, Max: 180}
	cfg.Resolution = 1.0
	cfg.SmoothingBins = 1
	cfg.MinIntervals = 1
	cfg.MinProminence = 1.0
	return cfg
}

func accWithBins(cfg model.Detection, fill func(a *accumulator)) *accumulator {
	a := newAccumulator(cfg)
	fill(a)
	return a
}

func TestSelectPeaksRanking(t *testing.T) {
	cfg := selectorConfig()
	a := accWithBins(cfg, func(a *accumulator) {
		a.bins[a.binOf(120)] = 10
		a.bins[a.binOf(90)] = 6
		a.bins[a.binOf(150)] = 6
	})

	var sel peakSelector
	hyps, est := sel.selectPeaks(cfg, a, 5)
	if !est.OK {
		t.Fatal("expected a confident estimate")
	}
	if est.BPM != 120 {
		t.Fatalf("expected 120 BPM, got %g", est.BPM)
	}
	if len(hyps) != 3 {
		t.Fatalf("expected 3 hypotheses, got %d", len(hyps))
	}
	// Equal scores break ties toward the lower BPM.
	if hyps[1].BPM != 90 || hyps[2].BPM != 150 {
		t.Fatalf("tie break wrong: %+v", hyps)
	}
	if hyps[0].Confidence != 1 {
		t.Fatalf("top confidence should normalize to 1, got %g", hyps[0].Confidence)
	}
}

func TestSelectPeaksEvidenceGate(t *testing.T) {
	cfg := selectorConfig()
	cfg.MinIntervals = 4
	a := accWithBins(cfg, func(a *accumulator) {
		a.bins[a.binOf(120)] = 10
	})

	var sel peakSelector
	_, est := sel.selectPeaks(cfg, a, 3)
	if est.OK {
		t.Fatal("estimate promoted below the evidence threshold")
	}
}

func TestSelectPeaksProminenceGate(t *testing.T) {
	cfg := selectorConfig()
	cfg.MinProminence = 3.0
	a := accWithBins(cfg, func(a *accumulator) {
		// Flat-ish curve: the "peak" barely rises above the mean.
		for i := range a.bins {
			a.bins[i] = 1
		}
		a.bins[a.binOf(120)] = 1.5
	})

	var sel peakSelector
	_, est := sel.selectPeaks(cfg, a, 10)
	if est.OK {
		t.Fatal("estimate promoted without prominence")
	}
}

func TestSelectPeaksHysteresis(t *testing.T) {
	cfg := selectorConfig()
	cfg.HysteresisMargin = 0.2

	var sel peakSelector

	a := accWithBins(cfg, func(a *accumulator) {
		a.bins[a.binOf(120)] = 10
		a.bins[a.binOf(90)] = 2 // decoy well below
	})
	_, est := sel.selectPeaks(cfg, a, 5)
	if est.BPM != 120 {
		t.Fatalf("setup: expected 120, got %g", est.BPM)
	}

	// A challenger inside the margin must not displace the estimate.
	a2 := accWithBins(cfg, func(a *accumulator) {
		a.bins[a.binOf(120)] = 10
		a.bins[a.binOf(130)] = 11
	})
	_, est = sel.selectPeaks(cfg, a2, 5)
	if est.BPM != 120 {
		t.Fatalf("hysteresis failed: estimate flapped to %g", est.BPM)
	}

	// A challenger beyond the margin wins.
	a3 := accWithBins(cfg, func(a *accumulator) {
		a.bins[a.binOf(120)] = 10
		a.bins[a.binOf(130)] = 13
	})
	_, est = sel.selectPeaks(cfg, a3, 5)
	if est.BPM != 130 {
		t.Fatalf("expected challenger to win beyond margin, got %g", est.BPM)
	}
}

func TestSelectPeaksEmptyCurve(t *testing.T) {
	cfg := selectorConfig()
	a := newAccumulator(cfg)

	var sel peakSelector
	hyps, est := sel.selectPeaks(cfg, a, 0)
	if est.OK || len(hyps) != 0 {
		t.Fatalf("empty curve must yield no estimate, got %+v / %+v", hyps, est)
	}
}

func TestSelectPeaksDeterministic(t *testing.T) {
	cfg := selectorConfig()
	cfg.SmoothingBins = 3
	fill := func(a *accumulator) {
		for i := range a.bins {
			a.bins[i] = float64((i*7)%13) / 13
		}
	}

	var selA, selB peakSelector
	hypsA, estA := selA.selectPeaks(cfg, accWithBins(cfg, fill), 10)
	hypsB, estB := selB.selectPeaks(cfg, accWithBins(cfg, fill), 10)
	if estA != estB {
		t.Fatalf("estimates diverged: %+v vs %+v", estA, estB)
	}
	if len(hypsA) != len(hypsB) {
		t.Fatalf("hypothesis counts diverged: %d vs %d", len(hypsA), len(hypsB))
	}
	for i := range hypsA {
		if hypsA[i] != hypsB[i] {
			t.Fatalf("hypothesis %d diverged: %+v vs %+v", i, hypsA[i], hypsB[i])
		}
	}
}
