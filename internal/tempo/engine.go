package tempo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"

	"github.com/avolkin/midibeat/internal/model"
)

// configSettle is how long a burst of configuration changes is allowed
// to settle before the worker re-evaluates with the final value.
const configSettle = 50 * time.Millisecond

// Engine is the tempo inference core. Record is safe to call from a
// latency-sensitive producer goroutine; analysis runs on whatever
// goroutine drives Run or Tick and publishes immutable snapshots that
// any number of readers consume without coordination.
type Engine struct {
	buf *OnsetBuffer
	pub *publisher

	pending   atomic.Pointer[model.Detection]
	resetReq  atomic.Bool
	notify    chan struct{}
	debounced func(func())

	// Worker-owned state below; tickMu serializes Run against manual
	// Tick calls, never the producer.
	tickMu sync.Mutex
	cfg    model.Detection
	acc    *accumulator
	sel    peakSelector
	onsets []model.Onset
	pairs  []pairInterval
	votes  []vote
}

// NewEngine validates the configuration and builds an engine with an
// empty published snapshot.
func NewEngine(cfg model.Detection) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		buf:       NewOnsetBuffer(model.MaxOnsetCapacity),
		pub:       newPublisher(),
		notify:    make(chan struct{}, 1),
		debounced: debounce.New(configSettle),
		cfg:       cfg,
		acc:       newAccumulator(cfg),
	}
	return e, nil
}

// Record appends a note onset and nudges the analysis side. It never
// blocks and performs no allocation; onsets with regressed timestamps
// are rejected and leave all state untouched.
func (e *Engine) Record(o model.Onset) error {
	if err := e.buf.Record(o); err != nil {
		return err
	}
	e.nudge()
	return nil
}

// Configure swaps in a new detection configuration. It is validated
// here, rejected outright if malformed, and applied atomically at the
// next tick boundary once changes stop arriving for a short settle
// period, so a slider drag does not trigger a recompute per step.
func (e *Engine) Configure(cfg model.Detection) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.pending.Store(&cfg)
	e.debounced(e.nudge)
	return nil
}

// Config returns the configuration in effect for the next tick.
func (e *Engine) Config() model.Detection {
	if p := e.pending.Load(); p != nil {
		return *p
	}
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	return e.cfg
}

// Reset clears all recorded onsets and schedules an empty snapshot. The
// producer needs no coordination; it keeps recording as normal.
func (e *Engine) Reset() {
	e.resetReq.Store(true)
	e.nudge()
}

// Snapshot returns the latest published result bundle. Calling it twice
// without an intervening tick returns the identical snapshot.
func (e *Engine) Snapshot() *model.Snapshot {
	return e.pub.current()
}

// Run drives analysis ticks until the context is canceled. Wake-ups are
// coalesced: a burst of onsets produces one tick over the full batch.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.notify:
			e.Tick()
		}
	}
}

// Tick performs one full analysis pass: apply pending configuration,
// honor a reset, copy the onset window, extract intervals, accumulate
// votes, select peaks, and publish the snapshot. Callable directly when
// the host schedules analysis itself.
func (e *Engine) Tick() {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if p := e.pending.Swap(nil); p != nil {
		e.cfg = *p
		e.acc = newAccumulator(e.cfg)
		e.sel.reset()
	}
	if e.resetReq.Swap(false) {
		e.buf.Reset()
		e.sel.reset()
	}

	e.onsets = e.buf.Onsets(e.cfg.Window, e.onsets[:0])
	e.pairs = extractIntervals(e.onsets, e.cfg.MinInterval, e.pairs[:0])

	e.acc.reset()
	e.votes = e.votes[:0]
	for _, pi := range e.pairs {
		e.votes = mapVotes(e.cfg, pi, e.votes[:0])
		for _, v := range e.votes {
			e.acc.add(v)
		}
	}

	hyps, est := e.sel.selectPeaks(e.cfg, e.acc, len(e.pairs))

	e.pub.publish(&model.Snapshot{
		Curve:      e.acc.curvePoints(e.sel.smoothed),
		Hypotheses: hyps,
		Estimate:   est,
		Onsets:     len(e.onsets),
		Intervals:  len(e.pairs),
	})
}

func (e *Engine) nudge() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}
