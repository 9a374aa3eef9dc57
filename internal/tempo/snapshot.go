package tempo

import (
	"sync/atomic"

	"github.com/avolkin/midibeat/internal/model"
)

// publisher atomically swaps in each tick's snapshot. Readers always see
// either the old or the new complete snapshot; neither side ever blocks
// the other. The generation counter lets readers detect staleness
// without copying the curve.
type publisher struct {
	cur atomic.Pointer[model.Snapshot]
	gen atomic.Uint64
}

func newPublisher() *publisher {
	p := &publisher{}
	p.cur.Store(&model.Snapshot{})
	return p
}

// publish stamps the snapshot with the next generation and makes it the
// current one. The snapshot must not be mutated after this call.
func (p *publisher) publish(s *model.Snapshot) {
	s.Generation = p.gen.Add(1)
	p.cur.Store(s)
}

// current returns the latest published snapshot. Never nil.
func (p *publisher) current() *model.Snapshot {
	return p.cur.Load()
}
