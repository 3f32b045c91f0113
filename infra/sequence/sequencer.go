package sequence

import "sync/atomic"

// Sequencer issues strictly increasing acceptance sequence numbers.
// Within one market worker they are also the FIFO tie-break of the book.
type Sequencer struct {
	last atomic.Uint64
}

// New starts after the given value: 0 on a fresh start, the last journaled
// sequence after replay.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued sequence.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Observe raises the sequencer to at least v. Replay calls it with every
// journaled sequence so that new numbers never collide with old ones.
func (s *Sequencer) Observe(v uint64) {
	for {
		cur := s.last.Load()
		if v <= cur || s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}
