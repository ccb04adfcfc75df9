package bus

import (
	"sync"

	"custos/internal/logger"
)

// Sequencer releases messages to its sink strictly in sequence order.
// Out-of-order arrivals are buffered until the gap fills; sequence numbers
// at or below the high-water mark are duplicates and are dropped.
type Sequencer struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]any
	maxBuf  int
	sink    func(seq uint64, payload any)
}

// NewSequencer starts expecting sequence number first. maxBuf bounds the
// reorder buffer; on overflow the oldest gap is declared lost and the
// stream resumes past it.
func NewSequencer(first uint64, maxBuf int, sink func(seq uint64, payload any)) *Sequencer {
	if maxBuf <= 0 {
		maxBuf = 256
	}
	return &Sequencer{
		next:    first,
		pending: make(map[uint64]any),
		maxBuf:  maxBuf,
		sink:    sink,
	}
}

// Offer accepts a message with its sequence number. It returns true when the
// message was consumed (delivered or buffered), false when it was a replay.
func (s *Sequencer) Offer(seq uint64, payload any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq < s.next {
		logger.Debugf("sequencer: dropping replayed seq=%d (next=%d)", seq, s.next)
		return false
	}
	if seq == s.next {
		s.deliver(seq, payload)
		s.drain()
		return true
	}
	if _, dup := s.pending[seq]; dup {
		return false
	}
	s.pending[seq] = payload
	if len(s.pending) > s.maxBuf {
		s.skipGap()
	}
	return true
}

// Pending returns the number of buffered out-of-order messages.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Sequencer) deliver(seq uint64, payload any) {
	s.next = seq + 1
	if s.sink != nil {
		s.sink(seq, payload)
	}
}

func (s *Sequencer) drain() {
	for {
		payload, ok := s.pending[s.next]
		if !ok {
			return
		}
		delete(s.pending, s.next)
		s.deliver(s.next, payload)
	}
}

// skipGap abandons the lowest missing sequence number and releases what it
// was blocking. Called only when the reorder buffer overflows.
func (s *Sequencer) skipGap() {
	lowest := uint64(0)
	found := false
	for seq := range s.pending {
		if !found || seq < lowest {
			lowest = seq
			found = true
		}
	}
	if !found {
		return
	}
	logger.Warnf("sequencer: buffer overflow, skipping gap %d..%d", s.next, lowest-1)
	payload := s.pending[lowest]
	delete(s.pending, lowest)
	s.deliver(lowest, payload)
	s.drain()
}
