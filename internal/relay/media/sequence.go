package media

// SequenceTracker tracks RTP sequence numbers with rollover handling.
// RTP sequence numbers are 16-bit and wrap around at 65535; the tracker keeps
// an extended 32-bit counter so loss stays accurate across rollovers.
type SequenceTracker struct {
	initialized bool
	lastSeq     uint16
	cycles      uint32
	lost        uint64
	received    uint64
}

// Update records a received sequence number and returns the extended
// sequence number and the packets lost since the previous one.
func (s *SequenceTracker) Update(seq uint16) (extended uint32, lost int) {
	s.received++

	if !s.initialized {
		s.initialized = true
		s.lastSeq = seq
		return uint32(seq), 0
	}

	// Forward distance in uint16 space, read as signed for direction.
	diff := int16(seq - s.lastSeq)
	if diff <= 0 {
		// Duplicate or reordered packet.
		return (s.cycles << 16) | uint32(seq), 0
	}
	if diff > 1 {
		lost = int(diff) - 1
		s.lost += uint64(lost)
	}
	if seq < s.lastSeq {
		s.cycles++
	}

	s.lastSeq = seq
	return (s.cycles << 16) | uint32(seq), lost
}

// Stats returns cumulative counters.
func (s *SequenceTracker) Stats() (received, lost uint64) {
	return s.received, s.lost
}

// LossRate returns the packet loss rate as a fraction (0.0 to 1.0).
func (s *SequenceTracker) LossRate() float64 {
	if s.received == 0 && s.lost == 0 {
		return 0.0
	}
	return float64(s.lost) / float64(s.received+s.lost)
}

// Reset clears all tracking state, used when the source SSRC changes.
func (s *SequenceTracker) Reset() {
	*s = SequenceTracker{}
}
