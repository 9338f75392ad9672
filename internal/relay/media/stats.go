// Package media keeps per-leg traffic statistics for relayed RTP streams.
// The relay forwards payloads opaquely; headers are only inspected here.
package media

import (
	"time"

	"github.com/pion/rtp"
)

// LegStats accumulates counters for one leg. The zero value is ready to use.
type LegStats struct {
	packetsIn  uint64
	bytesIn    uint64
	packetsOut uint64
	bytesOut   uint64
	nonRTP     uint64

	ssrc        uint32
	payloadType uint8
	seq         SequenceTracker
	lastIn      time.Time
	lastOut     time.Time
}

// Snapshot is a copy of LegStats safe to hand to other goroutines.
type Snapshot struct {
	PacketsIn   uint64    `json:"packets_in"`
	BytesIn     uint64    `json:"bytes_in"`
	PacketsOut  uint64    `json:"packets_out"`
	BytesOut    uint64    `json:"bytes_out"`
	NonRTP      uint64    `json:"non_rtp"`
	Lost        uint64    `json:"lost"`
	LossRate    float64   `json:"loss_rate"`
	SSRC        uint32    `json:"ssrc"`
	PayloadType uint8     `json:"payload_type"`
	LastIn      time.Time `json:"last_in,omitempty"`
	LastOut     time.Time `json:"last_out,omitempty"`
}

// Inbound records a datagram received from the leg's remote party.
func (s *LegStats) Inbound(now time.Time, data []byte) {
	s.packetsIn++
	s.bytesIn += uint64(len(data))
	s.lastIn = now

	var hdr rtp.Header
	if _, err := hdr.Unmarshal(data); err != nil || hdr.Version != 2 {
		s.nonRTP++
		return
	}
	if hdr.SSRC != s.ssrc {
		s.ssrc = hdr.SSRC
		s.seq.Reset()
	}
	s.payloadType = hdr.PayloadType
	s.seq.Update(hdr.SequenceNumber)
}

// Outbound records a payload of n bytes sent towards the remote party.
func (s *LegStats) Outbound(now time.Time, n int) {
	s.packetsOut++
	s.bytesOut += uint64(n)
	s.lastOut = now
}

// Snapshot copies the current counters.
func (s *LegStats) Snapshot() Snapshot {
	_, lost := s.seq.Stats()
	return Snapshot{
		PacketsIn:   s.packetsIn,
		BytesIn:     s.bytesIn,
		PacketsOut:  s.packetsOut,
		BytesOut:    s.bytesOut,
		NonRTP:      s.nonRTP,
		Lost:        lost,
		LossRate:    s.seq.LossRate(),
		SSRC:        s.ssrc,
		PayloadType: s.payloadType,
		LastIn:      s.lastIn,
		LastOut:     s.lastOut,
	}
}
