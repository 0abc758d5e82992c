// Package sqn allocates the sequence numbers used to correlate outbound commands.
//
// The internal sequence number identifies a command inside the link for its whole lifetime;
// it is monotonic and never reused while the Allocator lives. The per-layer counters (ZCL,
// ZDP, APS) are 8-bit wrapping counters mirroring what the coordinator firmware tracks; they
// are informational and surfaced in diagnostics.
package sqn

import (
	"sync/atomic"
)

// Number is an internal sequence number. Zero is never allocated.
type Number uint64

// Allocator produces sequence numbers.
type Allocator interface {
	// Allocate returns a fresh, process-unique sequence number.
	Allocate() Number
}

// Layer identifies a protocol layer with its own 8-bit counter.
type Layer uint8

const (
	LayerZCL Layer = iota
	LayerZDP
	LayerAPS
	layerCount
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerZCL:
		return "zcl"
	case LayerZDP:
		return "zdp"
	case LayerAPS:
		return "aps"
	default:
		return "unknown"
	}
}

// Stack is the default Allocator. It is safe for concurrent use.
type Stack struct {
	internal atomic.Uint64
	layers   [layerCount]atomic.Uint32
	current  atomic.Int32 // last sqn reported by the coordinator, -1 if none
}

var _ Allocator = (*Stack)(nil)

// NewStack creates a Stack with all counters at their initial values.
func NewStack() *Stack {
	s := &Stack{}
	s.current.Store(-1)

	return s
}

// Allocate returns the next internal sequence number, starting at 1.
func (s *Stack) Allocate() Number {
	return Number(s.internal.Add(1))
}

// Last returns the most recently allocated internal sequence number, or 0.
func (s *Stack) Last() Number {
	return Number(s.internal.Load())
}

// Next increments and returns the 8-bit counter of layer l.
func (s *Stack) Next(l Layer) uint8 {
	if l >= layerCount {
		return 0
	}

	return uint8(s.layers[l].Add(1))
}

// Peek returns the current value of the 8-bit counter of layer l.
func (s *Stack) Peek(l Layer) uint8 {
	if l >= layerCount {
		return 0
	}

	return uint8(s.layers[l].Load())
}

// SetCurrent records the sqn last reported by the coordinator in a status frame.
func (s *Stack) SetCurrent(v uint8) {
	s.current.Store(int32(v))
}

// Current returns the sqn last reported by the coordinator, and false if none was seen.
func (s *Stack) Current() (uint8, bool) {
	v := s.current.Load()
	if v < 0 {
		return 0, false
	}

	return uint8(v), true
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Internal Number `json:"internal"`
	ZCL      uint8  `json:"zcl"`
	ZDP      uint8  `json:"zdp"`
	APS      uint8  `json:"aps"`
	Current  *uint8 `json:"current,omitempty"`
}

// Snapshot returns the current counter values.
func (s *Stack) Snapshot() Snapshot {
	snap := Snapshot{
		Internal: s.Last(),
		ZCL:      s.Peek(LayerZCL),
		ZDP:      s.Peek(LayerZDP),
		APS:      s.Peek(LayerAPS),
	}
	if cur, ok := s.Current(); ok {
		snap.Current = &cur
	}

	return snap
}
