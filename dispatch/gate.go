package dispatch

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxSimultaneousCommands is the number of commands the coordinator buffers.
const DefaultMaxSimultaneousCommands = 5

// ErrGateNotHeld is returned by Release when no permit is held.
var ErrGateNotHeld = errors.New("dispatch: release of a permit that is not held")

// Gate bounds the number of commands in flight to the coordinator.
type Gate struct {
	sem   *semaphore.Weighted
	max   int64
	inUse atomic.Int64
}

// NewGate creates a Gate with max permits. A max <= 0 selects DefaultMaxSimultaneousCommands.
func NewGate(max int) *Gate {
	if max <= 0 {
		max = DefaultMaxSimultaneousCommands
	}

	return &Gate{sem: semaphore.NewWeighted(int64(max)), max: int64(max)}
}

// Acquire blocks until a permit is available or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.inUse.Add(1)

	return nil
}

// TryAcquire takes a permit without blocking and reports whether it succeeded.
func (g *Gate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.inUse.Add(1)

	return true
}

// Release returns a permit.
func (g *Gate) Release() error {
	for {
		cur := g.inUse.Load()
		if cur <= 0 {
			return ErrGateNotHeld
		}
		if g.inUse.CompareAndSwap(cur, cur-1) {
			g.sem.Release(1)
			return nil
		}
	}
}

// InUse returns the number of permits currently held.
func (g *Gate) InUse() int {
	return int(g.inUse.Load())
}

// Available returns the number of free permits.
func (g *Gate) Available() int {
	return int(g.max - g.inUse.Load())
}

// Max returns the permit capacity.
func (g *Gate) Max() int {
	return int(g.max)
}
