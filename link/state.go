package link

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-coordlink/logger"
)

// State is the lifecycle state of a Link.
type State uint32

const (
	// StateClosed means no connection handle exists and no unit runs.
	StateClosed State = iota
	// StateOpening means a connection handle is being created and connected.
	StateOpening
	// StateOpen means the handle is connected and the units run.
	StateOpen
	// StateReconnecting means the previous handle was torn down after a transport fault and
	// the link waits for the settle delay before opening again.
	StateReconnecting
	// StateShuttingDown means Close is stopping the units and releasing the handle.
	StateShuttingDown
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

// IsRunning reports whether the units are expected to run or to be restarted.
func (s State) IsRunning() bool {
	return s == StateOpening || s == StateOpen || s == StateReconnecting
}

// StateChangeHandler is invoked synchronously after each state change.
//
// Note: the handler is invoked while the transition lock is held. It must not call
// Link.Open, Link.Close or Link.Reconnect.
type StateChangeHandler func(prevState State, newState State)

// stateMgr holds the lifecycle state. Only the Link mutates it; everyone else observes.
type stateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []StateChangeHandler
}

func newStateMgr(l logger.Logger) *stateMgr {
	sm := &stateMgr{logger: l}
	sm.cond = sync.NewCond(&sm.mu)
	sm.state.Store(uint32(StateClosed))

	return sm
}

func (sm *stateMgr) State() State {
	return State(sm.state.Load())
}

func (sm *stateMgr) addHandler(handlers ...StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.handlers = append(sm.handlers, handlers...)
}

// to moves to newState unconditionally and returns the previous state.
func (sm *stateMgr) to(newState State) State {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	prev := sm.State()
	if prev == newState {
		return prev
	}
	sm.setState(newState)
	sm.invokeHandlers(prev, newState)

	return prev
}

// transition moves from one of the states in from to newState. It returns false, leaving
// the state untouched, when the current state is not in from.
func (sm *stateMgr) transition(newState State, from ...State) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	prev := sm.State()
	for _, s := range from {
		if s == prev {
			sm.setState(newState)
			sm.invokeHandlers(prev, newState)

			return true
		}
	}

	return false
}

// waitState waits until the state is state or ctx is done.
func (sm *stateMgr) waitState(ctx context.Context, state State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.State() == state {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		sm.mu.Lock()
		sm.cond.Broadcast()
		sm.mu.Unlock()
	})
	defer stop()

	for sm.State() != state {
		if err := ctx.Err(); err != nil {
			return err
		}
		sm.cond.Wait()
	}

	return nil
}

func (sm *stateMgr) setState(newState State) {
	sm.state.Store(uint32(newState))
	sm.cond.Broadcast()
	sm.logger.Debug("link state changed", "state", newState.String())
}

func (sm *stateMgr) invokeHandlers(prevState State, newState State) {
	for _, handler := range sm.handlers {
		if handler != nil {
			handler(prevState, newState)
		}
	}
}
