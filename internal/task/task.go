// Package task manages the lifecycle of the goroutines (execution units) of a link.
//
// Every unit started by a Manager observes the manager's context; Stop cancels that context
// and Wait joins all units. After Wait returns a fresh context is derived from the parent so
// the manager can start a new generation of units after a reconnect.
//
// Example Usage:
//
//	mgr := task.NewManager(ctx, logger)
//
//	_ = mgr.Start("writer", func(ctx context.Context) bool {
//	    // ... one iteration ...
//	    return true // Return true to continue running, false to stop
//	})
//
//	mgr.Stop()
//	if !mgr.WaitTimeout(3 * time.Second) {
//	    // some unit did not terminate in time
//	}
package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-coordlink/logger"
)

// Func is one iteration of an execution unit. It returns false to stop the unit.
//
// ctx is cancelled when the manager is stopped; blocking calls inside Func must observe it.
type Func func(ctx context.Context) bool

// CancelFunc is called once when the unit exits, whatever the reason.
type CancelFunc func()

const startTimeout = 5 * time.Second

// Manager starts, stops and joins execution units.
type Manager struct {
	pctx    context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logger.Logger
	count   atomic.Int32
	tickers sync.Map     // map[string]*time.Ticker
	mu      sync.RWMutex // protect ctx and cancel
	taskMu  sync.RWMutex // protect task creation during Wait()
}

// NewManager creates a Manager with ctx as the parent context.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context of the current generation of units.
func (mgr *Manager) Context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start runs taskFunc in a loop on a new goroutine until it returns false or the manager
// is stopped. onExit, if not nil, runs when the goroutine exits.
func (mgr *Manager) Start(name string, taskFunc Func, onExit CancelFunc) error {
	mgr.logger.Debug("start task", "name", name)

	starter, err := mgr.newStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func(ctx context.Context) {
		if onExit != nil {
			defer onExit()
		}
		mgr.runTaskLoop(ctx, name, taskFunc)
	})

	return starter.waitForStart()
}

// StartInterval runs taskFunc every interval until it returns false or the manager is stopped.
func (mgr *Manager) StartInterval(name string, taskFunc Func, interval time.Duration) error {
	mgr.logger.Debug("start interval task", "name", name, "interval", interval)

	if interval <= 0 {
		return fmt.Errorf("invalid interval: %v", interval)
	}

	ticker := time.NewTicker(interval)
	if _, loaded := mgr.tickers.LoadOrStore(name, ticker); loaded {
		ticker.Stop()
		return fmt.Errorf("interval task %s already exists", name)
	}

	cleanup := func() {
		ticker.Stop()
		mgr.tickers.Delete(name)
	}

	starter, err := mgr.newStarter(name)
	if err != nil {
		cleanup()
		return err
	}

	starter.startTask(func(ctx context.Context) {
		defer cleanup()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !mgr.callWithRecover(ctx, name, taskFunc) {
					return
				}
			}
		}
	})

	if err := starter.waitForStart(); err != nil {
		cleanup()
		return err
	}

	return nil
}

// Stop signals all running units to terminate.
func (mgr *Manager) Stop() {
	mgr.tickers.Range(func(_, value any) bool {
		if ticker, ok := value.(*time.Ticker); ok {
			ticker.Stop()
		}

		return true
	})

	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all units to terminate and prepares a new context for the next generation.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()
	mgr.renew()
}

// WaitTimeout is Wait bounded by timeout. It returns false if some unit was still running
// when the timeout expired; the manager is renewed either way so new units can start.
func (mgr *Manager) WaitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		mgr.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	finished := true
	select {
	case <-done:
	case <-timer.C:
		finished = false
		mgr.logger.Warn("tasks did not terminate in time", "timeout", timeout, "task_count", mgr.TaskCount())
	}

	mgr.taskMu.Lock()
	mgr.renew()
	mgr.taskMu.Unlock()

	return finished
}

// TaskCount returns the number of currently running units.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) renew() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.ctx.Err() == nil {
		return
	}
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
}

// callWithRecover calls fn with panic protection. A panic stops nothing; the unit continues.
func (mgr *Manager) callWithRecover(ctx context.Context, name string, fn Func) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			keep = true
		}
	}()

	return fn(ctx)
}

func (mgr *Manager) runTaskLoop(ctx context.Context, name string, taskFunc Func) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !mgr.callWithRecover(ctx, name, taskFunc) {
				return
			}
		}
	}
}

// starter encapsulates common startup logic
type starter struct {
	mgr     *Manager
	name    string
	ctx     context.Context
	started chan struct{}
}

func (mgr *Manager) newStarter(name string) (*starter, error) {
	ctx := mgr.Context()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("task manager already stopped")
	}

	return &starter{mgr: mgr, name: name, ctx: ctx, started: make(chan struct{})}, nil
}

func (s *starter) startTask(body func(ctx context.Context)) {
	s.mgr.taskMu.RLock()
	defer s.mgr.taskMu.RUnlock()

	s.mgr.wg.Add(1)
	s.mgr.count.Add(1)

	go func() {
		defer s.mgr.wg.Done()
		defer func() {
			s.mgr.count.Add(-1)
			s.mgr.logger.Debug("task terminated", "name", s.name, "task_count", s.mgr.TaskCount())
		}()

		close(s.started)
		body(s.ctx)
	}()
}

func (s *starter) waitForStart() error {
	timer := time.NewTimer(startTimeout)
	defer timer.Stop()

	select {
	case <-s.started:
		return nil
	case <-timer.C:
		return fmt.Errorf("timeout waiting for %s to start", s.name)
	}
}
