package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-coordlink/logger"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *logger.MockLogger) {
	t.Helper()

	l := logger.NewMockLogger()
	l.On("Debug", mock.Anything, mock.Anything).Return()
	l.On("Warn", mock.Anything, mock.Anything).Return()
	l.On("Error", mock.Anything, mock.Anything).Return()

	return NewManager(context.Background(), l), l
}

func TestManager_Start(t *testing.T) {
	require := require.New(t)
	mgr, l := newTestManager(t)

	var iterations atomic.Int32
	var exited atomic.Bool
	err := mgr.Start("loop", func(ctx context.Context) bool {
		iterations.Add(1)
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Millisecond):
		}

		return true
	}, func() { exited.Store(true) })
	require.NoError(err)

	require.Eventually(func() bool { return iterations.Load() > 2 }, time.Second, 5*time.Millisecond)
	require.Equal(1, mgr.TaskCount())

	mgr.Stop()
	mgr.Wait()

	require.Equal(0, mgr.TaskCount())
	require.True(exited.Load())
	l.AssertNotCalled(t, "Error", mock.Anything, mock.Anything)
}

func TestManager_TaskReturnsFalse(t *testing.T) {
	require := require.New(t)
	mgr, _ := newTestManager(t)

	require.NoError(mgr.Start("once", func(context.Context) bool { return false }, nil))
	require.Eventually(func() bool { return mgr.TaskCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestManager_Restart(t *testing.T) {
	require := require.New(t)
	mgr, _ := newTestManager(t)

	block := func(ctx context.Context) bool {
		<-ctx.Done()
		return false
	}

	require.NoError(mgr.Start("first", block, nil))
	mgr.Stop()

	// starting on a stopped generation fails until Wait renews the context
	require.Error(mgr.Start("rejected", block, nil))

	mgr.Wait()
	require.NoError(mgr.Context().Err())
	require.NoError(mgr.Start("second", block, nil))
	require.Equal(1, mgr.TaskCount())

	mgr.Stop()
	require.True(mgr.WaitTimeout(time.Second))
}

func TestManager_WaitTimeout(t *testing.T) {
	require := require.New(t)
	mgr, l := newTestManager(t)

	release := make(chan struct{})
	require.NoError(mgr.Start("stuck", func(context.Context) bool {
		<-release // ignores ctx on purpose
		return false
	}, nil))

	mgr.Stop()
	begin := time.Now()
	require.False(mgr.WaitTimeout(50 * time.Millisecond))
	require.Less(time.Since(begin), time.Second)
	l.AssertCalled(t, "Warn", "tasks did not terminate in time", mock.Anything)

	// the manager is usable again even though one unit is stuck
	require.NoError(mgr.Context().Err())

	close(release)
	require.Eventually(func() bool { return mgr.TaskCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestManager_StartInterval(t *testing.T) {
	require := require.New(t)
	mgr, _ := newTestManager(t)

	var ticks atomic.Int32
	require.NoError(mgr.StartInterval("tick", func(context.Context) bool {
		ticks.Add(1)
		return true
	}, 5*time.Millisecond))

	require.Error(mgr.StartInterval("tick", func(context.Context) bool { return true }, time.Millisecond))
	require.Error(mgr.StartInterval("bad", func(context.Context) bool { return true }, 0))

	require.Eventually(func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)

	mgr.Stop()
	mgr.Wait()
	require.Equal(0, mgr.TaskCount())
}

func TestManager_PanicRecovered(t *testing.T) {
	require := require.New(t)
	mgr, l := newTestManager(t)

	var calls atomic.Int32
	require.NoError(mgr.Start("panicky", func(context.Context) bool {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return false
	}, nil))

	require.Eventually(func() bool { return mgr.TaskCount() == 0 }, time.Second, 5*time.Millisecond)
	require.EqualValues(2, calls.Load())
	l.AssertCalled(t, "Error", "panic in task", mock.Anything)
}
