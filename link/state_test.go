package link

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-coordlink/logger"
)

func TestState_String(t *testing.T) {
	require := require.New(t)

	require.Equal("closed", StateClosed.String())
	require.Equal("opening", StateOpening.String())
	require.Equal("open", StateOpen.String())
	require.Equal("reconnecting", StateReconnecting.String())
	require.Equal("shutting-down", StateShuttingDown.String())

	require.False(StateClosed.IsRunning())
	require.True(StateOpen.IsRunning())
	require.True(StateReconnecting.IsRunning())
}

func TestStateMgr_Transition(t *testing.T) {
	require := require.New(t)
	sm := newStateMgr(logger.NewNopMockLogger())

	var calls [][2]State
	sm.addHandler(func(prev State, newState State) {
		calls = append(calls, [2]State{prev, newState})
	})

	require.Equal(StateClosed, sm.to(StateOpening))
	require.Equal(StateOpening, sm.to(StateOpening))
	require.Len(calls, 1)

	require.False(sm.transition(StateReconnecting, StateOpen))
	require.Equal(StateOpening, sm.State())

	require.True(sm.transition(StateOpen, StateOpening))
	require.True(sm.transition(StateReconnecting, StateOpen, StateOpening))
	require.Equal([][2]State{
		{StateClosed, StateOpening},
		{StateOpening, StateOpen},
		{StateOpen, StateReconnecting},
	}, calls)
}

func TestStateMgr_WaitState(t *testing.T) {
	require := require.New(t)
	sm := newStateMgr(logger.NewNopMockLogger())

	require.NoError(sm.waitState(context.Background(), StateClosed))

	go func() {
		time.Sleep(10 * time.Millisecond)
		sm.to(StateOpening)
		sm.to(StateOpen)
	}()
	require.NoError(sm.waitState(context.Background(), StateOpen))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	require.ErrorIs(sm.waitState(ctx, StateClosed), context.Canceled)
}
