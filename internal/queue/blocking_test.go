package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBlocking(t *testing.T) {
	t.Run("FIFO", func(t *testing.T) {
		require := require.New(t)
		q := NewBlocking[int](0)

		for i := 1; i <= 3; i++ {
			require.NoError(q.Push(i))
		}
		require.Equal(3, q.Len())
		require.Equal([]int{1, 2, 3}, q.Items())

		for i := 1; i <= 3; i++ {
			v, err := q.Pop(context.Background())
			require.NoError(err)
			require.Equal(i, v)
		}
	})

	t.Run("Capacity", func(t *testing.T) {
		require := require.New(t)
		q := NewBlocking[int](1)

		require.NoError(q.Push(1))
		require.ErrorIs(q.Push(2), ErrFull)
	})

	t.Run("Pop waits for Push", func(t *testing.T) {
		require := require.New(t)
		q := NewBlocking[string](0)

		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = q.Push("late")
		}()

		v, err := q.Pop(context.Background())
		require.NoError(err)
		require.Equal("late", v)
	})

	t.Run("Close wakes waiters", func(t *testing.T) {
		require := require.New(t)
		q := NewBlocking[int](0)

		errCh := make(chan error, 2)
		for i := 0; i < 2; i++ {
			go func() {
				_, err := q.Pop(context.Background())
				errCh <- err
			}()
		}

		time.Sleep(20 * time.Millisecond)
		q.Close()

		for i := 0; i < 2; i++ {
			select {
			case err := <-errCh:
				require.ErrorIs(err, ErrClosed)
			case <-time.After(time.Second):
				t.Fatal("waiter not woken by Close")
			}
		}
		require.ErrorIs(q.Push(1), ErrClosed)

		q.Reopen()
		require.NoError(q.Push(1))
	})

	t.Run("Context cancel", func(t *testing.T) {
		require := require.New(t)
		q := NewBlocking[int](0)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err := q.Pop(ctx)
		require.True(errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("Drain", func(t *testing.T) {
		require := require.New(t)
		q := NewBlocking[int](0)
		_ = q.Push(1)
		_ = q.Push(2)

		require.Equal([]int{1, 2}, q.Drain())
		require.Zero(q.Len())
	})
}
