package rfcomm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMailbox(t *testing.T) {
	require := require.New(t)

	t.Run("write order is read order", func(t *testing.T) {
		mb := newMailbox()
		require.NoError(mb.put(1, 2, 3))
		require.Equal(3, mb.length())

		for _, expected := range []int{1, 2, 3} {
			v, err := mb.take(nil)
			require.NoError(err)
			require.Equal(expected, v)
		}
	})

	t.Run("closed mailbox drains first", func(t *testing.T) {
		mb := newMailbox()
		require.NoError(mb.put(9, EndOfStream))
		mb.closeWrite()
		require.True(mb.isClosed())

		require.ErrorIs(mb.put(1), ErrConnectionClosed)

		v, err := mb.take(nil)
		require.NoError(err)
		require.Equal(9, v)

		v, err = mb.take(nil)
		require.NoError(err)
		require.Equal(EndOfStream, v)

		_, err = mb.take(nil)
		require.ErrorIs(err, ErrConnectionClosed)
	})

	t.Run("close releases a blocked take", func(t *testing.T) {
		mb := newMailbox()
		done := make(chan error, 1)
		go func() {
			_, err := mb.take(nil)
			done <- err
		}()

		mb.closeWrite()
		require.ErrorIs(<-done, ErrConnectionClosed)
	})

	t.Run("check aborts the wait", func(t *testing.T) {
		mb := newMailbox()
		errStop := errors.New("stop")

		var stop bool
		done := make(chan error, 1)
		go func() {
			_, err := mb.take(func() error {
				if stop {
					return errStop
				}
				return nil
			})
			done <- err
		}()

		mb.mu.Lock()
		stop = true
		mb.mu.Unlock()
		mb.wake()

		require.ErrorIs(<-done, errStop)
	})

	t.Run("drain stops at end of stream", func(t *testing.T) {
		mb := newMailbox()
		require.NoError(mb.put(1, 2, EndOfStream, 3))

		buf := make([]byte, 8)
		require.Equal(2, mb.drainInto(buf))
		require.Equal([]byte{1, 2}, buf[:2])
		require.Zero(mb.drainInto(buf))

		v, err := mb.take(nil)
		require.NoError(err)
		require.Equal(EndOfStream, v)
		require.Equal(1, mb.drainInto(buf[:1]))
	})
}
