package rfcomm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type linkFixture struct {
	session *Session
	link    *PhysicalLink
	a1, b1  Handle
	a2, b2  Handle
}

func newLinkFixture(t *testing.T) *linkFixture {
	t.Helper()

	s := newTestSession(t)
	handles := s.Handles()

	return &linkFixture{
		session: s,
		link:    s.Links().GetOrCreate("alpha", "beta"),
		a1:      handles.Allocate("alpha"),
		b1:      handles.Allocate("beta"),
		a2:      handles.Allocate("alpha"),
		b2:      handles.Allocate("beta"),
	}
}

func TestPhysicalLink_Pairings(t *testing.T) {
	require := require.New(t)

	f := newLinkFixture(t)
	link := f.link

	a, b := link.Addresses()
	require.Equal(Address("alpha"), a)
	require.Equal(Address("beta"), b)
	require.Equal(Address("beta"), link.Other("alpha"))
	require.Equal(LinkDisconnected, link.State())

	require.NoError(link.AddStreamPairing(f.a1, f.b1))
	require.Equal(LinkConnected, link.State())
	require.Equal(int64(1), f.session.LinkEventCount())

	t.Run("idempotent add", func(t *testing.T) {
		require.NoError(link.AddStreamPairing(f.a1, f.b1))
		require.NoError(link.AddStreamPairing(f.b1, f.a1))
		require.Equal(1, link.ActiveStreamPairings())
	})

	t.Run("conflicting add", func(t *testing.T) {
		require.ErrorIs(link.AddStreamPairing(f.a1, f.b2), ErrInvalidHandle)
		require.ErrorIs(link.AddStreamPairing(f.a2, f.b1), ErrInvalidHandle)
		require.ErrorIs(link.AddStreamPairing(f.a1, f.a1), ErrInvalidHandle)
		require.ErrorIs(link.AddStreamPairing(f.a1, f.a2), ErrNotOwner)
		require.ErrorIs(link.AddStreamPairing(f.a2, Handle(999)), ErrInvalidHandle)

		foreign := f.session.Handles().Allocate("gamma")
		require.ErrorIs(link.AddStreamPairing(f.a2, foreign), ErrNotOwner)
	})

	t.Run("second pairing keeps the link connected", func(t *testing.T) {
		require.NoError(link.AddStreamPairing(f.b2, f.a2))
		require.Equal(2, link.ActiveStreamPairings())
		require.Equal(int64(1), f.session.LinkEventCount())

		peer, ok := link.Peer(f.a2)
		require.True(ok)
		require.Equal(f.b2, peer)

		byHandle, ok := f.session.Links().LinkOf(f.a2)
		require.True(ok)
		require.Same(link, byHandle)
	})

	t.Run("remove", func(t *testing.T) {
		require.True(link.RemoveStreamPairing(f.b1))
		require.False(link.RemoveStreamPairing(f.a1))
		require.False(link.HasPairing(f.a1))
		require.Equal(LinkConnected, link.State())

		require.True(link.RemoveStreamPairing(f.a2))
		require.Equal(LinkDisconnected, link.State())
		require.Equal(int64(2), f.session.LinkEventCount())

		_, ok := f.session.Links().LinkOf(f.a2)
		require.False(ok)
	})
}

func TestPhysicalLink_ReadWrite(t *testing.T) {
	require := require.New(t)

	f := newLinkFixture(t)
	link := f.link
	require.NoError(link.AddStreamPairing(f.a1, f.b1))

	require.NoError(link.Write("alpha", f.a1, []byte{1, 2}))
	require.NoError(link.Write("beta", f.b1, []byte{3}))

	v, err := link.Read("beta", f.b1)
	require.NoError(err)
	require.Equal(1, v)
	v, err = link.Read("alpha", f.a1)
	require.NoError(err)
	require.Equal(3, v)

	require.ErrorIs(link.Write("beta", f.a1, []byte{1}), ErrNotOwner)

	t.Run("remove releases a blocked reader", func(t *testing.T) {
		v, err := link.Read("beta", f.b1)
		require.NoError(err)
		require.Equal(2, v)

		done := make(chan error, 1)
		go func() {
			_, err := link.Read("beta", f.b1)
			done <- err
		}()

		require.True(link.RemoveStreamPairing(f.a1))
		require.ErrorIs(<-done, ErrConnectionClosed)
	})

	t.Run("operations after removal", func(t *testing.T) {
		require.ErrorIs(link.Write("alpha", f.a1, []byte{1}), ErrConnectionClosed)
		_, err := link.Read("alpha", f.a1)
		require.ErrorIs(err, ErrConnectionClosed)
	})
}

func TestPhysicalLink_Encrypt(t *testing.T) {
	require := require.New(t)

	f := newLinkFixture(t)
	require.False(f.link.IsEncrypted())
	f.link.Encrypt()
	f.link.Encrypt()
	require.True(f.link.IsEncrypted())
}

func TestPhysicalLink_WaitState(t *testing.T) {
	require := require.New(t)

	f := newLinkFixture(t)
	link := f.link

	require.NoError(link.WaitState(context.Background(), LinkDisconnected))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(link.WaitState(ctx, LinkConnected), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() {
		done <- link.WaitState(context.Background(), LinkConnected)
	}()

	require.NoError(link.AddStreamPairing(f.a1, f.b1))
	require.NoError(<-done)
}

func TestPhysicalLink_TransitionHandler(t *testing.T) {
	require := require.New(t)

	s := newTestSession(t)

	var (
		mu     sync.Mutex
		states []LinkState
	)
	r := NewLinkRegistry(s.Handles(), s.Backlogs(), func(link *PhysicalLink, _ LinkState, newState LinkState) {
		_ = link.ActiveStreamPairings()

		mu.Lock()
		states = append(states, newState)
		mu.Unlock()
	}, nil)
	link := r.GetOrCreate("alpha", "beta")

	const (
		workers = 8
		rounds  = 50
	)

	var wg sync.WaitGroup
	for range workers {
		a := s.Handles().Allocate("alpha")
		b := s.Handles().Allocate("beta")

		wg.Add(1)
		go func() {
			defer wg.Done()
			for range rounds {
				_ = link.AddStreamPairing(a, b)
				link.RemoveStreamPairing(a)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow("pairing workers did not finish")
	}

	mu.Lock()
	defer mu.Unlock()

	require.NotEmpty(states)
	require.Zero(len(states) % 2)
	for i, state := range states {
		if i%2 == 0 {
			require.Equal(LinkConnected, state, "transition %d", i)
		} else {
			require.Equal(LinkDisconnected, state, "transition %d", i)
		}
	}
	require.Equal(LinkDisconnected, link.State())
}

func TestLinkRegistry(t *testing.T) {
	require := require.New(t)

	s := newTestSession(t)
	r := s.Links()

	const workers = 16

	var wg sync.WaitGroup
	links := make([]*PhysicalLink, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				links[i] = r.GetOrCreate("alpha", "beta")
			} else {
				links[i] = r.GetOrCreate("beta", "alpha")
			}
		}()
	}
	wg.Wait()

	for _, link := range links {
		require.Same(links[0], link)
	}

	link, ok := r.Get("beta", "alpha")
	require.True(ok)
	require.Same(links[0], link)

	_, ok = r.Get("alpha", "gamma")
	require.False(ok)

	r.GetOrCreate("gamma", "alpha")
	all := r.Links()
	require.Len(all, 2)
	a, b := all[0].Addresses()
	require.Equal(Address("alpha"), a)
	require.Equal(Address("beta"), b)
	a, b = all[1].Addresses()
	require.Equal(Address("alpha"), a)
	require.Equal(Address("gamma"), b)

	r.Reset()
	require.Empty(r.Links())
}
