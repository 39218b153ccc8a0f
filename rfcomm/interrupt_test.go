package rfcomm

import (
	"errors"
	"testing"
	"time"

	"github.com/Southclaws/fault/ftag"
	"github.com/stretchr/testify/require"
)

var errRadioOff = errors.New("radio off")

func TestInterrupter(t *testing.T) {
	require := require.New(t)

	i := NewInterrupter()
	require.NoError(i.Interrupted())
	require.NoError(checkInterrupt(i))
	require.NoError(checkInterrupt(nil))

	i.Interrupt(errRadioOff)
	err := checkInterrupt(i)
	require.ErrorIs(err, ErrInterrupted)
	require.ErrorIs(err, errRadioOff)

	i.Interrupt(nil)
	require.ErrorIs(checkInterrupt(i), errInterruptRequested)

	i.Clear()
	require.NoError(checkInterrupt(i))

	f := InterruptFunc(func() error { return errRadioOff })
	require.ErrorIs(checkInterrupt(f), ErrInterrupted)
}

func TestDevice_InterruptFailsFast(t *testing.T) {
	require := require.New(t)

	s := newTestSession(t)
	interrupter := NewInterrupter()
	alpha := newTestDevice(t, s, "alpha", WithInterruptPolicy(interrupter))
	beta := newTestDevice(t, s, "beta")

	listen, err := alpha.Listen(serialPortUUID, "serial")
	require.NoError(err)

	interrupter.Interrupt(errRadioOff)

	_, err = alpha.Listen(otherUUID, "other")
	require.ErrorIs(err, ErrInterrupted)
	require.ErrorIs(err, errRadioOff)
	require.Equal(ftag.Cancelled, ftag.Get(err))

	_, err = alpha.Accept(listen)
	require.ErrorIs(err, ErrInterrupted)

	_, err = alpha.ReadByte("", listen)
	require.ErrorIs(err, ErrInterrupted)

	_, err = alpha.Connect(beta.Address(), serialPortUUID)
	require.ErrorIs(err, ErrInterrupted)

	// teardown is never interrupted
	require.NoError(alpha.Close(listen))
	require.Empty(alpha.Services())

	require.Equal(uint64(4), alpha.Metrics().InterruptCount.Load())
}

func TestDevice_InterruptReleasesBlockedCalls(t *testing.T) {
	require := require.New(t)

	s := newTestSession(t)
	interrupter := NewInterrupter()
	alpha := newTestDevice(t, s, "alpha", WithInterruptPolicy(interrupter))
	beta := newTestDevice(t, s, "beta", WithInterruptPolicy(interrupter))
	gamma := newTestDevice(t, s, "gamma")

	alphaListen, err := alpha.Listen(serialPortUUID, "serial")
	require.NoError(err)
	gammaListen, err := gamma.Listen(serialPortUUID, "serial")
	require.NoError(err)
	_ = readBytes(t, alpha, "", alphaListen, 4)

	acceptErr := make(chan error, 1)
	go func() {
		_, err := alpha.Accept(alphaListen)
		acceptErr <- err
	}()

	readErr := make(chan error, 1)
	go func() {
		_, err := alpha.ReadByte("", alphaListen)
		readErr <- err
	}()

	connectErr := make(chan error, 1)
	go func() {
		// gamma never accepts
		_, err := beta.Connect(gamma.Address(), serialPortUUID)
		connectErr <- err
	}()

	backlog, ok := s.Backlogs().Get(gammaListen)
	require.True(ok)
	require.Eventually(func() bool { return backlog.Len() == 1 }, time.Second, time.Millisecond)

	select {
	case err := <-acceptErr:
		require.FailNow("accept returned early", err)
	case err := <-readErr:
		require.FailNow("read returned early", err)
	case err := <-connectErr:
		require.FailNow("connect returned early", err)
	case <-time.After(20 * time.Millisecond):
	}

	interrupter.Interrupt(errRadioOff)
	s.WakeWaiters()

	for _, ch := range []chan error{acceptErr, readErr, connectErr} {
		err := <-ch
		require.ErrorIs(err, ErrInterrupted)
		require.ErrorIs(err, errRadioOff)
	}
}

func TestInterrupter_WakesBoundSession(t *testing.T) {
	require := require.New(t)

	s := newTestSession(t)
	interrupter := NewInterrupter(s)
	alpha := newTestDevice(t, s, "alpha", WithInterruptPolicy(interrupter))

	listen, err := alpha.Listen(serialPortUUID, "serial")
	require.NoError(err)
	_ = readBytes(t, alpha, "", listen, 4)

	acceptErr := make(chan error, 1)
	go func() {
		_, err := alpha.Accept(listen)
		acceptErr <- err
	}()

	readErr := make(chan error, 1)
	go func() {
		_, err := alpha.ReadByte("", listen)
		readErr <- err
	}()

	select {
	case err := <-acceptErr:
		require.FailNow("accept returned early", err)
	case err := <-readErr:
		require.FailNow("read returned early", err)
	case <-time.After(20 * time.Millisecond):
	}

	interrupter.Interrupt(errRadioOff)

	for _, ch := range []chan error{acceptErr, readErr} {
		select {
		case err := <-ch:
			require.ErrorIs(err, ErrInterrupted)
			require.ErrorIs(err, errRadioOff)
		case <-time.After(time.Second):
			require.FailNow("blocked call was not released by Interrupt")
		}
	}
}

func TestDevice_WakeWithoutInterruptKeepsWaiting(t *testing.T) {
	require := require.New(t)

	s := newTestSession(t)
	alpha := newTestDevice(t, s, "alpha", WithInterruptPolicy(NewInterrupter()))
	beta := newTestDevice(t, s, "beta")

	listen, err := alpha.Listen(serialPortUUID, "serial")
	require.NoError(err)

	accepted := make(chan acceptResult, 1)
	go func() {
		h, err := alpha.Accept(listen)
		accepted <- acceptResult{handle: h, err: err}
	}()

	alpha.WakeWaiters()

	select {
	case res := <-accepted:
		require.FailNow("accept returned without a request", res.err)
	case <-time.After(20 * time.Millisecond):
	}

	go func() {
		_, _ = beta.Connect(alpha.Address(), serialPortUUID)
	}()

	res := <-accepted
	require.NoError(res.err)
	require.NoError(alpha.CompleteAccept(res.handle, false))
}
