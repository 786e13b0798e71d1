package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bdt/protocol"
)

type fakeProvider struct {
	written chan []byte
	closed  bool
}

func newFakeProvider() *fakeProvider { return &fakeProvider{written: make(chan []byte, 8)} }

func (f *fakeProvider) WritePiece(data []byte) error {
	cp := append([]byte(nil), data...)
	f.written <- cp
	return nil
}

func (f *fakeProvider) Close() error {
	f.closed = true
	return nil
}

func TestAnswerIsReadBeforeOrdinaryData(t *testing.T) {
	s := newStream()
	require.NoError(t, s.SetAnswer([]byte("ok")))
	s.establish(1, newFakeProvider())
	s.deliver([]byte("hello"))

	buf := make([]byte, 64)
	n, err := s.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ok", string(buf[:n]))

	n, err = s.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestShutdownBothFailsLocalRead(t *testing.T) {
	s := newStream()
	s.establish(1, newFakeProvider())
	require.NoError(t, s.Shutdown(ShutdownBoth))

	buf := make([]byte, 16)
	_, err := s.Read(buf)
	require.Error(t, err)
}

func TestWriteOnUnestablishedStreamFails(t *testing.T) {
	s := newStream()
	_, err := s.Write([]byte("x"))
	require.Error(t, err)
}

func TestConnectRacePicksFirstAndCancelsOthers(t *testing.T) {
	s := newStream()
	cancelled := make(chan string, 3)

	fast := connectAttempt{name: "fast", run: func(ctx context.Context) (Provider, protocol.BuckyTime, error) {
		return newFakeProvider(), 42, nil
	}}
	slow := connectAttempt{name: "slow", run: func(ctx context.Context) (Provider, protocol.BuckyTime, error) {
		select {
		case <-ctx.Done():
			cancelled <- "slow"
		case <-time.After(2 * time.Second):
		}
		return nil, 0, errors.New("too slow")
	}}

	err := Connect(s, []connectAttempt{fast, slow})
	require.NoError(t, err)
	require.Equal(t, StateEstablish, s.State())
	require.Equal(t, protocol.BuckyTime(42), s.remoteTs)

	select {
	case name := <-cancelled:
		require.Equal(t, "slow", name)
	case <-time.After(time.Second):
		t.Fatal("loser attempt was not cancelled")
	}
}

func TestConnectAllAttemptsFail(t *testing.T) {
	s := newStream()
	failing := connectAttempt{name: "fail", run: func(ctx context.Context) (Provider, protocol.BuckyTime, error) {
		return nil, 0, errors.New("nope")
	}}
	err := Connect(s, []connectAttempt{failing})
	require.Error(t, err)
	require.Equal(t, StateClosed, s.State())
}
