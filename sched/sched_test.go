package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaiterWakesAllRegisteredBeforeWake(t *testing.T) {
	var w Waiter
	a := w.Wait()
	b := w.Wait()
	w.WakeAll()

	select {
	case <-a:
	case <-time.After(time.Second):
		t.Fatal("a not woken")
	}
	select {
	case <-b:
	case <-time.After(time.Second):
		t.Fatal("b not woken")
	}
}

func TestWaiterRegisteredAfterWakeBlocksUntilNextWake(t *testing.T) {
	var w Waiter
	w.WakeAll()
	c := w.Wait()
	select {
	case <-c:
		t.Fatal("should not be woken yet")
	case <-time.After(20 * time.Millisecond):
	}
	w.WakeAll()
	select {
	case <-c:
	case <-time.After(time.Second):
		t.Fatal("not woken after second WakeAll")
	}
}

func TestBackoffDurationGrowsAndCaps(t *testing.T) {
	b := Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Factor: 2, MaxRetries: 5}
	d0 := b.Duration(0)
	d3 := b.Duration(3)
	require.Less(t, d0, 20*time.Millisecond)
	require.LessOrEqual(t, d3, 55*time.Millisecond)
}

func TestRetrySucceedsWithoutExhausting(t *testing.T) {
	b := Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2, MaxRetries: 5}
	attempts := 0
	err := Retry(context.Background(), b, func(attempt int) error {
		attempts++
		if attempt < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryExhaustsAndReturnsError(t *testing.T) {
	b := Backoff{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1, MaxRetries: 2}
	err := Retry(context.Background(), b, func(attempt int) error {
		return errors.New("always fails")
	})
	require.Error(t, err)
}

func TestSupervisorCancelsSiblingsOnFailure(t *testing.T) {
	s, cancel := NewSupervisor(context.Background())
	defer cancel()

	started := make(chan struct{})
	s.Go("failer", func(ctx context.Context) error {
		return errors.New("boom")
	})
	s.Go("sibling", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	_ = s.Wait()
	require.Error(t, s.Context().Err())
}
