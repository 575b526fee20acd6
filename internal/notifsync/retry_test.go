package notifsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRetryAPICall_SucceedsOnThirdAttempt(t *testing.T) {
	calls := 0
	start := time.Now()
	got, err := RetryAPICall(t.Context(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}, 3, 20*time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "two delays between three attempts")
}

func TestRetryAPICall_ExhaustsAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("still down")
	_, err := RetryAPICall(t.Context(), func(context.Context) (int, error) {
		calls++
		return 0, boom
	}, 3, time.Millisecond)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetryAPICall_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	calls := 0
	_, err := RetryAPICall(ctx, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("fail")
	}, 5, time.Hour)

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDelayedRefresh(t *testing.T) {
	ran := make(chan struct{}, 1)
	done := DelayedRefresh(t.Context(), func(context.Context) error {
		ran <- struct{}{}
		return errors.New("ignored")
	}, 10*time.Millisecond, zap.NewNop())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresh did not finish")
	}
	assert.Len(t, ran, 1)
}

func TestDelayedRefresh_CancelledBeforeDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	called := false
	<-DelayedRefresh(ctx, func(context.Context) error { called = true; return nil }, time.Hour, nil)
	assert.False(t, called)
}

func TestMutation_Transitions(t *testing.T) {
	m := newMutation("message-1", 1, false, true)
	assert.Equal(t, Pending, m.State)
	assert.True(t, m.Value())

	require.NoError(t, m.RollBack(errors.New("x")))
	assert.Equal(t, RolledBack, m.State)
	assert.False(t, m.Value())
	assert.ErrorIs(t, m.Confirm(), ErrInvalidTransition)

	m = newMutation("message-2", 2, false, true)
	require.NoError(t, m.Confirm())
	assert.Equal(t, "confirmed", m.State.String())
	assert.ErrorIs(t, m.RollBack(nil), ErrInvalidTransition)
}
