package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func TestEveryRunsUntilStopped(t *testing.T) {
	s := NewSession(context.Background(), nil)
	defer s.Close()

	var n atomic.Int32
	require.NoError(t, s.EverySchedule("poll", every(5*time.Millisecond), func(context.Context) error {
		n.Add(1)
		return nil
	}))
	assert.True(t, s.Running("poll"))

	require.Eventually(t, func() bool { return n.Load() >= 3 }, 2*time.Second, time.Millisecond)

	s.Stop("poll")
	assert.False(t, s.Running("poll"))
	stopped := n.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, n.Load(), stopped+1)
}

func TestErrStopEndsTask(t *testing.T) {
	s := NewSession(context.Background(), nil)
	defer s.Close()

	var n atomic.Int32
	require.NoError(t, s.EverySchedule("poll", every(time.Millisecond), func(context.Context) error {
		if n.Add(1) == 2 {
			return ErrStop
		}
		return nil
	}))

	require.Eventually(t, func() bool { return !s.Running("poll") }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(2), n.Load())
}

func TestTaskErrorsDoNotStopSchedule(t *testing.T) {
	s := NewSession(context.Background(), nil)
	defer s.Close()

	var n atomic.Int32
	require.NoError(t, s.EverySchedule("poll", every(time.Millisecond), func(context.Context) error {
		n.Add(1)
		return errors.New("transient")
	}))
	require.Eventually(t, func() bool { return n.Load() >= 3 }, 2*time.Second, time.Millisecond)
}

func TestAfterRunsOnce(t *testing.T) {
	s := NewSession(context.Background(), nil)
	defer s.Close()

	done := make(chan struct{})
	require.NoError(t, s.After("new-samples", 5*time.Millisecond, func(context.Context) error {
		close(done)
		return nil
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot task did not run")
	}
	require.Eventually(t, func() bool { return !s.Running("new-samples") }, time.Second, time.Millisecond)
}

func TestCloseCancelsTasks(t *testing.T) {
	s := NewSession(context.Background(), nil)

	var ran atomic.Bool
	require.NoError(t, s.After("late", time.Hour, func(context.Context) error {
		ran.Store(true)
		return nil
	}))
	s.Close()

	assert.False(t, ran.Load())
	assert.False(t, s.Running("late"))
	assert.ErrorIs(t, s.After("again", time.Millisecond, func(context.Context) error { return nil }), ErrClosed)
	assert.ErrorIs(t, s.Do(func(context.Context) error { return nil }), ErrClosed)
	assert.Error(t, s.Context().Err())
}

func TestReplaceTask(t *testing.T) {
	s := NewSession(context.Background(), nil)
	defer s.Close()

	var first, second atomic.Int32
	require.NoError(t, s.EverySchedule("poll", every(time.Millisecond), func(context.Context) error {
		first.Add(1)
		return nil
	}))
	require.NoError(t, s.EverySchedule("poll", every(time.Millisecond), func(context.Context) error {
		second.Add(1)
		return nil
	}))

	require.Eventually(t, func() bool { return second.Load() >= 3 }, 2*time.Second, time.Millisecond)
	stale := first.Load()
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, first.Load(), stale+1)
	assert.True(t, s.Running("poll"))
}

func TestEveryParsesCronSpecs(t *testing.T) {
	s := NewSession(context.Background(), nil)
	defer s.Close()

	require.NoError(t, s.Every("poll", "@every 15s", func(context.Context) error { return nil }))
	require.NoError(t, s.Every("nightly", "0 3 * * *", func(context.Context) error { return nil }))
	assert.Error(t, s.Every("bad", "every so often", func(context.Context) error { return nil }))
}

func TestDoSerializesWithTasks(t *testing.T) {
	s := NewSession(context.Background(), nil)
	defer s.Close()

	var active, overlap atomic.Int32
	work := func(context.Context) error {
		if active.Add(1) > 1 {
			overlap.Add(1)
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return nil
	}
	require.NoError(t, s.EverySchedule("poll", every(time.Millisecond), work))
	for range 20 {
		require.NoError(t, s.Do(work))
	}
	assert.Zero(t, overlap.Load())
}
