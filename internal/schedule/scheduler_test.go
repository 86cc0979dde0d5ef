package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_TickClaimsAndFails(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t)
	ok, err := s.ScheduleContent(ctx, "good", clk.t.Add(-2*time.Minute), RecurrenceNone)
	require.NoError(t, err)
	bad, err := s.ScheduleContent(ctx, "bad", clk.t.Add(-time.Minute), RecurrenceNone)
	require.NoError(t, err)

	sched := NewScheduler(nil, s)
	var order []string
	n, err := sched.Tick(ctx, func(_ context.Context, c Content) (string, error) {
		order = append(order, c.Topic)
		if c.Topic == "bad" {
			return "", errors.New("cannot create job")
		}
		return "job-" + c.Topic, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"good", "bad"}, order)

	got, err := s.GetContent(ctx, ok.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, got.Status)
	require.Equal(t, "job-good", got.JobID)

	got, err = s.GetContent(ctx, bad.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "cannot create job", got.Error)

	// claimed rows are not picked up again
	n, err = sched.Tick(ctx, func(context.Context, Content) (string, error) {
		t.Fatalf("executor must not run again")
		return "", nil
	})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestScheduler_StartTwiceIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	sched := NewScheduler(nil, s)
	exec := func(context.Context, Content) (string, error) { return "", nil }

	require.True(t, sched.Start(context.Background(), exec, time.Second))
	require.False(t, sched.Start(context.Background(), exec, time.Second))
	require.True(t, sched.Running())
	sched.Stop()
	sched.Stop()
	require.False(t, sched.Running())
	require.True(t, sched.Start(context.Background(), exec, time.Second), "restart after stop")
	sched.Stop()
}

func TestScheduler_TimerRunsExecutor(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t)
	c, err := s.ScheduleContent(ctx, "timer", clk.t.Add(-time.Minute), RecurrenceNone)
	require.NoError(t, err)

	sched := NewScheduler(nil, s)
	var calls atomic.Int32
	started := make(chan struct{}, 1)
	sched.Start(ctx, func(context.Context, Content) (string, error) {
		calls.Add(1)
		started <- struct{}{}
		return "job-timer", nil
	}, time.Second)
	defer sched.Stop()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatalf("scheduler did not tick")
	}
	require.Eventually(t, func() bool {
		got, err := s.GetContent(ctx, c.ID)
		return err == nil && got.Status == StatusProcessing
	}, 2*time.Second, 20*time.Millisecond)
	require.EqualValues(t, 1, calls.Load())
}
