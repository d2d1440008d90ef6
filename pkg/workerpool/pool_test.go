package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tasks(n int) []*Task {
	out := make([]*Task, n)
	for i := range out {
		out[i] = &Task{ID: fmt.Sprintf("t%d", i), Payload: i}
	}
	return out
}

func TestRunReturnsEveryResult(t *testing.T) {
	fn := func(_ context.Context, task *Task) *Result {
		n := task.Payload.(int)
		if n%2 == 1 {
			return &Result{TaskID: task.ID, Error: errors.New("odd")}
		}
		return &Result{TaskID: task.ID, Success: true, Data: n * 10}
	}

	results, err := Run(context.Background(), Config{Workers: 3}, fn, tasks(10), nil)
	require.NoError(t, err)
	require.Len(t, results, 10)

	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	assert.Equal(t, 5, ok)
}

func TestRunEmpty(t *testing.T) {
	results, err := Run(context.Background(), DefaultConfig(), func(context.Context, *Task) *Result { return nil }, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetriesUntilSuccess(t *testing.T) {
	var calls int32
	fn := func(_ context.Context, task *Task) *Result {
		if atomic.AddInt32(&calls, 1) < 3 {
			return &Result{Error: errors.New("transient")}
		}
		return &Result{Success: true}
	}

	cfg := Config{Workers: 1, MaxRetries: 3, RetryDelay: time.Millisecond}
	results, err := Run(context.Background(), cfg, fn, tasks(1), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "t0", results[0].TaskID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPanicBecomesFailure(t *testing.T) {
	fn := func(context.Context, *Task) *Result { panic("boom") }

	results, err := Run(context.Background(), Config{Workers: 1}, fn, tasks(2), nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Success)
		assert.ErrorContains(t, r.Error, "panicked")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	p, err := New(Config{Workers: 1, QueueSize: 1}, func(context.Context, *Task) *Result {
		return &Result{Success: true}
	}, nil)
	require.NoError(t, err)
	p.Start()
	require.NoError(t, p.Stop())

	assert.ErrorIs(t, p.Submit(&Task{ID: "late"}), ErrPoolStopped)
}

func TestNewRequiresFunc(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	p, err := New(Config{Workers: 1, QueueSize: 2}, func(_ context.Context, task *Task) *Result {
		if task.ID == "t1" {
			return &Result{Error: errors.New("nope")}
		}
		return &Result{Success: true}
	}, nil)
	require.NoError(t, err)
	p.Start()

	for _, task := range tasks(2) {
		require.NoError(t, p.Submit(task))
	}
	<-p.Results()
	<-p.Results()

	st := p.Stats()
	assert.Equal(t, int64(2), st.TasksSubmitted)
	assert.Equal(t, int64(1), st.TasksCompleted)
	assert.Equal(t, int64(1), st.TasksFailed)
	assert.Equal(t, int64(0), st.QueueDepth)
	assert.Equal(t, 1, st.Workers)
	require.NoError(t, p.Stop())
}
