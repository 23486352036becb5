package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soarkit/backend/internal/models"
)

func runPool(t *testing.T, p *Pool) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, p.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func waitResult(t *testing.T, c *Client, taskID string) *Result {
	t.Helper()
	var res *Result
	require.Eventually(t, func() bool {
		r, err := c.Result(context.Background(), taskID)
		if err != nil {
			return false
		}
		res = r
		return true
	}, 5*time.Second, 20*time.Millisecond)
	return res
}

func TestPoolRunsTask(t *testing.T) {
	broker := NewMemoryBroker()
	client := NewClient(broker)

	var got atomic.Value
	pool := NewPool(broker, 2, nil)
	pool.Register(TaskProcessAlert, func(ctx context.Context, task *Task) (models.Document, error) {
		got.Store(task.Name)
		return models.Document{"ok": true}, nil
	})
	runPool(t, pool)

	taskID, err := client.EnqueueProcessAlert(context.Background(), uuid.New())
	require.NoError(t, err)

	res := waitResult(t, client, taskID)
	assert.True(t, res.OK)
	assert.Equal(t, true, res.Value["ok"])
	assert.Equal(t, TaskProcessAlert, got.Load())
}

func TestPoolRetriesTransientFailure(t *testing.T) {
	broker := NewMemoryBroker()
	client := NewClient(broker)

	var calls atomic.Int32
	pool := NewPool(broker, 1, nil)
	pool.Register(TaskRunAction, func(ctx context.Context, task *Task) (models.Document, error) {
		if calls.Add(1) < 2 {
			return nil, errors.New("transient db error")
		}
		return models.Document{"recovered": true}, nil
	})
	runPool(t, pool)

	taskID, err := client.EnqueueRunAction(context.Background(), uuid.New(), models.ActionNotify, nil)
	require.NoError(t, err)

	res := waitResult(t, client, taskID)
	assert.True(t, res.OK)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPoolGivesUpAfterMaxAttempts(t *testing.T) {
	broker := NewMemoryBroker()
	client := NewClient(broker)

	var calls atomic.Int32
	pool := NewPool(broker, 1, nil)
	pool.Register(TaskRunAction, func(ctx context.Context, task *Task) (models.Document, error) {
		calls.Add(1)
		return nil, errors.New("still broken")
	})
	runPool(t, pool)

	taskID, err := client.EnqueueRunAction(context.Background(), uuid.New(), models.ActionNotify, nil)
	require.NoError(t, err)

	res := waitResult(t, client, taskID)
	assert.False(t, res.OK)
	assert.Equal(t, "still broken", res.Error)
	assert.Equal(t, int32(maxAttempts), calls.Load())
}

func TestPoolPermanentErrorNotRetried(t *testing.T) {
	broker := NewMemoryBroker()
	client := NewClient(broker)

	var calls atomic.Int32
	pool := NewPool(broker, 1, nil)
	pool.Register(TaskProcessAlert, func(ctx context.Context, task *Task) (models.Document, error) {
		calls.Add(1)
		return models.Document{"ok": false, "error": "alert not found"}, Permanent(errors.New("alert not found"))
	})
	runPool(t, pool)

	taskID, err := client.EnqueueProcessAlert(context.Background(), uuid.New())
	require.NoError(t, err)

	res := waitResult(t, client, taskID)
	assert.False(t, res.OK)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPoolUnknownTask(t *testing.T) {
	broker := NewMemoryBroker()
	client := NewClient(broker)

	pool := NewPool(broker, 1, nil)
	runPool(t, pool)

	taskID, err := client.EnqueueProcessAlert(context.Background(), uuid.New())
	require.NoError(t, err)

	res := waitResult(t, client, taskID)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "unknown task")
}

func TestClientResultPending(t *testing.T) {
	client := NewClient(NewMemoryBroker())

	_, err := client.Result(context.Background(), "never-ran")
	assert.ErrorIs(t, err, ErrResultNotFound)
}
