package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mjgate/internal/model"
	"mjgate/internal/platform"
	"mjgate/internal/store"
)

func okExec(context.Context) platform.Message  { return platform.Success() }
func badExec(context.Context) platform.Message { return platform.Failure("boom") }

func TestSubmitImmediateThenQueued(t *testing.T) {
	acc := testAccount("chan-1", 1)
	acc.CoreSize = 1
	acc.Interval = 0.001
	in := testInstance(acc)
	defer in.Shutdown()

	blocked := make(chan struct{})
	t1 := model.NewTask("t-1", model.ActionImagine, model.VariantMidjourney)
	res := in.Submit(t1, func(ctx context.Context) platform.Message {
		<-blocked
		return platform.Success()
	})
	assert.Equal(t, model.CodeSuccess, res.Code)
	assert.Equal(t, "t-1", res.Result)

	// Wait for the first submission to hold the only permit.
	require.Eventually(t, func() bool { return in.Gate.Held() == 1 },
		time.Second, time.Millisecond)

	t2 := model.NewTask("t-2", model.ActionImagine, model.VariantMidjourney)
	res = in.Submit(t2, okExec)
	assert.Equal(t, model.CodeInQueue, res.Code)

	close(blocked)
	// Finalize both as the correlation engine would.
	for _, task := range []*model.Task{t1, t2} {
		task.Succeed()
		in.Registry.Remove(task.ID)
		task.Awake()
	}
	assert.Eventually(t, func() bool { return in.Gate.Idle() },
		time.Second, time.Millisecond)
}

func TestSubmitQueueFull(t *testing.T) {
	acc := testAccount("chan-1", 1)
	acc.QueueSize = 1
	acc.MaxQueueSize = 2
	in := testInstance(acc)
	defer in.Shutdown()

	// Saturate the soft queue bound without letting anything run.
	in.queued.Store(1)

	task := model.NewTask("t-q", model.ActionImagine, model.VariantMidjourney)
	res := in.Submit(task, okExec)
	assert.Equal(t, model.CodeFailure, res.Code)

	// Priority admission reaches the hard bound.
	prio := model.NewTask("t-p", model.ActionImagine, model.VariantMidjourney)
	prio.IsPriority = true
	res = in.Submit(prio, okExec)
	assert.Equal(t, model.CodeSuccess, res.Code)
	prio.Succeed()
	in.Registry.Remove(prio.ID)
	prio.Awake()
}

func TestExecFailureFinalizesTask(t *testing.T) {
	acc := testAccount("chan-1", 1)
	acc.Interval = 0.001
	ts := store.NewMemoryTaskStore()
	in := NewInstance(acc, nil, ts, zap.NewNop())
	defer in.Shutdown()

	task := model.NewTask("t-f", model.ActionImagine, model.VariantMidjourney)
	res := in.Submit(task, badExec)
	require.Equal(t, model.CodeSuccess, res.Code)

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("failed task never finalized")
	}
	assert.Equal(t, model.StatusFailure, task.GetStatus())
	assert.Equal(t, "boom", task.FailReason)
	assert.Nil(t, in.Registry.Get("t-f"))

	// Terminal state persisted before eviction.
	saved, err := ts.Get(context.Background(), "t-f")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailure, saved.Status)
}

func TestShutdownFailsRunningTasks(t *testing.T) {
	acc := testAccount("chan-1", 1)
	acc.Interval = 0.001
	in := testInstance(acc)

	task := model.NewTask("t-s", model.ActionImagine, model.VariantMidjourney)
	res := in.Submit(task, okExec)
	require.Equal(t, model.CodeSuccess, res.Code)
	require.Eventually(t, func() bool { return task.GetStatus() == model.StatusSubmitted },
		time.Second, time.Millisecond)

	in.Shutdown()
	assert.Equal(t, model.StatusFailure, task.GetStatus())
	assert.False(t, in.IsAlive())
}

func TestSubmitRejectedWhenDead(t *testing.T) {
	in := testInstance(testAccount("chan-1", 1))
	in.MarkDead()
	task := model.NewTask("t-d", model.ActionImagine, model.VariantMidjourney)
	res := in.Submit(task, okExec)
	assert.Equal(t, model.CodeNotFound, res.Code)
}
