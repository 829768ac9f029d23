package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mjgate/internal/gate"
	"mjgate/internal/model"
	"mjgate/internal/platform"
	"mjgate/internal/store"
)

// ExecuteFn performs the outbound platform interaction for one submission.
type ExecuteFn func(ctx context.Context) platform.Message

// TimeoutScheduler durably schedules the stuck-task sweep for a submission,
// covering tasks orphaned by a crash before the in-process wait fires.
type TimeoutScheduler interface {
	ScheduleTimeout(taskID, instanceID string, timeout time.Duration) error
}

// Instance is one connected account: its capability flags, admission gate,
// running-task registry, and platform client. A task's lifetime is bounded
// by its instance's lifetime; Shutdown fails whatever is still running.
type Instance struct {
	mu      sync.Mutex
	account *model.Account

	Client   platform.Client
	Gate     *gate.Gate
	Registry *Registry

	// Seeds indexes finished tasks with a seed retrieval in flight. They are
	// terminal and must stay out of Registry, which holds active tasks only.
	Seeds *Registry

	// Sched is optional; when set, every submission also gets a durable
	// timeout job.
	Sched TimeoutScheduler

	tasks   store.TaskStore
	limiter *rate.Limiter
	log     *zap.Logger

	alive  atomic.Bool
	queued atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewInstance wires an instance around a connected account.
func NewInstance(account *model.Account, client platform.Client, tasks store.TaskStore, log *zap.Logger) *Instance {
	coreSize := account.CoreSize
	if coreSize <= 0 {
		coreSize = 3
	}
	interval := account.Interval
	if interval <= 0 {
		interval = 1.2
	}
	ctx, cancel := context.WithCancel(context.Background())
	in := &Instance{
		account:  account,
		Client:   client,
		Gate:     gate.New(coreSize),
		Registry: NewRegistry(),
		Seeds:    NewRegistry(),
		tasks:    tasks,
		limiter:  rate.NewLimiter(rate.Every(time.Duration(interval*float64(time.Second))), 1),
		log:      log.With(zap.String("channel_id", account.ChannelID)),
		ctx:      ctx,
		cancel:   cancel,
	}
	in.alive.Store(true)
	return in
}

// Account returns the account record backing this instance.
func (in *Instance) Account() *model.Account {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.account
}

// SetAccount swaps the account record after a settings sync.
func (in *Instance) SetAccount(a *model.Account) {
	in.mu.Lock()
	in.account = a
	in.mu.Unlock()
}

// ChannelID identifies the instance; tasks store it as their owner id.
func (in *Instance) ChannelID() string { return in.Account().ChannelID }

// IsAlive reports instance health.
func (in *Instance) IsAlive() bool { return in.alive.Load() }

// MarkDead flags the instance unhealthy without tearing it down.
func (in *Instance) MarkDead() { in.alive.Store(false) }

// CanSubmit reports whether the queue has room. Priority tasks are admitted
// up to the hard queue bound, ordinary ones only up to the soft bound.
func (in *Instance) CanSubmit(priority bool) bool {
	a := in.Account()
	soft := a.QueueSize
	if soft <= 0 {
		soft = 10
	}
	hard := a.MaxQueueSize
	if hard < soft {
		hard = soft * 10
	}
	queued := int(in.queued.Load())
	if priority {
		return queued < hard
	}
	return queued < soft
}

// timeout is the bound a running task gets before the sweep policy fails it.
func (in *Instance) timeout() time.Duration {
	m := in.Account().TimeoutMinutes
	if m <= 0 {
		m = 5
	}
	return time.Duration(m) * time.Minute
}

// Submit registers the task and runs exec as an independent unit of work:
// acquire a gate permit, pace the outbound interaction, issue it, then wait
// for the correlation engine to finalize the task. The returned result
// tells the caller whether the task started immediately or queued.
func (in *Instance) Submit(t *model.Task, exec ExecuteFn) model.SubmitResult {
	if !in.IsAlive() {
		return model.SubmitFail(model.CodeNotFound, "instance not available: "+in.ChannelID())
	}
	if !in.CanSubmit(t.IsPriority) {
		return model.SubmitFail(model.CodeFailure, "submit failed, queue is full, try again later")
	}

	in.queued.Add(1)
	in.Registry.Add(t)

	if in.Sched != nil {
		// Padded past the in-process wait so the job only ever sees orphans.
		if err := in.Sched.ScheduleTimeout(t.ID, in.ChannelID(), in.timeout()+time.Minute); err != nil {
			in.log.Warn("schedule timeout sweep failed", zap.String("task_id", t.ID), zap.Error(err))
		}
	}

	immediate := in.Gate.Available() > 0

	go in.run(t, exec)

	if immediate {
		return model.SubmitOK(model.CodeSuccess, "submit success", t.ID)
	}
	return model.SubmitOK(model.CodeInQueue, fmt.Sprintf("in queue, position %d", in.queued.Load()-1), t.ID)
}

func (in *Instance) run(t *model.Task, exec ExecuteFn) {
	acquire := in.Gate.Acquire
	if t.IsPriority {
		acquire = in.Gate.AcquirePriority
	}
	permit, err := acquire(in.ctx)
	in.queued.Add(-1)
	if err != nil {
		in.finalizeFailure(t, "instance shut down before admission")
		return
	}
	defer func() {
		if rerr := in.Gate.Release(permit); rerr != nil {
			in.log.Error("gate release failed", zap.String("task_id", t.ID), zap.Error(rerr))
		}
	}()

	if err := in.limiter.Wait(in.ctx); err != nil {
		in.finalizeFailure(t, "instance shut down before submission")
		return
	}

	t.Start()
	if err := in.tasks.Save(in.ctx, t); err != nil {
		in.log.Warn("persist submitted task failed", zap.String("task_id", t.ID), zap.Error(err))
	}

	msg := exec(in.ctx)
	if !msg.OK() && msg.Code != platform.CodeInQueue {
		in.finalizeFailure(t, msg.Description)
		return
	}

	// The correlation engine closes Done when an inbound event resolves to
	// this task. The deadline is the surrounding timeout policy, not a retry.
	select {
	case <-t.Done():
	case <-time.After(in.timeout()):
		in.finalizeFailure(t, "task timed out awaiting completion event")
	case <-in.ctx.Done():
		in.finalizeFailure(t, "instance disconnected while task in flight")
	}
}

// finalizeFailure fails and evicts a task, persisting the terminal state
// before the in-memory record goes away.
func (in *Instance) finalizeFailure(t *model.Task, reason string) {
	if t.GetStatus().Terminal() {
		return
	}
	t.Fail(reason)
	if err := in.tasks.Save(context.Background(), t); err != nil {
		in.log.Error("persist failed task", zap.String("task_id", t.ID), zap.Error(err))
	}
	in.Registry.Remove(t.ID)
	t.Awake()
	in.log.Warn("task failed", zap.String("task_id", t.ID), zap.String("reason", reason))
}

// Context is canceled when the instance shuts down; long-running flows on
// behalf of this instance derive from it.
func (in *Instance) Context() context.Context { return in.ctx }

// FailTask finalizes a running task with a failure reason, persisting the
// terminal state before eviction.
func (in *Instance) FailTask(t *model.Task, reason string) {
	in.finalizeFailure(t, reason)
}

// Shutdown tears the instance down and fails every running task; requests
// must never be dropped silently when their account disconnects.
func (in *Instance) Shutdown() {
	in.alive.Store(false)
	in.cancel()
	for _, t := range in.Registry.All() {
		in.finalizeFailure(t, "account disconnected")
	}
}
