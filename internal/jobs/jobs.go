// Package jobs runs the background work that must survive process
// restarts: the stuck-task sweep and account settings syncs.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"mjgate/internal/model"
	"mjgate/internal/pool"
	"mjgate/internal/store"
)

const (
	TypeTaskTimeout = "task:timeout"
	TypeAccountSync = "account:sync"
)

// Syncer runs the account settings sync; implemented by the service.
type Syncer interface {
	SyncAccountInfo(ctx context.Context, channelID string) error
}

// JobServer hosts the asynq handlers.
type JobServer struct {
	server *asynq.Server
	client *asynq.Client
	tasks  store.TaskStore
	pool   *pool.Pool
	syncer Syncer
	log    *zap.Logger
}

// NewJobServer builds the server and a client for scheduling.
func NewJobServer(redisAddr string, tasks store.TaskStore, p *pool.Pool, syncer Syncer, log *zap.Logger) (*JobServer, *asynq.Client) {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)
	client := asynq.NewClient(redisOpt)

	return &JobServer{
		server: server,
		client: client,
		tasks:  tasks,
		pool:   p,
		syncer: syncer,
		log:    log,
	}, client
}

// Start registers the handlers and starts processing.
func (js *JobServer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeTaskTimeout, js.handleTaskTimeout)
	mux.HandleFunc(TypeAccountSync, js.handleAccountSync)
	return js.server.Start(mux)
}

// Stop shuts the server and scheduling client down.
func (js *JobServer) Stop() {
	js.server.Shutdown()
	js.client.Close()
}

type timeoutPayload struct {
	TaskID     string `json:"taskId"`
	InstanceID string `json:"instanceId"`
}

// handleTaskTimeout fails a task that is still active past its deadline.
// The in-process wait usually beats this job; it exists for tasks orphaned
// by a crash or an instance teardown race.
func (js *JobServer) handleTaskTimeout(ctx context.Context, t *asynq.Task) error {
	var p timeoutPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode timeout payload: %w", err)
	}

	task, err := js.tasks.Get(ctx, p.TaskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load task %s: %w", p.TaskID, err)
	}
	if task.Status.Terminal() {
		return nil
	}

	// Prefer failing the live in-memory record so waiters wake.
	if in := js.pool.Get(p.InstanceID); in != nil {
		if live := in.Registry.Get(p.TaskID); live != nil {
			in.FailTask(live, "task timed out")
			return nil
		}
	}

	task.Status = model.StatusFailure
	task.FailReason = "task timed out"
	task.FinishTime = time.Now().UnixMilli()
	if err := js.tasks.Save(ctx, task); err != nil {
		return fmt.Errorf("persist timed-out task %s: %w", p.TaskID, err)
	}
	js.log.Warn("orphaned task timed out", zap.String("task_id", p.TaskID))
	return nil
}

func (js *JobServer) handleAccountSync(ctx context.Context, t *asynq.Task) error {
	channelID := string(t.Payload())
	if err := js.syncer.SyncAccountInfo(ctx, channelID); err != nil {
		var logicErr *model.LogicError
		if errors.As(err, &logicErr) {
			// Operator-level failure; retrying will not help.
			js.log.Warn("account sync rejected",
				zap.String("channel_id", channelID), zap.String("reason", logicErr.Message))
			return nil
		}
		return fmt.Errorf("sync account %s: %w", channelID, err)
	}
	return nil
}

// ScheduleTaskTimeout enqueues the sweep for one submission.
func ScheduleTaskTimeout(client *asynq.Client, taskID, instanceID string, timeout time.Duration) error {
	payload, err := json.Marshal(timeoutPayload{TaskID: taskID, InstanceID: instanceID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeTaskTimeout, payload)
	_, err = client.Enqueue(task, asynq.ProcessIn(timeout), asynq.Queue("low"))
	return err
}

// ScheduleAccountSync enqueues a settings sync for one account.
func ScheduleAccountSync(client *asynq.Client, channelID string) error {
	task := asynq.NewTask(TypeAccountSync, []byte(channelID))
	_, err := client.Enqueue(task, asynq.Queue("default"))
	return err
}
