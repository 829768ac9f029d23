// Package pubsub fans finalized task events out over redis pub/sub so
// pollers and external notifiers can react without scraping the store.
package pubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mjgate/internal/model"
)

// Bus publishes task lifecycle events. It satisfies the correlation
// engine's Notifier.
type Bus struct {
	rdb *redis.Client
	log *zap.Logger
}

// New creates a bus over the given redis client.
func New(rdb *redis.Client, log *zap.Logger) *Bus {
	return &Bus{rdb: rdb, log: log}
}

// TaskFinished publishes the terminal snapshot of a task on both its own
// channel and the shared lifecycle channel.
func (b *Bus) TaskFinished(ctx context.Context, t *model.Task) {
	kind := "task.finished"
	if t.GetStatus() == model.StatusFailure {
		kind = "task.failed"
	}
	event := map[string]interface{}{
		"type":       kind,
		"taskId":     t.ID,
		"instanceId": t.InstanceID,
		"action":     string(t.Action),
		"status":     string(t.GetStatus()),
	}
	if err := b.publish(ctx, "task:"+t.ID, event); err != nil {
		b.log.Warn("publish task event failed", zap.String("task_id", t.ID), zap.Error(err))
	}
	if err := b.publish(ctx, "tasks", event); err != nil {
		b.log.Warn("publish lifecycle event failed", zap.String("task_id", t.ID), zap.Error(err))
	}
}

// PublishInstance publishes an instance lifecycle event (connect,
// disconnect, settings sync).
func (b *Bus) PublishInstance(ctx context.Context, channelID string, event map[string]interface{}) error {
	return b.publish(ctx, "instance:"+channelID, event)
}

func (b *Bus) publish(ctx context.Context, channel string, event map[string]interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return err
	}
	b.log.Debug("published event", zap.String("channel", channel), zap.ByteString("event", data))
	return nil
}

// Subscribe returns a redis subscription on a task channel; callers own
// closing it.
func (b *Bus) Subscribe(ctx context.Context, taskID string) *redis.PubSub {
	return b.rdb.Subscribe(ctx, "task:"+taskID)
}
