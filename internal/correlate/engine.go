package correlate

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"mjgate/internal/model"
	"mjgate/internal/pool"
	"mjgate/internal/store"
)

const (
	dedupEntries = 10000
	dedupTTL     = 30 * time.Minute
)

// Notifier receives finalized tasks for fan-out (webhooks, pub/sub).
type Notifier interface {
	TaskFinished(ctx context.Context, t *model.Task)
}

// Extender runs the second phase of a video-extend chain after its upscale
// phase completes. Invoked asynchronously by the engine.
type Extender interface {
	ExtendVideo(in *pool.Instance, t *model.Task)
}

// Engine resolves inbound platform events to running tasks. The platform
// never correlates replies to submissions, so resolution is a cascade of
// heuristics ordered strongest first; an event no matcher claims is dropped,
// and an ambiguous one is refused rather than guessed.
type Engine struct {
	tasks    store.TaskStore
	dedup    *expirable.LRU[string, struct{}]
	notifier Notifier
	extender Extender
	log      *zap.Logger

	now func() time.Time
}

// NewEngine builds an engine. notifier and extender may be nil.
func NewEngine(tasks store.TaskStore, notifier Notifier, extender Extender, log *zap.Logger) *Engine {
	return &Engine{
		tasks:    tasks,
		dedup:    expirable.NewLRU[string, struct{}](dedupEntries, nil, dedupTTL),
		notifier: notifier,
		extender: extender,
		log:      log,
		now:      time.Now,
	}
}

// Process resolves the event against the instance's running tasks and
// applies it. A nil return never implies a match was found; unmatched
// events are logged and dropped.
func (en *Engine) Process(ctx context.Context, in *pool.Instance, e *Event) {
	if e.ID != "" && e.Kind != KindProgress {
		if _, seen := en.dedup.Get(e.ID); seen {
			en.log.Debug("duplicate event dropped", zap.String("event_id", e.ID))
			return
		}
	}

	// Candidates are the active tasks served by the event's bot. On a
	// dual-variant account the other bot's replies must never bind here,
	// however well the prompts line up.
	cands := in.Registry.Find(func(t *model.Task) bool {
		if !t.GetStatus().Active() {
			return false
		}
		return e.Variant == "" || t.ServingVariant() == e.Variant
	})

	t, step, weak := en.resolve(e, cands)
	if t == nil {
		en.log.Debug("event matched no task",
			zap.String("event_id", e.ID),
			zap.String("channel_id", e.ChannelID),
			zap.Int("candidates", len(cands)))
		return
	}
	if weak {
		en.log.Warn("event matched by weak heuristic",
			zap.String("event_id", e.ID),
			zap.String("task_id", t.ID),
			zap.String("matcher", step))
	}

	switch e.Kind {
	case KindProgress:
		en.applyProgress(ctx, t, e)
	case KindFailed:
		en.finalizeFailure(ctx, in, t, e)
	case KindFinished:
		en.finalizeSuccess(ctx, in, t, e)
	}
}

// resolve runs the cascade. The matcher name is returned for logging.
func (en *Engine) resolve(e *Event, cands []*model.Task) (*model.Task, string, bool) {
	now := en.now()
	for _, m := range cascade {
		out := m.fn(e, cands, now)
		if out.refuse {
			en.log.Error("event correlation refused",
				zap.String("event_id", e.ID),
				zap.String("matcher", m.name),
				zap.String("reason", out.note))
			return nil, m.name, false
		}
		if out.task != nil {
			return out.task, m.name, out.weak
		}
	}
	return nil, "", false
}

func (en *Engine) applyProgress(ctx context.Context, t *model.Task, e *Event) {
	if e.ID != "" {
		t.RecordMessageID(e.ID)
	}
	t.Lock()
	if e.Progress != "" {
		t.Progress = e.Progress
	}
	if e.ImageURL != "" {
		t.ImageURL = e.ImageURL
	}
	if t.Status == model.StatusSubmitted {
		t.Status = model.StatusInProgress
	}
	t.Unlock()
	t.Signal()
	if err := en.tasks.Save(ctx, t); err != nil {
		en.log.Warn("persist progress failed", zap.String("task_id", t.ID), zap.Error(err))
	}
}

func (en *Engine) finalizeFailure(ctx context.Context, in *pool.Instance, t *model.Task, e *Event) {
	if e.ID != "" {
		t.RecordMessageID(e.ID)
	}
	reason := e.FailReason
	if reason == "" {
		reason = "platform reported failure"
	}
	t.Fail(reason)
	if err := en.tasks.Save(ctx, t); err != nil {
		en.log.Error("persist failed task", zap.String("task_id", t.ID), zap.Error(err))
	}
	in.Registry.Remove(t.ID)
	en.markProcessed(e)
	t.Awake()
	if en.notifier != nil {
		en.notifier.TaskFinished(ctx, t)
	}
	en.log.Info("task failed",
		zap.String("task_id", t.ID), zap.String("reason", reason))
}

func (en *Engine) finalizeSuccess(ctx context.Context, in *pool.Instance, t *model.Task, e *Event) {
	if e.ID != "" {
		t.RecordMessageID(e.ID)
	}

	t.Lock()
	if e.ImageURL != "" {
		t.ImageURL = e.ImageURL
	}
	if e.Width > 0 {
		t.Width, t.Height = e.Width, e.Height
	}
	if e.Size > 0 {
		t.Size = e.Size
	}
	if e.ContentType != "" {
		t.ContentType = e.ContentType
	}
	if len(e.Buttons) > 0 {
		t.Buttons = append([]model.Button(nil), e.Buttons...)
	}
	if e.Prompt != "" {
		if t.PromptFull == "" {
			t.PromptFull = e.Prompt
		}
		if t.Properties == nil {
			t.Properties = map[string]string{}
		}
		t.Properties[model.PropFinalPrompt] = e.Prompt
	}
	if hash := e.hash(); hash != "" {
		if t.Properties == nil {
			t.Properties = map[string]string{}
		}
		t.Properties[model.PropMessageHash] = hash
		if t.JobID == "" {
			t.JobID = hash
		}
	}
	t.Unlock()

	// A video-extend's first completion is only its upscale phase. Reopen
	// once, flag the phase done, and hand off to the extender; the second
	// completion falls through to the normal path.
	if t.Action == model.ActionVideoExtend &&
		t.GetProperty(model.PropExtendPrompt) != "" &&
		t.GetProperty(model.PropExtendDone) != "true" {
		t.SetProperty(model.PropExtendDone, "true")
		t.Reopen()
		if err := en.tasks.Save(ctx, t); err != nil {
			en.log.Warn("persist reopened task failed", zap.String("task_id", t.ID), zap.Error(err))
		}
		en.markProcessed(e)
		en.log.Info("upscale phase complete, chaining extend",
			zap.String("task_id", t.ID))
		if en.extender != nil {
			go en.extender.ExtendVideo(in, t)
		}
		return
	}

	t.Succeed()
	if err := en.tasks.Save(ctx, t); err != nil {
		en.log.Error("persist finished task", zap.String("task_id", t.ID), zap.Error(err))
	}
	in.Registry.Remove(t.ID)
	en.markProcessed(e)
	t.Awake()
	if en.notifier != nil {
		en.notifier.TaskFinished(ctx, t)
	}
	en.log.Info("task finished",
		zap.String("task_id", t.ID),
		zap.String("action", string(t.Action)))
}

func (en *Engine) markProcessed(e *Event) {
	if e.ID != "" {
		en.dedup.Add(e.ID, struct{}{})
	}
}
