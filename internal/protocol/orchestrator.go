package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mjgate/internal/model"
	"mjgate/internal/platform"
)

const (
	// modalWait bounds how long a pressed trigger may take to produce its
	// confirmation window.
	modalWait = 5 * time.Minute
	// seedWait bounds the seed reply after the retrieval reaction.
	seedWait = 3 * time.Minute
	// autoConfirmWait is the grace period under auto-confirm: if no window
	// shows up within it, the trigger alone executed the operation.
	autoConfirmWait = 10 * time.Second
)

var errWaitTimeout = errors.New("wait deadline exceeded")

// Orchestrator drives multi-step platform interactions for one task. It is
// stateless; all per-operation state lives on the task, written by the
// gateway as platform replies arrive.
type Orchestrator struct {
	log *zap.Logger

	modalWait time.Duration
	seedWait  time.Duration
	autoWait  time.Duration
}

// NewOrchestrator builds an orchestrator with production timeouts.
func NewOrchestrator(log *zap.Logger) *Orchestrator {
	return &Orchestrator{log: log, modalWait: modalWait, seedWait: seedWait, autoWait: autoConfirmWait}
}

// waitTask blocks until cond holds, the task fails elsewhere, the timeout
// elapses, or ctx is canceled. The change channel must be grabbed before
// evaluating cond so a concurrent write cannot be missed.
func waitTask(ctx context.Context, t *model.Task, timeout time.Duration, cond func(*model.Task) bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		ch := t.ChangeCh()
		t.Lock()
		ok := cond(t)
		failed := t.Status == model.StatusFailure
		t.Unlock()
		if ok {
			return nil
		}
		if failed {
			return errors.New("task failed while waiting")
		}
		select {
		case <-ch:
		case <-deadline.C:
			return errWaitTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OpenDialog presses the trigger component and waits for its confirmation
// window to arrive. On return the task carries the modal message id.
func (o *Orchestrator) OpenDialog(ctx context.Context, client platform.Client, t *model.Task, customID string, flags int) platform.Message {
	t.Lock()
	t.ModalMessageID = ""
	messageID, nonce := t.MessageID, t.Nonce
	t.Unlock()

	if msg := client.Action(ctx, messageID, customID, flags, nonce); !msg.OK() {
		return msg
	}
	if err := waitTask(ctx, t, o.modalWait, func(t *model.Task) bool {
		return t.ModalMessageID != ""
	}); err != nil {
		if errors.Is(err, errWaitTimeout) {
			return platform.Failure("timed out waiting for confirmation window")
		}
		return platform.Failure(fmt.Sprintf("confirmation window wait aborted: %v", err))
	}
	return platform.Success()
}

// ConfirmDialog submits the confirmation payload with the operation's
// transformed dialog identifier.
func (o *Orchestrator) ConfirmDialog(ctx context.Context, client platform.Client, t *model.Task, customID, prompt string) platform.Message {
	dialogID, modalField, err := DialogTransform(t.Action, customID, t.MessageID)
	if err != nil {
		return platform.Failure(fmt.Sprintf("dialog transform: %v", err))
	}
	t.Lock()
	modalID, nonce := t.ModalMessageID, t.Nonce
	t.Unlock()
	o.log.Debug("submitting dialog",
		zap.String("task_id", t.ID),
		zap.String("dialog_id", dialogID))
	return client.Dialog(ctx, modalID, modalField, dialogID, prompt, nonce, t.ServingVariant())
}

// DialogFlow runs press, wait and confirm in one pass. Under auto-confirm
// the platform may have no dialog requirement active, in which case the
// trigger alone executes the operation and no window ever arrives; a short
// grace period distinguishes that from a genuine stall.
func (o *Orchestrator) DialogFlow(ctx context.Context, client platform.Client, t *model.Task, customID, prompt string, flags int) platform.Message {
	t.Lock()
	t.ModalMessageID = ""
	messageID, nonce := t.MessageID, t.Nonce
	auto := t.AutoConfirm
	t.Unlock()

	if msg := client.Action(ctx, messageID, customID, flags, nonce); !msg.OK() {
		return msg
	}

	wait := o.modalWait
	if auto {
		wait = o.autoWait
	}
	if err := waitTask(ctx, t, wait, func(t *model.Task) bool {
		return t.ModalMessageID != ""
	}); err != nil {
		if errors.Is(err, errWaitTimeout) {
			if auto {
				return platform.Success()
			}
			return platform.Failure("timed out waiting for confirmation window")
		}
		return platform.Failure(fmt.Sprintf("confirmation window wait aborted: %v", err))
	}
	return o.ConfirmDialog(ctx, client, t, customID, prompt)
}

// InpaintFlow presses the inpaint trigger, waits for its window, and submits
// the mask payload.
func (o *Orchestrator) InpaintFlow(ctx context.Context, client platform.Client, t *model.Task, customID, prompt, maskBase64 string) platform.Message {
	if msg := o.OpenDialog(ctx, client, t, customID, 0); !msg.OK() {
		return msg
	}
	inpaintID := t.GetProperty(model.PropInpaintCustomID)
	if inpaintID == "" {
		inpaintID = customID
	}
	return client.Inpaint(ctx, inpaintID, prompt, maskBase64)
}

// SeedFlow retrieves the generation seed for a finished task. When the job
// hash is known the slash command path is used; otherwise the reaction path
// against the account's private channel. Result carries the seed value.
func (o *Orchestrator) SeedFlow(ctx context.Context, client platform.Client, t *model.Task, privateChannelID string) platform.Message {
	t.Lock()
	t.Seed = ""
	hash := t.Properties[model.PropMessageHash]
	messageID, nonce := t.MessageID, t.Nonce
	t.Unlock()

	var msg platform.Message
	if hash != "" {
		msg = client.Seed(ctx, hash, nonce, t.ServingVariant())
	} else {
		msg = client.SeedReaction(ctx, privateChannelID, messageID)
	}
	if !msg.OK() {
		return msg
	}

	if err := waitTask(ctx, t, o.seedWait, func(t *model.Task) bool {
		return t.Seed != ""
	}); err != nil {
		if errors.Is(err, errWaitTimeout) {
			return platform.Failure("timed out waiting for seed")
		}
		return platform.Failure(fmt.Sprintf("seed wait aborted: %v", err))
	}

	t.Lock()
	seed := t.Seed
	t.Unlock()
	out := platform.Success()
	out.Result = seed
	return out
}

// ExtendFlow runs the second phase of a video-extend chain: locate the
// extend trigger on the upscaled result and drive its dialog with the
// stored extension prompt. The trigger is always discovered from the
// result's own components, never reconstructed.
func (o *Orchestrator) ExtendFlow(ctx context.Context, client platform.Client, t *model.Task) platform.Message {
	motion := t.GetProperty(model.PropExtendMotion)
	if motion == "" {
		motion = "low"
	}
	want := "animate_" + motion + "_extend"

	t.Lock()
	var customID string
	for _, b := range t.Buttons {
		if strings.Contains(b.CustomID, want) {
			customID = b.CustomID
			break
		}
	}
	t.Unlock()
	if customID == "" {
		return platform.Failure("extend trigger not present on upscaled result")
	}

	prompt := t.GetProperty(model.PropExtendPrompt)
	return o.DialogFlow(ctx, client, t, customID, prompt, flagsOf(t))
}

func flagsOf(t *model.Task) int {
	var flags int
	if s := t.GetProperty(model.PropFlags); s != "" {
		fmt.Sscanf(s, "%d", &flags)
	}
	return flags
}
