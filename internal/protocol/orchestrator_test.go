package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mjgate/internal/model"
	"mjgate/internal/platform"
)

// fakeClient records interactions and answers Success unless overridden.
type fakeClient struct {
	actionFn func(messageID, customID string, flags int, nonce string) platform.Message

	dialogs []dialogCall
}

type dialogCall struct {
	messageID, modal, customID, prompt string
}

func (f *fakeClient) Imagine(_ context.Context, _, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (f *fakeClient) Show(_ context.Context, _, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (f *fakeClient) Upscale(_ context.Context, _ string, _ int, _ string, _ int, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (f *fakeClient) Variation(_ context.Context, _ string, _ int, _ string, _ int, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (f *fakeClient) Reroll(_ context.Context, _, _ string, _ int, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (f *fakeClient) DescribeByLink(_ context.Context, _, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (f *fakeClient) Shorten(_ context.Context, _, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (f *fakeClient) Blend(_ context.Context, _ []string, _ platform.BlendDimensions, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (f *fakeClient) Action(_ context.Context, messageID, customID string, flags int, nonce string) platform.Message {
	if f.actionFn != nil {
		return f.actionFn(messageID, customID, flags, nonce)
	}
	return platform.Success()
}
func (f *fakeClient) Dialog(_ context.Context, messageID, modal, customID, prompt, _ string, _ model.BotVariant) platform.Message {
	f.dialogs = append(f.dialogs, dialogCall{messageID, modal, customID, prompt})
	return platform.Success()
}
func (f *fakeClient) Inpaint(_ context.Context, _, _, _ string) platform.Message {
	return platform.Success()
}
func (f *fakeClient) Seed(_ context.Context, _, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (f *fakeClient) SeedReaction(_ context.Context, _, _ string) platform.Message {
	return platform.Success()
}
func (f *fakeClient) Upload(_ context.Context, _ string, _ platform.DataURL) platform.Message {
	return platform.Success()
}
func (f *fakeClient) SendImage(_ context.Context, _, _ string) platform.Message {
	return platform.Success()
}
func (f *fakeClient) Setting(_ context.Context, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (f *fakeClient) Info(_ context.Context, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (f *fakeClient) SettingButton(_ context.Context, _, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (f *fakeClient) SettingSelect(_ context.Context, _, _ string) platform.Message {
	return platform.Success()
}

func testOrchestrator() *Orchestrator {
	o := NewOrchestrator(zap.NewNop())
	o.modalWait = 500 * time.Millisecond
	o.seedWait = 500 * time.Millisecond
	o.autoWait = 30 * time.Millisecond
	return o
}

func TestDialogFlowAutoConfirmWithoutWindow(t *testing.T) {
	client := &fakeClient{}
	o := testOrchestrator()

	task := model.NewTask("t-auto", model.ActionVariation, model.VariantMidjourney)
	task.MessageID = "msg-src"
	task.AutoConfirm = true

	// No window ever arrives; the trigger alone executed the operation.
	msg := o.DialogFlow(context.Background(), client, task, "MJ::JOB::variation::1::hash::SOLO", "a cat", 0)
	require.True(t, msg.OK(), msg.Description)
	assert.Empty(t, client.dialogs)
}

func TestDialogFlowAutoConfirmUsesWindowWhenPresent(t *testing.T) {
	client := &fakeClient{}
	o := testOrchestrator()

	task := model.NewTask("t-auto2", model.ActionPan, model.VariantMidjourney)
	task.MessageID = "msg-src"
	task.AutoConfirm = true

	client.actionFn = func(_, _ string, _ int, _ string) platform.Message {
		go func() {
			time.Sleep(5 * time.Millisecond)
			task.Lock()
			task.ModalMessageID = "msg-modal"
			task.Unlock()
			task.Signal()
		}()
		return platform.Success()
	}

	msg := o.DialogFlow(context.Background(), client, task, "MJ::JOB::pan_left::1::H::SOLO", "a cat", 0)
	require.True(t, msg.OK(), msg.Description)
	require.Len(t, client.dialogs, 1)
}

func TestDialogFlowPan(t *testing.T) {
	client := &fakeClient{}
	o := testOrchestrator()

	task := model.NewTask("t-pan", model.ActionPan, model.VariantMidjourney)
	task.MessageID = "msg-src"
	task.Nonce = "n-1"

	// The modal arrives while the flow is blocked, as the gateway would
	// deliver it.
	client.actionFn = func(_, _ string, _ int, _ string) platform.Message {
		go func() {
			time.Sleep(10 * time.Millisecond)
			task.Lock()
			task.ModalMessageID = "msg-modal"
			task.Unlock()
			task.Signal()
		}()
		return platform.Success()
	}

	msg := o.DialogFlow(context.Background(), client, task, "X::JOB::pan_left::1::H::SOLO", "a cat", 0)
	require.True(t, msg.OK(), msg.Description)
	require.Len(t, client.dialogs, 1)

	d := client.dialogs[0]
	assert.Equal(t, "msg-modal", d.messageID)
	assert.Equal(t, ModalPanPrompt, d.modal)
	assert.Equal(t, "X::PanModal::left::H::1", d.customID)
	assert.Equal(t, "a cat", d.prompt)
}

func TestDialogFlowModalTimeout(t *testing.T) {
	client := &fakeClient{}
	o := testOrchestrator()
	o.modalWait = 30 * time.Millisecond

	task := model.NewTask("t-to", model.ActionPan, model.VariantMidjourney)
	task.MessageID = "msg-src"

	msg := o.DialogFlow(context.Background(), client, task, "MJ::JOB::pan_up::1::H::SOLO", "a cat", 0)
	assert.False(t, msg.OK())
	assert.Contains(t, msg.Description, "timed out")
	assert.Empty(t, client.dialogs)
}

func TestDialogFlowAbortsOnTriggerFailure(t *testing.T) {
	client := &fakeClient{
		actionFn: func(_, _ string, _ int, _ string) platform.Message {
			return platform.Failure("component rejected")
		},
	}
	o := testOrchestrator()
	task := model.NewTask("t-rej", model.ActionPan, model.VariantMidjourney)

	msg := o.DialogFlow(context.Background(), client, task, "MJ::JOB::pan_up::1::H::SOLO", "a cat", 0)
	assert.False(t, msg.OK())
	assert.Empty(t, client.dialogs)
}

func TestSeedFlowDeliversSeed(t *testing.T) {
	client := &fakeClient{}
	o := testOrchestrator()

	task := model.NewTask("t-seed", model.ActionImagine, model.VariantMidjourney)
	task.MessageID = "msg-done"
	task.SetProperty(model.PropMessageHash, "hash-1")

	go func() {
		time.Sleep(10 * time.Millisecond)
		task.Lock()
		task.Seed = "12345"
		task.Unlock()
		task.Signal()
	}()

	msg := o.SeedFlow(context.Background(), client, task, "priv-chan")
	require.True(t, msg.OK())
	assert.Equal(t, "12345", msg.Result)
}

func TestExtendFlowUsesDiscoveredTrigger(t *testing.T) {
	client := &fakeClient{}
	o := testOrchestrator()

	task := model.NewTask("t-ext", model.ActionVideoExtend, model.VariantMidjourney)
	task.MessageID = "msg-up"
	task.SetProperty(model.PropExtendPrompt, "a cat running")
	task.SetProperty(model.PropExtendMotion, "high")
	task.Buttons = []model.Button{
		{CustomID: "MJ::JOB::upsample::1::hash::SOLO"},
		{CustomID: "MJ::JOB::animate_high_extend::1::hash::SOLO"},
	}

	client.actionFn = func(_, customID string, _ int, _ string) platform.Message {
		assert.Contains(t, customID, "animate_high_extend")
		go func() {
			task.Lock()
			task.ModalMessageID = "msg-modal"
			task.Unlock()
			task.Signal()
		}()
		return platform.Success()
	}

	msg := o.ExtendFlow(context.Background(), client, task)
	require.True(t, msg.OK(), msg.Description)
	require.Len(t, client.dialogs, 1)
	assert.Equal(t, "MJ::AnimateModal::hash::1::high::1", client.dialogs[0].customID)
	assert.Equal(t, "a cat running", client.dialogs[0].prompt)
}

func TestExtendFlowFailsWithoutTrigger(t *testing.T) {
	client := &fakeClient{}
	o := testOrchestrator()

	task := model.NewTask("t-no", model.ActionVideoExtend, model.VariantMidjourney)
	task.SetProperty(model.PropExtendPrompt, "a cat running")

	msg := o.ExtendFlow(context.Background(), client, task)
	assert.False(t, msg.OK())
	assert.Empty(t, client.dialogs)
}
