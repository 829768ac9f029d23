package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"mjgate/internal/model"
	"mjgate/internal/platform"
	"mjgate/internal/pool"
	"mjgate/internal/protocol"
)

// ChangeRequest targets an index of a finished grid task.
type ChangeRequest struct {
	SubmitRequest
	TaskID string
	Index  int
}

// loadParent fetches a finished task and the live instance serving it.
func (s *Service) loadParent(ctx context.Context, taskID string) (*model.Task, *pool.Instance, model.SubmitResult, bool) {
	parent, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, nil, model.SubmitFail(model.CodeNotFound, "task not found"), false
	}
	if parent.Status != model.StatusSuccess {
		return nil, nil, model.SubmitFail(model.CodeValidationError, "task has no result to act on"), false
	}
	in := s.pool.GetAlive(parent.InstanceID)
	if in == nil {
		return nil, nil, noInstance(), false
	}
	return parent, in, model.SubmitResult{}, true
}

func parentCoords(parent *model.Task) (messageID, hash string, flags int) {
	messageID = parent.MessageID
	hash = parent.Properties[model.PropMessageHash]
	if hash == "" {
		hash = parent.JobID
	}
	if s := parent.Properties[model.PropFlags]; s != "" {
		flags, _ = strconv.Atoi(s)
	}
	return messageID, hash, flags
}

// childTask derives a follow-up task inheriting the parent's prompt,
// instance and variant.
func (s *Service) childTask(req SubmitRequest, action model.Action, parent *model.Task) *model.Task {
	t := s.newTask(req, action)
	t.ParentID = parent.ID
	t.Variant = parent.Variant
	t.RealVariant = parent.RealVariant
	t.Prompt = parent.Prompt
	t.PromptEn = parent.PromptEn
	t.InstanceID = parent.InstanceID
	t.MessageID = parent.MessageID
	t.SubInstanceID = parent.SubInstanceID
	return t
}

// SubmitUpscale promotes one grid cell to a full image.
func (s *Service) SubmitUpscale(ctx context.Context, req ChangeRequest) model.SubmitResult {
	parent, in, res, ok := s.loadParent(ctx, req.TaskID)
	if !ok {
		return res
	}
	messageID, hash, flags := parentCoords(parent)
	t := s.childTask(req.SubmitRequest, model.ActionUpscale, parent)
	t.Description = fmt.Sprintf("/up %s U%d", parent.ID, req.Index)

	return in.Submit(t, func(ctx context.Context) platform.Message {
		return in.Client.Upscale(ctx, messageID, req.Index, hash, flags, t.Nonce, t.ServingVariant())
	})
}

// SubmitVariation generates variations of one grid cell.
func (s *Service) SubmitVariation(ctx context.Context, req ChangeRequest) model.SubmitResult {
	parent, in, res, ok := s.loadParent(ctx, req.TaskID)
	if !ok {
		return res
	}
	messageID, hash, flags := parentCoords(parent)
	t := s.childTask(req.SubmitRequest, model.ActionVariation, parent)
	t.Description = fmt.Sprintf("/up %s V%d", parent.ID, req.Index)

	return in.Submit(t, func(ctx context.Context) platform.Message {
		return in.Client.Variation(ctx, messageID, req.Index, hash, flags, t.Nonce, t.ServingVariant())
	})
}

// SubmitReroll re-runs a finished generation.
func (s *Service) SubmitReroll(ctx context.Context, req SubmitRequest, taskID string) model.SubmitResult {
	parent, in, res, ok := s.loadParent(ctx, taskID)
	if !ok {
		return res
	}
	messageID, hash, flags := parentCoords(parent)
	t := s.childTask(req, model.ActionReroll, parent)
	t.Description = "/up " + parent.ID + " R"

	return in.Submit(t, func(ctx context.Context) platform.Message {
		return in.Client.Reroll(ctx, messageID, hash, flags, t.Nonce, t.ServingVariant())
	})
}

// ActionRequest presses a component discovered on a finished result.
type ActionRequest struct {
	SubmitRequest
	TaskID   string
	CustomID string
}

// alwaysDialog are the operation kinds whose trigger opens a confirmation
// window regardless of remix mode.
var alwaysDialog = map[model.Action]bool{
	model.ActionZoom:        true,
	model.ActionInpaint:     true,
	model.ActionVideo:       true,
	model.ActionVideoExtend: true,
}

// remixDialog are the kinds that require confirmation only when remix mode
// is active on the serving account.
var remixDialog = map[model.Action]bool{
	model.ActionVariation: true,
	model.ActionPan:       true,
	model.ActionReroll:    true,
}

// SubmitAction executes an arbitrary component press. Dialog-opening
// operations either queue a pending confirmation (CodeExisted) or, under
// remix auto-submit, run the full dialog flow unattended.
func (s *Service) SubmitAction(ctx context.Context, req ActionRequest) model.SubmitResult {
	if req.CustomID == "" {
		return model.SubmitFail(model.CodeValidationError, "custom id is empty")
	}
	parent, in, res, ok := s.loadParent(ctx, req.TaskID)
	if !ok {
		return res
	}

	// Bookmarks are fire-and-forget; no task to track.
	if strings.Contains(req.CustomID, "BOOKMARK") {
		msg := in.Client.Action(ctx, parent.MessageID, req.CustomID, 0, newNonce())
		if !msg.OK() {
			return model.SubmitFail(model.CodeFailure, msg.Description)
		}
		return model.SubmitOK(model.CodeSuccess, "success", parent.ID)
	}

	if strings.Contains(req.CustomID, "::PicReader::") {
		return s.submitPicReader(ctx, req, parent, in)
	}
	if strings.Contains(req.CustomID, "::PromptAnalyzer::") {
		return s.submitAnalyzerPick(ctx, req, parent, in)
	}

	action := protocol.ActionForCustomID(req.CustomID)
	t := s.childTask(req.SubmitRequest, action, parent)
	t.SetProperty(model.PropCustomID, req.CustomID)
	_, _, flags := parentCoords(parent)
	t.SetProperty(model.PropFlags, strconv.Itoa(flags))
	t.Description = "/action " + req.CustomID

	account := in.Account()
	needsDialog := protocol.IsDialogTrigger(req.CustomID) || alwaysDialog[action] ||
		(remixDialog[action] && account.RemixOn(t.ServingVariant()))

	if needsDialog && !account.RemixAutoSubmit {
		// Park the task until the client confirms through SubmitDialog.
		t.Status = model.StatusAwaitingConfirm
		t.DialogPending = true
		in.Registry.Add(t)
		if err := s.tasks.Save(ctx, t); err != nil {
			s.log.Warn("persist pending task failed", zap.String("task_id", t.ID), zap.Error(err))
		}
		return model.SubmitOK(model.CodeExisted, "Waiting for window confirm", t.ID).
			SetProperty(model.PropFinalPrompt, parent.PromptEn).
			SetProperty(model.PropCustomID, req.CustomID)
	}

	if needsDialog {
		t.AutoConfirm = true
		prompt := parent.PromptEn
		return in.Submit(t, func(ctx context.Context) platform.Message {
			return s.orch.DialogFlow(ctx, in.Client, t, req.CustomID, prompt, flags)
		})
	}

	return in.Submit(t, func(ctx context.Context) platform.Message {
		return in.Client.Action(ctx, parent.MessageID, req.CustomID, flags, t.Nonce)
	})
}

// submitPicReader handles describe regeneration: a single indexed pick, or
// ::all which fans out one generation per described prompt line.
func (s *Service) submitPicReader(ctx context.Context, req ActionRequest, parent *model.Task, in *pool.Instance) model.SubmitResult {
	prompts := describedPrompts(parent)
	if len(prompts) == 0 {
		return model.SubmitFail(model.CodeValidationError, "parent task has no described prompts")
	}

	idx := req.CustomID[strings.LastIndex(req.CustomID, "::")+2:]
	if idx != "all" {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 1 || n > len(prompts) {
			return model.SubmitFail(model.CodeValidationError, "invalid prompt index")
		}
		return s.submitDescribedPrompt(ctx, req.SubmitRequest, parent, in, prompts[n-1])
	}

	ids := make([]string, 0, len(prompts))
	for _, p := range prompts {
		res := s.submitDescribedPrompt(ctx, req.SubmitRequest, parent, in, p)
		if res.Code != model.CodeSuccess && res.Code != model.CodeInQueue {
			return res
		}
		ids = append(ids, res.Result)
	}
	return model.SubmitOK(model.CodeSuccess, "success", strings.Join(ids, ","))
}

func (s *Service) submitDescribedPrompt(ctx context.Context, req SubmitRequest, parent *model.Task, in *pool.Instance, prompt string) model.SubmitResult {
	if res, ok := s.moderate(prompt); !ok {
		return res
	}
	t := s.childTask(req, model.ActionImagine, parent)
	t.Prompt = prompt
	t.PromptEn = prompt
	t.Description = "/imagine " + prompt
	return in.Submit(t, func(ctx context.Context) platform.Message {
		return in.Client.Imagine(ctx, t.PromptEn, t.Nonce, t.ServingVariant())
	})
}

// submitAnalyzerPick generates from one of a shorten result's candidates.
func (s *Service) submitAnalyzerPick(ctx context.Context, req ActionRequest, parent *model.Task, in *pool.Instance) model.SubmitResult {
	prompts := describedPrompts(parent)
	idx := req.CustomID[strings.LastIndex(req.CustomID, "::")+2:]
	n, err := strconv.Atoi(idx)
	if err != nil || n < 1 || n > len(prompts) {
		return model.SubmitFail(model.CodeValidationError, "invalid prompt index")
	}
	return s.submitDescribedPrompt(ctx, req.SubmitRequest, parent, in, prompts[n-1])
}

// describedPrompts splits the numbered prompt lines out of a describe or
// shorten result.
func describedPrompts(parent *model.Task) []string {
	text := parent.Properties[model.PropFinalPrompt]
	if text == "" {
		text = parent.PromptEn
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Strip leading ordinal markers: "1️⃣ ", "2.", "3)".
		line = strings.TrimLeft(line, "0123456789️⃣.)- ")
		if line != "" {
			out = append(out, line)
		}
	}
	if len(out) > 4 {
		out = out[:4]
	}
	return out
}

// DialogRequest confirms a parked dialog operation.
type DialogRequest struct {
	TaskID     string
	Prompt     string
	MaskBase64 string
}

// SubmitDialog resumes a task parked in AWAITING_CONFIRMATION, running the
// confirmation-dialog flow with the caller's prompt.
func (s *Service) SubmitDialog(ctx context.Context, req DialogRequest) model.SubmitResult {
	in, t := s.pool.FindRunning(func(t *model.Task) bool {
		return t.ID == req.TaskID && t.DialogPending
	})
	if t == nil {
		return model.SubmitFail(model.CodeNotFound, "pending task not found")
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = t.PromptEn
	}
	if res, ok := s.moderate(prompt); !ok {
		return res
	}
	prompt = s.reviewPrompt(ctx, s.tr.Translate(ctx, prompt))

	customID := t.GetProperty(model.PropCustomID)
	flags, _ := strconv.Atoi(t.GetProperty(model.PropFlags))

	t.Lock()
	t.DialogPending = false
	t.Prompt = req.Prompt
	t.PromptEn = prompt
	t.Status = model.StatusNotStarted
	t.Unlock()
	t.Signal()

	var exec pool.ExecuteFn
	if t.Action == model.ActionInpaint {
		mask := req.MaskBase64
		exec = func(ctx context.Context) platform.Message {
			return s.orch.InpaintFlow(ctx, in.Client, t, customID, prompt, mask)
		}
	} else {
		exec = func(ctx context.Context) platform.Message {
			return s.orch.DialogFlow(ctx, in.Client, t, customID, prompt, flags)
		}
	}
	return in.Submit(t, exec)
}

// VideoExtendRequest lengthens a finished video task.
type VideoExtendRequest struct {
	SubmitRequest
	TaskID string
	Index  int
	Motion string
	Prompt string
}

// SubmitVideoExtend starts the two-phase extend chain: an upscale of the
// chosen clip now, and an automatic extend submission when that upscale
// completes.
func (s *Service) SubmitVideoExtend(ctx context.Context, req VideoExtendRequest) model.SubmitResult {
	parent, in, res, ok := s.loadParent(ctx, req.TaskID)
	if !ok {
		return res
	}
	if parent.Action != model.ActionVideo && parent.Action != model.ActionVideoExtend {
		return model.SubmitFail(model.CodeValidationError, "task is not a video")
	}
	motion := req.Motion
	if motion == "" {
		motion = "low"
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = parent.PromptEn
	}
	if res, ok := s.moderate(prompt); !ok {
		return res
	}

	messageID, hash, flags := parentCoords(parent)
	t := s.childTask(req.SubmitRequest, model.ActionVideoExtend, parent)
	t.SetProperty(model.PropExtendPrompt, prompt)
	t.SetProperty(model.PropExtendMotion, motion)
	t.SetProperty(model.PropExtendIndex, strconv.Itoa(req.Index))
	t.SetProperty(model.PropExtendSourceTaskID, parent.ID)
	t.SetProperty(model.PropFlags, strconv.Itoa(flags))
	t.Description = fmt.Sprintf("/extend %s U%d %s", parent.ID, req.Index, motion)

	return in.Submit(t, func(ctx context.Context) platform.Message {
		return in.Client.Upscale(ctx, messageID, req.Index, hash, flags, t.Nonce, t.ServingVariant())
	})
}

// ExtendVideo is the correlation engine's hook for phase two of the chain.
// The submit goroutine still holds the instance's gate permit, so this runs
// the platform interactions directly and fails the task itself on error.
func (s *Service) ExtendVideo(in *pool.Instance, t *model.Task) {
	t.Lock()
	t.Nonce = newNonce()
	t.Unlock()

	msg := s.orch.ExtendFlow(in.Context(), in.Client, t)
	if !msg.OK() {
		in.FailTask(t, "extend submission failed: "+msg.Description)
		return
	}
	s.log.Info("extend phase submitted", zap.String("task_id", t.ID))
}
