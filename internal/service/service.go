// Package service is the dispatch façade: one entry point per operation
// kind. Every submission returns a SubmitResult; platform and selection
// failures are folded into its code and description and never escape as
// raw errors.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mjgate/internal/model"
	"mjgate/internal/platform"
	"mjgate/internal/pool"
	"mjgate/internal/protocol"
	"mjgate/internal/store"
)

// Service coordinates moderation, translation, instance selection and
// submission for every operation kind.
type Service struct {
	pool     *pool.Pool
	tasks    store.TaskStore
	accounts store.AccountStore
	orch     *protocol.Orchestrator
	mod      *Moderator
	tr       Translator
	rev      Reviewer
	log      *zap.Logger
}

// New wires the façade. translator may be nil, in which case prompts pass
// through untranslated.
func New(p *pool.Pool, tasks store.TaskStore, accounts store.AccountStore, orch *protocol.Orchestrator, mod *Moderator, tr Translator, log *zap.Logger) *Service {
	if tr == nil {
		tr = NopTranslator{}
	}
	return &Service{pool: p, tasks: tasks, accounts: accounts, orch: orch, mod: mod, tr: tr, log: log}
}

// SetReviewer attaches an external prompt reviewer.
func (s *Service) SetReviewer(r Reviewer) { s.rev = r }

// reviewPrompt runs the external reviewer, returning the possibly rewritten
// prompt.
func (s *Service) reviewPrompt(ctx context.Context, prompt string) string {
	if s.rev == nil {
		return prompt
	}
	if changed, text := s.rev.Review(ctx, prompt); changed && text != "" {
		return text
	}
	return prompt
}

func newID() string    { return ulid.Make().String() }
func newNonce() string { return ulid.Make().String() }

// SubmitRequest carries the caller-supplied routing fields shared by all
// operations.
type SubmitRequest struct {
	Variant     model.BotVariant
	Filter      *model.Filter
	State       string
	Priority    bool
	InstanceIDs []string
}

func (s *Service) newTask(req SubmitRequest, action model.Action) *model.Task {
	variant := req.Variant
	if variant == "" {
		variant = model.VariantMidjourney
	}
	t := model.NewTask(newID(), action, variant)
	t.State = req.State
	t.IsPriority = req.Priority
	t.Nonce = newNonce()
	return t
}

// selectInstance resolves an instance for the request, admitting the other
// bot variant as an alias when the requested one has no capacity.
func (s *Service) selectInstance(req SubmitRequest, t *model.Task, opts pool.SelectOpts) *pool.Instance {
	opts.Filter = req.Filter
	opts.Variant = t.Variant
	opts.InstanceIDs = req.InstanceIDs
	in := s.pool.Select(opts)
	if in == nil {
		alias := model.VariantMidjourney
		if t.Variant == model.VariantMidjourney {
			alias = model.VariantNiji
		}
		opts.AliasVariants = []model.BotVariant{alias}
		if in = s.pool.Select(opts); in != nil && !in.Account().ServesVariant(t.Variant) {
			t.RealVariant = alias
		}
	}
	if in != nil {
		t.InstanceID = in.ChannelID()
	}
	return in
}

func noInstance() model.SubmitResult {
	return model.SubmitFail(model.CodeNotFound, "no available account instance")
}

func (s *Service) moderate(prompt string) (model.SubmitResult, bool) {
	if s.mod == nil {
		return model.SubmitResult{}, true
	}
	if err := s.mod.CheckBanned(prompt); err != nil {
		var banned *BannedPromptError
		res := model.SubmitFail(model.CodeValidationError, "prompt contains banned words")
		if errors.As(err, &banned) {
			res = res.SetProperty("bannedWord", banned.Word)
		}
		return res, false
	}
	return model.SubmitResult{}, true
}

// ImagineRequest is a generation submission.
type ImagineRequest struct {
	SubmitRequest
	Prompt      string
	Base64Array []string
}

// SubmitImagine runs moderation and translation, uploads any reference
// images, selects an instance and submits the generation.
func (s *Service) SubmitImagine(ctx context.Context, req ImagineRequest) model.SubmitResult {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return model.SubmitFail(model.CodeValidationError, "prompt is empty")
	}
	if res, ok := s.moderate(prompt); !ok {
		return res
	}

	t := s.newTask(req.SubmitRequest, model.ActionImagine)
	t.Prompt = prompt
	t.PromptEn = s.reviewPrompt(ctx, s.tr.Translate(ctx, prompt))

	in := s.selectInstance(req.SubmitRequest, t, pool.SelectOpts{})
	if in == nil {
		return noInstance()
	}

	if len(req.Base64Array) > 0 {
		links, err := s.uploadAll(ctx, in.Client, req.Base64Array)
		if err != nil {
			return model.SubmitFail(model.CodeFailure, fmt.Sprintf("reference upload failed: %v", err))
		}
		t.PromptEn = strings.Join(links, " ") + " " + t.PromptEn
	}
	t.Description = "/imagine " + t.Prompt

	return in.Submit(t, func(ctx context.Context) platform.Message {
		return in.Client.Imagine(ctx, t.PromptEn, t.Nonce, t.ServingVariant())
	})
}

// uploadAll pushes every inline image concurrently and returns the hosted
// links in input order.
func (s *Service) uploadAll(ctx context.Context, client platform.Client, base64Array []string) ([]string, error) {
	links := make([]string, len(base64Array))
	g, ctx := errgroup.WithContext(ctx)
	for i, b64 := range base64Array {
		i, b64 := i, b64
		g.Go(func() error {
			data, err := decodeDataURL(b64)
			if err != nil {
				return err
			}
			name := fmt.Sprintf("%s.%s", newID(), extFor(data.MimeType))
			up := client.Upload(ctx, name, data)
			if !up.OK() {
				return fmt.Errorf("upload %s: %s", name, up.Description)
			}
			sent := client.SendImage(ctx, "", up.Result)
			if !sent.OK() {
				return fmt.Errorf("publish %s: %s", name, sent.Description)
			}
			links[i] = sent.Result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return links, nil
}

// ShowTask recovers an existing platform job into a tracked task.
func (s *Service) ShowTask(ctx context.Context, req SubmitRequest, jobID string) model.SubmitResult {
	if jobID == "" {
		return model.SubmitFail(model.CodeValidationError, "job id is empty")
	}
	t := s.newTask(req, model.ActionShow)
	t.JobID = jobID
	t.Description = "/show " + jobID

	in := s.selectInstance(req, t, pool.SelectOpts{})
	if in == nil {
		return noInstance()
	}
	return in.Submit(t, func(ctx context.Context) platform.Message {
		return in.Client.Show(ctx, jobID, t.Nonce, t.ServingVariant())
	})
}

// DescribeRequest reverses an image into prompt suggestions.
type DescribeRequest struct {
	SubmitRequest
	Base64 string
	Link   string
}

// SubmitDescribe uploads the image when inline and submits a describe.
func (s *Service) SubmitDescribe(ctx context.Context, req DescribeRequest) model.SubmitResult {
	if req.Base64 == "" && req.Link == "" {
		return model.SubmitFail(model.CodeValidationError, "image is empty")
	}
	t := s.newTask(req.SubmitRequest, model.ActionDescribe)

	in := s.selectInstance(req.SubmitRequest, t, pool.SelectOpts{NeedDescribe: true})
	if in == nil {
		return noInstance()
	}

	link := req.Link
	if link == "" {
		links, err := s.uploadAll(ctx, in.Client, []string{req.Base64})
		if err != nil {
			return model.SubmitFail(model.CodeFailure, fmt.Sprintf("image upload failed: %v", err))
		}
		link = links[0]
	}
	t.PromptEn = link
	t.Description = "/describe " + link

	return in.Submit(t, func(ctx context.Context) platform.Message {
		return in.Client.DescribeByLink(ctx, link, t.Nonce, t.ServingVariant())
	})
}

// SubmitShorten analyzes a prompt into shorter candidates.
func (s *Service) SubmitShorten(ctx context.Context, req SubmitRequest, prompt string) model.SubmitResult {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return model.SubmitFail(model.CodeValidationError, "prompt is empty")
	}
	if res, ok := s.moderate(prompt); !ok {
		return res
	}

	t := s.newTask(req, model.ActionShorten)
	t.Prompt = prompt
	t.PromptEn = s.tr.Translate(ctx, prompt)
	t.Description = "/shorten " + prompt

	in := s.selectInstance(req, t, pool.SelectOpts{NeedShorten: true})
	if in == nil {
		return noInstance()
	}
	return in.Submit(t, func(ctx context.Context) platform.Message {
		return in.Client.Shorten(ctx, t.PromptEn, t.Nonce, t.ServingVariant())
	})
}

// BlendRequest merges 2..5 images into one generation.
type BlendRequest struct {
	SubmitRequest
	Base64Array []string
	Dimensions  platform.BlendDimensions
}

// SubmitBlend uploads every input concurrently and submits the blend.
func (s *Service) SubmitBlend(ctx context.Context, req BlendRequest) model.SubmitResult {
	if len(req.Base64Array) < 2 || len(req.Base64Array) > 5 {
		return model.SubmitFail(model.CodeValidationError, "blend requires 2 to 5 images")
	}
	dims := req.Dimensions
	if dims == "" {
		dims = platform.BlendSquare
	}

	t := s.newTask(req.SubmitRequest, model.ActionBlend)
	in := s.selectInstance(req.SubmitRequest, t, pool.SelectOpts{NeedBlend: true})
	if in == nil {
		return noInstance()
	}

	names := make([]string, len(req.Base64Array))
	g, gctx := errgroup.WithContext(ctx)
	for i, b64 := range req.Base64Array {
		i, b64 := i, b64
		g.Go(func() error {
			data, err := decodeDataURL(b64)
			if err != nil {
				return err
			}
			name := fmt.Sprintf("%s.%s", newID(), extFor(data.MimeType))
			up := in.Client.Upload(gctx, name, data)
			if !up.OK() {
				return fmt.Errorf("upload %s: %s", name, up.Description)
			}
			names[i] = up.Result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.SubmitFail(model.CodeFailure, fmt.Sprintf("blend upload failed: %v", err))
	}
	t.PromptEn = strings.Join(names, " ")
	t.Description = fmt.Sprintf("/blend %d images %s", len(names), dims)

	return in.Submit(t, func(ctx context.Context) platform.Message {
		return in.Client.Blend(ctx, names, dims, t.Nonce, t.ServingVariant())
	})
}

// SubmitSeed retrieves the seed of a finished task. It runs synchronously;
// the task waits in the instance's seed index so the gateway can route the
// reply onto it without the terminal task re-entering the active registry.
func (s *Service) SubmitSeed(ctx context.Context, taskID string) model.SubmitResult {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return model.SubmitFail(model.CodeNotFound, "task not found")
	}
	if t.Status != model.StatusSuccess {
		return model.SubmitFail(model.CodeValidationError, "task has no result yet")
	}
	if t.Seed != "" {
		return model.SubmitOK(model.CodeSuccess, "success", t.Seed)
	}

	in := s.pool.GetAlive(t.InstanceID)
	if in == nil {
		return noInstance()
	}
	t.Nonce = newNonce()
	in.Seeds.Add(t)
	defer in.Seeds.Remove(t.ID)

	msg := s.orch.SeedFlow(ctx, in.Client, t, in.Account().PrivateChannelID)
	if !msg.OK() {
		return model.SubmitFail(model.CodeFailure, msg.Description)
	}
	if err := s.tasks.Save(ctx, t); err != nil {
		s.log.Warn("persist seed failed", zap.String("task_id", t.ID), zap.Error(err))
	}
	return model.SubmitOK(model.CodeSuccess, "success", msg.Result)
}
