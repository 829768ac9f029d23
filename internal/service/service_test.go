package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mjgate/internal/correlate"
	"mjgate/internal/model"
	"mjgate/internal/platform"
	"mjgate/internal/pool"
	"mjgate/internal/protocol"
	"mjgate/internal/store"
)

// stubClient answers Success everywhere and records imagine prompts.
type stubClient struct {
	mu       sync.Mutex
	imagines []string
	actions  []string
	uploads  int
}

func (c *stubClient) Imagine(_ context.Context, prompt, _ string, _ model.BotVariant) platform.Message {
	c.mu.Lock()
	c.imagines = append(c.imagines, prompt)
	c.mu.Unlock()
	return platform.Success()
}
func (c *stubClient) Show(_ context.Context, _, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (c *stubClient) Upscale(_ context.Context, _ string, _ int, _ string, _ int, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (c *stubClient) Variation(_ context.Context, _ string, _ int, _ string, _ int, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (c *stubClient) Reroll(_ context.Context, _, _ string, _ int, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (c *stubClient) DescribeByLink(_ context.Context, _, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (c *stubClient) Shorten(_ context.Context, _, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (c *stubClient) Blend(_ context.Context, _ []string, _ platform.BlendDimensions, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (c *stubClient) Action(_ context.Context, _, customID string, _ int, _ string) platform.Message {
	c.mu.Lock()
	c.actions = append(c.actions, customID)
	c.mu.Unlock()
	return platform.Success()
}
func (c *stubClient) Dialog(_ context.Context, _, _, _, _, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (c *stubClient) Inpaint(_ context.Context, _, _, _ string) platform.Message {
	return platform.Success()
}
func (c *stubClient) Seed(_ context.Context, _, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (c *stubClient) SeedReaction(_ context.Context, _, _ string) platform.Message {
	return platform.Success()
}
func (c *stubClient) Upload(_ context.Context, fileName string, _ platform.DataURL) platform.Message {
	c.mu.Lock()
	c.uploads++
	c.mu.Unlock()
	m := platform.Success()
	m.Result = fileName
	return m
}
func (c *stubClient) SendImage(_ context.Context, _, fileName string) platform.Message {
	m := platform.Success()
	m.Result = "https://cdn.example.com/up/" + fileName
	return m
}
func (c *stubClient) Setting(_ context.Context, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (c *stubClient) Info(_ context.Context, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (c *stubClient) SettingButton(_ context.Context, _, _ string, _ model.BotVariant) platform.Message {
	return platform.Success()
}
func (c *stubClient) SettingSelect(_ context.Context, _, _ string) platform.Message {
	return platform.Success()
}

type fixture struct {
	svc    *Service
	pool   *pool.Pool
	tasks  *store.MemoryTaskStore
	client *stubClient
	in     *pool.Instance
	engine *correlate.Engine
}

func newFixture(t *testing.T, mutate func(*model.Account)) *fixture {
	t.Helper()
	acc := &model.Account{
		ID: "acc-1", ChannelID: "chan-1",
		Enable: true, EnableMJ: true,
		CanBlend: true, CanDescribe: true, CanShorten: true,
		Interval: 0.001,
	}
	if mutate != nil {
		mutate(acc)
	}

	tasks := store.NewMemoryTaskStore()
	client := &stubClient{}
	in := pool.NewInstance(acc, client, tasks, zap.NewNop())
	t.Cleanup(in.Shutdown)

	p := pool.New(zap.NewNop())
	p.Register(in)

	mod := NewModerator(func() []string { return []string{"forbidden"} })
	svc := New(p, tasks, store.NewMemoryAccountStore(), protocol.NewOrchestrator(zap.NewNop()), mod, nil, zap.NewNop())
	engine := correlate.NewEngine(tasks, nil, svc, zap.NewNop())
	return &fixture{svc: svc, pool: p, tasks: tasks, client: client, in: in, engine: engine}
}

func TestSubmitImagineEndToEnd(t *testing.T) {
	f := newFixture(t, nil)

	res := f.svc.SubmitImagine(context.Background(), ImagineRequest{Prompt: "a cat --ar 16:9"})
	require.Equal(t, model.CodeSuccess, res.Code, res.Description)
	taskID := res.Result

	task := f.in.Registry.Get(taskID)
	require.NotNil(t, task)
	require.Eventually(t, func() bool { return task.GetStatus() == model.StatusSubmitted },
		time.Second, time.Millisecond)

	task.Lock()
	task.InteractionID = "inter-1"
	task.Unlock()

	f.engine.Process(context.Background(), f.in, &correlate.Event{
		ID:            "msg-1",
		InteractionID: "inter-1",
		Kind:          correlate.KindFinished,
		Prompt:        "a cat --ar 16:9",
		ImageURL:      "https://cdn.example.com/att/u_a_cat_h1.png",
	})

	assert.Equal(t, model.StatusSuccess, task.GetStatus())
	assert.Nil(t, f.in.Registry.Get(taskID))

	saved, err := f.tasks.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, saved.Status)
	assert.Equal(t, "https://cdn.example.com/att/u_a_cat_h1.png", saved.ImageURL)
}

func TestSubmitImagineBannedPrompt(t *testing.T) {
	f := newFixture(t, nil)
	res := f.svc.SubmitImagine(context.Background(), ImagineRequest{Prompt: "a forbidden cat"})
	assert.Equal(t, model.CodeValidationError, res.Code)
	assert.Equal(t, "forbidden", res.Properties["bannedWord"])
	assert.Equal(t, 0, f.in.Registry.Len())
}

func TestSubmitImagineNoInstance(t *testing.T) {
	f := newFixture(t, func(a *model.Account) { a.EnableMJ = false; a.EnableNiji = false })
	res := f.svc.SubmitImagine(context.Background(), ImagineRequest{Prompt: "a cat"})
	assert.Equal(t, model.CodeNotFound, res.Code)
}

func TestSubmitImagineUploadsReferences(t *testing.T) {
	f := newFixture(t, nil)
	res := f.svc.SubmitImagine(context.Background(), ImagineRequest{
		Prompt:      "a cat",
		Base64Array: []string{"data:image/png;base64,aGVsbG8="},
	})
	require.Equal(t, model.CodeSuccess, res.Code, res.Description)
	assert.Equal(t, 1, f.client.uploads)

	task := f.in.Registry.Get(res.Result)
	require.NotNil(t, task)
	assert.Contains(t, task.PromptEn, "https://cdn.example.com/up/")
	assert.Contains(t, task.PromptEn, "a cat")
}

func TestSubmitBlendValidatesCount(t *testing.T) {
	f := newFixture(t, nil)
	res := f.svc.SubmitBlend(context.Background(), BlendRequest{
		Base64Array: []string{"data:image/png;base64,aGVsbG8="},
	})
	assert.Equal(t, model.CodeValidationError, res.Code)
}

func TestSubmitActionRemixParksTask(t *testing.T) {
	f := newFixture(t, func(a *model.Account) { a.MJRemixOn = true })

	parent := finishedParent(t, f)
	res := f.svc.SubmitAction(context.Background(), ActionRequest{
		TaskID:   parent.ID,
		CustomID: "MJ::JOB::variation::2::hash1::SOLO",
	})
	require.Equal(t, model.CodeExisted, res.Code)
	assert.Equal(t, "Waiting for window confirm", res.Description)

	parked := f.in.Registry.Get(res.Result)
	require.NotNil(t, parked)
	assert.Equal(t, model.StatusAwaitingConfirm, parked.GetStatus())
	assert.True(t, parked.DialogPending)
}

func TestSubmitDialogResumesParkedTask(t *testing.T) {
	f := newFixture(t, func(a *model.Account) { a.MJRemixOn = true })

	parent := finishedParent(t, f)
	res := f.svc.SubmitAction(context.Background(), ActionRequest{
		TaskID:   parent.ID,
		CustomID: "MJ::JOB::variation::2::hash1::SOLO",
	})
	require.Equal(t, model.CodeExisted, res.Code)
	parked := f.in.Registry.Get(res.Result)
	require.NotNil(t, parked)

	// The modal arrives while the dialog flow waits; keep delivering so the
	// flow's own reset of the field cannot race the test.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				parked.Lock()
				parked.ModalMessageID = "msg-modal"
				parked.Unlock()
				parked.Signal()
			}
		}
	}()

	res = f.svc.SubmitDialog(context.Background(), DialogRequest{
		TaskID: parked.ID,
		Prompt: "a louder cat",
	})
	require.Equal(t, model.CodeSuccess, res.Code, res.Description)
	require.Eventually(t, func() bool { return parked.GetStatus() == model.StatusSubmitted },
		time.Second, time.Millisecond)
	assert.Equal(t, "a louder cat", parked.PromptEn)
}

func TestSubmitActionDirectPassThrough(t *testing.T) {
	f := newFixture(t, nil)

	parent := finishedParent(t, f)
	res := f.svc.SubmitAction(context.Background(), ActionRequest{
		TaskID:   parent.ID,
		CustomID: "MJ::JOB::upsample::1::hash1::SOLO",
	})
	require.Equal(t, model.CodeSuccess, res.Code, res.Description)

	child := f.in.Registry.Get(res.Result)
	require.NotNil(t, child)
	assert.Equal(t, model.ActionUpscale, child.Action)
	assert.Equal(t, parent.ID, child.ParentID)
}

func TestSubmitVideoExtendValidatesSource(t *testing.T) {
	f := newFixture(t, nil)

	parent := finishedParent(t, f)
	res := f.svc.SubmitVideoExtend(context.Background(), VideoExtendRequest{
		TaskID: parent.ID, Index: 1, Motion: "high",
	})
	assert.Equal(t, model.CodeValidationError, res.Code)

	video := finishedParent(t, f)
	video.Action = model.ActionVideo
	require.NoError(t, f.tasks.Save(context.Background(), video))

	res = f.svc.SubmitVideoExtend(context.Background(), VideoExtendRequest{
		TaskID: video.ID, Index: 1, Motion: "high", Prompt: "keep running",
	})
	require.Equal(t, model.CodeSuccess, res.Code, res.Description)

	child := f.in.Registry.Get(res.Result)
	require.NotNil(t, child)
	assert.Equal(t, model.ActionVideoExtend, child.Action)
	assert.Equal(t, "keep running", child.GetProperty(model.PropExtendPrompt))
	assert.Equal(t, "high", child.GetProperty(model.PropExtendMotion))
	assert.Equal(t, video.ID, child.GetProperty(model.PropExtendSourceTaskID))
}

func TestSubmitSeedRequiresFinishedTask(t *testing.T) {
	f := newFixture(t, nil)
	res := f.svc.SubmitSeed(context.Background(), "missing")
	assert.Equal(t, model.CodeNotFound, res.Code)
}

func TestSubmitSeedWaitsOutsideActiveRegistry(t *testing.T) {
	f := newFixture(t, nil)
	parent := finishedParent(t, f)

	var sawInRegistry atomic.Bool
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		// Deliver the seed reply as the gateway would, once the waiting
		// task shows up in the seed index.
		tick := time.NewTicker(time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				w := f.in.Seeds.Get(parent.ID)
				if w == nil {
					continue
				}
				if f.in.Registry.Get(parent.ID) != nil {
					sawInRegistry.Store(true)
				}
				w.Lock()
				w.Seed = "987654"
				w.Unlock()
				w.Signal()
			}
		}
	}()

	res := f.svc.SubmitSeed(context.Background(), parent.ID)
	require.Equal(t, model.CodeSuccess, res.Code, res.Description)
	assert.Equal(t, "987654", res.Result)

	// The finished task never re-entered the active registry, and the seed
	// index is cleared once the flow returns.
	assert.False(t, sawInRegistry.Load())
	assert.Nil(t, f.in.Seeds.Get(parent.ID))
}

// finishedParent persists a finished imagine task bound to the fixture
// instance, as the correlation engine would leave it.
func finishedParent(t *testing.T, f *fixture) *model.Task {
	t.Helper()
	parent := model.NewTask(newID(), model.ActionImagine, model.VariantMidjourney)
	parent.Status = model.StatusSuccess
	parent.InstanceID = f.in.ChannelID()
	parent.MessageID = "msg-parent"
	parent.Prompt = "a cat"
	parent.PromptEn = "a cat"
	parent.Properties[model.PropMessageHash] = "hash1"
	require.NoError(t, f.tasks.Save(context.Background(), parent))
	return parent
}
