package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mjgate/internal/model"
	"mjgate/internal/store"
)

func testAccount(channelID string, sort int) *model.Account {
	return &model.Account{
		ID:        "acc-" + channelID,
		ChannelID: channelID,
		Sort:      sort,
		Enable:    true,
		EnableMJ:  true,
	}
}

func testInstance(a *model.Account) *Instance {
	return NewInstance(a, nil, store.NewMemoryTaskStore(), zap.NewNop())
}

func TestRegistryOrdering(t *testing.T) {
	r := NewRegistry()
	base := time.Now().UnixMilli()
	for i, id := range []string{"c", "a", "b"} {
		task := model.NewTask(id, model.ActionImagine, model.VariantMidjourney)
		task.SubmitTime = base + int64(10-i)
		r.Add(task)
	}

	got := r.Find(func(*model.Task) bool { return true })
	require.Len(t, got, 3)
	// Oldest submission first.
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
	assert.Equal(t, "c", got[2].ID)

	r.Remove("a")
	assert.Equal(t, 2, r.Len())
	assert.Nil(t, r.Get("a"))
}

func TestSelectOrdersBySortThenChannel(t *testing.T) {
	p := New(zap.NewNop())
	p.Register(testInstance(testAccount("chan-b", 2)))
	p.Register(testInstance(testAccount("chan-a", 1)))
	p.Register(testInstance(testAccount("chan-c", 1)))

	alive := p.AliveInstances()
	require.Len(t, alive, 3)
	assert.Equal(t, "chan-a", alive[0].ChannelID())
	assert.Equal(t, "chan-c", alive[1].ChannelID())
	assert.Equal(t, "chan-b", alive[2].ChannelID())

	// Round-robin walks the deterministic order.
	first := p.Select(SelectOpts{Variant: model.VariantMidjourney})
	second := p.Select(SelectOpts{Variant: model.VariantMidjourney})
	assert.NotEqual(t, first.ChannelID(), second.ChannelID())
}

func TestSelectFiltersVariantAndCapability(t *testing.T) {
	p := New(zap.NewNop())

	niji := testAccount("chan-niji", 1)
	niji.EnableMJ = false
	niji.EnableNiji = true
	p.Register(testInstance(niji))

	blend := testAccount("chan-blend", 2)
	blend.CanBlend = true
	p.Register(testInstance(blend))

	assert.Nil(t, p.Select(SelectOpts{Variant: model.VariantNiji, NeedBlend: true}))

	got := p.Select(SelectOpts{Variant: model.VariantMidjourney, NeedBlend: true})
	require.NotNil(t, got)
	assert.Equal(t, "chan-blend", got.ChannelID())

	// Variant aliasing admits the niji-only account for a midjourney task.
	got = p.Select(SelectOpts{
		Variant:       model.VariantMidjourney,
		AliasVariants: []model.BotVariant{model.VariantNiji},
	})
	require.NotNil(t, got)
}

func TestSelectHonorsFilterAndSubChannel(t *testing.T) {
	p := New(zap.NewNop())

	a := testAccount("chan-a", 1)
	a.SubChannels = map[string]string{"sub-1": "chan-a"}
	a.RemixAutoSubmit = true
	p.Register(testInstance(a))
	p.Register(testInstance(testAccount("chan-b", 1)))

	got := p.Select(SelectOpts{Variant: model.VariantMidjourney, SubChannelID: "sub-1"})
	require.NotNil(t, got)
	assert.Equal(t, "chan-a", got.ChannelID())

	remix := true
	got = p.Select(SelectOpts{
		Variant: model.VariantMidjourney,
		Filter:  &model.Filter{Remix: &remix},
	})
	require.NotNil(t, got)
	assert.Equal(t, "chan-a", got.ChannelID())

	got = p.Select(SelectOpts{
		Variant: model.VariantMidjourney,
		Filter:  &model.Filter{InstanceIDs: []string{"chan-b"}},
	})
	require.NotNil(t, got)
	assert.Equal(t, "chan-b", got.ChannelID())
}

func TestSelectNilWhenNoneEligible(t *testing.T) {
	p := New(zap.NewNop())
	in := testInstance(testAccount("chan-a", 1))
	in.MarkDead()
	p.Register(in)

	assert.Nil(t, p.Select(SelectOpts{Variant: model.VariantMidjourney}))
}

func TestRemoveShutsDownRunningTasks(t *testing.T) {
	p := New(zap.NewNop())
	in := testInstance(testAccount("chan-a", 1))
	p.Register(in)

	task := model.NewTask("t-1", model.ActionImagine, model.VariantMidjourney)
	task.Status = model.StatusSubmitted
	in.Registry.Add(task)

	p.Remove("chan-a")
	assert.Equal(t, model.StatusFailure, task.GetStatus())
	assert.Nil(t, p.Get("chan-a"))
}
