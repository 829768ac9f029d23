package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mjgate/internal/model"
)

func TestPanDialogID(t *testing.T) {
	got, err := PanDialogID("X::JOB::pan_left::1::H::SOLO")
	require.NoError(t, err)
	assert.Equal(t, "X::PanModal::left::H::1", got)

	got, err = PanDialogID("MJ::JOB::pan_down::3::somehash::SOLO")
	require.NoError(t, err)
	assert.Equal(t, "MJ::PanModal::down::somehash::3", got)

	_, err = PanDialogID("MJ::JOB::upsample::1::H::SOLO")
	assert.Error(t, err)
}

func TestVariationDialogID(t *testing.T) {
	got, err := VariationDialogID("MJ::JOB::variation::2::hash::SOLO")
	require.NoError(t, err)
	assert.Equal(t, "MJ::RemixModal::hash::2::1", got)

	got, err = VariationDialogID("MJ::JOB::low_variation::0::hash::SOLO")
	require.NoError(t, err)
	assert.Equal(t, "MJ::RemixModal::hash::0::0", got)

	got, err = VariationDialogID("MJ::JOB::high_variation::0::hash::SOLO")
	require.NoError(t, err)
	assert.Equal(t, "MJ::RemixModal::hash::0::1", got)
}

func TestAnimateDialogID(t *testing.T) {
	got, err := AnimateDialogID("MJ::JOB::animate_high::1::hash::SOLO", false)
	require.NoError(t, err)
	assert.Equal(t, "MJ::AnimateModal::hash::1::high::0", got)

	got, err = AnimateDialogID("MJ::JOB::animate_low::1::hash::SOLO", true)
	require.NoError(t, err)
	assert.Equal(t, "MJ::AnimateModal::hash::1::low::1", got)

	// Extend triggers carry the suffix themselves.
	got, err = AnimateDialogID("MJ::JOB::animate_high_extend::1::hash::SOLO", false)
	require.NoError(t, err)
	assert.Equal(t, "MJ::AnimateModal::hash::1::high::1", got)
}

func TestRerollDialogID(t *testing.T) {
	got, err := RerollDialogID("MJ::JOB::reroll::0::hash::SOLO", "msg-9")
	require.NoError(t, err)
	assert.Equal(t, "MJ::ImagineModal::msg-9", got)

	_, err = RerollDialogID("MJ::JOB::reroll::0::hash::SOLO", "")
	assert.Error(t, err)
}

func TestZoomDialogID(t *testing.T) {
	got, err := ZoomDialogID("MJ::CustomZoom::hash")
	require.NoError(t, err)
	assert.Equal(t, "MJ::OutpaintCustomZoomModal::hash", got)
}

func TestDialogTransformByAction(t *testing.T) {
	id, field, err := DialogTransform(model.ActionPan, "X::JOB::pan_left::1::H::SOLO", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "X::PanModal::left::H::1", id)
	assert.Equal(t, ModalPanPrompt, field)

	_, _, err = DialogTransform(model.ActionBlend, "whatever", "msg-1")
	assert.Error(t, err)
}

func TestActionForCustomID(t *testing.T) {
	cases := map[string]model.Action{
		"MJ::JOB::upsample::1::hash::SOLO":            model.ActionUpscale,
		"MJ::JOB::variation::2::hash::SOLO":           model.ActionVariation,
		"MJ::JOB::low_variation::1::hash::SOLO":       model.ActionVariation,
		"MJ::JOB::reroll::0::hash::SOLO":              model.ActionReroll,
		"MJ::JOB::pan_up::1::hash::SOLO":              model.ActionPan,
		"MJ::JOB::animate_high::1::hash::SOLO":        model.ActionVideo,
		"MJ::JOB::animate_high_extend::1::hash::SOLO": model.ActionVideoExtend,
		"MJ::CustomZoom::hash":                        model.ActionZoom,
		"MJ::Inpaint::1::hash::SOLO":                  model.ActionInpaint,
		"MJ::BOOKMARK::hash":                          model.ActionCustom,
	}
	for id, want := range cases {
		assert.Equal(t, want, ActionForCustomID(id), "custom id %s", id)
	}
}

func TestIsDialogTrigger(t *testing.T) {
	assert.True(t, IsDialogTrigger("MJ::CustomZoom::hash"))
	assert.True(t, IsDialogTrigger("MJ::Inpaint::1::hash::SOLO"))
	assert.False(t, IsDialogTrigger("MJ::JOB::upsample::1::hash::SOLO"))
}
