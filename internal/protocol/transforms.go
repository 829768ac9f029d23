// Package protocol implements the interaction choreography against the
// platform: dialog-identifier transforms, the confirmation-dialog flow, the
// seed retrieval flow, and the second phase of the video-extend chain.
package protocol

import (
	"fmt"
	"strings"

	"mjgate/internal/model"
)

// Modal text-field identifiers, fixed by the platform.
const (
	ModalRemixPrompt   = "MJ::RemixModal::new_prompt"
	ModalPanPrompt     = "MJ::PanModal::prompt"
	ModalAnimatePrompt = "MJ::AnimateModal::prompt"
	ModalImaginePrompt = "MJ::ImagineModal::new_prompt"
	ModalZoomPrompt    = "MJ::OutpaintCustomZoomModal::prompt"
	ModalInpaintPrompt = "MJ::iframe::remix_prompt"
)

// Custom-id prefixes recognized on inbound buttons.
const (
	PrefixCustomZoom = "::CustomZoom::"
	PrefixInpaint    = "::Inpaint::"
)

const idSep = "::"

// PanDialogID transforms a pan trigger into its modal confirmation id.
// "X::JOB::pan_left::1::H::SOLO" becomes "X::PanModal::left::H::1": the
// direction loses its pan_ prefix and index and hash swap positions.
func PanDialogID(customID string) (string, error) {
	p := strings.Split(customID, idSep)
	if len(p) < 5 || p[1] != "JOB" || !strings.HasPrefix(p[2], "pan_") {
		return "", fmt.Errorf("not a pan custom id: %q", customID)
	}
	dir := strings.TrimPrefix(p[2], "pan_")
	return strings.Join([]string{p[0], "PanModal", dir, p[4], p[3]}, idSep), nil
}

// VariationDialogID transforms a variation trigger into its remix modal id.
// Subtle (low) variations carry strength 0, everything else strength 1.
func VariationDialogID(customID string) (string, error) {
	p := strings.Split(customID, idSep)
	if len(p) < 5 || p[1] != "JOB" || !strings.Contains(p[2], "variation") {
		return "", fmt.Errorf("not a variation custom id: %q", customID)
	}
	strength := "1"
	if strings.HasPrefix(p[2], "low_") {
		strength = "0"
	}
	return strings.Join([]string{p[0], "RemixModal", p[4], p[3], strength}, idSep), nil
}

// AnimateDialogID transforms an animate trigger into its modal id, keeping
// the motion strength and flagging whether this is an extend submission.
func AnimateDialogID(customID string, extend bool) (string, error) {
	p := strings.Split(customID, idSep)
	if len(p) < 5 || p[1] != "JOB" || !strings.HasPrefix(p[2], "animate_") {
		return "", fmt.Errorf("not an animate custom id: %q", customID)
	}
	motion := strings.TrimSuffix(strings.TrimPrefix(p[2], "animate_"), "_extend")
	ext := "0"
	if extend || strings.HasSuffix(p[2], "_extend") {
		ext = "1"
	}
	return strings.Join([]string{p[0], "AnimateModal", p[4], p[3], motion, ext}, idSep), nil
}

// RerollDialogID builds the imagine modal id for a remixed reroll; it is
// keyed by the source message, not the job hash.
func RerollDialogID(customID, messageID string) (string, error) {
	p := strings.Split(customID, idSep)
	if len(p) < 2 || messageID == "" {
		return "", fmt.Errorf("not a reroll custom id: %q", customID)
	}
	return strings.Join([]string{p[0], "ImagineModal", messageID}, idSep), nil
}

// ZoomDialogID rewrites a custom-zoom trigger into its modal id in place.
func ZoomDialogID(customID string) (string, error) {
	if !strings.Contains(customID, PrefixCustomZoom) {
		return "", fmt.Errorf("not a custom zoom id: %q", customID)
	}
	return strings.Replace(customID, PrefixCustomZoom, "::OutpaintCustomZoomModal::", 1), nil
}

// DialogTransform resolves the modal confirmation pair for an operation:
// the transformed dialog custom id and the modal text-field id. messageID
// is the source message the trigger was pressed on.
func DialogTransform(action model.Action, customID, messageID string) (dialogID, modalField string, err error) {
	switch action {
	case model.ActionPan:
		dialogID, err = PanDialogID(customID)
		return dialogID, ModalPanPrompt, err
	case model.ActionVariation:
		dialogID, err = VariationDialogID(customID)
		return dialogID, ModalRemixPrompt, err
	case model.ActionVideo, model.ActionVideoExtend:
		dialogID, err = AnimateDialogID(customID, action == model.ActionVideoExtend)
		return dialogID, ModalAnimatePrompt, err
	case model.ActionReroll, model.ActionImagine:
		dialogID, err = RerollDialogID(customID, messageID)
		return dialogID, ModalImaginePrompt, err
	case model.ActionZoom:
		dialogID, err = ZoomDialogID(customID)
		return dialogID, ModalZoomPrompt, err
	}
	return "", "", fmt.Errorf("action %s has no dialog transform", action)
}

// IsDialogTrigger reports whether pressing customID opens a confirmation
// dialog regardless of remix mode (custom zoom and inpaint always do).
func IsDialogTrigger(customID string) bool {
	return strings.Contains(customID, PrefixCustomZoom) ||
		strings.Contains(customID, PrefixInpaint)
}

// ActionForCustomID infers the operation kind from a pressed component id.
func ActionForCustomID(customID string) model.Action {
	parts := strings.Split(customID, idSep)
	if len(parts) < 3 || parts[1] != "JOB" {
		switch {
		case strings.Contains(customID, PrefixCustomZoom):
			return model.ActionZoom
		case strings.Contains(customID, PrefixInpaint):
			return model.ActionInpaint
		}
		return model.ActionCustom
	}
	op := parts[2]
	switch {
	case strings.HasPrefix(op, "upsample"):
		return model.ActionUpscale
	case strings.Contains(op, "variation"):
		return model.ActionVariation
	case op == "reroll":
		return model.ActionReroll
	case strings.HasPrefix(op, "pan_"):
		return model.ActionPan
	case strings.HasPrefix(op, "animate_"):
		if strings.HasSuffix(op, "_extend") {
			return model.ActionVideoExtend
		}
		return model.ActionVideo
	case strings.HasPrefix(op, "upscale_"):
		return model.ActionUpscale
	}
	return model.ActionCustom
}
