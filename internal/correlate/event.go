package correlate

import (
	"mjgate/internal/model"
)

// Kind classifies an inbound gateway message for the engine.
type Kind int

const (
	// KindFinished is a completed-generation message carrying a result image.
	KindFinished Kind = iota
	// KindFailed is an error reply the platform ties to a submission.
	KindFailed
	// KindProgress is an in-flight update (percentage edit).
	KindProgress
)

// Event is one inbound platform message after gateway decoding. Nothing in
// it names the task that caused it; resolution is the engine's job.
type Event struct {
	// ID is the platform message id. It doubles as the dedup key.
	ID        string
	ChannelID string

	// InteractionID ties the message back to the originating slash command
	// when the platform includes interaction metadata. Often absent.
	InteractionID string
	Nonce         string

	Kind    Kind
	Variant model.BotVariant

	// Action is the operation kind inferred from message shape (component
	// layout, embed titles). Empty when inference fails.
	Action model.Action

	Content string
	// Prompt is the echoed prompt extracted from Content, already stripped
	// of the surrounding bold markers. Empty for promptless operations.
	Prompt string

	ImageURL    string
	MessageHash string
	Width       int
	Height      int
	Size        int64
	ContentType string

	Progress   string
	FailReason string

	Buttons []model.Button

	// ReferencedMessageID is set when the message replies to an earlier one,
	// e.g. an upscale replying to its grid.
	ReferencedMessageID string
}

// hash returns the precomputed message hash, deriving it from the image URL
// when the gateway did not set it.
func (e *Event) hash() string {
	if e.MessageHash != "" {
		return e.MessageHash
	}
	return MessageHash(e.ImageURL)
}
