// Package platform defines the contract against the connected chat-platform
// client. The core only issues interactions through it; connection
// management and wire encoding live behind the interface.
package platform

import (
	"context"

	"mjgate/internal/model"
)

// Code is the platform-level result of one interaction submission.
type Code int

const (
	CodeSuccess Code = iota + 1
	CodeInQueue
	CodeNotFound
	CodeValidationError
	CodeFailure Code = 9
)

// Message carries the outcome of one interaction. Transport failures are
// folded into Code + Description at the client boundary. Result is set by
// the operations that hand something back, e.g. Upload returning the
// server-side attachment name.
type Message struct {
	Code        Code
	Description string
	Result      string
}

// OK reports a successful submission.
func (m Message) OK() bool { return m.Code == CodeSuccess }

// Of builds a Message.
func Of(code Code, description string) Message {
	return Message{Code: code, Description: description}
}

// Success is the canonical success message.
func Success() Message { return Message{Code: CodeSuccess, Description: "success"} }

// Failure builds a failure message.
func Failure(description string) Message {
	return Message{Code: CodeFailure, Description: description}
}

// BlendDimensions selects the aspect of a blend result.
type BlendDimensions string

const (
	BlendPortrait  BlendDimensions = "--ar 2:3"
	BlendSquare    BlendDimensions = "--ar 1:1"
	BlendLandscape BlendDimensions = "--ar 3:2"
)

// DataURL is an uploadable asset, either inline bytes or a remote link.
type DataURL struct {
	URL      string
	MimeType string
	Data     []byte
}

// Client issues interactions for one account. Every method returns a
// result Message; implementations must not let raw transport errors escape.
type Client interface {
	Imagine(ctx context.Context, prompt, nonce string, variant model.BotVariant) Message
	Show(ctx context.Context, jobID, nonce string, variant model.BotVariant) Message
	Upscale(ctx context.Context, messageID string, index int, hash string, flags int, nonce string, variant model.BotVariant) Message
	Variation(ctx context.Context, messageID string, index int, hash string, flags int, nonce string, variant model.BotVariant) Message
	Reroll(ctx context.Context, messageID, hash string, flags int, nonce string, variant model.BotVariant) Message
	DescribeByLink(ctx context.Context, link, nonce string, variant model.BotVariant) Message
	Shorten(ctx context.Context, prompt, nonce string, variant model.BotVariant) Message
	Blend(ctx context.Context, fileNames []string, dims BlendDimensions, nonce string, variant model.BotVariant) Message

	// Action triggers a component (button) on a message. Dialog operations
	// use it as step one; the confirmation payload follows through Dialog.
	Action(ctx context.Context, messageID, customID string, flags int, nonce string) Message

	// Dialog submits the confirmation payload for a pending dialog using
	// the operation-specific transformed custom id.
	Dialog(ctx context.Context, messageID, modal, customID, prompt, nonce string, variant model.BotVariant) Message

	// Inpaint submits the mask dialog; it carries no nonce on the wire.
	Inpaint(ctx context.Context, customID, prompt, maskBase64 string) Message

	Seed(ctx context.Context, jobHash, nonce string, variant model.BotVariant) Message
	SeedReaction(ctx context.Context, channelID, messageID string) Message

	Upload(ctx context.Context, fileName string, data DataURL) Message
	SendImage(ctx context.Context, content, fileName string) Message

	// Settings operations used by account administration.
	Setting(ctx context.Context, nonce string, variant model.BotVariant) Message
	Info(ctx context.Context, nonce string, variant model.BotVariant) Message
	SettingButton(ctx context.Context, nonce, customID string, variant model.BotVariant) Message
	SettingSelect(ctx context.Context, nonce, value string) Message
}
