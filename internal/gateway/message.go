// Package gateway consumes the platform's websocket stream and turns raw
// messages into correlation events and task-state deliveries (modal
// arrivals, interaction metadata, seeds).
package gateway

import (
	"regexp"
	"strconv"
	"strings"

	"mjgate/internal/correlate"
	"mjgate/internal/model"
)

// InboundMessage is one decoded message frame from the platform stream.
type InboundMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
	AuthorID  string `json:"author_id"`
	Content   string `json:"content"`
	Nonce     string `json:"nonce"`
	Flags     int    `json:"flags"`

	InteractionID   string `json:"interaction_id"`
	InteractionName string `json:"interaction_name"`

	ReferencedMessageID string `json:"referenced_message_id"`

	Attachments []Attachment `json:"attachments"`
	Embeds      []Embed      `json:"embeds"`
	Components  []Component  `json:"components"`

	// Edit marks MESSAGE_UPDATE frames.
	Edit bool `json:"-"`
	// Modal marks frames carrying a confirmation window.
	Modal bool `json:"-"`
}

// Attachment is a hosted result file.
type Attachment struct {
	URL         string `json:"url"`
	ProxyURL    string `json:"proxy_url"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Embed carries error replies and describe/seed payloads.
type Embed struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Color       int         `json:"color"`
	Image       EmbedImage  `json:"image"`
	Footer      EmbedFooter `json:"footer"`
}

type EmbedImage struct {
	URL string `json:"url"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

// Component is a message button row entry, flattened by the decoder.
type Component struct {
	CustomID string `json:"custom_id"`
	Label    string `json:"label"`
	Emoji    string `json:"emoji"`
	Style    int    `json:"style"`
	Type     int    `json:"type"`
}

var progressRe = regexp.MustCompile(`\((\d{1,3})%\)`)

// errorTitles are embed titles the platform uses for rejected submissions.
var errorTitles = []string{
	"Invalid parameter",
	"Banned prompt",
	"Invalid prompt",
	"Invalid link",
	"Request cancelled",
	"Queue full",
	"Action needed to continue",
	"Pending mod message",
	"Blocked",
	"Job action restricted",
	"Empty prompt",
	"Internal error",
}

// errorEmbed returns the failure description when the message carries an
// error reply, or empty.
func errorEmbed(m *InboundMessage) string {
	for _, e := range m.Embeds {
		for _, title := range errorTitles {
			if strings.EqualFold(e.Title, title) {
				if e.Description != "" {
					return e.Title + ": " + e.Description
				}
				return e.Title
			}
		}
		// Red embeds are errors even with novel titles.
		if e.Color == 0xff0000 && e.Title != "" {
			if e.Description != "" {
				return e.Title + ": " + e.Description
			}
			return e.Title
		}
	}
	return ""
}

// progressOf extracts the percentage of an in-flight update, or -1.
func progressOf(content string) int {
	m := progressRe.FindStringSubmatch(content)
	if len(m) < 2 {
		return -1
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// variantOf infers the serving bot from the message author.
func variantOf(m *InboundMessage, nijiAuthorID string) model.BotVariant {
	if nijiAuthorID != "" && m.AuthorID == nijiAuthorID {
		return model.VariantNiji
	}
	return model.VariantMidjourney
}

// actionOf infers the operation kind from the final message's shape.
func actionOf(m *InboundMessage) model.Action {
	c := m.Content
	switch {
	case strings.Contains(c, "Waiting to start"):
		return ""
	case strings.Contains(c, "/describe"), hasDescribeShape(m):
		return model.ActionDescribe
	case strings.Contains(c, "Upscaled"):
		return model.ActionUpscale
	case strings.Contains(c, "Variations"), strings.Contains(c, "Remix"):
		return model.ActionVariation
	case strings.Contains(c, "Pan"):
		return model.ActionPan
	case strings.Contains(c, "Zoom"):
		return model.ActionZoom
	case hasVideoShape(m):
		return model.ActionVideo
	}
	return ""
}

func hasDescribeShape(m *InboundMessage) bool {
	if len(m.Embeds) == 0 {
		return false
	}
	e := m.Embeds[0]
	return e.Image.URL != "" && strings.Contains(e.Description, "1️⃣")
}

func hasVideoShape(m *InboundMessage) bool {
	for _, a := range m.Attachments {
		if strings.HasPrefix(a.ContentType, "video/") || strings.HasSuffix(a.URL, ".mp4") {
			return true
		}
	}
	return false
}

// toEvent converts a generation message into a correlation event.
func toEvent(m *InboundMessage, kind correlate.Kind, nijiAuthorID string) *correlate.Event {
	e := &correlate.Event{
		ID:                  m.ID,
		ChannelID:           m.ChannelID,
		InteractionID:       m.InteractionID,
		Nonce:               m.Nonce,
		Kind:                kind,
		Variant:             variantOf(m, nijiAuthorID),
		Action:              actionOf(m),
		Content:             m.Content,
		Prompt:              correlate.GetFullPrompt(m.Content),
		ReferencedMessageID: m.ReferencedMessageID,
	}
	if len(m.Attachments) > 0 {
		a := m.Attachments[0]
		e.ImageURL = a.URL
		e.Width, e.Height = a.Width, a.Height
		e.Size = a.Size
		e.ContentType = a.ContentType
		e.MessageHash = correlate.MessageHash(a.URL)
	} else if len(m.Embeds) > 0 && m.Embeds[0].Image.URL != "" {
		e.ImageURL = m.Embeds[0].Image.URL
		e.MessageHash = correlate.MessageHash(e.ImageURL)
	}
	if kind == correlate.KindProgress {
		if p := progressOf(m.Content); p >= 0 {
			e.Progress = strconv.Itoa(p) + "%"
		}
	}
	for _, c := range m.Components {
		if c.CustomID == "" {
			continue
		}
		e.Buttons = append(e.Buttons, model.Button{
			CustomID: c.CustomID,
			Label:    c.Label,
			Emoji:    c.Emoji,
			Style:    c.Style,
			Type:     c.Type,
		})
	}
	return e
}
