package correlate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatPrompt(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"a cat --ar 16:9", "a cat"},
		{"a cat --ar 16:9 --v 6", "a cat"},
		{"a cat", "a cat"},
		{"  spaced   out  ", "spaced out"},
		{"https://cdn.example.com/ref.png a cat --ar 16:9", "a cat"},
		{"**a bold cat**", "a bold cat"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FormatPrompt(c.in), "input %q", c.in)
	}
}

func TestFormatPromptParamKeepsURLs(t *testing.T) {
	got := FormatPromptParam("https://cdn.example.com/ref.png a cat --ar 16:9")
	assert.Equal(t, "https://cdn.example.com/ref.png a cat", got)
}

func TestGetFullPrompt(t *testing.T) {
	assert.Equal(t, "a cat --ar 16:9",
		GetFullPrompt("**a cat --ar 16:9** - <@123> (fast)"))
	assert.Equal(t, "", GetFullPrompt("no bold here"))
}

func TestMessageHash(t *testing.T) {
	assert.Equal(t, "abc123",
		MessageHash("https://cdn.example.com/att/user_a_cat_abc123.png"))
	assert.Equal(t, "abc123",
		MessageHash("https://cdn.example.com/att/user_a_cat_abc123.png?width=64"))
	assert.Equal(t, "", MessageHash(""))
}
