package correlate

import (
	"regexp"
	"strings"
)

var (
	// Directives trail the prompt text; everything from the first one on is
	// parameter noise for matching purposes.
	paramRe      = regexp.MustCompile(`\s+--[a-zA-Z].*$`)
	urlRe        = regexp.MustCompile(`https?://\S+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	boldRe       = regexp.MustCompile(`\*\*(.*?)\*\*`)
)

// FormatPrompt normalizes a prompt for weak matching: directive parameters
// (--ar, --v and the rest, with their values), URLs, and surrounding
// punctuation noise are stripped and whitespace collapsed. Two prompts that
// differ only in parameters or attached links normalize to the same string.
func FormatPrompt(prompt string) string {
	if prompt == "" {
		return ""
	}
	s := urlRe.ReplaceAllString(prompt, "")
	s = paramRe.ReplaceAllString(s, "")
	s = strings.NewReplacer("<", "", ">", "", "*", "", "`", "").Replace(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// FormatPromptParam strips only directive parameters, keeping URLs. Used as
// a second, slightly stronger pass when the fully normalized forms collide
// on too little text.
func FormatPromptParam(prompt string) string {
	if prompt == "" {
		return ""
	}
	s := paramRe.ReplaceAllString(prompt, "")
	s = strings.NewReplacer("<", "", ">", "", "*", "", "`", "").Replace(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// GetFullPrompt extracts the prompt echoed between the first bold pair of a
// platform message content, or empty when the content carries none.
func GetFullPrompt(content string) string {
	m := boldRe.FindStringSubmatch(content)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// MessageHash derives the platform job hash from an attachment URL: the
// final underscore-delimited token of the filename, extension removed.
// Returns empty when the URL has no usable filename.
func MessageHash(imageURL string) string {
	if imageURL == "" {
		return ""
	}
	s := imageURL
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "_"); i >= 0 {
		s = s[i+1:]
	}
	return s
}
