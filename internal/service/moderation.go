package service

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// BannedPromptError reports the fragment that tripped moderation.
type BannedPromptError struct {
	Word string
}

func (e *BannedPromptError) Error() string {
	return fmt.Sprintf("prompt contains banned word %q", e.Word)
}

const (
	bannedCacheKey  = "banned-words"
	bannedCacheTTL  = 30 * time.Minute
	cacheSweepEvery = 10 * time.Minute
)

// WordSource supplies the current banned-word list; typically backed by
// configuration or an admin table.
type WordSource func() []string

// Moderator screens prompts against a banned-word list. Compiled patterns
// are cached with a TTL so list updates propagate without a restart.
type Moderator struct {
	source WordSource
	cache  *cache.Cache

	mu sync.Mutex
}

// NewModerator builds a moderator over the given word source.
func NewModerator(source WordSource) *Moderator {
	return &Moderator{
		source: source,
		cache:  cache.New(bannedCacheTTL, cacheSweepEvery),
	}
}

type bannedEntry struct {
	word string
	re   *regexp.Regexp
}

func (m *Moderator) patterns() []bannedEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.cache.Get(bannedCacheKey); ok {
		return v.([]bannedEntry)
	}
	var entries []bannedEntry
	for _, w := range m.source() {
		w = strings.TrimSpace(strings.ToLower(w))
		if w == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)
		if err != nil {
			continue
		}
		entries = append(entries, bannedEntry{word: w, re: re})
	}
	m.cache.Set(bannedCacheKey, entries, cache.DefaultExpiration)
	return entries
}

// Invalidate drops the compiled pattern cache so the next check recompiles
// from the source.
func (m *Moderator) Invalidate() {
	m.cache.Delete(bannedCacheKey)
}

// CheckBanned returns a BannedPromptError for the first banned word found
// as a whole word in the prompt, or nil.
func (m *Moderator) CheckBanned(prompt string) error {
	if prompt == "" {
		return nil
	}
	for _, e := range m.patterns() {
		if e.re.MatchString(prompt) {
			return &BannedPromptError{Word: e.word}
		}
	}
	return nil
}

// CheckAndCleanBanned removes every banned word from the prompt instead of
// rejecting it, for callers configured to sanitize rather than refuse.
func (m *Moderator) CheckAndCleanBanned(prompt string) string {
	for _, e := range m.patterns() {
		prompt = e.re.ReplaceAllString(prompt, "")
	}
	return strings.Join(strings.Fields(prompt), " ")
}
