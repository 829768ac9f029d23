package correlate

import (
	"sort"
	"strings"
	"time"

	"mjgate/internal/model"
)

const (
	// promptMatchWindow bounds how far back weak prompt matching may reach.
	promptMatchWindow = 10 * time.Minute
	// strictFallbackWindow bounds the last-resort single-candidate match.
	strictFallbackWindow = 60 * time.Second
)

// outcome is one matcher's verdict. A nil task with refuse unset means the
// cascade continues; refuse stops it so a risky guess is never taken.
type outcome struct {
	task   *model.Task
	weak   bool
	refuse bool
	note   string
}

type matcher struct {
	name string
	fn   func(e *Event, cands []*model.Task, now time.Time) outcome
}

// cascade runs strongest evidence first. Later entries are heuristics and
// mark their results weak so the engine can log them.
var cascade = []matcher{
	{"message-id", byMessageID},
	{"interaction-id", byInteractionID},
	{"prompt-full", byPromptFull},
	{"prompt-formatted", byFormattedPrompt},
	{"prompt-param-stripped", byParamStrippedPrompt},
	{"show-job-hash", byShowJobHash},
	{"promptless", byPromptless},
}

// promptlessActions are the operations whose platform replies carry no
// echoed prompt and need dedicated evidence.
var promptlessActions = map[model.Action]bool{
	model.ActionVideo:       true,
	model.ActionVideoExtend: true,
	model.ActionBlend:       true,
	model.ActionDescribe:    true,
	model.ActionCustom:      true,
}

func inWindow(t *model.Task, now time.Time, window time.Duration) bool {
	if t.SubmitTime == 0 {
		return false
	}
	return now.Sub(time.UnixMilli(t.SubmitTime)) <= window
}

// pickPreferred resolves ties among equally matching candidates: a task
// still waiting to be picked up beats one already progressing, and within a
// status the most recently submitted wins.
func pickPreferred(cands []*model.Task) *model.Task {
	if len(cands) == 0 {
		return nil
	}
	rank := func(s model.Status) int {
		switch s {
		case model.StatusSubmitted:
			return 0
		case model.StatusInProgress:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		ri, rj := rank(cands[i].GetStatus()), rank(cands[j].GetStatus())
		if ri != rj {
			return ri < rj
		}
		return cands[i].SubmitTime > cands[j].SubmitTime
	})
	return cands[0]
}

func byMessageID(e *Event, cands []*model.Task, _ time.Time) outcome {
	ids := []string{}
	if e.ID != "" {
		ids = append(ids, e.ID)
	}
	if e.ReferencedMessageID != "" {
		ids = append(ids, e.ReferencedMessageID)
	}
	for _, t := range cands {
		t.Lock()
		known := append([]string{t.MessageID, t.ModalMessageID}, t.MessageIDs...)
		t.Unlock()
		for _, id := range ids {
			for _, k := range known {
				if k != "" && k == id {
					return outcome{task: t}
				}
			}
		}
	}
	return outcome{}
}

func byInteractionID(e *Event, cands []*model.Task, _ time.Time) outcome {
	for _, t := range cands {
		t.Lock()
		byNonce := e.Nonce != "" && t.Nonce == e.Nonce
		byInteraction := e.InteractionID != "" && t.InteractionID == e.InteractionID
		needBackfill := t.PromptFull == ""
		t.Unlock()
		if !byNonce && !byInteraction {
			continue
		}
		if needBackfill && e.Prompt != "" {
			t.Lock()
			t.PromptFull = e.Prompt
			t.Unlock()
		}
		return outcome{task: t}
	}
	return outcome{}
}

func byPromptFull(e *Event, cands []*model.Task, now time.Time) outcome {
	if e.Prompt == "" {
		return outcome{}
	}
	var hits []*model.Task
	for _, t := range cands {
		if !inWindow(t, now, promptMatchWindow) {
			continue
		}
		t.Lock()
		full := t.PromptFull
		t.Unlock()
		if full != "" && full == e.Prompt {
			hits = append(hits, t)
		}
	}
	return outcome{task: pickPreferred(hits)}
}

// promptEquivalent accepts equality plus containment either way, which
// covers the platform appending suffixes (seeds, version echoes) to what
// the client submitted.
func promptEquivalent(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

func byFormattedPrompt(e *Event, cands []*model.Task, now time.Time) outcome {
	if e.Prompt == "" {
		// No echoed prompt at all: fall back to operation-shape matching.
		// Promptless operations are excluded here; their dedicated matcher
		// applies stricter ambiguity rules.
		if e.Action == "" || promptlessActions[e.Action] {
			return outcome{}
		}
		var hits []*model.Task
		for _, t := range cands {
			if !inWindow(t, now, promptMatchWindow) {
				continue
			}
			if t.Action == e.Action && t.ServingVariant() == e.Variant {
				hits = append(hits, t)
			}
		}
		return outcome{task: pickPreferred(hits), weak: true}
	}

	want := FormatPrompt(e.Prompt)
	if want == "" {
		return outcome{}
	}
	var hits []*model.Task
	for _, t := range cands {
		if !inWindow(t, now, promptMatchWindow) {
			continue
		}
		t.Lock()
		have := t.PromptFull
		if have == "" {
			have = t.PromptEn
		}
		t.Unlock()
		if promptEquivalent(FormatPrompt(have), want) {
			hits = append(hits, t)
		}
	}
	return outcome{task: pickPreferred(hits), weak: true}
}

func byParamStrippedPrompt(e *Event, cands []*model.Task, now time.Time) outcome {
	if e.Prompt == "" {
		return outcome{}
	}
	want := FormatPromptParam(e.Prompt)
	if want == "" {
		return outcome{}
	}
	var hits []*model.Task
	for _, t := range cands {
		if !inWindow(t, now, promptMatchWindow) {
			continue
		}
		t.Lock()
		have := t.PromptFull
		if have == "" {
			have = t.PromptEn
		}
		t.Unlock()
		if promptEquivalent(FormatPromptParam(have), want) {
			hits = append(hits, t)
		}
	}
	return outcome{task: pickPreferred(hits), weak: true}
}

// byShowJobHash resolves SHOW tasks, whose submissions carry the target job
// id and whose replies carry the matching attachment hash.
func byShowJobHash(e *Event, cands []*model.Task, _ time.Time) outcome {
	hash := e.hash()
	if hash == "" {
		return outcome{}
	}
	for _, t := range cands {
		if t.Action != model.ActionShow {
			continue
		}
		t.Lock()
		jobID := t.JobID
		t.Unlock()
		if jobID != "" && jobID == hash {
			return outcome{task: t}
		}
	}
	return outcome{}
}

// byPromptless handles operations whose replies never echo a prompt. It
// tries evidence in decreasing strength and refuses outright rather than
// guess between multiple plausible owners.
func byPromptless(e *Event, cands []*model.Task, now time.Time) outcome {
	var pool []*model.Task
	for _, t := range cands {
		if promptlessActions[t.Action] {
			pool = append(pool, t)
		}
	}
	if len(pool) == 0 {
		return outcome{}
	}

	// Source image URL embedded in the submitted prompt text.
	if e.ImageURL != "" {
		for _, t := range pool {
			t.Lock()
			en := t.PromptEn
			t.Unlock()
			if en != "" && (strings.Contains(en, e.ImageURL) || containsFilename(en, e.ImageURL)) {
				return outcome{task: t, weak: true}
			}
		}
	}

	// Attachment hash against a recorded job or message id.
	if hash := e.hash(); hash != "" {
		for _, t := range pool {
			t.Lock()
			jobID, msgID := t.JobID, t.MessageID
			t.Unlock()
			if hash == jobID || hash == msgID {
				return outcome{task: t, weak: true}
			}
		}
	}

	// Strict last resort: a very fresh candidate of the same shape.
	var fresh []*model.Task
	for _, t := range pool {
		if !inWindow(t, now, strictFallbackWindow) {
			continue
		}
		if e.Action != "" && t.Action != e.Action {
			continue
		}
		if t.ServingVariant() != e.Variant && e.Variant != "" {
			continue
		}
		fresh = append(fresh, t)
	}
	switch {
	case len(fresh) == 0:
		return outcome{}
	case e.Prompt != "":
		// An echoed prompt that got this far must match exactly or not at all.
		want := FormatPrompt(e.Prompt)
		for _, t := range fresh {
			t.Lock()
			have := t.PromptFull
			if have == "" {
				have = t.PromptEn
			}
			t.Unlock()
			if FormatPrompt(have) == want {
				return outcome{task: t, weak: true}
			}
		}
		return outcome{refuse: true, note: "echoed prompt matches no fresh candidate"}
	case len(fresh) == 1:
		return outcome{task: fresh[0], weak: true}
	default:
		return outcome{refuse: true, note: "multiple promptless candidates in window"}
	}
}

func containsFilename(haystack, imageURL string) bool {
	s := imageURL
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s != "" && strings.Contains(haystack, s)
}
