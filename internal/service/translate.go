package service

import "context"

// Translator converts prompts to English before submission. Translation is
// best-effort; implementations return the input unchanged on failure.
type Translator interface {
	Translate(ctx context.Context, prompt string) string
}

// NopTranslator passes prompts through untouched.
type NopTranslator struct{}

func (NopTranslator) Translate(_ context.Context, prompt string) string { return prompt }

// Reviewer screens a prompt before submission and may rewrite it. External
// implementations plug in at wiring time; absent one, prompts pass
// unreviewed.
type Reviewer interface {
	Review(ctx context.Context, prompt string) (needsChange bool, text string)
}
