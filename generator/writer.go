package generator

import (
	"context"
	"errors"
	"fmt"
)

// Writer turns a backlog idea into post text and a headline.
type Writer struct {
	llm         LLMClient
	templates   Templates
	temperature float64
}

func NewWriter(llm LLMClient, templates Templates, temperature float64) (*Writer, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	if temperature <= 0 {
		return nil, fmt.Errorf("writer temperature must be positive, got %v", temperature)
	}
	return &Writer{llm: llm, templates: templates.Merge(), temperature: temperature}, nil
}

// GeneratePost drafts a post for idea, optionally imitating examples.
func (w *Writer) GeneratePost(ctx context.Context, idea, examples string) (string, error) {
	if idea == "" {
		return "", errors.New("idea text is empty")
	}
	raw, err := w.llm.Complete(ctx, BuildPostPrompt(w.templates.Post, idea, examples, w.temperature))
	if err != nil {
		return "", fmt.Errorf("generate post: %w", err)
	}
	return PostProcess(raw)
}

// GenerateHeadline writes a short title for finished body text.
func (w *Writer) GenerateHeadline(ctx context.Context, text string) (string, error) {
	raw, err := w.llm.Complete(ctx, BuildHeadlinePrompt(w.templates.Headline, text, w.temperature))
	if err != nil {
		return "", fmt.Errorf("generate headline: %w", err)
	}
	return CleanHeadline(raw)
}
