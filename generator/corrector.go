package generator

import (
	"context"
	"errors"
	"fmt"

	"auto_telegram_post_publisher/factcheck"
	"auto_telegram_post_publisher/logging"
)

// Corrector proofreads drafts and runs the diagnostic fact lookup.
type Corrector struct {
	llm      LLMClient
	template string
	searcher factcheck.Searcher
	logger   *logging.Logger
}

// NewCorrector builds a Corrector. searcher may be nil, which turns
// FactCheck into a no-op.
func NewCorrector(llm LLMClient, templates Templates, searcher factcheck.Searcher, logger *logging.Logger) (*Corrector, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	return &Corrector{
		llm:      llm,
		template: templates.Merge().Grammar,
		searcher: searcher,
		logger:   logger.With("corrector"),
	}, nil
}

// Correct returns the proofread text. Callers keep the original on error.
func (c *Corrector) Correct(ctx context.Context, text string) (string, error) {
	raw, err := c.llm.Complete(ctx, BuildGrammarPrompt(c.template, text))
	if err != nil {
		return "", fmt.Errorf("grammar correction: %w", err)
	}
	out, err := PostProcess(raw)
	if err != nil {
		return "", fmt.Errorf("grammar correction: %w", err)
	}
	c.logger.Infof("Grammar corrected via LLM.")
	return out, nil
}

// FactCheck searches for the post's main claim and logs what came back. The
// result never changes the text.
func (c *Corrector) FactCheck(ctx context.Context, text string) error {
	if c.searcher == nil {
		c.logger.Debugf("fact check skipped: no search provider configured")
		return nil
	}
	f, err := c.searcher.Search(ctx, text)
	if err != nil {
		return fmt.Errorf("fact check: %w", err)
	}
	c.logger.Debugf("fact check query=%q answer=%q snippets=%d", f.Query, f.Answer, len(f.Snippets))
	return nil
}
