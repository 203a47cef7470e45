package generator

import "context"

// LLMClient 是写作与校对共用的对话模型抽象，测试里用 Mock 或 LLMFunc 替换。
type LLMClient interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// LLMFunc adapts a plain function to LLMClient.
type LLMFunc func(ctx context.Context, prompt Prompt) (string, error)

func (f LLMFunc) Complete(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}

// LLMSettings configures one OpenAI-compatible endpoint and model. BaseURL
// is empty for api.openai.com.
type LLMSettings struct {
	Model   string
	APIKey  string
	BaseURL string
}
