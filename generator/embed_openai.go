package generator

import (
	"context"
	"errors"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIEmbedder produces archive vectors with the embeddings endpoint.
type OpenAIEmbedder struct {
	Model string
	Opts  []option.RequestOption
}

func NewOpenAIEmbedderFromConfig(cfg *LLMSettings) (*OpenAIEmbedder, error) {
	if cfg == nil {
		return nil, errors.New("embedding config is nil")
	}
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	opts, err := requestOptions(cfg)
	if err != nil {
		return nil, err
	}
	return &OpenAIEmbedder{Model: cfg.Model, Opts: opts}, nil
}

func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	client := openai.NewClient(o.Opts...)
	resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(o.Model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai: empty embedding data")
	}
	src := resp.Data[0].Embedding
	out := make([]float32, len(src))
	for i, f := range src {
		out[i] = float32(f)
	}
	return out, nil
}
