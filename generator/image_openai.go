package generator

import (
	"context"
	"errors"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// HeadlinePlaceholder in an image prompt is replaced with the post headline.
const HeadlinePlaceholder = "{headline}"

// OpenAIImages generates one illustration per call through the images API.
type OpenAIImages struct {
	Model string
	Size  string
	Opts  []option.RequestOption
}

func NewOpenAIImagesFromConfig(cfg *LLMSettings, size string) (*OpenAIImages, error) {
	if cfg == nil {
		return nil, errors.New("image config is nil")
	}
	if cfg.Model == "" {
		return nil, errors.New("image model is required")
	}
	opts, err := requestOptions(cfg)
	if err != nil {
		return nil, err
	}
	return &OpenAIImages{Model: cfg.Model, Size: size, Opts: opts}, nil
}

// Generate returns the URL of the generated image.
func (o *OpenAIImages) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("image prompt is empty")
	}
	client := openai.NewClient(o.Opts...)

	params := openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(o.Model),
		N:      openai.Int(1),
	}
	if o.Size != "" {
		params.Size = openai.ImageGenerateParamsSize(o.Size)
	}
	// gpt-image 系列只返回 base64，不接受 response_format。
	if strings.HasPrefix(o.Model, "dall-e") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatURL
	}

	resp, err := client.Images.Generate(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", errors.New("openai: image response has no url")
	}
	return resp.Data[0].URL, nil
}

// ImagePrompt fills the headline placeholder of a configured prompt.
func ImagePrompt(tpl, headline string) string {
	return strings.ReplaceAll(tpl, HeadlinePlaceholder, headline)
}
