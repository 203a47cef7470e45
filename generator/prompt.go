package generator

import "strings"

// Prompt 表示发送给 LLM 的消息集合。Input 是代入模板前的原始文本。
type Prompt struct {
	Kind        PromptKind
	System      string
	User        string
	Input       string
	History     []Message
	Temperature float64
}

// PromptKind tags what a prompt is for; MockLLM and logs use it.
type PromptKind string

const (
	KindPost     PromptKind = "post"
	KindHeadline PromptKind = "headline"
	KindGrammar  PromptKind = "grammar"
)

// Message 用于少量历史（可选）。
type Message struct {
	Role    string
	Content string
}

// Template placeholders.
const (
	PlaceholderIdea     = "{idea}"
	PlaceholderExamples = "{examples}"
	PlaceholderText     = "{text}"
)

var placeholders = []string{PlaceholderIdea, PlaceholderExamples, PlaceholderText}

// Templates holds the three user-prompt templates.
type Templates struct {
	Post     string
	Headline string
	Grammar  string
}

const defaultPostTemplate = `Write a Telegram channel post based on the idea below.
Requirements:
- 120 to 250 words, short paragraphs, Markdown allowed (bold, lists).
- Friendly, expert tone; no hashtags, no emojis in every line.
- Do not add a title, it is generated separately.
- Output only the post text, no explanations.

Idea: {idea}

Examples of earlier posts to match in style (may be empty):
{examples}`

const defaultHeadlineTemplate = `Write one short, catchy headline (at most 8 words) for the post below.
Output only the headline, without quotes.

{text}`

const defaultGrammarTemplate = `Fix grammar, spelling and punctuation in the text below and smooth out awkward style.
Keep the meaning, language, Markdown formatting and length. Output only the corrected text.

{text}`

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() Templates {
	return Templates{
		Post:     defaultPostTemplate,
		Headline: defaultHeadlineTemplate,
		Grammar:  defaultGrammarTemplate,
	}
}

// Merge fills empty fields of t from the defaults.
func (t Templates) Merge() Templates {
	d := DefaultTemplates()
	if strings.TrimSpace(t.Post) == "" {
		t.Post = d.Post
	}
	if strings.TrimSpace(t.Headline) == "" {
		t.Headline = d.Headline
	}
	if strings.TrimSpace(t.Grammar) == "" {
		t.Grammar = d.Grammar
	}
	return t
}

// BuildPostPrompt 生成正文提示词。
func BuildPostPrompt(tpl, idea, examples string, temperature float64) Prompt {
	r := strings.NewReplacer(PlaceholderIdea, strings.TrimSpace(idea), PlaceholderExamples, strings.TrimSpace(examples))
	return Prompt{
		Kind:        KindPost,
		System:      "You are an experienced editor of a popular Telegram channel.",
		User:        r.Replace(tpl),
		Input:       idea,
		Temperature: temperature,
	}
}

// BuildHeadlinePrompt 生成标题提示词。
func BuildHeadlinePrompt(tpl, text string, temperature float64) Prompt {
	return Prompt{
		Kind:        KindHeadline,
		System:      "You write concise headlines.",
		User:        strings.ReplaceAll(tpl, PlaceholderText, strings.TrimSpace(text)),
		Input:       text,
		Temperature: temperature,
	}
}

// BuildGrammarPrompt 生成校对提示词，温度固定为 0。
func BuildGrammarPrompt(tpl, text string) Prompt {
	return Prompt{
		Kind:        KindGrammar,
		System:      "You are a meticulous proofreader.",
		User:        strings.ReplaceAll(tpl, PlaceholderText, strings.TrimSpace(text)),
		Input:       text,
		Temperature: 0,
	}
}
