// Package config loads the publisher configuration once at startup.
//
// The file is YAML. A .env file next to the process (optional) is loaded first
// and ${VAR} references in the YAML are expanded from the environment, so
// secrets can stay out of the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"auto_telegram_post_publisher/errs"
)

const (
	DefaultWorksheet       = "work"
	DefaultPendingMarker   = "pending"
	DefaultDoneMarker      = "done"
	DefaultTextModel       = "gpt-4o"
	DefaultTextTemperature = 0.5
	DefaultImageModel      = "dall-e-3"
	DefaultImageSize       = "1024x1024"
	DefaultEmbeddingModel  = "text-embedding-3-small"
	DefaultNATSSubject     = "publisher.cycles"
	DefaultImagePrompt     = "A clean, modern editorial illustration for a social media post, no text, soft colours"
)

// Config is the full process configuration. It is built once in main and
// passed by value into component constructors.
type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Sheets     SheetsConfig     `yaml:"google_sheets"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	SerpAPI    SerpAPIConfig    `yaml:"serpapi"`
	Memory     MemoryConfig     `yaml:"memory"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Prompts    PromptsConfig    `yaml:"prompts"`
	Server     ServerConfig     `yaml:"server"`
	NATS       NATSConfig       `yaml:"nats"`
}

type TelegramConfig struct {
	BotToken        string `yaml:"bot_token"`
	Token           string `yaml:"token"`
	ChannelChatID   string `yaml:"channel_chat_id"`
	ChatID          string `yaml:"chat_id"`
	ChannelUsername string `yaml:"channel_username"`
	OwnerChatID     string `yaml:"owner_chat_id"`
	APIBaseURL      string `yaml:"api_base_url,omitempty"`
}

// BotCredential returns bot_token, falling back to token.
func (t TelegramConfig) BotCredential() string {
	if t.BotToken != "" {
		return t.BotToken
	}
	return t.Token
}

// Channel returns channel_chat_id, falling back to chat_id.
func (t TelegramConfig) Channel() string {
	if t.ChannelChatID != "" {
		return t.ChannelChatID
	}
	return t.ChatID
}

// Handle is the public channel username without a leading @.
func (t TelegramConfig) Handle() string {
	return strings.TrimPrefix(strings.TrimSpace(t.ChannelUsername), "@")
}

type SheetsConfig struct {
	CredentialsJSON string `yaml:"credentials_json"`
	SheetID         string `yaml:"sheet_id"`
	WorksheetName   string `yaml:"worksheet_name"`
	StatusPending   string `yaml:"status_pending"`
	StatusDone      string `yaml:"status_done"`
}

type OpenAIConfig struct {
	APIKey          string   `yaml:"api_key"`
	BaseURL         string   `yaml:"base_url,omitempty"`
	TextModel       string   `yaml:"text_model"`
	TextTemperature *float64 `yaml:"text_temperature"`
	CorrectionModel string   `yaml:"correction_model"`
	ImageModel      string   `yaml:"image_model"`
	ImageSize       string   `yaml:"image_size"`
	ImagePrompt     string   `yaml:"image_prompt"`
	EmbeddingModel  string   `yaml:"embedding_model"`
}

// Temperature returns the configured text temperature or the default.
func (o OpenAIConfig) Temperature() float64 {
	if o.TextTemperature == nil {
		return DefaultTextTemperature
	}
	return *o.TextTemperature
}

type SerpAPIConfig struct {
	APIKey string `yaml:"api_key"`
}

type MemoryConfig struct {
	PersistDirectory string `yaml:"persist_directory"`
	CollectionName   string `yaml:"collection_name"`
}

type SchedulingConfig struct {
	Timezone string `yaml:"timezone"`
	Jobs     []Job  `yaml:"jobs"`
}

// Job is one schedule entry.
type Job struct {
	Cron string `yaml:"cron"`
}

// Crons lists the non-empty cron expressions in declaration order.
func (s SchedulingConfig) Crons() []string {
	out := make([]string, 0, len(s.Jobs))
	for _, j := range s.Jobs {
		if c := strings.TrimSpace(j.Cron); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// PromptsConfig overrides the built-in prompt templates. Empty fields keep
// the defaults.
type PromptsConfig struct {
	Post     string `yaml:"post"`
	Headline string `yaml:"headline"`
	Grammar  string `yaml:"grammar"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Load reads, expands and validates the YAML config at path.
func Load(path string) (Config, error) {
	// .env 可选，不存在时忽略。
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, errs.E(errs.KindConfiguration, "config.load", fmt.Errorf("config file not found: %s: %w", path, err))
		}
		return Config{}, errs.E(errs.KindConfiguration, "config.load", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes after environment expansion and applies defaults.
func Parse(data []byte) (Config, error) {
	var cfg Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, errs.E(errs.KindConfiguration, "config.parse", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Sheets.WorksheetName == "" {
		c.Sheets.WorksheetName = DefaultWorksheet
	}
	if c.Sheets.StatusPending == "" {
		c.Sheets.StatusPending = DefaultPendingMarker
	}
	if c.Sheets.StatusDone == "" {
		c.Sheets.StatusDone = DefaultDoneMarker
	}
	if c.OpenAI.TextModel == "" {
		c.OpenAI.TextModel = DefaultTextModel
	}
	if c.OpenAI.CorrectionModel == "" {
		c.OpenAI.CorrectionModel = c.OpenAI.TextModel
	}
	if c.OpenAI.ImageModel == "" {
		c.OpenAI.ImageModel = DefaultImageModel
	}
	if c.OpenAI.ImageSize == "" {
		c.OpenAI.ImageSize = DefaultImageSize
	}
	if c.OpenAI.ImagePrompt == "" {
		c.OpenAI.ImagePrompt = DefaultImagePrompt
	}
	if c.OpenAI.EmbeddingModel == "" {
		c.OpenAI.EmbeddingModel = DefaultEmbeddingModel
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = DefaultNATSSubject
	}
}

// Validate reports every missing required key at once.
func (c Config) Validate() error {
	var missing []string
	check := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	check("telegram.bot_token", c.Telegram.BotCredential())
	check("telegram.channel_chat_id", c.Telegram.Channel())
	check("telegram.channel_username", c.Telegram.Handle())
	check("telegram.owner_chat_id", c.Telegram.OwnerChatID)
	check("google_sheets.credentials_json", c.Sheets.CredentialsJSON)
	check("google_sheets.sheet_id", c.Sheets.SheetID)
	check("openai.api_key", c.OpenAI.APIKey)
	check("memory.persist_directory", c.Memory.PersistDirectory)
	check("memory.collection_name", c.Memory.CollectionName)
	if len(missing) > 0 {
		return errs.Configuration("config.validate", "missing required keys: %s", strings.Join(missing, ", "))
	}
	if t := c.OpenAI.Temperature(); t < 0 || t > 2 {
		return errs.Configuration("config.validate", "openai.text_temperature must be within [0, 2], got %v", t)
	}
	return nil
}
