package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"auto_telegram_post_publisher/logging"
)

const (
	defaultAPIBaseURL = "https://api.telegram.org"
	// MaxCaptionRunes and MaxMessageRunes are Bot API limits after entity parsing;
	// counting the HTML source is conservative.
	MaxCaptionRunes = 1024
	MaxMessageRunes = 4096

	parseModeHTML = "HTML"
)

// Config holds the bot credential and the public channel it posts to.
type Config struct {
	Token         string
	APIBaseURL    string
	ChannelChatID string
	ChannelHandle string
	Timeout       time.Duration
}

// Delivery is what a successful send returns.
type Delivery struct {
	MessageID int64     `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	Date      time.Time `json:"date"`
	Permalink string    `json:"permalink,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

type apiMessage struct {
	MessageID int64 `json:"message_id"`
	Date      int64 `json:"date"`
}

type apiUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type sendPhotoPayload struct {
	ChatID    string `json:"chat_id"`
	Photo     string `json:"photo"`
	Caption   string `json:"caption,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type linkPreviewOptions struct {
	IsDisabled       bool   `json:"is_disabled,omitempty"`
	URL              string `json:"url,omitempty"`
	PreferLargeMedia bool   `json:"prefer_large_media,omitempty"`
	ShowAboveText    bool   `json:"show_above_text,omitempty"`
}

type sendMessagePayload struct {
	ChatID             string              `json:"chat_id"`
	Text               string              `json:"text"`
	ParseMode          string              `json:"parse_mode,omitempty"`
	LinkPreviewOptions *linkPreviewOptions `json:"link_preview_options,omitempty"`
}

// APIError is a Bot API rejection (ok=false).
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed: %d %s", e.Method, e.Code, e.Description)
}

// Publisher sends posts and notifications through the Telegram Bot API.
type Publisher struct {
	cfg    Config
	logger *logging.Logger
}

// New validates cfg. No network call is made here.
func New(cfg Config, logger *logging.Logger) (*Publisher, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.ChannelHandle = strings.TrimPrefix(cfg.ChannelHandle, "@")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Publisher{cfg: cfg, logger: logger.With("telegram")}, nil
}

// Verify calls getMe and returns the bot username.
func (p *Publisher) Verify(ctx context.Context) (string, error) {
	raw, err := p.call(ctx, "getMe", struct{}{})
	if err != nil {
		return "", err
	}
	var u apiUser
	if err := json.Unmarshal(raw, &u); err != nil {
		return "", err
	}
	return u.Username, nil
}

// SendPhoto posts an image with an HTML caption. Without an image the caption
// goes out as a text message. A caption over the Bot API limit is sent as a
// text message whose link preview shows the image above the text.
func (p *Publisher) SendPhoto(ctx context.Context, chatID, imageRef, caption string) (Delivery, error) {
	if imageRef == "" {
		return p.sendText(ctx, chatID, caption, parseModeHTML, nil)
	}
	if utf8.RuneCountInString(caption) > MaxCaptionRunes {
		p.logger.Infof("caption has %d runes, sending as text with image preview", utf8.RuneCountInString(caption))
		return p.sendText(ctx, chatID, caption, parseModeHTML, &linkPreviewOptions{
			URL:              imageRef,
			PreferLargeMedia: true,
			ShowAboveText:    true,
		})
	}

	raw, err := p.call(ctx, "sendPhoto", sendPhotoPayload{
		ChatID:    chatID,
		Photo:     imageRef,
		Caption:   caption,
		ParseMode: parseModeHTML,
	})
	if err != nil {
		return Delivery{}, err
	}
	d, err := p.delivery(chatID, raw)
	if err != nil {
		return Delivery{}, err
	}
	p.logger.Infof("Photo sent [chat_id=%s, message_id=%d]", chatID, d.MessageID)
	return d, nil
}

// SendMessage sends plain text, used for owner notifications.
func (p *Publisher) SendMessage(ctx context.Context, chatID, text string) (Delivery, error) {
	return p.sendText(ctx, chatID, text, "", &linkPreviewOptions{IsDisabled: true})
}

func (p *Publisher) sendText(ctx context.Context, chatID, text, parseMode string, preview *linkPreviewOptions) (Delivery, error) {
	if strings.TrimSpace(text) == "" {
		return Delivery{}, errors.New("telegram: message text is empty")
	}
	if n := utf8.RuneCountInString(text); n > MaxMessageRunes {
		return Delivery{}, fmt.Errorf("telegram: message has %d runes, limit is %d", n, MaxMessageRunes)
	}
	raw, err := p.call(ctx, "sendMessage", sendMessagePayload{
		ChatID:             chatID,
		Text:               text,
		ParseMode:          parseMode,
		LinkPreviewOptions: preview,
	})
	if err != nil {
		return Delivery{}, err
	}
	d, err := p.delivery(chatID, raw)
	if err != nil {
		return Delivery{}, err
	}
	p.logger.Infof("Message sent [chat_id=%s, message_id=%d]", chatID, d.MessageID)
	return d, nil
}

func (p *Publisher) delivery(chatID string, raw json.RawMessage) (Delivery, error) {
	var m apiMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Delivery{}, fmt.Errorf("telegram: decode message: %w", err)
	}
	if m.MessageID == 0 {
		return Delivery{}, errors.New("telegram: response has no message_id")
	}
	d := Delivery{
		MessageID: m.MessageID,
		ChatID:    chatID,
		Date:      time.Unix(m.Date, 0),
	}
	if p.isChannel(chatID) {
		d.Permalink = Permalink(p.cfg.ChannelHandle, m.MessageID)
	}
	return d, nil
}

func (p *Publisher) isChannel(chatID string) bool {
	if p.cfg.ChannelHandle == "" {
		return false
	}
	return chatID == p.cfg.ChannelChatID || strings.EqualFold(chatID, "@"+p.cfg.ChannelHandle)
}

// session builds a transport used by exactly one call. The returned release
// func closes its connections and must run on every exit path.
func (p *Publisher) session() (*http.Client, func()) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	return &http.Client{Transport: tr, Timeout: p.cfg.Timeout}, tr.CloseIdleConnections
}

func (p *Publisher) call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	client, release := p.session()
	defer release()

	endpoint := fmt.Sprintf("%s/bot%s/%s", p.cfg.APIBaseURL, p.cfg.Token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, p.redact(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, p.redact(err)
	}
	defer resp.Body.Close()

	var data apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("telegram %s: decode response (status %d): %w", method, resp.StatusCode, err)
	}
	if !data.OK {
		return nil, &APIError{Method: method, Code: data.ErrorCode, Description: data.Description}
	}
	return data.Result, nil
}

// redact keeps the bot token out of transport errors, which embed the URL.
func (p *Publisher) redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		uerr.URL = strings.ReplaceAll(uerr.URL, p.cfg.Token, "<token>")
	}
	return err
}
