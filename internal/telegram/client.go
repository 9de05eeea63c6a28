package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sender is the outbound surface the bot layer depends on, kept small so
// handlers can take a test double.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) error
	SendPhoto(ctx context.Context, chatID int64, photoURL, caption string, opts *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Client is an HTTP client for the Telegram Bot API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Token is the bot token from BotFather.
	Token string
	// BaseURL overrides the API root (useful for tests).
	BaseURL string
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// NewClient creates a Telegram Bot API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Token == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.telegram.org/bot" + cfg.Token
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Long polls hold the connection open for up to 50s.
		httpClient = &http.Client{Timeout: 70 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

func (c *Client) call(ctx context.Context, method string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram %s: %s", method, apiResp.Description)
	}

	if out != nil {
		if err := json.Unmarshal(apiResp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// GetUpdates long-polls for new updates past offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	req := map[string]any{
		"offset":  offset,
		"timeout": int(timeout.Seconds()),
	}

	var updates []Update
	if err := c.call(ctx, "getUpdates", req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// DeleteWebhook clears any configured webhook so long polling works,
// optionally dropping the pending update backlog.
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.call(ctx, "deleteWebhook", map[string]any{"drop_pending_updates": dropPending}, nil)
}

func replyMarkup(opts *SendOptions) any {
	if opts == nil {
		return nil
	}
	if len(opts.Keyboard) > 0 {
		return inlineKeyboardMarkup{InlineKeyboard: opts.Keyboard}
	}
	if opts.ForceReply {
		return forceReplyMarkup{ForceReply: true}
	}
	return nil
}

// SendMessage sends a text message.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) error {
	req := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if opts != nil && opts.ParseMode != "" {
		req["parse_mode"] = opts.ParseMode
	}
	if markup := replyMarkup(opts); markup != nil {
		req["reply_markup"] = markup
	}
	return c.call(ctx, "sendMessage", req, nil)
}

// SendPhoto sends a photo by URL with a caption. Callers fall back to
// SendMessage when this fails; Telegram rejects some remote image URLs.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photoURL, caption string, opts *SendOptions) error {
	req := map[string]any{
		"chat_id": chatID,
		"photo":   photoURL,
		"caption": caption,
	}
	if opts != nil && opts.ParseMode != "" {
		req["parse_mode"] = opts.ParseMode
	}
	if markup := replyMarkup(opts); markup != nil {
		req["reply_markup"] = markup
	}
	return c.call(ctx, "sendPhoto", req, nil)
}

// AnswerCallback acknowledges a button press with a toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	req := map[string]any{
		"callback_query_id": callbackID,
	}
	if text != "" {
		req["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", req, nil)
}
