// Package telegram talks to the Telegram Bot API for outward message delivery.
// Every failure is classified as either transient (domain.ErrDeliveryFailed) or
// permanent (domain.ErrDeliveryFatal) so callers can decide between carrying on
// and stopping the session.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"quiz-competition-service/internal/domain"
)

const DefaultAPIBaseURL = "https://api.telegram.org"

// Client is a delivery client for a single bot token.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// ClientConfig tunes a Client. Zero values fall back to sane defaults.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

func NewClient(token string, cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAPIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25 // Telegram allows ~30 msgs/s per bot; stay under
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// SendMessage posts a new message and returns its message id.
func (c *Client) SendMessage(ctx context.Context, msg domain.OutboundMessage) (int64, error) {
	payload := c.payload(msg, false)
	resp, err := c.call(ctx, "sendMessage", payload)
	if err != nil {
		return 0, err
	}
	return resp.Result.MessageID, nil
}

// EditMessage rewrites the text (and keyboard) of an existing message.
func (c *Client) EditMessage(ctx context.Context, msg domain.OutboundMessage) error {
	_, err := c.call(ctx, "editMessageText", c.payload(msg, true))
	return err
}

func (c *Client) payload(msg domain.OutboundMessage, edit bool) map[string]interface{} {
	body := map[string]interface{}{"text": msg.Text}
	if msg.Target.InlineMessageID != "" {
		body["inline_message_id"] = msg.Target.InlineMessageID
	} else {
		body["chat_id"] = msg.Target.ChatID
		if edit {
			body["message_id"] = msg.Target.MessageID
		}
	}
	markup := replyMarkup{InlineKeyboard: [][]inlineButton{}}
	for _, row := range msg.Keyboard {
		buttons := make([]inlineButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, inlineButton{Text: b.Text, CallbackData: b.Data})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, buttons)
	}
	body["reply_markup"] = markup
	return body
}

// call performs one Bot API request. Rate limiting happens locally first; a
// 429 from the API is honored once (bounded wait) before giving up as a
// transient failure.
func (c *Client) call(ctx context.Context, method string, payload map[string]interface{}) (*apiResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}
	resp, err := c.post(ctx, method, payload)
	if err != nil {
		return nil, err
	}
	if resp.OK {
		return resp, nil
	}
	if resp.ErrorCode == http.StatusTooManyRequests && resp.Parameters.RetryAfter > 0 && resp.Parameters.RetryAfter <= 10 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, ctx.Err())
		case <-time.After(time.Duration(resp.Parameters.RetryAfter) * time.Second):
		}
		resp, err = c.post(ctx, method, payload)
		if err != nil {
			return nil, err
		}
		if resp.OK {
			return resp, nil
		}
	}
	return nil, classify(resp.ErrorCode, resp.Description)
}

func (c *Client) post(ctx context.Context, method string, payload map[string]interface{}) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload: %v", domain.ErrDeliveryFailed, err)
	}
	url := c.baseURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}
	defer httpResp.Body.Close()

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrDeliveryFailed, err)
	}
	return &resp, nil
}

// fatalFragments are Bot API descriptions that mean the target is gone for
// good and the session cannot continue visually.
var fatalFragments = []string{
	"message to edit not found",
	"message can't be edited",
	"bot was blocked by the user",
	"chat not found",
	"bot was kicked",
	"user is deactivated",
	"not enough rights",
}

func classify(code int, description string) error {
	lower := strings.ToLower(description)
	for _, fragment := range fatalFragments {
		if strings.Contains(lower, fragment) {
			return fmt.Errorf("%w: %s (%d)", domain.ErrDeliveryFatal, description, code)
		}
	}
	if code == http.StatusForbidden {
		return fmt.Errorf("%w: %s (%d)", domain.ErrDeliveryFatal, description, code)
	}
	return fmt.Errorf("%w: %s (%d)", domain.ErrDeliveryFailed, description, code)
}
