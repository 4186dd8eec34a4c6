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

	"github.com/sirupsen/logrus"
)

const defaultAPIBaseURL = "https://api.telegram.org"

// Client is a minimal Telegram Bot API client: long-poll updates, message
// send/edit with inline keyboards, callback acknowledgement. The tracking
// engine talks to it through narrow interfaces, so tests substitute fakes.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a Bot API client for the given token.
func NewClient(token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    defaultAPIBaseURL,
		token:      token,
	}
}

// NewClientWithBaseURL is used by tests to point the client at a stub server.
func NewClientWithBaseURL(token, baseURL string, httpClient *http.Client) *Client {
	client := NewClient(token, httpClient)
	client.baseURL = strings.TrimRight(baseURL, "/")
	return client
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

func (c *Client) call(ctx context.Context, method string, payload interface{}, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("telegram %s: http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if !parsed.OK {
		return fmt.Errorf("telegram %s: %s", method, parsed.Description)
	}
	if result != nil && len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, result); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

// GetUpdates long-polls for updates and returns them together with the next
// offset to acknowledge everything received.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	seconds := int(timeout.Seconds())
	if seconds < 1 {
		seconds = 30
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	var updates []Update
	err := c.call(reqCtx, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Timeout:        seconds,
		AllowedUpdates: []string{"message", "callback_query"},
	}, &updates)
	if err != nil {
		return nil, offset, err
	}

	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

type sendMessageRequest struct {
	ChatID      int64                 `json:"chat_id"`
	Text        string                `json:"text"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// SendMessage sends a text message and returns the created message id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboardMarkup) (int, error) {
	var sent Message
	err := c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: keyboard,
	}, &sent)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

type editMessageTextRequest struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int                   `json:"message_id"`
	Text        string                `json:"text"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// EditMessageText rewrites an existing message in place. Fails when the
// message was deleted, is too old, or belongs to another chat; callers fall
// back to SendMessage.
func (c *Client) EditMessageText(ctx context.Context, chatID int64, messageID int, text string, keyboard *InlineKeyboardMarkup) error {
	return c.call(ctx, "editMessageText", editMessageTextRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ReplyMarkup: keyboard,
	}, nil)
}

type answerCallbackQueryRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
}

// AnswerCallbackQuery acknowledges a callback so the client stops showing a
// progress spinner. Errors are logged, not returned: acknowledgement is
// cosmetic and must never interrupt event handling.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackQueryID string) {
	err := c.call(ctx, "answerCallbackQuery", answerCallbackQueryRequest{CallbackQueryID: callbackQueryID}, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "TelegramClient",
			"callback":  callbackQueryID,
		}).WithError(err).Debug("Failed to answer callback query")
	}
}
