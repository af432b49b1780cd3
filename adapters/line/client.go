package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ELICE-01/line/core"
)

// LINE rejects text messages longer than 5000 characters.
const maxMessageLen = 5000

// Client pushes messages through the LINE Messaging API using a channel
// access token. It is the relay's core.Notifier.
type Client struct {
	log     *slog.Logger
	apiBase string
	token   string
	http    *http.Client
}

func NewClient(log *slog.Logger, apiBase, channelToken string) *Client {
	return &Client{
		log:     log,
		apiBase: apiBase,
		token:   channelToken,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Push sends one text message to a user, group or room. Over-long text is
// truncated instead of rejected.
func (c *Client) Push(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return fmt.Errorf("%w: empty push target", core.ErrDeliveryFailed)
	}
	if len(text) > maxMessageLen {
		text = text[:maxMessageLen-3] + "..."
	}

	payload := pushRequest{
		To:       chatID,
		Messages: []textMessage{{Type: "text", Text: text}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/message/push", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: HTTP %d: %s", core.ErrDeliveryFailed, resp.StatusCode, string(respBody))
	}

	c.log.Debug("push delivered", "chatId", chatID, "status", resp.StatusCode)
	return nil
}

var _ core.Notifier = (*Client)(nil)
