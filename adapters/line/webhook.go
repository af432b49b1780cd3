package line

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ELICE-01/line/core"
	"github.com/ELICE-01/line/pkg/res"
)

// seenLimit caps the redelivery-dedup map before stale entries get swept.
const seenLimit = 1000

// MessageHandler is the relay entry point the webhook feeds: one inbound
// text message in, the reply text out.
type MessageHandler interface {
	HandleMessage(ctx context.Context, chatID, text string) string
}

// Webhook receives LINE platform events and feeds text messages to the
// relay. LINE wants its 200 fast, so events are processed after the
// response is written and replies go out over the push API.
type Webhook struct {
	log     *slog.Logger
	secret  string
	handler MessageHandler
	sender  core.Notifier
	timeout time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewWebhook(log *slog.Logger, channelSecret string, handler MessageHandler, sender core.Notifier, timeout time.Duration) *Webhook {
	return &Webhook{
		log:     log,
		secret:  channelSecret,
		handler: handler,
		sender:  sender,
		timeout: timeout,
		seen:    make(map[string]time.Time),
	}
}

type webhookBody struct {
	Destination string  `json:"destination"`
	Events      []event `json:"events"`
}

type event struct {
	Type       string   `json:"type"`
	Timestamp  int64    `json:"timestamp"`
	ReplyToken string   `json:"replyToken,omitempty"`
	Source     source   `json:"source"`
	Message    *message `json:"message,omitempty"`
}

type source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// chatID picks the conversation the reply should land in: the group or
// room when the message came from one, the user otherwise.
func (s source) chatID() string {
	if s.GroupID != "" {
		return s.GroupID
	}
	if s.RoomID != "" {
		return s.RoomID
	}
	return s.UserID
}

type message struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Handle is the webhook endpoint. It validates the signature, acks with
// 200 immediately and hands the events to a background goroutine, LINE
// redelivers anything that does not get its 200 fast enough.
func (wh *Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		wh.log.Error("webhook body read failed", "error", err)
		res.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	r.Body.Close()

	if wh.secret != "" && !VerifySignature(wh.secret, body, r.Header.Get("X-Line-Signature")) {
		wh.log.Warn("webhook signature rejected")
		res.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var hook webhookBody
	if err := json.Unmarshal(body, &hook); err != nil {
		wh.log.Error("webhook parse failed", "error", err)
		res.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	res.Text(w, "OK", http.StatusOK)

	go wh.processEvents(hook.Events)
}

func (wh *Webhook) processEvents(events []event) {
	for _, ev := range events {
		if ev.Type != "message" || ev.Message == nil || ev.Message.Type != "text" {
			wh.log.Debug("webhook event ignored", "type", ev.Type)
			continue
		}
		text := strings.TrimSpace(ev.Message.Text)
		if text == "" {
			continue
		}
		if wh.alreadySeen(ev.Message.ID) {
			wh.log.Debug("webhook duplicate delivery ignored", "messageId", ev.Message.ID)
			continue
		}
		chatID := ev.Source.chatID()
		if chatID == "" {
			continue
		}
		wh.dispatch(chatID, text)
	}
}

func (wh *Webhook) dispatch(chatID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), wh.timeout)
	defer cancel()

	wh.log.Info("message received", "chatId", chatID, "length", len(text))

	reply := wh.handler.HandleMessage(ctx, chatID, text)
	if reply == "" {
		return
	}
	if err := wh.sender.Push(ctx, chatID, reply); err != nil {
		wh.log.Error("reply delivery failed", "chatId", chatID, "error", err)
	}
}

// alreadySeen tracks recently handled message IDs. LINE redelivers events
// it considers unacknowledged; this is transport-level dedup, separate
// from the durable reminder ledger.
func (wh *Webhook) alreadySeen(id string) bool {
	if id == "" {
		return false
	}

	wh.mu.Lock()
	defer wh.mu.Unlock()

	if _, ok := wh.seen[id]; ok {
		return true
	}
	wh.seen[id] = time.Now()

	if len(wh.seen) > seenLimit {
		cutoff := time.Now().Add(-time.Hour)
		for k, ts := range wh.seen {
			if ts.Before(cutoff) {
				delete(wh.seen, k)
			}
		}
	}
	return false
}

// VerifySignature checks the X-Line-Signature header: base64 of the
// HMAC-SHA256 of the raw request body keyed with the channel secret.
func VerifySignature(channelSecret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
