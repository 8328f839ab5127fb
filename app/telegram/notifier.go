package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lysyi3m/rss-relay/app/feed"
)

const (
	DefaultAPIURL        = "https://api.telegram.org"
	DefaultHeader        = "New post"
	DefaultNotifyTimeout = 10 * time.Second

	parseModeMarkdownV2 = "MarkdownV2"
)

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// Notifier formats feed items and posts them to a Telegram chat through the
// Bot API.
type Notifier struct {
	httpClient *http.Client
	apiURL     string
	token      string
	chatID     string
	header     string
	timeout    time.Duration
}

type Options struct {
	HTTPClient *http.Client
	APIURL     string
	Token      string
	ChatID     string
	Header     string
	Timeout    time.Duration
}

func NewNotifier(opts Options) *Notifier {
	n := &Notifier{
		httpClient: opts.HTTPClient,
		apiURL:     strings.TrimRight(opts.APIURL, "/"),
		token:      opts.Token,
		chatID:     opts.ChatID,
		header:     opts.Header,
		timeout:    opts.Timeout,
	}

	if n.httpClient == nil {
		n.httpClient = &http.Client{}
	}
	if n.apiURL == "" {
		n.apiURL = DefaultAPIURL
	}
	if n.header == "" {
		n.header = DefaultHeader
	}
	if n.timeout <= 0 {
		n.timeout = DefaultNotifyTimeout
	}

	return n
}

// Format renders an item as a MarkdownV2 message. Each interpolated field is
// escaped on its own; template punctuation is not.
func (n *Notifier) Format(item feed.Item) string {
	var b strings.Builder

	b.WriteString("🆕 ")
	b.WriteString(EscapeMarkdown(n.header))
	b.WriteString("\n\n")

	title := item.Title
	if title == "" {
		title = "No title"
	}
	b.WriteString("📌 *")
	b.WriteString(EscapeMarkdown(title))
	b.WriteString("*\n")

	if item.PubDate != "" {
		b.WriteString("🕒 ")
		b.WriteString(EscapeMarkdown(item.PubDate))
		b.WriteString("\n")
	}

	if item.Link != "" {
		b.WriteString("🔗 [Open post](")
		b.WriteString(EscapeMarkdown(item.Link))
		b.WriteString(")\n\n")
	} else {
		b.WriteString("\n")
	}

	if item.Description != "" {
		description := EscapeMarkdown(feed.StripHTML(item.Description))
		b.WriteString(Truncate(description, MaxDescriptionLength))
	}

	return b.String()
}

// Send delivers one message. It reports false on any failure; the caller
// must not record the item as sent in that case. There is no retry.
func (n *Notifier) Send(ctx context.Context, text string) bool {
	if n.token == "" || n.chatID == "" {
		slog.Error("Telegram send skipped, bot token or chat id not configured")
		return false
	}

	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                n.chatID,
		Text:                  text,
		ParseMode:             parseModeMarkdownV2,
		DisableWebPagePreview: false,
	})
	if err != nil {
		slog.Error("Failed to encode Telegram message", "error", err)
		return false
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiURL, n.token)
	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		slog.Error("Failed to create Telegram request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		// the URL carries the bot token, keep it out of the log
		slog.Error("Telegram send failed", "error", redact(err.Error(), n.token))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Error("Telegram send failed", "status", resp.StatusCode, "body", string(body))
		return false
	}

	return true
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "<redacted>")
}
