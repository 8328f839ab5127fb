package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/settings"
)

const (
	DefaultAPIURL          = "https://api.cloudflare.com/client/v4"
	DefaultClassifyTimeout = 15 * time.Second

	maxResponseBytes = 1 << 20
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type runRequest struct {
	Messages []message `json:"messages"`
}

type runResponse struct {
	Result struct {
		Response json.RawMessage `json:"response"`
		Output   json.RawMessage `json:"output"`
	} `json:"result"`
}

// Client asks a Workers AI text model whether an item should be forwarded.
// It fails open: whenever no verdict can be obtained the item is allowed.
type Client struct {
	httpClient *http.Client
	apiURL     string
	timeout    time.Duration
}

type Options struct {
	HTTPClient *http.Client
	APIURL     string
	Timeout    time.Duration
}

func (o *Options) defaults() {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.APIURL == "" {
		o.APIURL = DefaultAPIURL
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultClassifyTimeout
	}
}

func NewClient(opts Options) *Client {
	opts.defaults()

	return &Client{
		httpClient: opts.HTTPClient,
		apiURL:     strings.TrimRight(opts.APIURL, "/"),
		timeout:    opts.Timeout,
	}
}

// Classify returns true when the item should be forwarded.
func (c *Client) Classify(ctx context.Context, item feed.Item, ai settings.AI) bool {
	if !ai.Complete() {
		slog.Debug("Classifier not configured, allowing item", "item", item.Identity())
		return true
	}

	text, err := c.run(ctx, item, ai)
	if err != nil {
		slog.Warn("Classifier request failed, allowing item", "item", item.Identity(), "error", err)
		return true
	}

	allow := Verdict(text)
	slog.Debug("Classifier verdict", "item", item.Identity(), "response", text, "allow", allow)
	return allow
}

func (c *Client) run(ctx context.Context, item feed.Item, ai settings.AI) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(runRequest{
		Messages: []message{
			{Role: "system", Content: ai.Prompt},
			{Role: "user", Content: UserMessage(item)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/ai/run/%s",
		c.apiURL, url.PathEscape(strings.TrimSpace(ai.Account)), escapeModel(ai.Model))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(ai.Token))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call model: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("model returned HTTP %d: %s", resp.StatusCode, excerpt(data))
	}

	var decoded runResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if text := rawText(decoded.Result.Response); text != "" {
		return text, nil
	}
	return rawText(decoded.Result.Output), nil
}

// UserMessage builds the user turn sent alongside the operator prompt.
func UserMessage(item feed.Item) string {
	return fmt.Sprintf("Title: %s\n\nContent: %s\n\nJudge according to the prompt.",
		item.Title, feed.StripHTML(item.Description))
}

// Verdict interprets model output. "true" wins over "false" when both
// appear, and output with neither token allows the item.
func Verdict(text string) bool {
	text = strings.ToLower(text)

	switch {
	case strings.Contains(text, "true"):
		return true
	case strings.Contains(text, "false"):
		return false
	default:
		return true
	}
}

// Model names look like "@cf/meta/llama-3-8b-instruct"; the slashes are part
// of the route.
func escapeModel(model string) string {
	parts := strings.Split(strings.TrimSpace(model), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func rawText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

func excerpt(data []byte) string {
	const limit = 200

	s := strings.TrimSpace(string(data))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
