package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/whisper/modguard/internal/modlog"
	"github.com/whisper/modguard/internal/tagbag"
)

// leveledZap adapts zap to the retryablehttp logger. Request errors are
// logged as warnings since they will be retried.
type leveledZap struct {
	inner *zap.SugaredLogger
}

func (l leveledZap) Error(msg string, keysAndValues ...interface{}) {
	l.inner.Warnw(msg, keysAndValues...)
}

func (l leveledZap) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.Warnw(msg, keysAndValues...)
}

func (l leveledZap) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Infow(msg, keysAndValues...)
}

func (l leveledZap) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.Debugw(msg, keysAndValues...)
}

// NewHTTPClient returns an HTTP client that retries connection errors, 5xx
// responses and 429s with backoff.
func NewHTTPClient(logger *zap.Logger, retries int, timeout time.Duration) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = retryablehttp.LeveledLogger(leveledZap{logger.Sugar()})
	client := rc.StandardClient()
	client.Timeout = timeout
	return client
}

// WebhookBody is the JSON posted to a modlog webhook. It follows the
// Discord incoming webhook shape.
type WebhookBody struct {
	Username string  `json:"username,omitempty"`
	Embeds   []Embed `json:"embeds"`
}

type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

var kindColors = map[modlog.Kind]int{
	modlog.KindDelete: 0xe67e22,
	modlog.KindMute:   0xf1c40f,
	modlog.KindWarn:   0xf1c40f,
	modlog.KindKick:   0xe74c3c,
	modlog.KindBan:    0x992d22,
	modlog.KindRemind: 0x3498db,
}

// ModlogWebhook posts moderation events to the guild's modlog webhooks.
// The URL is read from the "webhook:<kind>mod" tag; deletions go to the
// "delete" hook and fall back to "default" like every other kind.
type ModlogWebhook struct {
	tags   tagbag.Store
	client *http.Client
	logger *zap.Logger
}

func NewModlogWebhook(tags tagbag.Store, client *http.Client, logger *zap.Logger) *ModlogWebhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModlogWebhook{tags: tags, client: client, logger: logger.Named("webhook")}
}

// webhookURL resolves the hook for an event. An empty URL means the guild
// has no modlog configured.
func (w *ModlogWebhook) webhookURL(ctx context.Context, ev modlog.Event) (string, error) {
	kinds := []string{tagbag.WebhookDefault}
	if ev.Kind == modlog.KindDelete {
		kinds = []string{tagbag.WebhookDelete, tagbag.WebhookDefault}
	}
	for _, k := range kinds {
		url, err := tagbag.NewTag[string](w.tags, tagbag.WebhookTag(k)).Get(ctx, ev.GuildID, "")
		if err != nil {
			return "", err
		}
		if url != "" {
			return url, nil
		}
	}
	return "", nil
}

// Send posts ev. Guilds without a configured hook are skipped silently.
func (w *ModlogWebhook) Send(ctx context.Context, ev modlog.Event) error {
	url, err := w.webhookURL(ctx, ev)
	if err != nil {
		return fmt.Errorf("notify: resolve webhook: %w", err)
	}
	if url == "" {
		return nil
	}

	body, err := json.Marshal(EventBody(ev))
	if err != nil {
		return fmt.Errorf("notify: marshal webhook: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook post: status %d", resp.StatusCode)
	}
	w.logger.Debug("modlog webhook delivered", zap.String("event", ev.ID), zap.String("guild", ev.GuildID))
	return nil
}

// EventBody renders ev as a webhook body.
func EventBody(ev modlog.Event) WebhookBody {
	fields := []EmbedField{
		{Name: "Member", Value: fmt.Sprintf("<@%s>", ev.TargetUserID), Inline: true},
		{Name: "Channel", Value: fmt.Sprintf("<#%s>", ev.ChannelID), Inline: true},
		{Name: "Source", Value: string(ev.Source), Inline: true},
	}
	if ev.Duration > 0 {
		fields = append(fields, EmbedField{Name: "Duration", Value: ev.Duration.String(), Inline: true})
	}
	if ev.ReporterID != "" {
		fields = append(fields, EmbedField{Name: "Moderator", Value: fmt.Sprintf("<@%s>", ev.ReporterID), Inline: true})
	}
	if ev.Content != "" {
		content := ev.Content
		if r := []rune(content); len(r) > 1000 {
			content = string(r[:1000]) + "…"
		}
		fields = append(fields, EmbedField{Name: "Message", Value: content})
	}

	return WebhookBody{
		Username: "modguard",
		Embeds: []Embed{{
			Title:       string(ev.Kind),
			Description: ev.Reason,
			Color:       kindColors[ev.Kind],
			Fields:      fields,
			Timestamp:   ev.CreatedAt.Format(time.RFC3339),
		}},
	}
}
