package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// SlackChannel posts batches to a Slack incoming webhook.
type SlackChannel struct {
	url    string
	client *http.Client
}

func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{url: webhookURL, client: &http.Client{Timeout: 15 * time.Second}}
}

func (s *SlackChannel) Name() string { return ChannelSlack }

func (s *SlackChannel) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, s.client, s.url, nil, map[string]any{"text": SlackMarkdown(msg), "mrkdwn": true})
}

func (s *SlackChannel) SendPlain(ctx context.Context, text string) error {
	return postJSON(ctx, s.client, s.url, nil, map[string]any{"text": text, "mrkdwn": false})
}

// WebhookChannel posts batches as JSON to an arbitrary endpoint.
type WebhookChannel struct {
	url     string
	headers map[string]string
	client  *http.Client
}

func NewWebhookChannel(url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{url: url, headers: headers, client: &http.Client{Timeout: 15 * time.Second}}
}

func (w *WebhookChannel) Name() string { return ChannelWebhook }

type webhookItem struct {
	ExternalID     string  `json:"external_id"`
	Description    string  `json:"description"`
	Agency         string  `json:"agency,omitempty"`
	Region         string  `json:"region,omitempty"`
	City           string  `json:"city,omitempty"`
	EstimatedValue *string `json:"estimated_value,omitempty"`
	ClosingAt      *string `json:"closing_at,omitempty"`
	OriginURL      *string `json:"origin_url,omitempty"`
	Score          int     `json:"score"`
	Rationale      string  `json:"rationale,omitempty"`
}

type webhookPayload struct {
	AlertID   int64         `json:"alert_id"`
	AlertName string        `json:"alert_name"`
	Total     int           `json:"total"`
	Items     []webhookItem `json:"items,omitempty"`
	Text      string        `json:"text,omitempty"`
}

func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	p := webhookPayload{AlertID: msg.AlertID, AlertName: msg.AlertName, Total: len(msg.Items)}
	for _, it := range msg.Items {
		r := it.Record
		item := webhookItem{
			ExternalID:  r.ExternalID,
			Description: r.Description,
			Agency:      r.AgencyName,
			Region:      r.RegionCode,
			City:        r.City,
			ClosingAt:   r.ClosingAt,
			OriginURL:   r.OriginURL,
			Score:       it.Score,
			Rationale:   it.Rationale,
		}
		if r.EstimatedValue.Valid {
			v := r.EstimatedValue.Decimal.StringFixed(2)
			item.EstimatedValue = &v
		}
		p.Items = append(p.Items, item)
	}
	return postJSON(ctx, w.client, w.url, w.headers, p)
}

func (w *WebhookChannel) SendPlain(ctx context.Context, text string) error {
	return postJSON(ctx, w.client, w.url, w.headers, webhookPayload{Text: text})
}
