package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/BidScout/internal/config"
	"github.com/TobiSchelling/BidScout/internal/database"
	"github.com/TobiSchelling/BidScout/internal/metrics"
)

// ChannelResult is the outcome of delivering one alert's batch on one channel.
type ChannelResult struct {
	Channel string
	Sent    int
	Err     error
}

// Report collects per-channel results for one alert.
type Report struct {
	AlertID int64
	Results []ChannelResult
}

// Sent is the number of (record, channel) pairs delivered.
func (r Report) Sent() int {
	n := 0
	for _, c := range r.Results {
		n += c.Sent
	}
	return n
}

// Errors is the number of channels whose delivery failed.
func (r Report) Errors() int {
	n := 0
	for _, c := range r.Results {
		if c.Err != nil {
			n++
		}
	}
	return n
}

// Dispatcher delivers alert batches and keeps the sent-log so that each
// (alert, record, channel) is delivered at most once.
type Dispatcher struct {
	db       *database.DB
	channels map[string]Channel
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
}

// NewDispatcher creates a dispatcher over the given channels, keyed by Name().
func NewDispatcher(db *database.DB, channels []Channel, m *metrics.Metrics, log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	byName := make(map[string]Channel, len(channels))
	for _, c := range channels {
		byName[c.Name()] = c
	}
	return &Dispatcher{db: db, channels: byName, metrics: m, log: log}
}

// Channels returns the names of the configured channels.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for n := range d.channels {
		names = append(names, n)
	}
	return names
}

// FindNew returns the candidates not yet delivered for (alert, channel),
// preserving order.
func (d *Dispatcher) FindNew(ctx context.Context, alertID int64, channel string, candidates []Item) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sent, err := d.db.SentRecordIDs(alertID, channel)
	if err != nil {
		return nil, err
	}
	var fresh []Item
	for _, it := range candidates {
		if !sent[it.Record.ExternalID] {
			fresh = append(fresh, it)
		}
	}
	return fresh, nil
}

// Unsent drops records already delivered on every one of the alert's
// channels. Records pending on at least one channel are kept.
func (d *Dispatcher) Unsent(alert *database.Alert, records []database.Record) ([]database.Record, error) {
	if len(alert.Channels) == 0 {
		return nil, nil
	}
	sentBy := make([]map[string]bool, 0, len(alert.Channels))
	for _, ch := range alert.Channels {
		sent, err := d.db.SentRecordIDs(alert.ID, ch)
		if err != nil {
			return nil, err
		}
		sentBy = append(sentBy, sent)
	}
	var out []database.Record
	for _, r := range records {
		for _, sent := range sentBy {
			if !sent[r.ExternalID] {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

// SendBatch sends a batch on one channel: the rich rendering first, then a
// single plain-text attempt. It returns a *DeliveryError when both fail.
func (d *Dispatcher) SendBatch(ctx context.Context, ch Channel, msg Message) error {
	log := d.log.WithFields(logrus.Fields{"alert": msg.AlertID, "channel": ch.Name()})

	richErr := ch.Send(ctx, msg)
	if richErr == nil {
		return nil
	}
	log.WithError(richErr).Warn("rich send failed, retrying as plain text")

	if err := ch.SendPlain(ctx, PlainSummary(msg)); err != nil {
		return &DeliveryError{Channel: ch.Name(), AlertID: msg.AlertID, Err: errors.Join(richErr, err)}
	}
	return nil
}

// Deliver sends the alert's new items on each of its channels and appends a
// sent-log row per (record, channel) only after that channel's send
// succeeded. A failing channel never stops the others.
func (d *Dispatcher) Deliver(ctx context.Context, alert *database.Alert, items []Item) Report {
	report := Report{AlertID: alert.ID}

	for _, name := range alert.Channels {
		log := d.log.WithFields(logrus.Fields{"alert": alert.ID, "channel": name})
		ch, ok := d.channels[name]
		if !ok {
			log.Warn("alert channel not configured, skipping")
			continue
		}

		fresh, err := d.FindNew(ctx, alert.ID, name, items)
		if err != nil {
			report.Results = append(report.Results, ChannelResult{Channel: name, Err: err})
			continue
		}
		if len(fresh) == 0 {
			continue
		}

		msg := Message{AlertID: alert.ID, AlertName: alert.Name, Items: fresh}
		if err := d.SendBatch(ctx, ch, msg); err != nil {
			log.WithError(err).Error("delivery failed")
			d.metrics.DeliveryFailed(name)
			report.Results = append(report.Results, ChannelResult{Channel: name, Err: err})
			continue
		}

		res := ChannelResult{Channel: name}
		for _, it := range fresh {
			if err := d.db.RecordSent(alert.ID, it.Record.ExternalID, name); err != nil {
				// Delivered but not logged: the record may be sent again next cycle.
				log.WithError(err).WithField("record", it.Record.ExternalID).Error("recording sent notification")
				res.Err = fmt.Errorf("recording sent notification: %w", err)
				continue
			}
			res.Sent++
		}
		d.metrics.Delivered(name, res.Sent)
		log.WithField("records", res.Sent).Info("delivered")
		report.Results = append(report.Results, res)
	}
	return report
}

// Broadcast sends a plain-text notice on every configured channel and
// returns the failures joined.
func (d *Dispatcher) Broadcast(ctx context.Context, text string) error {
	var errs []error
	for name, ch := range d.channels {
		if err := ch.SendPlain(ctx, text); err != nil {
			d.metrics.DeliveryFailed(name)
			errs = append(errs, &DeliveryError{Channel: name, Err: err})
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the enabled channels. Channels missing a required
// secret or address are skipped with a warning.
func FromConfig(cfg config.Channels, log logrus.FieldLogger) []Channel {
	if log == nil {
		log = logrus.StandardLogger()
	}
	var out []Channel

	if t := cfg.Telegram; t.Enabled {
		token := config.Secret(t.BotTokenEnv)
		switch {
		case token == "" || t.ChatID == 0:
			log.Warnf("telegram enabled but %s or chat_id is missing", t.BotTokenEnv)
		default:
			ch, err := NewTelegramChannel(token, t.ChatID, t.APIURL)
			if err != nil {
				log.WithError(err).Warn("telegram disabled")
			} else {
				out = append(out, ch)
			}
		}
	}

	if e := cfg.Email; e.Enabled {
		if e.SMTPHost == "" || e.From == "" || len(e.To) == 0 {
			log.Warn("email enabled but smtp_host, from or to is missing")
		} else {
			out = append(out, NewEmailChannel(e.SMTPHost, e.SMTPPort, e.Username, config.Secret(e.PasswordEnv), e.From, e.To))
		}
	}

	if s := cfg.Slack; s.Enabled {
		if url := config.Secret(s.WebhookURLEnv); url == "" {
			log.Warnf("slack enabled but %s is not set", s.WebhookURLEnv)
		} else {
			out = append(out, NewSlackChannel(url))
		}
	}

	if w := cfg.Webhook; w.Enabled {
		if w.URL == "" {
			log.Warn("webhook enabled but url is missing")
		} else {
			out = append(out, NewWebhookChannel(w.URL, w.Headers))
		}
	}
	return out
}
