package notify

import (
	"context"
	"fmt"
)

// Channel names as they appear in alert definitions.
const (
	ChannelTelegram = "telegram"
	ChannelEmail    = "email"
	ChannelSlack    = "slack"
	ChannelWebhook  = "webhook"
)

// Channel is one delivery transport. Send delivers the rich rendering of a
// batch; SendPlain is the degraded path used when the rich send fails.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
	SendPlain(ctx context.Context, text string) error
}

// DeliveryError reports a batch that could not be delivered on a channel,
// even after the plain-text retry.
type DeliveryError struct {
	Channel string
	AlertID int64
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering alert %d via %s: %v", e.AlertID, e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
