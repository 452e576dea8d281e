package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

var notificationCapabilities = []string{"send_notification", "send_alert"}

var alertSeverities = map[string]bool{"info": true, "warning": true, "critical": true}

// Publisher delivers a notification payload on a named channel.
type Publisher interface {
	Notify(ctx context.Context, channel, payload string) error
}

// Notification publishes notifications and alerts. Without a publisher it
// only logs them.
type Notification struct {
	publisher Publisher
	channel   string
	logger    *slog.Logger
}

// NewNotification returns a Notification connector publishing on channel.
// publisher may be nil.
func NewNotification(publisher Publisher, channel string, logger *slog.Logger) *Notification {
	return &Notification{publisher: publisher, channel: channel, logger: logger}
}

func (c *Notification) Type() string { return "notification" }

func (c *Notification) Capabilities() []string { return notificationCapabilities }

func (c *Notification) Run(ctx context.Context, action string, params Params) (Result, error) {
	message := params.First("message", "text")
	if message == "" {
		return Failure("message is required"), nil
	}

	payload := map[string]any{
		"kind":    "notification",
		"message": message,
		"title":   params.StringOr("title", ""),
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	}
	switch action {
	case "send_notification":
		payload["recipient"] = params.StringOr("recipient", "")
	case "send_alert":
		severity := params.StringOr("severity", "warning")
		if !alertSeverities[severity] {
			return Failure("Invalid severity %q (want info, warning or critical)", severity), nil
		}
		payload["kind"] = "alert"
		payload["severity"] = severity
	default:
		return Failure("Unknown action: %s", action), nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("connector: encode notification: %w", err)
	}

	delivered := false
	if c.publisher != nil {
		if err := c.publisher.Notify(ctx, c.channel, string(data)); err != nil {
			return Failure("Error publishing notification: %v", err), nil
		}
		delivered = true
	}
	c.logger.Info("notification sent", "kind", payload["kind"], "channel", c.channel, "delivered", delivered)

	fields := map[string]any{
		"action":    action,
		"channel":   c.channel,
		"delivered": delivered,
	}
	for k, v := range payload {
		if k == "message" {
			k = "text"
		}
		fields[k] = v
	}
	return Result{Status: StatusSuccess, Message: "Notification sent", Fields: fields}, nil
}
