package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/nagare/internal/model"
)

// ChannelRuns carries a model.RunEvent for every run and step transition.
// ChannelNotifications carries messages sent by the notification connector.
const (
	ChannelRuns          = "nagare_runs"
	ChannelNotifications = "nagare_notifications"
)

// maxNotifyPayload is the largest payload pg_notify accepts, in bytes.
const maxNotifyPayload = 7999

// ErrPayloadTooLarge is returned when a message exceeds maxNotifyPayload.
var ErrPayloadTooLarge = errors.New("storage: notification payload too large")

var errNoListener = errors.New("storage: no listener connection configured")

// Listen subscribes the listener connection to channel. Only a DB opened
// with a notify DSN has one.
func (db *DB) Listen(ctx context.Context, channel string) error {
	if db.notifyConn == nil {
		return errNoListener
	}
	if _, err := db.notifyConn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("storage: listen %s: %w", channel, err)
	}
	return nil
}

// WaitForNotification blocks until a run event or notification message
// arrives on a channel passed to Listen.
func (db *DB) WaitForNotification(ctx context.Context) (channel, payload string, err error) {
	if db.notifyConn == nil {
		return "", "", errNoListener
	}
	n, err := db.notifyConn.WaitForNotification(ctx)
	if err != nil {
		return "", "", fmt.Errorf("storage: wait for notification: %w", err)
	}
	return n.Channel, n.Payload, nil
}

// Notify publishes payload on channel through the pool. It satisfies the
// notification connector's publisher.
func (db *DB) Notify(ctx context.Context, channel, payload string) error {
	if len(payload) > maxNotifyPayload {
		return fmt.Errorf("%w: %d bytes on %s", ErrPayloadTooLarge, len(payload), channel)
	}
	if _, err := db.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload); err != nil {
		return fmt.Errorf("storage: notify %s: %w", channel, err)
	}
	return nil
}

// PublishRunEvent announces a run or step transition on ChannelRuns.
func (db *DB) PublishRunEvent(ctx context.Context, ev model.RunEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("storage: encode event for run %d: %w", ev.RunID, err)
	}
	return db.Notify(ctx, ChannelRuns, string(payload))
}
