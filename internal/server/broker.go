package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ashita-ai/nagare/internal/storage"
)

// Broker fans out run change notifications to SSE subscribers.
// It runs a background goroutine that calls db.WaitForNotification in a loop
// and sends each payload to the subscribers watching that run.
type Broker struct {
	db     *storage.DB
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]int64
}

// NewBroker creates a new SSE broker. Call Start to begin listening.
func NewBroker(db *storage.DB, logger *slog.Logger) *Broker {
	return &Broker{
		db:          db,
		logger:      logger,
		subscribers: make(map[chan []byte]int64),
	}
}

// Start listens on the runs channel until ctx is cancelled. It blocks, so
// call it in a goroutine.
func (b *Broker) Start(ctx context.Context) error {
	if err := b.db.Listen(ctx, storage.ChannelRuns); err != nil {
		return err
	}
	b.logger.Info("broker: listening for notifications", "channel", storage.ChannelRuns)

	for {
		channel, payload, err := b.db.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("broker: notification error, retrying", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		b.broadcast(gjson.Get(payload, "run_id").Int(), formatSSE(channel, payload))
	}
}

// Subscribe returns a channel that receives SSE-formatted events for runID,
// or for every run when runID is 0. The caller must call Unsubscribe.
func (b *Broker) Subscribe(runID int64) chan []byte {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subscribers[ch] = runID
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// broadcast sends an event to every matching subscriber. A subscriber whose
// buffer is full misses the event.
func (b *Broker) broadcast(runID int64, event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, want := range b.subscribers {
		if want != 0 && want != runID {
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
}

// formatSSE formats a notification as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
