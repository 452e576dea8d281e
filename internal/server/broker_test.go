package server

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger returns a logger for tests that only shows errors.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestBroker() *Broker {
	return &Broker{
		subscribers: make(map[chan []byte]int64),
		logger:      testLogger(),
	}
}

func receive(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBrokerFanOut(t *testing.T) {
	broker := newTestBroker()
	ch1 := broker.Subscribe(0)
	ch2 := broker.Subscribe(0)

	event := formatSSE("nagare_runs", `{"run_id":1,"status":"running"}`)
	broker.broadcast(1, event)

	assert.Equal(t, event, receive(t, ch1))
	assert.Equal(t, event, receive(t, ch2))

	broker.Unsubscribe(ch1)
	event2 := formatSSE("nagare_runs", `{"run_id":1,"status":"completed"}`)
	broker.broadcast(1, event2)
	assert.Equal(t, event2, receive(t, ch2))

	broker.Unsubscribe(ch2)
}

func TestBrokerFiltersByRun(t *testing.T) {
	broker := newTestBroker()
	run7 := broker.Subscribe(7)
	all := broker.Subscribe(0)
	defer broker.Unsubscribe(run7)
	defer broker.Unsubscribe(all)

	broker.broadcast(8, formatSSE("nagare_runs", `{"run_id":8}`))
	broker.broadcast(7, formatSSE("nagare_runs", `{"run_id":7}`))

	assert.Contains(t, string(receive(t, run7)), `"run_id":7`)
	assert.Contains(t, string(receive(t, all)), `"run_id":8`)
	assert.Contains(t, string(receive(t, all)), `"run_id":7`)
	select {
	case extra := <-run7:
		t.Fatalf("unexpected event for run 7: %s", extra)
	default:
	}
}

func TestFormatSSE(t *testing.T) {
	got := string(formatSSE("nagare_runs", `{"run_id":123}`))
	assert.Equal(t, "event: nagare_runs\ndata: {\"run_id\":123}\n\n", got)
}

func TestBrokerSlowSubscriber(t *testing.T) {
	broker := newTestBroker()
	slow := broker.Subscribe(0)
	fast := broker.Subscribe(0)

	for range 65 {
		broker.broadcast(1, formatSSE("test", "fill"))
	}
	// Draining fast frees room; the full slow buffer must not block delivery.
	for range 64 {
		<-fast
	}
	broker.broadcast(1, formatSSE("test", "after-fill"))
	require.Equal(t, "event: test\ndata: after-fill\n\n", string(receive(t, fast)))

	broker.Unsubscribe(slow)
	broker.Unsubscribe(fast)
}
