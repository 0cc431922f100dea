package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"settlement-service/config"
	"settlement-service/internal/domain"
	"settlement-service/internal/repository/memory"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	mu   sync.Mutex
	fail error
	sent []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.sent = append(w.sent, msgs...)
	return nil
}

func enqueue(t *testing.T, s *memory.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, Enqueue(context.Background(), s, domain.TopicLedgerPosted, "acct_1",
			map[string]int{"n": i}, time.Now().UTC()))
	}
}

func TestRelayPublishesAndMarks(t *testing.T) {
	store := memory.New()
	enqueue(t, store, 3)
	w := &fakeWriter{}
	relay := NewRelay(store, w, config.WorkersConfig{OutboxBatch: 2}, zap.NewNop())

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.Len(t, w.sent, 3)
	m := w.sent[0]
	assert.Equal(t, "acct_1", string(m.Key))
	assert.Equal(t, domain.TopicLedgerPosted, headerValue(m, HeaderEventType))

	var env struct {
		EventType string         `json:"event_type"`
		Data      map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(m.Value, &env))
	assert.Equal(t, domain.TopicLedgerPosted, env.EventType)
	assert.Equal(t, 0, env.Data["n"])
}

func TestRelayKeepsRowsWhenBrokerFails(t *testing.T) {
	store := memory.New()
	enqueue(t, store, 2)
	w := &fakeWriter{fail: errors.New("broker down")}
	relay := NewRelay(store, w, config.WorkersConfig{OutboxBatch: 10}, zap.NewNop())

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	rows, err := store.ClaimOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Attempts)

	w.fail = nil
	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	store := memory.New()
	enqueue(t, store, 1)
	w := &fakeWriter{}
	relay := NewRelay(store, w, config.WorkersConfig{OutboxInterval: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.sent) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
