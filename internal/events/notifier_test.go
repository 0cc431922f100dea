package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"settlement-service/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubDeliversWalletUpdates(t *testing.T) {
	hub := NewHub(zap.NewNop())
	upgrader := websocket.Upgrader{}
	registered := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register("acct_1", conn)
		close(registered)
		defer hub.Unregister("acct_1", conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case <-registered:
	case <-time.After(time.Second):
		t.Fatal("subscriber not registered")
	}
	assert.Equal(t, 1, hub.Subscribers("acct_1"))

	hub.NotifyBalance(context.Background(), &domain.WalletStats{AccountID: "acct_1", Balance: 95_000, Available: 95_000})
	// other accounts are not delivered to this connection
	hub.NotifyBalance(context.Background(), &domain.WalletStats{AccountID: "acct_2", Balance: 1})

	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string             `json:"type"`
		Data domain.WalletStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MessageWalletUpdate, msg.Type)
	assert.Equal(t, "acct_1", msg.Data.AccountID)
	assert.Equal(t, int64(95_000), msg.Data.Balance)
}

func TestHubSendWithoutSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.Send("nobody", WSMessage{Type: MessageWalletUpdate})
	assert.Zero(t, hub.Subscribers("nobody"))
}
