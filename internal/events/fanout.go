// internal/events/fanout.go
package events

import (
	"context"
	"encoding/json"

	"settlement-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const WalletEventsChannel = "settlement:wallet_events"

// RedisFanout publishes balance changes on a redis channel and delivers what it
// receives to the local hub, so subscribers connected to any instance are notified.
type RedisFanout struct {
	rdb    *redis.Client
	hub    *Hub
	logger *zap.Logger
}

func NewRedisFanout(rdb *redis.Client, hub *Hub, logger *zap.Logger) *RedisFanout {
	return &RedisFanout{rdb: rdb, hub: hub, logger: logger.Named("fanout")}
}

func (f *RedisFanout) NotifyBalance(ctx context.Context, stats *domain.WalletStats) {
	payload, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := f.rdb.Publish(ctx, WalletEventsChannel, payload).Err(); err != nil {
		f.logger.Warn("publish wallet event failed, delivering locally",
			zap.String("account_id", stats.AccountID), zap.Error(err))
		f.hub.NotifyBalance(ctx, stats)
	}
}

// Run forwards channel messages to the hub until ctx is cancelled.
func (f *RedisFanout) Run(ctx context.Context) error {
	sub := f.rdb.Subscribe(ctx, WalletEventsChannel)
	defer sub.Close()

	f.logger.Info("subscribed to wallet events", zap.String("channel", WalletEventsChannel))
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var stats domain.WalletStats
			if err := json.Unmarshal([]byte(msg.Payload), &stats); err != nil {
				f.logger.Warn("bad wallet event", zap.Error(err))
				continue
			}
			f.hub.NotifyBalance(ctx, &stats)
		}
	}
}
