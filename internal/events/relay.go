// internal/events/relay.go
package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"settlement-service/config"
	"settlement-service/internal/domain"
	"settlement-service/internal/metrics"
	"settlement-service/internal/repository"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const HeaderEventType = "event_type"

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter returns a synchronous writer; the relay marks rows published only after the broker acks.
func NewKafkaWriter(cfg config.KafkaConfig, logger *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: cfg.BatchTimeout,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
}

// LogWriter stands in for Kafka when it is disabled so the outbox still drains.
type LogWriter struct {
	Logger *zap.Logger
}

func (w LogWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		w.Logger.Debug("outbox event",
			zap.String("key", string(m.Key)),
			zap.String("event_type", headerValue(m, HeaderEventType)),
			zap.ByteString("payload", m.Value),
		)
	}
	return nil
}

// Relay drains outbox_events to the broker. Delivery is at-least-once.
type Relay struct {
	store    repository.Store
	writer   MessageWriter
	batch    int
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewRelay(store repository.Store, writer MessageWriter, cfg config.WorkersConfig, logger *zap.Logger) *Relay {
	batch := cfg.OutboxBatch
	if batch <= 0 {
		batch = 100
	}
	interval := cfg.OutboxInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Relay{
		store:    store,
		writer:   writer,
		batch:    batch,
		interval: interval,
		logger:   logger.Named("outbox"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run drains on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay started", zap.Duration("interval", r.interval), zap.Int("batch", r.batch))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
			for {
				n, err := r.RunOnce(ctx)
				if err != nil {
					r.logger.Warn("outbox drain failed", zap.Error(err))
					break
				}
				if n < r.batch {
					break
				}
			}
		}
	}
}

// RunOnce publishes one batch and returns how many rows were marked published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.store.InTx(ctx, func(repo repository.Repository) error {
		rows, err := repo.ClaimOutbox(ctx, r.batch)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(rows))
		msgs := make([]kafka.Message, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
			msgs = append(msgs, toKafkaMessage(row))
		}

		if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
			r.logger.Warn("publish outbox batch failed", zap.Int("count", len(rows)), zap.Error(err))
			metrics.OutboxPublished.WithLabelValues("error").Add(float64(len(rows)))
			// commit the attempt counter; rows stay unpublished for the next tick
			return repo.MarkOutboxFailed(ctx, ids)
		}
		if err := repo.MarkOutboxPublished(ctx, ids, r.now()); err != nil {
			return err
		}
		published = len(rows)
		metrics.OutboxPublished.WithLabelValues("ok").Add(float64(len(rows)))
		return nil
	})
	return published, err
}

func toKafkaMessage(row domain.OutboxMessage) kafka.Message {
	return kafka.Message{
		Key:   []byte(row.Key),
		Value: row.Payload,
		Time:  row.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(row.Topic)},
			{Key: "outbox_id", Value: []byte(strconv.FormatInt(row.ID, 10))},
		},
	}
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
