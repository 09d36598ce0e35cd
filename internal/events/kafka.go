// Package events carries NotificationEvents between the tracker and the
// notifier over Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mkarlsen/shipwatch/internal/domain"
)

// Producer publishes events keyed by transport so per-vessel ordering is
// preserved across partitions.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		Async:                  true,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: w}
}

func (p *Producer) Emit(ctx context.Context, ev domain.NotificationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.TransportID),
		Value: data,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// OnBatch receives decoded events, at most batchSize at a time.
type OnBatch func([]domain.NotificationEvent)

// Consumer reads the notification topic and hands events to onBatch in
// batches, flushing on size or timeout.
type Consumer struct {
	reader       *kafka.Reader
	onBatch      OnBatch
	batchSize    int
	batchTimeout time.Duration
	mu           sync.Mutex
	batch        []domain.NotificationEvent
	timer        *time.Timer
}

func NewConsumer(brokers []string, topic, groupID string, batchSize int, batchTimeout time.Duration, onBatch OnBatch) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})
	return &Consumer{
		reader:       reader,
		onBatch:      onBatch,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		batch:        make([]domain.NotificationEvent, 0, batchSize),
	}
}

func (c *Consumer) Run(ctx context.Context) {
	slog.Info("starting Kafka consumer",
		"brokers", c.reader.Config().Brokers,
		"topic", c.reader.Config().Topic,
		"group_id", c.reader.Config().GroupID,
	)
	c.timer = time.NewTimer(c.batchTimeout)
	defer c.timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flush()
			return
		case <-c.timer.C:
			c.flush()
			c.timer.Reset(c.batchTimeout)
		default:
			readCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
			msg, err := c.reader.FetchMessage(readCtx)
			cancel()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				slog.Error("fetch message failed", "error", err)
				if ctx.Err() != nil {
					return
				}
				continue
			}

			var ev domain.NotificationEvent
			if err := json.Unmarshal(msg.Value, &ev); err != nil {
				slog.Warn("invalid message", "error", err, "offset", msg.Offset)
				c.reader.CommitMessages(ctx, msg)
				continue
			}

			c.mu.Lock()
			c.batch = append(c.batch, ev)
			shouldFlush := len(c.batch) >= c.batchSize
			c.mu.Unlock()

			if shouldFlush {
				c.flush()
				c.timer.Reset(c.batchTimeout)
			}

			c.reader.CommitMessages(ctx, msg)
		}
	}
}

func (c *Consumer) flush() {
	c.mu.Lock()
	if len(c.batch) == 0 {
		c.mu.Unlock()
		return
	}
	toFlush := c.batch
	c.batch = make([]domain.NotificationEvent, 0, c.batchSize)
	c.mu.Unlock()

	c.onBatch(toFlush)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
