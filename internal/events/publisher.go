package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Monthlyaway/linktrack/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ClickMessage is the published form of one recorded click
type ClickMessage struct {
	ShortCode string    `json:"short_code"`
	ClickID   int64     `json:"click_id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Location  string    `json:"location"`
	Referrer  string    `json:"referrer"`
	Device    string    `json:"device"`
}

// NewClickMessage builds the message for ev recorded on shortCode
func NewClickMessage(shortCode string, ev model.ClickEvent) ClickMessage {
	return ClickMessage{
		ShortCode: shortCode,
		ClickID:   ev.ID,
		Timestamp: ev.Timestamp.UTC(),
		Source:    string(ev.Source),
		Location:  ev.Location,
		Referrer:  ev.Referrer,
		Device:    ev.Device,
	}
}

// Publisher hands click messages to a stream. Publish must not block on delivery.
type Publisher interface {
	Publish(ctx context.Context, msg ClickMessage) error
	Close() error
}

// KafkaPublisher writes click messages to a kafka topic asynchronously.
// Messages are keyed by short code so one code's clicks stay ordered.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher creates a publisher for topic on brokers.
// onResult, if set, is called once per delivered batch with the outcome.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger, onResult func(n int, err error)) *KafkaPublisher {
	logger = logger.Named("events")
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("failed to deliver click events",
					zap.Int("count", len(messages)),
					zap.Error(err),
				)
			}
			if onResult != nil {
				onResult(len(messages), err)
			}
		},
	}

	logger.Info("kafka publisher configured",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic),
	)
	return &KafkaPublisher{writer: writer, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg ClickMessage) error {
	m, err := encode(msg)
	if err != nil {
		return err
	}
	// with Async set this only enqueues; delivery errors go to Completion
	if err := p.writer.WriteMessages(ctx, m); err != nil {
		return fmt.Errorf("failed to enqueue click event: %w", err)
	}
	return nil
}

// Close flushes pending messages
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encode(msg ClickMessage) (kafka.Message, error) {
	value, err := json.Marshal(msg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode click event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(msg.ShortCode),
		Value: value,
		Time:  msg.Timestamp,
	}, nil
}

// NopPublisher discards every message
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ClickMessage) error { return nil }

func (NopPublisher) Close() error { return nil }
