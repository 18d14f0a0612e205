package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"opsplane/internal/operation"
	"opsplane/internal/store"

	"github.com/segmentio/kafka-go"
)

const defaultWriteTimeout = 5 * time.Second

// messageWriter is the part of *kafka.Writer the strategy uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer that keys messages by device, so one
// device's notifications stay ordered on one partition.
func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka writer requires brokers and a topic")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}, nil
}

// KafkaStrategy delivers operations as messages on a Kafka topic.
type KafkaStrategy struct {
	writer  messageWriter
	config  operation.StrategyConfig
	timeout time.Duration
	now     func() time.Time
}

func NewKafkaStrategy(w messageWriter, cfg operation.StrategyConfig) *KafkaStrategy {
	return &KafkaStrategy{writer: w, config: cfg, timeout: defaultWriteTimeout, now: time.Now}
}

// Deliver writes one message for device. Slow brokers are cut off after
// the write timeout.
func (s *KafkaStrategy) Deliver(ctx context.Context, device store.DeviceIdentifier, op *store.Operation) error {
	value, err := json.Marshal(newMessage(device, op, s.now()))
	if err != nil {
		return fmt.Errorf("%w: failed to encode message: %w", operation.ErrDeliveryFailed, err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(device.String()),
		Value: value,
		Time:  s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: kafka write for %s: %w", operation.ErrDeliveryFailed, device.String(), err)
	}
	return nil
}

func (s *KafkaStrategy) Config() operation.StrategyConfig {
	return s.config
}
