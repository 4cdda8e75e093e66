package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/chrisdamba/foodcart/internal/models"
)

const confluentPollTimeout = 500 * time.Millisecond

// ConfluentConfigMap builds the librdkafka settings for Confluent Cloud.
// The consumer group is per client so every client sees every event.
func ConfluentConfigMap(opts KafkaOptions) (producer, consumer kafka.ConfigMap) {
	base := kafka.ConfigMap{
		"bootstrap.servers":       opts.Brokers,
		"client.id":               opts.ClientID,
		"socket.keepalive.enable": true,
	}
	if opts.SecurityProtocol != "" {
		base["security.protocol"] = opts.SecurityProtocol
	}
	if opts.SaslMechanism != "" {
		base["sasl.mechanisms"] = opts.SaslMechanism
		base["sasl.username"] = opts.SaslUsername
		base["sasl.password"] = opts.SaslPassword
	}

	producer = kafka.ConfigMap{
		"linger.ms":          10,
		"message.timeout.ms": 30000,
		"enable.idempotence": true,
		"acks":               "all",
		"retry.backoff.ms":   100,
	}
	consumer = kafka.ConfigMap{
		"group.id":           "foodcart-" + opts.ClientID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	}
	if opts.SessionTimeoutMs > 0 {
		consumer["session.timeout.ms"] = opts.SessionTimeoutMs
	}
	for k, v := range base {
		producer[k] = v
		consumer[k] = v
	}
	return producer, consumer
}

type ConfluentTransport struct {
	opts   KafkaOptions
	logger *zap.Logger

	mu       sync.Mutex
	producer *kafka.Producer
	consumer *kafka.Consumer
}

func NewConfluentTransport(opts KafkaOptions, logger *zap.Logger) *ConfluentTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfluentTransport{opts: opts, logger: logger.Named("confluent")}
}

func (t *ConfluentTransport) Connect(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()

	pcfg, ccfg := ConfluentConfigMap(t.opts)
	producer, err := kafka.NewProducer(&pcfg)
	if err != nil {
		return fmt.Errorf("failed to create Confluent Kafka producer: %w", err)
	}
	consumer, err := kafka.NewConsumer(&ccfg)
	if err != nil {
		producer.Close()
		return fmt.Errorf("failed to create Confluent Kafka consumer: %w", err)
	}
	if err := consumer.SubscribeTopics([]string{t.opts.StatusTopic}, nil); err != nil {
		producer.Close()
		consumer.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", t.opts.StatusTopic, err)
	}
	t.producer, t.consumer = producer, consumer
	return nil
}

func (t *ConfluentTransport) send(ctx context.Context, msgType, orderID string) error {
	t.mu.Lock()
	producer := t.producer
	t.mu.Unlock()
	if producer == nil {
		return ErrNotConnected
	}

	value, err := json.Marshal(models.JoinMessage{Type: msgType, OrderID: orderID, ClientID: t.opts.ClientID})
	if err != nil {
		return err
	}
	topic := t.opts.JoinTopic
	delivery := make(chan kafka.Event, 1)
	err = producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(orderID),
		Value:          value,
	}, delivery)
	if err != nil {
		return fmt.Errorf("failed to produce %s for %s: %w", msgType, orderID, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-delivery:
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery of %s for %s failed: %w", msgType, orderID, m.TopicPartition.Error)
		}
		return nil
	}
}

func (t *ConfluentTransport) Join(ctx context.Context, orderID string) error {
	return t.send(ctx, models.JoinTypeJoin, orderID)
}

func (t *ConfluentTransport) Leave(ctx context.Context, orderID string) error {
	return t.send(ctx, models.JoinTypeLeave, orderID)
}

func (t *ConfluentTransport) Run(ctx context.Context, handler Handler) error {
	t.mu.Lock()
	consumer := t.consumer
	t.mu.Unlock()
	if consumer == nil {
		return ErrNotConnected
	}

	for ctx.Err() == nil {
		msg, err := consumer.ReadMessage(confluentPollTimeout)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) {
				if kerr.Code() == kafka.ErrTimedOut {
					continue
				}
				if kerr.IsFatal() {
					return errors.Join(ErrDisconnected, kerr)
				}
			}
			t.logger.Warn("consumer error", zap.Error(err))
			continue
		}

		var ev models.StatusEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			t.logger.Warn("skipping malformed status event", zap.String("partition", msg.TopicPartition.String()), zap.Error(err))
			continue
		}
		handler(ev)
	}
	return ctx.Err()
}

func (t *ConfluentTransport) closeLocked() {
	if t.consumer != nil {
		if err := t.consumer.Close(); err != nil {
			t.logger.Warn("failed to close consumer", zap.Error(err))
		}
		t.consumer = nil
	}
	if t.producer != nil {
		t.producer.Flush(1000)
		t.producer.Close()
		t.producer = nil
	}
}

func (t *ConfluentTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}
