package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/chrisdamba/foodcart/internal/push"
)

const confluentFlushTimeoutMs = 1000

// orderKey keys archive messages by order so one order stays on one
// partition.
func orderKey(msg []byte) string {
	var probe struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(msg, &probe); err != nil {
		return ""
	}
	return probe.OrderID
}

type KafkaOutput struct {
	producer sarama.SyncProducer
}

func NewKafkaOutput(opts push.KafkaOptions) (*KafkaOutput, error) {
	brokers := strings.Split(opts.Brokers, ",")
	producer, err := sarama.NewSyncProducer(brokers, push.NewSaramaConfig(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to create Sarama producer: %w", err)
	}
	return &KafkaOutput{producer: producer}, nil
}

func NewKafkaOutputFromProducer(producer sarama.SyncProducer) *KafkaOutput {
	return &KafkaOutput{producer: producer}
}

func (k *KafkaOutput) WriteMessage(topic string, msg []byte) error {
	if k.producer == nil {
		return errors.New("kafka producer is closed")
	}
	pm := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(msg),
	}
	if key := orderKey(msg); key != "" {
		pm.Key = sarama.StringEncoder(key)
	}
	_, _, err := k.producer.SendMessage(pm)
	return err
}

func (k *KafkaOutput) Close() error {
	if k.producer == nil {
		return nil
	}
	err := k.producer.Close()
	k.producer = nil
	return err
}

// ConfluentOutput produces to Confluent Cloud. Delivery reports are logged
// from a background goroutine.
type ConfluentOutput struct {
	producer *kafka.Producer
	logger   *zap.Logger
}

func NewConfluentOutput(opts push.KafkaOptions, logger *zap.Logger) (*ConfluentOutput, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, _ := push.ConfluentConfigMap(opts)
	producer, err := kafka.NewProducer(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Confluent Kafka producer: %w", err)
	}

	c := &ConfluentOutput{producer: producer, logger: logger.Named("confluent")}
	go c.deliveryReports()
	return c, nil
}

func (c *ConfluentOutput) deliveryReports() {
	for e := range c.producer.Events() {
		if m, ok := e.(*kafka.Message); ok {
			if m.TopicPartition.Error != nil {
				c.logger.Warn("failed to deliver archive message", zap.String("partition", m.TopicPartition.String()), zap.Error(m.TopicPartition.Error))
			} else {
				c.logger.Debug("archive message delivered", zap.String("partition", m.TopicPartition.String()))
			}
		}
	}
}

func (c *ConfluentOutput) WriteMessage(topic string, msg []byte) error {
	km := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          msg,
	}
	if key := orderKey(msg); key != "" {
		km.Key = []byte(key)
	}
	if err := c.producer.Produce(km, nil); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", topic, err)
	}
	c.producer.Flush(confluentFlushTimeoutMs)
	return nil
}

func (c *ConfluentOutput) Close() error {
	c.producer.Flush(confluentFlushTimeoutMs)
	c.producer.Close()
	return nil
}
