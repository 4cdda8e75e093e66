package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/chrisdamba/foodcart/internal/models"
)

type KafkaOptions struct {
	Brokers          string
	ClientID         string
	JoinTopic        string
	StatusTopic      string
	SecurityProtocol string
	SaslMechanism    string
	SaslUsername     string
	SaslPassword     string
	SessionTimeoutMs int
}

func (o KafkaOptions) brokerList() []string {
	return strings.Split(o.Brokers, ",")
}

// NewSaramaConfig returns the producer settings shared by the transport and
// the publisher.
func NewSaramaConfig(opts KafkaOptions) *sarama.Config {
	cfg := sarama.NewConfig()
	if opts.ClientID != "" {
		cfg.ClientID = opts.ClientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 100 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Net.DialTimeout = 30 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	if opts.SessionTimeoutMs > 0 {
		cfg.Consumer.Group.Session.Timeout = time.Duration(opts.SessionTimeoutMs) * time.Millisecond
	}
	if opts.SaslUsername != "" {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.User = opts.SaslUsername
		cfg.Net.SASL.Password = opts.SaslPassword
		cfg.Net.SASL.Mechanism = sarama.SASLMechanism(strings.ToUpper(opts.SaslMechanism))
		if cfg.Net.SASL.Mechanism == "" {
			cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
		cfg.Net.TLS.Enable = strings.HasPrefix(strings.ToUpper(opts.SecurityProtocol), "SASL_SSL")
	}
	return cfg
}

// SaramaTransport speaks the push protocol over Kafka. Join and leave
// requests go to the join topic keyed by order id; status events are read
// from every partition of the status topic.
type SaramaTransport struct {
	opts   KafkaOptions
	logger *zap.Logger

	newProducer func() (sarama.SyncProducer, error)
	newConsumer func() (sarama.Consumer, error)

	mu       sync.Mutex
	producer sarama.SyncProducer
	consumer sarama.Consumer
}

func NewSaramaTransport(opts KafkaOptions, logger *zap.Logger) *SaramaTransport {
	cfg := NewSaramaConfig(opts)
	return newSaramaTransport(opts, logger,
		func() (sarama.SyncProducer, error) { return sarama.NewSyncProducer(opts.brokerList(), cfg) },
		func() (sarama.Consumer, error) { return sarama.NewConsumer(opts.brokerList(), cfg) },
	)
}

func newSaramaTransport(opts KafkaOptions, logger *zap.Logger, p func() (sarama.SyncProducer, error), c func() (sarama.Consumer, error)) *SaramaTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaramaTransport{
		opts:        opts,
		logger:      logger.Named("sarama"),
		newProducer: p,
		newConsumer: c,
	}
}

func (t *SaramaTransport) Connect(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()

	producer, err := t.newProducer()
	if err != nil {
		return fmt.Errorf("failed to create sarama producer: %w", err)
	}
	consumer, err := t.newConsumer()
	if err != nil {
		producer.Close()
		return fmt.Errorf("failed to create sarama consumer: %w", err)
	}
	t.producer, t.consumer = producer, consumer
	t.logger.Info("connected to kafka", zap.Strings("brokers", t.opts.brokerList()))
	return nil
}

func (t *SaramaTransport) send(msgType, orderID string) error {
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
	_, _, err = producer.SendMessage(&sarama.ProducerMessage{
		Topic: t.opts.JoinTopic,
		Key:   sarama.StringEncoder(orderID),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		return fmt.Errorf("failed to send %s for %s: %w", msgType, orderID, err)
	}
	return nil
}

func (t *SaramaTransport) Join(_ context.Context, orderID string) error {
	return t.send(models.JoinTypeJoin, orderID)
}

func (t *SaramaTransport) Leave(_ context.Context, orderID string) error {
	return t.send(models.JoinTypeLeave, orderID)
}

func (t *SaramaTransport) Run(ctx context.Context, handler Handler) error {
	t.mu.Lock()
	consumer := t.consumer
	t.mu.Unlock()
	if consumer == nil {
		return ErrNotConnected
	}

	partitions, err := consumer.Partitions(t.opts.StatusTopic)
	if err != nil {
		return fmt.Errorf("failed to list partitions of %s: %w", t.opts.StatusTopic, err)
	}

	// Forwarders stop with runCtx, so none outlives this call when a
	// partition fails while ctx is still live.
	runCtx, cancel := context.WithCancel(ctx)
	messages := make(chan *sarama.ConsumerMessage)
	failures := make(chan error, len(partitions))
	var (
		pcs []sarama.PartitionConsumer
		wg  sync.WaitGroup
	)
	defer func() {
		cancel()
		wg.Wait()
		for _, pc := range pcs {
			pc.AsyncClose()
		}
	}()

	for _, p := range partitions {
		pc, err := consumer.ConsumePartition(t.opts.StatusTopic, p, sarama.OffsetNewest)
		if err != nil {
			return fmt.Errorf("failed to consume partition %d: %w", p, err)
		}
		pcs = append(pcs, pc)
		wg.Add(1)
		go func(pc sarama.PartitionConsumer) {
			defer wg.Done()
			for {
				select {
				case msg, ok := <-pc.Messages():
					if !ok {
						return
					}
					select {
					case messages <- msg:
					case <-runCtx.Done():
						return
					}
				case cerr, ok := <-pc.Errors():
					if !ok {
						return
					}
					select {
					case failures <- cerr:
					default:
					}
					return
				case <-runCtx.Done():
					return
				}
			}
		}(pc)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cerr := <-failures:
			return errors.Join(ErrDisconnected, cerr)
		case msg := <-messages:
			var ev models.StatusEvent
			if err := json.Unmarshal(msg.Value, &ev); err != nil {
				t.logger.Warn("skipping malformed status event", zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
				continue
			}
			handler(ev)
		}
	}
}

func (t *SaramaTransport) closeLocked() {
	if t.consumer != nil {
		if err := t.consumer.Close(); err != nil {
			t.logger.Warn("failed to close consumer", zap.Error(err))
		}
		t.consumer = nil
	}
	if t.producer != nil {
		if err := t.producer.Close(); err != nil {
			t.logger.Warn("failed to close producer", zap.Error(err))
		}
		t.producer = nil
	}
}

func (t *SaramaTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}

// SaramaPublisher writes status events to the status topic, keyed by order
// id so one order stays on one partition.
type SaramaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaPublisher(opts KafkaOptions) (*SaramaPublisher, error) {
	producer, err := sarama.NewSyncProducer(opts.brokerList(), NewSaramaConfig(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to create Sarama producer: %w", err)
	}
	return NewSaramaPublisherFromProducer(producer, opts.StatusTopic), nil
}

func NewSaramaPublisherFromProducer(producer sarama.SyncProducer, topic string) *SaramaPublisher {
	return &SaramaPublisher{producer: producer, topic: topic}
}

func (p *SaramaPublisher) Publish(_ context.Context, ev models.StatusEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.OrderID),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}
