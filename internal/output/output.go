package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chrisdamba/foodcart/internal/models"
	"github.com/chrisdamba/foodcart/internal/push"
)

// OutputDestination receives archive records as JSON, one topic per record
// type.
type OutputDestination interface {
	WriteMessage(topic string, msg []byte) error
	Close() error
}

// Open picks the destination named by cfg.OutputFormat. It returns nil for
// "none".
func Open(cfg *models.Config, logger *zap.Logger) (OutputDestination, error) {
	switch cfg.OutputFormat {
	case "", "none":
		return nil, nil
	case "console":
		return NewConsoleOutput(os.Stdout), nil
	case "json":
		return NewJSONOutput(cfg.OutputPath, cfg.OutputFolder), nil
	case "csv":
		return NewCSVOutput(cfg.OutputPath, cfg.OutputFolder), nil
	case "parquet":
		return NewParquetOutput(cfg, logger)
	case "kafka":
		return NewKafkaOutput(kafkaOptions(cfg))
	case "confluent":
		return NewConfluentOutput(kafkaOptions(cfg), logger)
	case "postgres":
		return NewPostgresOutput(cfg.PostgresDSN)
	}
	return nil, fmt.Errorf("unsupported output format: %s", cfg.OutputFormat)
}

func kafkaOptions(cfg *models.Config) push.KafkaOptions {
	return push.KafkaOptions{
		Brokers:          cfg.KafkaBrokerList,
		ClientID:         "foodcart-archive-" + cfg.Profile,
		SecurityProtocol: cfg.KafkaSecurityProtocol,
		SaslMechanism:    cfg.KafkaSaslMechanism,
		SaslUsername:     cfg.KafkaSaslUsername,
		SaslPassword:     cfg.KafkaSaslPassword,
		SessionTimeoutMs: cfg.SessionTimeoutMs,
	}
}

// partitionPath is the hive-style directory of an event time.
func partitionPath(t time.Time) string {
	t = t.UTC()
	year, month, day := t.Date()
	return fmt.Sprintf("year=%d/month=%02d/day=%02d/hour=%02d", year, month, day, t.Hour())
}

// decodeEvent parses msg and returns it with its "timestamp" field, which
// every record carries as unix seconds.
func decodeEvent(msg []byte) (map[string]interface{}, time.Time, error) {
	var event map[string]interface{}
	if err := json.Unmarshal(msg, &event); err != nil {
		return nil, time.Time{}, err
	}
	timestamp, ok := event["timestamp"].(float64)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("invalid timestamp")
	}
	return event, time.Unix(int64(timestamp), 0), nil
}

type ConsoleOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleOutput(w io.Writer) *ConsoleOutput {
	return &ConsoleOutput{w: w}
}

func (c *ConsoleOutput) WriteMessage(topic string, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "[%s] %s\n", topic, msg); err != nil {
		return fmt.Errorf("failed to write to console: %w", err)
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }

// dataFile returns the path of a data file in a topic partition, creating
// its directory.
func dataFile(basePath, folder, topic, partition, name string) (key, path string, err error) {
	dir := filepath.Join(basePath, folder, topic, partition)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	return topic + "_" + partition, filepath.Join(dir, name), nil
}
