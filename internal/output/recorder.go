package output

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/chrisdamba/foodcart/internal/models"
)

// Recorder archives placed orders and accepted status changes to a
// destination.
type Recorder struct {
	dest   OutputDestination
	logger *zap.Logger
}

func NewRecorder(dest OutputDestination, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{dest: dest, logger: logger.Named("archive")}
}

func (r *Recorder) RecordReceipt(_ context.Context, snapshot models.OrderSnapshot) error {
	return r.write(models.TopicOrderReceipts, NewReceiptRecord(snapshot))
}

func (r *Recorder) RecordStatusChange(_ context.Context, change models.StatusChange) error {
	return r.write(models.TopicOrderStatusChanges, NewStatusChangeRecord(change))
}

func (r *Recorder) write(topic string, record interface{}) error {
	msg, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", topic, err)
	}
	if err := r.dest.WriteMessage(topic, msg); err != nil {
		return fmt.Errorf("failed to archive %s record: %w", topic, err)
	}
	r.logger.Debug("archived record", zap.String("topic", topic))
	return nil
}

func (r *Recorder) Close() error {
	return r.dest.Close()
}
