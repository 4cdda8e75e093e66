package stubserver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chrisdamba/foodcart/internal/models"
)

// schedule queues the step after status when the simulation is enabled.
func (s *Server) schedule(orderID string, status models.OrderStatus, from time.Time) {
	if s.opts.StepInterval <= 0 {
		return
	}
	next, ok := status.Next()
	if !ok {
		return
	}
	s.queue.Enqueue(&transition{At: from.Add(s.opts.StepInterval), OrderID: orderID, Status: next})
}

// RunKitchen applies due transitions until ctx is cancelled. Orders that
// were cancelled or moved by hand in the meantime are skipped.
func (s *Server) RunKitchen(ctx context.Context) error {
	if s.opts.StepInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	tick := s.opts.StepInterval / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, t := range s.queue.DequeueDue(s.opts.Now()) {
				_, err := s.Advance(ctx, t.OrderID, t.Status)
				if err != nil && !errors.Is(err, ErrInvalidTransition) {
					s.logger.Warn("kitchen step failed", zap.String("order_id", t.OrderID), zap.Error(err))
				}
			}
		}
	}
}

// Pending is the number of queued kitchen steps.
func (s *Server) Pending() int {
	return s.queue.Len()
}
