package cart

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chrisdamba/foodcart/internal/models"
)

// step is one remote action of checkout with its compensating action.
type step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// runSteps executes steps in order. When one fails, the steps that already
// succeeded are compensated in reverse order and the failure is returned.
func runSteps(ctx context.Context, steps []step, logger *zap.Logger) error {
	var done []step
	for _, st := range steps {
		logger.Debug("executing checkout step", zap.String("step", st.Name()))
		if err := st.Execute(ctx); err != nil {
			logger.Warn("checkout step failed, rolling back", zap.String("step", st.Name()), zap.Error(err))
			for i := len(done) - 1; i >= 0; i-- {
				if cerr := done[i].Compensate(context.WithoutCancel(ctx)); cerr != nil {
					logger.Error("failed to compensate checkout step", zap.String("step", done[i].Name()), zap.Error(cerr))
				}
			}
			return err
		}
		done = append(done, st)
	}
	return nil
}

type paymentStep struct {
	gateway PaymentGateway
	request models.PaymentRequest
	result  models.PaymentResult
}

func (s *paymentStep) Name() string { return "payment" }

func (s *paymentStep) Execute(ctx context.Context) error {
	res, err := s.gateway.Charge(ctx, s.request)
	if err != nil {
		return fmt.Errorf("payment failed: %w", err)
	}
	if res.Status != models.PaymentResultSucceeded {
		msg := res.Message
		if msg == "" {
			msg = "Payment was not approved."
		}
		return &PaymentDeclinedError{Method: s.request.Method, Message: msg}
	}
	s.result = res
	return nil
}

func (s *paymentStep) Compensate(ctx context.Context) error {
	if s.result.TransactionID == "" {
		return nil
	}
	return s.gateway.Refund(ctx, s.result.TransactionID)
}

type createOrderStep struct {
	creator OrderCreator
	request models.CreateOrderRequest
	// payment is consulted at execution time so the order carries the
	// transaction id of a preceding charge.
	payment *paymentStep
	created models.CreatedOrder
}

func (s *createOrderStep) Name() string { return "create_order" }

func (s *createOrderStep) Execute(ctx context.Context) error {
	req := s.request
	if s.payment != nil {
		req.PaymentStatus = models.PaymentStatusPaid
		req.TransactionID = s.payment.result.TransactionID
	}
	created, err := s.creator.CreateOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("order creation failed: %w", err)
	}
	s.created = created
	return nil
}

// Compensate is a no-op: this is the last step, so nothing after it can
// fail and trigger a rollback.
func (s *createOrderStep) Compensate(context.Context) error { return nil }
