package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/trustcore/internal/model"
	"github.com/mmeshcher/trustcore/internal/money"
	"github.com/mmeshcher/trustcore/internal/processor"
	"github.com/mmeshcher/trustcore/internal/repository"
)

// RefundRequest описывает запрос на возврат. Amount == nil означает полный возврат.
type RefundRequest struct {
	IntentID string
	Amount   *decimal.Decimal
	Reason   string
}

// RefundResult описывает возврат, принятый процессором.
type RefundResult struct {
	RefundID string
	Status   string
	Amount   decimal.Decimal
	Currency string
	OrderID  string
}

// CreateRefund создаёт возврат по оплаченному заказу.
func (e *Engine) CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		return nil, fmt.Errorf("%w: paymentIntentId is required", ErrInvalidRequest)
	}

	reason, err := e.refundReason(req.Reason)
	if err != nil {
		return nil, err
	}

	intent, err := e.retrieveIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	orderID := intent.OrderID()
	if orderID == "" {
		return nil, fmt.Errorf("%w: intent %s is not linked to an order", ErrNotRefundable, intentID)
	}

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: order %s is not tracked", ErrNotRefundable, orderID)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if o.PaymentStatus != model.PaymentStatusPaid {
		return nil, fmt.Errorf("%w: order %s is %s", ErrNotRefundable, orderID, o.PaymentStatus)
	}
	if intent.Status != processor.IntentStatusSucceeded {
		return nil, fmt.Errorf("%w: intent %s is %s", ErrNotRefundable, intentID, intent.Status)
	}

	var minor int64
	if req.Amount != nil {
		minor, err = money.ToMinor(*req.Amount, intent.Currency)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		if minor <= 0 || minor > intent.Amount {
			return nil, fmt.Errorf("%w: refund amount must be positive and not exceed the payment", ErrInvalidRequest)
		}
	}

	refund, err := e.processor.CreateRefund(ctx, processor.CreateRefundParams{
		PaymentIntent: intentID,
		Amount:        minor,
		Reason:        string(reason),
	})
	if err != nil {
		e.metrics.Refund(string(reason), "error")
		return nil, fmt.Errorf("create refund: %w", err)
	}
	e.metrics.Refund(string(reason), refund.Status)

	record := model.Refund{
		ID:              refund.ID,
		PaymentIntentID: intentID,
		OrderID:         orderID,
		AmountMinor:     refund.Amount,
		Currency:        refund.Currency,
		Reason:          reason,
		Status:          refund.Status,
	}
	if err := e.store.RecordRefund(ctx, record); err != nil {
		e.logger.Error("refund created but not recorded",
			zap.String("refund_id", refund.ID),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}

	amount, err := money.FromMinor(refund.Amount, refund.Currency)
	if err != nil {
		return nil, fmt.Errorf("refund %s: %w", refund.ID, err)
	}

	e.logger.Info("refund created",
		zap.String("refund_id", refund.ID),
		zap.String("order_id", orderID),
		zap.String("status", refund.Status),
		zap.String("reason", string(reason)),
	)

	return &RefundResult{
		RefundID: refund.ID,
		Status:   refund.Status,
		Amount:   amount,
		Currency: refund.Currency,
		OrderID:  orderID,
	}, nil
}

// ListRefunds возвращает возвраты по заказу.
func (e *Engine) ListRefunds(ctx context.Context, orderID string) ([]model.Refund, error) {
	return e.store.ListRefunds(ctx, strings.TrimSpace(orderID))
}

func (e *Engine) refundReason(raw string) (model.RefundReason, error) {
	reason := model.RefundReason(strings.TrimSpace(raw))
	if reason.Valid() {
		return reason, nil
	}
	if e.cfg.StrictRefundReasons {
		return "", fmt.Errorf("%w: unknown refund reason %q", ErrInvalidRequest, raw)
	}
	e.logger.Warn("unknown refund reason coerced", zap.String("reason", raw))
	return model.RefundReasonFraudulent, nil
}
