package payment

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/trustcore/internal/metrics"
	"github.com/mmeshcher/trustcore/internal/model"
	"github.com/mmeshcher/trustcore/internal/money"
	"github.com/mmeshcher/trustcore/internal/notify"
	"github.com/mmeshcher/trustcore/internal/processor"
	"github.com/mmeshcher/trustcore/internal/repository"
)

// HandleWebhookEvent проверяет подпись уведомления и применяет его к проекции заказа.
// Ошибка processor.ErrInvalidSignature означает, что тело не дошло до разбора.
// Повторная доставка того же события не меняет проекцию и не рассылает уведомления.
func (e *Engine) HandleWebhookEvent(ctx context.Context, rawBody []byte, signatureHeader string) error {
	ev, err := e.verifier.VerifyWebhookSignature(rawBody, signatureHeader)
	if err != nil {
		if errors.Is(err, processor.ErrInvalidSignature) {
			e.logger.Debug("webhook signature rejected", zap.Error(err), zap.Int("body_size", len(rawBody)))
			e.metrics.Webhook("", metrics.OutcomeInvalidSignature)
			return err
		}
		e.logger.Warn("signed webhook could not be parsed", zap.Error(err))
		e.metrics.Webhook("", metrics.OutcomeError)
		return err
	}

	log := e.logger.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))

	outcome, err := e.dispatch(ctx, ev, log)
	if err != nil {
		log.Error("webhook event failed", zap.Error(err))
		e.metrics.Webhook(ev.Type, metrics.OutcomeError)
		return err
	}
	e.metrics.Webhook(ev.Type, outcome)
	return nil
}

func (e *Engine) dispatch(ctx context.Context, ev *processor.Event, log *zap.Logger) (string, error) {
	switch ev.Kind {
	case processor.EventPaymentSucceeded:
		intent, err := ev.Intent()
		if err != nil {
			return "", fmt.Errorf("decode intent: %w", err)
		}
		current, err := e.supersededBy(ctx, intent)
		if err != nil {
			return "", err
		}
		if current != "" {
			// Деньги по старому намерению списаны: заказ всё равно считается оплаченным.
			log.Warn("payment succeeded for superseded intent",
				zap.String("order_id", intent.OrderID()),
				zap.String("intent_id", intent.ID),
				zap.String("current_intent_id", current))
		}
		outcome, err := e.apply(ctx, ev, intent.OrderID(), model.TransitionPaid, log)
		if err != nil || outcome != metrics.OutcomeApplied {
			return outcome, err
		}
		e.notifyPaid(ctx, intent.OrderID(), log)
		return outcome, nil

	case processor.EventPaymentFailed:
		intent, err := ev.Intent()
		if err != nil {
			return "", fmt.Errorf("decode intent: %w", err)
		}
		current, err := e.supersededBy(ctx, intent)
		if err != nil {
			return "", err
		}
		if current != "" {
			log.Info("failure of superseded intent ignored",
				zap.String("intent_id", intent.ID),
				zap.String("current_intent_id", current))
			return metrics.OutcomeIgnored, nil
		}
		return e.apply(ctx, ev, intent.OrderID(), model.TransitionFailed, log)

	case processor.EventChargeRefunded:
		charge, err := ev.Charge()
		if err != nil {
			return "", fmt.Errorf("decode charge: %w", err)
		}
		orderID, err := e.resolveOrderID(ctx, charge.Metadata, charge.PaymentIntent)
		if err != nil {
			return "", err
		}
		return e.apply(ctx, ev, orderID, model.TransitionRefunded, log)

	case processor.EventDisputeCreated:
		dispute, err := ev.Dispute()
		if err != nil {
			return "", fmt.Errorf("decode dispute: %w", err)
		}
		orderID, err := e.resolveOrderID(ctx, dispute.Metadata, dispute.PaymentIntent)
		if err != nil {
			return "", err
		}
		outcome, err := e.apply(ctx, ev, orderID, model.TransitionDisputed, log)
		if err == nil && outcome == metrics.OutcomeApplied {
			log.Warn("payout paused by dispute", zap.String("order_id", orderID), zap.String("reason", dispute.Reason))
		}
		return outcome, err

	default:
		log.Debug("webhook event ignored")
		return metrics.OutcomeIgnored, nil
	}
}

func (e *Engine) apply(ctx context.Context, ev *processor.Event, orderID string, tr model.Transition, log *zap.Logger) (string, error) {
	if orderID == "" {
		log.Error("webhook event has no order reference")
		return metrics.OutcomeIgnored, nil
	}

	applied, err := e.store.UpdatePaymentStatus(ctx, orderID, tr, ev.ID)
	switch {
	case errors.Is(err, repository.ErrInvalidTransition):
		log.Warn("webhook transition not allowed", zap.String("order_id", orderID), zap.Error(err))
		return metrics.OutcomeIgnored, nil
	case err != nil:
		return "", fmt.Errorf("update order %s: %w", orderID, err)
	case !applied:
		log.Info("webhook event already applied", zap.String("order_id", orderID))
		return metrics.OutcomeDuplicate, nil
	}

	log.Info("order payment status updated", zap.String("order_id", orderID), zap.String("status", string(tr.To)))
	return metrics.OutcomeApplied, nil
}

// resolveOrderID берёт orderId из метаданных объекта, а при их отсутствии из намерения у процессора.
func (e *Engine) resolveOrderID(ctx context.Context, metadata map[string]string, intentID string) (string, error) {
	if id := metadata[processor.MetadataOrderID]; id != "" {
		return id, nil
	}
	if intentID == "" {
		return "", nil
	}

	intent, err := e.processor.RetrieveIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, processor.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("resolve order for intent %s: %w", intentID, err)
	}
	return intent.OrderID(), nil
}

// supersededBy возвращает текущее намерение заказа, если заказ уже переведён на другое намерение,
// и пустую строку иначе.
func (e *Engine) supersededBy(ctx context.Context, intent *processor.Intent) (string, error) {
	orderID := intent.OrderID()
	if orderID == "" {
		return "", nil
	}
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("get order %s: %w", orderID, err)
	}
	if o.PaymentIntentID == "" || o.PaymentIntentID == intent.ID {
		return "", nil
	}
	return o.PaymentIntentID, nil
}

// notifyPaid сообщает покупателю об оплате. Ошибки доставки только журналируются:
// переход уже сохранён, а повторная доставка события уведомление не повторит.
func (e *Engine) notifyPaid(ctx context.Context, orderID string, log *zap.Logger) {
	if e.sender == nil {
		return
	}

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		log.Error("load order for notification", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	if o.CustomerEmail == "" {
		return
	}

	amount, err := money.Format(o.AmountMinor, o.Currency)
	if err != nil {
		log.Error("format order amount", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	msg, err := notify.PaymentReceived(o.ID, amount, o.Currency)
	if err != nil {
		log.Error("render payment notification", zap.Error(err))
		return
	}
	if err := e.sender.Send(ctx, o.CustomerEmail, msg); err != nil {
		log.Error("payment notification not delivered", zap.String("order_id", orderID), zap.Error(err))
	}
}
