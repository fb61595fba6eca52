// Package payment реализует жизненный цикл оплаты заказа: создание платёжного намерения,
// сверку уведомлений процессора с проекцией заказа и возвраты.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/trustcore/internal/metrics"
	"github.com/mmeshcher/trustcore/internal/model"
	"github.com/mmeshcher/trustcore/internal/money"
	"github.com/mmeshcher/trustcore/internal/notify"
	"github.com/mmeshcher/trustcore/internal/processor"
	"github.com/mmeshcher/trustcore/internal/repository"
)

var (
	// ErrInvalidRequest возвращается при некорректных входных данных.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotRefundable возвращается, если заказ не находится в статусе paid.
	ErrNotRefundable = errors.New("payment is not refundable")
	// ErrAlreadyPaid возвращается при попытке создать намерение для уже оплаченного заказа.
	ErrAlreadyPaid = errors.New("order is already paid")
	// ErrIntentNotFound возвращается, если процессор не знает намерение.
	ErrIntentNotFound = errors.New("payment intent not found")
)

// Processor определяет операции платёжного процессора, которые использует движок.
type Processor interface {
	CreateIntent(ctx context.Context, params processor.CreateIntentParams) (*processor.Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*processor.Intent, error)
	CreateRefund(ctx context.Context, params processor.CreateRefundParams) (*processor.Refund, error)
}

// SignatureVerifier проверяет подпись уведомления и возвращает разобранное событие.
type SignatureVerifier interface {
	VerifyWebhookSignature(rawBody []byte, header string) (*processor.Event, error)
}

// Store определяет хранилище платёжной проекции заказов. UpdatePaymentStatus обязан быть
// идемпотентным по causedByEventID.
type Store interface {
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	TrackIntent(ctx context.Context, o model.Order) error
	UpdatePaymentStatus(ctx context.Context, orderID string, tr model.Transition, causedByEventID string) (bool, error)
	RecordRefund(ctx context.Context, refund model.Refund) error
	ListRefunds(ctx context.Context, orderID string) ([]model.Refund, error)
}

// Config задаёт политику движка.
type Config struct {
	// StrictRefundReasons отклоняет неизвестные причины возврата вместо замены на fraudulent.
	StrictRefundReasons bool
}

// Engine управляет оплатами заказов.
type Engine struct {
	processor Processor
	verifier  SignatureVerifier
	store     Store
	sender    notify.Sender
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config
}

// NewEngine создаёт движок. sender и m могут быть nil.
func NewEngine(p Processor, v SignatureVerifier, s Store, sender notify.Sender, m *metrics.Metrics, logger *zap.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		processor: p,
		verifier:  v,
		store:     s,
		sender:    sender,
		metrics:   m,
		logger:    logger.Named("payment"),
		cfg:       cfg,
	}
}

// CreateIntentRequest описывает запрос на создание намерения. Amount в основных единицах валюты.
type CreateIntentRequest struct {
	Amount        decimal.Decimal
	Currency      string
	OrderID       string
	CustomerEmail string
	Description   string
}

// IntentResult содержит данные, которые клиент использует для подтверждения оплаты.
type IntentResult struct {
	ClientSecret string
	IntentID     string
}

// CreateIntent создаёт намерение у процессора и привязывает его к заказу.
func (e *Engine) CreateIntent(ctx context.Context, req CreateIntentRequest) (*IntentResult, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: orderId is required", ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	currency, err := money.Normalize(req.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	minor, err := money.ToMinor(req.Amount, currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	existing, err := e.store.GetOrder(ctx, orderID)
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
	case err != nil:
		return nil, fmt.Errorf("get order: %w", err)
	case isSettled(existing.PaymentStatus):
		return nil, fmt.Errorf("%w: order %s is %s", ErrAlreadyPaid, orderID, existing.PaymentStatus)
	}

	intent, err := e.processor.CreateIntent(ctx, processor.CreateIntentParams{
		Amount:       minor,
		Currency:     currency,
		Description:  req.Description,
		ReceiptEmail: req.CustomerEmail,
		Metadata:     map[string]string{processor.MetadataOrderID: orderID},
	})
	if err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}

	err = e.store.TrackIntent(ctx, model.Order{
		ID:              orderID,
		PaymentIntentID: intent.ID,
		AmountMinor:     minor,
		Currency:        currency,
		CustomerEmail:   req.CustomerEmail,
	})
	if err != nil {
		if errors.Is(err, repository.ErrOrderSettled) {
			return nil, fmt.Errorf("%w: order %s", ErrAlreadyPaid, orderID)
		}
		return nil, fmt.Errorf("track intent: %w", err)
	}

	e.logger.Info("payment intent created",
		zap.String("order_id", orderID),
		zap.String("intent_id", intent.ID),
		zap.Int64("amount", minor),
		zap.String("currency", currency),
	)

	return &IntentResult{ClientSecret: intent.ClientSecret, IntentID: intent.ID}, nil
}

// IntentStatus описывает состояние намерения у процессора.
type IntentStatus struct {
	Status      string
	OrderID     string
	Amount      decimal.Decimal
	AmountMinor int64
	Currency    string
}

// RetrieveStatus возвращает состояние намерения у процессора. Проекцию заказа не меняет.
func (e *Engine) RetrieveStatus(ctx context.Context, intentID string) (*IntentStatus, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, fmt.Errorf("%w: intent id is required", ErrInvalidRequest)
	}

	intent, err := e.retrieveIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}

	amount, err := money.FromMinor(intent.Amount, intent.Currency)
	if err != nil {
		return nil, fmt.Errorf("intent %s: %w", intent.ID, err)
	}

	return &IntentStatus{
		Status:      intent.Status,
		OrderID:     intent.OrderID(),
		Amount:      amount,
		AmountMinor: intent.Amount,
		Currency:    intent.Currency,
	}, nil
}

// GetOrder возвращает платёжную проекцию заказа.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return e.store.GetOrder(ctx, strings.TrimSpace(orderID))
}

func (e *Engine) retrieveIntent(ctx context.Context, intentID string) (*processor.Intent, error) {
	intent, err := e.processor.RetrieveIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, processor.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrIntentNotFound, intentID)
		}
		return nil, fmt.Errorf("retrieve intent: %w", err)
	}
	return intent, nil
}

func isSettled(s model.PaymentStatus) bool {
	return s == model.PaymentStatusPaid || s == model.PaymentStatusRefunded || s == model.PaymentStatusDisputed
}
