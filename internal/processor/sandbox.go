package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/mmeshcher/trustcore/internal/clock"
)

// SignedEvent содержит тело уведомления и заголовок подписи, готовые к доставке.
type SignedEvent struct {
	Body   []byte
	Header string
}

// Sandbox реализует процессор в памяти для локального запуска и тестов. Возвраты проводятся сразу.
type Sandbox struct {
	mu       sync.Mutex
	secret   string
	clock    clock.Clock
	intents  map[string]*Intent
	refunded map[string]int64
	refunds  map[string]*Refund
}

// NewSandbox создаёт песочницу, подписывающую уведомления секретом secret.
func NewSandbox(secret string, clk clock.Clock) *Sandbox {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Sandbox{
		secret:   secret,
		clock:    clk,
		intents:  make(map[string]*Intent),
		refunded: make(map[string]int64),
		refunds:  make(map[string]*Refund),
	}
}

// CreateIntent создаёт намерение в статусе requires_payment_method.
func (s *Sandbox) CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error) {
	if params.Amount <= 0 {
		return nil, &Error{StatusCode: http.StatusBadRequest, Type: "invalid_request_error", Code: "amount_too_small", Message: "amount must be positive"}
	}

	id := "pi_" + compactUUID()
	metadata := make(map[string]string, len(params.Metadata))
	for k, v := range params.Metadata {
		metadata[k] = v
	}

	intent := &Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + compactUUID(),
		Amount:       params.Amount,
		Currency:     params.Currency,
		Status:       IntentStatusRequiresPaymentMethod,
		Description:  params.Description,
		ReceiptEmail: params.ReceiptEmail,
		Metadata:     metadata,
		Created:      s.clock.Now().Unix(),
	}

	s.mu.Lock()
	s.intents[id] = intent
	s.mu.Unlock()

	out := *intent
	return &out, nil
}

// RetrieveIntent возвращает копию намерения без клиентского секрета.
func (s *Sandbox) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *intent
	out.ClientSecret = ""
	return &out, nil
}

// CreateRefund проводит возврат по успешному намерению.
func (s *Sandbox) CreateRefund(ctx context.Context, params CreateRefundParams) (*Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[params.PaymentIntent]
	if !ok {
		return nil, ErrNotFound
	}
	if intent.Status != IntentStatusSucceeded {
		return nil, &Error{StatusCode: http.StatusBadRequest, Type: "invalid_request_error", Code: "charge_not_succeeded", Message: "payment intent has not succeeded"}
	}

	remaining := intent.Amount - s.refunded[intent.ID]
	amount := params.Amount
	if amount == 0 {
		amount = remaining
	}
	if amount <= 0 || amount > remaining {
		return nil, &Error{StatusCode: http.StatusBadRequest, Type: "invalid_request_error", Code: "amount_too_large", Message: "refund amount exceeds remaining charge"}
	}

	s.refunded[intent.ID] += amount
	refund := &Refund{
		ID:            "re_" + compactUUID(),
		PaymentIntent: intent.ID,
		Amount:        amount,
		Currency:      intent.Currency,
		Reason:        params.Reason,
		Status:        RefundStatusSucceeded,
		Created:       s.clock.Now().Unix(),
	}
	s.refunds[refund.ID] = refund

	out := *refund
	return &out, nil
}

// SucceedIntent отмечает намерение оплаченным и возвращает уведомление payment_intent.succeeded.
func (s *Sandbox) SucceedIntent(id string) (*SignedEvent, error) {
	return s.intentEvent(id, IntentStatusSucceeded, "payment_intent.succeeded")
}

// FailIntent возвращает уведомление payment_intent.payment_failed.
func (s *Sandbox) FailIntent(id string) (*SignedEvent, error) {
	return s.intentEvent(id, IntentStatusRequiresPaymentMethod, "payment_intent.payment_failed")
}

// RefundedEvent возвращает уведомление charge.refunded для возврата refundID.
func (s *Sandbox) RefundedEvent(refundID string) (*SignedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refund, ok := s.refunds[refundID]
	if !ok {
		return nil, ErrNotFound
	}
	intent := s.intents[refund.PaymentIntent]

	return s.sign("charge.refunded", Charge{
		ID:             chargeID(intent.ID),
		PaymentIntent:  intent.ID,
		Amount:         intent.Amount,
		AmountRefunded: s.refunded[intent.ID],
		Currency:       intent.Currency,
		Metadata:       intent.Metadata,
	})
}

// DisputeIntent возвращает уведомление charge.dispute.created. Метаданные намерения в споре
// не передаются, как и у реальных процессоров.
func (s *Sandbox) DisputeIntent(id, reason string) (*SignedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok {
		return nil, ErrNotFound
	}

	return s.sign("charge.dispute.created", Dispute{
		ID:            "dp_" + compactUUID(),
		Charge:        chargeID(intent.ID),
		PaymentIntent: intent.ID,
		Amount:        intent.Amount,
		Currency:      intent.Currency,
		Reason:        reason,
	})
}

func (s *Sandbox) intentEvent(id, status, eventType string) (*SignedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	intent.Status = status

	obj := *intent
	obj.ClientSecret = ""
	return s.sign(eventType, obj)
}

func (s *Sandbox) sign(eventType string, object any) (*SignedEvent, error) {
	objRaw, err := json.Marshal(object)
	if err != nil {
		return nil, fmt.Errorf("encode object: %w", err)
	}

	now := s.clock.Now()
	body, err := json.Marshal(map[string]any{
		"id":      "evt_" + compactUUID(),
		"type":    eventType,
		"created": now.Unix(),
		"data":    map[string]json.RawMessage{"object": objRaw},
	})
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	header, err := SignPayload(s.secret, now, body)
	if err != nil {
		return nil, err
	}
	return &SignedEvent{Body: body, Header: header}, nil
}

func chargeID(intentID string) string {
	return "ch_" + intentID[len("pi_"):]
}

func compactUUID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])
}
