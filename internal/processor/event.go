package processor

import (
	"encoding/json"
	"errors"
	"time"
)

// EventKind задаёт закрытый перечень типов событий, которые обрабатывает система.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventPaymentSucceeded
	EventPaymentFailed
	EventChargeRefunded
	EventDisputeCreated
)

var eventKinds = map[string]EventKind{
	"payment_intent.succeeded":      EventPaymentSucceeded,
	"payment_intent.payment_failed": EventPaymentFailed,
	"charge.refunded":               EventChargeRefunded,
	"charge.dispute.created":        EventDisputeCreated,
}

// ParseEventKind сопоставляет тип события процессора с EventKind.
func ParseEventKind(t string) EventKind {
	if k, ok := eventKinds[t]; ok {
		return k
	}
	return EventUnknown
}

func (k EventKind) String() string {
	for name, kind := range eventKinds {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// ErrInvalidEvent возвращается, если подписанное событие не удаётся разобрать.
var ErrInvalidEvent = errors.New("invalid webhook event")

// Event описывает проверенное уведомление процессора. Type сохраняет исходный тип,
// в том числе для EventUnknown.
type Event struct {
	ID      string
	Kind    EventKind
	Type    string
	Created time.Time
	Object  json.RawMessage
}

type rawEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent разбирает тело уведомления. Вызывается только после проверки подписи.
func ParseEvent(body []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, ErrInvalidEvent
	}
	if raw.ID == "" || raw.Type == "" {
		return nil, ErrInvalidEvent
	}

	return &Event{
		ID:      raw.ID,
		Kind:    ParseEventKind(raw.Type),
		Type:    raw.Type,
		Created: unixTime(raw.Created),
		Object:  raw.Data.Object,
	}, nil
}

// Charge описывает списание, на которое ссылаются события возврата.
type Charge struct {
	ID             string            `json:"id"`
	PaymentIntent  string            `json:"payment_intent"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

// Dispute описывает спор по списанию.
type Dispute struct {
	ID            string            `json:"id"`
	Charge        string            `json:"charge"`
	PaymentIntent string            `json:"payment_intent"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Reason        string            `json:"reason"`
	Metadata      map[string]string `json:"metadata"`
}

// Intent декодирует объект события как платёжное намерение.
func (e *Event) Intent() (*Intent, error) {
	var v Intent
	if err := decodeObject(e.Object, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Charge декодирует объект события как списание.
func (e *Event) Charge() (*Charge, error) {
	var v Charge
	if err := decodeObject(e.Object, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Dispute декодирует объект события как спор.
func (e *Event) Dispute() (*Dispute, error) {
	var v Dispute
	if err := decodeObject(e.Object, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeObject(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return ErrInvalidEvent
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return ErrInvalidEvent
	}
	return nil
}
