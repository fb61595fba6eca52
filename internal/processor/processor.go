// Package processor описывает контракт платёжного процессора: платёжные намерения, возвраты и
// подписанные уведомления (webhook). Содержит HTTP-клиент и встроенную песочницу.
package processor

import (
	"errors"
	"fmt"
	"time"
)

// MetadataOrderID задаёт ключ метаданных, связывающий намерение с заказом маркетплейса.
const MetadataOrderID = "orderId"

// Статусы платёжного намерения на стороне процессора.
const (
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusProcessing            = "processing"
	IntentStatusSucceeded             = "succeeded"
	IntentStatusCanceled              = "canceled"
)

// Статусы возврата.
const (
	RefundStatusPending   = "pending"
	RefundStatusSucceeded = "succeeded"
	RefundStatusFailed    = "failed"
)

var (
	// ErrNotFound возвращается, если процессор не знает объект.
	ErrNotFound = errors.New("processor object not found")
	// ErrInvalidSignature возвращается при неверной подписи уведомления.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Intent описывает платёжное намерение процессора.
type Intent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret,omitempty"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	Description  string            `json:"description,omitempty"`
	ReceiptEmail string            `json:"receipt_email,omitempty"`
	Metadata     map[string]string `json:"metadata"`
	Created      int64             `json:"created"`
}

// OrderID возвращает идентификатор заказа из метаданных.
func (i *Intent) OrderID() string {
	if i == nil || i.Metadata == nil {
		return ""
	}
	return i.Metadata[MetadataOrderID]
}

// CreateIntentParams содержит параметры создания намерения. Amount в минимальных единицах.
type CreateIntentParams struct {
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Description  string            `json:"description,omitempty"`
	ReceiptEmail string            `json:"receipt_email,omitempty"`
	Metadata     map[string]string `json:"metadata"`
}

// Refund описывает возврат на стороне процессора.
type Refund struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason"`
	Status        string `json:"status"`
	Created       int64  `json:"created"`
}

// CreateRefundParams содержит параметры возврата. Нулевой Amount означает полный возврат.
type CreateRefundParams struct {
	PaymentIntent string `json:"payment_intent"`
	Amount        int64  `json:"amount,omitempty"`
	Reason        string `json:"reason"`
}

// Error описывает ошибку, полученную от процессора.
type Error struct {
	StatusCode  int    `json:"-"`
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code,omitempty"`
	Message     string `json:"message"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("processor error %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("processor error %d: %s", e.StatusCode, e.Message)
}

// IsCardError сообщает, что ошибка вызвана отказом карты и её текст можно показать клиенту.
func (e *Error) IsCardError() bool {
	return e.Type == "card_error" || e.DeclineCode != ""
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
