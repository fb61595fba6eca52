// Package model содержит доменные сущности платёжного контура маркетплейса.
package model

import "time"

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusAwaiting PaymentStatus = "awaiting_payment"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "payment_failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusDisputed PaymentStatus = "disputed"
)

// Order описывает проекцию платёжного состояния заказа маркетплейса.
type Order struct {
	ID              string
	PaymentStatus   PaymentStatus
	PaymentIntentID string
	AmountMinor     int64
	Currency        string
	CustomerEmail   string
	PayoutPaused    bool
	UpdatedAt       time.Time
}

// Transition описывает допустимый переход состояния, вызванный событием процессора.
type Transition struct {
	From []PaymentStatus
	To   PaymentStatus
}

// Allows сообщает, допустим ли переход из статуса s.
func (t Transition) Allows(s PaymentStatus) bool {
	for _, from := range t.From {
		if from == s {
			return true
		}
	}
	return false
}

// Переходы, которые применяются по событиям процессора.
var (
	TransitionPaid     = Transition{From: []PaymentStatus{PaymentStatusAwaiting}, To: PaymentStatusPaid}
	TransitionFailed   = Transition{From: []PaymentStatus{PaymentStatusAwaiting}, To: PaymentStatusFailed}
	TransitionRefunded = Transition{From: []PaymentStatus{PaymentStatusPaid}, To: PaymentStatusRefunded}
	TransitionDisputed = Transition{From: []PaymentStatus{PaymentStatusPaid}, To: PaymentStatusDisputed}
)

// RefundReason описывает причину возврата.
type RefundReason string

const (
	RefundReasonRequestedByCustomer RefundReason = "requested_by_customer"
	RefundReasonDuplicate           RefundReason = "duplicate"
	RefundReasonFraudulent          RefundReason = "fraudulent"
)

// Valid сообщает, входит ли причина в допустимый перечень.
func (r RefundReason) Valid() bool {
	switch r {
	case RefundReasonRequestedByCustomer, RefundReasonDuplicate, RefundReasonFraudulent:
		return true
	}
	return false
}

// Refund описывает возврат, созданный у процессора.
type Refund struct {
	ID              string
	PaymentIntentID string
	OrderID         string
	AmountMinor     int64
	Currency        string
	Reason          RefundReason
	Status          string
	CreatedAt       time.Time
}
