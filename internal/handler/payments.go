package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/trustcore/internal/escrow"
	"github.com/mmeshcher/trustcore/internal/money"
	"github.com/mmeshcher/trustcore/internal/payment"
	"github.com/mmeshcher/trustcore/internal/processor"
	"github.com/mmeshcher/trustcore/internal/validation"
)

type createIntentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	OrderID       string          `json:"orderId"`
	CustomerEmail string          `json:"customerEmail,omitempty"`
	Description   string          `json:"description,omitempty"`
}

type createIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
	IntentID     string `json:"intentId"`
}

// CreateIntent создаёт платёжное намерение для заказа.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	if !validation.IsValidOrderID(req.OrderID) {
		writeError(w, http.StatusBadRequest, "orderId is invalid")
		return
	}
	if req.CustomerEmail != "" && !validation.IsEmail(req.CustomerEmail) {
		writeError(w, http.StatusBadRequest, "customerEmail is invalid")
		return
	}

	res, err := h.payments.CreateIntent(r.Context(), payment.CreateIntentRequest{
		Amount:        req.Amount,
		Currency:      req.Currency,
		OrderID:       req.OrderID,
		CustomerEmail: req.CustomerEmail,
		Description:   req.Description,
	})
	if err != nil {
		h.writePaymentError(w, "create intent", err)
		return
	}

	writeJSON(w, http.StatusOK, createIntentResponse{ClientSecret: res.ClientSecret, IntentID: res.IntentID})
}

type intentStatusResponse struct {
	Status   string      `json:"status"`
	OrderID  string      `json:"orderId"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

// GetIntent возвращает состояние намерения у процессора.
func (h *Handler) GetIntent(w http.ResponseWriter, r *http.Request) {
	st, err := h.payments.RetrieveStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writePaymentError(w, "retrieve intent", err)
		return
	}

	writeJSON(w, http.StatusOK, intentStatusResponse{
		Status:   st.Status,
		OrderID:  st.OrderID,
		Amount:   amountJSON(st.Amount, st.Currency),
		Currency: st.Currency,
	})
}

// Webhook принимает уведомления процессора. Тело читается целиком до разбора:
// подпись считается по исходным байтам.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	_ = r.Body.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = h.payments.HandleWebhookEvent(r.Context(), body, r.Header.Get(processor.SignatureHeader))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, processor.ErrInvalidSignature):
		h.logger.Warn("webhook rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid signature")
	case errors.Is(err, processor.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, "invalid event")
	default:
		h.logger.Error("webhook processing error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

type refundRequest struct {
	IntentID string           `json:"intentId"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Reason   string           `json:"reason"`
}

type refundResponse struct {
	RefundID string      `json:"refundId"`
	Status   string      `json:"status"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

// CreateRefund создаёт возврат по оплаченному заказу.
func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.payments.CreateRefund(r.Context(), payment.RefundRequest{
		IntentID: req.IntentID,
		Amount:   req.Amount,
		Reason:   req.Reason,
	})
	if err != nil {
		h.writePaymentError(w, "create refund", err)
		return
	}

	writeJSON(w, http.StatusOK, refundResponse{
		RefundID: res.RefundID,
		Status:   res.Status,
		Amount:   amountJSON(res.Amount, res.Currency),
		Currency: res.Currency,
	})
}

type refundEntry struct {
	RefundID  string      `json:"refundId"`
	Status    string      `json:"status"`
	Amount    json.Number `json:"amount"`
	Reason    string      `json:"reason"`
	CreatedAt string      `json:"createdAt"`
}

type orderResponse struct {
	OrderID         string        `json:"orderId"`
	PaymentStatus   string        `json:"paymentStatus"`
	PaymentIntentID string        `json:"paymentIntentId,omitempty"`
	Amount          json.Number   `json:"amount"`
	Currency        string        `json:"currency"`
	PayoutPaused    bool          `json:"payoutPaused"`
	UpdatedAt       string        `json:"updatedAt"`
	Refunds         []refundEntry `json:"refunds"`
}

// GetOrder возвращает платёжную проекцию заказа вместе с возвратами.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	o, err := h.payments.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writePaymentError(w, "get order", err)
		return
	}
	refunds, err := h.payments.ListRefunds(r.Context(), o.ID)
	if err != nil {
		h.writePaymentError(w, "list refunds", err)
		return
	}

	resp := orderResponse{
		OrderID:         o.ID,
		PaymentStatus:   string(o.PaymentStatus),
		PaymentIntentID: o.PaymentIntentID,
		Amount:          minorJSON(o.AmountMinor, o.Currency),
		Currency:        o.Currency,
		PayoutPaused:    o.PayoutPaused,
		UpdatedAt:       o.UpdatedAt.Format(time.RFC3339),
		Refunds:         make([]refundEntry, 0, len(refunds)),
	}
	for _, rf := range refunds {
		resp.Refunds = append(resp.Refunds, refundEntry{
			RefundID:  rf.ID,
			Status:    rf.Status,
			Amount:    minorJSON(rf.AmountMinor, rf.Currency),
			Reason:    string(rf.Reason),
			CreatedAt: rf.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func minorJSON(minor int64, currency string) json.Number {
	s, err := money.Format(minor, currency)
	if err != nil {
		return json.Number("0")
	}
	return json.Number(s)
}

// EscrowDecision решает, требует ли заказ безопасной оплаты.
func (h *Handler) EscrowDecision(w http.ResponseWriter, r *http.Request) {
	var oc escrow.OrderContext
	if !decodeJSON(w, r, &oc) {
		return
	}
	if oc.Category == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}
	if oc.TotalAmount.IsNegative() || oc.Quantity < 0 {
		writeError(w, http.StatusBadRequest, "totalAmount and quantity must not be negative")
		return
	}

	oc.AsOf = h.clock.Now()
	writeJSON(w, http.StatusOK, escrow.Decide(oc))
}
