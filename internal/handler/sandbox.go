package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/trustcore/internal/processor"
)

// Sandbox управляет процессором-песочницей: имитирует действия покупателя и банка.
type Sandbox interface {
	SucceedIntent(id string) (*processor.SignedEvent, error)
	FailIntent(id string) (*processor.SignedEvent, error)
	DisputeIntent(id, reason string) (*processor.SignedEvent, error)
	RefundedEvent(refundID string) (*processor.SignedEvent, error)
}

// WithSandbox открывает маршруты /sandbox. Только для локального запуска.
func WithSandbox(s Sandbox) Option {
	return func(h *Handler) { h.sandbox = s }
}

// SandboxIntentAction выполняет действие над намерением и доставляет подписанное
// уведомление тем же путём, что и внешний процессор.
func (h *Handler) SandboxIntentAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var (
		ev  *processor.SignedEvent
		err error
	)
	switch chi.URLParam(r, "action") {
	case "succeed":
		ev, err = h.sandbox.SucceedIntent(id)
	case "fail":
		ev, err = h.sandbox.FailIntent(id)
	case "dispute":
		ev, err = h.sandbox.DisputeIntent(id, r.URL.Query().Get("reason"))
	default:
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
		return
	}
	h.deliverSandboxEvent(w, r, ev, err)
}

// SandboxSettleRefund доставляет уведомление charge.refunded по возврату.
func (h *Handler) SandboxSettleRefund(w http.ResponseWriter, r *http.Request) {
	ev, err := h.sandbox.RefundedEvent(chi.URLParam(r, "id"))
	h.deliverSandboxEvent(w, r, ev, err)
}

func (h *Handler) deliverSandboxEvent(w http.ResponseWriter, r *http.Request, ev *processor.SignedEvent, err error) {
	if errors.Is(err, processor.ErrNotFound) {
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
		return
	}
	if err != nil {
		h.logger.Error("sandbox event error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	if err := h.payments.HandleWebhookEvent(r.Context(), ev.Body, ev.Header); err != nil {
		h.writePaymentError(w, "sandbox webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"delivered": true})
}
