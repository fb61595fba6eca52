// Package handler содержит HTTP-обработчики контура доверия: подтверждение адреса
// одноразовым кодом и жизненный цикл оплаты заказа.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/trustcore/internal/clock"
	"github.com/mmeshcher/trustcore/internal/metrics"
	"github.com/mmeshcher/trustcore/internal/middleware"
	"github.com/mmeshcher/trustcore/internal/model"
	"github.com/mmeshcher/trustcore/internal/money"
	"github.com/mmeshcher/trustcore/internal/notify"
	"github.com/mmeshcher/trustcore/internal/payment"
	"github.com/mmeshcher/trustcore/internal/processor"
	"github.com/mmeshcher/trustcore/internal/replay"
	"github.com/mmeshcher/trustcore/internal/repository"
	"github.com/mmeshcher/trustcore/internal/verification"
)

const maxBodyBytes = 1 << 20

// Verifier выдаёт и проверяет одноразовые коды.
type Verifier interface {
	IssueChallenge(identifier string) (*verification.Challenge, error)
	VerifyChallenge(token, code string) (string, error)
}

// Payments определяет контракт движка оплат, используемый обработчиками.
type Payments interface {
	CreateIntent(ctx context.Context, req payment.CreateIntentRequest) (*payment.IntentResult, error)
	RetrieveStatus(ctx context.Context, intentID string) (*payment.IntentStatus, error)
	HandleWebhookEvent(ctx context.Context, rawBody []byte, signatureHeader string) error
	CreateRefund(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	ListRefunds(ctx context.Context, orderID string) ([]model.Refund, error)
}

// ReplayGuard отмечает токен использованным. Повторный Consume возвращает replay.ErrConsumed.
type ReplayGuard interface {
	Consume(ctx context.Context, signature string, expiresAt time.Time) error
}

// Pinger проверяет доступность зависимости для /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler реализует HTTP API.
type Handler struct {
	verifier       Verifier
	payments       Payments
	sender         notify.Sender
	logger         *zap.Logger
	clock          clock.Clock
	metrics        *metrics.Metrics
	metricsHandler http.Handler
	guard          ReplayGuard
	verifyLimiter  *middleware.RateLimiter
	pingers        []Pinger
	sandbox        Sandbox
	devMode        bool
}

// Option настраивает Handler.
type Option func(*Handler)

// WithClock задаёт источник времени.
func WithClock(c clock.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithMetrics включает учёт метрик и маршрут /metrics.
func WithMetrics(m *metrics.Metrics, exposition http.Handler) Option {
	return func(h *Handler) {
		h.metrics = m
		h.metricsHandler = exposition
	}
}

// WithReplayGuard делает коды одноразовыми.
func WithReplayGuard(g ReplayGuard) Option {
	return func(h *Handler) { h.guard = g }
}

// WithVerifyLimiter ограничивает частоту запросов к /verify.
func WithVerifyLimiter(l *middleware.RateLimiter) Option {
	return func(h *Handler) { h.verifyLimiter = l }
}

// WithHealthChecks добавляет зависимости, проверяемые в /healthz.
func WithHealthChecks(p ...Pinger) Option {
	return func(h *Handler) { h.pingers = append(h.pingers, p...) }
}

// WithDevMode возвращает выданный код в ответе /verify/issue. Только для локального запуска.
func WithDevMode(enabled bool) Option {
	return func(h *Handler) { h.devMode = enabled }
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(v Verifier, p Payments, sender notify.Sender, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		verifier: v,
		payments: p,
		sender:   sender,
		logger:   logger,
		clock:    clock.Real{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writePaymentError сопоставляет ошибку движка оплат с HTTP-статусом.
func (h *Handler) writePaymentError(w http.ResponseWriter, op string, err error) {
	var perr *processor.Error

	switch {
	case errors.Is(err, payment.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrNotRefundable), errors.Is(err, payment.ErrAlreadyPaid):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, payment.ErrIntentNotFound), errors.Is(err, repository.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	case errors.As(err, &perr) && perr.IsCardError():
		writeError(w, http.StatusPaymentRequired, perr.Message)
	case errors.As(err, &perr):
		h.logger.Error(op+" processor error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "payment processor error")
	default:
		h.logger.Error(op+" error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

// amountJSON выводит сумму числом с количеством знаков, принятым для валюты.
func amountJSON(amount decimal.Decimal, currency string) json.Number {
	exp, err := money.Exponent(currency)
	if err != nil {
		return json.Number(amount.String())
	}
	return json.Number(amount.StringFixed(exp))
}

// Health отвечает 200, если все зависимости доступны.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var _ ReplayGuard = (*replay.RedisGuard)(nil)
