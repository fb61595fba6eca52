// Package metrics содержит Prometheus-метрики контура доверия.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Исходы обработки уведомлений процессора.
const (
	OutcomeApplied          = "applied"
	OutcomeDuplicate        = "duplicate"
	OutcomeIgnored          = "ignored"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeError            = "error"
)

// Metrics собирает счётчики проверки кодов, уведомлений и возвратов.
type Metrics struct {
	challenges    *prometheus.CounterVec
	verifications *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	refunds       *prometheus.CounterVec
}

// New регистрирует метрики в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "verification_challenges_total",
			Help:      "Verification challenges issued, by delivery outcome.",
		}, []string{"outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "verification_attempts_total",
			Help:      "Verification attempts, by result.",
		}, []string{"result"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "webhook_events_total",
			Help:      "Processor webhook events, by event type and outcome.",
		}, []string{"type", "outcome"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "refunds_total",
			Help:      "Refund requests, by reason and result.",
		}, []string{"reason", "result"}),
	}

	if reg != nil {
		reg.MustRegister(m.challenges, m.verifications, m.webhooks, m.refunds)
	}
	return m
}

// Challenge учитывает выдачу кода.
func (m *Metrics) Challenge(outcome string) {
	if m == nil {
		return
	}
	m.challenges.WithLabelValues(outcome).Inc()
}

// Verification учитывает попытку проверки кода.
func (m *Metrics) Verification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

// Webhook учитывает обработку уведомления.
func (m *Metrics) Webhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(eventType, outcome).Inc()
}

// Refund учитывает запрос возврата.
func (m *Metrics) Refund(reason, result string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(reason, result).Inc()
}
