// Package notify доставляет сообщения пользователям: коды подтверждения и уведомления об оплате.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"
)

// ErrDeliveryFailed возвращается, если сообщение не удалось доставить.
var ErrDeliveryFailed = errors.New("message delivery failed")

// Message содержит готовое к отправке сообщение.
type Message struct {
	Subject string
	Body    string
}

// Sender доставляет сообщение по адресу identifier.
type Sender interface {
	Send(ctx context.Context, identifier string, msg Message) error
}

var (
	codeTemplate = template.Must(template.New("code").Parse(
		"Your verification code is {{.Code}}. It expires in {{.Minutes}} minutes.\n" +
			"If you did not request this code, you can ignore this message.\n"))
	paidTemplate = template.Must(template.New("paid").Parse(
		"Payment for order {{.OrderID}} has been received ({{.Amount}} {{.Currency}}).\n"))
)

// VerificationCode формирует сообщение с кодом подтверждения.
func VerificationCode(code string, ttl time.Duration) (Message, error) {
	body, err := render(codeTemplate, map[string]any{"Code": code, "Minutes": int(ttl.Minutes())})
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: "Your verification code", Body: body}, nil
}

// PaymentReceived формирует уведомление об оплате заказа.
func PaymentReceived(orderID, amount, currency string) (Message, error) {
	body, err := render(paidTemplate, map[string]any{
		"OrderID":  orderID,
		"Amount":   amount,
		"Currency": strings.ToUpper(currency),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: "Payment received for order " + orderID, Body: body}, nil
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// SMTPConfig содержит параметры SMTP-сервера.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender отправляет сообщения по электронной почте.
type SMTPSender struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender создаёт отправителя через SMTP.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, sendMail: smtp.SendMail}
}

// Send отправляет письмо. Адреса без "@" (телефоны) этим каналом не доставляются.
func (s *SMTPSender) Send(ctx context.Context, identifier string, msg Message) error {
	if !strings.Contains(identifier, "@") {
		return fmt.Errorf("%w: %q is not an email address", ErrDeliveryFailed, identifier)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	raw := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s",
		s.cfg.From, identifier, msg.Subject, msg.Body)

	if err := s.sendMail(addr, auth, s.cfg.From, []string{identifier}, []byte(raw)); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// LogSender пишет сообщения в журнал вместо доставки. Для локального запуска.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender создаёт отправителя, пишущего в logger.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger.Named("notify")}
}

// Send записывает сообщение в журнал.
func (s *LogSender) Send(ctx context.Context, identifier string, msg Message) error {
	s.logger.Info("message dispatched",
		zap.String("to", identifier),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}
