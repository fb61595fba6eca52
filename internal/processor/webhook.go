package processor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/trustcore/internal/clock"
	"github.com/mmeshcher/trustcore/internal/signing"
)

// SignatureHeader задаёт заголовок с подписью уведомления.
const SignatureHeader = "X-Signature"

// DefaultTolerance задаёт допустимый возраст подписи уведомления.
const DefaultTolerance = 5 * time.Minute

// WebhookVerifier проверяет подпись уведомлений по общему секрету.
type WebhookVerifier struct {
	signer    *signing.Signer
	tolerance time.Duration
	clock     clock.Clock
}

// NewWebhookVerifier создаёт проверяющего. Нулевой tolerance отключает проверку возраста.
func NewWebhookVerifier(secret string, tolerance time.Duration, clk clock.Clock) (*WebhookVerifier, error) {
	signer, err := signing.NewSigner([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("webhook signer: %w", err)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &WebhookVerifier{signer: signer, tolerance: tolerance, clock: clk}, nil
}

// VerifyWebhookSignature проверяет подпись над сырым телом и только затем разбирает событие.
// Формат заголовка: "t=<unix>,v1=<hex>[,v1=<hex>...]", подписывается строка "<t>.<body>".
func (v *WebhookVerifier) VerifyWebhookSignature(rawBody []byte, header string) (*Event, error) {
	ts, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return nil, err
	}

	if v.tolerance > 0 {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
		}
		age := v.clock.Now().Sub(time.Unix(sec, 0))
		if age > v.tolerance || age < -v.tolerance {
			return nil, fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}

	expected := v.signer.SumHex(".", ts, string(rawBody))
	matched := false
	for _, sig := range signatures {
		if signing.Equal(sig, expected) {
			matched = true
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: no matching signature", ErrInvalidSignature)
	}

	return ParseEvent(rawBody)
}

// SignPayload строит значение заголовка подписи для тела body.
func SignPayload(secret string, ts time.Time, body []byte) (string, error) {
	signer, err := signing.NewSigner([]byte(secret))
	if err != nil {
		return "", err
	}
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + signer.SumHex(".", t, string(body)), nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	var ts string
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			ts = strings.TrimSpace(value)
		case "v1":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}

	if ts == "" || len(signatures) == 0 {
		return "", nil, fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}
	return ts, signatures, nil
}
