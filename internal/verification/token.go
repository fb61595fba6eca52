// Package verification реализует выдачу и проверку одноразовых кодов подтверждения контакта
// без хранения состояния на сервере: всё необходимое для проверки находится в подписанном токене.
package verification

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mmeshcher/trustcore/internal/clock"
	"github.com/mmeshcher/trustcore/internal/signing"
)

// DefaultTTL задаёт срок действия кода по умолчанию.
const DefaultTTL = 10 * time.Minute

const (
	codeMin   = 100000
	codeRange = 900000
	fieldSep  = ":"
)

var (
	// ErrMalformedToken возвращается, если токен не удаётся декодировать или в нём нет обязательных полей.
	ErrMalformedToken = errors.New("malformed verification token")
	// ErrExpired возвращается, если срок действия токена истёк.
	ErrExpired = errors.New("verification token expired")
	// ErrInvalidCode возвращается, если код не совпадает с выданным.
	ErrInvalidCode = errors.New("invalid verification code")
	// ErrEmptyIdentifier возвращается при попытке выдать код для пустого идентификатора.
	ErrEmptyIdentifier = errors.New("identifier is empty")
	// ErrInvalidIdentifier возвращается, если идентификатор не является корректной строкой UTF-8.
	ErrInvalidIdentifier = errors.New("identifier is not valid UTF-8")
)

// IsVerificationError сообщает, относится ли ошибка к проверке кода.
func IsVerificationError(err error) bool {
	return errors.Is(err, ErrMalformedToken) || errors.Is(err, ErrExpired) || errors.Is(err, ErrInvalidCode)
}

// Challenge содержит выданный код и токен.
type Challenge struct {
	Code      string
	Token     string
	ExpiresAt time.Time
}

// Claims описывает содержимое токена. Сам код в токен не попадает.
type Claims struct {
	Identifier string `json:"identifier"`
	ExpiresAt  int64  `json:"expiresAt"`
	Signature  string `json:"signature"`
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithTTL задаёт срок действия кода.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithCodeGenerator подменяет генератор кодов.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.generate = gen }
}

// Service выдаёт и проверяет коды подтверждения.
type Service struct {
	signer   *signing.Signer
	clock    clock.Clock
	ttl      time.Duration
	generate func() (string, error)
}

// NewService создаёт сервис, подписывающий токены указанным секретом.
func NewService(secret []byte, opts ...Option) (*Service, error) {
	signer, err := signing.NewSigner(secret)
	if err != nil {
		return nil, fmt.Errorf("verification signer: %w", err)
	}

	s := &Service{
		signer:   signer,
		clock:    clock.Real{},
		ttl:      DefaultTTL,
		generate: RandomCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RandomCode возвращает равномерно распределённый шестизначный код из crypto/rand.
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}

// IssueChallenge генерирует код для identifier и упаковывает подпись в токен.
// Код возвращается отдельно для доставки по внешнему каналу.
func (s *Service) IssueChallenge(identifier string) (*Challenge, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrEmptyIdentifier
	}
	// JSON заменяет некорректные байты на U+FFFD, и подпись перестала бы сходиться.
	if !utf8.ValidString(identifier) {
		return nil, ErrInvalidIdentifier
	}

	code, err := s.generate()
	if err != nil {
		return nil, err
	}

	expiresAt := s.clock.Now().Add(s.ttl)
	claims := Claims{
		Identifier: identifier,
		ExpiresAt:  expiresAt.UnixMilli(),
	}
	claims.Signature = s.sign(claims.Identifier, code, claims.ExpiresAt)

	raw, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("encode token: %w", err)
	}

	return &Challenge{
		Code:      code,
		Token:     base64.StdEncoding.EncodeToString(raw),
		ExpiresAt: time.UnixMilli(claims.ExpiresAt).UTC(),
	}, nil
}

// VerifyChallenge проверяет код против токена и возвращает подтверждённый идентификатор.
// Повторная проверка той же пары в пределах срока действия снова завершится успехом.
func (s *Service) VerifyChallenge(token, code string) (string, error) {
	claims, err := DecodeToken(token)
	if err != nil {
		return "", err
	}

	if s.clock.Now().UnixMilli() > claims.ExpiresAt {
		return "", ErrExpired
	}

	expected := s.sign(claims.Identifier, strings.TrimSpace(code), claims.ExpiresAt)
	if !signing.Equal(expected, claims.Signature) {
		return "", ErrInvalidCode
	}

	return claims.Identifier, nil
}

func (s *Service) sign(identifier, code string, expiresAt int64) string {
	return s.signer.SumHex(fieldSep, identifier, code, strconv.FormatInt(expiresAt, 10))
}

// DecodeToken разбирает токен без проверки подписи. Принимается только каноническая форма,
// которую выдаёт IssueChallenge, поэтому изменение любого байта токена обнаруживается.
func DecodeToken(token string) (*Claims, error) {
	raw, err := base64.StdEncoding.Strict().DecodeString(strings.TrimSpace(token))
	if err != nil {
		return nil, ErrMalformedToken
	}

	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, ErrMalformedToken
	}
	if claims.Identifier == "" || claims.ExpiresAt <= 0 || claims.Signature == "" {
		return nil, ErrMalformedToken
	}

	canonical, err := json.Marshal(claims)
	if err != nil || !bytes.Equal(canonical, raw) {
		return nil, ErrMalformedToken
	}

	return &claims, nil
}
