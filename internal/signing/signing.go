// Package signing содержит общие криптографические примитивы: HMAC-SHA256 и сравнение подписей
// за постоянное время.
package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrEmptyKey возвращается при попытке создать подписчика с пустым ключом.
var ErrEmptyKey = errors.New("signing key is empty")

// Signer вычисляет HMAC-SHA256 с фиксированным секретом.
type Signer struct {
	key []byte
}

// NewSigner создаёт подписчика с указанным секретом.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptyKey
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Signer{key: key}, nil
}

// RandomKey генерирует случайный ключ длиной n байт.
func RandomKey(n int) ([]byte, error) {
	key := make([]byte, n)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Sum возвращает HMAC от частей, соединённых через sep.
func (s *Signer) Sum(sep string, parts ...string) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(strings.Join(parts, sep)))
	return mac.Sum(nil)
}

// SumHex возвращает Sum в шестнадцатеричном виде.
func (s *Signer) SumHex(sep string, parts ...string) string {
	return hex.EncodeToString(s.Sum(sep, parts...))
}

// Equal сравнивает две подписи за постоянное время.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
