// Package validation содержит функции валидации входных данных.
package validation

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxIdentifierLen = 254
	maxOrderIDLen    = 64
	minPhoneDigits   = 8
	maxPhoneDigits   = 15
)

// IsEmail проверяет, что s является одиночным адресом электронной почты без отображаемого имени.
func IsEmail(s string) bool {
	if s == "" || len(s) > maxIdentifierLen || !utf8.ValidString(s) {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Name != "" || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".")
}

// IsPhone проверяет номер телефона в формате E.164: "+" и от 8 до 15 цифр.
func IsPhone(s string) bool {
	if !strings.HasPrefix(s, "+") {
		return false
	}
	digits := s[1:]
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits || digits[0] == '0' {
		return false
	}
	for _, ch := range digits {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}

// IsValidIdentifier проверяет адрес, на который отправляется код подтверждения.
func IsValidIdentifier(s string) bool {
	return IsEmail(s) || IsPhone(s)
}

// NormalizeIdentifier приводит идентификатор к каноническому виду: без пробелов по краям,
// адрес почты в нижнем регистре.
func NormalizeIdentifier(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "@") {
		return strings.ToLower(s)
	}
	return s
}

// IsValidOrderID проверяет внешний идентификатор заказа: непустой, без пробелов
// и управляющих символов.
func IsValidOrderID(id string) bool {
	if id == "" || len(id) > maxOrderIDLen || !utf8.ValidString(id) {
		return false
	}
	for _, ch := range id {
		if unicode.IsSpace(ch) || unicode.IsControl(ch) {
			return false
		}
	}
	return true
}
