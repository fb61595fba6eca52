// Package money переводит суммы между основными и минимальными денежными единицами без потери точности.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnsupportedCurrency возвращается для валют, которых нет в таблице.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	// ErrPrecision возвращается, если сумма не представима целым числом минимальных единиц.
	ErrPrecision = errors.New("amount has more precision than currency allows")
	// ErrOutOfRange возвращается, если сумма не помещается в int64.
	ErrOutOfRange = errors.New("amount out of range")
)

// exponents хранит количество знаков после запятой для поддерживаемых валют (ISO 4217).
var exponents = map[string]int32{
	"usd": 2, "eur": 2, "gbp": 2, "cad": 2, "aud": 2, "nzd": 2, "chf": 2,
	"inr": 2, "zar": 2, "kes": 2, "ngn": 2, "ghs": 2, "ugx": 0, "tzs": 2,
	"brl": 2, "mxn": 2, "php": 2, "sgd": 2, "rub": 2,
	"jpy": 0, "krw": 0, "vnd": 0, "clp": 0, "xof": 0, "xaf": 0, "rwf": 0,
	"bhd": 3, "kwd": 3, "omr": 3, "jod": 3, "tnd": 3,
}

// Normalize приводит код валюты к нижнему регистру и проверяет его поддержку.
func Normalize(currency string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(currency))
	if _, ok := exponents[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
	return c, nil
}

// Exponent возвращает число знаков минимальной единицы валюты.
func Exponent(currency string) (int32, error) {
	c, err := Normalize(currency)
	if err != nil {
		return 0, err
	}
	return exponents[c], nil
}

// ToMinor переводит сумму в минимальные единицы. Дробный остаток считается ошибкой.
func ToMinor(amount decimal.Decimal, currency string) (int64, error) {
	exp, err := Exponent(currency)
	if err != nil {
		return 0, err
	}

	shifted := amount.Shift(exp)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s %s", ErrPrecision, amount.String(), currency)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, ErrOutOfRange
	}
	return shifted.IntPart(), nil
}

// FromMinor переводит минимальные единицы обратно в основные.
func FromMinor(minor int64, currency string) (decimal.Decimal, error) {
	exp, err := Exponent(currency)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(minor, -exp), nil
}

// Format возвращает сумму с числом знаков, принятым для валюты.
func Format(minor int64, currency string) (string, error) {
	exp, err := Exponent(currency)
	if err != nil {
		return "", err
	}
	return decimal.New(minor, -exp).StringFixed(exp), nil
}
