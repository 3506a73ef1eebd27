package format

import (
	"time"

	"github.com/milkywaybrain/cryptorelay/internal/orderbook"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places of published prices and sizes.
const Precision = orderbook.Precision

// MaxExponent bounds the decimal exponent of received numbers, e.g. 1e999999999 is rejected.
const MaxExponent = 64

// ErrMalformedNumber is returned for strings which are not a decimal number of sane magnitude.
var ErrMalformedNumber = errors.New("malformed number")

// Timestamp is the ISO-8601 layout of published timestamps, always UTC with milliseconds.
const Timestamp = "2006-01-02T15:04:05.000Z"

// Number rounds d to Precision decimal places and strips trailing zeros
// and a trailing decimal point, e.g. 1.50000000 is 1.5 and 2.00000000 is 2.
func Number(d decimal.Decimal) string {
	return d.Round(Precision).String()
}

// Time formats t as a published timestamp.
func Time(t time.Time) string {
	return t.UTC().Format(Timestamp)
}

// ParseDecimal parses a number received from an exchange.
// Exponents beyond MaxExponent in either direction are rejected.
func ParseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(ErrMalformedNumber, "%q", s)
	}
	if exp := d.Exponent(); exp > MaxExponent || exp < -MaxExponent {
		return decimal.Decimal{}, errors.Wrapf(ErrMalformedNumber, "%q exponent %v", s, exp)
	}
	return d, nil
}

// parsePositive parses a price received from an exchange.
// Non numeric, non finite and non positive values are rejected.
func parsePositive(s string) (decimal.Decimal, bool) {
	d, err := ParseDecimal(s)
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}

func parseNonNegative(s string) (decimal.Decimal, bool) {
	d, err := ParseDecimal(s)
	if err != nil || d.IsNegative() {
		return decimal.Decimal{}, false
	}
	return d, true
}
