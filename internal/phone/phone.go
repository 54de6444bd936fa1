package phone

import (
	"errors"
	"strings"
)

// ErrInvalidPhone is returned when a raw input cannot be normalized
// into a canonical E.164-style number.
var ErrInvalidPhone = errors.New("invalid phone number")

const (
	minDigits = 10
	maxDigits = 15
)

// Normalizer converts raw phone input into canonical "+<cc><number>"
// form. It is a pure function over its configuration: no I/O, no state.
type Normalizer struct {
	countryCode string // default country code without the "+"
}

func NewNormalizer(defaultCountryCode string) *Normalizer {
	return &Normalizer{countryCode: defaultCountryCode}
}

// Normalize strips everything except digits and a leading "+", applies
// the domestic-number conventions and validates the result. A bare
// 10-digit number is assumed domestic; an 11-digit number starting with
// the domestic country digit only needs the "+" prefix.
func (n *Normalizer) Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	hasPlus := strings.HasPrefix(raw, "+")

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if !hasPlus {
		switch {
		case len(digits) == minDigits:
			digits = n.countryCode + digits
		case len(digits) == minDigits+1 && strings.HasPrefix(digits, n.countryCode):
			// already carries the country digit
		default:
			return "", ErrInvalidPhone
		}
	}

	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", ErrInvalidPhone
	}

	return "+" + digits, nil
}

// IsDomestic reports whether a canonical number belongs to the default
// country. Used for cost multipliers, not validation.
func (n *Normalizer) IsDomestic(canonical string) bool {
	return strings.HasPrefix(canonical, "+"+n.countryCode)
}
