package payments

import "strings"

// Kenyan numbering: canonical form is the 254 country code followed by a
// 9-digit subscriber number starting with 7 or 1.
const (
	countryCode     = "254"
	canonicalLength = 12
	domesticLength  = 10
	subscriberLen   = 9
)

// NormalizePhone converts local phone formats into the provider's
// canonical international form. Accepted shapes, checked in order against
// the digits-only input: already canonical (2547XXXXXXXX), domestic with
// trunk prefix (07XXXXXXXX), bare subscriber number (7XXXXXXXX). Anything
// else returns ErrInvalidPhoneNumber.
func NormalizePhone(raw string) (string, error) {
	digits := digitsOnly(raw)

	switch {
	case len(digits) == canonicalLength && strings.HasPrefix(digits, countryCode) && leadsSubscriber(digits[len(countryCode):]):
		return digits, nil
	case len(digits) == domesticLength && digits[0] == '0' && leadsSubscriber(digits[1:]):
		return countryCode + digits[1:], nil
	case len(digits) == subscriberLen && leadsSubscriber(digits):
		return countryCode + digits, nil
	}
	return "", ErrInvalidPhoneNumber
}

func leadsSubscriber(s string) bool {
	return s != "" && (s[0] == '7' || s[0] == '1')
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}
