// Package phone canonicalizes the inconsistent phone formats reported by the
// call-center platform and the WhatsApp gateway so records from both systems
// can be compared.
package phone

import "strings"

// DefaultCountryCode is prepended to bare national numbers. The dialer
// operates on Italian contacts, so a 10-digit number without a country code
// is assumed to be a national one.
const DefaultCountryCode = "39"

// comparisonKeyLen is the suffix length used for cross-format matching.
const comparisonKeyLen = 10

// Normalize reduces a raw phone value to digits and applies the default
// country code to bare 10-digit national numbers. It never fails: garbage
// input yields an empty or short digit string that simply matches nothing.
func Normalize(raw string) string {
	digits := stripNonDigits(raw)
	if len(digits) == comparisonKeyLen && !strings.HasPrefix(digits, DefaultCountryCode) {
		return DefaultCountryCode + digits
	}
	return digits
}

// ComparisonKey returns the last 10 digits of a normalized number, or the
// whole string when shorter. Records stored with and without country code
// share the same key.
func ComparisonKey(normalized string) string {
	if len(normalized) <= comparisonKeyLen {
		return normalized
	}
	return normalized[len(normalized)-comparisonKeyLen:]
}

// Matches reports whether two raw phone values refer to the same contact.
// Beyond key equality it accepts either full form ending with the other's
// comparison key, which tolerates one side carrying a country code the
// other side lacks.
func Matches(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	ka, kb := ComparisonKey(na), ComparisonKey(nb)
	return ka == kb || na == nb || strings.HasSuffix(na, kb) || strings.HasSuffix(nb, ka)
}

// StripTransportSuffix removes messaging-domain suffixes like
// "@s.whatsapp.net" or "@c.us" from a gateway sender identifier.
func StripTransportSuffix(jid string) string {
	if idx := strings.IndexByte(jid, '@'); idx >= 0 {
		return jid[:idx]
	}
	return jid
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
