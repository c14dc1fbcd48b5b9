package phone

import (
	"errors"
	"strings"
	"unicode"
)

// ErrInvalidNumber rejects anything that is not a Romanian mobile number.
var ErrInvalidNumber = errors.New("invalid romanian mobile number")

const countryPrefix = "+40"

// Normalize converts the accepted Romanian mobile input shapes into the
// canonical E.164 form "+40" followed by nine digits starting with 7.
//
// Accepted after separator stripping: "+40XXXXXXXXX", "40XXXXXXXXX",
// "0XXXXXXXXX" and the bare nine-digit "XXXXXXXXX". Inputs containing any
// alphabetic character are rejected outright rather than silently stripped.
// Normalize is idempotent: a canonical number comes back unchanged.
func Normalize(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", ErrInvalidNumber
	}

	hasPlus := false
	var digits strings.Builder
	for i, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' && i == 0:
			hasPlus = true
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// separators people actually type
		case unicode.IsLetter(r):
			return "", ErrInvalidNumber
		default:
			return "", ErrInvalidNumber
		}
	}

	num := digits.String()
	var national string
	switch {
	case hasPlus && len(num) == 11 && strings.HasPrefix(num, "40"):
		national = num[2:]
	case !hasPlus && len(num) == 11 && strings.HasPrefix(num, "40"):
		national = num[2:]
	case !hasPlus && len(num) == 10 && strings.HasPrefix(num, "0"):
		national = num[1:]
	case !hasPlus && len(num) == 9:
		national = num
	default:
		return "", ErrInvalidNumber
	}

	// Romanian mobile range only; landlines start with 2 or 3.
	if len(national) != 9 || national[0] != '7' {
		return "", ErrInvalidNumber
	}

	return countryPrefix + national, nil
}

// IsCanonical reports whether s is already in canonical form.
func IsCanonical(s string) bool {
	normalized, err := Normalize(s)
	return err == nil && normalized == s
}

// FormatLocal renders a canonical "+40XXXXXXXXX" number in the local display
// form "0XXX XXX XXX". It does not normalize; callers pass canonical input.
func FormatLocal(canonical string) string {
	if !strings.HasPrefix(canonical, countryPrefix) || len(canonical) != 12 {
		return canonical
	}
	local := "0" + canonical[3:]
	return local[:4] + " " + local[4:7] + " " + local[7:]
}
