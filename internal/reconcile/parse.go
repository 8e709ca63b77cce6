// internal/reconcile/parse.go
package reconcile

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseAmount reads a displayed money amount such as "$1,234.50" or "Total: 30.01".
// Everything except digits and '.' is discarded, so grouping separators and currency
// symbols are ignored. Text with no digits, or with more than one decimal point, is an
// error rather than zero. Comma decimal separators ("12,50") are not supported.
func ParseAmount(text string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, text)

	if strings.Trim(cleaned, ".") == "" {
		return 0, fmt.Errorf("%w: no amount in %q", ErrInvalidInput, text)
	}
	if strings.Count(cleaned, ".") > 1 {
		return 0, fmt.Errorf("%w: ambiguous amount %q", ErrInvalidInput, text)
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", ErrInvalidInput, text, err)
	}
	return v, nil
}

// ParseQuantity reads a displayed item count.
func ParseQuantity(text string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("%w: quantity %q: %v", ErrInvalidInput, text, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative quantity %d", ErrInvalidInput, n)
	}
	return n, nil
}
