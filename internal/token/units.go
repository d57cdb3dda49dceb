package token

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// FormatUnits renders value scaled down by 10^decimals. The fractional part keeps at least one
// digit and drops trailing zeros, so 10^18 with 18 decimals is "1.0". Zero decimals prints the
// integer unchanged.
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		value = new(big.Int)
	}
	sign := ""
	if value.Sign() < 0 {
		sign = "-"
	}
	digits := new(big.Int).Abs(value).String()
	if decimals == 0 {
		return sign + digits
	}

	d := int(decimals)
	if len(digits) <= d {
		digits = strings.Repeat("0", d-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-d]
	frac := strings.TrimRight(digits[len(digits)-d:], "0")
	if frac == "" {
		frac = "0"
	}
	return sign + whole + "." + frac
}

// ValidateAmount accepts non-negative plain decimal strings such as "1", "1.0" or "0.25".
func ValidateAmount(amount string) error {
	if !decimalPattern.MatchString(amount) {
		return fmt.Errorf("invalid amount %q", amount)
	}
	return nil
}
