package formatter

import (
	"fmt"
	"strings"
)

// Money formats an amount in minor units as "1,234.56".
func Money(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	whole := fmt.Sprintf("%d", minor/100)
	var groups []string
	for len(whole) > 3 {
		groups = append([]string{whole[len(whole)-3:]}, groups...)
		whole = whole[:len(whole)-3]
	}
	groups = append([]string{whole}, groups...)
	return fmt.Sprintf("%s%s.%02d", sign, strings.Join(groups, ","), minor%100)
}

// MoneyPtr formats an optional amount, "—" when unset.
func MoneyPtr(minor *int64) string {
	if minor == nil {
		return "—"
	}
	return Money(*minor)
}
