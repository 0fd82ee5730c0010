// Package fingerprint derives the content hash used to deduplicate financial transactions.
//
// The key is a merchant-day-amount identity: the calendar date, the amount rounded to cents and the
// first token of the merchant (or description). Two genuine purchases sharing all three collapse
// into one record. Stored hashes depend on this exact recipe, so it must not change.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Compute returns the lowercase hex SHA-256 of date ++ amount ++ merchant token
func Compute(date time.Time, amount decimal.Decimal, merchantOrDescription string) string {
	sum := sha256.Sum256([]byte(Input(date, amount, merchantOrDescription)))
	return hex.EncodeToString(sum[:])
}

// Input is the exact string Compute hashes
func Input(date time.Time, amount decimal.Decimal, merchantOrDescription string) string {
	return date.Format(dateLayout) + amount.StringFixed(2) + Token(merchantOrDescription)
}

// Token lower-cases s, keeps its first whitespace-separated word and drops non-alphanumerics
func Token(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, fields[0])
}

// Merchant picks the merchant name when present, otherwise the free-text description
func Merchant(merchantName, description string) string {
	if strings.TrimSpace(merchantName) != "" {
		return merchantName
	}
	return description
}
