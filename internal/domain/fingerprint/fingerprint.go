// Package fingerprint derives a deterministic identity hash for a bank
// transaction. Two ingestions of the same logical movement always produce
// the same fingerprint, which lets the ingestion boundary reject duplicates
// before anything is stored.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"
)

// minorUnitDigits maps ISO currency codes to their minor-unit exponent.
// Currencies not listed use two decimal places.
var minorUnitDigits = map[string]int{
	"JPY": 0,
	"KRW": 0,
	"CLP": 0,
	"BHD": 3,
	"KWD": 3,
}

const delimiter = "|"

// Compute returns the hex SHA-256 fingerprint of a transaction identity.
// The hash covers the calendar date, the amount rounded to the currency's
// minor unit, the normalized description, and the account id.
func Compute(date time.Time, amount float64, currency, description, accountID string) string {
	digits := 2
	if d, ok := minorUnitDigits[strings.ToUpper(currency)]; ok {
		digits = d
	}

	parts := []string{
		date.Format("2006-01-02"),
		fmt.Sprintf("%.*f", digits, roundTo(amount, digits)),
		NormalizeDescription(description),
		accountID,
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, delimiter)))
	return hex.EncodeToString(sum[:])
}

// NormalizeDescription trims, uppercases, and collapses internal whitespace
// so cosmetic feed differences don't change the fingerprint.
func NormalizeDescription(description string) string {
	return strings.Join(strings.Fields(strings.ToUpper(description)), " ")
}

// roundTo rounds to the given number of decimal places.
func roundTo(amount float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(amount*scale) / scale
}
