package ticket

import (
	"fmt"
	"strings"
)

// Ticket numbers look like RFL-4F2A91C3-000017-4: a raffle prefix, the
// zero-padded issuance sequence, and a Luhn check digit over the digits so
// support staff can spot transcription errors.

// FormatNumber builds the ticket number for the given raffle prefix and
// issuance sequence (1-based within the raffle).
func FormatNumber(rafflePrefix string, seq int64) string {
	body := fmt.Sprintf("%06d", seq)
	return fmt.Sprintf("RFL-%s-%s-%c", strings.ToUpper(rafflePrefix), body, luhnDigit(body))
}

// ValidNumber reports whether a ticket number is well formed and its check
// digit matches.
func ValidNumber(number string) bool {
	parts := strings.Split(number, "-")
	if len(parts) != 4 || parts[0] != "RFL" {
		return false
	}
	body, check := parts[2], parts[3]
	if len(check) != 1 {
		return false
	}
	return luhnCheck(body + check)
}

// luhnCheck verifies a numeric string with Luhn checksum.
func luhnCheck(code string) bool {
	if len(code) == 0 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	sum := 0
	double := false
	for i := len(code) - 1; i >= 0; i-- {
		d := int(code[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// luhnDigit computes the check digit for a numeric body.
func luhnDigit(body string) byte {
	sum := 0
	double := true
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return byte('0' + (10-(sum%10))%10)
}
