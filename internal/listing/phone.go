package listing

import (
	"fmt"
	"strings"
	"unicode"
)

// NormalizePhoneNumber brings Indian mobile numbers to +91XXXXXXXXXX.
// Anything it does not recognise is returned as bare digits.
func NormalizePhoneNumber(phone string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)

	switch {
	case len(cleaned) == 10:
		return "+91" + cleaned
	case len(cleaned) == 11 && strings.HasPrefix(cleaned, "0"):
		return "+91" + cleaned[1:]
	case len(cleaned) == 12 && strings.HasPrefix(cleaned, "91"):
		return "+" + cleaned
	}
	return cleaned
}

// IsValidPhoneNumber expects a normalised number.
func IsValidPhoneNumber(phone string) bool {
	if len(phone) != 13 || !strings.HasPrefix(phone, "+91") {
		return false
	}
	digits := phone[3:]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	if digits[0] < '6' {
		return false
	}
	badNumbers := map[string]bool{
		"9999999999": true,
		"9876543210": true,
		"6666666666": true,
		"7777777777": true,
		"8888888888": true,
	}
	return !badNumbers[digits]
}

// FormatPhoneNumber renders a normalised number as +91 XXXXX XXXXX.
func FormatPhoneNumber(phone string) string {
	if strings.HasPrefix(phone, "+91") && len(phone) == 13 {
		return fmt.Sprintf("%s %s %s", phone[:3], phone[3:8], phone[8:])
	}
	return phone
}
