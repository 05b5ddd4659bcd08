package listing

import (
	"math"
	"regexp"
	"strings"
)

var (
	nationalIDPattern = regexp.MustCompile(`^[0-9]{16}$`)
	panPattern        = regexp.MustCompile(`^[A-Z0-9]{10}$`)
	idSeparators      = strings.NewReplacer(" ", "", "-", "")
)

// NormalizeNationalID drops spaces and dashes.
func NormalizeNationalID(s string) string {
	return idSeparators.Replace(strings.TrimSpace(s))
}

// NormalizePAN upper-cases and drops spaces.
func NormalizePAN(s string) string {
	return strings.ToUpper(idSeparators.Replace(strings.TrimSpace(s)))
}

// ValidateIdentity requires at least one of the two identifiers. Each one
// that is present must be well formed.
func ValidateIdentity(nationalID, pan string) error {
	if nationalID == "" && pan == "" {
		return invalid("identity", "enter a 16-digit national ID or a 10-character PAN")
	}
	if nationalID != "" && !nationalIDPattern.MatchString(nationalID) {
		return invalid(ColNationalID, "national ID must be exactly 16 digits")
	}
	if pan != "" && !panPattern.MatchString(pan) {
		return invalid(ColPAN, "PAN must be exactly 10 letters or digits")
	}
	return nil
}

var consentMessages = []struct {
	column  string
	message string
}{
	{ColTermsAccepted, "please accept the terms and conditions"},
	{ColPrivacyAccepted, "please accept the privacy policy"},
	{ColDocumentsAgreed, "please confirm the document agreement"},
}

// ValidateConsents requires all three agreements to be true.
func ValidateConsents(values map[string]any) error {
	for _, c := range consentMessages {
		if ok, _ := values[c.column].(bool); !ok {
			return invalid(c.column, c.message)
		}
	}
	return nil
}

// ValidatePhone checks a seller contact number after normalisation.
func ValidatePhone(raw string) error {
	if !IsValidPhoneNumber(NormalizePhoneNumber(raw)) {
		return invalid("seller_phone", "enter a valid 10-digit mobile number")
	}
	return nil
}

// ValidateRanges rejects integers that do not fit the INTEGER columns.
func ValidateRanges(fields []Field, values map[string]any) error {
	for _, f := range fields {
		if f.Kind != KindInt {
			continue
		}
		if n, ok := values[f.Column].(int64); ok && (n > math.MaxInt32 || n < math.MinInt32) {
			return invalid(f.Column, strings.ReplaceAll(f.Column, "_", " ")+" is out of range")
		}
	}
	return nil
}
