package importer

// normalize.go holds the field-level normalization rules shared by the
// strict and lenient row parsers and by the change-set differ.
//
// Spreadsheet exports mangle data in predictable ways: long numbers become
// scientific notation, phone numbers grow country-code prefixes, and dates
// arrive either as dd-mm-yyyy text or as raw serial numbers. Normalization
// is deliberately idempotent so the differ can re-normalize stored values
// without formatting differences registering as changes.

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	mobileRegex = regexp.MustCompile(`^[6-9]\d{9}$`)
	emailRegex  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	nonDigit    = regexp.MustCompile(`\D`)
	ddmmyyyy    = regexp.MustCompile(`^\d{1,2}-\d{1,2}-\d{4}$`)
	yyyymmdd    = regexp.MustCompile(`^\d{4}-\d{1,2}-\d{1,2}$`)
)

// serialDateEpochOffset is the number of days between the spreadsheet date
// base (1899-12-30) and the Unix epoch (1970-01-01).
const serialDateEpochOffset = 25569

// NormalizePhone converts a raw mobile cell to a canonical 10-digit string.
// It accepts scientific notation (a spreadsheet artifact for long numeric
// strings), strips every non-digit, and removes a leading "91" country code
// when the result is 12 digits. The final value must be 10 digits starting
// with 6-9.
func NormalizePhone(c Cell) (string, error) {
	raw := c.String()

	// Numeric cells may arrive in scientific notation, which loses its
	// digits unless re-expanded as a rounded integer first.
	if c.Kind == CellNumber {
		raw = strconv.FormatFloat(math.Round(c.Number), 'f', -1, 64)
	}

	cleaned := nonDigit.ReplaceAllString(raw, "")
	if len(cleaned) == 12 && strings.HasPrefix(cleaned, "91") {
		cleaned = cleaned[2:]
	}

	if !mobileRegex.MatchString(cleaned) {
		return "", fmt.Errorf("invalid mobile number %q (cleaned: %q)", c.String(), cleaned)
	}
	return cleaned, nil
}

// PhoneKey reduces a stored or imported phone value to its comparison key:
// digits only, right-truncated to the last 10 so country-code prefixes on
// either side never register as a difference.
func PhoneKey(s string) string {
	digits := nonDigit.ReplaceAllString(s, "")
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}

// ValidateEmail checks the basic local@domain.tld shape.
func ValidateEmail(s string) error {
	if !emailRegex.MatchString(s) {
		return fmt.Errorf("invalid email %q", s)
	}
	return nil
}

// EmailKey is the comparison key for emails: trimmed and lower-cased.
func EmailKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeDOB converts a date-of-birth cell to ISO yyyy-mm-dd. Text cells
// accept dd-mm-yyyy with either - or / separators. Number cells are
// interpreted as spreadsheet serial dates (days since 1899-12-30).
func NormalizeDOB(c Cell) (string, error) {
	switch c.Kind {
	case CellText:
		s := strings.ReplaceAll(c.Text, "/", "-")
		if !ddmmyyyy.MatchString(s) {
			return "", fmt.Errorf("invalid date %q (expected dd-mm-yyyy)", c.Text)
		}
		t, err := time.Parse("2-1-2006", s)
		if err != nil {
			return "", fmt.Errorf("invalid date %q: %w", c.Text, err)
		}
		return t.Format("2006-01-02"), nil

	case CellNumber:
		return serialToISO(c.Number)

	default:
		return "", fmt.Errorf("empty date value")
	}
}

// serialToISO converts a spreadsheet serial day count to an ISO date.
func serialToISO(serial float64) (string, error) {
	days := int64(math.Round(serial)) - serialDateEpochOffset
	t := time.Unix(days*86400, 0).UTC()
	if t.Year() < 1900 || t.Year() > 2200 {
		return "", fmt.Errorf("serial date %v out of range", serial)
	}
	return t.Format("2006-01-02"), nil
}

// DateKey normalizes a stored date string for comparison. It accepts ISO
// yyyy-mm-dd, dd-mm-yyyy, and a handful of generic layouts; values that
// parse under none of them compare as raw trimmed strings.
func DateKey(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "/", "-"))
	if s == "" {
		return ""
	}

	if yyyymmdd.MatchString(s) {
		if t, err := time.Parse("2006-1-2", s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	if ddmmyyyy.MatchString(s) {
		if t, err := time.Parse("2-1-2006", s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "Jan 2, 2006", "2 Jan 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}
