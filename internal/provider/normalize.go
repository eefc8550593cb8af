package provider

import (
	"fmt"
	"regexp"
	"strings"
)

var isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
var dmyDateRe = regexp.MustCompile(`^(\d{1,2})[./-](\d{1,2})[./-](\d{4})$`)

// FormatBirthday normalizes the birthday custom field to YYYY-MM-DD. CRM
// managers enter it in D.M.Y, D-M-Y or D/M/Y; the partners want ISO. Values
// already in ISO form pass through, anything unrecognized is returned as-is
// so the partner rejects it with a meaningful error.
func FormatBirthday(value string) string {
	value = strings.TrimSpace(value)
	if isoDateRe.MatchString(value) {
		return value
	}
	m := dmyDateRe.FindStringSubmatch(value)
	if m == nil {
		return value
	}
	day, month := m[1], m[2]
	if len(day) == 1 {
		day = "0" + day
	}
	if len(month) == 1 {
		month = "0" + month
	}
	return fmt.Sprintf("%s-%s-%s", m[3], month, day)
}

var nonDigitRe = regexp.MustCompile(`\D`)

func phoneDigits(phone string) string {
	return nonDigitRe.ReplaceAllString(phone, "")
}

// E164Phone renders a Moldovan phone number as +373XXXXXXXX.
func E164Phone(phone string) string {
	digits := phoneDigits(phone)
	switch {
	case strings.HasPrefix(digits, "373"):
		return "+" + digits
	case strings.HasPrefix(digits, "0"):
		return "+373" + digits[1:]
	default:
		return "+373" + digits
	}
}

// LocalPhone renders a Moldovan phone number in the 0-prefixed local form.
func LocalPhone(phone string) string {
	digits := phoneDigits(phone)
	digits = strings.TrimPrefix(digits, "373")
	if !strings.HasPrefix(digits, "0") {
		digits = "0" + digits
	}
	return digits
}
