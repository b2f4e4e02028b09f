package pipeline

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidPhone is returned for numbers that are not Kenyan mobile numbers.
var ErrInvalidPhone = errors.New("invalid phone number")

var phoneRe = regexp.MustCompile(`^(\+?254|0)(7\d{8})$`)

// NormalizePhone accepts 07XXXXXXXX, 2547XXXXXXXX and +2547XXXXXXXX and
// returns the +2547XXXXXXXX form. Spaces and dashes are ignored.
func NormalizePhone(phone string) (string, error) {
	cleaned := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	m := phoneRe.FindStringSubmatch(cleaned)
	if m == nil {
		return "", ErrInvalidPhone
	}
	return "+254" + m[2], nil
}

// ValidPhone reports whether phone normalizes.
func ValidPhone(phone string) bool {
	_, err := NormalizePhone(phone)
	return err == nil
}
