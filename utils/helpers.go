package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	nonDigits = regexp.MustCompile(`\D`)

	ErrInvalidPhone = errors.New("invalid phone number")
)

// UUID Generation
func GenerateUUID() string {
	return uuid.New().String()
}

// String Utilities
func TruncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return s[:maxLength]
	}
	return s[:maxLength-3] + "..."
}

func UniqueStrings(slice []string) []string {
	keys := make(map[string]bool)
	var result []string
	for _, item := range slice {
		if !keys[item] {
			keys[item] = true
			result = append(result, item)
		}
	}
	return result
}

// Phone Number Utilities

// NormalizePhone strips formatting and returns an E.164 number. Ten digit
// numbers are assumed to be North American.
func NormalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", ErrInvalidPhone
	}
	cleaned := nonDigits.ReplaceAllString(phone, "")
	if len(cleaned) == 10 && !strings.HasPrefix(phone, "+") {
		cleaned = "1" + cleaned
	}
	if len(cleaned) < 8 || len(cleaned) > 15 || cleaned[0] == '0' {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}
	return "+" + cleaned, nil
}

func MaskPhoneNumber(phone string) string {
	cleaned := nonDigits.ReplaceAllString(phone, "")
	if len(cleaned) < 4 {
		return phone
	}

	visible := cleaned[len(cleaned)-4:]
	masked := strings.Repeat("*", len(cleaned)-4) + visible
	return "+" + masked
}

func FormatDuration(duration time.Duration) string {
	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	}
	if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	}
	return fmt.Sprintf("%dh %dm", int(duration.Hours()), int(duration.Minutes())%60)
}

func ClampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
