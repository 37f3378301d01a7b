package utils

import (
	"errors"
	"strconv"
	"strings"
)

// BadgeTokenPrefix is printed in front of the badge number on every QR badge
const BadgeTokenPrefix = "PALITANA_YATRA_"

// ErrNotBadgeToken is returned for tokens that do not follow the badge format
var ErrNotBadgeToken = errors.New("not a badge token")

// NormalizeToken canonicalizes a scanned token: trims whitespace and
// scanner suffixes, uppercases, and expands a bare badge number to a full token.
func NormalizeToken(raw string) string {
	token := strings.ToUpper(strings.TrimSpace(raw))
	token = strings.TrimRight(token, "\r\n\t ")
	if token == "" {
		return ""
	}
	if _, err := strconv.Atoi(token); err == nil {
		return BadgeToken(token)
	}
	return token
}

// BadgeToken builds the QR token for a badge number
func BadgeToken(badge string) string {
	return BadgeTokenPrefix + strings.TrimLeft(strings.TrimSpace(badge), "0")
}

// BadgeNumber extracts the numeric badge from a token
func BadgeNumber(token string) (int, error) {
	token = NormalizeToken(token)
	if !strings.HasPrefix(token, BadgeTokenPrefix) {
		return 0, ErrNotBadgeToken
	}
	n, err := strconv.Atoi(strings.TrimPrefix(token, BadgeTokenPrefix))
	if err != nil || n <= 0 {
		return 0, ErrNotBadgeToken
	}
	return n, nil
}
