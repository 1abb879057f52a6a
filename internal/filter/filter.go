// Package filter decides which senders are eligible for forwarding.
package filter

import (
	"strings"

	"smsrelay/internal/models"
)

// NormalizePhoneNumber keeps digits and a leading '+'. Numbers without a '+'
// gain one when longer than ten digits; exactly ten digits gain the default
// country code. Shorter values (short codes) are returned as digits.
func NormalizePhoneNumber(number, defaultCountryCode string) string {
	var b strings.Builder
	trimmed := strings.TrimSpace(number)
	for i, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}

	normalized := b.String()
	if normalized == "" || normalized == "+" {
		return ""
	}
	if strings.HasPrefix(normalized, "+") {
		return normalized
	}

	switch {
	case len(normalized) > 10:
		return "+" + normalized
	case len(normalized) == 10:
		if defaultCountryCode == "" {
			defaultCountryCode = models.DefaultCountryCode
		}
		return defaultCountryCode + normalized
	}
	return normalized
}

// ShouldForward applies the filter mode to a sender.
func ShouldForward(sender string, cfg models.FilterConfig) bool {
	switch cfg.Mode {
	case models.FilterModeWhitelist:
		return matchesAny(sender, cfg)
	case models.FilterModeBlacklist:
		return !matchesAny(sender, cfg)
	default:
		return true
	}
}

func matchesAny(sender string, cfg models.FilterConfig) bool {
	normalizedSender := NormalizePhoneNumber(sender, cfg.DefaultCountryCode)
	if normalizedSender == "" {
		// Alphanumeric senders ("BANK") have no digits; compare them verbatim.
		normalizedSender = strings.TrimSpace(sender)
	}
	if normalizedSender == "" {
		return false
	}

	for _, number := range cfg.Numbers {
		candidate := NormalizePhoneNumber(number, cfg.DefaultCountryCode)
		if candidate == "" {
			candidate = strings.TrimSpace(number)
		}
		if candidate == "" {
			continue
		}

		if cfg.Match == models.MatchContains {
			if strings.Contains(normalizedSender, candidate) || strings.Contains(candidate, normalizedSender) {
				return true
			}
			continue
		}
		if normalizedSender == candidate {
			return true
		}
	}
	return false
}
