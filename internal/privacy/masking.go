package privacy

import (
	"net/url"
	"strings"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+15551234567" -> "+*******4567"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	return maskString(phone, 4)
}

// MaskSender masks numeric senders like phone numbers. Alphanumeric sender
// ids ("BANK") identify organisations, not people, and are kept.
func MaskSender(sender string) string {
	if sender == "" {
		return ""
	}
	for _, r := range sender {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return sender
		}
	}
	return MaskPhoneNumber(sender)
}

// MaskURL reduces an endpoint URL to scheme and host.
// Example: "https://hooks.example.com/sms?token=abc" -> "https://hooks.example.com"
func MaskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return maskString(raw, 4)
	}
	return u.Scheme + "://" + u.Host
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}

		switch k {
		case "sender", "phone", "phone_number", "from":
			masked[k] = MaskSender(s)
		case "url", "endpoint_url":
			masked[k] = MaskURL(s)
		default:
			if isSecretKey(k) {
				masked[k] = RedactedValue
			} else {
				masked[k] = RedactSecrets(s)
			}
		}
	}

	return masked
}
