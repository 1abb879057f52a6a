package privacy

import (
	"regexp"
	"strings"
)

// RedactedValue replaces secret material.
const RedactedValue = "***"

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\s,]+)`),
	regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)(Bearer\s+[^\s,]+)`),
	regexp.MustCompile(`(?i)(\bBearer\s+)([^\s,]+)`),
}

// RedactSecrets replaces secret-shaped values ("apiKey=...", "Authorization:
// Bearer ...") with RedactedValue, keeping the label.
func RedactSecrets(s string) string {
	if s == "" {
		return s
	}
	for _, p := range secretPatterns {
		s = p.ReplaceAllString(s, "${1}"+RedactedValue)
	}
	return s
}

// RedactData redacts every string value of a structured payload. Values under
// secret-looking keys are replaced outright.
func RedactData(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if isSecretKey(k) {
			out[k] = RedactedValue
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = RedactSecrets(val)
		case map[string]interface{}:
			out[k] = RedactData(val)
		case []interface{}:
			out[k] = redactList(val)
		default:
			out[k] = v
		}
	}
	return out
}

func redactList(list []interface{}) []interface{} {
	out := make([]interface{}, len(list))
	for i, v := range list {
		switch val := v.(type) {
		case string:
			out[i] = RedactSecrets(val)
		case map[string]interface{}:
			out[i] = RedactData(val)
		case []interface{}:
			out[i] = redactList(val)
		default:
			out[i] = v
		}
	}
	return out
}

func isSecretKey(key string) bool {
	k := strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(key))
	switch k {
	case "apikey", "credential", "authorization", "token", "secret", "password":
		return true
	}
	return false
}
