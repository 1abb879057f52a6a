package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactSecrets(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"api key equals", "request failed api_key=sk_live_123, retrying", "request failed api_key=***, retrying"},
		{"apiKey colon", "apiKey: abc123", "apiKey: ***"},
		{"api-key mixed case", "API-KEY=xyz", "API-KEY=***"},
		{"authorization bearer", "Authorization: Bearer eyJhbGciOi.abc", "Authorization: ***"},
		{"bare bearer", "sent header Bearer tok123 to endpoint", "sent header Bearer *** to endpoint"},
		{"nothing secret", "delivered to Primary (200)", "delivered to Primary (200)"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactSecrets(tt.in))
		})
	}
}

func TestRedactData(t *testing.T) {
	out := RedactData(map[string]interface{}{
		"apiKey":   "abc",
		"header":   "Authorization=Bearer xyz",
		"attempt":  2,
		"endpoint": map[string]interface{}{"credential": "k", "name": "Primary"},
	})

	assert.Equal(t, RedactedValue, out["apiKey"])
	assert.Equal(t, "Authorization=***", out["header"])
	assert.Equal(t, 2, out["attempt"])
	nested := out["endpoint"].(map[string]interface{})
	assert.Equal(t, RedactedValue, nested["credential"])
	assert.Equal(t, "Primary", nested["name"])
	assert.Nil(t, RedactData(nil))
}

func TestRedactData_Lists(t *testing.T) {
	out := RedactData(map[string]interface{}{
		"endpoints": []interface{}{
			map[string]interface{}{"name": "Primary", "apiKey": "k1"},
			"Bearer abc",
			[]interface{}{map[string]interface{}{"token": "t"}},
		},
	})

	list := out["endpoints"].([]interface{})
	assert.Equal(t, RedactedValue, list[0].(map[string]interface{})["apiKey"])
	assert.Equal(t, "Primary", list[0].(map[string]interface{})["name"])
	assert.Equal(t, "Bearer ***", list[1])
	inner := list[2].([]interface{})
	assert.Equal(t, RedactedValue, inner[0].(map[string]interface{})["token"])
}
