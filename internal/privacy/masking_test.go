package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPhoneNumber(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"+", "+"},
		{"+1234", "+****"},
		{"+15551234567", "+*******4567"},
		{"5551234567", "******4567"},
		{"123", "***"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskPhoneNumber(tt.in), tt.in)
	}
}

func TestMaskSender(t *testing.T) {
	assert.Equal(t, "+*******4567", MaskSender("+15551234567"))
	assert.Equal(t, "BANK", MaskSender("BANK"))
	assert.Equal(t, "*2345", MaskSender("72345"))
	assert.Equal(t, "", MaskSender(""))
}

func TestMaskURL(t *testing.T) {
	assert.Equal(t, "https://hooks.example.com", MaskURL("https://hooks.example.com/sms?token=abc"))
	assert.Equal(t, "", MaskURL(""))
	assert.Equal(t, "**********path", MaskURL("not-a-url-path"))
}

func TestMaskSensitiveFields(t *testing.T) {
	masked := MaskSensitiveFields(map[string]interface{}{
		"sender":      "+15551234567",
		"url":         "https://a.example.com/x",
		"api_key":     "abc",
		"message":     "sent with apiKey=abc123",
		"status_code": 500,
	})

	assert.Equal(t, "+*******4567", masked["sender"])
	assert.Equal(t, "https://a.example.com", masked["url"])
	assert.Equal(t, RedactedValue, masked["api_key"])
	assert.Equal(t, "sent with apiKey=***", masked["message"])
	assert.Equal(t, 500, masked["status_code"])
	assert.Nil(t, MaskSensitiveFields(nil))
}
