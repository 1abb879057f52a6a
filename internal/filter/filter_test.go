package filter

import (
	"testing"

	"smsrelay/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhoneNumber(t *testing.T) {
	tests := []struct {
		name string
		in   string
		cc   string
		want string
	}{
		{"already e164", "+15551234567", "", "+15551234567"},
		{"formatted e164", "+1 (555) 123-4567", "", "+15551234567"},
		{"eleven digits gain plus", "15551234567", "", "+15551234567"},
		{"ten digits gain default code", "(555) 123-4567", "", "+15551234567"},
		{"ten digits custom code", "5551234567", "+44", "+445551234567"},
		{"short code untouched", "72345", "", "72345"},
		{"inner plus dropped", "555+1234567", "", "+15551234567"},
		{"letters only", "BANK", "", ""},
		{"empty", "", "", ""},
		{"lone plus", "+", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhoneNumber(tt.in, tt.cc))
		})
	}
}

func TestShouldForward_Modes(t *testing.T) {
	numbers := []string{"+15551234567"}

	t.Run("all always forwards", func(t *testing.T) {
		cfg := models.FilterConfig{Mode: models.FilterModeAll, Numbers: numbers}
		assert.True(t, ShouldForward("+15551234567", cfg))
		assert.True(t, ShouldForward("+19998887777", cfg))
	})

	t.Run("whitelist forwards only listed", func(t *testing.T) {
		cfg := models.FilterConfig{Mode: models.FilterModeWhitelist, Numbers: numbers}
		assert.True(t, ShouldForward("+15551234567", cfg))
		assert.True(t, ShouldForward("5551234567", cfg))
		assert.False(t, ShouldForward("+19998887777", cfg))
	})

	t.Run("blacklist forwards all but listed", func(t *testing.T) {
		cfg := models.FilterConfig{Mode: models.FilterModeBlacklist, Numbers: numbers}
		assert.False(t, ShouldForward("+15551234567", cfg))
		assert.True(t, ShouldForward("+19998887777", cfg))
	})

	t.Run("empty whitelist forwards nothing", func(t *testing.T) {
		cfg := models.FilterConfig{Mode: models.FilterModeWhitelist}
		assert.False(t, ShouldForward("+15551234567", cfg))
	})

	t.Run("unknown mode fails open", func(t *testing.T) {
		cfg := models.FilterConfig{Mode: "bogus", Numbers: numbers}
		assert.True(t, ShouldForward("+15551234567", cfg))
	})
}

func TestShouldForward_MatchPolicy(t *testing.T) {
	exact := models.FilterConfig{Mode: models.FilterModeWhitelist, Numbers: []string{"72345"}, Match: models.MatchExact}
	assert.True(t, ShouldForward("72345", exact))
	assert.False(t, ShouldForward("+172345999", exact))

	contains := exact
	contains.Match = models.MatchContains
	assert.True(t, ShouldForward("+172345999", contains), "sender contains configured number")

	reverse := models.FilterConfig{Mode: models.FilterModeBlacklist, Numbers: []string{"+15551234567"}, Match: models.MatchContains}
	assert.False(t, ShouldForward("1234567", reverse), "configured number contains sender")
	assert.True(t, ShouldForward("99999", reverse))
}

func TestShouldForward_AlphanumericSender(t *testing.T) {
	cfg := models.FilterConfig{Mode: models.FilterModeBlacklist, Numbers: []string{"BANK"}}
	assert.False(t, ShouldForward("BANK", cfg))
	assert.True(t, ShouldForward("SHOP", cfg))
}

// Whitelist and blacklist are complements for any sender.
func TestShouldForward_WhitelistBlacklistComplement(t *testing.T) {
	numbers := []string{"+15551234567", "+447700900123", "72345"}
	senders := []string{"+15551234567", "5551234567", "+447700900123", "72345", "+10000000000", "ALERTS", ""}

	for _, match := range []models.MatchPolicy{models.MatchExact, models.MatchContains} {
		white := models.FilterConfig{Mode: models.FilterModeWhitelist, Numbers: numbers, Match: match}
		black := models.FilterConfig{Mode: models.FilterModeBlacklist, Numbers: numbers, Match: match}
		for _, s := range senders {
			assert.NotEqual(t, ShouldForward(s, white), ShouldForward(s, black), "sender %q match %s", s, match)
		}
	}
}
