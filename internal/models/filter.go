package models

// FilterMode selects how the sender list is interpreted.
type FilterMode string

const (
	FilterModeAll       FilterMode = "all"
	FilterModeWhitelist FilterMode = "whitelist"
	FilterModeBlacklist FilterMode = "blacklist"
)

// MatchPolicy selects how a sender is compared against configured numbers.
type MatchPolicy string

const (
	// MatchExact compares normalized numbers for equality.
	MatchExact MatchPolicy = "exact"
	// MatchContains accepts substring containment in either direction.
	MatchContains MatchPolicy = "contains"
)

// DefaultCountryCode is prefixed to bare 10-digit numbers.
const DefaultCountryCode = "+1"

// FilterConfig decides which senders are eligible for forwarding.
type FilterConfig struct {
	Mode               FilterMode  `json:"mode"`
	Numbers            []string    `json:"numbers"`
	Match              MatchPolicy `json:"match"`
	DefaultCountryCode string      `json:"defaultCountryCode,omitempty"`
}

// Valid reports whether the mode is a known one.
func (m FilterMode) Valid() bool {
	switch m {
	case FilterModeAll, FilterModeWhitelist, FilterModeBlacklist:
		return true
	}
	return false
}

// Valid reports whether the match policy is a known one.
func (p MatchPolicy) Valid() bool {
	return p == MatchExact || p == MatchContains
}
