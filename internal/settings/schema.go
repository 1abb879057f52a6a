// Package settings reads the forwarding settings blob: the filter and the
// delivery endpoints. Older blob shapes are migrated to the current typed
// schema once, at load time.
package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"smsrelay/internal/models"
)

// CurrentVersion is the schema version written by Encode.
const CurrentVersion = 2

// RedactedCredential replaces credentials in settings handed to the UI.
const RedactedCredential = "***"

// Settings is the typed forwarding settings schema.
type Settings struct {
	Version        int                 `json:"version"`
	AuthHeaderName string              `json:"authHeaderName,omitempty"`
	Filter         models.FilterConfig `json:"filter"`
	Endpoints      []models.Endpoint   `json:"endpoints"`
	Legacy         *LegacyEndpoint     `json:"legacy,omitempty"`
}

// LegacyEndpoint is the single-endpoint record of early installs. It is only
// used when the endpoint list is empty.
type LegacyEndpoint struct {
	URL    string `json:"url"`
	APIKey string `json:"apiKey"`
}

// Empty returns the fail-open settings: forward everything, nowhere.
func Empty() Settings {
	return Settings{
		Version: CurrentVersion,
		Filter: models.FilterConfig{
			Mode:  models.FilterModeAll,
			Match: models.MatchExact,
		},
		Endpoints: []models.Endpoint{},
	}
}

// rawSettings accepts every known shape of the blob at once. It is filled
// field by field by decodeFields.
type rawSettings struct {
	Version        int
	AuthHeaderName string
	Filter         *rawFilter
	Endpoints      []json.RawMessage
	Legacy         *LegacyEndpoint

	// version 1 and earlier
	URL            string
	Endpoint       string
	APIKey         string
	PhoneNumbers   []string
	FilterMode     string
	AllowedNumbers []string
	BlockedNumbers []string
}

type rawFilter struct {
	Mode               string   `json:"mode"`
	Numbers            []string `json:"numbers"`
	Match              string   `json:"match"`
	DefaultCountryCode string   `json:"defaultCountryCode"`
}

type rawEndpoint struct {
	ID             json.RawMessage `json:"id"`
	Name           string          `json:"name"`
	URL            string          `json:"url"`
	APIKey         string          `json:"apiKey"`
	AuthHeaderName string          `json:"authHeaderName"`
	Active         *bool           `json:"active"`
}

// Parse never fails: malformed content yields Empty settings and a warning.
func Parse(raw []byte) (Settings, []string) {
	s, warnings, err := Migrate(raw)
	if err != nil {
		return Empty(), append(warnings, fmt.Sprintf("settings are malformed, using empty settings: %v", err))
	}
	return s, warnings
}

// Migrate converts any known blob shape into the current schema. It returns
// an error only when raw is not a JSON object. Fields of the wrong type and
// bad endpoint records are dropped with a warning; a malformed filter
// forwards all senders.
func Migrate(raw []byte) (Settings, []string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Empty(), nil, nil
	}

	var warnings []string
	warn := func(format string, args ...interface{}) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	in, err := decodeFields(raw, warn)
	if err != nil {
		return Empty(), nil, err
	}

	out := Empty()
	out.AuthHeaderName = strings.TrimSpace(in.AuthHeaderName)
	out.Filter = migrateFilter(in, warn)

	for i, rec := range in.Endpoints {
		ep, err := migrateEndpoint(i, rec)
		if err != nil {
			warn("skipping malformed endpoint record %d: %v", i+1, err)
			continue
		}
		out.Endpoints = append(out.Endpoints, ep)
	}

	switch {
	case in.Legacy != nil && (in.Legacy.URL != "" || in.Legacy.APIKey != ""):
		out.Legacy = &LegacyEndpoint{URL: strings.TrimSpace(in.Legacy.URL), APIKey: strings.TrimSpace(in.Legacy.APIKey)}
	case in.URL != "" || in.Endpoint != "":
		url := in.URL
		if url == "" {
			url = in.Endpoint
		}
		out.Legacy = &LegacyEndpoint{URL: strings.TrimSpace(url), APIKey: strings.TrimSpace(in.APIKey)}
	}

	return out, warnings, nil
}

// decodeFields splits the blob into its known fields and decodes each one on
// its own, so one field of the wrong type cannot take the endpoints down with
// it. Any bad filter field discards every filter field.
func decodeFields(raw []byte, warn func(string, ...interface{})) (rawSettings, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return rawSettings{}, err
	}

	field := func(key string, dst interface{}) bool {
		value, ok := top[key]
		if !ok {
			return true
		}
		if err := json.Unmarshal(value, dst); err != nil {
			warn("ignoring malformed settings field %q: %v", key, err)
			return false
		}
		return true
	}

	var in rawSettings
	field("version", &in.Version)
	field("authHeaderName", &in.AuthHeaderName)
	field("url", &in.URL)
	field("endpoint", &in.Endpoint)
	field("apiKey", &in.APIKey)
	if !field("endpoints", &in.Endpoints) {
		in.Endpoints = nil
	}
	if !field("legacy", &in.Legacy) {
		in.Legacy = nil
	}

	filterOK := field("filter", &in.Filter)
	filterOK = field("filterMode", &in.FilterMode) && filterOK
	filterOK = field("phoneNumbers", &in.PhoneNumbers) && filterOK
	filterOK = field("allowedNumbers", &in.AllowedNumbers) && filterOK
	filterOK = field("blockedNumbers", &in.BlockedNumbers) && filterOK
	if !filterOK {
		warn("filter settings are malformed, forwarding all senders")
		in.Filter, in.FilterMode = nil, ""
		in.PhoneNumbers, in.AllowedNumbers, in.BlockedNumbers = nil, nil, nil
	}

	return in, nil
}

func migrateFilter(in rawSettings, warn func(string, ...interface{})) models.FilterConfig {
	f := models.FilterConfig{Mode: models.FilterModeAll, Match: models.MatchExact}

	switch {
	case in.Filter != nil:
		f.Mode = parseMode(in.Filter.Mode, warn)
		f.Numbers = cleanNumbers(in.Filter.Numbers)
		f.DefaultCountryCode = strings.TrimSpace(in.Filter.DefaultCountryCode)
		switch policy := models.MatchPolicy(strings.ToLower(strings.TrimSpace(in.Filter.Match))); {
		case policy == "":
		case policy.Valid():
			f.Match = policy
		default:
			warn("unknown match policy %q, using exact", in.Filter.Match)
		}

	case in.FilterMode != "":
		f.Mode = parseMode(in.FilterMode, warn)
		switch f.Mode {
		case models.FilterModeWhitelist:
			f.Numbers = cleanNumbers(in.AllowedNumbers)
		case models.FilterModeBlacklist:
			f.Numbers = cleanNumbers(in.BlockedNumbers)
		}

	case len(cleanNumbers(in.PhoneNumbers)) > 0:
		// The native worker matched these by containment.
		f.Mode = models.FilterModeWhitelist
		f.Numbers = cleanNumbers(in.PhoneNumbers)
		f.Match = models.MatchContains
	}

	if f.DefaultCountryCode == "" {
		f.DefaultCountryCode = models.DefaultCountryCode
	}
	return f
}

func parseMode(mode string, warn func(string, ...interface{})) models.FilterMode {
	m := models.FilterMode(strings.ToLower(strings.TrimSpace(mode)))
	switch {
	case m == "" || m == "disabled":
		return models.FilterModeAll
	case m.Valid():
		return m
	}
	warn("unknown filter mode %q, forwarding all senders", mode)
	return models.FilterModeAll
}

func cleanNumbers(numbers []string) []string {
	seen := make(map[string]bool, len(numbers))
	out := make([]string, 0, len(numbers))
	for _, n := range numbers {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func migrateEndpoint(index int, raw json.RawMessage) (models.Endpoint, error) {
	var rec rawEndpoint
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.Endpoint{}, err
	}

	id, err := parseID(rec.ID)
	if err != nil {
		return models.Endpoint{}, err
	}
	if id == "" {
		id = strconv.Itoa(index + 1)
	}

	name := strings.TrimSpace(rec.Name)
	if name == "" {
		name = fmt.Sprintf("Endpoint %d", index+1)
	}

	active := true
	if rec.Active != nil {
		active = *rec.Active
	}

	return models.Endpoint{
		ID:             id,
		Name:           name,
		URL:            strings.TrimSpace(rec.URL),
		Credential:     strings.TrimSpace(rec.APIKey),
		AuthHeaderName: strings.TrimSpace(rec.AuthHeaderName),
		Active:         active,
	}, nil
}

// parseID accepts string and numeric ids.
func parseID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("invalid endpoint id %s", raw)
}

// Encode writes settings in the current schema.
func Encode(s Settings) ([]byte, error) {
	s.Version = CurrentVersion
	if s.Endpoints == nil {
		s.Endpoints = []models.Endpoint{}
	}
	return json.MarshalIndent(s, "", "  ")
}

// Redacted returns a copy with every credential masked.
func (s Settings) Redacted() Settings {
	out := s
	out.Endpoints = make([]models.Endpoint, len(s.Endpoints))
	for i, ep := range s.Endpoints {
		if ep.Credential != "" {
			ep.Credential = RedactedCredential
		}
		out.Endpoints[i] = ep
	}
	if s.Legacy != nil {
		legacy := *s.Legacy
		if legacy.APIKey != "" {
			legacy.APIKey = RedactedCredential
		}
		out.Legacy = &legacy
	}
	out.Filter.Numbers = append([]string(nil), s.Filter.Numbers...)
	return out
}

// RestoreCredentials puts back credentials that a client echoed as redacted,
// matching endpoints by id.
func RestoreCredentials(incoming, current Settings) Settings {
	known := make(map[string]string, len(current.Endpoints))
	for _, ep := range current.Endpoints {
		known[ep.ID] = ep.Credential
	}
	for i, ep := range incoming.Endpoints {
		if ep.Credential == RedactedCredential {
			incoming.Endpoints[i].Credential = known[ep.ID]
		}
	}
	if incoming.Legacy != nil && incoming.Legacy.APIKey == RedactedCredential {
		if current.Legacy != nil {
			incoming.Legacy.APIKey = current.Legacy.APIKey
		} else {
			incoming.Legacy.APIKey = ""
		}
	}
	return incoming
}
