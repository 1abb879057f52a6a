package settings

import (
	"fmt"
	"net/url"

	"smsrelay/internal/models"
)

// LegacyEndpointID identifies the endpoint synthesized from a legacy record.
const LegacyEndpointID = "legacy"

// ResolveActiveEndpoints parses a raw settings blob and returns its active,
// deliverable endpoints.
func ResolveActiveEndpoints(raw []byte) ([]models.Endpoint, error) {
	s, _, err := Migrate(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	endpoints, _ := Resolve(s)
	return endpoints, nil
}

// Resolve returns the active endpoints of s with their effective auth header
// filled in. The endpoint list wins over the legacy record, which is used only
// when the list is empty. An unusable endpoint is skipped on its own.
func Resolve(s Settings) ([]models.Endpoint, []string) {
	var warnings []string

	candidates := s.Endpoints
	if len(candidates) == 0 && s.Legacy != nil {
		candidates = []models.Endpoint{{
			ID:         LegacyEndpointID,
			Name:       "Default",
			URL:        s.Legacy.URL,
			Credential: s.Legacy.APIKey,
			Active:     true,
		}}
	}

	seen := make(map[string]bool, len(candidates))
	active := make([]models.Endpoint, 0, len(candidates))
	for _, ep := range candidates {
		if seen[ep.ID] {
			warnings = append(warnings, fmt.Sprintf("duplicate endpoint id %q ignored", ep.ID))
			continue
		}
		seen[ep.ID] = true

		if !ep.Active {
			continue
		}
		if ep.URL == "" || ep.Credential == "" {
			warnings = append(warnings, fmt.Sprintf("endpoint %q is missing its url or api key", ep.Name))
			continue
		}
		if err := validateURL(ep.URL); err != nil {
			warnings = append(warnings, fmt.Sprintf("endpoint %q has an invalid url: %v", ep.Name, err))
			continue
		}

		if ep.AuthHeaderName == "" {
			ep.AuthHeaderName = s.AuthHeaderName
		}
		if ep.AuthHeaderName == "" {
			ep.AuthHeaderName = models.DefaultAuthHeaderName
		}
		active = append(active, ep)
	}

	return active, warnings
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
