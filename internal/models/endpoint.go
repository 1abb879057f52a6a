package models

// DefaultAuthHeaderName is used when neither the endpoint nor the settings name a header.
const DefaultAuthHeaderName = "Authorization"

// Endpoint is one configured delivery target.
type Endpoint struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	URL            string `json:"url"`
	Credential     string `json:"apiKey"`
	AuthHeaderName string `json:"authHeaderName"`
	Active         bool   `json:"active"`
}

// HeaderName returns the auth header to use, falling back to the default.
func (e Endpoint) HeaderName() string {
	if e.AuthHeaderName == "" {
		return DefaultAuthHeaderName
	}
	return e.AuthHeaderName
}

// Deliverable reports whether the endpoint can be used for delivery.
func (e Endpoint) Deliverable() bool {
	return e.Active && e.URL != "" && e.Credential != ""
}
