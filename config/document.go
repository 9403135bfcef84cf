// Package config implements the Config Compatibility Layer: parsing a user
// ConfigDocument, normalizing it, and deriving the assembler config the
// pipeline assembler consumes. Loading follows the teacher's builder-pattern
// Loader (YAML file + environment override), generalized from the
// agent-framework's flat settings object to RouteCodex's routing document.
package config

// Document is the ConfigDocument of the data model: the user-facing input,
// immutable for the lifetime of a process instance. Hot-reload is explicitly
// out of scope (see spec's Design Notes) — a new Document requires a new
// process.
type Document struct {
	InputProtocol  string                     `json:"inputProtocol" yaml:"inputProtocol"`
	OutputProtocol string                     `json:"outputProtocol" yaml:"outputProtocol"`
	Providers      map[string]ProviderDoc     `json:"providers" yaml:"providers"`
	Routing        map[string][]string        `json:"routing" yaml:"routing"`

	// RoutePolicy selects the Route Selector's category-internal pick when
	// no sticky-session binding applies: "round-robin" (default) or
	// "weighted", the latter scoring each pipeline by its model's Weight.
	RoutePolicy string `json:"routePolicy,omitempty" yaml:"routePolicy,omitempty"`

	// VirtualRouter mirrors the legacy top-level "providers" shape some
	// config documents still carry; normalization step 1 hoists it into
	// Providers. Kept as a distinct field so the normalizer can tell
	// "doc.Providers was already populated" apart from "needs hoisting".
	VirtualRouter *VirtualRouterDoc `json:"virtualrouter,omitempty" yaml:"virtualrouter,omitempty"`
}

// VirtualRouterDoc is the legacy nesting normalization step 1 hoists from.
type VirtualRouterDoc struct {
	Providers map[string]ProviderDoc `json:"providers" yaml:"providers"`
}

// ProviderDoc is one entry of ConfigDocument.Providers.
type ProviderDoc struct {
	Type          string                  `json:"type" yaml:"type"`
	BaseURL       string                  `json:"baseURL" yaml:"baseURL"`
	APIKey        APIKeyField             `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	OAuth         map[string]OAuthDoc     `json:"oauth,omitempty" yaml:"oauth,omitempty"`
	Models        map[string]ModelDoc     `json:"models" yaml:"models"`
	Compatibility *CompatibilityField     `json:"compatibility,omitempty" yaml:"compatibility,omitempty"`
}

// APIKeyField accepts either a single string or a string array in the raw
// document, mirroring the "apiKey: string|string[]" union the spec
// describes; UnmarshalJSON/UnmarshalYAML normalize both into Values.
type APIKeyField struct {
	Values []string
}

// CompatibilityField accepts either the shorthand string form
// ("iflow/thinking:enabled") or the structured {type, config} form; both are
// normalized by normalizeCompatibility into the structured shape.
type CompatibilityField struct {
	Shorthand string
	Type      string
	Config    map[string]any
}

// ModelDoc is one entry of ProviderDoc.Models.
type ModelDoc struct {
	MaxTokens     int                 `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	MaxContext    int                 `json:"maxContext,omitempty" yaml:"maxContext,omitempty"`
	Compatibility *CompatibilityField `json:"compatibility,omitempty" yaml:"compatibility,omitempty"`
	// Weight scores this model's pipeline(s) under the "weighted" route
	// policy; zero means "use the default weight of 1". Ignored under the
	// default round-robin policy.
	Weight int `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// OAuthDoc is one named OAuth descriptor under a provider's "oauth" map.
type OAuthDoc struct {
	TokenFile    string   `json:"tokenFile,omitempty" yaml:"tokenFile,omitempty"`
	ClientID     string   `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	ClientSecret string   `json:"clientSecret,omitempty" yaml:"clientSecret,omitempty"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	Family       string   `json:"family,omitempty" yaml:"family,omitempty"`
}
