package config

import "sort"

// Normalized is the NormalizedConfig of the data model: canonical provider
// types, exploded keys, validated OAuth token-file paths, inferred
// compatibility/LLMSwitch defaults.
type Normalized struct {
	InputProtocol  string
	OutputProtocol string
	Providers      map[string]NormalizedProvider
	Routing        map[string][]string
	// RoutePolicy is the Route Selector's category-internal pick policy:
	// "round-robin" (the zero value behaves this way) or "weighted".
	RoutePolicy string
}

type NormalizedProvider struct {
	ID            string
	Type          string
	BaseURL       string
	Keys          map[string]string  // "key1".."keyN" -> real key
	OAuth         map[string]NormalizedOAuth
	Models        map[string]ModelDoc
	Compatibility NormalizedCompatibility
}

type NormalizedCompatibility struct {
	Type   string
	Config map[string]any
}

type NormalizedOAuth struct {
	Name         string
	TokenFile    string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Family       string
}

// KeyMappings is the two-level alias index of the data model: per-provider
// takes precedence over global.
type KeyMappings struct {
	PerProvider map[string]map[string]string // providerId -> alias -> realKey
	Global      map[string]string
	OAuth       map[string]map[string]NormalizedOAuth // providerId -> alias -> descriptor
}

// Resolve looks up alias for providerId: provider-local wins, then global.
// The empty string, false return means the alias is not a static key (it
// may be an OAuth alias, or simply unresolvable).
func (k KeyMappings) Resolve(providerID, alias string) (string, bool) {
	if perP, ok := k.PerProvider[providerID]; ok {
		if v, ok := perP[alias]; ok {
			return v, true
		}
	}
	if v, ok := k.Global[alias]; ok {
		return v, true
	}
	return "", false
}

// ResolveOAuth looks up an OAuth descriptor for providerId/alias.
func (k KeyMappings) ResolveOAuth(providerID, alias string) (NormalizedOAuth, bool) {
	if perP, ok := k.OAuth[providerID]; ok {
		if v, ok := perP[alias]; ok {
			return v, true
		}
	}
	return NormalizedOAuth{}, false
}

// Warning is a non-fatal issue surfaced during normalization (e.g. a
// heuristic provider-type inference, or a missing OAuth token file).
type Warning struct {
	Stage   string
	Message string
}

// AssemblerConfig is the {routeTargets + per-pipeline module declarations +
// key mappings + auth mappings} bundle the Pipeline Assembler consumes.
type AssemblerConfig struct {
	Pipelines   map[string]PipelineConfig // pipelineId -> config
	RouteTables map[string][]string       // category -> ordered pipelineIds
	KeyMappings KeyMappings
	// RoutePolicy and RouteWeights carry the "weighted" policy's inputs
	// through to route.NewWeightedSelector; RouteWeights maps pipelineId to
	// its configured model weight (absent entries default to 1).
	RoutePolicy  string
	RouteWeights map[string]int
}

// PipelineConfig mirrors the data model's PipelineConfig entity.
type PipelineConfig struct {
	ID            string
	ProviderID    string
	ModelID       string
	KeyID         string
	LLMSwitch     ModuleConfig
	Workflow      ModuleConfig
	Compatibility ModuleConfig
	Provider      ModuleConfig
}

type ModuleConfig struct {
	Type   string
	Config map[string]any
}

// sortedKeys returns a deterministic, lexically sorted key list — used by
// normalization step 6.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
