package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// providerTypeAliases is the explicit alias table of normalization step 2.
var providerTypeAliases = map[string]string{
	"glm":      "glm-http-provider",
	"qwen":     "qwen-provider",
	"openai":   "openai-provider",
	"chat":     "openai-provider",
	"lmstudio": "lmstudio-http-provider",
	"iflow":    "iflow-provider",
}

// baseURLHeuristics maps a BaseURL substring to the provider type it implies
// when the declared type is empty or unrecognized.
var baseURLHeuristics = []struct {
	substr string
	typ    string
}{
	{"open.bigmodel.cn/api/coding/paas", "glm-http-provider"},
	{"open.bigmodel.cn", "glm-http-provider"},
	{"dashscope.aliyuncs.com", "qwen-provider"},
	{"api.openai.com", "openai-provider"},
	{"iflow.cn", "iflow-provider"},
}

var toolNameSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeToolName enforces the [A-Za-z0-9_-]{1,64} tool-name constraint
// the Anthropic<->Chat codec's tool-definition conversion relies on.
func SanitizeToolName(name string) string {
	sanitized := toolNameSanitizer.ReplaceAllString(name, "_")
	if sanitized == "" {
		sanitized = "tool"
	}
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	return sanitized
}

// Process runs the six normalizations of §4.1 in order and derives the
// AssemblerConfig. Any resolution error is fatal; heuristic overrides and
// missing-OAuth-file conditions only emit warnings.
func Process(doc Document) (*Normalized, []Warning, *AssemblerConfig, error) {
	var warnings []Warning

	doc = hoistLegacyProviders(doc, &warnings)

	norm := &Normalized{
		InputProtocol:  doc.InputProtocol,
		OutputProtocol: doc.OutputProtocol,
		Providers:      make(map[string]NormalizedProvider, len(doc.Providers)),
		Routing:        make(map[string][]string, len(doc.Routing)),
		RoutePolicy:    doc.RoutePolicy,
	}

	for _, providerID := range sortedKeys(doc.Providers) {
		pdoc := doc.Providers[providerID]

		ptype := canonicalizeProviderType(providerID, pdoc, &warnings)

		keys := explodeAPIKeys(pdoc.APIKey)

		oauths := make(map[string]NormalizedOAuth, len(pdoc.OAuth))
		for _, name := range sortedKeys(pdoc.OAuth) {
			o, err := normalizeOAuth(providerID, name, pdoc.OAuth[name])
			if err != nil {
				return nil, warnings, nil, fmt.Errorf("provider %q oauth %q: %w", providerID, name, err)
			}
			if _, statErr := os.Stat(o.TokenFile); statErr != nil {
				warnings = append(warnings, Warning{
					Stage: "normalizeOAuth",
					Message: fmt.Sprintf("provider %q oauth %q: token file %q not found yet (will be created on first auth)",
						providerID, name, o.TokenFile),
				})
			}
			oauths[name] = o
		}
		compat, err := normalizeCompatibility(pdoc.Compatibility)
		if err != nil {
			return nil, warnings, nil, fmt.Errorf("provider %q compatibility: %w", providerID, err)
		}

		if len(pdoc.Models) == 0 {
			return nil, warnings, nil, fmt.Errorf("provider %q declares no models", providerID)
		}

		norm.Providers[providerID] = NormalizedProvider{
			ID:            providerID,
			Type:          ptype,
			BaseURL:       pdoc.BaseURL,
			Keys:          keys,
			OAuth:         oauths,
			Models:        pdoc.Models,
			Compatibility: compat,
		}
	}

	for _, category := range sortedKeys(doc.Routing) {
		targets := append([]string(nil), doc.Routing[category]...)
		norm.Routing[category] = dedupStrings(targets)
	}

	keyMappings, err := buildKeyMappings(norm)
	if err != nil {
		return nil, warnings, nil, err
	}

	asmCfg, err := buildAssemblerConfig(norm, keyMappings, &warnings)
	if err != nil {
		return nil, warnings, nil, err
	}

	return norm, warnings, asmCfg, nil
}

// hoistLegacyProviders is normalization step 1: move legacy top-level
// "virtualrouter.providers" into doc.Providers.
func hoistLegacyProviders(doc Document, warnings *[]Warning) Document {
	if doc.VirtualRouter == nil || len(doc.VirtualRouter.Providers) == 0 {
		return doc
	}
	if doc.Providers == nil {
		doc.Providers = make(map[string]ProviderDoc)
	}
	for id, p := range doc.VirtualRouter.Providers {
		if _, exists := doc.Providers[id]; !exists {
			doc.Providers[id] = p
			*warnings = append(*warnings, Warning{
				Stage:   "hoistLegacyProviders",
				Message: fmt.Sprintf("provider %q hoisted from legacy virtualrouter.providers", id),
			})
		}
	}
	doc.VirtualRouter = nil
	return doc
}

// canonicalizeProviderType is normalization step 2.
func canonicalizeProviderType(providerID string, p ProviderDoc, warnings *[]Warning) string {
	if p.Type != "" {
		if canon, ok := providerTypeAliases[p.Type]; ok {
			return canon
		}
		return p.Type
	}
	for _, h := range baseURLHeuristics {
		if strings.Contains(p.BaseURL, h.substr) {
			*warnings = append(*warnings, Warning{
				Stage: "canonicalizeProviderType",
				Message: fmt.Sprintf("provider %q type inferred as %q from baseURL heuristic",
					providerID, h.typ),
			})
			return h.typ
		}
	}
	*warnings = append(*warnings, Warning{
		Stage:   "canonicalizeProviderType",
		Message: fmt.Sprintf("provider %q has no declared or inferable type; defaulting to openai-provider", providerID),
	})
	return "openai-provider"
}

// explodeAPIKeys is normalization step 3: apiKey: string|string[] -> {key1..keyN}.
func explodeAPIKeys(f APIKeyField) map[string]string {
	keys := make(map[string]string, len(f.Values))
	for i, v := range f.Values {
		keys[fmt.Sprintf("key%d", i+1)] = v
	}
	return keys
}

// normalizeCompatibility is normalization step 4: shorthand string form
// "iflow/thinking:enabled" parses into {type, config}.
func normalizeCompatibility(f *CompatibilityField) (NormalizedCompatibility, error) {
	if f == nil {
		return NormalizedCompatibility{}, nil
	}
	if f.Type != "" {
		return NormalizedCompatibility{Type: f.Type, Config: f.Config}, nil
	}
	if f.Shorthand == "" {
		return NormalizedCompatibility{}, nil
	}
	return parseCompatibilityShorthand(f.Shorthand)
}

// parseCompatibilityShorthand parses "family/key:value" into
// {type:"family-compatibility", config:{key:{enabled:true}}} (the value
// "enabled" maps to an enabled:true flag and "disabled" to enabled:false;
// any other value is kept as a string under the same key).
func parseCompatibilityShorthand(s string) (NormalizedCompatibility, error) {
	familyAndRest, kv, ok := strings.Cut(s, ":")
	if !ok {
		return NormalizedCompatibility{}, fmt.Errorf("invalid compatibility shorthand %q: missing ':'", s)
	}
	family, key, ok := strings.Cut(familyAndRest, "/")
	if !ok {
		return NormalizedCompatibility{}, fmt.Errorf("invalid compatibility shorthand %q: missing '/'", s)
	}
	var value any = kv
	if kv == "enabled" {
		value = map[string]any{"enabled": true}
	} else if kv == "disabled" {
		value = map[string]any{"enabled": false}
	}
	return NormalizedCompatibility{
		Type:   family + "-compatibility",
		Config: map[string]any{key: value},
	}, nil
}

// normalizeOAuth is normalization step 5: resolve tokenFile with ~
// expansion and per-family defaults.
func normalizeOAuth(providerID, name string, o OAuthDoc) (NormalizedOAuth, error) {
	tokenFile := o.TokenFile
	if tokenFile == "" {
		tokenFile = defaultTokenFilePath(providerID, name, o.Family)
	}
	tokenFile = expandHome(tokenFile)
	return NormalizedOAuth{
		Name:         name,
		TokenFile:    tokenFile,
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		Scopes:       o.Scopes,
		Family:       o.Family,
	}, nil
}

func defaultTokenFilePath(providerID, name, family string) string {
	switch family {
	case "qwen":
		return "~/.qwen/oauth_creds.json"
	case "iflow":
		return "~/.iflow/oauth_creds.json"
	default:
		return fmt.Sprintf("~/.routecodex/tokens/%s-%s.json", providerID, name)
	}
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
