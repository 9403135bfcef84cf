package config

import (
	"fmt"
	"strings"
)

// buildKeyMappings derives the two-level KeyMappings index from the
// normalized providers: each provider's exploded key1..keyN become its
// per-provider aliases, and its OAuth descriptors its OAuth aliases. The
// Global map is returned empty; no alias is promoted into it here.
func buildKeyMappings(norm *Normalized) (KeyMappings, error) {
	km := KeyMappings{
		PerProvider: make(map[string]map[string]string, len(norm.Providers)),
		Global:      make(map[string]string),
		OAuth:       make(map[string]map[string]NormalizedOAuth, len(norm.Providers)),
	}
	for _, providerID := range sortedKeys(norm.Providers) {
		p := norm.Providers[providerID]
		km.PerProvider[providerID] = p.Keys
		km.OAuth[providerID] = p.OAuth
	}
	return km, nil
}

// buildAssemblerConfig materializes one PipelineConfig per declared route
// target and the per-category route tables, per §3/§4.1.
func buildAssemblerConfig(norm *Normalized, km KeyMappings, warnings *[]Warning) (*AssemblerConfig, error) {
	asm := &AssemblerConfig{
		Pipelines:    make(map[string]PipelineConfig),
		RouteTables:  make(map[string][]string, len(norm.Routing)),
		RoutePolicy:  norm.RoutePolicy,
		RouteWeights: make(map[string]int),
	}

	for _, category := range sortedKeys(norm.Routing) {
		var pipelineIDs []string
		for _, target := range norm.Routing[category] {
			rt, err := parseRouteTarget(target, norm)
			if err != nil {
				return nil, fmt.Errorf("routing %q: %w", category, err)
			}
			provider, ok := norm.Providers[rt.providerID]
			if !ok {
				return nil, fmt.Errorf("routing %q: unknown provider %q", category, rt.providerID)
			}
			if _, ok := provider.Models[rt.modelID]; !ok {
				return nil, fmt.Errorf("routing %q: provider %q has no model %q", category, rt.providerID, rt.modelID)
			}
			keyID := rt.keyID
			if keyID == "" {
				keyID = "key1"
			}
			if _, isStatic := km.Resolve(rt.providerID, keyID); !isStatic {
				if _, isOAuth := km.ResolveOAuth(rt.providerID, keyID); !isOAuth {
					return nil, fmt.Errorf("routing %q: target %q: key alias %q unresolved", category, target, keyID)
				}
			}

			pipelineID := rt.providerID + "_" + keyID + "." + rt.modelID
			if _, exists := asm.Pipelines[pipelineID]; !exists {
				asm.Pipelines[pipelineID] = buildPipelineConfig(pipelineID, rt.providerID, rt.modelID, keyID, provider, norm.InputProtocol)
			}
			if weight := provider.Models[rt.modelID].Weight; weight > 0 {
				asm.RouteWeights[pipelineID] = weight
			}
			pipelineIDs = append(pipelineIDs, pipelineID)
		}
		asm.RouteTables[category] = dedupStrings(pipelineIDs)
	}

	asm.KeyMappings = km
	return asm, nil
}

type routeTarget struct {
	providerID, modelID, keyID string
}

// parseRouteTarget parses "provider.model[.keyAlias]". Model ids may contain
// dots themselves (e.g. "glm-4.6"): everything after the first dot is the
// model id when it names a declared model of that provider; otherwise the
// last dot-separated segment is taken as the key alias.
func parseRouteTarget(s string, norm *Normalized) (routeTarget, error) {
	providerID, rest, ok := strings.Cut(s, ".")
	if !ok || providerID == "" || rest == "" {
		return routeTarget{}, fmt.Errorf("malformed route target %q: expected provider.model[.keyAlias]", s)
	}
	rt := routeTarget{providerID: providerID, modelID: rest}
	if p, ok := norm.Providers[providerID]; ok {
		if _, isModel := p.Models[rest]; isModel {
			return rt, nil
		}
	}
	if i := strings.LastIndexByte(rest, '.'); i >= 0 {
		rt.modelID, rt.keyID = rest[:i], rest[i+1:]
	}
	return rt, nil
}

// llmSwitchForProtocol is the default LLMSwitch resolution of §4.4 step 1.
func llmSwitchForProtocol(inputProtocol string) string {
	switch inputProtocol {
	case "anthropic", "anthropic-messages":
		return "llmswitch-anthropic-openai"
	case "openai-responses", "responses":
		return "llmswitch-response-chat"
	default:
		return "llmswitch-openai-openai"
	}
}

func buildPipelineConfig(pipelineID, providerID, modelID, keyID string, provider NormalizedProvider, inputProtocol string) PipelineConfig {
	compatType := provider.Compatibility.Type
	if compatType == "" {
		compatType = "passthrough-compatibility"
	}
	return PipelineConfig{
		ID:         pipelineID,
		ProviderID: providerID,
		ModelID:    modelID,
		KeyID:      keyID,
		LLMSwitch: ModuleConfig{
			Type: llmSwitchForProtocol(inputProtocol),
		},
		Workflow: ModuleConfig{
			Type:   "streaming-control",
			Config: map[string]any{"streamingToNonStreaming": true},
		},
		Compatibility: ModuleConfig{
			Type:   compatType,
			Config: provider.Compatibility.Config,
		},
		Provider: ModuleConfig{
			Type: provider.Type,
			Config: map[string]any{
				"baseURL": provider.BaseURL,
				"model":   modelID,
			},
		},
	}
}
