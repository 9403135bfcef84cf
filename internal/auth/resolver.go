package auth

import (
	"fmt"
	"strings"

	"github.com/routecodex/routecodex/config"
	"github.com/routecodex/routecodex/types"
)

// Credential is the concrete auth block the pipeline assembler injects into
// a provider module's config.
type Credential struct {
	Type   string // "apikey" | "oauth"
	APIKey string
	OAuth  *config.NormalizedOAuth
}

// ResolveAuth implements §4.2's resolveAuth(providerId, keyId, mappings)
// operation: keyId resolves against a static key alias first, then an
// OAuth alias, then a base-URL host match across all providers (recovering
// a shared key) before failing with AuthUnresolved.
func ResolveAuth(providerID, keyID string, mappings config.KeyMappings, norm *config.Normalized) (Credential, error) {
	if key, ok := mappings.Resolve(providerID, keyID); ok {
		return Credential{Type: "apikey", APIKey: key}, nil
	}
	if o, ok := mappings.ResolveOAuth(providerID, keyID); ok {
		oc := o
		return Credential{Type: "oauth", OAuth: &oc}, nil
	}

	if norm != nil {
		if cred, ok := resolveByHostMatch(providerID, keyID, mappings, norm); ok {
			return cred, nil
		}
	}

	return Credential{}, types.NewError(types.ErrAuthUnresolved,
		fmt.Sprintf("no key or oauth alias %q resolvable for provider %q", keyID, providerID))
}

// resolveByHostMatch recovers a shared API key by matching base-URL hosts
// across providers: if another provider serving the same host already
// resolved keyID, reuse its key. This models the fallback the spec
// describes for "a shared key" scenarios (e.g. two provider entries
// pointing at the same self-hosted gateway under different aliases).
func resolveByHostMatch(providerID, keyID string, mappings config.KeyMappings, norm *config.Normalized) (Credential, bool) {
	target, ok := norm.Providers[providerID]
	if !ok || target.BaseURL == "" {
		return Credential{}, false
	}
	targetHost := hostOf(target.BaseURL)

	for otherID, other := range norm.Providers {
		if otherID == providerID || hostOf(other.BaseURL) != targetHost {
			continue
		}
		if key, ok := mappings.Resolve(otherID, keyID); ok {
			return Credential{Type: "apikey", APIKey: key}, true
		}
	}
	return Credential{}, false
}

func hostOf(url string) string {
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	if i := strings.IndexByte(url, '/'); i >= 0 {
		url = url[:i]
	}
	return url
}
