// Package auth implements the Auth Resolver and OAuth Managers of spec.md
// §4.2: resolving a pipeline's symbolic key/OAuth alias to a concrete
// credential at assembly time, and refreshing OAuth tokens at request time.
// The context-scoped override pattern is grounded on the teacher's
// llm/credentials.go; the refresh state machine and per-identity
// serialization are grounded on llm/apikey_pool.go's selection/locking
// idiom, generalized from a DB-backed pool to a file-backed OAuth store.
package auth

import "context"

// Override lets a caller pin a specific credential for the current request,
// bypassing the pipeline's assembled auth — used by tests and by any future
// per-request credential pinning feature.
type Override struct {
	APIKey string
}

func (o Override) String() string {
	if o.APIKey == "" {
		return "<empty>"
	}
	if len(o.APIKey) <= 8 {
		return "****"
	}
	return o.APIKey[:4] + "…" + o.APIKey[len(o.APIKey)-4:]
}

type overrideKey struct{}

// WithOverride attaches a credential override to ctx.
func WithOverride(ctx context.Context, o Override) context.Context {
	return context.WithValue(ctx, overrideKey{}, o)
}

// OverrideFromContext retrieves a credential override, if any.
func OverrideFromContext(ctx context.Context) (Override, bool) {
	o, ok := ctx.Value(overrideKey{}).(Override)
	return o, ok
}
