// Package pipeline assembles and runs the four-stage request pipeline:
// LLMSwitch -> Workflow -> Compatibility -> Provider. One Pipeline exists
// per (provider, model, keyAlias) triple; the Route Selector picks among
// them per request, and the Assembler builds them from an AssemblerConfig.
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/routecodex/routecodex/internal/dto"
	"github.com/routecodex/routecodex/internal/provider"
)

// Capabilities describes what a module supports, so the assembler can
// validate compatibility between stages before wiring a pipeline together.
type Capabilities struct {
	Streaming       bool
	NativeToolCalls bool
}

// Module is the shape every LLMSwitch, Workflow, and Compatibility stage
// implements. Initialize/Cleanup bracket the pipeline's lifetime;
// ProcessIncoming/ProcessOutgoing run once per request, in forward order
// on the way in and reverse order on the way out.
type Module interface {
	Initialize(ctx context.Context) error
	ProcessIncoming(ctx context.Context, req *dto.Request) (*dto.Request, error)
	ProcessOutgoing(ctx context.Context, resp *dto.Response) (*dto.Response, error)
	Cleanup(ctx context.Context) error
	Capabilities() Capabilities
}

// ProviderModule is the Provider stage's shape. Its HTTP-call semantics
// take a request and produce a response directly, rather than the
// "forward then reverse" split the other three stages use — there is no
// outgoing leg separate from the call itself.
type ProviderModule interface {
	Initialize(ctx context.Context) error
	Execute(ctx context.Context, req *dto.Request) (*dto.Response, error)
	Cleanup(ctx context.Context) error
	Capabilities() Capabilities
}

// Dependencies bundles the assembler-provided collaborators a module
// factory needs beyond its own ModuleConfig.Config map.
type Dependencies struct {
	Logger     *zap.Logger
	ProviderID string
	ModelID    string
	KeyID      string
	BaseURL    string
	Credential provider.Credential // nil for LLMSwitch/Workflow/Compatibility factories
}

// Factory constructs a Module from its normalized configuration.
type Factory func(moduleConfig map[string]any, deps Dependencies) (Module, error)

// ProviderFactory constructs a ProviderModule.
type ProviderFactory func(moduleConfig map[string]any, deps Dependencies) (ProviderModule, error)
