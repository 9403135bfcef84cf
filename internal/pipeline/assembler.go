package pipeline

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/routecodex/routecodex/config"
	"github.com/routecodex/routecodex/internal/auth"
	"github.com/routecodex/routecodex/internal/provider"
)

func sortStrings(s []string) { sort.Strings(s) }

func initAll(ctx context.Context, modules ...Module) error {
	for _, m := range modules {
		if err := m.Initialize(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Registry is the name -> constructor dispatch table the assembler
// resolves module types against, grounded on the teacher's
// llm/factory/factory.go string-keyed factory map.
type Registry struct {
	llmSwitches     map[string]Factory
	workflows       map[string]Factory
	compatibilities map[string]Factory
	providers       map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{
		llmSwitches:     make(map[string]Factory),
		workflows:       make(map[string]Factory),
		compatibilities: make(map[string]Factory),
		providers:       make(map[string]ProviderFactory),
	}
}

func (r *Registry) RegisterLLMSwitch(name string, f Factory)     { r.llmSwitches[name] = f }
func (r *Registry) RegisterWorkflow(name string, f Factory)      { r.workflows[name] = f }
func (r *Registry) RegisterCompatibility(name string, f Factory) { r.compatibilities[name] = f }
func (r *Registry) RegisterProvider(name string, f ProviderFactory) {
	r.providers[name] = f
}

// Assembler builds the pipeline registry and route pools from an
// AssemblerConfig, per §4.4's five-step algorithm.
type Assembler struct {
	registry *Registry
	logger   *zap.Logger
}

func NewAssembler(registry *Registry, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{registry: registry, logger: logger}
}

// Assembled is the result of assembly: the pipeline registry plus the
// reconciled route pools (§4.4 step 5).
type Assembled struct {
	Pipelines map[string]*BasePipeline
	Pools     map[string][]string
}

// Assemble runs §4.4's algorithm: resolve each declared pipeline's four
// module types, instantiate and initialize them in dependency order
// (LLMSwitch, Workflow, Compatibility, Provider — Provider last since it is
// the only one needing a resolved Credential), register the pipeline, then
// reconcile route pools against what actually registered.
func (a *Assembler) Assemble(ctx context.Context, asmCfg *config.AssemblerConfig, norm *config.Normalized, oauthManager *auth.Manager) (*Assembled, []string, error) {
	pipelines := make(map[string]*BasePipeline, len(asmCfg.Pipelines))
	var warnings []string

	for _, id := range sortedPipelineIDs(asmCfg.Pipelines) {
		pc := asmCfg.Pipelines[id]

		credential, err := a.resolveCredential(pc, asmCfg.KeyMappings, norm, oauthManager)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("pipeline %q: auth unresolved: %v", id, err))
			continue
		}

		providerNorm := norm.Providers[pc.ProviderID]
		deps := Dependencies{
			Logger:     a.logger,
			ProviderID: pc.ProviderID,
			ModelID:    pc.ModelID,
			KeyID:      pc.KeyID,
			BaseURL:    providerNorm.BaseURL,
			Credential: credential,
		}

		llmSwitch, err := a.buildModule(a.registry.llmSwitches, pc.LLMSwitch, deps)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("pipeline %q: llmSwitch: %v", id, err))
			continue
		}
		workflow, err := a.buildModule(a.registry.workflows, pc.Workflow, deps)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("pipeline %q: workflow: %v", id, err))
			continue
		}
		compatibility, err := a.buildModule(a.registry.compatibilities, pc.Compatibility, deps)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("pipeline %q: compatibility: %v", id, err))
			continue
		}
		providerModule, err := a.buildProviderModule(pc.Provider, deps)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("pipeline %q: provider: %v", id, err))
			continue
		}

		initErr := initAll(ctx, llmSwitch, workflow, compatibility)
		if initErr == nil {
			initErr = providerModule.Initialize(ctx)
		}
		if initErr != nil {
			warnings = append(warnings, fmt.Sprintf("pipeline %q: initialize: %v", id, initErr))
			continue
		}

		pl := New(id, llmSwitch, workflow, compatibility, providerModule, a.logger)
		if !pl.Ready() {
			warnings = append(warnings, fmt.Sprintf("pipeline %q: not ready after assembly", id))
			continue
		}
		pipelines[id] = pl
	}

	pools := a.reconcilePools(asmCfg.RouteTables, pipelines, &warnings)

	return &Assembled{Pipelines: pipelines, Pools: pools}, warnings, nil
}

// reconcilePools implements §4.4 step 5: drop route entries whose pipeline
// failed to register; if a route ends up empty, fill it from the first
// available pipeline of the same provider family, or, when no registered
// pipeline shares a family with the route, from the first registered
// pipeline (by sorted id) of any family; if all routes collapse,
// synthesize a "default" pool from the first registered pipeline.
func (a *Assembler) reconcilePools(routeTables map[string][]string, pipelines map[string]*BasePipeline, warnings *[]string) map[string][]string {
	pools := make(map[string][]string, len(routeTables))

	for _, category := range sortedStrings(routeTables) {
		var kept []string
		for _, id := range routeTables[category] {
			if _, ok := pipelines[id]; ok {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			if fallback, ok := firstPipelineOfFamily(routeTables[category], pipelines); ok {
				kept = []string{fallback}
				*warnings = append(*warnings, fmt.Sprintf("route %q: filled from provider-family fallback %q", category, fallback))
			}
		}
		pools[category] = kept
	}

	if allPoolsEmpty(pools) {
		if id, ok := firstRegisteredPipeline(pipelines); ok {
			pools["default"] = []string{id}
			*warnings = append(*warnings, fmt.Sprintf("all routes collapsed; synthesized default pool with %q", id))
		}
	}

	return pools
}

func (a *Assembler) resolveCredential(pc config.PipelineConfig, km config.KeyMappings, norm *config.Normalized, oauthManager *auth.Manager) (provider.Credential, error) {
	cred, err := auth.ResolveAuth(pc.ProviderID, pc.KeyID, km, norm)
	if err != nil {
		return nil, err
	}
	switch cred.Type {
	case "apikey":
		return provider.StaticKeyCredential(cred.APIKey), nil
	case "oauth":
		return provider.OAuthCredential{Manager: oauthManager, Desc: *cred.OAuth}, nil
	default:
		return nil, fmt.Errorf("unknown credential type %q", cred.Type)
	}
}

func (a *Assembler) buildModule(factories map[string]Factory, mc config.ModuleConfig, deps Dependencies) (Module, error) {
	factory, ok := factories[mc.Type]
	if !ok {
		return nil, fmt.Errorf("no factory registered for type %q", mc.Type)
	}
	return factory(mc.Config, deps)
}

func (a *Assembler) buildProviderModule(mc config.ModuleConfig, deps Dependencies) (ProviderModule, error) {
	factory, ok := a.registry.providers[mc.Type]
	if !ok {
		return nil, fmt.Errorf("no provider factory registered for type %q", mc.Type)
	}
	return factory(mc.Config, deps)
}

func sortedPipelineIDs(m map[string]config.PipelineConfig) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sortStrings(out)
	return out
}

func sortedStrings(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sortStrings(out)
	return out
}

func firstPipelineOfFamily(wantedIDs []string, pipelines map[string]*BasePipeline) (string, bool) {
	wantedProviders := make(map[string]bool)
	for _, id := range wantedIDs {
		wantedProviders[providerPrefix(id)] = true
	}
	for _, id := range sortedPipelineKeys(pipelines) {
		if wantedProviders[providerPrefix(id)] {
			return id, true
		}
	}
	return firstRegisteredPipeline(pipelines)
}

func firstRegisteredPipeline(pipelines map[string]*BasePipeline) (string, bool) {
	keys := sortedPipelineKeys(pipelines)
	if len(keys) == 0 {
		return "", false
	}
	return keys[0], true
}

func sortedPipelineKeys(pipelines map[string]*BasePipeline) []string {
	out := make([]string, 0, len(pipelines))
	for k := range pipelines {
		out = append(out, k)
	}
	sortStrings(out)
	return out
}

func providerPrefix(pipelineID string) string {
	for i := 0; i < len(pipelineID); i++ {
		if pipelineID[i] == '_' {
			return pipelineID[:i]
		}
	}
	return pipelineID
}

func allPoolsEmpty(pools map[string][]string) bool {
	for _, ids := range pools {
		if len(ids) > 0 {
			return false
		}
	}
	return true
}
