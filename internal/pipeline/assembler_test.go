package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/config"
	"github.com/routecodex/routecodex/internal/dto"
)

type noopModule struct{}

func (noopModule) Initialize(context.Context) error { return nil }
func (noopModule) ProcessIncoming(_ context.Context, req *dto.Request) (*dto.Request, error) {
	return req, nil
}
func (noopModule) ProcessOutgoing(_ context.Context, resp *dto.Response) (*dto.Response, error) {
	return resp, nil
}
func (noopModule) Cleanup(context.Context) error { return nil }
func (noopModule) Capabilities() Capabilities     { return Capabilities{} }

type noopProvider struct{ failInit bool }

func (p noopProvider) Initialize(context.Context) error {
	if p.failInit {
		return assert.AnError
	}
	return nil
}
func (noopProvider) Execute(_ context.Context, req *dto.Request) (*dto.Response, error) {
	return &dto.Response{ID: req.ID}, nil
}
func (noopProvider) Cleanup(context.Context) error { return nil }
func (noopProvider) Capabilities() Capabilities    { return Capabilities{} }

func testRegistry() *Registry {
	reg := NewRegistry()
	reg.RegisterLLMSwitch("llmswitch-openai-openai", func(map[string]any, Dependencies) (Module, error) { return noopModule{}, nil })
	reg.RegisterWorkflow("streaming-control", func(map[string]any, Dependencies) (Module, error) { return noopModule{}, nil })
	reg.RegisterCompatibility("passthrough-compatibility", func(map[string]any, Dependencies) (Module, error) { return noopModule{}, nil })
	reg.RegisterProvider("openai-provider", func(map[string]any, Dependencies) (ProviderModule, error) { return noopProvider{}, nil })
	return reg
}

func baseNormalized() *config.Normalized {
	return &config.Normalized{
		InputProtocol: "openai-chat",
		Providers: map[string]config.NormalizedProvider{
			"openai": {
				ID:      "openai",
				Type:    "openai-provider",
				BaseURL: "https://api.openai.com",
				Keys:    map[string]string{"key1": "sk-real"},
			},
		},
	}
}

func baseAssemblerConfig() *config.AssemblerConfig {
	return &config.AssemblerConfig{
		Pipelines: map[string]config.PipelineConfig{
			"openai_key1.gpt-4": {
				ID: "openai_key1.gpt-4", ProviderID: "openai", ModelID: "gpt-4", KeyID: "key1",
				LLMSwitch:     config.ModuleConfig{Type: "llmswitch-openai-openai"},
				Workflow:      config.ModuleConfig{Type: "streaming-control"},
				Compatibility: config.ModuleConfig{Type: "passthrough-compatibility"},
				Provider:      config.ModuleConfig{Type: "openai-provider"},
			},
		},
		RouteTables: map[string][]string{"default": {"openai_key1.gpt-4"}},
		KeyMappings: config.KeyMappings{
			PerProvider: map[string]map[string]string{"openai": {"key1": "sk-real"}},
			Global:      map[string]string{},
			OAuth:       map[string]map[string]config.NormalizedOAuth{},
		},
	}
}

func TestAssemble_HappyPath(t *testing.T) {
	a := NewAssembler(testRegistry(), nil)
	result, warnings, err := a.Assemble(context.Background(), baseAssemblerConfig(), baseNormalized(), nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	pl, ok := result.Pipelines["openai_key1.gpt-4"]
	require.True(t, ok)
	assert.True(t, pl.Ready())
	assert.Equal(t, []string{"openai_key1.gpt-4"}, result.Pools["default"])
}

func TestAssemble_UnresolvedAuthDropsPipelineAndEmitsWarning(t *testing.T) {
	asmCfg := baseAssemblerConfig()
	asmCfg.KeyMappings.PerProvider["openai"] = map[string]string{} // key1 no longer resolves

	a := NewAssembler(testRegistry(), nil)
	result, warnings, err := a.Assemble(context.Background(), asmCfg, baseNormalized(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)
	assert.Empty(t, result.Pipelines)
}

func TestAssemble_MissingFactoryDropsPipeline(t *testing.T) {
	reg := testRegistry()
	delete(reg.compatibilities, "passthrough-compatibility")

	a := NewAssembler(reg, nil)
	result, warnings, err := a.Assemble(context.Background(), baseAssemblerConfig(), baseNormalized(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)
	assert.Empty(t, result.Pipelines)
	assert.Empty(t, result.Pools["default"], "route pool should not reference an unregistered pipeline")
}

func TestAssemble_RouteFallsBackToSameProviderFamily(t *testing.T) {
	asmCfg := baseAssemblerConfig()
	// Second registered pipeline of the same provider family; no route
	// references it directly.
	asmCfg.Pipelines["openai_key2.gpt-4"] = config.PipelineConfig{
		ID: "openai_key2.gpt-4", ProviderID: "openai", ModelID: "gpt-4", KeyID: "key2",
		LLMSwitch:     config.ModuleConfig{Type: "llmswitch-openai-openai"},
		Workflow:      config.ModuleConfig{Type: "streaming-control"},
		Compatibility: config.ModuleConfig{Type: "passthrough-compatibility"},
		Provider:      config.ModuleConfig{Type: "openai-provider"},
	}
	asmCfg.KeyMappings.PerProvider["openai"]["key2"] = "sk-real-2"
	// This route names only a pipeline id that will never register (no
	// matching KeyMappings entry for key99), so reconciliation must fall
	// back to the first registered pipeline sharing the "openai" provider
	// family rather than leaving the category empty.
	asmCfg.RouteTables["longContext"] = []string{"openai_key99.gpt-4"}

	norm := baseNormalized()

	a := NewAssembler(testRegistry(), nil)
	result, warnings, err := a.Assemble(context.Background(), asmCfg, norm, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)
	assert.ElementsMatch(t, []string{"openai_key1.gpt-4"}, result.Pools["longContext"])
}

func TestAssemble_NoRouteTablesSynthesizesDefault(t *testing.T) {
	asmCfg := baseAssemblerConfig()
	// No route category references the pipeline at all; reconciliation must
	// still synthesize a "default" pool around the sole registered pipeline
	// rather than leaving the pipeline completely unreachable.
	asmCfg.RouteTables = map[string][]string{}

	a := NewAssembler(testRegistry(), nil)
	result, warnings, err := a.Assemble(context.Background(), asmCfg, baseNormalized(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)
	assert.Equal(t, []string{"openai_key1.gpt-4"}, result.Pools["default"])
}

func TestAssemble_UnmatchedFamilyFallsBackToFirstRegistered(t *testing.T) {
	asmCfg := baseAssemblerConfig()
	asmCfg.RouteTables["thinking"] = []string{"ghost_key1.model"}

	a := NewAssembler(testRegistry(), nil)
	result, warnings, err := a.Assemble(context.Background(), asmCfg, baseNormalized(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)
	assert.Equal(t, []string{"openai_key1.gpt-4"}, result.Pools["thinking"])
}
