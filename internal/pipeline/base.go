package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/routecodex/routecodex/internal/ctxkeys"
	"github.com/routecodex/routecodex/internal/dto"
	"github.com/routecodex/routecodex/types"
)

// BasePipeline is the runtime of spec.md §4.5: one instance per
// (provider, model, keyAlias) triple, wiring exactly four modules and
// executing them in strict request order on the way in and reverse order
// on the way out. Grounded on the teacher's llm/middleware/chain.go
// chain-of-responsibility Handler/Middleware/Chain shape, generalized from
// an open-ended middleware list to the four named stages spec.md fixes.
type BasePipeline struct {
	ID            string
	LLMSwitch     Module
	Workflow      Module
	Compatibility Module
	Provider      ProviderModule
	logger        *zap.Logger
}

// New wires the four already-initialized modules into one pipeline. The
// assembler is responsible for calling Initialize on each module before
// handing them here.
func New(id string, llmSwitch, workflow, compatibility Module, provider ProviderModule, logger *zap.Logger) *BasePipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BasePipeline{
		ID:            id,
		LLMSwitch:     llmSwitch,
		Workflow:      workflow,
		Compatibility: compatibility,
		Provider:      provider,
		logger:        logger.With(zap.String("pipeline", id)),
	}
}

// Ready reports whether all four modules are set (non-nil); module
// capabilities are not consulted. The assembler checks this for every
// pipeline it builds before registering it.
func (p *BasePipeline) Ready() bool {
	return p.LLMSwitch != nil && p.Workflow != nil && p.Compatibility != nil && p.Provider != nil
}

// Run executes one request through the pipeline per §4.5's execution
// policy: forward traversal (LLMSwitch -> Workflow -> Compatibility ->
// Provider), then reverse traversal on the response
// (Provider -> Compatibility -> Workflow -> LLMSwitch). On any module
// error, the reverse traversal short-circuits and the error is returned
// for the pipeline runtime's caller to translate into a client-facing
// error envelope (§7).
func (p *BasePipeline) Run(ctx context.Context, req *dto.Request) (*dto.Response, error) {
	logger := p.logger
	if traceID, ok := ctxkeys.TraceID(ctx); ok {
		logger = logger.With(zap.String("trace_id", traceID))
	}
	logger.Debug("pipeline run started")
	start := time.Now()
	resp, err := p.run(ctx, req)
	if err != nil {
		logger.Warn("pipeline run failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
	} else {
		logger.Debug("pipeline run completed", zap.Duration("duration", time.Since(start)))
	}
	return resp, err
}

func (p *BasePipeline) run(ctx context.Context, req *dto.Request) (*dto.Response, error) {
	req, err := p.runIncoming(ctx, p.LLMSwitch, req)
	if err != nil {
		return nil, err
	}
	req, err = p.runIncoming(ctx, p.Workflow, req)
	if err != nil {
		return nil, err
	}
	req, err = p.runIncoming(ctx, p.Compatibility, req)
	if err != nil {
		return nil, err
	}

	resp, err := p.runProvider(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err = p.runOutgoing(ctx, p.Compatibility, resp, req.Debug)
	if err != nil {
		return nil, err
	}
	resp, err = p.runOutgoing(ctx, p.Workflow, resp, req.Debug)
	if err != nil {
		return nil, err
	}
	resp, err = p.runOutgoing(ctx, p.LLMSwitch, resp, req.Debug)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *BasePipeline) runIncoming(ctx context.Context, m Module, req *dto.Request) (*dto.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.ErrRequestCancelled, "request cancelled before stage").WithCause(err)
	}
	start := time.Now()
	out, err := m.ProcessIncoming(ctx, req)
	req.Debug.Record(moduleName(m), "incoming", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *BasePipeline) runOutgoing(ctx context.Context, m Module, resp *dto.Response, debug *dto.DebugInfo) (*dto.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.ErrRequestCancelled, "request cancelled before stage").WithCause(err)
	}
	start := time.Now()
	out, err := m.ProcessOutgoing(ctx, resp)
	debug.Record(moduleName(m), "outgoing", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *BasePipeline) runProvider(ctx context.Context, req *dto.Request) (*dto.Response, error) {
	start := time.Now()
	resp, err := p.Provider.Execute(ctx, req)
	if req.Debug != nil {
		req.Debug.Record("provider", "execute", time.Since(start), err)
	}
	return resp, err
}

// Cleanup tears down every module, in the reverse of initialization order,
// collecting every error rather than stopping at the first.
func (p *BasePipeline) Cleanup(ctx context.Context) error {
	var errs []error
	if err := p.Provider.Cleanup(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := p.Compatibility.Cleanup(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := p.Workflow.Cleanup(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := p.LLMSwitch.Cleanup(ctx); err != nil {
		errs = append(errs, err)
	}
	return joinErrors(errs)
}

func moduleName(m Module) string {
	if named, ok := m.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "module"
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
