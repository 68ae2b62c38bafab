// Package conductor implements the workflow execution engine: the front door
// that starts and claims executions, the planner/cache wiring, and the
// concurrent run loop that drives node attempts, retries, join readiness and
// fail-fast cancellation under a process-wide concurrency limit.
package conductor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/sync/semaphore"

	"goa.design/weave/runtime/actions"
	"goa.design/weave/runtime/conditions"
	"goa.design/weave/runtime/events"
	"goa.design/weave/runtime/plan"
	"goa.design/weave/runtime/store"
	"goa.design/weave/runtime/telemetry"
	"goa.design/weave/runtime/templates"
	"goa.design/weave/runtime/workflow"
)

type (
	// Engine executes published workflows. It is safe for concurrent use and
	// shares one concurrency limiter across every execution it runs.
	Engine struct {
		cfg      Config
		store    store.Gateway
		registry *actions.Registry
		invoker  actions.Invoker
		compiler *plan.Compiler
		plans    plan.Cache
		sink     events.Sink
		logger   telemetry.Logger
		metrics  telemetry.Metrics
		tracer   telemetry.Tracer
		sem      *semaphore.Weighted

		schemas sync.Map // schemaKey -> *jsonschema.Schema
		cancels sync.Map // executionID -> context.CancelCauseFunc
	}

	// Options configures a new Engine. Store, Registry, Conditions and
	// Templates are required; everything else has sensible defaults.
	Options struct {
		// Config is the engine configuration. Zero value means DefaultConfig.
		Config Config
		// Store is the persistence gateway. Required.
		Store store.Gateway
		// Registry is the action registry. Required.
		Registry *actions.Registry
		// Conditions compiles edge conditions. Required.
		Conditions conditions.Evaluator
		// Templates compiles parameter templates. Required.
		Templates templates.Engine
		// Invoker overrides the default dispatcher (registry + remote client
		// built from Config.Connectors).
		Invoker actions.Invoker
		// PlanCache overrides the default in-process cache.
		PlanCache plan.Cache
		// Events receives audit events in addition to the store. Optional.
		Events events.Sink
		// CatalogActions are registered during construction when
		// Config.Catalog.AutoRegisterActionsOnStartup is set.
		CatalogActions []actions.Handler
		// Logger, Metrics and Tracer default to no-ops.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// ExecuteRequest asks the engine to start one execution.
	ExecuteRequest struct {
		// RequestID is the idempotency key. The engine generates a UUID when
		// absent.
		RequestID string
		// Principal identifies who initiated the execution.
		Principal *workflow.Principal
		// Trigger is the trigger payload.
		Trigger map[string]any
		// TenantID scopes the execution.
		TenantID string
		// CorrelationID groups related executions; generated when absent.
		CorrelationID string
	}

	// StartResult reports the outcome of Start.
	StartResult struct {
		// ExecutionID identifies the execution.
		ExecutionID string
		// Status is the execution status at return time.
		Status store.ExecutionStatus
		// Existed is true when the request id matched an earlier start.
		Existed bool
	}

	schemaKey struct {
		workflowID string
		version    int
	}
)

// Cancellation causes distinguish why the workflow scope was torn down.
var (
	errNodeFailure    = errors.New("node failed permanently")
	errExternalCancel = errors.New("execution cancelled")
	errWorkflowExpiry = errors.New("workflow timeout")
)

// New builds an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("action registry is required")
	}
	if opts.Conditions == nil {
		return nil, errors.New("condition evaluator is required")
	}
	if opts.Templates == nil {
		return nil, errors.New("template engine is required")
	}
	cfg := opts.Config
	if cfg.MaxParallelActions == 0 {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		store:    opts.Store,
		registry: opts.Registry,
		compiler: plan.NewCompiler(opts.Conditions, opts.Templates),
		plans:    opts.PlanCache,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		sem:      semaphore.NewWeighted(int64(cfg.MaxParallelActions)),
	}
	if e.plans == nil {
		e.plans = plan.NewMemoryCache()
	}
	if e.logger == nil {
		e.logger = telemetry.NewNoopLogger()
	}
	if e.metrics == nil {
		e.metrics = telemetry.NewNoopMetrics()
	}
	if e.tracer == nil {
		e.tracer = telemetry.NewNoopTracer()
	}
	e.sink = events.NewStoreSink(opts.Store)
	if opts.Events != nil {
		e.sink = events.Multi{e.sink, opts.Events}
	}
	e.invoker = opts.Invoker
	if e.invoker == nil {
		var remote *actions.RemoteClient
		if len(cfg.Connectors) > 0 {
			remote = actions.NewRemoteClient(actions.NewConnectors(cfg.Connectors))
		}
		e.invoker = actions.NewDispatcher(opts.Registry, remote)
	}

	if cfg.Catalog.AutoRegisterActionsOnStartup {
		for _, h := range opts.CatalogActions {
			if err := opts.Registry.Register(h); err != nil {
				return nil, fmt.Errorf("register catalog action: %w", err)
			}
		}
	}
	if cfg.Catalog.ValidateActionSchemasOnStartup {
		for _, t := range opts.Registry.List() {
			h, err := opts.Registry.Resolve(t)
			if err != nil {
				continue
			}
			for name, raw := range map[string][]byte{"parameters": h.ParameterSchema, "outputs": h.OutputSchema} {
				if len(raw) == 0 {
					continue
				}
				if _, err := compileSchema(raw); err != nil {
					return nil, fmt.Errorf("action %q: invalid %s schema: %w", t, name, err)
				}
			}
		}
	}
	return e, nil
}

// Start idempotently creates and claims an execution and runs it in the
// background. It returns as soon as the execution row exists; callers poll
// the store or use Run for synchronous completion.
func (e *Engine) Start(ctx context.Context, workflowID string, req ExecuteRequest) (StartResult, error) {
	exec, existed, p, claimed, err := e.begin(ctx, workflowID, req)
	if err != nil {
		return StartResult{}, err
	}
	if claimed {
		go func() {
			// The run outlives the caller's request context by design.
			if _, err := e.execute(context.WithoutCancel(ctx), exec, p); err != nil {
				e.logger.Error(ctx, "execution failed", "execution_id", exec.ID, "err", err.Error())
			}
		}()
	}
	return StartResult{ExecutionID: exec.ID, Status: exec.Status, Existed: existed}, nil
}

// Run starts an execution and blocks until it reaches a terminal status,
// returning the final execution row. When the request id matches an earlier
// terminal execution the stored row is returned without rerunning.
func (e *Engine) Run(ctx context.Context, workflowID string, req ExecuteRequest) (store.Execution, error) {
	exec, _, p, claimed, err := e.begin(ctx, workflowID, req)
	if err != nil {
		return store.Execution{}, err
	}
	if !claimed {
		return e.store.GetExecution(ctx, exec.ID)
	}
	if _, err := e.execute(ctx, exec, p); err != nil {
		return store.Execution{}, err
	}
	return e.store.GetExecution(ctx, exec.ID)
}

// Cancel requests cancellation of an in-flight execution owned by this
// process. Executions already terminal are left untouched.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	v, ok := e.cancels.Load(executionID)
	if !ok {
		exec, err := e.store.GetExecution(ctx, executionID)
		if err != nil {
			return err
		}
		if exec.Status.Terminal() {
			return nil
		}
		return fmt.Errorf("execution %q is not running in this process", executionID)
	}
	v.(context.CancelCauseFunc)(errExternalCancel)
	return nil
}

// begin performs the shared start path: version resolution, trigger
// validation, idempotent row creation, plan resolution and the
// Pending->Running claim. claimed is false when the execution already ran or
// is running elsewhere.
func (e *Engine) begin(ctx context.Context, workflowID string, req ExecuteRequest) (exec store.Execution, existed bool, p *plan.Plan, claimed bool, err error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return store.Execution{}, false, nil, false, err
	}
	version := wf.CurrentVersion
	if wf.Status == workflow.StatusDraft {
		version = workflow.DraftVersion
	}

	p, def, err := e.planFor(ctx, workflowID, version)
	if err != nil {
		return store.Execution{}, false, nil, false, err
	}
	if len(def.TriggerSchema) > 0 {
		if err := e.validateTrigger(workflowID, version, def.TriggerSchema, req.Trigger); err != nil {
			return store.Execution{}, false, nil, false, err
		}
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	exec, existed, err = e.store.StartExecution(ctx, store.StartRequest{
		WorkflowID:    workflowID,
		RequestID:     req.RequestID,
		Version:       version,
		Trigger:       req.Trigger,
		Principal:     req.Principal,
		TenantID:      req.TenantID,
		CorrelationID: correlationID,
		AllowDraft:    e.cfg.Catalog.AllowDraftExecution,
	})
	if err != nil {
		return store.Execution{}, false, nil, false, err
	}
	if exec.Status.Terminal() {
		return exec, existed, p, false, nil
	}
	ok, err := e.store.TryAcquireExecution(ctx, exec.ID)
	if err != nil {
		return store.Execution{}, false, nil, false, err
	}
	return exec, existed, p, ok, nil
}

// planFor loads the cached plan or compiles it from the stored definition.
func (e *Engine) planFor(ctx context.Context, workflowID string, version int) (*plan.Plan, *workflow.Definition, error) {
	raw, err := e.store.GetDefinition(ctx, workflowID, version)
	if err != nil {
		return nil, nil, err
	}
	def, err := workflow.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	if p, ok, err := e.plans.Get(ctx, workflowID, version); err == nil && ok {
		return p, def, nil
	} else if err != nil {
		e.logger.Warn(ctx, "plan cache read failed", "workflow_id", workflowID, "err", err.Error())
	}
	p, err := e.compiler.Compile(def, version)
	if err != nil {
		return nil, nil, err
	}
	if err := e.plans.Put(ctx, p); err != nil {
		e.logger.Warn(ctx, "plan cache write failed", "workflow_id", workflowID, "err", err.Error())
	}
	return p, def, nil
}

// InvalidatePlans drops cached plans of a workflow. The lifecycle manager
// calls this after publishing a new version.
func (e *Engine) InvalidatePlans(ctx context.Context, workflowID string) error {
	return e.plans.Invalidate(ctx, workflowID)
}

func (e *Engine) validateTrigger(workflowID string, version int, schemaRaw []byte, trigger map[string]any) error {
	key := schemaKey{workflowID, version}
	var sch *jsonschema.Schema
	if v, ok := e.schemas.Load(key); ok {
		sch = v.(*jsonschema.Schema)
	} else {
		compiled, err := compileSchema(schemaRaw)
		if err != nil {
			return fmt.Errorf("trigger schema: %w", err)
		}
		e.schemas.Store(key, compiled)
		sch = compiled
	}
	// The validator wants plain decoded JSON.
	var doc any = map[string]any{}
	if trigger != nil {
		doc = anyJSON(trigger)
	}
	if err := sch.Validate(doc); err != nil {
		return &workflow.ValidationError{Issues: []workflow.Issue{{Path: "trigger", Message: err.Error()}}}
	}
	return nil
}

func compileSchema(raw []byte) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// anyJSON rewrites a decoded value into the generic JSON shape the schema
// validator expects (map[string]any / []any / float64 / string / bool / nil).
func anyJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = anyJSON(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = anyJSON(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
