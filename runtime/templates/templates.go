// Package templates defines the parameter templating contract. Node
// parameters are template trees: maps and lists whose string leaves may
// interpolate values from the trigger payload, the accumulated execution
// context and engine variables. The planner precompiles each node's tree
// through an Engine at plan build time; the conductor renders the compiled
// form per attempt. A default implementation backed by text/template with
// sprig functions lives in features/templates/sprig.
package templates

import "context"

type (
	// Engine compiles parameter template trees. Implementations must reject
	// syntactically invalid templates at compile time so publish validation
	// can surface errors before a version is minted.
	Engine interface {
		// Compile walks the parameter tree and precompiles every string leaf.
		// The returned Renderer must be safe for concurrent rendering.
		Compile(params map[string]any) (Renderer, error)
	}

	// Renderer renders a precompiled parameter tree against an environment.
	// Rendering must be pure with respect to the environment and must honor
	// the context deadline; a render that exceeds it fails with the context
	// error. The conductor treats render failures as retriable node errors.
	Renderer interface {
		// Render produces the rendered parameter dictionary.
		Render(ctx context.Context, env Env) (map[string]any, error)
	}

	// Env is the read-only rendering environment exposed to templates.
	Env struct {
		// Trigger is the execution trigger payload.
		Trigger map[string]any
		// Context maps node ids to the outputs of completed nodes.
		Context map[string]map[string]any
		// Vars carries engine-provided variables (execution id, workflow id).
		Vars map[string]any
	}
)
