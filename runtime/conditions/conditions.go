// Package conditions defines the edge condition evaluation contract. The
// conductor never interprets condition source itself: the planner precompiles
// every edge condition through an Evaluator at plan build time, and the
// conductor evaluates the resulting Program against a read-only snapshot of
// the run state. A default implementation backed by expr-lang lives in
// features/conditions/expr.
package conditions

import "context"

type (
	// Evaluator compiles condition source into executable programs.
	// Implementations must reject syntactically invalid source at compile
	// time so publish validation can surface errors before a version is
	// minted.
	Evaluator interface {
		// Compile parses and validates src, returning a reusable Program. The
		// returned Program must be safe for concurrent evaluation.
		Compile(src string) (Program, error)
	}

	// Program is a precompiled boolean condition. Evaluation must be pure:
	// the environment is read-only and repeated evaluation with the same
	// environment yields the same result. Implementations enforce their own
	// execution timeout and resource caps; the conductor additionally bounds
	// evaluation with the context deadline.
	Program interface {
		// Eval evaluates the condition. A non-boolean result or any runtime
		// failure is returned as an error; the conductor treats such errors
		// as a false condition and records an event.
		Eval(ctx context.Context, env Env) (bool, error)
	}

	// Env is the read-only evaluation environment exposed to conditions.
	Env struct {
		// Trigger is the execution trigger payload.
		Trigger map[string]any
		// Context maps node ids to the outputs of completed nodes.
		Context map[string]map[string]any
		// Vars carries engine-provided variables (execution id, workflow id).
		Vars map[string]any
	}
)
