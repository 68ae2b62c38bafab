// Package expr implements the condition evaluation contract on top of
// expr-lang. Conditions compile to bytecode once at plan build time and
// evaluate against a read-only environment exposing trigger, context and
// vars. The VM observes context cancellation, so the conductor's per-eval
// timeout interrupts runaway expressions.
package expr

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"goa.design/weave/runtime/conditions"
)

type (
	// Evaluator implements conditions.Evaluator.
	Evaluator struct {
		opts []expr.Option
	}

	program struct {
		src      string
		compiled *vm.Program
	}
)

// New returns an expr-backed condition evaluator.
func New() *Evaluator {
	return &Evaluator{
		opts: []expr.Option{
			expr.AllowUndefinedVariables(),
			expr.AsBool(),
			expr.WithContext("ctx"),
		},
	}
}

// Compile implements conditions.Evaluator.
func (e *Evaluator) Compile(src string) (conditions.Program, error) {
	compiled, err := expr.Compile(src, e.opts...)
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", src, err)
	}
	return &program{src: src, compiled: compiled}, nil
}

// Eval implements conditions.Program.
func (p *program) Eval(ctx context.Context, env conditions.Env) (bool, error) {
	out, err := expr.Run(p.compiled, map[string]any{
		"ctx":     ctx,
		"trigger": orEmpty(env.Trigger),
		"context": orEmptyOutputs(env.Context),
		"vars":    orEmpty(env.Vars),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", p.src, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q returned %T, want bool", p.src, out)
	}
	return result, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptyOutputs(m map[string]map[string]any) map[string]map[string]any {
	if m == nil {
		return map[string]map[string]any{}
	}
	return m
}
