package expr_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	exprconditions "goa.design/weave/features/conditions/expr"
	"goa.design/weave/runtime/conditions"
)

func TestCompileRejectsBadSyntax(t *testing.T) {
	_, err := exprconditions.New().Compile("trigger.x ==")
	require.Error(t, err)
}

func TestEvalBooleanExpressions(t *testing.T) {
	prog, err := exprconditions.New().Compile(`trigger.count > 3 && context.fetch.status == "ok"`)
	require.NoError(t, err)

	env := conditions.Env{
		Trigger: map[string]any{"count": 5},
		Context: map[string]map[string]any{"fetch": {"status": "ok"}},
	}
	ok, err := prog.Eval(context.Background(), env)
	require.NoError(t, err)
	require.True(t, ok)

	env.Trigger["count"] = 1
	ok, err = prog.Eval(context.Background(), env)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvalUndefinedVariablesAreNil(t *testing.T) {
	prog, err := exprconditions.New().Compile("trigger.missing == nil")
	require.NoError(t, err)
	ok, err := prog.Eval(context.Background(), conditions.Env{})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvalVars(t *testing.T) {
	prog, err := exprconditions.New().Compile(`vars.workflowId == "billing"`)
	require.NoError(t, err)
	ok, err := prog.Eval(context.Background(), conditions.Env{
		Vars: map[string]any{"workflowId": "billing"},
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvalRuntimeErrorSurfaces(t *testing.T) {
	prog, err := exprconditions.New().Compile(`trigger.count / trigger.zero > 1`)
	require.NoError(t, err)
	_, err = prog.Eval(context.Background(), conditions.Env{
		Trigger: map[string]any{"count": 1, "zero": 0},
	})
	require.Error(t, err)
}

func TestEvalProgramIsReusable(t *testing.T) {
	prog, err := exprconditions.New().Compile("trigger.v == 1")
	require.NoError(t, err)
	for range 3 {
		ok, err := prog.Eval(context.Background(), conditions.Env{Trigger: map[string]any{"v": 1}})
		require.NoError(t, err)
		require.True(t, ok)
	}
}
