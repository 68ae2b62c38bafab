package sprig_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	sprigtemplates "goa.design/weave/features/templates/sprig"
	"goa.design/weave/runtime/templates"
)

func render(t *testing.T, params map[string]any, env templates.Env) map[string]any {
	t.Helper()
	renderer, err := sprigtemplates.New().Compile(params)
	require.NoError(t, err)
	out, err := renderer.Render(context.Background(), env)
	require.NoError(t, err)
	return out
}

func TestRenderInterpolatesTriggerContextAndVars(t *testing.T) {
	out := render(t, map[string]any{
		"greeting": "Hello {{ .trigger.name }}",
		"status":   `{{ index .context "fetch" "status" }}`,
		"run":      "{{ .vars.executionId }}",
	}, templates.Env{
		Trigger: map[string]any{"name": "Ada"},
		Context: map[string]map[string]any{"fetch": {"status": "ok"}},
		Vars:    map[string]any{"executionId": "e-1"},
	})
	require.Equal(t, "Hello Ada", out["greeting"])
	require.Equal(t, "ok", out["status"])
	require.Equal(t, "e-1", out["run"])
}

func TestRenderPreservesStructureAndLiterals(t *testing.T) {
	out := render(t, map[string]any{
		"count":   3,
		"enabled": true,
		"nested": map[string]any{
			"msg":  "{{ .trigger.msg }}",
			"list": []any{"{{ .trigger.msg }}", 7},
		},
	}, templates.Env{Trigger: map[string]any{"msg": "hi"}})
	require.Equal(t, 3, out["count"])
	require.Equal(t, true, out["enabled"])
	nested := out["nested"].(map[string]any)
	require.Equal(t, "hi", nested["msg"])
	require.Equal(t, []any{"hi", 7}, nested["list"])
}

func TestRenderSupportsSprigFunctions(t *testing.T) {
	out := render(t, map[string]any{
		"upper": "{{ .trigger.name | upper }}",
	}, templates.Env{Trigger: map[string]any{"name": "ada"}})
	require.Equal(t, "ADA", out["upper"])
}

func TestCompileRejectsBadSyntax(t *testing.T) {
	_, err := sprigtemplates.New().Compile(map[string]any{"v": "{{ .trigger.name"})
	require.Error(t, err)
}

func TestRenderFailsOnMissingKey(t *testing.T) {
	renderer, err := sprigtemplates.New().Compile(map[string]any{"v": "{{ .trigger.missing.deep }}"})
	require.NoError(t, err)
	_, err = renderer.Render(context.Background(), templates.Env{Trigger: map[string]any{}})
	require.Error(t, err)
}

func TestRenderHonorsContextCancellation(t *testing.T) {
	renderer, err := sprigtemplates.New().Compile(map[string]any{"v": "{{ .trigger.name }}"})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = renderer.Render(ctx, templates.Env{Trigger: map[string]any{"name": "x"}})
	require.ErrorIs(t, err, context.Canceled)
}
