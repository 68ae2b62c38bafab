package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/weave/runtime/workflow"
)

func mustParse(t *testing.T, raw string) *workflow.Definition {
	t.Helper()
	def, err := workflow.Parse([]byte(raw))
	require.NoError(t, err)
	return def
}

func TestValidateGraphAcceptsDiamond(t *testing.T) {
	def := mustParse(t, `{
		"id": "diamond", "displayName": "D", "startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "x", "edges": [{"targetNode": "b"}, {"targetNode": "c"}]},
			{"id": "b", "actionType": "x", "edges": [{"targetNode": "d"}]},
			{"id": "c", "actionType": "x", "edges": [{"targetNode": "d"}]},
			{"id": "d", "actionType": "x"}
		]
	}`)
	report := workflow.ValidateGraph(def)
	require.True(t, report.Valid())
	require.Empty(t, report.Warnings)
}

func TestValidateGraphMissingStartNode(t *testing.T) {
	def := mustParse(t, `{
		"id": "w", "displayName": "W", "startNode": "nope",
		"nodes": [{"id": "a", "actionType": "x"}]
	}`)
	report := workflow.ValidateGraph(def)
	require.False(t, report.Valid())
	require.Equal(t, "startNode", report.Errors[0].Path)
}

func TestValidateGraphDuplicateNodeIDs(t *testing.T) {
	def := mustParse(t, `{
		"id": "w", "displayName": "W", "startNode": "a",
		"nodes": [{"id": "a", "actionType": "x"}, {"id": "a", "actionType": "y"}]
	}`)
	report := workflow.ValidateGraph(def)
	require.False(t, report.Valid())
	require.Contains(t, report.Errors[0].Message, "duplicate")
}

func TestValidateGraphDanglingEdgeTarget(t *testing.T) {
	def := mustParse(t, `{
		"id": "w", "displayName": "W", "startNode": "a",
		"nodes": [{"id": "a", "actionType": "x", "edges": [{"targetNode": "ghost"}]}]
	}`)
	report := workflow.ValidateGraph(def)
	require.False(t, report.Valid())
	require.Contains(t, report.Errors[0].Path, "edges[0].targetNode")
}

func TestValidateGraphDanglingOnFailure(t *testing.T) {
	def := mustParse(t, `{
		"id": "w", "displayName": "W", "startNode": "a",
		"nodes": [{"id": "a", "actionType": "x", "onFailure": "ghost"}]
	}`)
	report := workflow.ValidateGraph(def)
	require.False(t, report.Valid())
	require.Contains(t, report.Errors[0].Path, "onFailure")
}

func TestValidateGraphDetectsCycle(t *testing.T) {
	def := mustParse(t, `{
		"id": "w", "displayName": "W", "startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "x", "edges": [{"targetNode": "b"}]},
			{"id": "b", "actionType": "x", "edges": [{"targetNode": "c"}]},
			{"id": "c", "actionType": "x", "edges": [{"targetNode": "a"}]}
		]
	}`)
	report := workflow.ValidateGraph(def)
	require.False(t, report.Valid())
	require.Contains(t, report.Errors[0].Message, "cycle")
}

func TestValidateGraphCycleThroughOnFailure(t *testing.T) {
	def := mustParse(t, `{
		"id": "w", "displayName": "W", "startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "x", "edges": [{"targetNode": "b"}]},
			{"id": "b", "actionType": "x", "onFailure": "a"}
		]
	}`)
	report := workflow.ValidateGraph(def)
	require.False(t, report.Valid())
	require.Contains(t, report.Errors[0].Message, "cycle")
}

func TestValidateGraphUnreachableIsWarning(t *testing.T) {
	def := mustParse(t, `{
		"id": "w", "displayName": "W", "startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "x"},
			{"id": "island", "actionType": "x"}
		]
	}`)
	report := workflow.ValidateGraph(def)
	require.True(t, report.Valid())
	require.Len(t, report.Warnings, 1)
	require.Contains(t, report.Warnings[0].Message, "unreachable")
}
