package workflow_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/weave/runtime/workflow"
)

func TestParseAppliesDefaults(t *testing.T) {
	def, err := workflow.Parse([]byte(`{
		"id": "order-sync",
		"displayName": "Order Sync",
		"startNode": "fetch",
		"nodes": [
			{"id": "fetch", "actionType": "http.get", "edges": [{"targetNode": "store"}]},
			{"id": "store", "actionType": "db.put"}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, def.Nodes, 2)

	fetch := def.Nodes[0]
	require.Equal(t, workflow.NodeAction, fetch.Type)
	require.Equal(t, workflow.RouteParallel, fetch.RoutePolicy)
	require.False(t, fetch.Policies.RerenderOnRetry)
	require.True(t, fetch.WaitForCompletion)
	require.Equal(t, workflow.EdgeOnSuccess, fetch.Edges[0].When)

	store := def.Nodes[1]
	require.Empty(t, store.Edges)
}

func TestParseSubworkflowDefaults(t *testing.T) {
	def, err := workflow.Parse([]byte(`{
		"id": "parent",
		"displayName": "Parent",
		"startNode": "child",
		"nodes": [{"id": "child", "nodeType": "subworkflow", "workflowId": "billing"}]
	}`))
	require.NoError(t, err)
	require.Equal(t, workflow.NodeSubworkflow, def.Nodes[0].Type)
	require.True(t, def.Nodes[0].WaitForCompletion)
}

func TestParseExplicitWaitForCompletionFalse(t *testing.T) {
	def, err := workflow.Parse([]byte(`{
		"id": "parent",
		"displayName": "Parent",
		"startNode": "child",
		"nodes": [{"id": "child", "nodeType": "subworkflow", "workflowId": "billing", "waitForCompletion": false}]
	}`))
	require.NoError(t, err)
	require.False(t, def.Nodes[0].WaitForCompletion)
}

func TestParseRejectsBadSlug(t *testing.T) {
	_, err := workflow.Parse([]byte(`{
		"id": "Bad_Slug",
		"displayName": "X",
		"startNode": "n",
		"nodes": [{"id": "n", "actionType": "a"}]
	}`))
	var verr *workflow.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "id", verr.Issues[0].Path)
}

func TestParseRejectsMissingActionType(t *testing.T) {
	_, err := workflow.Parse([]byte(`{
		"id": "w",
		"displayName": "X",
		"startNode": "n",
		"nodes": [{"id": "n"}]
	}`))
	var verr *workflow.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Error(), "actionType")
}

func TestParseRejectsMissingWorkflowIDOnSubworkflow(t *testing.T) {
	_, err := workflow.Parse([]byte(`{
		"id": "w",
		"displayName": "X",
		"startNode": "n",
		"nodes": [{"id": "n", "nodeType": "subworkflow"}]
	}`))
	var verr *workflow.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Error(), "workflowId")
}

func TestParseRejectsUnknownEnumValues(t *testing.T) {
	_, err := workflow.Parse([]byte(`{
		"id": "w",
		"displayName": "X",
		"startNode": "n",
		"nodes": [{"id": "n", "actionType": "a", "routePolicy": "sequential",
			"edges": [{"targetNode": "n", "when": "sometimes"}]}]
	}`))
	var verr *workflow.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Issues, 2)
}

func TestParseRejectsBadRetryPolicy(t *testing.T) {
	_, err := workflow.Parse([]byte(`{
		"id": "w",
		"displayName": "X",
		"startNode": "n",
		"nodes": [{"id": "n", "actionType": "a",
			"policies": {"retry": {"maxAttempts": 3, "baseDelayMs": 10, "backoffFactor": 0.5}}}]
	}`))
	var verr *workflow.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Error(), "backoffFactor")
}

func TestParseMalformedJSON(t *testing.T) {
	_, err := workflow.Parse([]byte(`{"id":`))
	var verr *workflow.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestParseRoundTripStable(t *testing.T) {
	raw := []byte(`{
		"id": "round-trip",
		"displayName": "Round Trip",
		"startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "x", "onFailure": "b",
				"policies": {"timeoutMs": 5000, "rerenderOnRetry": true,
					"retry": {"maxAttempts": 2, "baseDelayMs": 100, "backoffFactor": 2, "jitter": true}},
				"edges": [{"targetNode": "b", "when": "always", "condition": "trigger.go == true"}]},
			{"id": "b", "actionType": "y"}
		]
	}`)
	first, err := workflow.Parse(raw)
	require.NoError(t, err)

	serialized, err := json.Marshal(first)
	require.NoError(t, err)
	second, err := workflow.Parse(serialized)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
