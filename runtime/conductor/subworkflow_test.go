package conductor_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/weave/runtime/actions"
	"goa.design/weave/runtime/conductor"
	"goa.design/weave/runtime/store"
)

const childDefinition = `{
	"id": "child", "displayName": "Child", "startNode": "work",
	"nodes": [{"id": "work", "actionType": "core.echo", "parameters": {"got": "{{ .trigger.give }}"}}]
}`

func TestSubworkflowWaitsAndMergesOutputs(t *testing.T) {
	h := newHarness(t, nil)
	h.echo(t)
	h.publish(t, childDefinition)
	h.publish(t, `{
		"id": "parent", "displayName": "Parent", "startNode": "call",
		"nodes": [{"id": "call", "nodeType": "subworkflow", "workflowId": "child",
			"parameters": {"give": "{{ .trigger.payload }}"}}]
	}`)

	ctx := context.Background()
	exec, err := h.engine.Run(ctx, "parent", conductor.ExecuteRequest{
		RequestID: "r1",
		Trigger:   map[string]any{"payload": "abc"},
		TenantID:  "tenant-1",
	})
	require.NoError(t, err)
	require.Equal(t, store.ExecutionSucceeded, exec.Status)

	var snapshot map[string]map[string]any
	require.NoError(t, json.Unmarshal(exec.ContextSnapshot, &snapshot))
	childOutputs := snapshot["call"]["outputs"].(map[string]any)
	work := childOutputs["work"].(map[string]any)
	require.Equal(t, "abc", work["got"])

	children, err := h.store.ListChildren(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, "call", children[0].ParentNodeID)

	child, err := h.store.GetExecution(ctx, children[0].ChildExecutionID)
	require.NoError(t, err)
	require.Equal(t, store.ExecutionSucceeded, child.Status)
	require.Equal(t, exec.ID, child.ParentExecutionID)
	require.Equal(t, "tenant-1", child.TenantID)
	require.Equal(t, exec.CorrelationID, child.CorrelationID)
}

func TestSubworkflowFailurePropagates(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.registry.RegisterFunc("core.fail", func(context.Context, actions.Invocation) (*actions.Result, error) {
		return &actions.Result{Status: actions.StatusFailed, ErrorMessage: "child boom"}, nil
	}))
	h.publish(t, `{
		"id": "badchild", "displayName": "BC", "startNode": "n",
		"nodes": [{"id": "n", "actionType": "core.fail"}]
	}`)
	h.publish(t, `{
		"id": "parent2", "displayName": "P", "startNode": "call",
		"nodes": [{"id": "call", "nodeType": "subworkflow", "workflowId": "badchild"}]
	}`)

	exec, err := h.engine.Run(context.Background(), "parent2", conductor.ExecuteRequest{RequestID: "r1"})
	require.NoError(t, err)
	require.Equal(t, store.ExecutionFailed, exec.Status)

	rows := attemptsByNode(t, h.store, exec.ID)["call"]
	require.Equal(t, actions.StatusFailed, lastStatus(rows))
}

func TestSubworkflowDepthLimit(t *testing.T) {
	h := newHarness(t, func(cfg *conductor.Config) {
		cfg.Subworkflow.MaxNestingDepth = 1
	})
	h.echo(t)
	h.publish(t, childDefinition)
	// mid calls child: child sits at depth 1, allowed. parent calling mid
	// would put child at depth 2, rejected.
	h.publish(t, `{
		"id": "mid", "displayName": "M", "startNode": "call",
		"nodes": [{"id": "call", "nodeType": "subworkflow", "workflowId": "child",
			"parameters": {"give": "x"}}]
	}`)
	h.publish(t, `{
		"id": "top", "displayName": "T", "startNode": "call",
		"nodes": [{"id": "call", "nodeType": "subworkflow", "workflowId": "mid"}]
	}`)

	ctx := context.Background()
	exec, err := h.engine.Run(ctx, "mid", conductor.ExecuteRequest{RequestID: "ok"})
	require.NoError(t, err)
	require.Equal(t, store.ExecutionSucceeded, exec.Status)

	exec, err = h.engine.Run(ctx, "top", conductor.ExecuteRequest{RequestID: "deep"})
	require.NoError(t, err)
	require.Equal(t, store.ExecutionFailed, exec.Status)

	// The rejected child must not leave an execution row behind.
	mid, err := h.store.GetExecution(ctx, childOf(t, h, exec.ID))
	require.NoError(t, err)
	grandchildren, err := h.store.ListChildren(ctx, mid.ID)
	require.NoError(t, err)
	require.Empty(t, grandchildren)
}

func TestSubworkflowRecursionRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.echo(t)
	// selfref calls itself through its only node.
	h.publish(t, `{
		"id": "selfref", "displayName": "S", "startNode": "call",
		"nodes": [{"id": "call", "nodeType": "subworkflow", "workflowId": "selfref"}]
	}`)

	exec, err := h.engine.Run(context.Background(), "selfref", conductor.ExecuteRequest{RequestID: "r1"})
	require.NoError(t, err)
	require.Equal(t, store.ExecutionFailed, exec.Status)

	rows := attemptsByNode(t, h.store, exec.ID)["call"]
	require.Contains(t, rows[len(rows)-1].Error.Message, "recurses")
}

func TestSubworkflowFireAndForget(t *testing.T) {
	h := newHarness(t, nil)
	h.echo(t)
	h.publish(t, childDefinition)
	h.publish(t, `{
		"id": "async-parent", "displayName": "AP", "startNode": "call",
		"nodes": [{"id": "call", "nodeType": "subworkflow", "workflowId": "child",
			"waitForCompletion": false, "parameters": {"give": "x"}}]
	}`)

	ctx := context.Background()
	exec, err := h.engine.Run(ctx, "async-parent", conductor.ExecuteRequest{RequestID: "r1"})
	require.NoError(t, err)
	require.Equal(t, store.ExecutionSucceeded, exec.Status)

	childID := childOf(t, h, exec.ID)
	require.Eventually(t, func() bool {
		child, err := h.store.GetExecution(ctx, childID)
		return err == nil && child.Status == store.ExecutionSucceeded
	}, 5*time.Second, 10*time.Millisecond)
}

func childOf(t *testing.T, h *harness, parentID string) string {
	t.Helper()
	children, err := h.store.ListChildren(context.Background(), parentID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	return children[0].ChildExecutionID
}
