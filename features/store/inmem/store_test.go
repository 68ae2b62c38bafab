package inmem_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/weave/features/store/inmem"
	"goa.design/weave/runtime/actions"
	"goa.design/weave/runtime/store"
	"goa.design/weave/runtime/workflow"
)

func activeWorkflow(t *testing.T, s *inmem.Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateWorkflow(context.Background(), workflow.Workflow{
		ID:             id,
		DisplayName:    id,
		CurrentVersion: 1,
		Status:         workflow.StatusActive,
		Enabled:        true,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}))
}

func start(t *testing.T, s *inmem.Store, workflowID, requestID string) store.Execution {
	t.Helper()
	exec, existed, err := s.StartExecution(context.Background(), store.StartRequest{
		WorkflowID: workflowID,
		RequestID:  requestID,
		Trigger:    map[string]any{"k": "v"},
	})
	require.NoError(t, err)
	require.False(t, existed)
	return exec
}

func TestStartExecutionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	activeWorkflow(t, s, "w")

	first := start(t, s, "w", "req-1")
	second, existed, err := s.StartExecution(ctx, store.StartRequest{WorkflowID: "w", RequestID: "req-1"})
	require.NoError(t, err)
	require.True(t, existed)
	require.Equal(t, first.ID, second.ID)
}

func TestStartExecutionRequestIDConflictAcrossWorkflows(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	activeWorkflow(t, s, "w1")
	activeWorkflow(t, s, "w2")
	start(t, s, "w1", "req-1")

	_, _, err := s.StartExecution(ctx, store.StartRequest{WorkflowID: "w2", RequestID: "req-1"})
	require.Equal(t, store.CodeRequestIDConflict, store.CodeOf(err))
}

func TestStartExecutionStatusChecks(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()

	_, _, err := s.StartExecution(ctx, store.StartRequest{WorkflowID: "ghost", RequestID: "r"})
	require.ErrorIs(t, err, store.ErrWorkflowNotFound)

	require.NoError(t, s.CreateWorkflow(ctx, workflow.Workflow{ID: "draft", Status: workflow.StatusDraft}))
	_, _, err = s.StartExecution(ctx, store.StartRequest{WorkflowID: "draft", RequestID: "r"})
	require.ErrorIs(t, err, store.ErrWorkflowNotActive)
	_, _, err = s.StartExecution(ctx, store.StartRequest{WorkflowID: "draft", RequestID: "r", AllowDraft: true})
	require.NoError(t, err)

	require.NoError(t, s.CreateWorkflow(ctx, workflow.Workflow{
		ID: "off", Status: workflow.StatusActive, Enabled: false, CurrentVersion: 1,
	}))
	_, _, err = s.StartExecution(ctx, store.StartRequest{WorkflowID: "off", RequestID: "r2"})
	require.ErrorIs(t, err, store.ErrWorkflowDisabled)
}

func TestTryAcquireExecutionIsCAS(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	activeWorkflow(t, s, "w")
	exec := start(t, s, "w", "req-1")

	ok, err := s.TryAcquireExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.TryAcquireExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompleteExecutionTransitions(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	activeWorkflow(t, s, "w")
	exec := start(t, s, "w", "req-1")

	// Pending -> terminal is illegal.
	err := s.CompleteExecution(ctx, exec.ID, store.ExecutionSucceeded, nil)
	require.Equal(t, store.CodeIllegalTransition, store.CodeOf(err))

	ok, err := s.TryAcquireExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.CompleteExecution(ctx, exec.ID, store.ExecutionSucceeded, json.RawMessage(`{"n":{}}`)))

	// Terminal is final.
	err = s.CompleteExecution(ctx, exec.ID, store.ExecutionFailed, nil)
	require.Equal(t, store.CodeIllegalTransition, store.CodeOf(err))

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, store.ExecutionSucceeded, got.Status)
	require.JSONEq(t, `{"n":{}}`, string(got.ContextSnapshot))
}

func TestRecordAttemptUpsertsByAttemptNumber(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	activeWorkflow(t, s, "w")
	exec := start(t, s, "w", "req-1")

	first, err := s.RecordAttempt(ctx, store.Attempt{
		ExecutionID: exec.ID, NodeID: "n", Status: actions.StatusRetryable, Attempt: 1,
	})
	require.NoError(t, err)

	replay, err := s.RecordAttempt(ctx, store.Attempt{
		ExecutionID: exec.ID, NodeID: "n", Status: actions.StatusFailed, Attempt: 1,
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, replay.ID)

	rows, err := s.ListAttempts(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, actions.StatusFailed, rows[0].Status)
}

func TestLinkResourceUniqueness(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	activeWorkflow(t, s, "w")
	exec1 := start(t, s, "w", "req-1")
	exec2 := start(t, s, "w", "req-2")

	outcome, err := s.LinkResource(ctx, store.LinkRequest{
		ExecutionID: exec1.ID, System: "slack", Type: "message", ResourceID: "M1",
	})
	require.NoError(t, err)
	require.Equal(t, store.LinkCreated, outcome)

	outcome, err = s.LinkResource(ctx, store.LinkRequest{
		ExecutionID: exec1.ID, System: "slack", Type: "message", ResourceID: "M1",
	})
	require.NoError(t, err)
	require.Equal(t, store.LinkExists, outcome)

	_, err = s.LinkResource(ctx, store.LinkRequest{
		ExecutionID: exec2.ID, System: "slack", Type: "message", ResourceID: "M1",
	})
	require.Equal(t, store.CodeResourceLinkConflict, store.CodeOf(err))

	link, found, err := s.FindResourceLink(ctx, "slack", "message", "M1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, exec1.ID, link.ExecutionID)
}

func TestDefinitionVersioning(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	activeWorkflow(t, s, "w")

	raw := json.RawMessage(`{"id":"w"}`)
	require.NoError(t, s.SaveDraft(ctx, "w", raw))
	require.NoError(t, s.InsertDefinition(ctx, "w", 1, raw, "sum-1"))

	// Published versions are immutable.
	err := s.InsertDefinition(ctx, "w", 1, raw, "sum-other")
	require.ErrorIs(t, err, store.ErrImmutableDefinition)

	// Duplicate checksum per workflow is a validation error.
	err = s.InsertDefinition(ctx, "w", 2, raw, "sum-1")
	require.Equal(t, store.CodeValidation, store.CodeOf(err))

	v, err := s.FindDefinitionByChecksum(ctx, "w", "sum-1")
	require.NoError(t, err)
	require.Equal(t, 1, v)

	latest, err := s.LatestVersion(ctx, "w")
	require.NoError(t, err)
	require.Equal(t, 1, latest)
}

func TestHierarchyAndEvents(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	activeWorkflow(t, s, "w")
	parent := start(t, s, "w", "req-1")
	child := start(t, s, "w", "req-2")

	link := store.HierarchyLink{ParentExecutionID: parent.ID, ChildExecutionID: child.ID, ParentNodeID: "n"}
	require.NoError(t, s.AddHierarchyLink(ctx, link))
	require.NoError(t, s.AddHierarchyLink(ctx, link)) // idempotent

	children, err := s.ListChildren(ctx, parent.ID)
	require.NoError(t, err)
	require.Equal(t, []store.HierarchyLink{link}, children)

	require.NoError(t, s.AppendEvent(ctx, store.Event{ExecutionID: parent.ID, Level: "info", Category: "workflow"}))
	require.NoError(t, s.AppendEvent(ctx, store.Event{ExecutionID: parent.ID, Level: "info", Category: "node"}))
	evs, err := s.ListEvents(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Less(t, evs[0].Seq, evs[1].Seq)
}

func TestDeleteWorkflowCascades(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	activeWorkflow(t, s, "w")
	exec := start(t, s, "w", "req-1")
	_, err := s.RecordAttempt(ctx, store.Attempt{ExecutionID: exec.ID, NodeID: "n", Status: actions.StatusSucceeded, Attempt: 1})
	require.NoError(t, err)
	_, err = s.LinkResource(ctx, store.LinkRequest{ExecutionID: exec.ID, System: "s", Type: "t", ResourceID: "r"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteWorkflow(ctx, "w"))

	_, err = s.GetWorkflow(ctx, "w")
	require.ErrorIs(t, err, store.ErrWorkflowNotFound)
	_, err = s.GetExecution(ctx, exec.ID)
	require.ErrorIs(t, err, store.ErrExecutionNotFound)
	_, found, err := s.FindResourceLink(ctx, "s", "t", "r")
	require.NoError(t, err)
	require.False(t, found)

	// The request id is free again.
	activeWorkflow(t, s, "w2")
	start(t, s, "w2", "req-1")
}
