// Package store defines the persistence gateway contract of the workflow
// engine. The conductor, lifecycle manager and sub-workflow coordinator all
// talk to storage exclusively through Gateway; implementations map the
// contract onto their backend (features/store/inmem for tests and single
// process deployments, features/store/mongo for MongoDB).
//
// All operations are transactional at the row level. StartExecution is
// idempotent by (workflowID, requestID) and resource links are globally
// unique by (system, type, resourceID).
package store

import (
	"context"
	"encoding/json"
	"time"

	"goa.design/weave/runtime/actions"
	"goa.design/weave/runtime/workflow"
)

type (
	// ExecutionStatus is the lifecycle state of a workflow execution.
	ExecutionStatus string

	// Execution is the durable record of a single workflow run.
	Execution struct {
		// ID is the engine-assigned execution identifier (UUID).
		ID string
		// WorkflowID and WorkflowVersion reference the immutable definition
		// the run executes.
		WorkflowID      string
		WorkflowVersion int
		// RequestID is the externally supplied idempotency key. Unique per
		// workflow.
		RequestID string
		// Status is the execution lifecycle state.
		Status ExecutionStatus
		// Trigger is the payload the execution was started with.
		Trigger map[string]any
		// ContextSnapshot is the pruned context written at completion.
		ContextSnapshot json.RawMessage
		// CorrelationID groups related executions for observability.
		CorrelationID string
		// TenantID scopes the execution to a tenant.
		TenantID string
		// ParentExecutionID is set for sub-workflow children.
		ParentExecutionID string
		// Principal is the identity that initiated the execution, if any.
		Principal *workflow.Principal
		// StartedAt is when the execution entered Running; zero while Pending.
		StartedAt time.Time
		// EndedAt is when the execution reached a terminal state.
		EndedAt time.Time
		// CreatedAt is when the execution row was created.
		CreatedAt time.Time
	}

	// Attempt is one recorded action attempt. A node accumulates one row per
	// attempt; the row with the highest Attempt number is authoritative for
	// routing and diagnostics.
	Attempt struct {
		// ID is the attempt identifier (UUID), assigned by the store.
		ID string
		// ExecutionID is the owning execution.
		ExecutionID string
		// NodeID is the node the attempt belongs to.
		NodeID string
		// ActionType is the invoked action type; empty for subworkflow nodes.
		ActionType string
		// Status is the attempt outcome.
		Status actions.Status
		// Attempt is the 1-based attempt number.
		Attempt int
		// RetryCount is the number of attempts before this one.
		RetryCount int
		// Parameters are the rendered parameters the attempt ran with.
		Parameters map[string]any
		// Outputs are the action outputs on success.
		Outputs map[string]any
		// Error carries structured failure diagnostics.
		Error *AttemptError
		// StartedAt and EndedAt bound the attempt.
		StartedAt time.Time
		EndedAt   time.Time
	}

	// AttemptError is the structured error recorded on a failed attempt.
	AttemptError struct {
		// Kind classifies the failure (e.g. "action", "retriable",
		// "cancelled", "resource_link_conflict", "store").
		Kind string `json:"kind"`
		// Message is the failure description.
		Message string `json:"message"`
	}

	// ResourceLink is the durable claim of an external resource by an
	// execution. The (System, Type, ResourceID) tuple is globally unique.
	ResourceLink struct {
		ID          string
		ExecutionID string
		AttemptID   string
		System      string
		Type        string
		ResourceID  string
		URL         string
		CreatedAt   time.Time
	}

	// HierarchyLink records a parent/child execution relationship created by
	// a sub-workflow node.
	HierarchyLink struct {
		ParentExecutionID string
		ChildExecutionID  string
		ParentNodeID      string
	}

	// Event is one append-only audit entry of an execution.
	Event struct {
		// Seq is the store-assigned monotonic sequence number.
		Seq int64
		// ExecutionID is the owning execution.
		ExecutionID string
		// Time is when the event occurred.
		Time time.Time
		// Level is the severity ("info", "warn", "error").
		Level string
		// Category classifies the event ("node", "edge", "workflow", "retry").
		Category string
		// Payload carries event-specific detail.
		Payload map[string]any
	}

	// StartRequest carries everything needed to create an execution row.
	StartRequest struct {
		WorkflowID string
		// RequestID is the idempotency key. Required.
		RequestID string
		// Version pins the definition version. Zero selects the workflow's
		// current version.
		Version int
		Trigger map[string]any
		// ParentExecutionID is set when a sub-workflow node starts the child.
		ParentExecutionID string
		Principal         *workflow.Principal
		TenantID          string
		CorrelationID     string
		// AllowDraft permits starting a workflow that is still in Draft.
		AllowDraft bool
	}

	// LinkRequest claims an external resource for an execution.
	LinkRequest struct {
		ExecutionID string
		AttemptID   string
		System      string
		Type        string
		ResourceID  string
		URL         string
	}

	// LinkOutcome is the non-error result of LinkResource.
	LinkOutcome string

	// Gateway is the complete persistence contract.
	Gateway interface {
		Workflows
		Definitions
		Executions
		Events
	}

	// Workflows manages workflow metadata rows.
	Workflows interface {
		// CreateWorkflow inserts a new workflow in Draft status. Fails if the
		// id is taken.
		CreateWorkflow(ctx context.Context, wf workflow.Workflow) error
		// GetWorkflow loads workflow metadata. Returns ErrWorkflowNotFound.
		GetWorkflow(ctx context.Context, id string) (workflow.Workflow, error)
		// UpdateWorkflow persists metadata mutations (status, current
		// version, enabled flag, display fields).
		UpdateWorkflow(ctx context.Context, wf workflow.Workflow) error
		// DeleteWorkflow removes a workflow and cascades over definitions,
		// executions, attempts, links, hierarchy and events.
		DeleteWorkflow(ctx context.Context, id string) error
	}

	// Definitions manages immutable definition versions plus the mutable
	// draft copy at version zero.
	Definitions interface {
		// SaveDraft upserts the mutable draft copy (version 0).
		SaveDraft(ctx context.Context, workflowID string, definition json.RawMessage) error
		// GetDefinition loads a definition version. Returns
		// ErrDefinitionNotFound.
		GetDefinition(ctx context.Context, workflowID string, version int) (json.RawMessage, error)
		// InsertDefinition writes a new immutable version. Fails with
		// ErrImmutableDefinition if the version already exists and with a
		// WFENG005 Error if the checksum is already present for the workflow.
		InsertDefinition(ctx context.Context, workflowID string, version int, definition json.RawMessage, checksum string) error
		// FindDefinitionByChecksum returns the version carrying checksum, or
		// ErrDefinitionNotFound.
		FindDefinitionByChecksum(ctx context.Context, workflowID, checksum string) (int, error)
		// LatestVersion returns the highest published version, zero when none
		// exists.
		LatestVersion(ctx context.Context, workflowID string) (int, error)
	}

	// Executions manages execution, attempt, resource link and hierarchy rows.
	Executions interface {
		// StartExecution idempotently creates an execution row. When a row
		// with the same (workflowID, requestID) exists it is returned with
		// existed=true. Fails with ErrWorkflowNotFound, ErrWorkflowNotActive
		// (unless AllowDraft), ErrWorkflowDisabled, or a WFENG001 Error when
		// the request id is bound to a different workflow.
		StartExecution(ctx context.Context, req StartRequest) (exec Execution, existed bool, err error)
		// TryAcquireExecution performs the Pending->Running compare-and-set.
		// Returns false when the execution is not Pending.
		TryAcquireExecution(ctx context.Context, executionID string) (bool, error)
		// CompleteExecution performs the Running->terminal transition and
		// stores the pruned context snapshot. Fails with a WFENG002 Error on
		// an illegal transition.
		CompleteExecution(ctx context.Context, executionID string, status ExecutionStatus, snapshot json.RawMessage) error
		// GetExecution loads an execution row. Returns ErrExecutionNotFound.
		GetExecution(ctx context.Context, executionID string) (Execution, error)
		// RecordAttempt persists one action attempt. Recording the same
		// (executionID, nodeID, attempt) again upserts the row, so replays
		// after a crash are safe. Returns the stored row with its ID set.
		RecordAttempt(ctx context.Context, att Attempt) (Attempt, error)
		// ListAttempts returns all attempts of an execution ordered by node
		// id then attempt number.
		ListAttempts(ctx context.Context, executionID string) ([]Attempt, error)
		// LinkResource claims a (system, type, resourceID) tuple. Outcomes:
		// LinkCreated on first claim, LinkExists when the same execution
		// already holds it, and a WFENG003 Error when another execution does.
		LinkResource(ctx context.Context, req LinkRequest) (LinkOutcome, error)
		// FindResourceLink looks a tuple up so connectors can reuse resources
		// created by earlier runs.
		FindResourceLink(ctx context.Context, system, resourceType, resourceID string) (ResourceLink, bool, error)
		// AddHierarchyLink records a parent/child relationship.
		AddHierarchyLink(ctx context.Context, link HierarchyLink) error
		// ListChildren returns the hierarchy rows of a parent execution.
		ListChildren(ctx context.Context, parentExecutionID string) ([]HierarchyLink, error)
	}

	// Events is the append-only audit log.
	Events interface {
		// AppendEvent appends one audit entry, assigning Seq.
		AppendEvent(ctx context.Context, ev Event) error
		// ListEvents returns an execution's events in sequence order.
		ListEvents(ctx context.Context, executionID string) ([]Event, error)
	}
)

const (
	// ExecutionPending marks a created but not yet acquired execution.
	ExecutionPending ExecutionStatus = "pending"
	// ExecutionRunning marks an acquired, in-flight execution.
	ExecutionRunning ExecutionStatus = "running"
	// ExecutionSucceeded marks a successful completion.
	ExecutionSucceeded ExecutionStatus = "succeeded"
	// ExecutionFailed marks a completion caused by a permanent node failure.
	ExecutionFailed ExecutionStatus = "failed"
	// ExecutionCancelled marks an external cancellation or workflow timeout.
	ExecutionCancelled ExecutionStatus = "cancelled"

	// LinkCreated indicates the tuple was claimed by this call.
	LinkCreated LinkOutcome = "created"
	// LinkExists indicates the same execution already holds the tuple.
	LinkExists LinkOutcome = "exists_same_execution"
)

// Terminal reports whether s is a terminal execution status.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionSucceeded, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}
