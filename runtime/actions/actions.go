// Package actions defines the action plug-in contract: the uniform Result
// document every action returns, the handler variants (in-process functions
// and remote HTTP connectors), and the registry the planner and conductor
// resolve action types against.
package actions

import (
	"context"
	"encoding/json"

	"goa.design/weave/runtime/workflow"
)

type (
	// Status is the terminal outcome of a single action attempt.
	Status string

	// Result is the uniform outcome document returned by every action,
	// local or remote.
	Result struct {
		// Status is the attempt outcome.
		Status Status `json:"status"`
		// Outputs carries the values exposed to downstream templates and
		// conditions on success.
		Outputs map[string]any `json:"outputs,omitempty"`
		// ResourceLinks identify external resources the action created or
		// claimed; the conductor records them for cross-run idempotency.
		ResourceLinks []ResourceLink `json:"resourceLinks,omitempty"`
		// ErrorMessage describes a failure. Empty on success.
		ErrorMessage string `json:"errorMessage,omitempty"`
	}

	// ResourceLink identifies an external resource by a globally unique
	// (system, type, id) tuple.
	ResourceLink struct {
		// System names the external system, e.g. "slack".
		System string `json:"system"`
		// Type is the resource kind within the system, e.g. "message".
		Type string `json:"type"`
		// ID is the resource identifier within the system.
		ID string `json:"id"`
		// URL optionally links to the resource.
		URL string `json:"url,omitempty"`
	}

	// Invocation carries everything an action needs for one attempt.
	Invocation struct {
		// ExecutionID identifies the workflow execution.
		ExecutionID string `json:"executionId"`
		// NodeID identifies the node being executed.
		NodeID string `json:"nodeId"`
		// CorrelationID propagates the execution correlation id.
		CorrelationID string `json:"correlationId,omitempty"`
		// Principal is the identity the execution runs on behalf of, if any.
		Principal *workflow.Principal `json:"principal,omitempty"`
		// Parameters are the rendered node parameters.
		Parameters map[string]any `json:"parameters"`
	}

	// Func is an in-process action handler. It may honor ctx cancellation to
	// stop promptly when the workflow is cancelled or the node times out.
	Func func(ctx context.Context, inv Invocation) (*Result, error)

	// Remote describes an action served by an HTTP connector. The connector
	// id resolves to a base URL in the engine configuration.
	Remote struct {
		// Connector is the connector id the engine resolves to a base URL.
		Connector string
	}

	// Handler binds an action type to its execution variant plus optional
	// schemas. Exactly one of Func and Remote is set.
	Handler struct {
		// Type is the action type, e.g. "slack.post-message".
		Type string
		// Func is the in-process variant.
		Func Func
		// Remote is the HTTP connector variant.
		Remote *Remote
		// ParameterSchema optionally documents/validates rendered parameters.
		ParameterSchema json.RawMessage
		// OutputSchema optionally documents the outputs.
		OutputSchema json.RawMessage
		// Disabled excludes the action from availability checks while keeping
		// the registration visible.
		Disabled bool
	}

	// Invoker executes one action attempt. The conductor depends on this
	// interface; Dispatcher is the default implementation routing between
	// local functions and remote connectors.
	Invoker interface {
		// Invoke runs the action once. Transport-level failures of remote
		// actions surface as a RetriableFailure Result, not as an error;
		// the error return is reserved for programming errors such as an
		// unregistered action type.
		Invoke(ctx context.Context, actionType string, inv Invocation) (*Result, error)
	}
)

const (
	// StatusSucceeded marks a successful attempt.
	StatusSucceeded Status = "succeeded"
	// StatusFailed marks a permanent failure; the conductor does not retry.
	StatusFailed Status = "failed"
	// StatusRetryable marks a transient failure subject to the retry policy.
	StatusRetryable Status = "retriable_failure"
	// StatusSkipped marks an attempt that deliberately did nothing. Skipped
	// nodes activate no outgoing edges.
	StatusSkipped Status = "skipped"
)

// Terminal reports whether s is a routing-relevant terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusRetryable, StatusSkipped:
		return true
	}
	return false
}
