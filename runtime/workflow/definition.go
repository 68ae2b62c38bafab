package workflow

import "encoding/json"

type (
	// Definition is the typed form of a workflow definition document. It is
	// produced by Parse and is immutable by convention: once a version is
	// published the definition bytes and the parsed form never change.
	Definition struct {
		// ID is the workflow slug the definition belongs to.
		ID string `json:"id"`
		// DisplayName is the human-facing workflow name.
		DisplayName string `json:"displayName"`
		// Description documents the workflow.
		Description string `json:"description,omitempty"`
		// StartNode names the node where execution begins.
		StartNode string `json:"startNode"`
		// TriggerSchema optionally holds a JSON Schema validating trigger payloads.
		TriggerSchema json.RawMessage `json:"triggerSchema,omitempty"`
		// Nodes are the DAG vertices in declaration order.
		Nodes []Node `json:"nodes"`
	}

	// Node is a single DAG vertex: either an action invocation or a
	// sub-workflow invocation.
	Node struct {
		// ID is unique within the definition.
		ID string `json:"id"`
		// Type discriminates action nodes from sub-workflow nodes.
		Type NodeType `json:"nodeType"`
		// ActionType names the registered action. Set iff Type is NodeAction.
		ActionType string `json:"actionType,omitempty"`
		// WorkflowID names the child workflow. Set iff Type is NodeSubworkflow.
		WorkflowID string `json:"workflowId,omitempty"`
		// WorkflowVersion pins the child version. Zero means "current version
		// at execution time".
		WorkflowVersion int `json:"workflowVersion,omitempty"`
		// WaitForCompletion controls whether the parent blocks on the child.
		WaitForCompletion bool `json:"waitForCompletion"`
		// Parameters is the template tree rendered against {trigger, context,
		// vars} before invocation. String leaves are template expressions.
		Parameters map[string]any `json:"parameters,omitempty"`
		// OnFailure optionally names a node to route to on permanent failure.
		OnFailure string `json:"onFailure,omitempty"`
		// RoutePolicy selects between activating all satisfied edges and
		// stopping at the first one.
		RoutePolicy RoutePolicy `json:"routePolicy"`
		// Policies carries per-node retry, timeout and rendering overrides.
		Policies Policies `json:"policies"`
		// Edges are the outgoing edges in declaration order.
		Edges []Edge `json:"edges,omitempty"`
	}

	// NodeType discriminates the two node kinds.
	NodeType string

	// RoutePolicy selects the edge activation strategy of a node.
	RoutePolicy string

	// Edge connects a node to a downstream target, guarded by the source's
	// terminal status and an optional scripted condition.
	Edge struct {
		// TargetNode is the destination node id.
		TargetNode string `json:"targetNode"`
		// When matches against the source node's terminal status.
		When EdgeWhen `json:"when"`
		// Condition is an optional boolean expression evaluated against
		// {trigger, context}. Empty means unconditional.
		Condition string `json:"condition,omitempty"`
	}

	// EdgeWhen is the terminal-status guard of an edge.
	EdgeWhen string

	// Policies are the per-node execution overrides.
	Policies struct {
		// TimeoutMS bounds a single action invocation. Zero uses the engine default.
		TimeoutMS int64 `json:"timeoutMs,omitempty"`
		// RerenderOnRetry re-renders parameters on every retry attempt instead
		// of reusing the first attempt's rendering.
		RerenderOnRetry bool `json:"rerenderOnRetry"`
		// Retry overrides the engine retry policy. Nil uses the default.
		Retry *RetryPolicy `json:"retry,omitempty"`
	}

	// RetryPolicy controls retry of retriable action failures.
	RetryPolicy struct {
		// MaxAttempts caps total attempts. Zero means a single attempt with no
		// retries.
		MaxAttempts int `json:"maxAttempts"`
		// BaseDelayMS is the delay before the first retry.
		BaseDelayMS int64 `json:"baseDelayMs"`
		// BackoffFactor multiplies the delay after each retry. Values below 1
		// are invalid.
		BackoffFactor float64 `json:"backoffFactor"`
		// Jitter randomizes delays to avoid thundering herds.
		Jitter bool `json:"jitter"`
	}
)

const (
	// NodeAction invokes a registered action.
	NodeAction NodeType = "action"
	// NodeSubworkflow starts a child workflow execution.
	NodeSubworkflow NodeType = "subworkflow"

	// RouteParallel activates every satisfied outgoing edge.
	RouteParallel RoutePolicy = "parallel"
	// RouteFirstMatch stops at the first satisfied outgoing edge in
	// declaration order.
	RouteFirstMatch RoutePolicy = "firstMatch"

	// EdgeOnSuccess activates when the source node succeeded.
	EdgeOnSuccess EdgeWhen = "success"
	// EdgeOnFailure activates when the source node failed permanently.
	EdgeOnFailure EdgeWhen = "failure"
	// EdgeAlways activates on either terminal outcome. A skipped node
	// activates no edges, including always edges.
	EdgeAlways EdgeWhen = "always"
)
