// Package plan compiles validated workflow definitions into the runtime
// representation the conductor executes: adjacency lists, expected incoming
// edge counts, precompiled parameter templates and edge conditions, and the
// synthesized failure-routing edges. Plans are immutable after compilation
// and may be shared across concurrent executions of the same version.
package plan

import (
	"goa.design/weave/runtime/conditions"
	"goa.design/weave/runtime/templates"
	"goa.design/weave/runtime/workflow"
)

type (
	// Plan is the compiled, cacheable runtime form of a definition version.
	Plan struct {
		// WorkflowID and Version identify the source definition.
		WorkflowID string
		Version    int
		// StartNode is where execution begins.
		StartNode string
		// Nodes maps node id to its descriptor.
		Nodes map[string]*Node
		// Order lists node ids in declaration order.
		Order []string
		// Adjacency maps node id to its outgoing edges in declaration order,
		// synthesized failure edges last.
		Adjacency map[string][]Edge
		// ExpectedIncoming maps node id to the number of incoming edges whose
		// source is reachable from the start node. A node becomes runnable
		// when its satisfied incoming count reaches this value.
		ExpectedIncoming map[string]int
		// Parents maps node id to the ids of its reachable upstream sources.
		Parents map[string][]string
		// Reachable is the set of node ids reachable from the start node in
		// the final graph, synthesized edges included.
		Reachable map[string]bool
	}

	// Node is the compiled form of a definition node.
	Node struct {
		// ID is the node id.
		ID string
		// Kind discriminates action nodes from sub-workflow nodes.
		Kind workflow.NodeType
		// ActionType is set for action nodes.
		ActionType string
		// WorkflowID, WorkflowVersion and WaitForCompletion are set for
		// sub-workflow nodes.
		WorkflowID        string
		WorkflowVersion   int
		WaitForCompletion bool
		// Parameters is the precompiled parameter template. Nil when the node
		// declares no parameters.
		Parameters templates.Renderer
		// RawParameters is the uncompiled tree, kept for diagnostics.
		RawParameters map[string]any
		// OnFailure is the failure-routing target, empty when none.
		OnFailure string
		// RoutePolicy selects the edge activation strategy.
		RoutePolicy workflow.RoutePolicy
		// TimeoutMS bounds one invocation; zero uses the engine default.
		TimeoutMS int64
		// RerenderOnRetry re-renders parameters on every attempt.
		RerenderOnRetry bool
		// Retry overrides the engine retry policy when non-nil.
		Retry *workflow.RetryPolicy
	}

	// Edge is the compiled form of an edge.
	Edge struct {
		// Target is the destination node id.
		Target string
		// When guards on the source node's terminal status.
		When workflow.EdgeWhen
		// Condition is the precompiled guard expression, nil when
		// unconditional.
		Condition conditions.Program
		// ConditionSrc is the original expression source, kept for
		// diagnostics.
		ConditionSrc string
		// Synthesized marks the implicit failure edge derived from onFailure.
		Synthesized bool
	}
)

// NodeByID returns the descriptor for id, or nil.
func (p *Plan) NodeByID(id string) *Node { return p.Nodes[id] }
