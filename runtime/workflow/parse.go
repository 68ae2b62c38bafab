package workflow

import (
	"encoding/json"
	"fmt"
)

// Wire representations with pointer fields so absent values can be told apart
// from explicit zero values during normalization.
type (
	wireDefinition struct {
		ID            string          `json:"id"`
		DisplayName   string          `json:"displayName"`
		Description   string          `json:"description"`
		StartNode     string          `json:"startNode"`
		TriggerSchema json.RawMessage `json:"triggerSchema"`
		Nodes         []wireNode      `json:"nodes"`
	}

	wireNode struct {
		ID                string         `json:"id"`
		NodeType          *string        `json:"nodeType"`
		ActionType        string         `json:"actionType"`
		WorkflowID        string         `json:"workflowId"`
		WorkflowVersion   int            `json:"workflowVersion"`
		WaitForCompletion *bool          `json:"waitForCompletion"`
		Parameters        map[string]any `json:"parameters"`
		OnFailure         string         `json:"onFailure"`
		RoutePolicy       *string        `json:"routePolicy"`
		Policies          *wirePolicies  `json:"policies"`
		Edges             []wireEdge     `json:"edges"`
	}

	wireEdge struct {
		TargetNode string  `json:"targetNode"`
		When       *string `json:"when"`
		Condition  string  `json:"condition"`
	}

	wirePolicies struct {
		TimeoutMS       int64        `json:"timeoutMs"`
		RerenderOnRetry *bool        `json:"rerenderOnRetry"`
		Retry           *RetryPolicy `json:"retry"`
	}
)

// Parse decodes a workflow definition document and normalizes defaults:
// absent edges become empty, absent when becomes "success", absent
// routePolicy becomes "parallel", absent rerenderOnRetry becomes false and
// absent waitForCompletion becomes true. Parse performs structural (schema)
// validation only; graph-level checks live in ValidateGraph. Returns a
// *ValidationError when the document is malformed.
func Parse(raw []byte) (*Definition, error) {
	var wire wireDefinition
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &ValidationError{Issues: []Issue{{Message: fmt.Sprintf("malformed JSON: %v", err)}}}
	}

	var issues []Issue
	if !ValidSlug(wire.ID) {
		issues = append(issues, issuef("id", "must match ^[a-z0-9-]+$, got %q", wire.ID))
	}
	if wire.DisplayName == "" {
		issues = append(issues, issuef("displayName", "is required"))
	}
	if wire.StartNode == "" {
		issues = append(issues, issuef("startNode", "is required"))
	}
	if len(wire.Nodes) == 0 {
		issues = append(issues, issuef("nodes", "at least one node is required"))
	}

	def := &Definition{
		ID:            wire.ID,
		DisplayName:   wire.DisplayName,
		Description:   wire.Description,
		StartNode:     wire.StartNode,
		TriggerSchema: wire.TriggerSchema,
		Nodes:         make([]Node, 0, len(wire.Nodes)),
	}
	for i, wn := range wire.Nodes {
		node, nodeIssues := normalizeNode(i, wn)
		issues = append(issues, nodeIssues...)
		def.Nodes = append(def.Nodes, node)
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return def, nil
}

func normalizeNode(i int, wn wireNode) (Node, []Issue) {
	path := fmt.Sprintf("nodes[%d]", i)
	var issues []Issue

	node := Node{
		ID:                wn.ID,
		Type:              NodeAction,
		ActionType:        wn.ActionType,
		WorkflowID:        wn.WorkflowID,
		WorkflowVersion:   wn.WorkflowVersion,
		WaitForCompletion: true,
		Parameters:        wn.Parameters,
		OnFailure:         wn.OnFailure,
		RoutePolicy:       RouteParallel,
	}
	if wn.ID == "" {
		issues = append(issues, issuef(path+".id", "is required"))
	}
	if wn.NodeType != nil {
		switch NodeType(*wn.NodeType) {
		case NodeAction, NodeSubworkflow:
			node.Type = NodeType(*wn.NodeType)
		default:
			issues = append(issues, issuef(path+".nodeType", "must be %q or %q, got %q", NodeAction, NodeSubworkflow, *wn.NodeType))
		}
	}
	switch node.Type {
	case NodeAction:
		if wn.ActionType == "" {
			issues = append(issues, issuef(path+".actionType", "is required for action nodes"))
		}
	case NodeSubworkflow:
		if wn.WorkflowID == "" {
			issues = append(issues, issuef(path+".workflowId", "is required for subworkflow nodes"))
		}
		if wn.WorkflowVersion < 0 {
			issues = append(issues, issuef(path+".workflowVersion", "must not be negative"))
		}
	}
	if wn.WaitForCompletion != nil {
		node.WaitForCompletion = *wn.WaitForCompletion
	}
	if wn.RoutePolicy != nil {
		switch RoutePolicy(*wn.RoutePolicy) {
		case RouteParallel, RouteFirstMatch:
			node.RoutePolicy = RoutePolicy(*wn.RoutePolicy)
		default:
			issues = append(issues, issuef(path+".routePolicy", "must be %q or %q, got %q", RouteParallel, RouteFirstMatch, *wn.RoutePolicy))
		}
	}
	if wn.Policies != nil {
		node.Policies.TimeoutMS = wn.Policies.TimeoutMS
		if wn.Policies.TimeoutMS < 0 {
			issues = append(issues, issuef(path+".policies.timeoutMs", "must not be negative"))
		}
		if wn.Policies.RerenderOnRetry != nil {
			node.Policies.RerenderOnRetry = *wn.Policies.RerenderOnRetry
		}
		if wn.Policies.Retry != nil {
			retry := *wn.Policies.Retry
			if retry.MaxAttempts < 0 {
				issues = append(issues, issuef(path+".policies.retry.maxAttempts", "must not be negative"))
			}
			if retry.BaseDelayMS < 0 {
				issues = append(issues, issuef(path+".policies.retry.baseDelayMs", "must not be negative"))
			}
			if retry.BackoffFactor != 0 && retry.BackoffFactor < 1 {
				issues = append(issues, issuef(path+".policies.retry.backoffFactor", "must be at least 1"))
			}
			node.Policies.Retry = &retry
		}
	}
	node.Edges = make([]Edge, 0, len(wn.Edges))
	for j, we := range wn.Edges {
		edgePath := fmt.Sprintf("%s.edges[%d]", path, j)
		edge := Edge{TargetNode: we.TargetNode, When: EdgeOnSuccess, Condition: we.Condition}
		if we.TargetNode == "" {
			issues = append(issues, issuef(edgePath+".targetNode", "is required"))
		}
		if we.When != nil {
			switch EdgeWhen(*we.When) {
			case EdgeOnSuccess, EdgeOnFailure, EdgeAlways:
				edge.When = EdgeWhen(*we.When)
			default:
				issues = append(issues, issuef(edgePath+".when", "must be one of %q, %q, %q, got %q", EdgeOnSuccess, EdgeOnFailure, EdgeAlways, *we.When))
			}
		}
		node.Edges = append(node.Edges, edge)
	}
	return node, issues
}
