package plan

import (
	"fmt"

	"goa.design/weave/runtime/conditions"
	"goa.design/weave/runtime/templates"
	"goa.design/weave/runtime/workflow"
)

// Compiler turns validated definitions into plans. Both evaluators are
// required: the compiler precompiles every edge condition and every node
// parameter tree so the conductor never touches raw source at run time.
type Compiler struct {
	conditions conditions.Evaluator
	templates  templates.Engine
}

// NewCompiler builds a Compiler over the given evaluators.
func NewCompiler(cond conditions.Evaluator, tmpl templates.Engine) *Compiler {
	return &Compiler{conditions: cond, templates: tmpl}
}

// Compile builds the runtime plan for a definition version. The definition
// must already have passed graph validation; Compile re-checks acyclicity on
// the final graph (synthesized failure edges included) as a safety net and
// fails on template or condition compile errors.
func (c *Compiler) Compile(def *workflow.Definition, version int) (*Plan, error) {
	p := &Plan{
		WorkflowID:       def.ID,
		Version:          version,
		StartNode:        def.StartNode,
		Nodes:            make(map[string]*Node, len(def.Nodes)),
		Order:            make([]string, 0, len(def.Nodes)),
		Adjacency:        make(map[string][]Edge, len(def.Nodes)),
		ExpectedIncoming: make(map[string]int, len(def.Nodes)),
		Parents:          make(map[string][]string, len(def.Nodes)),
	}

	for i, n := range def.Nodes {
		node := &Node{
			ID:                n.ID,
			Kind:              n.Type,
			ActionType:        n.ActionType,
			WorkflowID:        n.WorkflowID,
			WorkflowVersion:   n.WorkflowVersion,
			WaitForCompletion: n.WaitForCompletion,
			RawParameters:     n.Parameters,
			OnFailure:         n.OnFailure,
			RoutePolicy:       n.RoutePolicy,
			TimeoutMS:         n.Policies.TimeoutMS,
			RerenderOnRetry:   n.Policies.RerenderOnRetry,
			Retry:             n.Policies.Retry,
		}
		if len(n.Parameters) > 0 {
			renderer, err := c.templates.Compile(n.Parameters)
			if err != nil {
				return nil, fmt.Errorf("nodes[%d] %q: compile parameters: %w", i, n.ID, err)
			}
			node.Parameters = renderer
		}
		p.Nodes[n.ID] = node
		p.Order = append(p.Order, n.ID)

		edges := make([]Edge, 0, len(n.Edges)+1)
		explicitFailure := false
		for j, e := range n.Edges {
			edge := Edge{Target: e.TargetNode, When: e.When, ConditionSrc: e.Condition}
			if e.When == workflow.EdgeOnFailure {
				explicitFailure = true
			}
			if e.Condition != "" {
				prog, err := c.conditions.Compile(e.Condition)
				if err != nil {
					return nil, fmt.Errorf("nodes[%d] %q edges[%d]: compile condition: %w", i, n.ID, j, err)
				}
				edge.Condition = prog
			}
			edges = append(edges, edge)
		}
		// The implicit failure edge only exists when no explicit failure
		// routing is declared.
		if n.OnFailure != "" && !explicitFailure {
			edges = append(edges, Edge{Target: n.OnFailure, When: workflow.EdgeOnFailure, Synthesized: true})
		}
		p.Adjacency[n.ID] = edges
	}

	if err := checkAcyclic(p); err != nil {
		return nil, err
	}

	// Expected incoming counts consider only edges whose source is reachable
	// from the start node: a join must not wait for parents that can never
	// run.
	reachable := reachableFrom(p, p.StartNode)
	p.Reachable = reachable
	for source, edges := range p.Adjacency {
		if !reachable[source] {
			continue
		}
		for _, e := range edges {
			p.ExpectedIncoming[e.Target]++
			p.Parents[e.Target] = append(p.Parents[e.Target], source)
		}
	}
	return p, nil
}

func reachableFrom(p *Plan, start string) map[string]bool {
	seen := make(map[string]bool, len(p.Nodes))
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, e := range p.Adjacency[id] {
			stack = append(stack, e.Target)
		}
	}
	return seen
}

func checkAcyclic(p *Plan) error {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(p.Nodes))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, e := range p.Adjacency[id] {
			switch color[e.Target] {
			case white:
				if err := visit(e.Target); err != nil {
					return err
				}
			case gray:
				return fmt.Errorf("plan contains a cycle through %q", e.Target)
			}
		}
		color[id] = black
		return nil
	}
	for _, id := range p.Order {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
