package workflow

import "fmt"

// GraphReport carries the outcome of static graph validation. Errors make the
// definition unpublishable; warnings do not.
type GraphReport struct {
	Errors   []Issue
	Warnings []Issue
}

// Valid reports whether the graph passed all blocking checks.
func (r GraphReport) Valid() bool { return len(r.Errors) == 0 }

// ValidateGraph runs the static checks over a parsed definition: the start
// node exists, node ids are unique, every edge and onFailure target resolves,
// node kind references are present, and the superset graph (all edges with
// conditions ignored) is acyclic. Nodes unreachable from the start node are
// reported as warnings.
func ValidateGraph(def *Definition) GraphReport {
	var report GraphReport

	byID := make(map[string]int, len(def.Nodes))
	for i, n := range def.Nodes {
		if prev, dup := byID[n.ID]; dup {
			report.Errors = append(report.Errors, issuef(
				fmt.Sprintf("nodes[%d].id", i), "duplicate node id %q (first declared at nodes[%d])", n.ID, prev))
			continue
		}
		byID[n.ID] = i
	}

	if _, ok := byID[def.StartNode]; !ok {
		report.Errors = append(report.Errors, issuef("startNode", "node %q does not exist", def.StartNode))
	}

	for i, n := range def.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		for j, e := range n.Edges {
			if _, ok := byID[e.TargetNode]; !ok {
				report.Errors = append(report.Errors, issuef(
					fmt.Sprintf("%s.edges[%d].targetNode", path, j), "node %q does not exist", e.TargetNode))
			}
		}
		if n.OnFailure != "" {
			if _, ok := byID[n.OnFailure]; !ok {
				report.Errors = append(report.Errors, issuef(path+".onFailure", "node %q does not exist", n.OnFailure))
			}
		}
		switch n.Type {
		case NodeAction:
			if n.ActionType == "" {
				report.Errors = append(report.Errors, issuef(path+".actionType", "is required for action nodes"))
			}
		case NodeSubworkflow:
			if n.WorkflowID == "" {
				report.Errors = append(report.Errors, issuef(path+".workflowId", "is required for subworkflow nodes"))
			}
		}
	}

	// Remaining checks need a resolvable graph.
	if !report.Valid() {
		return report
	}

	adj := SupersetAdjacency(def)
	if cycle := findCycle(def, adj); len(cycle) > 0 {
		report.Errors = append(report.Errors, issuef("nodes", "cycle detected: %s", joinCycle(cycle)))
		return report
	}

	reachable := Reachable(def, adj)
	for i, n := range def.Nodes {
		if !reachable[n.ID] {
			report.Warnings = append(report.Warnings, issuef(
				fmt.Sprintf("nodes[%d]", i), "node %q is unreachable from start node %q", n.ID, def.StartNode))
		}
	}
	return report
}

// SupersetAdjacency builds the adjacency map of the superset graph: every
// declared edge plus the implicit onFailure edge of each node, conditions
// ignored.
func SupersetAdjacency(def *Definition) map[string][]string {
	adj := make(map[string][]string, len(def.Nodes))
	for _, n := range def.Nodes {
		targets := make([]string, 0, len(n.Edges)+1)
		for _, e := range n.Edges {
			targets = append(targets, e.TargetNode)
		}
		if n.OnFailure != "" {
			targets = append(targets, n.OnFailure)
		}
		adj[n.ID] = targets
	}
	return adj
}

// Reachable returns the set of node ids reachable from the start node in the
// superset graph, including the start node itself.
func Reachable(def *Definition, adj map[string][]string) map[string]bool {
	seen := make(map[string]bool, len(def.Nodes))
	stack := []string{def.StartNode}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, adj[id]...)
	}
	return seen
}

const (
	colorWhite = iota
	colorGray
	colorBlack
)

// findCycle runs a recursive DFS with the classic three-color marking and
// returns the node ids of the first cycle found, or nil.
func findCycle(def *Definition, adj map[string][]string) []string {
	color := make(map[string]int, len(def.Nodes))
	parent := make(map[string]string, len(def.Nodes))

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = colorGray
		for _, next := range adj[id] {
			switch color[next] {
			case colorWhite:
				parent[next] = id
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			case colorGray:
				// Back edge: reconstruct the cycle from id back to next.
				var cycle []string
				for at := id; at != next; at = parent[at] {
					cycle = append(cycle, at)
				}
				cycle = append(cycle, next)
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return append(cycle, next)
			}
		}
		color[id] = colorBlack
		return nil
	}

	for _, n := range def.Nodes {
		if color[n.ID] == colorWhite {
			if cycle := visit(n.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func joinCycle(cycle []string) string {
	out := ""
	for i, id := range cycle {
		if i > 0 {
			out += " -> "
		}
		out += id
	}
	return out
}
