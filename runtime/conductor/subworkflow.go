package conductor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"goa.design/weave/runtime/actions"
	"goa.design/weave/runtime/plan"
	"goa.design/weave/runtime/store"
)

// runSubworkflow executes a sub-workflow node: it starts (or rejoins) the
// child execution with a deterministic request id, records the hierarchy
// link, and either awaits the child or fires and forgets per the node's
// waitForCompletion flag. Depth and recursion limits are enforced before any
// child row is created.
func (s *runState) runSubworkflow(ctx context.Context, node *plan.Node, trigger map[string]any, attempt int) *actions.Result {
	depth, ancestorWorkflows, err := s.e.ancestry(ctx, s.exec)
	if err != nil {
		return &actions.Result{Status: actions.StatusRetryable, ErrorMessage: fmt.Sprintf("resolve ancestry: %v", err)}
	}
	if depth+1 > s.e.cfg.Subworkflow.MaxNestingDepth {
		return &actions.Result{
			Status: actions.StatusFailed,
			ErrorMessage: fmt.Sprintf("sub-workflow %q exceeds max nesting depth %d",
				node.WorkflowID, s.e.cfg.Subworkflow.MaxNestingDepth),
		}
	}
	if !s.e.cfg.Subworkflow.AllowRecursion {
		for _, id := range ancestorWorkflows {
			if id == node.WorkflowID {
				return &actions.Result{
					Status:       actions.StatusFailed,
					ErrorMessage: fmt.Sprintf("sub-workflow %q recurses into its own ancestry", node.WorkflowID),
				}
			}
		}
	}

	childExec, existed, err := s.e.store.StartExecution(ctx, store.StartRequest{
		WorkflowID:        node.WorkflowID,
		RequestID:         childRequestID(s.exec.ID, node.ID, attempt),
		Version:           node.WorkflowVersion,
		Trigger:           trigger,
		ParentExecutionID: s.exec.ID,
		Principal:         s.exec.Principal,
		TenantID:          s.exec.TenantID,
		CorrelationID:     s.exec.CorrelationID,
		AllowDraft:        s.e.cfg.Catalog.AllowDraftExecution,
	})
	if err != nil {
		return &actions.Result{Status: actions.StatusFailed, ErrorMessage: fmt.Sprintf("start sub-workflow %q: %v", node.WorkflowID, err)}
	}
	if !existed {
		if err := s.e.store.AddHierarchyLink(ctx, store.HierarchyLink{
			ParentExecutionID: s.exec.ID,
			ChildExecutionID:  childExec.ID,
			ParentNodeID:      node.ID,
		}); err != nil {
			s.e.logger.Error(ctx, "record hierarchy failed", "execution_id", s.exec.ID, "child_id", childExec.ID, "err", err.Error())
		}
	}

	if !node.WaitForCompletion {
		go func() {
			bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.e.cfg.Subworkflow.DefaultChildTimeout)
			defer cancel()
			if _, err := s.e.runChild(bg, childExec); err != nil {
				s.e.logger.Error(bg, "detached sub-workflow failed", "child_id", childExec.ID, "err", err.Error())
			}
		}()
		return &actions.Result{
			Status:  actions.StatusSucceeded,
			Outputs: map[string]any{"executionId": childExec.ID},
		}
	}

	waitCtx := ctx
	if node.TimeoutMS > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(node.TimeoutMS)*time.Millisecond)
		defer cancel()
	}
	final, err := s.e.runChild(waitCtx, childExec)
	if err != nil {
		return &actions.Result{Status: actions.StatusFailed, ErrorMessage: fmt.Sprintf("sub-workflow %q: %v", node.WorkflowID, err)}
	}
	if final.Status != store.ExecutionSucceeded {
		return &actions.Result{
			Status:       actions.StatusFailed,
			ErrorMessage: fmt.Sprintf("sub-workflow %q finished %s", node.WorkflowID, final.Status),
		}
	}
	outputs := map[string]any{"executionId": childExec.ID}
	if len(final.ContextSnapshot) > 0 {
		var childOutputs map[string]any
		if err := json.Unmarshal(final.ContextSnapshot, &childOutputs); err == nil {
			outputs["outputs"] = childOutputs
		}
	}
	return &actions.Result{Status: actions.StatusSucceeded, Outputs: outputs}
}

// runChild claims and executes a child execution, or waits for its current
// runner to finish. Returns the terminal execution row.
func (e *Engine) runChild(ctx context.Context, exec store.Execution) (store.Execution, error) {
	if exec.Status.Terminal() {
		return exec, nil
	}
	claimed, err := e.store.TryAcquireExecution(ctx, exec.ID)
	if err != nil {
		return store.Execution{}, err
	}
	if claimed {
		p, _, err := e.planFor(ctx, exec.WorkflowID, exec.WorkflowVersion)
		if err != nil {
			// The claim is held; fail the child row so the parent observes a
			// terminal state instead of a stuck Running execution.
			if cerr := e.store.CompleteExecution(context.WithoutCancel(ctx), exec.ID, store.ExecutionFailed, nil); cerr != nil {
				e.logger.Error(ctx, "fail child execution", "child_id", exec.ID, "err", cerr.Error())
			}
			return store.Execution{}, err
		}
		if _, err := e.execute(ctx, exec, p); err != nil {
			return store.Execution{}, err
		}
		return e.store.GetExecution(ctx, exec.ID)
	}
	// Another runner holds the claim: poll until it completes.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		current, err := e.store.GetExecution(ctx, exec.ID)
		if err != nil {
			return store.Execution{}, err
		}
		if current.Status.Terminal() {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return store.Execution{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ancestry walks the parent chain of exec, returning its nesting depth (the
// root has depth zero) and the workflow ids along the chain, exec included.
func (e *Engine) ancestry(ctx context.Context, exec store.Execution) (int, []string, error) {
	depth := 0
	workflows := []string{exec.WorkflowID}
	current := exec
	for current.ParentExecutionID != "" {
		parent, err := e.store.GetExecution(ctx, current.ParentExecutionID)
		if err != nil {
			return 0, nil, err
		}
		depth++
		workflows = append(workflows, parent.WorkflowID)
		current = parent
	}
	return depth, workflows, nil
}

// childRequestID derives the deterministic idempotency key of a child
// execution so retried parent attempts rejoin rather than duplicate it.
func childRequestID(parentExecutionID, nodeID string, attempt int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", parentExecutionID, nodeID, attempt))
	return hex.EncodeToString(sum[:])
}

// Children returns the hierarchy rows of an execution, exposed for
// diagnostics surfaces.
func (e *Engine) Children(ctx context.Context, executionID string) ([]store.HierarchyLink, error) {
	return e.store.ListChildren(ctx, executionID)
}
