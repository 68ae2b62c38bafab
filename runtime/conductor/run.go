package conductor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/codes"

	"goa.design/weave/runtime/actions"
	"goa.design/weave/runtime/conditions"
	"goa.design/weave/runtime/plan"
	"goa.design/weave/runtime/store"
	"goa.design/weave/runtime/templates"
	"goa.design/weave/runtime/workflow"
)

// errNodeTimeout marks a per-node deadline expiry. Node timeouts are
// permanent failures, unlike retriable transport faults.
var errNodeTimeout = errors.New("node timeout")

// runState is the mutable coordination state of one execution: the satisfied
// incoming-edge counters, the per-node terminal statuses, and the workflow
// cancellation scope. All counter updates go through the single mutex; the
// goroutine that brings a counter to its expected value is the unique
// scheduler of that node.
type runState struct {
	e    *Engine
	exec store.Execution
	plan *plan.Plan
	rt   *RuntimeContext

	// ctx is the workflow scope: cancelled on permanent node failure,
	// external cancel or workflow timeout. pctx is the detached context used
	// for persistence so terminal rows are written even during teardown.
	ctx    context.Context
	cancel context.CancelCauseFunc
	pctx   context.Context

	wg sync.WaitGroup

	mu          sync.Mutex
	satisfied   map[string]int
	dead        map[string]int
	terminal    map[string]actions.Status
	lastAttempt map[string]int
}

// statusDead marks a node that can never become runnable because every
// incoming edge is unsatisfied (condition false, when mismatch, or a dead
// upstream). Dead nodes are pruned without an attempt row; the marker only
// lives in the in-memory terminal map.
const statusDead = actions.Status("dead")

// execute drives one claimed execution to a terminal status. Re-entry on an
// already terminal execution returns the stored status without rerunning.
func (e *Engine) execute(ctx context.Context, exec store.Execution, p *plan.Plan) (store.ExecutionStatus, error) {
	if exec.Status.Terminal() {
		return exec.Status, nil
	}
	if fresh, err := e.store.GetExecution(ctx, exec.ID); err == nil && fresh.Status.Terminal() {
		return fresh.Status, nil
	}

	base := ctx
	if e.cfg.DefaultWorkflowTimeout > 0 {
		var expire context.CancelFunc
		base, expire = context.WithTimeoutCause(ctx, e.cfg.DefaultWorkflowTimeout, errWorkflowExpiry)
		defer expire()
	}
	wfCtx, cancel := context.WithCancelCause(base)
	defer cancel(nil)
	e.cancels.Store(exec.ID, cancel)
	defer e.cancels.Delete(exec.ID)

	vars := map[string]any{
		"executionId":     exec.ID,
		"workflowId":      exec.WorkflowID,
		"workflowVersion": exec.WorkflowVersion,
		"requestId":       exec.RequestID,
		"correlationId":   exec.CorrelationID,
		"tenantId":        exec.TenantID,
	}
	s := &runState{
		e:           e,
		exec:        exec,
		plan:        p,
		rt:          NewRuntimeContext(exec.Trigger, vars),
		ctx:         wfCtx,
		cancel:      cancel,
		pctx:        context.WithoutCancel(ctx),
		satisfied:   make(map[string]int),
		dead:        make(map[string]int),
		terminal:    make(map[string]actions.Status),
		lastAttempt: make(map[string]int),
	}

	startedAt := time.Now()
	e.event(s.pctx, exec.ID, "info", "workflow", map[string]any{
		"state": "started", "workflow_id": exec.WorkflowID, "version": exec.WorkflowVersion,
	})
	s.schedule(p.StartNode)
	s.wg.Wait()

	cause := context.Cause(wfCtx)
	final := store.ExecutionSucceeded
	switch {
	case errors.Is(cause, errNodeFailure):
		final = store.ExecutionFailed
	case cause != nil:
		final = store.ExecutionCancelled
	}
	if cause != nil {
		s.skipUnreached()
	}

	snapshot, err := s.rt.Prune(e.cfg.ContextSnapshot)
	if err != nil {
		e.event(s.pctx, exec.ID, "error", "workflow", map[string]any{"state": "snapshot_failed", "error": err.Error()})
		snapshot = nil
	}
	if err := e.store.CompleteExecution(s.pctx, exec.ID, final, snapshot); err != nil {
		e.logger.Error(ctx, "complete execution failed", "execution_id", exec.ID, "err", err.Error())
		return final, err
	}
	e.event(s.pctx, exec.ID, "info", "workflow", map[string]any{"state": "completed", "status": string(final)})
	e.metrics.IncCounter("weave.workflow.completed", 1, "status", string(final))
	e.metrics.RecordTimer("weave.workflow.duration", time.Since(startedAt), "workflow_id", exec.WorkflowID)
	return final, nil
}

func (s *runState) schedule(nodeID string) {
	node := s.plan.Nodes[nodeID]
	if node == nil {
		return
	}
	s.wg.Add(1)
	go s.runNode(node)
}

// runNode executes one node to its terminal status: permit, render, invoke,
// persist, retry, edge evaluation.
func (s *runState) runNode(node *plan.Node) {
	defer s.wg.Done()

	if err := s.e.sem.Acquire(s.ctx, 1); err != nil {
		s.recordSkip(node, 1, "cancelled before start")
		return
	}
	holding := true
	defer func() {
		if holding {
			s.e.sem.Release(1)
		}
	}()

	nodeCtx, span := s.e.tracer.Start(s.ctx, "weave.node",
		"node_id", node.ID, "execution_id", s.exec.ID, "kind", string(node.Kind))
	defer span.End()

	policy := s.retryPolicy(node)
	maxAttempts := max(1, policy.MaxRetryAttempts)
	delays := newRetryBackoff(policy)

	var (
		rendered map[string]any
		terminal actions.Status
		outputs  map[string]any
	)

	for attempt := 1; ; attempt++ {
		s.noteAttempt(node.ID, attempt)
		started := time.Now()

		result := s.attemptOnce(nodeCtx, node, attempt, &rendered, &holding)

		// Promote exhausted retries and mid-cancel retriable outcomes before
		// recording so the maximum-attempt row always carries a terminal
		// status.
		if result.Status == actions.StatusRetryable {
			if s.ctx.Err() != nil {
				result = &actions.Result{Status: actions.StatusSkipped, ErrorMessage: result.ErrorMessage}
			} else if attempt >= maxAttempts {
				result = &actions.Result{
					Status:       actions.StatusFailed,
					ErrorMessage: result.ErrorMessage,
					Outputs:      result.Outputs,
				}
				s.e.event(s.pctx, s.exec.ID, "warn", "retry", map[string]any{
					"node_id": node.ID, "attempt": attempt, "state": "exhausted",
				})
			}
		}

		att := store.Attempt{
			ExecutionID: s.exec.ID,
			NodeID:      node.ID,
			ActionType:  node.ActionType,
			Status:      result.Status,
			Attempt:     attempt,
			RetryCount:  attempt - 1,
			Parameters:  rendered,
			Outputs:     result.Outputs,
			Error:       attemptError(result),
			StartedAt:   started,
			EndedAt:     time.Now(),
		}
		stored, err := s.e.store.RecordAttempt(s.pctx, att)
		if err != nil {
			s.e.logger.Error(s.pctx, "record attempt failed", "execution_id", s.exec.ID, "node_id", node.ID, "err", err.Error())
		}
		s.e.metrics.IncCounter("weave.node.attempts", 1, "status", string(result.Status), "action", node.ActionType)

		switch result.Status {
		case actions.StatusSucceeded:
			if conflict := s.linkResources(stored, result.ResourceLinks); conflict != nil {
				att.Status = actions.StatusFailed
				att.Outputs = nil
				att.Error = conflict
				if _, err := s.e.store.RecordAttempt(s.pctx, att); err != nil {
					s.e.logger.Error(s.pctx, "record attempt failed", "execution_id", s.exec.ID, "node_id", node.ID, "err", err.Error())
				}
				terminal = actions.StatusFailed
				s.e.event(s.pctx, s.exec.ID, "error", "node", map[string]any{
					"node_id": node.ID, "state": "resource_link_conflict", "error": conflict.Message,
				})
			} else {
				outputs = result.Outputs
				terminal = actions.StatusSucceeded
			}
		case actions.StatusFailed:
			terminal = actions.StatusFailed
		case actions.StatusSkipped:
			terminal = actions.StatusSkipped
		case actions.StatusRetryable:
			delay := delays.NextBackOff()
			s.e.event(s.pctx, s.exec.ID, "info", "retry", map[string]any{
				"node_id": node.ID, "attempt": attempt, "delay_ms": delay.Milliseconds(),
			})
			// Backoff must not hold a permit.
			if holding {
				s.e.sem.Release(1)
				holding = false
			}
			if !sleep(s.ctx, delay) {
				s.recordSkip(node, attempt+1, "cancelled during retry backoff")
				return
			}
			if err := s.e.sem.Acquire(s.ctx, 1); err != nil {
				s.recordSkip(node, attempt+1, "cancelled before retry")
				return
			}
			holding = true
			continue
		}
		break
	}

	s.setTerminal(node.ID, terminal)
	s.e.event(s.pctx, s.exec.ID, "info", "node", map[string]any{
		"node_id": node.ID, "state": "terminal", "status": string(terminal),
	})

	if terminal == actions.StatusSucceeded {
		s.rt.SetOutput(node.ID, outputs)
	}
	// Skipped nodes activate no edges, always edges included; downstream
	// joins learn the branch is dead so they do not wait forever.
	if terminal == actions.StatusSkipped {
		for _, edge := range s.plan.Adjacency[node.ID] {
			s.bump(edge.Target, false)
		}
		span.SetStatus(codes.Ok, "skipped")
		return
	}

	routed := s.evaluateEdges(node, terminal)
	if terminal == actions.StatusFailed {
		span.SetStatus(codes.Error, "node failed")
		if !routed {
			// Unhandled permanent failure tears down the workflow scope.
			s.cancel(errNodeFailure)
		}
		return
	}
	span.SetStatus(codes.Ok, "")
}

// attemptOnce performs a single attempt: render parameters, then invoke the
// action or run the sub-workflow. It never returns nil.
func (s *runState) attemptOnce(ctx context.Context, node *plan.Node, attempt int, rendered *map[string]any, holding *bool) *actions.Result {
	if *rendered == nil || node.RerenderOnRetry {
		params, err := s.renderParameters(node)
		if err != nil {
			return &actions.Result{
				Status:       actions.StatusRetryable,
				ErrorMessage: fmt.Sprintf("render parameters: %v", err),
			}
		}
		*rendered = params
	}

	if node.Kind == workflow.NodeSubworkflow {
		// The child borrows its own permits; holding one across the wait
		// could deadlock the pool.
		if *holding {
			s.e.sem.Release(1)
			*holding = false
		}
		return s.runSubworkflow(ctx, node, *rendered, attempt)
	}

	timeout := s.e.cfg.DefaultActionTimeout
	if node.TimeoutMS > 0 {
		timeout = time.Duration(node.TimeoutMS) * time.Millisecond
	}
	actx := ctx
	var cancel context.CancelFunc = func() {}
	if timeout > 0 {
		actx, cancel = context.WithTimeoutCause(ctx, timeout, errNodeTimeout)
	}
	defer cancel()

	inv := actions.Invocation{
		ExecutionID:   s.exec.ID,
		NodeID:        node.ID,
		CorrelationID: s.exec.CorrelationID,
		Principal:     s.exec.Principal,
		Parameters:    *rendered,
	}
	result, err := s.e.invoker.Invoke(actx, node.ActionType, inv)
	if err != nil {
		return &actions.Result{Status: actions.StatusFailed, ErrorMessage: err.Error()}
	}
	// A per-node deadline expiry is a permanent failure regardless of how
	// the handler reported it.
	if errors.Is(context.Cause(actx), errNodeTimeout) && result.Status != actions.StatusSucceeded {
		return &actions.Result{
			Status:       actions.StatusFailed,
			ErrorMessage: fmt.Sprintf("node %q timed out after %s", node.ID, timeout),
		}
	}
	return result
}

func (s *runState) renderParameters(node *plan.Node) (map[string]any, error) {
	if node.Parameters == nil {
		return map[string]any{}, nil
	}
	tctx, cancel := context.WithTimeout(s.ctx, s.e.cfg.TemplateTimeout)
	defer cancel()
	return node.Parameters.Render(tctx, templates.Env{
		Trigger: s.rt.Trigger(),
		Context: s.rt.Snapshot(),
		Vars:    s.rt.Vars(),
	})
}

// evaluateEdges walks the node's outgoing edges in declaration order. Every
// satisfied edge bumps its target's satisfied counter; every unsatisfied one
// (when mismatch, false condition, or declared after a firstMatch hit)
// reports a dead path so joins never wait on branches that cannot fire.
// Returns whether any edge was satisfied.
func (s *runState) evaluateEdges(node *plan.Node, terminal actions.Status) bool {
	routed := false
	stopped := false
	for _, edge := range s.plan.Adjacency[node.ID] {
		satisfied := false
		if !stopped && edgeMatches(edge.When, terminal) {
			if edge.Condition == nil {
				satisfied = true
			} else {
				ok, err := s.evalCondition(edge)
				if err != nil {
					// Evaluator failures soft-fail the edge.
					s.e.event(s.pctx, s.exec.ID, "warn", "edge", map[string]any{
						"node_id": node.ID, "target": edge.Target, "state": "condition_error", "error": err.Error(),
					})
				}
				satisfied = err == nil && ok
			}
		}
		s.bump(edge.Target, satisfied)
		if satisfied {
			routed = true
			if node.RoutePolicy == workflow.RouteFirstMatch {
				stopped = true
			}
		}
	}
	return routed
}

func (s *runState) evalCondition(edge plan.Edge) (bool, error) {
	cctx, cancel := context.WithTimeout(s.ctx, s.e.cfg.ConditionTimeout)
	defer cancel()
	return edge.Condition.Eval(cctx, conditions.Env{
		Trigger: s.rt.Trigger(),
		Context: s.rt.Snapshot(),
		Vars:    s.rt.Vars(),
	})
}

// bump records one incoming-edge outcome for target. When every expected
// incoming edge has reported, the target either becomes runnable (at least
// one satisfied edge) or is marked dead, in which case death propagates down
// its outgoing edges. The caller whose report completes the count is the
// unique scheduler of the target.
func (s *runState) bump(target string, satisfied bool) {
	var toSchedule, deadQueue []string
	s.mu.Lock()
	s.account(target, satisfied, &toSchedule, &deadQueue)
	for len(deadQueue) > 0 {
		id := deadQueue[0]
		deadQueue = deadQueue[1:]
		for _, e := range s.plan.Adjacency[id] {
			s.account(e.Target, false, &toSchedule, &deadQueue)
		}
	}
	s.mu.Unlock()
	for _, id := range toSchedule {
		s.schedule(id)
	}
}

// account updates the join counters of target. Callers hold s.mu.
func (s *runState) account(target string, satisfied bool, toSchedule, deadQueue *[]string) {
	if satisfied {
		s.satisfied[target]++
	} else {
		s.dead[target]++
	}
	if s.satisfied[target]+s.dead[target] != s.plan.ExpectedIncoming[target] {
		return
	}
	if s.satisfied[target] > 0 {
		*toSchedule = append(*toSchedule, target)
		return
	}
	s.terminal[target] = statusDead
	*deadQueue = append(*deadQueue, target)
}

func (s *runState) setTerminal(nodeID string, status actions.Status) {
	s.mu.Lock()
	s.terminal[nodeID] = status
	s.mu.Unlock()
}

func (s *runState) noteAttempt(nodeID string, attempt int) {
	s.mu.Lock()
	s.lastAttempt[nodeID] = attempt
	s.mu.Unlock()
}

// recordSkip persists a Skipped attempt row for a node halted by
// cancellation before reaching a natural terminal status.
func (s *runState) recordSkip(node *plan.Node, attempt int, reason string) {
	s.setTerminal(node.ID, actions.StatusSkipped)
	s.noteAttempt(node.ID, attempt)
	if _, err := s.e.store.RecordAttempt(s.pctx, store.Attempt{
		ExecutionID: s.exec.ID,
		NodeID:      node.ID,
		ActionType:  node.ActionType,
		Status:      actions.StatusSkipped,
		Attempt:     attempt,
		RetryCount:  attempt - 1,
		Error:       &store.AttemptError{Kind: "cancelled", Message: reason},
		StartedAt:   time.Now(),
		EndedAt:     time.Now(),
	}); err != nil {
		s.e.logger.Error(s.pctx, "record skip failed", "execution_id", s.exec.ID, "node_id", node.ID, "err", err.Error())
	}
}

// skipUnreached records Skipped rows for every reachable node that never
// reached a terminal status before the workflow scope was torn down:
// unstarted branches, joins stranded by cancelled parents, and nodes whose
// remaining parents were cancelled (dead under cancellation still means
// "never got the chance", so it is recorded).
func (s *runState) skipUnreached() {
	s.mu.Lock()
	var pending []string
	for id := range s.plan.Reachable {
		if status, done := s.terminal[id]; !done || status == statusDead {
			pending = append(pending, id)
		}
	}
	s.mu.Unlock()
	for _, id := range pending {
		node := s.plan.Nodes[id]
		s.mu.Lock()
		attempt := s.lastAttempt[id] + 1
		s.mu.Unlock()
		s.recordSkip(node, attempt, "unreachable after cancellation")
	}
}

// linkResources claims every resource link of a successful attempt. A tuple
// held by another execution converts the node into a permanent failure.
func (s *runState) linkResources(att store.Attempt, links []actions.ResourceLink) *store.AttemptError {
	for _, l := range links {
		_, err := s.e.store.LinkResource(s.pctx, store.LinkRequest{
			ExecutionID: s.exec.ID,
			AttemptID:   att.ID,
			System:      l.System,
			Type:        l.Type,
			ResourceID:  l.ID,
			URL:         l.URL,
		})
		if err != nil {
			if store.CodeOf(err) == store.CodeResourceLinkConflict {
				return &store.AttemptError{Kind: "resource_link_conflict", Message: err.Error()}
			}
			return &store.AttemptError{Kind: "store", Message: err.Error()}
		}
	}
	return nil
}

func (s *runState) retryPolicy(node *plan.Node) RetryConfig {
	if node.Retry == nil {
		return s.e.cfg.Retry
	}
	return RetryConfig{
		MaxRetryAttempts: node.Retry.MaxAttempts,
		InitialDelay:     time.Duration(node.Retry.BaseDelayMS) * time.Millisecond,
		BackoffFactor:    node.Retry.BackoffFactor,
		Jitter:           node.Retry.Jitter,
	}
}

// event appends an audit entry, logging (but not failing) on sink errors.
func (e *Engine) event(ctx context.Context, executionID, level, category string, payload map[string]any) {
	err := e.sink.Append(ctx, store.Event{
		ExecutionID: executionID,
		Time:        time.Now(),
		Level:       level,
		Category:    category,
		Payload:     payload,
	})
	if err != nil {
		e.logger.Warn(ctx, "append event failed", "execution_id", executionID, "err", err.Error())
	}
}

func attemptError(res *actions.Result) *store.AttemptError {
	if res.ErrorMessage == "" {
		return nil
	}
	kind := "action"
	switch res.Status {
	case actions.StatusRetryable:
		kind = "retriable"
	case actions.StatusSkipped:
		kind = "cancelled"
	}
	return &store.AttemptError{Kind: kind, Message: res.ErrorMessage}
}

func edgeMatches(when workflow.EdgeWhen, terminal actions.Status) bool {
	switch when {
	case workflow.EdgeOnSuccess:
		return terminal == actions.StatusSucceeded
	case workflow.EdgeOnFailure:
		return terminal == actions.StatusFailed
	case workflow.EdgeAlways:
		return terminal == actions.StatusSucceeded || terminal == actions.StatusFailed
	}
	return false
}

// sleep waits for d or until ctx is done. Returns false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// newRetryBackoff builds the delay sequence base*factor^(n-1) with optional
// jitter.
func newRetryBackoff(policy RetryConfig) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialDelay
	bo.Multiplier = policy.BackoffFactor
	bo.RandomizationFactor = 0
	if policy.Jitter {
		bo.RandomizationFactor = 0.25
	}
	bo.MaxInterval = 10 * time.Minute
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
