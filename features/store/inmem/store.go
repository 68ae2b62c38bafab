// Package inmem provides an in-memory implementation of the persistence
// gateway for tests, demos and single-process deployments. All state lives
// behind one mutex; the contract semantics (idempotent starts, CAS
// acquisition, globally unique resource links, coded errors) match the
// durable implementations exactly.
package inmem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"goa.design/weave/runtime/store"
	"goa.design/weave/runtime/workflow"
)

type (
	// Store implements store.Gateway in memory.
	Store struct {
		mu          sync.Mutex
		workflows   map[string]workflow.Workflow
		definitions map[defKey]definition
		executions  map[string]store.Execution
		byRequest   map[requestKey]string // (workflowID, requestID) -> executionID
		requests    map[string]string     // requestID -> workflowID
		attempts    map[string][]store.Attempt
		links       map[linkKey]store.ResourceLink
		hierarchy   []store.HierarchyLink
		events      map[string][]store.Event
		eventSeq    int64
	}

	defKey struct {
		workflowID string
		version    int
	}

	requestKey struct {
		workflowID string
		requestID  string
	}

	linkKey struct {
		system       string
		resourceType string
		resourceID   string
	}

	definition struct {
		raw      json.RawMessage
		checksum string
	}
)

// New returns an empty in-memory gateway.
func New() *Store {
	return &Store{
		workflows:   make(map[string]workflow.Workflow),
		definitions: make(map[defKey]definition),
		executions:  make(map[string]store.Execution),
		byRequest:   make(map[requestKey]string),
		requests:    make(map[string]string),
		attempts:    make(map[string][]store.Attempt),
		links:       make(map[linkKey]store.ResourceLink),
		events:      make(map[string][]store.Event),
	}
}

// CreateWorkflow implements store.Workflows.
func (s *Store) CreateWorkflow(_ context.Context, wf workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.workflows[wf.ID]; dup {
		return fmt.Errorf("workflow %q already exists", wf.ID)
	}
	s.workflows[wf.ID] = wf
	return nil
}

// GetWorkflow implements store.Workflows.
func (s *Store) GetWorkflow(_ context.Context, id string) (workflow.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return workflow.Workflow{}, fmt.Errorf("workflow %q: %w", id, store.ErrWorkflowNotFound)
	}
	return wf, nil
}

// UpdateWorkflow implements store.Workflows.
func (s *Store) UpdateWorkflow(_ context.Context, wf workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; !ok {
		return fmt.Errorf("workflow %q: %w", wf.ID, store.ErrWorkflowNotFound)
	}
	s.workflows[wf.ID] = wf
	return nil
}

// DeleteWorkflow implements store.Workflows, cascading over every dependent
// row.
func (s *Store) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return fmt.Errorf("workflow %q: %w", id, store.ErrWorkflowNotFound)
	}
	delete(s.workflows, id)
	for k := range s.definitions {
		if k.workflowID == id {
			delete(s.definitions, k)
		}
	}
	for execID, exec := range s.executions {
		if exec.WorkflowID != id {
			continue
		}
		delete(s.executions, execID)
		delete(s.attempts, execID)
		delete(s.events, execID)
		delete(s.byRequest, requestKey{id, exec.RequestID})
		delete(s.requests, exec.RequestID)
		for k, link := range s.links {
			if link.ExecutionID == execID {
				delete(s.links, k)
			}
		}
		kept := s.hierarchy[:0]
		for _, h := range s.hierarchy {
			if h.ParentExecutionID != execID && h.ChildExecutionID != execID {
				kept = append(kept, h)
			}
		}
		s.hierarchy = kept
	}
	return nil
}

// SaveDraft implements store.Definitions.
func (s *Store) SaveDraft(_ context.Context, workflowID string, raw json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[workflowID]; !ok {
		return fmt.Errorf("workflow %q: %w", workflowID, store.ErrWorkflowNotFound)
	}
	s.definitions[defKey{workflowID, workflow.DraftVersion}] = definition{raw: append(json.RawMessage(nil), raw...)}
	return nil
}

// GetDefinition implements store.Definitions.
func (s *Store) GetDefinition(_ context.Context, workflowID string, version int) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.definitions[defKey{workflowID, version}]
	if !ok {
		return nil, fmt.Errorf("workflow %q version %d: %w", workflowID, version, store.ErrDefinitionNotFound)
	}
	return append(json.RawMessage(nil), def.raw...), nil
}

// InsertDefinition implements store.Definitions.
func (s *Store) InsertDefinition(_ context.Context, workflowID string, version int, raw json.RawMessage, checksum string) error {
	if version <= workflow.DraftVersion {
		return fmt.Errorf("version %d: %w", version, store.ErrImmutableDefinition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[workflowID]; !ok {
		return fmt.Errorf("workflow %q: %w", workflowID, store.ErrWorkflowNotFound)
	}
	if _, dup := s.definitions[defKey{workflowID, version}]; dup {
		return fmt.Errorf("workflow %q version %d: %w", workflowID, version, store.ErrImmutableDefinition)
	}
	for k, def := range s.definitions {
		if k.workflowID == workflowID && k.version != workflow.DraftVersion && def.checksum == checksum {
			return store.Errorf(store.CodeValidation, "workflow %q already has version %d with checksum %s", workflowID, k.version, checksum)
		}
	}
	s.definitions[defKey{workflowID, version}] = definition{raw: append(json.RawMessage(nil), raw...), checksum: checksum}
	return nil
}

// FindDefinitionByChecksum implements store.Definitions.
func (s *Store) FindDefinitionByChecksum(_ context.Context, workflowID, checksum string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, def := range s.definitions {
		if k.workflowID == workflowID && k.version != workflow.DraftVersion && def.checksum == checksum {
			return k.version, nil
		}
	}
	return 0, fmt.Errorf("workflow %q checksum %s: %w", workflowID, checksum, store.ErrDefinitionNotFound)
}

// LatestVersion implements store.Definitions.
func (s *Store) LatestVersion(_ context.Context, workflowID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := 0
	for k := range s.definitions {
		if k.workflowID == workflowID && k.version > latest {
			latest = k.version
		}
	}
	return latest, nil
}

// StartExecution implements store.Executions.
func (s *Store) StartExecution(_ context.Context, req store.StartRequest) (store.Execution, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[req.WorkflowID]
	if !ok {
		return store.Execution{}, false, fmt.Errorf("workflow %q: %w", req.WorkflowID, store.ErrWorkflowNotFound)
	}
	if owner, taken := s.requests[req.RequestID]; taken && owner != req.WorkflowID {
		return store.Execution{}, false, store.Errorf(store.CodeRequestIDConflict,
			"request %q already belongs to workflow %q", req.RequestID, owner)
	}
	if execID, exists := s.byRequest[requestKey{req.WorkflowID, req.RequestID}]; exists {
		return s.executions[execID], true, nil
	}

	if wf.Status != workflow.StatusActive {
		if !(wf.Status == workflow.StatusDraft && req.AllowDraft) {
			return store.Execution{}, false, fmt.Errorf("workflow %q: %w", req.WorkflowID, store.ErrWorkflowNotActive)
		}
	}
	if wf.Status == workflow.StatusActive && !wf.Enabled {
		return store.Execution{}, false, fmt.Errorf("workflow %q: %w", req.WorkflowID, store.ErrWorkflowDisabled)
	}

	version := req.Version
	if version == 0 && wf.Status != workflow.StatusDraft {
		version = wf.CurrentVersion
	}
	exec := store.Execution{
		ID:                uuid.NewString(),
		WorkflowID:        req.WorkflowID,
		WorkflowVersion:   version,
		RequestID:         req.RequestID,
		Status:            store.ExecutionPending,
		Trigger:           req.Trigger,
		CorrelationID:     req.CorrelationID,
		TenantID:          req.TenantID,
		ParentExecutionID: req.ParentExecutionID,
		Principal:         req.Principal,
		CreatedAt:         time.Now(),
	}
	s.executions[exec.ID] = exec
	s.byRequest[requestKey{req.WorkflowID, req.RequestID}] = exec.ID
	s.requests[req.RequestID] = req.WorkflowID
	return exec, false, nil
}

// TryAcquireExecution implements store.Executions.
func (s *Store) TryAcquireExecution(_ context.Context, executionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return false, fmt.Errorf("execution %q: %w", executionID, store.ErrExecutionNotFound)
	}
	if exec.Status != store.ExecutionPending {
		return false, nil
	}
	exec.Status = store.ExecutionRunning
	exec.StartedAt = time.Now()
	s.executions[executionID] = exec
	return true, nil
}

// CompleteExecution implements store.Executions.
func (s *Store) CompleteExecution(_ context.Context, executionID string, status store.ExecutionStatus, snapshot json.RawMessage) error {
	if !status.Terminal() {
		return store.Errorf(store.CodeIllegalTransition, "%q is not a terminal status", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return fmt.Errorf("execution %q: %w", executionID, store.ErrExecutionNotFound)
	}
	if exec.Status != store.ExecutionRunning {
		return store.Errorf(store.CodeIllegalTransition,
			"execution %q: cannot move from %q to %q", executionID, exec.Status, status)
	}
	exec.Status = status
	exec.ContextSnapshot = append(json.RawMessage(nil), snapshot...)
	exec.EndedAt = time.Now()
	s.executions[executionID] = exec
	return nil
}

// GetExecution implements store.Executions.
func (s *Store) GetExecution(_ context.Context, executionID string) (store.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return store.Execution{}, fmt.Errorf("execution %q: %w", executionID, store.ErrExecutionNotFound)
	}
	return exec, nil
}

// RecordAttempt implements store.Executions. Recording an existing
// (executionID, nodeID, attempt) triple replaces the row.
func (s *Store) RecordAttempt(_ context.Context, att store.Attempt) (store.Attempt, error) {
	if att.Attempt < 1 {
		return store.Attempt{}, fmt.Errorf("attempt number must be positive, got %d", att.Attempt)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[att.ExecutionID]; !ok {
		return store.Attempt{}, fmt.Errorf("execution %q: %w", att.ExecutionID, store.ErrExecutionNotFound)
	}
	rows := s.attempts[att.ExecutionID]
	for i, row := range rows {
		if row.NodeID == att.NodeID && row.Attempt == att.Attempt {
			att.ID = row.ID
			rows[i] = att
			return att, nil
		}
	}
	att.ID = uuid.NewString()
	s.attempts[att.ExecutionID] = append(rows, att)
	return att, nil
}

// ListAttempts implements store.Executions.
func (s *Store) ListAttempts(_ context.Context, executionID string) ([]store.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := append([]store.Attempt(nil), s.attempts[executionID]...)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].NodeID != rows[j].NodeID {
			return rows[i].NodeID < rows[j].NodeID
		}
		return rows[i].Attempt < rows[j].Attempt
	})
	return rows, nil
}

// LinkResource implements store.Executions.
func (s *Store) LinkResource(_ context.Context, req store.LinkRequest) (store.LinkOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey{req.System, req.Type, req.ResourceID}
	if existing, ok := s.links[key]; ok {
		if existing.ExecutionID == req.ExecutionID {
			return store.LinkExists, nil
		}
		return "", store.Errorf(store.CodeResourceLinkConflict,
			"resource %s/%s/%s is linked to execution %q", req.System, req.Type, req.ResourceID, existing.ExecutionID)
	}
	s.links[key] = store.ResourceLink{
		ID:          uuid.NewString(),
		ExecutionID: req.ExecutionID,
		AttemptID:   req.AttemptID,
		System:      req.System,
		Type:        req.Type,
		ResourceID:  req.ResourceID,
		URL:         req.URL,
		CreatedAt:   time.Now(),
	}
	return store.LinkCreated, nil
}

// FindResourceLink implements store.Executions.
func (s *Store) FindResourceLink(_ context.Context, system, resourceType, resourceID string) (store.ResourceLink, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[linkKey{system, resourceType, resourceID}]
	return link, ok, nil
}

// AddHierarchyLink implements store.Executions.
func (s *Store) AddHierarchyLink(_ context.Context, link store.HierarchyLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.hierarchy {
		if h == link {
			return nil
		}
	}
	s.hierarchy = append(s.hierarchy, link)
	return nil
}

// ListChildren implements store.Executions.
func (s *Store) ListChildren(_ context.Context, parentExecutionID string) ([]store.HierarchyLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.HierarchyLink
	for _, h := range s.hierarchy {
		if h.ParentExecutionID == parentExecutionID {
			out = append(out, h)
		}
	}
	return out, nil
}

// AppendEvent implements store.Events.
func (s *Store) AppendEvent(_ context.Context, ev store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventSeq++
	ev.Seq = s.eventSeq
	s.events[ev.ExecutionID] = append(s.events[ev.ExecutionID], ev)
	return nil
}

// ListEvents implements store.Events.
func (s *Store) ListEvents(_ context.Context, executionID string) ([]store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Event(nil), s.events[executionID]...), nil
}
