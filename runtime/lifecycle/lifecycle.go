// Package lifecycle manages the workflow lifecycle state machine: draft
// editing, publish-time validation, checksum-based idempotent version
// minting, archive/reactivate transitions and draft deletion.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/weave/runtime/store"
	"goa.design/weave/runtime/telemetry"
	"goa.design/weave/runtime/workflow"
)

type (
	// Manager drives workflow lifecycle transitions against the persistence
	// gateway.
	Manager struct {
		store     store.Gateway
		validator *PublishValidator
		plans     PlanInvalidator
		logger    telemetry.Logger
		now       func() time.Time
	}

	// PlanInvalidator drops cached plans after a publish. The conductor
	// engine satisfies this.
	PlanInvalidator interface {
		InvalidatePlans(ctx context.Context, workflowID string) error
	}

	// Options configures a Manager.
	Options struct {
		// Store is the persistence gateway. Required.
		Store store.Gateway
		// Validator performs publish-time validation. Required.
		Validator *PublishValidator
		// Plans receives cache invalidations after publishing. Optional.
		Plans PlanInvalidator
		// Logger defaults to a no-op.
		Logger telemetry.Logger
		// Now overrides the clock, for tests.
		Now func() time.Time
	}

	// PublishOptions controls a publish.
	PublishOptions struct {
		// AutoActivate makes the new version current and the workflow Active.
		// When false the version is minted but staged: the workflow keeps its
		// previous status and current version.
		AutoActivate bool
	}

	// PublishResult reports a publish outcome.
	PublishResult struct {
		// Version is the minted (or matched) version number.
		Version int
		// Reused is true when the checksum matched an existing version and
		// no new row was written.
		Reused bool
		// Validation carries the validation findings.
		Validation PublishValidation
	}
)

// NewManager builds a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Validator == nil {
		return nil, errors.New("publish validator is required")
	}
	m := &Manager{
		store:     opts.Store,
		validator: opts.Validator,
		plans:     opts.Plans,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if m.logger == nil {
		m.logger = telemetry.NewNoopLogger()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// CreateDraft creates a new workflow in Draft status with the given
// definition as its mutable draft copy. The definition must parse and its id
// must match the workflow id.
func (m *Manager) CreateDraft(ctx context.Context, definition json.RawMessage) (workflow.Workflow, error) {
	def, err := workflow.Parse(definition)
	if err != nil {
		return workflow.Workflow{}, err
	}
	now := m.now()
	wf := workflow.Workflow{
		ID:          def.ID,
		DisplayName: def.DisplayName,
		Description: def.Description,
		Status:      workflow.StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.CreateWorkflow(ctx, wf); err != nil {
		return workflow.Workflow{}, err
	}
	if err := m.store.SaveDraft(ctx, def.ID, definition); err != nil {
		return workflow.Workflow{}, err
	}
	m.logger.Info(ctx, "workflow draft created", "workflow_id", def.ID)
	return wf, nil
}

// UpdateDraft replaces the mutable draft copy. Only the draft copy is ever
// written; published versions are immutable.
func (m *Manager) UpdateDraft(ctx context.Context, workflowID string, definition json.RawMessage) error {
	def, err := workflow.Parse(definition)
	if err != nil {
		return err
	}
	if def.ID != workflowID {
		return &workflow.ValidationError{Issues: []workflow.Issue{
			{Path: "id", Message: fmt.Sprintf("definition id %q does not match workflow %q", def.ID, workflowID)},
		}}
	}
	wf, err := m.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if err := m.store.SaveDraft(ctx, workflowID, definition); err != nil {
		return err
	}
	wf.DisplayName = def.DisplayName
	wf.Description = def.Description
	wf.UpdatedAt = m.now()
	return m.store.UpdateWorkflow(ctx, wf)
}

// Publish validates the draft copy and mints a new immutable version. When
// the canonical checksum matches an already published version, that version
// is returned and no row is written. With AutoActivate the workflow becomes
// Active on the new version.
func (m *Manager) Publish(ctx context.Context, workflowID string, opts PublishOptions) (PublishResult, error) {
	wf, err := m.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return PublishResult{}, err
	}
	raw, err := m.store.GetDefinition(ctx, workflowID, workflow.DraftVersion)
	if err != nil {
		return PublishResult{}, err
	}

	validation, def, err := m.validator.Validate(ctx, raw)
	if err != nil {
		return PublishResult{}, err
	}
	if !validation.Valid {
		return PublishResult{Validation: validation}, &workflow.ValidationError{Issues: validation.Errors}
	}
	if def.ID != workflowID {
		return PublishResult{}, &workflow.ValidationError{Issues: []workflow.Issue{
			{Path: "id", Message: fmt.Sprintf("definition id %q does not match workflow %q", def.ID, workflowID)},
		}}
	}

	checksum, err := workflow.Checksum(raw)
	if err != nil {
		return PublishResult{}, err
	}
	if version, err := m.store.FindDefinitionByChecksum(ctx, workflowID, checksum); err == nil {
		result := PublishResult{Version: version, Reused: true, Validation: validation}
		if opts.AutoActivate {
			if err := m.activate(ctx, wf, version); err != nil {
				return PublishResult{}, err
			}
		}
		return result, nil
	} else if !errors.Is(err, store.ErrDefinitionNotFound) {
		return PublishResult{}, err
	}

	latest, err := m.store.LatestVersion(ctx, workflowID)
	if err != nil {
		return PublishResult{}, err
	}
	version := latest + 1
	if err := m.store.InsertDefinition(ctx, workflowID, version, raw, checksum); err != nil {
		return PublishResult{}, err
	}
	m.logger.Info(ctx, "workflow version published", "workflow_id", workflowID, "version", version)

	if opts.AutoActivate {
		if err := m.activate(ctx, wf, version); err != nil {
			return PublishResult{}, err
		}
	}
	if m.plans != nil {
		if err := m.plans.InvalidatePlans(ctx, workflowID); err != nil {
			m.logger.Warn(ctx, "plan cache invalidation failed", "workflow_id", workflowID, "err", err.Error())
		}
	}
	return PublishResult{Version: version, Validation: validation}, nil
}

func (m *Manager) activate(ctx context.Context, wf workflow.Workflow, version int) error {
	wf.CurrentVersion = version
	wf.Status = workflow.StatusActive
	wf.Enabled = true
	wf.UpdatedAt = m.now()
	return m.store.UpdateWorkflow(ctx, wf)
}

// Archive moves an Active workflow to Archived and disables new starts.
// In-flight executions are unaffected.
func (m *Manager) Archive(ctx context.Context, workflowID string) error {
	wf, err := m.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status != workflow.StatusActive {
		return store.Errorf(store.CodeIllegalTransition, "cannot archive workflow %q in status %q", workflowID, wf.Status)
	}
	wf.Status = workflow.StatusArchived
	wf.Enabled = false
	wf.UpdatedAt = m.now()
	return m.store.UpdateWorkflow(ctx, wf)
}

// Reactivate moves an Archived workflow back to Active on its current
// version.
func (m *Manager) Reactivate(ctx context.Context, workflowID string) error {
	wf, err := m.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status != workflow.StatusArchived {
		return store.Errorf(store.CodeIllegalTransition, "cannot reactivate workflow %q in status %q", workflowID, wf.Status)
	}
	if wf.CurrentVersion == 0 {
		return store.Errorf(store.CodeIllegalTransition, "workflow %q has no published version to reactivate", workflowID)
	}
	wf.Status = workflow.StatusActive
	wf.Enabled = true
	wf.UpdatedAt = m.now()
	return m.store.UpdateWorkflow(ctx, wf)
}

// SetEnabled toggles the enabled flag without changing status.
func (m *Manager) SetEnabled(ctx context.Context, workflowID string, enabled bool) error {
	wf, err := m.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	wf.Enabled = enabled
	wf.UpdatedAt = m.now()
	return m.store.UpdateWorkflow(ctx, wf)
}

// Delete removes a Draft workflow and all dependent rows. Published
// workflows cannot be deleted; archive them instead.
func (m *Manager) Delete(ctx context.Context, workflowID string) error {
	wf, err := m.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status != workflow.StatusDraft {
		return fmt.Errorf("delete workflow %q: %w", workflowID, store.ErrNotDraft)
	}
	return m.store.DeleteWorkflow(ctx, workflowID)
}
