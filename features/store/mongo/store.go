// Package mongo implements the persistence gateway over MongoDB. Each
// record type of the contract maps to one collection; the uniqueness
// invariants (request id per workflow, checksum per workflow, resource tuple
// globally) are enforced by unique indexes so concurrent engines race safely
// through the database rather than through process memory.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/weave/runtime/actions"
	"goa.design/weave/runtime/store"
	"goa.design/weave/runtime/workflow"
)

type (
	// Options configures the Mongo-backed gateway.
	Options struct {
		// Client is the Mongo connection. Required.
		Client *mongo.Client
		// Database is the database name. Defaults to "weave".
		Database string
	}

	// Store implements store.Gateway on MongoDB.
	Store struct {
		db          *mongo.Database
		workflows   *mongo.Collection
		definitions *mongo.Collection
		executions  *mongo.Collection
		attempts    *mongo.Collection
		links       *mongo.Collection
		hierarchy   *mongo.Collection
		events      *mongo.Collection
		counters    *mongo.Collection
	}

	workflowDoc struct {
		ID             string    `bson:"_id"`
		DisplayName    string    `bson:"displayName"`
		Description    string    `bson:"description,omitempty"`
		CurrentVersion int       `bson:"currentVersion"`
		Status         string    `bson:"status"`
		Enabled        bool      `bson:"enabled"`
		CreatedAt      time.Time `bson:"createdAt"`
		UpdatedAt      time.Time `bson:"updatedAt"`
	}

	definitionDoc struct {
		ID         string `bson:"_id"` // workflowID@version
		WorkflowID string `bson:"workflowId"`
		Version    int    `bson:"version"`
		Definition string `bson:"definition"`
		Checksum   string `bson:"checksum,omitempty"`
	}

	executionDoc struct {
		ID                string              `bson:"_id"`
		WorkflowID        string              `bson:"workflowId"`
		WorkflowVersion   int                 `bson:"workflowVersion"`
		RequestID         string              `bson:"requestId"`
		Status            string              `bson:"status"`
		Trigger           bson.M              `bson:"trigger,omitempty"`
		ContextSnapshot   string              `bson:"contextSnapshot,omitempty"`
		CorrelationID     string              `bson:"correlationId,omitempty"`
		TenantID          string              `bson:"tenantId,omitempty"`
		ParentExecutionID string              `bson:"parentExecutionId,omitempty"`
		Principal         *workflow.Principal `bson:"principal,omitempty"`
		StartedAt         time.Time           `bson:"startedAt,omitempty"`
		EndedAt           time.Time           `bson:"endedAt,omitempty"`
		CreatedAt         time.Time           `bson:"createdAt"`
	}

	attemptDoc struct {
		ID          string              `bson:"_id"`
		ExecutionID string              `bson:"executionId"`
		NodeID      string              `bson:"nodeId"`
		ActionType  string              `bson:"actionType,omitempty"`
		Status      string              `bson:"status"`
		Attempt     int                 `bson:"attempt"`
		RetryCount  int                 `bson:"retryCount"`
		Parameters  bson.M              `bson:"parameters,omitempty"`
		Outputs     bson.M              `bson:"outputs,omitempty"`
		Error       *store.AttemptError `bson:"error,omitempty"`
		StartedAt   time.Time           `bson:"startedAt"`
		EndedAt     time.Time           `bson:"endedAt"`
	}

	linkDoc struct {
		ID          string    `bson:"_id"`
		ExecutionID string    `bson:"executionId"`
		AttemptID   string    `bson:"attemptId,omitempty"`
		System      string    `bson:"system"`
		Type        string    `bson:"type"`
		ResourceID  string    `bson:"resourceId"`
		URL         string    `bson:"url,omitempty"`
		CreatedAt   time.Time `bson:"createdAt"`
	}

	hierarchyDoc struct {
		ParentExecutionID string `bson:"parentExecutionId"`
		ChildExecutionID  string `bson:"childExecutionId"`
		ParentNodeID      string `bson:"parentNodeId"`
	}

	eventDoc struct {
		Seq         int64     `bson:"seq"`
		ExecutionID string    `bson:"executionId"`
		Time        time.Time `bson:"time"`
		Level       string    `bson:"level"`
		Category    string    `bson:"category"`
		Payload     bson.M    `bson:"payload,omitempty"`
	}
)

// New builds the gateway over an established Mongo connection.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	name := opts.Database
	if name == "" {
		name = "weave"
	}
	db := opts.Client.Database(name)
	return &Store{
		db:          db,
		workflows:   db.Collection("workflows"),
		definitions: db.Collection("workflow_definitions"),
		executions:  db.Collection("workflow_executions"),
		attempts:    db.Collection("action_executions"),
		links:       db.Collection("workflow_resource_links"),
		hierarchy:   db.Collection("workflow_execution_hierarchy"),
		events:      db.Collection("execution_events"),
		counters:    db.Collection("counters"),
	}, nil
}

// EnsureIndexes creates the unique indexes backing the contract invariants.
// Call once at startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	specs := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.definitions, []mongo.IndexModel{
			{Keys: bson.D{{Key: "workflowId", Value: 1}, {Key: "version", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "workflowId", Value: 1}, {Key: "checksum", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"version": bson.M{"$gt": 0}})},
		}},
		{s.executions, []mongo.IndexModel{
			{Keys: bson.D{{Key: "workflowId", Value: 1}, {Key: "requestId", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "requestId", Value: 1}}},
			{Keys: bson.D{{Key: "parentExecutionId", Value: 1}}},
		}},
		{s.attempts, []mongo.IndexModel{
			{Keys: bson.D{{Key: "executionId", Value: 1}, {Key: "nodeId", Value: 1}, {Key: "attempt", Value: 1}}, Options: unique},
		}},
		{s.links, []mongo.IndexModel{
			{Keys: bson.D{{Key: "system", Value: 1}, {Key: "type", Value: 1}, {Key: "resourceId", Value: 1}}, Options: unique},
		}},
		{s.hierarchy, []mongo.IndexModel{
			{Keys: bson.D{{Key: "parentExecutionId", Value: 1}, {Key: "childExecutionId", Value: 1}}, Options: unique},
		}},
		{s.events, []mongo.IndexModel{
			{Keys: bson.D{{Key: "executionId", Value: 1}, {Key: "seq", Value: 1}}},
		}},
	}
	for _, spec := range specs {
		if _, err := spec.coll.Indexes().CreateMany(ctx, spec.models); err != nil {
			return fmt.Errorf("create indexes for %s: %w", spec.coll.Name(), err)
		}
	}
	return nil
}

// CreateWorkflow implements store.Workflows.
func (s *Store) CreateWorkflow(ctx context.Context, wf workflow.Workflow) error {
	_, err := s.workflows.InsertOne(ctx, toWorkflowDoc(wf))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("workflow %q already exists", wf.ID)
	}
	return err
}

// GetWorkflow implements store.Workflows.
func (s *Store) GetWorkflow(ctx context.Context, id string) (workflow.Workflow, error) {
	var doc workflowDoc
	err := s.workflows.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return workflow.Workflow{}, fmt.Errorf("workflow %q: %w", id, store.ErrWorkflowNotFound)
	}
	if err != nil {
		return workflow.Workflow{}, err
	}
	return fromWorkflowDoc(doc), nil
}

// UpdateWorkflow implements store.Workflows.
func (s *Store) UpdateWorkflow(ctx context.Context, wf workflow.Workflow) error {
	res, err := s.workflows.ReplaceOne(ctx, bson.M{"_id": wf.ID}, toWorkflowDoc(wf))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("workflow %q: %w", wf.ID, store.ErrWorkflowNotFound)
	}
	return nil
}

// DeleteWorkflow implements store.Workflows.
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.workflows.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("workflow %q: %w", id, store.ErrWorkflowNotFound)
	}
	cur, err := s.executions.Find(ctx, bson.M{"workflowId": id})
	if err != nil {
		return err
	}
	var execs []executionDoc
	if err := cur.All(ctx, &execs); err != nil {
		return err
	}
	execIDs := make([]string, 0, len(execs))
	for _, e := range execs {
		execIDs = append(execIDs, e.ID)
	}
	if _, err := s.definitions.DeleteMany(ctx, bson.M{"workflowId": id}); err != nil {
		return err
	}
	if len(execIDs) == 0 {
		return nil
	}
	inExecs := bson.M{"executionId": bson.M{"$in": execIDs}}
	for _, coll := range []*mongo.Collection{s.attempts, s.links, s.events} {
		if _, err := coll.DeleteMany(ctx, inExecs); err != nil {
			return err
		}
	}
	if _, err := s.hierarchy.DeleteMany(ctx, bson.M{"$or": []bson.M{
		{"parentExecutionId": bson.M{"$in": execIDs}},
		{"childExecutionId": bson.M{"$in": execIDs}},
	}}); err != nil {
		return err
	}
	_, err = s.executions.DeleteMany(ctx, bson.M{"workflowId": id})
	return err
}

// SaveDraft implements store.Definitions.
func (s *Store) SaveDraft(ctx context.Context, workflowID string, raw json.RawMessage) error {
	_, err := s.definitions.ReplaceOne(ctx,
		bson.M{"_id": defID(workflowID, workflow.DraftVersion)},
		definitionDoc{
			ID:         defID(workflowID, workflow.DraftVersion),
			WorkflowID: workflowID,
			Version:    workflow.DraftVersion,
			Definition: string(raw),
		},
		options.Replace().SetUpsert(true))
	return err
}

// GetDefinition implements store.Definitions.
func (s *Store) GetDefinition(ctx context.Context, workflowID string, version int) (json.RawMessage, error) {
	var doc definitionDoc
	err := s.definitions.FindOne(ctx, bson.M{"_id": defID(workflowID, version)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("workflow %q version %d: %w", workflowID, version, store.ErrDefinitionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(doc.Definition), nil
}

// InsertDefinition implements store.Definitions.
func (s *Store) InsertDefinition(ctx context.Context, workflowID string, version int, raw json.RawMessage, checksum string) error {
	if version <= workflow.DraftVersion {
		return fmt.Errorf("version %d: %w", version, store.ErrImmutableDefinition)
	}
	_, err := s.definitions.InsertOne(ctx, definitionDoc{
		ID:         defID(workflowID, version),
		WorkflowID: workflowID,
		Version:    version,
		Definition: string(raw),
		Checksum:   checksum,
	})
	if mongo.IsDuplicateKeyError(err) {
		if v, ferr := s.FindDefinitionByChecksum(ctx, workflowID, checksum); ferr == nil {
			return store.Errorf(store.CodeValidation,
				"workflow %q already has version %d with checksum %s", workflowID, v, checksum)
		}
		return fmt.Errorf("workflow %q version %d: %w", workflowID, version, store.ErrImmutableDefinition)
	}
	return err
}

// FindDefinitionByChecksum implements store.Definitions.
func (s *Store) FindDefinitionByChecksum(ctx context.Context, workflowID, checksum string) (int, error) {
	var doc definitionDoc
	err := s.definitions.FindOne(ctx, bson.M{
		"workflowId": workflowID,
		"checksum":   checksum,
		"version":    bson.M{"$gt": workflow.DraftVersion},
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("workflow %q checksum %s: %w", workflowID, checksum, store.ErrDefinitionNotFound)
	}
	if err != nil {
		return 0, err
	}
	return doc.Version, nil
}

// LatestVersion implements store.Definitions.
func (s *Store) LatestVersion(ctx context.Context, workflowID string) (int, error) {
	var doc definitionDoc
	err := s.definitions.FindOne(ctx,
		bson.M{"workflowId": workflowID, "version": bson.M{"$gt": workflow.DraftVersion}},
		options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Version, nil
}

// StartExecution implements store.Executions.
func (s *Store) StartExecution(ctx context.Context, req store.StartRequest) (store.Execution, bool, error) {
	wf, err := s.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return store.Execution{}, false, err
	}

	// Idempotent fast path before the status checks: re-posting a request
	// for an already created execution must return it even if the workflow
	// was archived in the meantime.
	var existing executionDoc
	err = s.executions.FindOne(ctx, bson.M{"workflowId": req.WorkflowID, "requestId": req.RequestID}).Decode(&existing)
	if err == nil {
		return fromExecutionDoc(existing), true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return store.Execution{}, false, err
	}

	if cnt, err := s.executions.CountDocuments(ctx, bson.M{
		"requestId":  req.RequestID,
		"workflowId": bson.M{"$ne": req.WorkflowID},
	}); err != nil {
		return store.Execution{}, false, err
	} else if cnt > 0 {
		return store.Execution{}, false, store.Errorf(store.CodeRequestIDConflict,
			"request %q already belongs to another workflow", req.RequestID)
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
	doc := executionDoc{
		ID:                uuid.NewString(),
		WorkflowID:        req.WorkflowID,
		WorkflowVersion:   version,
		RequestID:         req.RequestID,
		Status:            string(store.ExecutionPending),
		Trigger:           bson.M(req.Trigger),
		CorrelationID:     req.CorrelationID,
		TenantID:          req.TenantID,
		ParentExecutionID: req.ParentExecutionID,
		Principal:         req.Principal,
		CreatedAt:         time.Now(),
	}
	if _, err := s.executions.InsertOne(ctx, doc); err != nil {
		// Concurrent idempotent start: the unique index won the race.
		if mongo.IsDuplicateKeyError(err) {
			var winner executionDoc
			if ferr := s.executions.FindOne(ctx, bson.M{"workflowId": req.WorkflowID, "requestId": req.RequestID}).Decode(&winner); ferr == nil {
				return fromExecutionDoc(winner), true, nil
			}
		}
		return store.Execution{}, false, err
	}
	return fromExecutionDoc(doc), false, nil
}

// TryAcquireExecution implements store.Executions.
func (s *Store) TryAcquireExecution(ctx context.Context, executionID string) (bool, error) {
	res, err := s.executions.UpdateOne(ctx,
		bson.M{"_id": executionID, "status": string(store.ExecutionPending)},
		bson.M{"$set": bson.M{"status": string(store.ExecutionRunning), "startedAt": time.Now()}})
	if err != nil {
		return false, err
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	if cnt, err := s.executions.CountDocuments(ctx, bson.M{"_id": executionID}); err != nil {
		return false, err
	} else if cnt == 0 {
		return false, fmt.Errorf("execution %q: %w", executionID, store.ErrExecutionNotFound)
	}
	return false, nil
}

// CompleteExecution implements store.Executions.
func (s *Store) CompleteExecution(ctx context.Context, executionID string, status store.ExecutionStatus, snapshot json.RawMessage) error {
	if !status.Terminal() {
		return store.Errorf(store.CodeIllegalTransition, "%q is not a terminal status", status)
	}
	res, err := s.executions.UpdateOne(ctx,
		bson.M{"_id": executionID, "status": string(store.ExecutionRunning)},
		bson.M{"$set": bson.M{
			"status":          string(status),
			"contextSnapshot": string(snapshot),
			"endedAt":         time.Now(),
		}})
	if err != nil {
		return err
	}
	if res.ModifiedCount == 1 {
		return nil
	}
	var doc executionDoc
	if err := s.executions.FindOne(ctx, bson.M{"_id": executionID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("execution %q: %w", executionID, store.ErrExecutionNotFound)
		}
		return err
	}
	return store.Errorf(store.CodeIllegalTransition,
		"execution %q: cannot move from %q to %q", executionID, doc.Status, status)
}

// GetExecution implements store.Executions.
func (s *Store) GetExecution(ctx context.Context, executionID string) (store.Execution, error) {
	var doc executionDoc
	err := s.executions.FindOne(ctx, bson.M{"_id": executionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Execution{}, fmt.Errorf("execution %q: %w", executionID, store.ErrExecutionNotFound)
	}
	if err != nil {
		return store.Execution{}, err
	}
	return fromExecutionDoc(doc), nil
}

// RecordAttempt implements store.Executions as an upsert keyed by
// (executionId, nodeId, attempt) so replays are safe.
func (s *Store) RecordAttempt(ctx context.Context, att store.Attempt) (store.Attempt, error) {
	if att.Attempt < 1 {
		return store.Attempt{}, fmt.Errorf("attempt number must be positive, got %d", att.Attempt)
	}
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	filter := bson.M{"executionId": att.ExecutionID, "nodeId": att.NodeID, "attempt": att.Attempt}
	update := bson.M{
		"$set": bson.M{
			"actionType": att.ActionType,
			"status":     string(att.Status),
			"retryCount": att.RetryCount,
			"parameters": bson.M(att.Parameters),
			"outputs":    bson.M(att.Outputs),
			"error":      att.Error,
			"startedAt":  att.StartedAt,
			"endedAt":    att.EndedAt,
		},
		"$setOnInsert": bson.M{"_id": att.ID},
	}
	var doc attemptDoc
	err := s.attempts.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		return store.Attempt{}, err
	}
	att.ID = doc.ID
	return att, nil
}

// ListAttempts implements store.Executions.
func (s *Store) ListAttempts(ctx context.Context, executionID string) ([]store.Attempt, error) {
	cur, err := s.attempts.Find(ctx, bson.M{"executionId": executionID},
		options.Find().SetSort(bson.D{{Key: "nodeId", Value: 1}, {Key: "attempt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []attemptDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]store.Attempt, len(docs))
	for i, d := range docs {
		out[i] = store.Attempt{
			ID:          d.ID,
			ExecutionID: d.ExecutionID,
			NodeID:      d.NodeID,
			ActionType:  d.ActionType,
			Status:      actions.Status(d.Status),
			Attempt:     d.Attempt,
			RetryCount:  d.RetryCount,
			Parameters:  map[string]any(d.Parameters),
			Outputs:     map[string]any(d.Outputs),
			Error:       d.Error,
			StartedAt:   d.StartedAt,
			EndedAt:     d.EndedAt,
		}
	}
	return out, nil
}

// LinkResource implements store.Executions.
func (s *Store) LinkResource(ctx context.Context, req store.LinkRequest) (store.LinkOutcome, error) {
	_, err := s.links.InsertOne(ctx, linkDoc{
		ID:          uuid.NewString(),
		ExecutionID: req.ExecutionID,
		AttemptID:   req.AttemptID,
		System:      req.System,
		Type:        req.Type,
		ResourceID:  req.ResourceID,
		URL:         req.URL,
		CreatedAt:   time.Now(),
	})
	if err == nil {
		return store.LinkCreated, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return "", err
	}
	var existing linkDoc
	ferr := s.links.FindOne(ctx, bson.M{
		"system": req.System, "type": req.Type, "resourceId": req.ResourceID,
	}).Decode(&existing)
	if ferr != nil {
		return "", ferr
	}
	if existing.ExecutionID == req.ExecutionID {
		return store.LinkExists, nil
	}
	return "", store.Errorf(store.CodeResourceLinkConflict,
		"resource %s/%s/%s is linked to execution %q", req.System, req.Type, req.ResourceID, existing.ExecutionID)
}

// FindResourceLink implements store.Executions.
func (s *Store) FindResourceLink(ctx context.Context, system, resourceType, resourceID string) (store.ResourceLink, bool, error) {
	var doc linkDoc
	err := s.links.FindOne(ctx, bson.M{"system": system, "type": resourceType, "resourceId": resourceID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ResourceLink{}, false, nil
	}
	if err != nil {
		return store.ResourceLink{}, false, err
	}
	return store.ResourceLink{
		ID:          doc.ID,
		ExecutionID: doc.ExecutionID,
		AttemptID:   doc.AttemptID,
		System:      doc.System,
		Type:        doc.Type,
		ResourceID:  doc.ResourceID,
		URL:         doc.URL,
		CreatedAt:   doc.CreatedAt,
	}, true, nil
}

// AddHierarchyLink implements store.Executions.
func (s *Store) AddHierarchyLink(ctx context.Context, link store.HierarchyLink) error {
	_, err := s.hierarchy.UpdateOne(ctx,
		bson.M{"parentExecutionId": link.ParentExecutionID, "childExecutionId": link.ChildExecutionID},
		bson.M{"$set": bson.M{"parentNodeId": link.ParentNodeID}},
		options.UpdateOne().SetUpsert(true))
	return err
}

// ListChildren implements store.Executions.
func (s *Store) ListChildren(ctx context.Context, parentExecutionID string) ([]store.HierarchyLink, error) {
	cur, err := s.hierarchy.Find(ctx, bson.M{"parentExecutionId": parentExecutionID})
	if err != nil {
		return nil, err
	}
	var docs []hierarchyDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]store.HierarchyLink, len(docs))
	for i, d := range docs {
		out[i] = store.HierarchyLink{
			ParentExecutionID: d.ParentExecutionID,
			ChildExecutionID:  d.ChildExecutionID,
			ParentNodeID:      d.ParentNodeID,
		}
	}
	return out, nil
}

// AppendEvent implements store.Events, assigning sequence numbers from a
// counter document.
func (s *Store) AppendEvent(ctx context.Context, ev store.Event) error {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "execution_events"},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)).Decode(&counter)
	if err != nil {
		return err
	}
	_, err = s.events.InsertOne(ctx, eventDoc{
		Seq:         counter.Seq,
		ExecutionID: ev.ExecutionID,
		Time:        ev.Time,
		Level:       ev.Level,
		Category:    ev.Category,
		Payload:     bson.M(ev.Payload),
	})
	return err
}

// ListEvents implements store.Events.
func (s *Store) ListEvents(ctx context.Context, executionID string) ([]store.Event, error) {
	cur, err := s.events.Find(ctx, bson.M{"executionId": executionID},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []eventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]store.Event, len(docs))
	for i, d := range docs {
		out[i] = store.Event{
			Seq:         d.Seq,
			ExecutionID: d.ExecutionID,
			Time:        d.Time,
			Level:       d.Level,
			Category:    d.Category,
			Payload:     map[string]any(d.Payload),
		}
	}
	return out, nil
}

func defID(workflowID string, version int) string {
	return fmt.Sprintf("%s@%d", workflowID, version)
}

func toWorkflowDoc(wf workflow.Workflow) workflowDoc {
	return workflowDoc{
		ID:             wf.ID,
		DisplayName:    wf.DisplayName,
		Description:    wf.Description,
		CurrentVersion: wf.CurrentVersion,
		Status:         string(wf.Status),
		Enabled:        wf.Enabled,
		CreatedAt:      wf.CreatedAt,
		UpdatedAt:      wf.UpdatedAt,
	}
}

func fromWorkflowDoc(doc workflowDoc) workflow.Workflow {
	return workflow.Workflow{
		ID:             doc.ID,
		DisplayName:    doc.DisplayName,
		Description:    doc.Description,
		CurrentVersion: doc.CurrentVersion,
		Status:         workflow.Status(doc.Status),
		Enabled:        doc.Enabled,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

func fromExecutionDoc(doc executionDoc) store.Execution {
	return store.Execution{
		ID:                doc.ID,
		WorkflowID:        doc.WorkflowID,
		WorkflowVersion:   doc.WorkflowVersion,
		RequestID:         doc.RequestID,
		Status:            store.ExecutionStatus(doc.Status),
		Trigger:           map[string]any(doc.Trigger),
		ContextSnapshot:   json.RawMessage(doc.ContextSnapshot),
		CorrelationID:     doc.CorrelationID,
		TenantID:          doc.TenantID,
		ParentExecutionID: doc.ParentExecutionID,
		Principal:         doc.Principal,
		StartedAt:         doc.StartedAt,
		EndedAt:           doc.EndedAt,
		CreatedAt:         doc.CreatedAt,
	}
}
