// Package workflow defines the durable workflow model: metadata, the JSON
// definition DAG, parsing and normalization, static graph validation, and the
// canonical checksum used for idempotent publishing.
package workflow

import (
	"regexp"
	"time"
)

type (
	// Workflow is the mutable metadata record for a workflow. The executable
	// content lives in immutable Definition versions; Workflow tracks which
	// version (if any) is current and whether new executions may start.
	Workflow struct {
		// ID is the stable slug identifying the workflow. Must satisfy ValidSlug.
		ID string
		// DisplayName is the human-facing name.
		DisplayName string
		// Description documents the workflow's purpose.
		Description string
		// CurrentVersion is the active published version. Zero means no version
		// has been published yet (version numbers start at 1).
		CurrentVersion int
		// Status is the lifecycle state.
		Status Status
		// Enabled gates new execution starts independently of Status.
		Enabled bool
		// CreatedAt records when the workflow was first created.
		CreatedAt time.Time
		// UpdatedAt records the last metadata mutation.
		UpdatedAt time.Time
	}

	// Status is the workflow lifecycle state.
	Status string

	// Principal identifies the human or system that initiated an execution.
	// It is propagated to remote connectors via pass-through headers.
	Principal struct {
		// UserID is the stable identifier of the acting user.
		UserID string `json:"userId"`
		// Email is the acting user's email address, when known.
		Email string `json:"email,omitempty"`
		// DisplayName is the acting user's display name, when known.
		DisplayName string `json:"displayName,omitempty"`
	}
)

const (
	// StatusDraft marks a workflow whose definition is still editable.
	StatusDraft Status = "draft"
	// StatusActive marks a workflow whose current version accepts executions.
	StatusActive Status = "active"
	// StatusArchived marks a workflow that rejects new executions. In-flight
	// executions run to completion.
	StatusArchived Status = "archived"
)

// DraftVersion is the reserved version number of the mutable draft copy.
// Published versions start at 1 and are immutable once written.
const DraftVersion = 0

var slugRE = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidSlug reports whether id is a valid workflow identifier.
func ValidSlug(id string) bool {
	return id != "" && slugRE.MatchString(id)
}
