package conductor

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"goa.design/weave/runtime/actions"
)

type (
	// Config is the immutable engine configuration snapshot. It is populated
	// once at startup (DefaultConfig, LoadConfig or by hand) and never
	// mutated afterwards.
	Config struct {
		// MaxParallelActions is the process-wide ceiling on concurrently
		// executing node attempts, shared by every execution.
		MaxParallelActions int
		// DefaultActionTimeout bounds a single action invocation when the
		// node declares no timeout.
		DefaultActionTimeout time.Duration
		// DefaultWorkflowTimeout bounds a whole execution.
		DefaultWorkflowTimeout time.Duration
		// Retry is the default retry policy for retriable action failures.
		Retry RetryConfig
		// Subworkflow controls child execution nesting.
		Subworkflow SubworkflowConfig
		// ContextSnapshot controls the pruned context written at completion.
		ContextSnapshot SnapshotConfig
		// Catalog controls startup behavior of the action catalog.
		Catalog CatalogConfig
		// Connectors maps connector ids to remote action endpoints.
		Connectors map[string]actions.ConnectorConfig
		// TemplateTimeout bounds one parameter rendering.
		TemplateTimeout time.Duration
		// ConditionTimeout bounds one edge condition evaluation.
		ConditionTimeout time.Duration
	}

	// RetryConfig is the engine default retry policy.
	RetryConfig struct {
		// MaxRetryAttempts caps total attempts per node.
		MaxRetryAttempts int
		// InitialDelay is the delay before the first retry.
		InitialDelay time.Duration
		// BackoffFactor multiplies the delay after each retry.
		BackoffFactor float64
		// Jitter randomizes retry delays.
		Jitter bool
	}

	// SubworkflowConfig controls sub-workflow invocation.
	SubworkflowConfig struct {
		// MaxNestingDepth caps the parent chain length of a child execution.
		MaxNestingDepth int
		// AllowRecursion permits a workflow to appear in its own ancestry.
		AllowRecursion bool
		// DefaultChildTimeout bounds fire-and-forget children.
		DefaultChildTimeout time.Duration
	}

	// SnapshotMode selects what the completion snapshot keeps.
	SnapshotMode string

	// OverflowBehavior selects what happens when the snapshot exceeds the
	// size cap.
	OverflowBehavior string

	// SnapshotConfig controls the pruned context snapshot.
	SnapshotConfig struct {
		// Mode selects the pruning policy.
		Mode SnapshotMode
		// KeysToInclude lists the node ids kept in KeysOnly mode.
		KeysToInclude []string
		// MaxContextSizeBytes caps the serialized snapshot.
		MaxContextSizeBytes int
		// Overflow selects the behavior when the cap is exceeded.
		Overflow OverflowBehavior
	}

	// CatalogConfig controls startup behavior of the action catalog.
	CatalogConfig struct {
		// AutoRegisterActionsOnStartup registers the handlers supplied via
		// Options.CatalogActions during engine construction.
		AutoRegisterActionsOnStartup bool `yaml:"autoRegisterActionsOnStartup"`
		// ValidateActionSchemasOnStartup compiles every registered parameter
		// and output schema during engine construction.
		ValidateActionSchemasOnStartup bool `yaml:"validateActionSchemasOnStartup"`
		// AllowDraftExecution permits executing the draft copy of a workflow.
		AllowDraftExecution bool `yaml:"allowDraftExecution"`
	}
)

const (
	// SnapshotFull keeps every node's outputs.
	SnapshotFull SnapshotMode = "full"
	// SnapshotSummaryOnly keeps per-node size summaries only.
	SnapshotSummaryOnly SnapshotMode = "summary_only"
	// SnapshotKeysOnly keeps only the nodes listed in KeysToInclude.
	SnapshotKeysOnly SnapshotMode = "keys_only"

	// OverflowFail fails completion when the snapshot exceeds the cap.
	OverflowFail OverflowBehavior = "fail"
	// OverflowPruneOldest drops the oldest node outputs until the snapshot
	// fits.
	OverflowPruneOldest OverflowBehavior = "auto_prune_oldest"
	// OverflowDropOversize replaces the largest node outputs with summary
	// stubs until the snapshot fits.
	OverflowDropOversize OverflowBehavior = "drop_oversize"
)

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallelActions:     10,
		DefaultActionTimeout:   5 * time.Minute,
		DefaultWorkflowTimeout: time.Hour,
		Retry: RetryConfig{
			MaxRetryAttempts: 3,
			InitialDelay:     2 * time.Second,
			BackoffFactor:    2.0,
			Jitter:           true,
		},
		Subworkflow: SubworkflowConfig{
			MaxNestingDepth:     5,
			AllowRecursion:      false,
			DefaultChildTimeout: time.Hour,
		},
		ContextSnapshot: SnapshotConfig{
			Mode:                SnapshotFull,
			MaxContextSizeBytes: 10 << 20,
			Overflow:            OverflowPruneOldest,
		},
		TemplateTimeout:  2 * time.Second,
		ConditionTimeout: 2 * time.Second,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.MaxParallelActions < 1 {
		return fmt.Errorf("maxParallelActions must be at least 1, got %d", c.MaxParallelActions)
	}
	if c.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoffFactor must be at least 1, got %g", c.Retry.BackoffFactor)
	}
	if c.Retry.MaxRetryAttempts < 0 {
		return fmt.Errorf("retry.maxRetryAttempts must not be negative, got %d", c.Retry.MaxRetryAttempts)
	}
	if c.Subworkflow.MaxNestingDepth < 0 {
		return fmt.Errorf("subworkflow.maxNestingDepth must not be negative, got %d", c.Subworkflow.MaxNestingDepth)
	}
	switch c.ContextSnapshot.Mode {
	case SnapshotFull, SnapshotSummaryOnly, SnapshotKeysOnly:
	default:
		return fmt.Errorf("contextSnapshot.mode %q is not recognized", c.ContextSnapshot.Mode)
	}
	switch c.ContextSnapshot.Overflow {
	case OverflowFail, OverflowPruneOldest, OverflowDropOversize:
	default:
		return fmt.Errorf("contextSnapshot.overflowBehavior %q is not recognized", c.ContextSnapshot.Overflow)
	}
	for id, conn := range c.Connectors {
		if conn.URL == "" {
			return fmt.Errorf("connector %q: url is required", id)
		}
	}
	return nil
}

// File representation: durations are strings ("5m", "1h") and defaults apply
// for every absent field.
type (
	fileConfig struct {
		MaxParallelActions     *int                               `yaml:"maxParallelActions"`
		DefaultActionTimeout   string                             `yaml:"defaultActionTimeout"`
		DefaultWorkflowTimeout string                             `yaml:"defaultWorkflowTimeout"`
		Retry                  *fileRetry                         `yaml:"retry"`
		Subworkflow            *fileSubworkflow                   `yaml:"subworkflow"`
		ContextSnapshot        *fileSnapshot                      `yaml:"contextSnapshot"`
		Catalog                *CatalogConfig                     `yaml:"catalog"`
		Connectors             map[string]actions.ConnectorConfig `yaml:"connectors"`
		TemplateTimeout        string                             `yaml:"templateTimeout"`
		ConditionTimeout       string                             `yaml:"conditionTimeout"`
	}

	fileRetry struct {
		MaxRetryAttempts *int     `yaml:"maxRetryAttempts"`
		InitialDelay     string   `yaml:"initialDelay"`
		BackoffFactor    *float64 `yaml:"backoffFactor"`
		Jitter           *bool    `yaml:"jitter"`
	}

	fileSubworkflow struct {
		MaxNestingDepth     *int   `yaml:"maxNestingDepth"`
		AllowRecursion      *bool  `yaml:"allowRecursion"`
		DefaultChildTimeout string `yaml:"defaultChildTimeout"`
	}

	fileSnapshot struct {
		Mode                string   `yaml:"mode"`
		KeysToInclude       []string `yaml:"keysToInclude"`
		MaxContextSizeBytes *int     `yaml:"maxContextSizeBytes"`
		Overflow            string   `yaml:"overflowBehavior"`
	}
)

// LoadConfig reads a YAML configuration file, applies defaults for absent
// fields and validates the result.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(raw)
}

// ParseConfig decodes YAML configuration bytes, applies defaults and
// validates the result.
func ParseConfig(raw []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg := DefaultConfig()
	if fc.MaxParallelActions != nil {
		cfg.MaxParallelActions = *fc.MaxParallelActions
	}
	if err := overrideDuration(&cfg.DefaultActionTimeout, fc.DefaultActionTimeout, "defaultActionTimeout"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.DefaultWorkflowTimeout, fc.DefaultWorkflowTimeout, "defaultWorkflowTimeout"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.TemplateTimeout, fc.TemplateTimeout, "templateTimeout"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.ConditionTimeout, fc.ConditionTimeout, "conditionTimeout"); err != nil {
		return Config{}, err
	}
	if fc.Retry != nil {
		if fc.Retry.MaxRetryAttempts != nil {
			cfg.Retry.MaxRetryAttempts = *fc.Retry.MaxRetryAttempts
		}
		if err := overrideDuration(&cfg.Retry.InitialDelay, fc.Retry.InitialDelay, "retry.initialDelay"); err != nil {
			return Config{}, err
		}
		if fc.Retry.BackoffFactor != nil {
			cfg.Retry.BackoffFactor = *fc.Retry.BackoffFactor
		}
		if fc.Retry.Jitter != nil {
			cfg.Retry.Jitter = *fc.Retry.Jitter
		}
	}
	if fc.Subworkflow != nil {
		if fc.Subworkflow.MaxNestingDepth != nil {
			cfg.Subworkflow.MaxNestingDepth = *fc.Subworkflow.MaxNestingDepth
		}
		if fc.Subworkflow.AllowRecursion != nil {
			cfg.Subworkflow.AllowRecursion = *fc.Subworkflow.AllowRecursion
		}
		if err := overrideDuration(&cfg.Subworkflow.DefaultChildTimeout, fc.Subworkflow.DefaultChildTimeout, "subworkflow.defaultChildTimeout"); err != nil {
			return Config{}, err
		}
	}
	if fc.ContextSnapshot != nil {
		if fc.ContextSnapshot.Mode != "" {
			cfg.ContextSnapshot.Mode = SnapshotMode(fc.ContextSnapshot.Mode)
		}
		if fc.ContextSnapshot.KeysToInclude != nil {
			cfg.ContextSnapshot.KeysToInclude = fc.ContextSnapshot.KeysToInclude
		}
		if fc.ContextSnapshot.MaxContextSizeBytes != nil {
			cfg.ContextSnapshot.MaxContextSizeBytes = *fc.ContextSnapshot.MaxContextSizeBytes
		}
		if fc.ContextSnapshot.Overflow != "" {
			cfg.ContextSnapshot.Overflow = OverflowBehavior(fc.ContextSnapshot.Overflow)
		}
	}
	if fc.Catalog != nil {
		cfg.Catalog = *fc.Catalog
	}
	if fc.Connectors != nil {
		cfg.Connectors = fc.Connectors
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overrideDuration(dst *time.Duration, src, field string) error {
	if src == "" {
		return nil
	}
	d, err := time.ParseDuration(src)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}
