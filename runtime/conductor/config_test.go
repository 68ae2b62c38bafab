package conductor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/weave/runtime/conductor"
)

func TestDefaultConfig(t *testing.T) {
	cfg := conductor.DefaultConfig()
	require.Equal(t, 10, cfg.MaxParallelActions)
	require.Equal(t, 5*time.Minute, cfg.DefaultActionTimeout)
	require.Equal(t, time.Hour, cfg.DefaultWorkflowTimeout)
	require.Equal(t, 3, cfg.Retry.MaxRetryAttempts)
	require.Equal(t, 2*time.Second, cfg.Retry.InitialDelay)
	require.Equal(t, 2.0, cfg.Retry.BackoffFactor)
	require.True(t, cfg.Retry.Jitter)
	require.Equal(t, 5, cfg.Subworkflow.MaxNestingDepth)
	require.False(t, cfg.Subworkflow.AllowRecursion)
	require.Equal(t, 10<<20, cfg.ContextSnapshot.MaxContextSizeBytes)
	require.False(t, cfg.Catalog.AllowDraftExecution)
	require.NoError(t, cfg.Validate())
}

func TestParseConfigOverrides(t *testing.T) {
	cfg, err := conductor.ParseConfig([]byte(`
maxParallelActions: 4
defaultActionTimeout: 30s
defaultWorkflowTimeout: 10m
retry:
  maxRetryAttempts: 5
  initialDelay: 100ms
  backoffFactor: 1.5
  jitter: false
subworkflow:
  maxNestingDepth: 2
  allowRecursion: true
contextSnapshot:
  mode: keys_only
  keysToInclude: [a, b]
  maxContextSizeBytes: 1024
  overflowBehavior: fail
catalog:
  allowDraftExecution: true
connectors:
  monday:
    url: http://monday-connector:8080
    requestsPerSecond: 5
templateTimeout: 1s
conditionTimeout: 500ms
`))
	require.NoError(t, err)
	require.Equal(t, 4, cfg.MaxParallelActions)
	require.Equal(t, 30*time.Second, cfg.DefaultActionTimeout)
	require.Equal(t, 10*time.Minute, cfg.DefaultWorkflowTimeout)
	require.Equal(t, 5, cfg.Retry.MaxRetryAttempts)
	require.Equal(t, 100*time.Millisecond, cfg.Retry.InitialDelay)
	require.Equal(t, 1.5, cfg.Retry.BackoffFactor)
	require.False(t, cfg.Retry.Jitter)
	require.Equal(t, 2, cfg.Subworkflow.MaxNestingDepth)
	require.True(t, cfg.Subworkflow.AllowRecursion)
	require.Equal(t, conductor.SnapshotKeysOnly, cfg.ContextSnapshot.Mode)
	require.Equal(t, []string{"a", "b"}, cfg.ContextSnapshot.KeysToInclude)
	require.Equal(t, conductor.OverflowFail, cfg.ContextSnapshot.Overflow)
	require.True(t, cfg.Catalog.AllowDraftExecution)
	require.Equal(t, "http://monday-connector:8080", cfg.Connectors["monday"].URL)
	require.Equal(t, 5.0, cfg.Connectors["monday"].RequestsPerSecond)
	require.Equal(t, time.Second, cfg.TemplateTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.ConditionTimeout)
}

func TestParseConfigKeepsDefaultsForAbsentFields(t *testing.T) {
	cfg, err := conductor.ParseConfig([]byte(`maxParallelActions: 2`))
	require.NoError(t, err)
	require.Equal(t, 2, cfg.MaxParallelActions)
	require.Equal(t, conductor.DefaultConfig().Retry, cfg.Retry)
	require.Equal(t, conductor.DefaultConfig().DefaultWorkflowTimeout, cfg.DefaultWorkflowTimeout)
}

func TestParseConfigRejectsBadValues(t *testing.T) {
	_, err := conductor.ParseConfig([]byte(`maxParallelActions: 0`))
	require.Error(t, err)

	_, err = conductor.ParseConfig([]byte(`defaultActionTimeout: soon`))
	require.Error(t, err)

	_, err = conductor.ParseConfig([]byte("contextSnapshot:\n  mode: everything"))
	require.Error(t, err)

	_, err = conductor.ParseConfig([]byte("connectors:\n  monday: {}"))
	require.Error(t, err)
}
