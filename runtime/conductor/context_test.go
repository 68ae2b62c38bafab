package conductor_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/weave/runtime/conductor"
)

func TestRuntimeContextSnapshotIsolation(t *testing.T) {
	rc := conductor.NewRuntimeContext(map[string]any{"k": "v"}, nil)
	rc.SetOutput("a", map[string]any{"n": 1})

	snap := rc.Snapshot()
	require.Equal(t, map[string]any{"n": 1}, snap["a"])

	rc.SetOutput("b", map[string]any{"n": 2})
	_, ok := snap["b"]
	require.False(t, ok, "snapshot must not observe later writes")
}

func TestRuntimeContextOverwriteOnLaterSuccess(t *testing.T) {
	rc := conductor.NewRuntimeContext(nil, nil)
	rc.SetOutput("a", map[string]any{"v": 1})
	rc.SetOutput("a", map[string]any{"v": 2})
	require.Equal(t, map[string]any{"v": 2}, rc.Snapshot()["a"])
}

func TestPruneFull(t *testing.T) {
	rc := conductor.NewRuntimeContext(nil, nil)
	rc.SetOutput("a", map[string]any{"v": 1})

	raw, err := rc.Prune(conductor.SnapshotConfig{Mode: conductor.SnapshotFull})
	require.NoError(t, err)
	require.JSONEq(t, `{"a":{"v":1}}`, string(raw))
}

func TestPruneSummaryOnly(t *testing.T) {
	rc := conductor.NewRuntimeContext(nil, nil)
	rc.SetOutput("a", map[string]any{"v": "payload"})

	raw, err := rc.Prune(conductor.SnapshotConfig{Mode: conductor.SnapshotSummaryOnly})
	require.NoError(t, err)
	var out map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Equal(t, true, out["a"]["truncated"])
	require.Equal(t, "summary", out["a"]["type"])
	require.Greater(t, out["a"]["size"], float64(0))
}

func TestPruneKeysOnly(t *testing.T) {
	rc := conductor.NewRuntimeContext(nil, nil)
	rc.SetOutput("keep", map[string]any{"v": 1})
	rc.SetOutput("drop", map[string]any{"v": 2})

	raw, err := rc.Prune(conductor.SnapshotConfig{
		Mode:          conductor.SnapshotKeysOnly,
		KeysToInclude: []string{"keep"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"keep":{"v":1}}`, string(raw))
}

func TestPruneOverflowFail(t *testing.T) {
	rc := conductor.NewRuntimeContext(nil, nil)
	rc.SetOutput("a", map[string]any{"v": strings.Repeat("x", 1024)})

	_, err := rc.Prune(conductor.SnapshotConfig{
		Mode:                conductor.SnapshotFull,
		MaxContextSizeBytes: 64,
		Overflow:            conductor.OverflowFail,
	})
	require.Error(t, err)
}

func TestPruneOverflowPruneOldest(t *testing.T) {
	rc := conductor.NewRuntimeContext(nil, nil)
	rc.SetOutput("old", map[string]any{"v": strings.Repeat("x", 512)})
	rc.SetOutput("new", map[string]any{"v": "small"})

	raw, err := rc.Prune(conductor.SnapshotConfig{
		Mode:                conductor.SnapshotFull,
		MaxContextSizeBytes: 128,
		Overflow:            conductor.OverflowPruneOldest,
	})
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	_, hasOld := out["old"]
	require.False(t, hasOld)
	_, hasNew := out["new"]
	require.True(t, hasNew)
}

func TestPruneOverflowDropOversize(t *testing.T) {
	rc := conductor.NewRuntimeContext(nil, nil)
	rc.SetOutput("big", map[string]any{"v": strings.Repeat("x", 512)})
	rc.SetOutput("small", map[string]any{"v": "ok"})

	raw, err := rc.Prune(conductor.SnapshotConfig{
		Mode:                conductor.SnapshotFull,
		MaxContextSizeBytes: 160,
		Overflow:            conductor.OverflowDropOversize,
	})
	require.NoError(t, err)
	var out map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Equal(t, true, out["big"]["truncated"])
	require.Equal(t, "ok", out["small"]["v"])
}
