package conductor

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// RuntimeContext is the only mutable state of an execution: a thread-safe
// map from node id to the outputs of its successful attempt. Templates and
// conditions read point-in-time snapshots; they never observe partial writes.
// Each node has at most one successful writer per run, so per-key writes are
// effectively single-writer.
type RuntimeContext struct {
	mu      sync.RWMutex
	outputs map[string]map[string]any
	order   []string // node ids in first-write order, for oldest-first pruning
	trigger map[string]any
	vars    map[string]any
}

// NewRuntimeContext builds the context for one execution. The trigger
// snapshot and vars are immutable for the lifetime of the run.
func NewRuntimeContext(trigger, vars map[string]any) *RuntimeContext {
	return &RuntimeContext{
		outputs: make(map[string]map[string]any),
		trigger: trigger,
		vars:    vars,
	}
}

// SetOutput records the outputs of a node's successful attempt. A later
// successful attempt for the same node overwrites the earlier value.
func (rc *RuntimeContext) SetOutput(nodeID string, outputs map[string]any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, seen := rc.outputs[nodeID]; !seen {
		rc.order = append(rc.order, nodeID)
	}
	rc.outputs[nodeID] = outputs
}

// Snapshot returns a point-in-time shallow copy of the output map, suitable
// as the read-only context of template rendering and condition evaluation.
func (rc *RuntimeContext) Snapshot() map[string]map[string]any {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	snap := make(map[string]map[string]any, len(rc.outputs))
	for id, out := range rc.outputs {
		snap[id] = out
	}
	return snap
}

// Trigger returns the immutable trigger payload.
func (rc *RuntimeContext) Trigger() map[string]any { return rc.trigger }

// Vars returns the engine-provided variables.
func (rc *RuntimeContext) Vars() map[string]any { return rc.vars }

// Prune applies the snapshot policy and returns the serialized snapshot
// written to the execution row at completion.
func (rc *RuntimeContext) Prune(cfg SnapshotConfig) (json.RawMessage, error) {
	rc.mu.RLock()
	snap := make(map[string]map[string]any, len(rc.outputs))
	for id, out := range rc.outputs {
		snap[id] = out
	}
	order := append([]string(nil), rc.order...)
	rc.mu.RUnlock()

	entries := make(map[string]any, len(snap))
	switch cfg.Mode {
	case SnapshotSummaryOnly:
		for id, out := range snap {
			entries[id] = summaryStub(out)
		}
	case SnapshotKeysOnly:
		keep := make(map[string]bool, len(cfg.KeysToInclude))
		for _, k := range cfg.KeysToInclude {
			keep[k] = true
		}
		for id, out := range snap {
			if keep[id] {
				entries[id] = out
			}
		}
	default: // SnapshotFull
		for id, out := range snap {
			entries[id] = out
		}
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("serialize context snapshot: %w", err)
	}
	if cfg.MaxContextSizeBytes <= 0 || len(raw) <= cfg.MaxContextSizeBytes {
		return raw, nil
	}

	switch cfg.Overflow {
	case OverflowFail:
		return nil, fmt.Errorf("context snapshot is %d bytes, cap is %d", len(raw), cfg.MaxContextSizeBytes)
	case OverflowPruneOldest:
		for _, id := range order {
			if _, ok := entries[id]; !ok {
				continue
			}
			delete(entries, id)
			if raw, err = json.Marshal(entries); err != nil {
				return nil, err
			}
			if len(raw) <= cfg.MaxContextSizeBytes {
				return raw, nil
			}
		}
		return raw, nil
	case OverflowDropOversize:
		// Replace entries with summary stubs, largest first, until the
		// snapshot fits.
		type sized struct {
			id   string
			size int
		}
		sizes := make([]sized, 0, len(entries))
		for id, v := range entries {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			sizes = append(sizes, sized{id: id, size: len(b)})
		}
		sort.Slice(sizes, func(i, j int) bool { return sizes[i].size > sizes[j].size })
		for _, s := range sizes {
			entries[s.id] = summaryStub(snap[s.id])
			if raw, err = json.Marshal(entries); err != nil {
				return nil, err
			}
			if len(raw) <= cfg.MaxContextSizeBytes {
				return raw, nil
			}
		}
		return raw, nil
	}
	return raw, nil
}

func summaryStub(out map[string]any) map[string]any {
	size := 0
	if b, err := json.Marshal(out); err == nil {
		size = len(b)
	}
	return map[string]any{"type": "summary", "size": size, "truncated": true}
}
