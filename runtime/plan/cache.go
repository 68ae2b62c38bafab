package plan

import (
	"context"
	"fmt"
	"sync"
)

type (
	// Cache stores compiled plans keyed by (workflowID, version). Publishing
	// a new version invalidates the workflow's entries. Implementations may
	// drop entries at any time; callers fall back to recompiling from the
	// definition.
	Cache interface {
		// Get returns the cached plan, or ok=false on a miss.
		Get(ctx context.Context, workflowID string, version int) (p *Plan, ok bool, err error)
		// Put stores a compiled plan.
		Put(ctx context.Context, p *Plan) error
		// Invalidate drops every cached version of a workflow.
		Invalidate(ctx context.Context, workflowID string) error
	}

	// MemoryCache is the in-process Cache. Reads are lock-free on the fast
	// path via sync.Map; writes are rare (one per published version).
	MemoryCache struct {
		entries sync.Map // cacheKey -> *Plan
	}

	cacheKey struct {
		workflowID string
		version    int
	}
)

// NewMemoryCache returns an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, workflowID string, version int) (*Plan, bool, error) {
	v, ok := c.entries.Load(cacheKey{workflowID, version})
	if !ok {
		return nil, false, nil
	}
	return v.(*Plan), true, nil
}

// Put implements Cache.
func (c *MemoryCache) Put(_ context.Context, p *Plan) error {
	if p == nil {
		return fmt.Errorf("nil plan")
	}
	c.entries.Store(cacheKey{p.WorkflowID, p.Version}, p)
	return nil
}

// Invalidate implements Cache.
func (c *MemoryCache) Invalidate(_ context.Context, workflowID string) error {
	c.entries.Range(func(k, _ any) bool {
		if k.(cacheKey).workflowID == workflowID {
			c.entries.Delete(k)
		}
		return true
	})
	return nil
}
