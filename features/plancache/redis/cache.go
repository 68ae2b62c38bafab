// Package redis implements the plan cache contract over Redis so replicas
// share compiled-plan state. Compiled condition and template programs do not
// serialize; the cache stores a compact plan document (descriptors plus the
// original condition and template sources) and recompiles the programs
// through the configured evaluators on a miss of the in-process layer.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"goa.design/weave/runtime/conditions"
	"goa.design/weave/runtime/plan"
	"goa.design/weave/runtime/templates"
	"goa.design/weave/runtime/workflow"
)

type (
	// Options configures the cache.
	Options struct {
		// Client is the Redis connection. Required.
		Client *goredis.Client
		// Conditions recompiles edge conditions on cache hits. Required.
		Conditions conditions.Evaluator
		// Templates recompiles parameter templates on cache hits. Required.
		Templates templates.Engine
		// TTL bounds entry lifetime. Zero means no expiry.
		TTL time.Duration
		// Prefix namespaces the cache keys. Defaults to "weave:plan".
		Prefix string
	}

	// Cache implements plan.Cache over Redis with an in-process first layer.
	Cache struct {
		client     *goredis.Client
		conditions conditions.Evaluator
		templates  templates.Engine
		ttl        time.Duration
		prefix     string
		local      *plan.MemoryCache
	}

	planDoc struct {
		WorkflowID       string               `json:"workflowId"`
		Version          int                  `json:"version"`
		StartNode        string               `json:"startNode"`
		Order            []string             `json:"order"`
		Nodes            map[string]nodeDoc   `json:"nodes"`
		Adjacency        map[string][]edgeDoc `json:"adjacency"`
		ExpectedIncoming map[string]int       `json:"expectedIncoming"`
		Parents          map[string][]string  `json:"parents"`
		Reachable        []string             `json:"reachable"`
	}

	nodeDoc struct {
		ID                string                `json:"id"`
		Kind              workflow.NodeType     `json:"kind"`
		ActionType        string                `json:"actionType,omitempty"`
		WorkflowID        string                `json:"workflowId,omitempty"`
		WorkflowVersion   int                   `json:"workflowVersion,omitempty"`
		WaitForCompletion bool                  `json:"waitForCompletion"`
		RawParameters     map[string]any        `json:"parameters,omitempty"`
		OnFailure         string                `json:"onFailure,omitempty"`
		RoutePolicy       workflow.RoutePolicy  `json:"routePolicy"`
		TimeoutMS         int64                 `json:"timeoutMs,omitempty"`
		RerenderOnRetry   bool                  `json:"rerenderOnRetry"`
		Retry             *workflow.RetryPolicy `json:"retry,omitempty"`
	}

	edgeDoc struct {
		Target       string            `json:"target"`
		When         workflow.EdgeWhen `json:"when"`
		ConditionSrc string            `json:"condition,omitempty"`
		Synthesized  bool              `json:"synthesized,omitempty"`
	}
)

// New builds the cache.
func New(opts Options) (*Cache, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Conditions == nil {
		return nil, errors.New("condition evaluator is required")
	}
	if opts.Templates == nil {
		return nil, errors.New("template engine is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "weave:plan"
	}
	return &Cache{
		client:     opts.Client,
		conditions: opts.Conditions,
		templates:  opts.Templates,
		ttl:        opts.TTL,
		prefix:     prefix,
		local:      plan.NewMemoryCache(),
	}, nil
}

// Get implements plan.Cache.
func (c *Cache) Get(ctx context.Context, workflowID string, version int) (*plan.Plan, bool, error) {
	if p, ok, err := c.local.Get(ctx, workflowID, version); err == nil && ok {
		return p, true, nil
	}
	raw, err := c.client.Get(ctx, c.key(workflowID, version)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("plan cache get: %w", err)
	}
	var doc planDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, fmt.Errorf("plan cache decode: %w", err)
	}
	p, err := c.rebuild(doc)
	if err != nil {
		return nil, false, err
	}
	_ = c.local.Put(ctx, p)
	return p, true, nil
}

// Put implements plan.Cache.
func (c *Cache) Put(ctx context.Context, p *plan.Plan) error {
	if err := c.local.Put(ctx, p); err != nil {
		return err
	}
	raw, err := json.Marshal(encode(p))
	if err != nil {
		return fmt.Errorf("plan cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.key(p.WorkflowID, p.Version), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("plan cache put: %w", err)
	}
	return c.client.SAdd(ctx, c.indexKey(p.WorkflowID), c.key(p.WorkflowID, p.Version)).Err()
}

// Invalidate implements plan.Cache.
func (c *Cache) Invalidate(ctx context.Context, workflowID string) error {
	if err := c.local.Invalidate(ctx, workflowID); err != nil {
		return err
	}
	keys, err := c.client.SMembers(ctx, c.indexKey(workflowID)).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("plan cache invalidate: %w", err)
	}
	keys = append(keys, c.indexKey(workflowID))
	return c.client.Del(ctx, keys...).Err()
}

func (c *Cache) key(workflowID string, version int) string {
	return fmt.Sprintf("%s:%s:%d", c.prefix, workflowID, version)
}

func (c *Cache) indexKey(workflowID string) string {
	return fmt.Sprintf("%s:%s:versions", c.prefix, workflowID)
}

func encode(p *plan.Plan) planDoc {
	doc := planDoc{
		WorkflowID:       p.WorkflowID,
		Version:          p.Version,
		StartNode:        p.StartNode,
		Order:            p.Order,
		Nodes:            make(map[string]nodeDoc, len(p.Nodes)),
		Adjacency:        make(map[string][]edgeDoc, len(p.Adjacency)),
		ExpectedIncoming: p.ExpectedIncoming,
		Parents:          p.Parents,
	}
	for id, n := range p.Nodes {
		doc.Nodes[id] = nodeDoc{
			ID:                n.ID,
			Kind:              n.Kind,
			ActionType:        n.ActionType,
			WorkflowID:        n.WorkflowID,
			WorkflowVersion:   n.WorkflowVersion,
			WaitForCompletion: n.WaitForCompletion,
			RawParameters:     n.RawParameters,
			OnFailure:         n.OnFailure,
			RoutePolicy:       n.RoutePolicy,
			TimeoutMS:         n.TimeoutMS,
			RerenderOnRetry:   n.RerenderOnRetry,
			Retry:             n.Retry,
		}
	}
	for id, edges := range p.Adjacency {
		out := make([]edgeDoc, len(edges))
		for i, e := range edges {
			out[i] = edgeDoc{Target: e.Target, When: e.When, ConditionSrc: e.ConditionSrc, Synthesized: e.Synthesized}
		}
		doc.Adjacency[id] = out
	}
	for id := range p.Reachable {
		doc.Reachable = append(doc.Reachable, id)
	}
	return doc
}

func (c *Cache) rebuild(doc planDoc) (*plan.Plan, error) {
	p := &plan.Plan{
		WorkflowID:       doc.WorkflowID,
		Version:          doc.Version,
		StartNode:        doc.StartNode,
		Order:            doc.Order,
		Nodes:            make(map[string]*plan.Node, len(doc.Nodes)),
		Adjacency:        make(map[string][]plan.Edge, len(doc.Adjacency)),
		ExpectedIncoming: doc.ExpectedIncoming,
		Parents:          doc.Parents,
		Reachable:        make(map[string]bool, len(doc.Reachable)),
	}
	for _, id := range doc.Reachable {
		p.Reachable[id] = true
	}
	for id, n := range doc.Nodes {
		node := &plan.Node{
			ID:                n.ID,
			Kind:              n.Kind,
			ActionType:        n.ActionType,
			WorkflowID:        n.WorkflowID,
			WorkflowVersion:   n.WorkflowVersion,
			WaitForCompletion: n.WaitForCompletion,
			RawParameters:     n.RawParameters,
			OnFailure:         n.OnFailure,
			RoutePolicy:       n.RoutePolicy,
			TimeoutMS:         n.TimeoutMS,
			RerenderOnRetry:   n.RerenderOnRetry,
			Retry:             n.Retry,
		}
		if len(n.RawParameters) > 0 {
			renderer, err := c.templates.Compile(n.RawParameters)
			if err != nil {
				return nil, fmt.Errorf("plan cache rebuild node %q: %w", id, err)
			}
			node.Parameters = renderer
		}
		p.Nodes[id] = node
	}
	for id, edges := range doc.Adjacency {
		out := make([]plan.Edge, len(edges))
		for i, e := range edges {
			edge := plan.Edge{Target: e.Target, When: e.When, ConditionSrc: e.ConditionSrc, Synthesized: e.Synthesized}
			if e.ConditionSrc != "" {
				prog, err := c.conditions.Compile(e.ConditionSrc)
				if err != nil {
					return nil, fmt.Errorf("plan cache rebuild edge %s->%s: %w", id, e.Target, err)
				}
				edge.Condition = prog
			}
			out[i] = edge
		}
		p.Adjacency[id] = out
	}
	return p, nil
}
