// Package sprig implements the parameter templating contract on top of
// text/template extended with the sprig function library. String leaves that
// contain template actions are precompiled once at plan build time; maps and
// lists are walked structurally and non-string leaves pass through
// untouched. Rendering exposes .trigger, .context and .vars and fails on
// references to missing keys so typos surface as retriable node errors
// instead of silent empty strings.
package sprig

import (
	"context"
	"fmt"
	"strings"
	texttemplate "text/template"

	"github.com/Masterminds/sprig/v3"

	"goa.design/weave/runtime/templates"
)

type (
	// Engine implements templates.Engine.
	Engine struct {
		funcs texttemplate.FuncMap
	}

	// renderer is a precompiled parameter tree.
	renderer struct {
		root map[string]node
	}

	// node is one precompiled tree position: either a literal value or a
	// compiled template leaf.
	node struct {
		literal any
		tmpl    *texttemplate.Template
		childM  map[string]node
		childL  []node
	}
)

// New returns a sprig-backed template engine.
func New() *Engine {
	return &Engine{funcs: sprig.TxtFuncMap()}
}

// Compile implements templates.Engine.
func (e *Engine) Compile(params map[string]any) (templates.Renderer, error) {
	root := make(map[string]node, len(params))
	for k, v := range params {
		n, err := e.compileNode(k, v)
		if err != nil {
			return nil, err
		}
		root[k] = n
	}
	return &renderer{root: root}, nil
}

func (e *Engine) compileNode(path string, v any) (node, error) {
	switch t := v.(type) {
	case string:
		if !strings.Contains(t, "{{") {
			return node{literal: t}, nil
		}
		tmpl, err := texttemplate.New(path).Funcs(e.funcs).Option("missingkey=error").Parse(t)
		if err != nil {
			return node{}, fmt.Errorf("%s: %w", path, err)
		}
		return node{tmpl: tmpl}, nil
	case map[string]any:
		childM := make(map[string]node, len(t))
		for k, val := range t {
			n, err := e.compileNode(path+"."+k, val)
			if err != nil {
				return node{}, err
			}
			childM[k] = n
		}
		return node{childM: childM}, nil
	case []any:
		childL := make([]node, len(t))
		for i, val := range t {
			n, err := e.compileNode(fmt.Sprintf("%s[%d]", path, i), val)
			if err != nil {
				return node{}, err
			}
			childL[i] = n
		}
		return node{childL: childL}, nil
	default:
		return node{literal: v}, nil
	}
}

// Render implements templates.Renderer. Rendering checks the context between
// leaves so a deadline interrupts large parameter trees.
func (r *renderer) Render(ctx context.Context, env templates.Env) (map[string]any, error) {
	data := map[string]any{
		"trigger": orEmpty(env.Trigger),
		"context": orEmptyOutputs(env.Context),
		"vars":    orEmpty(env.Vars),
	}
	out := make(map[string]any, len(r.root))
	for k, n := range r.root {
		v, err := renderNode(ctx, n, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func renderNode(ctx context.Context, n node, data map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch {
	case n.tmpl != nil:
		var sb strings.Builder
		if err := n.tmpl.Execute(&sb, data); err != nil {
			return nil, err
		}
		return sb.String(), nil
	case n.childM != nil:
		out := make(map[string]any, len(n.childM))
		for k, child := range n.childM {
			v, err := renderNode(ctx, child, data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = v
		}
		return out, nil
	case n.childL != nil:
		out := make([]any, len(n.childL))
		for i, child := range n.childL {
			v, err := renderNode(ctx, child, data)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	default:
		return n.literal, nil
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptyOutputs(m map[string]map[string]any) map[string]map[string]any {
	if m == nil {
		return map[string]map[string]any{}
	}
	return m
}
