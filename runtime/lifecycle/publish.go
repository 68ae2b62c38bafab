package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/weave/runtime/actions"
	"goa.design/weave/runtime/conditions"
	"goa.design/weave/runtime/templates"
	"goa.design/weave/runtime/workflow"
)

type (
	// PublishValidation is the structured outcome of publish-time
	// validation. Publishing refuses when Valid is false; warnings never
	// block.
	PublishValidation struct {
		// Valid is true when no blocking error was found.
		Valid bool `json:"isValid"`
		// Errors are the blocking findings.
		Errors []workflow.Issue `json:"errors"`
		// Warnings are advisory findings.
		Warnings []workflow.Issue `json:"warnings"`
	}

	// PublishValidator composes the static graph checks with catalog
	// availability, condition and template precompilation, trigger schema
	// compilation and an optional warning-level dry render.
	PublishValidator struct {
		registry   *actions.Registry
		conditions conditions.Evaluator
		templates  templates.Engine
		dryRender  bool
	}

	// ValidatorOptions configures a PublishValidator.
	ValidatorOptions struct {
		// Registry resolves action availability. Required.
		Registry *actions.Registry
		// Conditions compiles edge conditions. Required.
		Conditions conditions.Evaluator
		// Templates compiles parameter templates. Required.
		Templates templates.Engine
		// DisableDryRender skips the warning-level render against an empty
		// environment.
		DisableDryRender bool
	}
)

// NewPublishValidator builds a PublishValidator.
func NewPublishValidator(opts ValidatorOptions) (*PublishValidator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("action registry is required")
	}
	if opts.Conditions == nil {
		return nil, fmt.Errorf("condition evaluator is required")
	}
	if opts.Templates == nil {
		return nil, fmt.Errorf("template engine is required")
	}
	return &PublishValidator{
		registry:   opts.Registry,
		conditions: opts.Conditions,
		templates:  opts.Templates,
		dryRender:  !opts.DisableDryRender,
	}, nil
}

// Validate parses the raw definition and runs every publish-time check.
// Parse failures are returned as validation errors, not as a Go error; the
// error return is reserved for infrastructure faults.
func (v *PublishValidator) Validate(ctx context.Context, raw []byte) (PublishValidation, *workflow.Definition, error) {
	def, err := workflow.Parse(raw)
	if err != nil {
		var verr *workflow.ValidationError
		if errors.As(err, &verr) {
			return PublishValidation{Errors: verr.Issues}, nil, nil
		}
		return PublishValidation{}, nil, err
	}

	report := workflow.ValidateGraph(def)
	result := PublishValidation{Errors: report.Errors, Warnings: report.Warnings}
	if len(result.Errors) > 0 {
		return result, def, nil
	}

	for i, node := range def.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if node.Type == workflow.NodeAction && !v.registry.Available(node.ActionType) {
			result.Errors = append(result.Errors, workflow.Issue{
				Path:    path + ".actionType",
				Message: fmt.Sprintf("action %q is not available", node.ActionType),
			})
		}
		for j, edge := range node.Edges {
			if edge.Condition == "" {
				continue
			}
			if _, err := v.conditions.Compile(edge.Condition); err != nil {
				result.Errors = append(result.Errors, workflow.Issue{
					Path:    fmt.Sprintf("%s.edges[%d].condition", path, j),
					Message: fmt.Sprintf("does not compile: %v", err),
				})
			}
		}
		if len(node.Parameters) == 0 {
			continue
		}
		renderer, err := v.templates.Compile(node.Parameters)
		if err != nil {
			result.Errors = append(result.Errors, workflow.Issue{
				Path:    path + ".parameters",
				Message: fmt.Sprintf("does not compile: %v", err),
			})
			continue
		}
		if v.dryRender {
			env := templates.Env{
				Trigger: map[string]any{},
				Context: map[string]map[string]any{},
				Vars:    map[string]any{},
			}
			if _, err := renderer.Render(ctx, env); err != nil {
				result.Warnings = append(result.Warnings, workflow.Issue{
					Path:    path + ".parameters",
					Message: fmt.Sprintf("dry render against an empty environment failed: %v", err),
				})
			}
		}
	}

	if len(def.TriggerSchema) > 0 {
		if err := compileTriggerSchema(def.TriggerSchema); err != nil {
			result.Errors = append(result.Errors, workflow.Issue{
				Path:    "triggerSchema",
				Message: fmt.Sprintf("does not compile: %v", err),
			})
		}
	}

	result.Valid = len(result.Errors) == 0
	return result, def, nil
}

func compileTriggerSchema(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("trigger.json", doc); err != nil {
		return err
	}
	_, err := c.Compile("trigger.json")
	return err
}
