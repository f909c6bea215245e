// Package transform provides the transform action: it stores a rendered
// expression as step output so later steps can reference it.
package transform

import (
	"context"
	"errors"

	"github.com/barkbase/automation/pkg/protocol"
)

// ErrMissingExpression is returned when the step has no expression.
var ErrMissingExpression = errors.New("missing required field 'expression'")

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

type ActionFactory struct{}

func (*ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (*ActionFactory) ID() string {
	return "transform"
}

func (*ActionFactory) Name() string {
	return "Transform"
}

func (*ActionFactory) Description() string {
	return "Evaluates a template expression against the run context and stores the result."
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
			},
			"expression": map[string]any{
				"description": "Template expression. JSON output is decoded into objects and arrays.",
				"examples": []string{
					"{{ .payload.firstName }} {{ .payload.lastName }}",
					`{"owner": "{{ .steps.lookup.body.owner }}", "visits": {{ len .payload.visits }}}`,
				},
			},
		},
		"required": []string{"expression"},
	}
}

// Action returns its rendered expression.
type Action struct {
	Expression any
}

func NewAction(config map[string]any) (*Action, error) {
	expression, ok := config["expression"]
	if !ok {
		return nil, protocol.Permanent(ErrMissingExpression)
	}

	return &Action{Expression: expression}, nil
}

func (a *Action) Execute(ctx context.Context, input protocol.ActionInput) (map[string]any, error) {
	if input.Logger != nil {
		input.Logger.DebugContext(ctx, "transform evaluated", "step_id", input.StepID)
	}

	return map[string]any{"result": a.Expression}, nil
}
