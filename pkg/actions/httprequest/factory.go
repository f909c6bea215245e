package httprequest

import (
	"context"

	"github.com/barkbase/automation/pkg/protocol"
)

// ActionFactory creates http_request actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (*ActionFactory) ID() string {
	return "http_request"
}

func (*ActionFactory) Name() string {
	return "HTTP Request"
}

func (*ActionFactory) Description() string {
	return "Sends an HTTP request and stores status code, headers and body as the step output."
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
			},
			"url": map[string]any{
				"type":        "string",
				"description": "Full request URL. Supports placeholders.",
				"examples":    []string{"https://api.example.com/pets/{{ .payload.petId }}"},
			},
			"host": map[string]any{
				"type":        "string",
				"description": "Host used when url is not set",
			},
			"protocol": map[string]any{
				"type":    "string",
				"enum":    []string{"http", "https"},
				"default": "https",
			},
			"path": map[string]any{
				"type":    "string",
				"default": "/",
			},
			"method": map[string]any{
				"type":    "string",
				"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
				"default": "GET",
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"description": "Request body. Objects and arrays are sent as JSON.",
			},
			"timeout": map[string]any{
				"type":        "number",
				"description": "Request timeout in seconds",
				"minimum":     0,
				"default":     defaultTimeoutSeconds,
			},
		},
		"anyOf": []any{
			map[string]any{"required": []string{"url"}},
			map[string]any{"required": []string{"host"}},
		},
	}
}
