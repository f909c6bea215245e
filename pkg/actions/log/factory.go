// Package log provides the log action: it writes a rendered message to the
// worker's structured log.
package log

import (
	"context"

	"github.com/barkbase/automation/pkg/protocol"
)

// ActionFactory creates log actions.
type ActionFactory struct{}

// NewActionFactory creates a new log action factory.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (*ActionFactory) ID() string {
	return "log"
}

func (*ActionFactory) Name() string {
	return "Log"
}

func (*ActionFactory) Description() string {
	return "Writes a message to the worker log at debug, info, warn or error level."
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log. Supports placeholders such as {{ .payload.petName }}.",
				"examples": []string{
					"New pet registered: {{ .payload.petName }}",
					"Booking {{ .payload.bookingId }} confirmed",
				},
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level for the message",
				"enum":        []string{"debug", "info", "warn", "error"},
				"default":     "info",
			},
		},
		"required": []string{"message"},
	}
}
