package log

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/barkbase/automation/pkg/protocol"
)

// ErrMissingMessage is returned when the step has no message to log.
var ErrMissingMessage = errors.New("missing required field 'message'")

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Action logs a message.
type Action struct {
	Message string
	Level   string
}

// NewAction builds a log action from step configuration.
func NewAction(config map[string]any) (*Action, error) {
	message, ok := config["message"]
	if !ok || message == nil {
		return nil, protocol.Permanent(ErrMissingMessage)
	}

	level, _ := config["level"].(string)
	if _, known := levels[level]; !known {
		level = "info"
	}

	return &Action{
		Message: fmt.Sprintf("%v", message),
		Level:   level,
	}, nil
}

func (a *Action) Execute(ctx context.Context, input protocol.ActionInput) (map[string]any, error) {
	logger := input.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Log(ctx, levels[a.Level], a.Message,
		"action_type", "log",
		"tenant_id", input.TenantID,
		"run_id", input.RunID,
		"step_id", input.StepID,
	)

	return map[string]any{
		"message": a.Message,
		"level":   a.Level,
		"logged":  true,
	}, nil
}
