package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/registry"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// ValidationResult is the outcome of validating a flow definition.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

func newResult(errs []string) ValidationResult {
	if errs == nil {
		errs = []string{}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// Validate checks the structure of a flow graph and reports every violation,
// grouped in this order: entry step, step kinds and names, duplicate ids,
// dangling edges, fan-out of linear steps. Nil steps and edges are dropped
// first, as they are when a definition is stored.
func Validate(def models.Definition) ValidationResult {
	var errs []string

	def = def.Clone()

	if def.EntryStepID == "" {
		errs = append(errs, "entry step id is required")
	} else if _, ok := def.Step(def.EntryStepID); !ok {
		errs = append(errs, fmt.Sprintf("entry step %q does not exist", def.EntryStepID))
	}

	for i, step := range def.Steps {
		if step.ID == "" {
			errs = append(errs, fmt.Sprintf("step at index %d has no id", i))
		}

		if !step.Kind.IsValid() {
			errs = append(errs, fmt.Sprintf("step %q has invalid kind %q", step.ID, step.Kind))
		}

		if strings.TrimSpace(step.Name) == "" {
			errs = append(errs, fmt.Sprintf("step %q has no name", step.ID))
		}
	}

	seen := make(map[string]bool, len(def.Steps))

	for _, step := range def.Steps {
		if step.ID == "" {
			continue
		}

		if seen[step.ID] {
			errs = append(errs, fmt.Sprintf("duplicate step id %q", step.ID))
		}

		seen[step.ID] = true
	}

	for i, edge := range def.Edges {
		name := fmt.Sprintf("edge %d (%s -> %s)", i, edge.Source, edge.Target)

		if !seen[edge.Source] {
			errs = append(errs, fmt.Sprintf("%s references unknown source step %q", name, edge.Source))
		}

		if !seen[edge.Target] {
			errs = append(errs, fmt.Sprintf("%s references unknown target step %q", name, edge.Target))
		}
	}

	for _, step := range def.Steps {
		if step.Kind.AllowsMultipleEdges() {
			continue
		}

		if n := len(def.Outgoing(step.ID)); n > 1 {
			errs = append(errs, fmt.Sprintf("step %q has %d outgoing edges, at most 1 allowed", step.ID, n))
		}
	}

	return newResult(errs)
}

var triggerSchemas = map[models.TriggerType]map[string]any{
	models.TriggerTypeEvent: {
		"type": "object",
		"properties": map[string]any{
			"event": map[string]any{"type": "string", "minLength": 1},
		},
		"required": []string{"event"},
	},
	models.TriggerTypeSchedule: {
		"type": "object",
		"properties": map[string]any{
			"cron":     map[string]any{"type": "string", "minLength": 1},
			"timezone": map[string]any{"type": "string"},
		},
		"required": []string{"cron"},
	},
	models.TriggerTypeManual: {
		"type": "object",
	},
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateFlow runs Validate on the definition and additionally checks the
// flow's name and trigger.
func ValidateFlow(flow *models.Flow) ValidationResult {
	var errs []string

	err := validate.Struct(flow)
	if err != nil {
		errs = append(errs, fieldErrors(err)...)
	}

	errs = append(errs, validateTrigger(flow.Trigger)...)
	errs = append(errs, Validate(flow.Definition).Errors...)

	return newResult(errs)
}

func fieldErrors(err error) []string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []string{err.Error()}
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		msgs = append(msgs, fmt.Sprintf("%s failed on the '%s' rule", strings.ToLower(fe.Namespace()), fe.Tag()))
	}

	return msgs
}

func validateTrigger(trigger models.Trigger) []string {
	schema, ok := triggerSchemas[trigger.Type]
	if !ok {
		// Unknown types are reported by the struct validation.
		return nil
	}

	violations, err := registry.ValidateSchema(schema, trigger.Config)
	if err != nil {
		return []string{err.Error()}
	}

	errs := make([]string, 0, len(violations))
	for _, v := range violations {
		errs = append(errs, "trigger: "+v)
	}

	if trigger.Type != models.TriggerTypeSchedule || len(errs) > 0 {
		return errs
	}

	if _, err := cron.ParseStandard(trigger.CronExpression()); err != nil {
		errs = append(errs, fmt.Sprintf("trigger: invalid cron expression %q: %v", trigger.CronExpression(), err))
	}

	if tz, _ := trigger.Config["timezone"].(string); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Sprintf("trigger: unknown timezone %q", tz))
		}
	}

	return errs
}

// validateDelays checks that every delay step has a usable duration.
func validateDelays(def models.Definition) []string {
	var errs []string

	for _, step := range def.Steps {
		if step == nil || step.Kind != models.StepKindDelay {
			continue
		}

		if _, err := step.DelayDuration(); err != nil {
			errs = append(errs, fmt.Sprintf("step %q: %v", step.ID, err))
		}
	}

	return errs
}

// validateActions checks that every action step names a registered action and
// that its configuration satisfies the action's schema.
func validateActions(reg *registry.Registry, def models.Definition) []string {
	var errs []string

	for _, step := range def.Steps {
		if step == nil || step.Kind != models.StepKindAction {
			continue
		}

		actionType := step.ActionType()
		if actionType == "" {
			errs = append(errs, fmt.Sprintf("step %q has no action type", step.ID))

			continue
		}

		if !reg.HasAction(actionType) {
			errs = append(errs, fmt.Sprintf("step %q uses unknown action %q", step.ID, actionType))

			continue
		}

		violations, err := reg.ValidateConfig(actionType, step.Config)
		if err != nil {
			errs = append(errs, fmt.Sprintf("step %q: %v", step.ID, err))

			continue
		}

		for _, v := range violations {
			errs = append(errs, fmt.Sprintf("step %q: %s", step.ID, v))
		}
	}

	return errs
}
