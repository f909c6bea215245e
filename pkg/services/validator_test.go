package services

import (
	"testing"

	"github.com/barkbase/automation/pkg/models"
	"github.com/stretchr/testify/assert"
)

func linearDefinition() models.Definition {
	return models.Definition{
		EntryStepID: "notify",
		Steps: []*models.Step{
			{ID: "notify", Kind: models.StepKindAction, Name: "Notify", Config: map[string]any{"action": "log", "message": "Welcome {{ .payload.petName }}"}},
			{ID: "wait", Kind: models.StepKindDelay, Name: "Wait", Config: map[string]any{"minutes": 5.0}},
		},
		Edges: []*models.Edge{{Source: "notify", Target: "wait"}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		definition func() models.Definition
		wantErrors []string
	}{
		{
			name:       "valid linear flow",
			definition: linearDefinition,
		},
		{
			name: "condition may fan out",
			definition: func() models.Definition {
				def := linearDefinition()
				def.Steps = append(def.Steps,
					&models.Step{ID: "check", Kind: models.StepKindCondition, Name: "Check"},
					&models.Step{ID: "other", Kind: models.StepKindAction, Name: "Other"},
				)
				def.Edges = append(def.Edges,
					&models.Edge{Source: "check", Target: "notify", Handle: models.HandleTrue},
					&models.Edge{Source: "check", Target: "other", Handle: models.HandleFalse},
				)

				return def
			},
		},
		{
			name: "missing entry",
			definition: func() models.Definition {
				def := linearDefinition()
				def.EntryStepID = ""

				return def
			},
			wantErrors: []string{"entry step id is required"},
		},
		{
			name: "unknown entry",
			definition: func() models.Definition {
				def := linearDefinition()
				def.EntryStepID = "ghost"

				return def
			},
			wantErrors: []string{`entry step "ghost" does not exist`},
		},
		{
			name: "invalid kind and missing name",
			definition: func() models.Definition {
				def := linearDefinition()
				def.Steps[1].Kind = "loop"
				def.Steps[1].Name = " "

				return def
			},
			wantErrors: []string{`step "wait" has invalid kind "loop"`, `step "wait" has no name`},
		},
		{
			name: "duplicate ids",
			definition: func() models.Definition {
				def := linearDefinition()
				def.Steps[1].ID = "notify"
				def.Edges = nil

				return def
			},
			wantErrors: []string{`duplicate step id "notify"`},
		},
		{
			name: "dangling edge names the edge",
			definition: func() models.Definition {
				def := linearDefinition()
				def.Edges = append(def.Edges, &models.Edge{Source: "wait", Target: "missing"})

				return def
			},
			wantErrors: []string{`edge 1 (wait -> missing) references unknown target step "missing"`},
		},
		{
			name: "action fan out",
			definition: func() models.Definition {
				def := linearDefinition()
				def.Steps = append(def.Steps, &models.Step{ID: "extra", Kind: models.StepKindAction, Name: "Extra"})
				def.Edges = append(def.Edges, &models.Edge{Source: "notify", Target: "extra"})

				return def
			},
			wantErrors: []string{`step "notify" has 2 outgoing edges, at most 1 allowed`},
		},
		{
			name: "all violations in order",
			definition: func() models.Definition {
				return models.Definition{
					EntryStepID: "start",
					Steps: []*models.Step{
						{ID: "a", Kind: "bogus", Name: "A"},
						{ID: "a", Kind: models.StepKindAction, Name: "A again"},
					},
					Edges: []*models.Edge{
						{Source: "a", Target: "b"},
					},
				}
			},
			wantErrors: []string{
				`entry step "start" does not exist`,
				`step "a" has invalid kind "bogus"`,
				`duplicate step id "a"`,
				`edge 0 (a -> b) references unknown target step "b"`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Validate(tt.definition())

			if len(tt.wantErrors) == 0 {
				assert.True(t, result.Valid)
				assert.Empty(t, result.Errors)
				assert.NotNil(t, result.Errors)

				return
			}

			assert.False(t, result.Valid)
			assert.Equal(t, tt.wantErrors, result.Errors)
		})
	}
}

func TestValidate_AgreesWithStoredDefinition(t *testing.T) {
	tests := []struct {
		name       string
		definition func() models.Definition
	}{
		{
			name: "nil step and edge",
			definition: func() models.Definition {
				def := linearDefinition()
				def.Steps = append([]*models.Step{nil}, def.Steps...)
				def.Edges = append(def.Edges, nil)

				return def
			},
		},
		{
			name: "nil entries around a dangling edge",
			definition: func() models.Definition {
				def := linearDefinition()
				def.Edges = []*models.Edge{nil, {Source: "wait", Target: "ghost"}}

				return def
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := Validate(tt.definition())
			stored := Validate(tt.definition().Clone())

			assert.Equal(t, stored, raw)
		})
	}

	result := Validate(tests[0].definition())
	assert.True(t, result.Valid, "nil entries are dropped, not reported: %v", result.Errors)

	result = Validate(tests[1].definition())
	assert.Equal(t, []string{`edge 0 (wait -> ghost) references unknown target step "ghost"`}, result.Errors)
}

func TestValidateFlow(t *testing.T) {
	tests := []struct {
		name        string
		trigger     models.Trigger
		flowName    string
		wantValid   bool
		errContains string
	}{
		{
			name:      "event trigger",
			trigger:   models.Trigger{Type: models.TriggerTypeEvent, Config: map[string]any{"event": "pet.created"}},
			flowName:  "Welcome",
			wantValid: true,
		},
		{
			name:        "event trigger without event",
			trigger:     models.Trigger{Type: models.TriggerTypeEvent},
			flowName:    "Welcome",
			errContains: "trigger: ",
		},
		{
			name:      "schedule trigger",
			trigger:   models.Trigger{Type: models.TriggerTypeSchedule, Config: map[string]any{"cron": "0 9 * * *", "timezone": "UTC"}},
			flowName:  "Daily",
			wantValid: true,
		},
		{
			name:        "bad cron",
			trigger:     models.Trigger{Type: models.TriggerTypeSchedule, Config: map[string]any{"cron": "every day"}},
			flowName:    "Daily",
			errContains: "invalid cron expression",
		},
		{
			name:        "bad timezone",
			trigger:     models.Trigger{Type: models.TriggerTypeSchedule, Config: map[string]any{"cron": "0 9 * * *", "timezone": "Mars/Olympus"}},
			flowName:    "Daily",
			errContains: "unknown timezone",
		},
		{
			name:        "unknown trigger type",
			trigger:     models.Trigger{Type: "webhook"},
			flowName:    "Hook",
			errContains: "oneof",
		},
		{
			name:        "missing name",
			trigger:     models.Trigger{Type: models.TriggerTypeManual},
			errContains: "flow.name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateFlow(&models.Flow{Name: tt.flowName, Trigger: tt.trigger, Definition: linearDefinition()})

			assert.Equal(t, tt.wantValid, result.Valid, result.Errors)

			if tt.errContains != "" {
				assert.NotEmpty(t, result.Errors)
				assert.Contains(t, result.Errors[0], tt.errContains)
			}
		})
	}
}
