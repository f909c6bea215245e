package transform

import (
	"context"
	"testing"

	"github.com/barkbase/automation/pkg/models"
	"github.com/barkbase/automation/pkg/protocol"
	"github.com/barkbase/automation/pkg/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_Execute(t *testing.T) {
	run := &models.Run{
		ID: "run-1",
		Context: models.RunContext{
			Payload: map[string]any{"firstName": "Ana", "visits": []any{1, 2, 3}},
		},
	}

	config, err := template.RenderConfig(map[string]any{
		"expression": `{"name": "{{ .payload.firstName }}", "visits": {{ len .payload.visits }}}`,
	}, run.Context.TemplateData(run))
	require.NoError(t, err)

	action, err := NewActionFactory().Create(context.Background(), config)
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), protocol.ActionInput{RunID: run.ID})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ana", "visits": 3.0}, output["result"])
}

func TestNewAction_MissingExpression(t *testing.T) {
	_, err := NewAction(map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingExpression)
	assert.True(t, protocol.IsPermanent(err))
}
