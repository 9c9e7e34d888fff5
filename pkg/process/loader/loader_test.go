package loader

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	// when
	def, err := LoadFile(filepath.Join("testdata", "definitions", "support.yaml"))

	// then
	require.NoError(t, err)
	assert.Equal(t, "support", def.Id)
	assert.Equal(t, "Support request", def.Name)
	assert.Equal(t, "first-level", def.Annotations.LocalData["queue"])
	assert.Equal(t, "Support request", def.Annotations.LocalData[model.LocalDataProcessName])
	require.Len(t, def.Annotations.Triggers, 1)
	assert.Equal(t, map[string]any{"queue": "queue"}, def.Annotations.Triggers[0].References)
	require.Len(t, def.Annotations.Events, 1)
	assert.Equal(t, model.EventAnnotationStart, def.Annotations.Events[0].Type)

	triage, err := def.ElementById("triage")
	require.NoError(t, err)
	assert.Equal(t, model.ElementTypeExclusiveGateway, triage.Type)
	assert.Equal(t, "Can you solve it yourself?", triage.RequestMessage())
	assert.Equal(t, []model.ResponseOption{
		{Display: "Yes", Target: "done"},
		{Display: "No", Target: "escalate"},
	}, triage.ResponseOptions())

	escalate, err := def.ElementById("escalate")
	require.NoError(t, err)
	assert.Equal(t, "Hand over to second level.", escalate.Description)
	require.Len(t, escalate.Annotations.ServiceCalls, 2)
	create := escalate.Annotations.ServiceCalls[0]
	assert.Equal(t, model.ServiceCallStart, create.Type)
	assert.Equal(t, "ticket", create.OutputReference)
	assert.Equal(t, map[string]string{"queue": "queue"}, create.InputMapping)
	assert.Equal(t, map[string]string{"ticketId": "ticketId"}, create.OutputMapping)
	notify := escalate.Annotations.ServiceCalls[1]
	assert.Equal(t, model.ServiceCallTrigger, notify.Type)
	require.NotNil(t, notify.Trigger)
	assert.Equal(t, "chatMessage", notify.Trigger.EventId)

	rejected, err := def.ElementById("rejected")
	require.NoError(t, err)
	assert.True(t, rejected.IsErrorEnd())
	assert.Equal(t, 403, rejected.ErrorCode())
	assert.Equal(t, "Request rejected", rejected.ErrorMessage())

	successors, err := def.Successors(triage)
	require.NoError(t, err)
	assert.Len(t, successors, 3)
}

func TestLoadDirSkipsOtherFiles(t *testing.T) {
	// when
	definitions, err := LoadDir(filepath.Join("testdata", "definitions"))

	// then
	require.NoError(t, err)
	require.Len(t, definitions, 2)
	assert.Equal(t, "child", definitions[0].Id)
	assert.Equal(t, "support", definitions[1].Id)
}

func TestLoadDirReportsMissingDirectory(t *testing.T) {
	_, err := LoadDir(filepath.Join("testdata", "missing"))

	assert.Error(t, err)
}

func TestLoadFileRejectsMalformedGraph(t *testing.T) {
	_, err := LoadFile(filepath.Join("testdata", "broken.yaml"))

	assert.ErrorIs(t, err, model.ErrMalformedGraph)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	tests := map[string]struct {
		document string
		err      error
	}{
		"empty": {
			document: "  \n",
			err:      ErrInvalidDocument,
		},
		"unknown field": {
			document: "id: x\nsteps: []\n",
			err:      ErrInvalidDocument,
		},
		"unknown event annotation type": {
			document: `
id: x
annotations:
  events:
    - eventId: e
      type: onTimeout
elements:
  - {id: s, type: startEvent}
  - {id: e, type: endEvent}
flows:
  - {from: s, to: e}
`,
			err: model.ErrInvalidAnnotation,
		},
		"trigger call without trigger": {
			document: `
id: x
elements:
  - id: s
    type: startEvent
    annotations:
      serviceCalls:
        - {service: a, method: b, type: onTrigger}
  - {id: e, type: endEvent}
flows:
  - {from: s, to: e}
`,
			err: model.ErrInvalidAnnotation,
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(test.document))

			assert.ErrorIs(t, err, test.err)
		})
	}
}
