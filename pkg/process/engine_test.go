package process

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pbinitiative/zenstep/pkg/process/event"
	"github.com/pbinitiative/zenstep/pkg/process/exporter"
	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/pbinitiative/zenstep/pkg/process/reference"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
	"github.com/pbinitiative/zenstep/pkg/ptr"
	"github.com/pbinitiative/zenstep/pkg/storage"
	"github.com/pbinitiative/zenstep/pkg/storage/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []ServiceCall
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, call ServiceCall, sink ResultSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

func (d *recordingDispatcher) Calls() []ServiceCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ServiceCall(nil), d.calls...)
}

type testEngine struct {
	*Engine
	recorder   *exporter.Recorder
	dispatcher *recordingDispatcher
}

func newTestEngine(t *testing.T, definitions ...*model.Definition) testEngine {
	te := testEngine{
		recorder:   exporter.NewRecorder(0),
		dispatcher: &recordingDispatcher{},
	}
	te.Engine = NewEngine(
		EngineWithExporter(te.recorder),
		EngineWithDispatcher(te.dispatcher),
	)
	for _, def := range definitions {
		require.NoError(t, te.RegisterProcess(t.Context(), def))
	}
	return te
}

func approval(t *testing.T) *model.Definition {
	def, err := model.NewBuilder("approval").
		Name("Approval").
		AddElement(model.Element{Id: "start", Type: model.ElementTypeStartEvent}).
		AddElement(model.Element{
			Id:    "review",
			Label: "Review order",
			Type:  model.ElementTypeUserTask,
			Annotations: model.Annotations{
				LocalData: map[string]any{"orderId": "o-1"},
				Triggers: []model.TriggerAnnotation{
					{EventId: "approved", References: map[string]any{"order": "orderId"}},
				},
			},
		}).
		AddElement(model.Element{Id: "end", Type: model.ElementTypeEndEvent}).
		AddFlow("start", "review").
		AddFlow("review", "end").
		Build()
	require.NoError(t, err)
	return def
}

func TestInstantiateProcessAdvancesOffStart(t *testing.T) {
	// given
	engine := newTestEngine(t, approval(t))

	// when
	instance, err := engine.InstantiateProcess(t.Context(), "approval", "u-1", "s-1")

	// then
	require.NoError(t, err)
	assert.True(t, instance.IsRunning())
	assert.Equal(t, "review", instance.CurrentElement().Id)
	assert.Equal(t, []string{event.ModelProcessStart, event.ModelUserTask}, engine.recorder.ModelIds())

	task := engine.recorder.EventsOf(event.ModelUserTask)[0]
	assert.Equal(t, "u-1", task.UserId)
	assert.Equal(t, "s-1", task.SessionId)
	assert.Equal(t, map[string]any{"title": "Review order", "description": ""}, task.Payload[PayloadTask])
	assert.InDelta(t, 0.5, task.Payload[PayloadProgress], 0.0001)

	info := ExecutionInfo(instance)
	assert.Equal(t, "u-1", info["userId"])
	assert.Contains(t, info, "started")
}

func TestStepForwardToEndCompletesInstance(t *testing.T) {
	// given
	engine := newTestEngine(t, approval(t))
	instance, err := engine.InstantiateProcess(t.Context(), "approval", "u-1", "")
	require.NoError(t, err)

	// when
	current, err := engine.StepForward(t.Context(), instance.Id, "")

	// then
	require.NoError(t, err)
	assert.Equal(t, "end", current.Element.Id)
	assert.False(t, instance.IsRunning())
	assert.Equal(t, []string{event.ModelProcessStart, event.ModelUserTask, event.ModelProcessComplete}, engine.recorder.ModelIds())
	var intents []string
	for _, el := range engine.recorder.Elements() {
		if el.ElementId == "review" {
			intents = append(intents, string(el.Intent))
		}
	}
	assert.Equal(t, []string{string(exporter.ElementActivated), string(exporter.ElementCompleted)}, intents)
	info := ExecutionInfo(instance)
	assert.Contains(t, info, "ended")
	assert.NotContains(t, info, "cancelled")

	_, err = engine.StepForward(t.Context(), instance.Id, "")
	assert.ErrorIs(t, err, runtime.ErrInstanceTerminated)
}

func TestFlowTriggerStepsInstance(t *testing.T) {
	// given
	engine := newTestEngine(t, approval(t))
	instance, err := engine.InstantiateProcess(t.Context(), "approval", "u-1", "")
	require.NoError(t, err)

	// when
	other := event.New("approved", event.TypeUser, map[string]any{"order": "o-2"})
	err = engine.HandleEvent(t.Context(), other)

	// then
	require.NoError(t, err)
	assert.Equal(t, "review", instance.CurrentElement().Id)

	// when
	matching := event.New("approved", event.TypeUser, map[string]any{"order": "o-1", "comment": "fine"})
	err = engine.HandleEvent(t.Context(), matching)

	// then
	require.NoError(t, err)
	assert.False(t, instance.IsRunning())
	require.NotNil(t, instance.CurrentState().Trigger)
	assert.Equal(t, matching.Id, instance.CurrentState().Trigger.Id)
}

func TestExpiredEventIsIgnored(t *testing.T) {
	// given
	engine := newTestEngine(t, approval(t))
	instance, err := engine.InstantiateProcess(t.Context(), "approval", "", "")
	require.NoError(t, err)
	evt := event.New("approved", event.TypeUser, map[string]any{"order": "o-1"})
	expired := time.Now().Add(-time.Minute)
	evt.Expires = &expired

	// when
	err = engine.HandleEvent(t.Context(), evt)

	// then
	assert.NoError(t, err)
	assert.Equal(t, "review", instance.CurrentElement().Id)
}

func TestServiceTaskDispatchesAndAdvances(t *testing.T) {
	// given
	def, err := model.NewBuilder("shipping").
		Annotations(model.Annotations{LocalData: map[string]any{"warehouse": "north"}}).
		AddElement(model.Element{Id: "start", Type: model.ElementTypeStartEvent}).
		AddElement(model.Element{
			Id:   "ship",
			Type: model.ElementTypeServiceTask,
			Annotations: model.Annotations{
				ServiceCalls: []model.ServiceCallAnnotation{{
					Service:         "logistics",
					Method:          "ship",
					Type:            model.ServiceCallStart,
					InputMapping:    map[string]string{"from": "warehouse", "instance": "processInstanceId"},
					OutputReference: "shipment",
				}},
			},
		}).
		AddElement(model.Element{Id: "end", Type: model.ElementTypeEndEvent}).
		AddFlow("start", "ship").
		AddFlow("ship", "end").
		Build()
	require.NoError(t, err)
	engine := newTestEngine(t, def)

	// when
	instance, err := engine.InstantiateProcess(t.Context(), "shipping", "", "")

	// then
	require.NoError(t, err)
	assert.False(t, instance.IsRunning(), "service tasks advance on their own")
	calls := engine.dispatcher.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "logistics", calls[0].Service)
	assert.Equal(t, "ship", calls[0].ElementId)
	assert.Equal(t, map[string]any{"from": "north", "instance": instance.Id}, calls[0].Input)
	assert.Equal(t, "shipment", calls[0].OutputReference)
	assert.Equal(t, []string{event.ModelProcessStart, event.ModelServiceTask, event.ModelProcessComplete}, engine.recorder.ModelIds())
}

func TestTriggerServiceCall(t *testing.T) {
	// given
	def, err := model.NewBuilder("support").
		AddElement(model.Element{Id: "start", Type: model.ElementTypeStartEvent}).
		AddElement(model.Element{
			Id:   "chat",
			Type: model.ElementTypeUserTask,
			Annotations: model.Annotations{
				ServiceCalls: []model.ServiceCallAnnotation{{
					Service:      "bot",
					Method:       "answer",
					Type:         model.ServiceCallTrigger,
					InputMapping: map[string]string{"question": "text"},
					Trigger:      &model.TriggerAnnotation{EventId: "message"},
				}},
			},
		}).
		AddElement(model.Element{Id: "end", Type: model.ElementTypeEndEvent}).
		AddFlow("start", "chat").
		AddFlow("chat", "end").
		Build()
	require.NoError(t, err)
	engine := newTestEngine(t, def)
	instance, err := engine.InstantiateProcess(t.Context(), "support", "", "")
	require.NoError(t, err)

	// when
	err = engine.HandleEvent(t.Context(), event.New("message", event.TypeUser, map[string]any{"text": "hello"}))

	// then
	require.NoError(t, err)
	assert.Equal(t, "chat", instance.CurrentElement().Id, "trigger service calls do not step")
	calls := engine.dispatcher.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"question": "hello"}, calls[0].Input)
}

func TestGatewayRoutesResponse(t *testing.T) {
	// given
	def, err := model.NewBuilder("survey").
		AddElement(model.Element{Id: "start", Type: model.ElementTypeStartEvent}).
		AddElement(model.Element{
			Id:    "question",
			Label: "Continue?",
			Type:  model.ElementTypeExclusiveGateway,
			Annotations: model.Annotations{
				LocalData: map[string]any{
					model.LocalDataResponseOptions: []any{
						map[string]any{"display": "Yes", "target": "yes"},
						map[string]any{"display": "No", "target": "no"},
					},
				},
				Triggers: []model.TriggerAnnotation{{EventId: "answer"}},
			},
		}).
		AddElement(model.Element{Id: "yes", Type: model.ElementTypeUserTask}).
		AddElement(model.Element{Id: "no", Type: model.ElementTypeUserTask}).
		AddElement(model.Element{Id: "end", Type: model.ElementTypeEndEvent}).
		AddFlow("start", "question").
		AddFlow("question", "yes").
		AddFlow("question", "no").
		AddFlow("yes", "end").
		AddFlow("no", "end").
		Build()
	require.NoError(t, err)
	engine := newTestEngine(t, def)
	instance, err := engine.InstantiateProcess(t.Context(), "survey", "", "")
	require.NoError(t, err)

	requests := engine.recorder.EventsOf(event.ModelUserRequest)
	require.Len(t, requests, 1)
	request := requests[0].Payload[PayloadRequest].(map[string]any)
	assert.Equal(t, "Continue?", request["message"])
	assert.Len(t, request["options"], 2)

	// when
	err = engine.HandleEvent(t.Context(), event.New("answer", event.TypeUser, map[string]any{"response": "Maybe"}))

	// then
	assert.ErrorIs(t, err, runtime.ErrUnknownSuccessor)
	assert.Equal(t, "question", instance.CurrentElement().Id)

	// when
	err = engine.HandleEvent(t.Context(), event.New("answer", event.TypeUser, map[string]any{"response": "No"}))

	// then
	require.NoError(t, err)
	assert.Equal(t, "no", instance.CurrentElement().Id)
}

func TestAmbiguousStepIsRejected(t *testing.T) {
	// given
	def, err := model.NewBuilder("fork").
		AddElement(model.Element{Id: "start", Type: model.ElementTypeStartEvent}).
		AddElement(model.Element{Id: "choice", Type: model.ElementTypeExclusiveGateway}).
		AddElement(model.Element{Id: "a", Type: model.ElementTypeEndEvent}).
		AddElement(model.Element{Id: "b", Type: model.ElementTypeEndEvent}).
		AddFlow("start", "choice").
		AddFlow("choice", "a").
		AddFlow("choice", "b").
		Build()
	require.NoError(t, err)
	engine := newTestEngine(t, def)
	instance, err := engine.InstantiateProcess(t.Context(), "fork", "", "")
	require.NoError(t, err)

	// when
	_, err = engine.StepForward(t.Context(), instance.Id, "")

	// then
	assert.ErrorIs(t, err, runtime.ErrAmbiguousFlow)
	assert.Equal(t, "choice", instance.CurrentElement().Id)

	// when
	current, err := engine.StepForward(t.Context(), instance.Id, "b")

	// then
	require.NoError(t, err)
	assert.Equal(t, "b", current.Element.Id)
}

func TestDefinitionTriggerInstantiatesProcess(t *testing.T) {
	// given
	def, err := model.NewBuilder("onboarding").
		Annotations(model.Annotations{
			LocalData: map[string]any{"kind": "employee"},
			Triggers: []model.TriggerAnnotation{
				{EventId: "hired", References: map[string]any{"type": "kind"}},
			},
		}).
		AddElement(model.Element{Id: "start", Type: model.ElementTypeStartEvent}).
		AddElement(model.Element{Id: "welcome", Type: model.ElementTypeManualTask}).
		AddElement(model.Element{Id: "end", Type: model.ElementTypeEndEvent}).
		AddFlow("start", "welcome").
		AddFlow("welcome", "end").
		Build()
	require.NoError(t, err)
	engine := newTestEngine(t, def)
	evt := event.New("hired", event.TypeService, map[string]any{"type": "employee", "userId": "u-7"})
	evt.SessionId = "s-7"

	// when
	err = engine.HandleEvent(t.Context(), evt)

	// then
	require.NoError(t, err)
	instances, err := engine.GetRunningInstancesForProcess(t.Context(), "onboarding")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "u-7", instances[0].UserId)
	assert.Equal(t, "s-7", instances[0].SessionId)
	assert.Equal(t, "welcome", instances[0].CurrentElement().Id)
}

func TestCallActivityContinuesParent(t *testing.T) {
	// given
	child, err := model.NewBuilder("child").
		AddElement(model.Element{Id: "start", Type: model.ElementTypeStartEvent}).
		AddElement(model.Element{Id: "end", Type: model.ElementTypeEndEvent}).
		AddFlow("start", "end").
		Build()
	require.NoError(t, err)
	parent, err := model.NewBuilder("parent").
		AddElement(model.Element{Id: "start", Type: model.ElementTypeStartEvent}).
		AddElement(model.Element{Id: "call", Label: "Run child", Type: model.ElementTypeCallActivity, CalledProcess: "child"}).
		AddElement(model.Element{Id: "end", Type: model.ElementTypeEndEvent}).
		AddFlow("start", "call").
		AddFlow("call", "end").
		Build()
	require.NoError(t, err)
	engine := newTestEngine(t, child, parent)
	instance, err := engine.InstantiateProcess(t.Context(), "parent", "u-1", "s-1")
	require.NoError(t, err)

	// when
	callee, err := engine.EnterSubprocess(t.Context(), instance.Id)

	// then
	require.NoError(t, err)
	require.NotNil(t, callee)
	assert.Equal(t, instance.Id, callee.ParentId)
	assert.Equal(t, "u-1", callee.UserId)
	assert.False(t, callee.IsRunning(), "child runs to completion")
	assert.False(t, instance.IsRunning(), "parent continues after the child completed")

	calls := engine.recorder.EventsOf(event.ModelCallActivity)
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"processId": "child", "title": "Run child"}, calls[0].Payload[PayloadActivity])
	assert.Len(t, engine.recorder.EventsOf(event.ModelProcessComplete), 2)
	assert.Empty(t, engine.recorder.EventsOf(event.ModelProcessCancelled))
}

func TestEnterSubprocessOnTaskIsNotCallable(t *testing.T) {
	// given
	engine := newTestEngine(t, approval(t))
	instance, err := engine.InstantiateProcess(t.Context(), "approval", "", "")
	require.NoError(t, err)

	// when
	_, err = engine.EnterSubprocess(t.Context(), instance.Id)

	// then
	assert.ErrorIs(t, err, runtime.ErrNotCallable)
}

func TestErrorEndSignalsError(t *testing.T) {
	// given
	def, err := model.NewBuilder("payment").
		AddElement(model.Element{Id: "start", Type: model.ElementTypeStartEvent}).
		AddElement(model.Element{Id: "pay", Type: model.ElementTypeUserTask}).
		AddElement(model.Element{Id: "done", Type: model.ElementTypeEndEvent}).
		AddElement(model.Element{Id: "declined", Type: model.ElementTypeEndEvent, Error: &model.ErrorDefinition{Code: 402, Message: "Payment declined"}}).
		AddFlow("start", "pay").
		AddFlow("pay", "done").
		AddFlow("pay", "declined").
		Build()
	require.NoError(t, err)
	engine := newTestEngine(t, def)
	instance, err := engine.InstantiateProcess(t.Context(), "payment", "", "")
	require.NoError(t, err)

	// when
	_, err = engine.StepForward(t.Context(), instance.Id, "declined")

	// then
	require.NoError(t, err)
	assert.False(t, instance.IsRunning())
	errors := engine.recorder.EventsOf(event.ModelProcessError)
	require.Len(t, errors, 1)
	assert.Equal(t, map[string]any{"code": 402, "message": "Payment declined"}, errors[0].Payload[PayloadError])
	assert.Empty(t, engine.recorder.EventsOf(event.ModelProcessComplete))
	assert.Empty(t, engine.recorder.EventsOf(event.ModelProcessCancelled))
	assert.Contains(t, ExecutionInfo(instance), "error")
}

func TestTerminatePublishesCancelledOnce(t *testing.T) {
	// given
	engine := newTestEngine(t, approval(t))
	instance, err := engine.InstantiateProcess(t.Context(), "approval", "", "")
	require.NoError(t, err)

	// when
	require.NoError(t, engine.Terminate(t.Context(), instance.Id))
	require.NoError(t, engine.Terminate(t.Context(), instance.Id))

	// then
	assert.False(t, instance.IsRunning())
	assert.Len(t, engine.recorder.EventsOf(event.ModelProcessCancelled), 1)
	assert.Contains(t, ExecutionInfo(instance), "cancelled")
}

func TestStepBackwardReturnsToPredecessor(t *testing.T) {
	// given
	def, err := model.NewBuilder("wizard").
		AddElement(model.Element{Id: "start", Type: model.ElementTypeStartEvent}).
		AddElement(model.Element{Id: "first", Type: model.ElementTypeUserTask}).
		AddElement(model.Element{Id: "second", Type: model.ElementTypeUserTask}).
		AddElement(model.Element{Id: "end", Type: model.ElementTypeEndEvent}).
		AddFlow("start", "first").
		AddFlow("first", "second").
		AddFlow("second", "end").
		Build()
	require.NoError(t, err)
	engine := newTestEngine(t, def)
	instance, err := engine.InstantiateProcess(t.Context(), "wizard", "", "")
	require.NoError(t, err)
	_, err = engine.StepForward(t.Context(), instance.Id, "")
	require.NoError(t, err)

	// when
	current, err := engine.StepBackward(t.Context(), instance.Id)

	// then
	require.NoError(t, err)
	assert.Equal(t, "first", current.Element.Id)
	assert.Len(t, instance.History(), 3)
}

func TestUnresolvedAnnotationDoesNotAbortStep(t *testing.T) {
	// given
	def, err := model.NewBuilder("notify").
		AddElement(model.Element{Id: "start", Type: model.ElementTypeStartEvent}).
		AddElement(model.Element{
			Id:   "task",
			Type: model.ElementTypeUserTask,
			Annotations: model.Annotations{
				Events: []model.EventAnnotation{
					{EventId: "broken", Type: model.EventAnnotationStart, Properties: map[string]any{"x": "missing"}},
					{EventId: "notified", Type: model.EventAnnotationStart, Properties: map[string]any{"instance": "processInstanceId", "fixed": true}},
				},
			},
		}).
		AddElement(model.Element{Id: "end", Type: model.ElementTypeEndEvent}).
		AddFlow("start", "task").
		AddFlow("task", "end").
		Build()
	require.NoError(t, err)
	engine := newTestEngine(t, def)

	// when
	instance, err := engine.InstantiateProcess(t.Context(), "notify", "", "")

	// then
	assert.ErrorIs(t, err, reference.ErrUnresolvedReference)
	require.NotNil(t, instance)
	assert.Equal(t, "task", instance.CurrentElement().Id)
	notified := engine.recorder.EventsOf("notified")
	require.Len(t, notified, 1)
	assert.Equal(t, map[string]any{"instance": instance.Id, "fixed": true}, notified[0].Payload)
	assert.Empty(t, engine.recorder.EventsOf("broken"))
}

func TestWriteBackUpdatesContext(t *testing.T) {
	// given
	engine := newTestEngine(t, approval(t))
	instance, err := engine.InstantiateProcess(t.Context(), "approval", "", "")
	require.NoError(t, err)

	// when
	err = engine.WriteBack(t.Context(), instance.Id, map[string]any{"shipment": "sh-1"})

	// then
	require.NoError(t, err)
	value, ok := instance.VariableHolder.GetLocalVariable("shipment")
	assert.True(t, ok)
	assert.Equal(t, "sh-1", value)
}

func TestRegistry(t *testing.T) {
	// given
	engine := newTestEngine(t, approval(t))

	// when
	err := engine.RegisterProcess(t.Context(), approval(t))

	// then
	assert.ErrorIs(t, err, ErrDuplicateProcess)
	element, err := engine.GetElement(t.Context(), "approval", "review")
	require.NoError(t, err)
	assert.Equal(t, "Review order", element.Label)
	_, err = engine.GetElement(t.Context(), "approval", "missing")
	assert.ErrorIs(t, err, model.ErrUnknownElement)
	_, err = engine.InstantiateProcess(t.Context(), "missing", "", "")
	assert.ErrorIs(t, err, ErrUnknownProcess)

	require.NoError(t, engine.UnregisterProcess(t.Context(), "approval"))
	assert.ErrorIs(t, engine.UnregisterProcess(t.Context(), "approval"), ErrUnknownProcess)
	processes, err := engine.GetProcesses(t.Context())
	assert.NoError(t, err)
	assert.Empty(t, processes)
	assert.Len(t, engine.recorder.Processes(), 2)
}

func TestInstanceQueries(t *testing.T) {
	// given
	engine := newTestEngine(t, approval(t))
	_, err := engine.InstantiateProcess(t.Context(), "approval", "u-1", "")
	require.NoError(t, err)

	// when
	_, unknownErr := engine.GetInstance(t.Context(), "missing")
	none, noneErr := engine.GetInstances(t.Context(), storage.ProcessInstanceFilter{UserId: "nobody"})
	running, runningErr := engine.GetRunningProcessInstances(t.Context())

	// then
	assert.ErrorIs(t, unknownErr, ErrUnknownInstance)
	assert.NoError(t, noneErr)
	assert.NotNil(t, none)
	assert.Empty(t, none)
	assert.NoError(t, runningErr)
	assert.Len(t, running, 1)
	_, err = engine.StepForward(t.Context(), "missing", "")
	assert.ErrorIs(t, err, ErrUnknownInstance)
}

func TestPurgeOldInstances(t *testing.T) {
	// given
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	engine := NewEngine(EngineWithClock(func() time.Time { return now }), EngineWithRetention(24*time.Hour))
	require.NoError(t, engine.RegisterProcess(t.Context(), approval(t)))
	instance, err := engine.InstantiateProcess(t.Context(), "approval", "", "")
	require.NoError(t, err)
	require.NoError(t, engine.Terminate(t.Context(), instance.Id))

	// when
	removed, err := engine.PurgeOldInstances(t.Context())

	// then
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	// when
	now = now.Add(25 * time.Hour)
	removed, err = engine.PurgeOldInstances(t.Context())

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = engine.GetInstance(t.Context(), instance.Id)
	assert.ErrorIs(t, err, ErrUnknownInstance)
}

func TestTriggerOnPassiveElementIsIgnored(t *testing.T) {
	// given
	def, err := model.NewBuilder("parked").
		AddElement(model.Element{Id: "start", Type: model.ElementTypeStartEvent}).
		AddElement(model.Element{
			Id:   "parked",
			Type: model.ElementTypeUnknown,
			Annotations: model.Annotations{
				Triggers: []model.TriggerAnnotation{{EventId: "resume"}},
			},
		}).
		AddElement(model.Element{Id: "end", Type: model.ElementTypeEndEvent}).
		AddFlow("start", "parked").
		AddFlow("parked", "end").
		Build()
	require.NoError(t, err)
	engine := newTestEngine(t, def)
	instance, err := engine.InstantiateProcess(t.Context(), "parked", "", "")
	require.NoError(t, err)

	// when
	err = engine.HandleEvent(t.Context(), event.New("resume", event.TypeUser, map[string]any{}))

	// then
	require.NoError(t, err)
	assert.True(t, instance.IsRunning())
	assert.Equal(t, "parked", instance.CurrentElement().Id)
}

func TestReportErrorKeepsInstanceOnElement(t *testing.T) {
	// given
	engine := newTestEngine(t, approval(t))
	instance, err := engine.InstantiateProcess(t.Context(), "approval", "", "")
	require.NoError(t, err)
	current := instance.CurrentState()

	// when
	err = engine.ReportError(t.Context(), instance.Id, "", 502, "grading unavailable")

	// then
	require.NoError(t, err)
	assert.True(t, instance.IsRunning())
	assert.Same(t, current, instance.CurrentState())
	errors := engine.recorder.EventsOf(event.ModelProcessError)
	require.Len(t, errors, 1)
	assert.Equal(t, map[string]any{"code": 502, "message": "grading unavailable"}, errors[0].Payload[PayloadError])
	info := ExecutionInfo(instance)
	require.Contains(t, info, "error")
	assert.Equal(t, "review", info["error"].(map[string]any)["elementId"])

	// when
	unknownErr := engine.ReportError(t.Context(), instance.Id, "missing", 500, "x")
	require.NoError(t, engine.Terminate(t.Context(), instance.Id))
	terminatedErr := engine.ReportError(t.Context(), instance.Id, "", 500, "late")

	// then
	assert.ErrorIs(t, unknownErr, model.ErrUnknownElement)
	assert.NoError(t, terminatedErr)
	assert.Len(t, engine.recorder.EventsOf(event.ModelProcessError), 1)
}

// eagerStorage looks an instance up through the engine as soon as it is stored
// for the first time, the way a concurrent event handler could.
type eagerStorage struct {
	*inmemory.Storage
	engine *Engine
	seen   map[string]bool
}

func (s *eagerStorage) SaveProcessInstance(ctx context.Context, pi *runtime.ProcessInstance) error {
	if err := s.Storage.SaveProcessInstance(ctx, pi); err != nil {
		return err
	}
	if s.seen[pi.Id] {
		return nil
	}
	s.seen[pi.Id] = true
	return s.engine.InspectInstance(ctx, pi.Id, func(*runtime.ProcessInstance) error { return nil })
}

func TestNewInstanceIsAttachedOnce(t *testing.T) {
	// given
	recorder := exporter.NewRecorder(0)
	store := &eagerStorage{Storage: inmemory.NewStorage(), seen: map[string]bool{}}
	engine := NewEngine(EngineWithStorage(store), EngineWithExporter(recorder))
	store.engine = engine
	require.NoError(t, engine.RegisterProcess(t.Context(), approval(t)))

	// when
	instance, err := engine.InstantiateProcess(t.Context(), "approval", "", "")

	// then
	require.NoError(t, err)
	assert.Equal(t, "review", instance.CurrentElement().Id)
	assert.Equal(t, []string{event.ModelProcessStart, event.ModelUserTask}, recorder.ModelIds())
}

func TestRunningQueriesDoNotRaceWithTermination(t *testing.T) {
	// given
	engine := newTestEngine(t, approval(t))
	ids := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		instance, err := engine.InstantiateProcess(t.Context(), "approval", "", "")
		require.NoError(t, err)
		ids = append(ids, instance.Id)
	}

	// when
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, id := range ids {
			assert.NoError(t, engine.Terminate(t.Context(), id))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 300; i++ {
			_, err := engine.GetRunningProcessInstances(t.Context())
			assert.NoError(t, err)
			assert.NoError(t, engine.HandleEvent(t.Context(), event.New("unrelated", event.TypeUser, map[string]any{})))
		}
	}()
	wg.Wait()

	// then
	running, err := engine.GetRunningProcessInstances(t.Context())
	require.NoError(t, err)
	assert.Empty(t, running)
	stopped, err := engine.GetInstances(t.Context(), storage.ProcessInstanceFilter{Running: ptr.To(false)})
	require.NoError(t, err)
	assert.Len(t, stopped, len(ids))
}
