// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package process

import (
	"errors"
	"fmt"

	otelPkg "github.com/pbinitiative/zenstep/pkg/otel"
	"github.com/pbinitiative/zenstep/pkg/process/event"
	"github.com/pbinitiative/zenstep/pkg/process/exporter"
	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/pbinitiative/zenstep/pkg/process/reference"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Payload keys of the lifecycle events.
const (
	PayloadProcessId         = "processId"
	PayloadProcessInstanceId = "processInstanceId"
	PayloadUserId            = "userId"
	PayloadElementId         = "elementId"
	PayloadProgress          = "progress"
	PayloadParentInstance    = "parentInstance"
	PayloadTask              = "task"
	PayloadError             = "error"
	PayloadActivity          = "activity"
	PayloadRequest           = "request"
	// PayloadResponse selects the branch of an exclusive gateway in inbound events.
	PayloadResponse = "response"
)

// attach registers the listener evaluating annotations on every transition of ri.
func (engine *Engine) attach(ri *RunningInstance) {
	ri.instance.AddListener(runtime.Listener{
		Start: func(pi *runtime.ProcessInstance) {
			engine.onStart(ri)
		},
		End: func(pi *runtime.ProcessInstance) {
			engine.onEnd(ri)
		},
		Cancel: func(pi *runtime.ProcessInstance) {
			engine.onCancel(ri)
		},
		Error: func(pi *runtime.ProcessInstance, element *model.Element, code int, message string) {
			engine.onError(ri, element, code, message)
		},
		StepPerformed: func(pi *runtime.ProcessInstance, old *runtime.ElementInstance, new *runtime.ElementInstance) {
			engine.onStep(ri, old, new)
		},
		ActivityCalled: func(pi *runtime.ProcessInstance, caller *model.Element, callee *runtime.ProcessInstance) {
			engine.onActivityCalled(ri, caller, callee)
		},
	})
}

// followUp queues cmd behind the running command.
func (engine *Engine) followUp(exec *execution, cmd command) {
	if exec.detached {
		engine.logger.Debug("Dropping follow-up of an instance stepped outside the engine", "instance", cmd.target(), "command", fmt.Sprintf("%T", cmd))
		return
	}
	exec.enqueue(cmd)
}

func (engine *Engine) onStart(ri *RunningInstance) {
	exec := ri.execution()
	pi := ri.instance
	setExecutionInfo(pi, executionInfoStarted, engine.timestamp())
	attrs := metric.WithAttributes(attribute.String("processId", pi.Definition.Id))
	engine.metrics.InstancesStarted.Add(exec.ctx, 1, attrs)
	engine.metrics.InstancesRunning.Add(exec.ctx, 1, attrs)

	payload := engine.lifecyclePayload(pi)
	payload[PayloadProgress] = 0.0
	engine.publish(exec.ctx, pi, event.ModelProcessStart, payload)

	store := definitionStore(pi)
	exec.fail(engine.fireEvents(exec, pi, nil, pi.Definition.Annotations, model.EventAnnotationStart, store))
	exec.fail(engine.performServiceCalls(exec, pi, nil, pi.Definition.Annotations.ServiceCallsOfType(model.ServiceCallStart), store))

	engine.followUp(exec, stepForwardCommand{instanceId: pi.Id, fromSeq: pi.CurrentState().Seq})
}

func (engine *Engine) onEnd(ri *RunningInstance) {
	exec := ri.execution()
	pi := ri.instance
	setExecutionInfo(pi, executionInfoEnded, engine.timestamp())
	engine.metrics.InstancesCompleted.Add(exec.ctx, 1, metric.WithAttributes(attribute.String("processId", pi.Definition.Id)))

	payload := engine.lifecyclePayload(pi)
	payload[PayloadProgress] = 1.0
	engine.publish(exec.ctx, pi, event.ModelProcessComplete, payload)

	store := definitionStore(pi)
	exec.fail(engine.fireEvents(exec, pi, nil, pi.Definition.Annotations, model.EventAnnotationEnd, store))
	exec.fail(engine.performServiceCalls(exec, pi, nil, pi.Definition.Annotations.ServiceCallsOfType(model.ServiceCallEnd), store))

	engine.followUp(exec, terminateCommand{instanceId: pi.Id, finished: true})
	if pi.ParentId != "" {
		engine.followUp(exec, childCompletedCommand{parentId: pi.ParentId, childId: pi.Id, calledProcess: pi.Definition.Id})
	}
}

func (engine *Engine) onCancel(ri *RunningInstance) {
	exec := ri.execution()
	pi := ri.instance
	attrs := metric.WithAttributes(attribute.String("processId", pi.Definition.Id))
	if pi.Started() {
		engine.metrics.InstancesRunning.Add(exec.ctx, -1, attrs)
	}
	if ri.finished {
		return
	}
	setExecutionInfo(pi, executionInfoCancelled, engine.timestamp())
	engine.metrics.InstancesCancelled.Add(exec.ctx, 1, attrs)
	engine.publish(exec.ctx, pi, event.ModelProcessCancelled, engine.lifecyclePayload(pi))
}

func (engine *Engine) onError(ri *RunningInstance, element *model.Element, code int, message string) {
	exec := ri.execution()
	pi := ri.instance
	setExecutionInfo(pi, executionInfoError, map[string]any{
		"elementId": element.Id,
		"time":      engine.timestamp(),
		"code":      code,
		"message":   message,
	})
	engine.metrics.InstanceErrors.Add(exec.ctx, 1, metric.WithAttributes(
		attribute.String("processId", pi.Definition.Id),
		attribute.String(otelPkg.AttributeElementId, element.Id),
		attribute.Int("code", code),
	))
	engine.logger.Info("Process instance signalled an error", "instance", pi.Id, "element", element.Id, "code", code, "message", message)

	payload := engine.lifecyclePayload(pi)
	payload[PayloadError] = map[string]any{
		"code":    code,
		"message": message,
	}
	engine.publish(exec.ctx, pi, event.ModelProcessError, payload)

	if element.IsErrorEnd() && pi.CurrentElement() == element {
		engine.followUp(exec, terminateCommand{instanceId: pi.Id, finished: true})
	}
}

func (engine *Engine) onActivityCalled(ri *RunningInstance, caller *model.Element, callee *runtime.ProcessInstance) {
	exec := ri.execution()
	pi := ri.instance
	payload := engine.lifecyclePayload(pi)
	payload[PayloadActivity] = map[string]any{
		"processId": callee.Definition.Id,
		"title":     caller.Label,
	}
	engine.publish(exec.ctx, pi, event.ModelCallActivity, payload)
	engine.followUp(exec, startInstanceCommand{instanceId: callee.Id})
}

func (engine *Engine) onStep(ri *RunningInstance, old *runtime.ElementInstance, new *runtime.ElementInstance) {
	exec := ri.execution()
	pi := ri.instance
	engine.metrics.StepsPerformed.Add(exec.ctx, 1, metric.WithAttributes(
		attribute.String("processId", pi.Definition.Id),
		attribute.String(otelPkg.AttributeElementType, string(new.Element.Type)),
	))
	if old != nil {
		engine.exportElementEvent(pi, old, exporter.ElementCompleted)
		engine.leaveElement(exec, pi, old.Element)
	}
	engine.exportElementEvent(pi, new, exporter.ElementActivated)
	engine.enterElement(exec, pi, old, new)
}

// leaveElement performs the END service calls and fires the END events of element.
// Trigger annotations of element are armed only while it is current.
func (engine *Engine) leaveElement(exec *execution, pi *runtime.ProcessInstance, element *model.Element) {
	store := elementStore(pi, element)
	exec.fail(engine.performServiceCalls(exec, pi, element, element.Annotations.ServiceCallsOfType(model.ServiceCallEnd), store))
	exec.fail(engine.fireEvents(exec, pi, element, element.Annotations, model.EventAnnotationEnd, store))
}

func (engine *Engine) enterElement(exec *execution, pi *runtime.ProcessInstance, old *runtime.ElementInstance, new *runtime.ElementInstance) {
	element := new.Element
	store := elementStore(pi, element)

	switch element.Type {
	case model.ElementTypeUserTask:
		engine.publishTask(exec, pi, element, event.ModelUserTask)
	case model.ElementTypeManualTask:
		engine.publishTask(exec, pi, element, event.ModelManualTask)
	case model.ElementTypeServiceTask:
		engine.publishTask(exec, pi, element, event.ModelServiceTask)
	case model.ElementTypeExclusiveGateway:
		if options := element.ResponseOptions(); len(options) > 0 {
			engine.publishRequest(exec, pi, element, options)
		}
	}

	exec.fail(engine.fireEvents(exec, pi, element, element.Annotations, model.EventAnnotationStart, store))
	exec.fail(engine.performServiceCalls(exec, pi, element, element.Annotations.ServiceCallsOfType(model.ServiceCallStart), store))

	movedForward := old == nil || new.Seq > old.Seq
	if element.Type == model.ElementTypeServiceTask && movedForward {
		engine.followUp(exec, stepForwardCommand{instanceId: pi.Id, fromSeq: new.Seq})
	}
}

func (engine *Engine) publishTask(exec *execution, pi *runtime.ProcessInstance, element *model.Element, modelId string) {
	payload := engine.lifecyclePayload(pi)
	payload[PayloadTask] = map[string]any{
		"title":       element.Label,
		"description": element.Description,
	}
	engine.publish(exec.ctx, pi, modelId, payload)
}

func (engine *Engine) publishRequest(exec *execution, pi *runtime.ProcessInstance, element *model.Element, options []model.ResponseOption) {
	encoded := make([]any, 0, len(options))
	for _, o := range options {
		encoded = append(encoded, map[string]any{
			"display": o.Display,
			"target":  o.Target,
		})
	}
	payload := engine.lifecyclePayload(pi)
	payload[PayloadRequest] = map[string]any{
		"message": element.RequestMessage(),
		"options": encoded,
	}
	engine.publish(exec.ctx, pi, event.ModelUserRequest, payload)
}

// lifecyclePayload returns the fields shared by all lifecycle events of pi.
func (engine *Engine) lifecyclePayload(pi *runtime.ProcessInstance) map[string]any {
	payload := map[string]any{
		PayloadProcessId:         pi.Definition.Id,
		PayloadProcessInstanceId: pi.Id,
		PayloadUserId:            pi.UserId,
	}
	if element := pi.CurrentElement(); element != nil {
		payload[PayloadElementId] = element.Id
	}
	if pi.ParentId != "" {
		payload[PayloadParentInstance] = pi.ParentId
	}
	progress, err := Progress(pi)
	if err != nil {
		engine.logger.Warn("Failed to compute progress", "instance", pi.Id, "err", err)
	}
	payload[PayloadProgress] = progress
	return payload
}

// fireEvents publishes the event annotations of type t. A failing annotation does
// not prevent the others from firing.
func (engine *Engine) fireEvents(exec *execution, pi *runtime.ProcessInstance, element *model.Element, annotations model.Annotations, t model.EventAnnotationType, store map[string]any) error {
	var errJoin error
	for _, ea := range annotations.EventsOfType(t) {
		payload, err := reference.ResolveReferenceMap(ea.Properties, store)
		if err != nil {
			errJoin = errors.Join(errJoin, engine.annotationError(pi, element, ea.EventId, err))
			continue
		}
		engine.publish(exec.ctx, pi, ea.EventId, payload)
	}
	return errJoin
}

// annotationError logs a failed annotation and adds the instance and element to err.
func (engine *Engine) annotationError(pi *runtime.ProcessInstance, element *model.Element, annotation string, err error) error {
	elementId := "<definition>"
	if element != nil {
		elementId = element.Id
	}
	var unresolved *reference.UnresolvedReferenceError
	if errors.As(err, &unresolved) {
		engine.logger.Warn("Failed to resolve annotation", "instance", pi.Id, "element", elementId, "annotation", annotation, "reference", unresolved.Reference, "key", unresolved.Key)
	} else {
		engine.logger.Warn("Failed to evaluate annotation", "instance", pi.Id, "element", elementId, "annotation", annotation, "err", err)
	}
	return fmt.Errorf("annotation %s of %s in instance %s: %w", annotation, elementId, pi.Id, err)
}

// elementStore layers the instance context over the element and definition local data.
func elementStore(pi *runtime.ProcessInstance, element *model.Element) map[string]any {
	return reference.CombineMaps(pi.Context(), element.Annotations.LocalData, pi.Definition.Annotations.LocalData)
}

func definitionStore(pi *runtime.ProcessInstance) map[string]any {
	return reference.CombineMaps(pi.Context(), pi.Definition.Annotations.LocalData)
}
