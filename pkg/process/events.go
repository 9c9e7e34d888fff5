package process

import (
	"context"
	"errors"
	"fmt"

	otelPkg "github.com/pbinitiative/zenstep/pkg/otel"
	"github.com/pbinitiative/zenstep/pkg/process/event"
	"github.com/pbinitiative/zenstep/pkg/process/matcher"
	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
	"github.com/pbinitiative/zenstep/pkg/ptr"
	"github.com/pbinitiative/zenstep/pkg/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// HandleEvent routes an inbound event. Definition triggers instantiate their
// process, flow triggers of the current elements step the running instances and
// armed trigger service calls are performed.
//
// Failing annotations are skipped and reported in the joined error, the remaining
// annotations are still evaluated.
func (engine *Engine) HandleEvent(ctx context.Context, evt event.Event) (retErr error) {
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("event:%s", evt.ModelId), trace.WithAttributes(
		attribute.String(otelPkg.AttributeEventModelId, evt.ModelId),
		attribute.String(otelPkg.AttributeEventId, evt.Id),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()
	engine.metrics.EventsReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("modelId", evt.ModelId)))

	if evt.Expired(engine.clock()) {
		engine.logger.Debug("Ignoring expired event", "modelId", evt.ModelId, "id", evt.Id)
		return nil
	}

	// instances created by this event must not react to it
	running, err := engine.persistence.FindProcessInstances(ctx, storage.ProcessInstanceFilter{Running: ptr.To(true)})
	if err != nil {
		return errors.Join(newEngineErrorf("failed to find running process instances"), err)
	}
	definitions, err := engine.persistence.FindProcessDefinitions(ctx)
	if err != nil {
		return errors.Join(newEngineErrorf("failed to find process definitions"), err)
	}

	var errJoin error
	for _, definition := range definitions {
		matched, err := engine.matchDefinitionTriggers(evt, definition)
		errJoin = errors.Join(errJoin, err)
		if !matched {
			continue
		}
		engine.metrics.EventsMatched.Add(ctx, 1, metric.WithAttributes(attribute.String("modelId", evt.ModelId)))
		if _, err := engine.InstantiateProcess(ctx, definition.Id, evt.UserIdOrPayload(), evt.SessionId); err != nil {
			errJoin = errors.Join(errJoin, fmt.Errorf("failed to instantiate %s for event %s: %w", definition.Id, evt.Id, err))
		}
	}

	commands := make([]command, 0, len(running))
	for _, instance := range running {
		commands = append(commands, handleEventCommand{instanceId: instance.Id, event: evt})
	}
	return errors.Join(errJoin, engine.run(ctx, commands...))
}

// matchDefinitionTriggers checks the definition level triggers against the definition local data.
func (engine *Engine) matchDefinitionTriggers(evt event.Event, definition *model.Definition) (bool, error) {
	var errJoin error
	for _, trigger := range definition.Annotations.Triggers {
		matched, err := matcher.DoesEventMatch(evt, trigger, definition.Annotations.LocalData)
		if err != nil {
			engine.logger.Warn("Failed to match definition trigger", "process", definition.Id, "eventId", trigger.EventId, "err", err)
			errJoin = errors.Join(errJoin, fmt.Errorf("trigger %s of process %s: %w", trigger.EventId, definition.Id, err))
			continue
		}
		if matched {
			return true, errJoin
		}
	}
	return false, errJoin
}

// handleInstanceEvent evaluates the armed triggers of one locked instance.
func (engine *Engine) handleInstanceEvent(exec *execution, ri *RunningInstance, evt event.Event) error {
	pi := ri.instance
	if !pi.IsRunning() || !pi.Started() {
		return nil
	}
	current := pi.CurrentState()
	element := current.Element
	elementCalls := element.Annotations.ServiceCallsOfType(model.ServiceCallTrigger)
	definitionCalls := pi.Definition.Annotations.ServiceCallsOfType(model.ServiceCallTrigger)

	var errJoin error
	for _, trigger := range element.Annotations.Triggers {
		matched, err := matcher.DoesEventMatch(evt, trigger, elementStore(pi, element))
		if err != nil {
			errJoin = errors.Join(errJoin, engine.annotationError(pi, element, trigger.EventId, err))
			continue
		}
		if !matched {
			continue
		}
		engine.metrics.EventsMatched.Add(exec.ctx, 1, metric.WithAttributes(attribute.String("modelId", evt.ModelId)))
		errJoin = errors.Join(errJoin, engine.react(pi, element, evt))
		break
	}

	// leaving the element disarmed its trigger service calls
	if pi.IsRunning() && pi.CurrentState() == current {
		for _, sc := range elementCalls {
			errJoin = errors.Join(errJoin, engine.triggerServiceCall(exec, pi, element, sc, evt, elementStore(pi, element)))
		}
	}
	if pi.IsRunning() && !pi.ReachedEnd() {
		for _, sc := range definitionCalls {
			errJoin = errors.Join(errJoin, engine.triggerServiceCall(exec, pi, nil, sc, evt, definitionStore(pi)))
		}
	}
	return errJoin
}

// react moves pi off element after one of its flow triggers matched.
func (engine *Engine) react(pi *runtime.ProcessInstance, element *model.Element, evt event.Event) error {
	switch element.Type {
	case model.ElementTypeExclusiveGateway:
		response, _ := evt.Payload[PayloadResponse].(string)
		target, ok := element.ResponseTarget(response)
		if !ok {
			return fmt.Errorf("%w: response %q selects no branch of %s in instance %s", runtime.ErrUnknownSuccessor, response, element.Id, pi.Id)
		}
		_, err := pi.StepForwardTo(target, runtime.WithTrigger(evt))
		return err
	case model.ElementTypeCallActivity:
		_, err := pi.EnterSubprocess()
		return err
	case model.ElementTypeUserTask, model.ElementTypeManualTask, model.ElementTypeIntermediateEvent:
		_, err := pi.StepForward(runtime.WithTrigger(evt))
		return err
	default:
		return nil
	}
}
