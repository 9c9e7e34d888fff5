package process

import (
	"context"
	"errors"
	"fmt"

	otelPkg "github.com/pbinitiative/zenstep/pkg/otel"
	"github.com/pbinitiative/zenstep/pkg/process/event"
	"github.com/pbinitiative/zenstep/pkg/process/matcher"
	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/pbinitiative/zenstep/pkg/process/reference"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ServiceCall is a resolved service call annotation.
type ServiceCall struct {
	InstanceId string
	// ElementId is empty for calls declared on the definition.
	ElementId       string
	Service         string
	Method          string
	Input           map[string]any
	OutputReference string
	OutputMapping   map[string]string
}

// ResultSink receives the results of dispatched service calls.
type ResultSink interface {
	WriteBack(ctx context.Context, instanceId string, variables map[string]any) error
	// ReportFailure signals that call could not be performed.
	ReportFailure(ctx context.Context, call ServiceCall, code int, message string) error
}

// Dispatcher delivers service calls. Dispatch is called while the instance is
// locked and must not block, results are written back through sink.
type Dispatcher interface {
	Dispatch(ctx context.Context, call ServiceCall, sink ResultSink)
}

var _ ResultSink = &Engine{}

// WriteBack merges the result of a service call into the instance context.
// Results for terminated instances are dropped.
func (engine *Engine) WriteBack(ctx context.Context, instanceId string, variables map[string]any) error {
	if len(variables) == 0 {
		return nil
	}
	return engine.run(ctx, writeBackCommand{instanceId: instanceId, variables: variables})
}

// ReportFailure reports a failed service call as an error of the element that
// issued it, definition level calls report it on the current element.
func (engine *Engine) ReportFailure(ctx context.Context, call ServiceCall, code int, message string) error {
	return engine.ReportError(ctx, call.InstanceId, call.ElementId, code, message)
}

func (engine *Engine) performServiceCalls(exec *execution, pi *runtime.ProcessInstance, element *model.Element, calls []model.ServiceCallAnnotation, store map[string]any) error {
	var errJoin error
	for _, sc := range calls {
		errJoin = errors.Join(errJoin, engine.performServiceCall(exec, pi, element, sc, store))
	}
	return errJoin
}

func (engine *Engine) performServiceCall(exec *execution, pi *runtime.ProcessInstance, element *model.Element, sc model.ServiceCallAnnotation, store map[string]any) error {
	annotation := fmt.Sprintf("%s/%s", sc.Service, sc.Method)
	input, err := reference.ResolveStringMap(sc.InputMapping, store)
	if err != nil {
		return engine.annotationError(pi, element, annotation, err)
	}
	call := ServiceCall{
		InstanceId:      pi.Id,
		Service:         sc.Service,
		Method:          sc.Method,
		Input:           input,
		OutputReference: sc.OutputReference,
		OutputMapping:   sc.OutputMapping,
	}
	if element != nil {
		call.ElementId = element.Id
	}
	if engine.dispatcher == nil {
		engine.logger.Debug("No dispatcher configured, dropping service call", "instance", pi.Id, "call", annotation)
		return nil
	}
	engine.metrics.ServiceCallsDispatch.Add(exec.ctx, 1, metric.WithAttributes(
		attribute.String(otelPkg.AttributeService, sc.Service),
		attribute.String("method", sc.Method),
	))
	engine.dispatcher.Dispatch(exec.ctx, call, engine)
	return nil
}

// triggerServiceCall performs sc when evt matches its trigger. The event payload is
// visible to the input mapping below the regular store.
func (engine *Engine) triggerServiceCall(exec *execution, pi *runtime.ProcessInstance, element *model.Element, sc model.ServiceCallAnnotation, evt event.Event, store map[string]any) error {
	if sc.Trigger == nil {
		return nil
	}
	matched, err := matcher.DoesEventMatch(evt, *sc.Trigger, store)
	if err != nil {
		return engine.annotationError(pi, element, fmt.Sprintf("%s/%s", sc.Service, sc.Method), err)
	}
	if !matched {
		return nil
	}
	engine.metrics.EventsMatched.Add(exec.ctx, 1, metric.WithAttributes(attribute.String("modelId", evt.ModelId)))
	return engine.performServiceCall(exec, pi, element, sc, reference.CombineMaps(store, evt.Payload))
}
