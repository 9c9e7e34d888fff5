package process

import (
	"context"

	"github.com/pbinitiative/zenstep/pkg/process/event"
	"github.com/pbinitiative/zenstep/pkg/process/exporter"
	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
)

// AddEventExporter registers an EventExporter instance
func (engine *Engine) AddEventExporter(exporter exporter.EventExporter) {
	engine.exporters = append(engine.exporters, exporter)
}

func (engine *Engine) exportProcessEvent(definition *model.Definition, intent exporter.Intent) {
	event := exporter.ProcessEvent{
		ProcessId:    definition.Id,
		Name:         definition.Name,
		ElementCount: len(definition.AllProcessElements()),
		Intent:       intent,
	}
	for _, exp := range engine.exporters {
		exp.NewProcessEvent(&event)
	}
}

func (engine *Engine) exportElementEvent(instance *runtime.ProcessInstance, ei *runtime.ElementInstance, intent exporter.Intent) {
	event := exporter.ProcessInstanceEvent{
		ProcessId:         instance.Definition.Id,
		ProcessInstanceId: instance.Id,
		ParentInstanceId:  instance.ParentId,
	}
	info := exporter.ElementInfo{
		ElementType: string(ei.Element.GetType()),
		ElementId:   ei.Element.GetId(),
		Seq:         ei.Seq,
		Intent:      intent,
	}
	for _, exp := range engine.exporters {
		exp.NewElementEvent(&event, &info)
	}
}

// publish emits an event on behalf of instance.
func (engine *Engine) publish(ctx context.Context, instance *runtime.ProcessInstance, modelId string, payload map[string]any) {
	evt := event.New(modelId, event.TypeMachine, payload)
	evt.SessionId = instance.SessionId
	evt.UserId = instance.UserId
	engine.logger.Trace("Publishing event", "modelId", modelId, "instance", instance.Id, "executionKey", executionKey(ctx))
	for _, exp := range engine.exporters {
		exp.PublishEvent(&evt)
	}
}
