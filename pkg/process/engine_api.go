package process

import (
	"context"
	"errors"
	"fmt"

	otelPkg "github.com/pbinitiative/zenstep/pkg/otel"
	"github.com/pbinitiative/zenstep/pkg/process/exporter"
	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
	"github.com/pbinitiative/zenstep/pkg/ptr"
	"github.com/pbinitiative/zenstep/pkg/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RegisterProcess makes definition available for instantiation.
// Might return ErrDuplicateProcess, when a process with the same id is registered
func (engine *Engine) RegisterProcess(ctx context.Context, definition *model.Definition) error {
	err := engine.persistence.SaveProcessDefinition(ctx, definition)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return fmt.Errorf("%w: %s", ErrDuplicateProcess, definition.Id)
	}
	if err != nil {
		return errors.Join(newEngineErrorf("failed to register process %s", definition.Id), err)
	}
	engine.exportProcessEvent(definition, exporter.ProcessRegistered)
	engine.logger.Info("Process registered", "process", definition.Id, "name", definition.Name)
	return nil
}

// UnregisterProcess removes the definition. Running instances of it keep running.
func (engine *Engine) UnregisterProcess(ctx context.Context, processId string) error {
	definition, err := engine.GetProcess(ctx, processId)
	if err != nil {
		return err
	}
	err = engine.persistence.DeleteProcessDefinition(ctx, processId)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownProcess, processId)
	}
	if err != nil {
		return errors.Join(newEngineErrorf("failed to unregister process %s", processId), err)
	}
	engine.exportProcessEvent(definition, exporter.ProcessUnregistered)
	return nil
}

func (engine *Engine) GetProcess(ctx context.Context, processId string) (*model.Definition, error) {
	definition, err := engine.persistence.FindProcessDefinitionById(ctx, processId)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcess, processId)
	}
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to find process %s", processId), err)
	}
	return definition, nil
}

// GetProcesses returns all registered definitions ordered by id.
func (engine *Engine) GetProcesses(ctx context.Context) ([]*model.Definition, error) {
	return engine.persistence.FindProcessDefinitions(ctx)
}

func (engine *Engine) GetElement(ctx context.Context, processId string, elementId string) (*model.Element, error) {
	definition, err := engine.GetProcess(ctx, processId)
	if err != nil {
		return nil, err
	}
	return definition.ElementById(elementId)
}

// InstantiateProcess creates and starts a new instance of the process with the given id.
// The instance is returned even when the annotations of its first steps failed.
func (engine *Engine) InstantiateProcess(ctx context.Context, processId string, userId string, sessionId string) (instance *runtime.ProcessInstance, retErr error) {
	definition, err := engine.GetProcess(ctx, processId)
	if err != nil {
		return nil, err
	}

	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("instantiate:%s", processId), trace.WithAttributes(
		attribute.String(otelPkg.AttributeProcessId, processId),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	instance, err = engine.createInstance(ctx, definition,
		runtime.InstanceWithUser(userId),
		runtime.InstanceWithSession(sessionId),
	)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String(otelPkg.AttributeProcessInstanceId, instance.Id))

	return instance, engine.run(ctx, startInstanceCommand{instanceId: instance.Id})
}

// GetInstance might return ErrUnknownInstance
func (engine *Engine) GetInstance(ctx context.Context, instanceId string) (*runtime.ProcessInstance, error) {
	instance, err := engine.persistence.FindProcessInstanceById(ctx, instanceId)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, instanceId)
	}
	return instance, err
}

// GetInstances returns the instances matching filter, an empty slice when there are none.
func (engine *Engine) GetInstances(ctx context.Context, filter storage.ProcessInstanceFilter) ([]*runtime.ProcessInstance, error) {
	return engine.persistence.FindProcessInstances(ctx, filter)
}

func (engine *Engine) GetRunningInstancesForProcess(ctx context.Context, processId string) ([]*runtime.ProcessInstance, error) {
	return engine.GetInstances(ctx, storage.ProcessInstanceFilter{ProcessId: processId, Running: ptr.To(true)})
}

func (engine *Engine) GetRunningProcessInstances(ctx context.Context) ([]*runtime.ProcessInstance, error) {
	return engine.GetInstances(ctx, storage.ProcessInstanceFilter{Running: ptr.To(true)})
}

// InspectInstance calls fn with the instance locked. fn must not modify the instance.
func (engine *Engine) InspectInstance(ctx context.Context, instanceId string, fn func(instance *runtime.ProcessInstance) error) error {
	exec := &execution{ctx: ctx, detached: true}
	ri, err := engine.lockInstance(exec, instanceId)
	if err != nil {
		return err
	}
	defer engine.runningInstances.unlockInstance(ri)
	return fn(ri.instance)
}

// StepForward moves the instance to the only successor of its current element, or
// to the successor elementId when it is not empty. The returned element instance is
// the current one after all follow-up steps.
func (engine *Engine) StepForward(ctx context.Context, instanceId string, elementId string) (*runtime.ElementInstance, error) {
	err := engine.run(ctx, stepForwardCommand{instanceId: instanceId, elementId: elementId, fromSeq: anySeq})
	return engine.currentState(ctx, instanceId, err)
}

func (engine *Engine) StepBackward(ctx context.Context, instanceId string) (*runtime.ElementInstance, error) {
	err := engine.run(ctx, stepBackwardCommand{instanceId: instanceId})
	return engine.currentState(ctx, instanceId, err)
}

// EnterSubprocess instantiates and starts the process called by the current element.
func (engine *Engine) EnterSubprocess(ctx context.Context, instanceId string) (*runtime.ProcessInstance, error) {
	cmd := &enterSubprocessCommand{instanceId: instanceId, fromSeq: anySeq}
	err := engine.run(ctx, cmd)
	return cmd.callee, err
}

// Terminate stops the instance, terminating a stopped instance does nothing.
func (engine *Engine) Terminate(ctx context.Context, instanceId string) error {
	return engine.run(ctx, terminateCommand{instanceId: instanceId})
}

// ReportError signals an error with code and message on the element elementId, or on
// the current element when elementId is empty. The instance stays where it is.
func (engine *Engine) ReportError(ctx context.Context, instanceId string, elementId string, code int, message string) error {
	return engine.run(ctx, reportErrorCommand{instanceId: instanceId, elementId: elementId, code: code, message: message})
}

// PurgeOldInstances deletes the instances terminated longer than the retention period ago.
func (engine *Engine) PurgeOldInstances(ctx context.Context) (int, error) {
	before := engine.clock().Add(-engine.retention)
	removed, err := engine.persistence.DeleteProcessInstancesTerminatedBefore(ctx, before)
	if err != nil {
		return removed, errors.Join(newEngineErrorf("failed to purge instances terminated before %s", before), err)
	}
	if removed > 0 {
		engine.logger.Info("Purged terminated instances", "count", removed, "before", before)
	}
	return removed, nil
}

// currentState reads the current element instance after a command. A failed
// lookup is only reported when the command itself succeeded.
func (engine *Engine) currentState(ctx context.Context, instanceId string, cmdErr error) (*runtime.ElementInstance, error) {
	var current *runtime.ElementInstance
	err := engine.InspectInstance(ctx, instanceId, func(instance *runtime.ProcessInstance) error {
		current = instance.CurrentState()
		return nil
	})
	if cmdErr != nil {
		return current, cmdErr
	}
	return current, err
}
