package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenstep/internal/appcontext"
	otelPkg "github.com/pbinitiative/zenstep/pkg/otel"
	"github.com/pbinitiative/zenstep/pkg/process/exporter"
	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
	"github.com/pbinitiative/zenstep/pkg/storage"
	"github.com/pbinitiative/zenstep/pkg/storage/inmemory"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// DefaultRetention is how long terminated instances are kept.
const DefaultRetention = 24 * time.Hour

// Engine drives process instances: it keeps the definition registry, creates
// instances, routes inbound events and evaluates the annotations of every step.
//
// All operations on one instance are serialized, operations on different
// instances run independently.
type Engine struct {
	name             string
	exporters        []exporter.EventExporter
	snowflake        *snowflake.Node
	persistence      storage.Storage
	dispatcher       Dispatcher
	logger           hclog.Logger
	metrics          *otelPkg.EngineMetrics
	tracer           trace.Tracer
	clock            func() time.Time
	retention        time.Duration
	runningInstances *RunningInstancesCache
}

// NewEngine creates a new process engine. Without EngineWithStorage the engine
// keeps everything in memory.
func NewEngine(options ...EngineOption) *Engine {
	name := fmt.Sprintf("Process-Engine-%d", getGlobalSnowflakeIdGenerator().Generate().Int64())
	engine := Engine{
		name:             name,
		snowflake:        getGlobalSnowflakeIdGenerator(),
		exporters:        []exporter.EventExporter{},
		logger:           hclog.Default().Named("process-engine"),
		tracer:           otel.GetTracerProvider().Tracer("process-engine"),
		clock:            time.Now,
		retention:        DefaultRetention,
		runningInstances: newRunningInstancesCache(),
	}

	for _, option := range options {
		option(&engine)
	}

	if engine.persistence == nil {
		engine.persistence = inmemory.NewStorage(inmemory.StorageWithRetention(inmemory.DefaultRetainedInstances, engine.retention))
	}
	if engine.metrics == nil {
		// noop instruments never fail to register
		engine.metrics, _ = otelPkg.NewMetrics(noop.NewMeterProvider().Meter("process-engine"))
	}
	return &engine
}

// Name returns the name of the engine, only useful in case you control multiple ones
func (engine *Engine) Name() string {
	return engine.name
}

// Storage returns the store the engine works on.
func (engine *Engine) Storage() storage.Storage {
	return engine.persistence
}

// createInstance creates and stores a new instance of definition without starting it.
func (engine *Engine) createInstance(ctx context.Context, definition *model.Definition, options ...runtime.InstanceOption) (*runtime.ProcessInstance, error) {
	options = append([]runtime.InstanceOption{
		runtime.InstanceWithClock(engine.clock),
		runtime.InstanceWithSubprocessFactory(engine.createSubprocess),
	}, options...)
	instance := runtime.NewProcessInstance(engine.generateId(), definition, options...)
	initExecutionInfo(instance)

	// tracked before it is visible in the storage, lockInstance must not attach it again
	ri, created := engine.runningInstances.track(instance)
	if created {
		engine.attach(ri)
	}
	err := engine.persistence.SaveProcessInstance(ctx, instance)
	if err != nil {
		engine.runningInstances.forget(instance.Id)
		return nil, errors.Join(newEngineErrorf("failed to save process instance %s", instance.Id), err)
	}
	return instance, nil
}

// createSubprocess instantiates the process called by caller. The callee is
// started by the activityCalled notification of the parent.
func (engine *Engine) createSubprocess(parent *runtime.ProcessInstance, caller *model.Element) (*runtime.ProcessInstance, error) {
	ctx := context.Background()
	if ri, ok := engine.runningInstances.get(parent.Id); ok {
		ctx = ri.execution().ctx
	}
	definition, err := engine.persistence.FindProcessDefinitionById(ctx, caller.CalledProcess)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s called by %s", ErrUnknownProcess, caller.CalledProcess, caller.Id)
		}
		return nil, err
	}
	return engine.createInstance(ctx, definition,
		runtime.InstanceWithParent(parent.Id),
		runtime.InstanceWithUser(parent.UserId),
		runtime.InstanceWithSession(parent.SessionId),
	)
}

// lockInstance finds the instance with the given id and locks it for exec.
func (engine *Engine) lockInstance(exec *execution, id string) (*RunningInstance, error) {
	ri, ok := engine.runningInstances.get(id)
	if !ok {
		instance, err := engine.persistence.FindProcessInstanceById(exec.ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, id)
			}
			return nil, errors.Join(newEngineErrorf("failed to load process instance %s", id), err)
		}
		var created bool
		ri, created = engine.runningInstances.track(instance)
		if created && instance.IsRunning() {
			engine.attach(ri)
		}
	}
	engine.runningInstances.lockInstance(ri, exec)
	return ri, nil
}

// run executes commands and every follow-up command they cause.
func (engine *Engine) run(ctx context.Context, commands ...command) error {
	if _, ok := appcontext.ExecutionKeyFromContext(ctx); !ok {
		ctx = appcontext.WithExecutionKey(ctx, engine.generateKey())
	}
	exec := &execution{ctx: ctx, queue: commands}

	// *** MAIN LOOP ***
	for len(exec.queue) > 0 {
		cmd := exec.queue[0]
		exec.queue = exec.queue[1:]
		if err := engine.runCommand(exec, cmd); err != nil {
			exec.fail(err)
		}
	}
	return exec.err
}

func (engine *Engine) runCommand(exec *execution, cmd command) error {
	ri, err := engine.lockInstance(exec, cmd.target())
	if err != nil {
		return err
	}
	defer engine.runningInstances.unlockInstance(ri)

	err = engine.execute(exec, ri, cmd)
	if saveErr := engine.persistence.SaveProcessInstance(exec.ctx, ri.instance); saveErr != nil {
		err = errors.Join(err, newEngineErrorf("failed to save process instance %s", ri.instance.Id), saveErr)
	}
	return err
}

func (engine *Engine) execute(exec *execution, ri *RunningInstance, cmd command) error {
	instance := ri.instance
	switch tCmd := cmd.(type) {
	case startInstanceCommand:
		return instance.Start()
	case stepForwardCommand:
		if tCmd.fromSeq != anySeq && (!instance.IsRunning() || instance.CurrentState().Seq != tCmd.fromSeq) {
			engine.logger.Debug("Skipping stale step", "instance", instance.Id, "seq", tCmd.fromSeq)
			return nil
		}
		var options []runtime.StepOption
		if tCmd.trigger != nil {
			options = append(options, runtime.WithTrigger(*tCmd.trigger))
		}
		if tCmd.elementId == "" {
			_, err := instance.StepForward(options...)
			return err
		}
		_, err := instance.StepForwardTo(tCmd.elementId, options...)
		return err
	case stepBackwardCommand:
		_, err := instance.StepBackward()
		return err
	case *enterSubprocessCommand:
		if tCmd.fromSeq != anySeq && (!instance.IsRunning() || instance.CurrentState().Seq != tCmd.fromSeq) {
			return nil
		}
		callee, err := instance.EnterSubprocess()
		tCmd.callee = callee
		return err
	case terminateCommand:
		ri.finished = tCmd.finished
		instance.Terminate()
		return nil
	case childCompletedCommand:
		caller := instance.CurrentElement()
		if !instance.IsRunning() || !caller.IsCallable() || caller.CalledProcess != tCmd.calledProcess {
			engine.logger.Debug("Parent moved on before the called process completed", "parent", instance.Id, "child", tCmd.childId)
			return nil
		}
		_, err := instance.StepForward()
		return err
	case handleEventCommand:
		return engine.handleInstanceEvent(exec, ri, tCmd.event)
	case writeBackCommand:
		if !instance.IsRunning() {
			engine.logger.Warn("Dropping service call result of terminated instance", "instance", instance.Id)
			return nil
		}
		instance.VariableHolder.SetLocalVariables(tCmd.variables)
		return nil
	case reportErrorCommand:
		if !instance.IsRunning() {
			engine.logger.Warn("Dropping error of terminated instance", "instance", instance.Id, "code", tCmd.code, "message", tCmd.message)
			return nil
		}
		element := instance.CurrentElement()
		if tCmd.elementId != "" {
			var err error
			if element, err = instance.Definition.ElementById(tCmd.elementId); err != nil {
				return err
			}
		}
		instance.ReportError(element, tCmd.code, tCmd.message)
		return nil
	default:
		panic(fmt.Sprintf("[invariant check] command type %T check not fully implemented", cmd))
	}
}

func (engine *Engine) Stop() {
}
