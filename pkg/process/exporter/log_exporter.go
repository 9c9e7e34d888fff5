package exporter

import (
	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenstep/pkg/process/event"
)

// LogExporter writes everything it receives to an hclog logger.
type LogExporter struct {
	logger hclog.Logger
}

func NewLogExporter(logger hclog.Logger) *LogExporter {
	if logger == nil {
		logger = hclog.Default()
	}
	return &LogExporter{logger: logger.Named("log-exporter")}
}

var _ EventExporter = &LogExporter{}

func (e *LogExporter) NewProcessEvent(evt *ProcessEvent) {
	e.logger.Info("Process definition changed", "processId", evt.ProcessId, "intent", evt.Intent, "elements", evt.ElementCount)
}

func (e *LogExporter) NewElementEvent(evt *ProcessInstanceEvent, info *ElementInfo) {
	e.logger.Debug("Element event",
		"processId", evt.ProcessId,
		"processInstanceId", evt.ProcessInstanceId,
		"elementId", info.ElementId,
		"elementType", info.ElementType,
		"intent", info.Intent,
	)
}

func (e *LogExporter) PublishEvent(evt *event.Event) {
	e.logger.Info("Event published", "modelId", evt.ModelId, "id", evt.Id, "session", evt.SessionId)
}
