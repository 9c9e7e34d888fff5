package process

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenstep/pkg/otel"
	"github.com/pbinitiative/zenstep/pkg/process/exporter"
	"github.com/pbinitiative/zenstep/pkg/storage"
	"go.opentelemetry.io/otel/trace"
)

type EngineOption = func(*Engine)

func EngineWithExporter(exporter exporter.EventExporter) EngineOption {
	return func(engine *Engine) { engine.AddEventExporter(exporter) }
}

func EngineWithStorage(persistence storage.Storage) EngineOption {
	return func(engine *Engine) {
		engine.persistence = persistence
	}
}

func EngineWithName(name string) EngineOption {
	return func(engine *Engine) {
		engine.name = name
	}
}

func EngineWithDispatcher(dispatcher Dispatcher) EngineOption {
	return func(engine *Engine) {
		engine.dispatcher = dispatcher
	}
}

func EngineWithLogger(logger hclog.Logger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger.Named("process-engine")
	}
}

func EngineWithMetrics(metrics *otel.EngineMetrics) EngineOption {
	return func(engine *Engine) {
		engine.metrics = metrics
	}
}

func EngineWithTracer(tracer trace.Tracer) EngineOption {
	return func(engine *Engine) {
		engine.tracer = tracer
	}
}

func EngineWithClock(clock func() time.Time) EngineOption {
	return func(engine *Engine) {
		engine.clock = clock
	}
}

// EngineWithRetention sets how long terminated instances are kept by PurgeOldInstances.
func EngineWithRetention(retention time.Duration) EngineOption {
	return func(engine *Engine) {
		engine.retention = retention
	}
}
