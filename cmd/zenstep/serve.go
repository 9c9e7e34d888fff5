package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenstep/internal/config"
	"github.com/pbinitiative/zenstep/internal/log"
	"github.com/pbinitiative/zenstep/internal/otel"
	"github.com/pbinitiative/zenstep/internal/profile"
	"github.com/pbinitiative/zenstep/internal/rest"
	"github.com/pbinitiative/zenstep/pkg/dispatch"
	"github.com/pbinitiative/zenstep/pkg/process"
	"github.com/pbinitiative/zenstep/pkg/process/exporter"
	"github.com/pbinitiative/zenstep/pkg/process/loader"
	"github.com/pbinitiative/zenstep/pkg/storage/inmemory"
	"github.com/spf13/cobra"
)

// recordedEvents is how many outbound events GET /events can list.
const recordedEvents = 500

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the engine and its REST API",
		Long: `Start the process engine with the REST API, the HTTP service dispatcher and
the purge loop removing old terminated instances.

Configuration is read from CONFIG_FILE (default ./conf.yaml) or the environment.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	profile.InitProfile()
	log.Init()
	defer log.Sync()

	appContext, ctxCancel := context.WithCancel(context.Background())
	defer ctxCancel()

	conf := config.InitConfig()

	openTelemetry, err := otel.SetupOtel(conf.Tracing)
	if err != nil {
		log.Error("Failed to set up OTEL: %s", err)
		return err
	}
	defer openTelemetry.Stop(context.Background())

	engine, dispatcher, recorder, err := newEngine(conf, openTelemetry)
	if err != nil {
		log.Error("Failed to create engine: %s", err)
		return err
	}
	if err := registerDefinitions(appContext, engine, conf.Engine.DefinitionPath); err != nil {
		// the valid definitions stay registered
		log.Warn("Some definitions were not registered: %s", err)
	}

	// Start the public API
	svr := rest.NewServer(engine, recorder, conf)
	if svr.Start() == nil {
		return fmt.Errorf("failed to listen on %s", conf.Server.Addr)
	}

	go purgeLoop(appContext, engine, conf.Engine.PurgeInterval)

	appStop := make(chan os.Signal, 2)
	handleSigterm(appStop, appContext)

	ctxCancel()
	// cleanup
	svr.Stop(context.Background())
	dispatcher.Wait()
	engine.Stop()
	return nil
}

func newEngine(conf config.Config, openTelemetry *otel.Otel) (*process.Engine, *dispatch.HttpDispatcher, *exporter.Recorder, error) {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  conf.Name,
		Level: hclog.Info,
	})
	metrics, err := openTelemetry.EngineMetrics()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create engine metrics: %w", err)
	}
	dispatcher := dispatch.NewHttpDispatcher(dispatch.Config{
		Host:    conf.Services.Host,
		Port:    conf.Services.Port,
		Secure:  conf.Services.Secure,
		BaseUrl: conf.Services.BaseUrl,
		Timeout: conf.Services.Timeout,
	}, logger)
	recorder := exporter.NewRecorder(recordedEvents)

	engine := process.NewEngine(
		process.EngineWithName(conf.Name),
		process.EngineWithLogger(logger),
		process.EngineWithStorage(inmemory.NewStorage(
			inmemory.StorageWithRetention(conf.Engine.RetainedInstances, conf.Engine.Retention),
		)),
		process.EngineWithRetention(conf.Engine.Retention),
		process.EngineWithDispatcher(dispatcher),
		process.EngineWithMetrics(metrics),
		process.EngineWithExporter(exporter.NewLogExporter(logger)),
		process.EngineWithExporter(recorder),
	)
	return engine, dispatcher, recorder, nil
}

// registerDefinitions registers every definition found in dir. An empty dir
// registers nothing.
func registerDefinitions(ctx context.Context, engine *process.Engine, dir string) error {
	if dir == "" {
		return nil
	}
	definitions, err := loader.LoadDir(dir)
	for _, def := range definitions {
		if regErr := engine.RegisterProcess(ctx, def); regErr != nil {
			err = errors.Join(err, regErr)
		}
	}
	log.Info("Registered %d definitions from %s", len(definitions), dir)
	return err
}

func purgeLoop(ctx context.Context, engine *process.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := engine.PurgeOldInstances(ctx); err != nil {
				log.Errorf(ctx, "Failed to purge instances: %s", err)
			}
		}
	}
}

func handleSigterm(appStop chan os.Signal, ctx context.Context) {
	signal.Notify(appStop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-appStop
	log.Infof(ctx, "Received %s. Shutting down", sig.String())
}
