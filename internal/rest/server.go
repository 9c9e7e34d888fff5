package rest

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenstep/internal/config"
	"github.com/pbinitiative/zenstep/internal/log"
	"github.com/pbinitiative/zenstep/internal/rest/middleware"
	"github.com/pbinitiative/zenstep/pkg/process"
	"github.com/pbinitiative/zenstep/pkg/process/exporter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	engine *process.Engine
	// recorder backs GET /events, nil disables the route
	recorder *exporter.Recorder
	addr     string
	server   *http.Server
}

func NewServer(engine *process.Engine, recorder *exporter.Recorder, conf config.Config) *Server {
	r := chi.NewRouter()
	s := Server{
		engine:   engine,
		recorder: recorder,
		addr:     conf.Server.Addr,
		server: &http.Server{
			ReadHeaderTimeout: 3 * time.Second,
			Handler:           r,
			Addr:              conf.Server.Addr,
		},
	}
	r.Use(middleware.Cors())
	r.Use(middleware.Opentelemetry(conf))
	r.Use(middleware.StripEmptyQueryParams())
	routes := func(r chi.Router) {
		r.Route("/processes", func(r chi.Router) {
			r.Get("/", s.GetProcesses)
			r.Put("/", s.RegisterProcess)
			r.Route("/{processId}", func(r chi.Router) {
				r.Get("/", s.GetProcess)
				r.Delete("/", s.UnregisterProcess)
				r.Get("/instances", s.GetProcessInstances)
				r.Get("/elements", s.GetElements)
				r.Get("/elements/{elementId}", s.GetElement)
				r.Post("/instantiate", s.InstantiateProcess)
				r.Get("/localData", s.GetLocalData)
				r.Get("/triggers", s.GetTriggers)
				r.Get("/serviceCalls", s.GetServiceCalls)
				r.Get("/events", s.GetEventAnnotations)
			})
		})
		r.Route("/instances", func(r chi.Router) {
			r.Get("/", s.GetInstances)
			r.Route("/{instanceId}", func(r chi.Router) {
				r.Get("/", s.GetInstance)
				r.Get("/currentElement", s.GetCurrentElement)
				r.Get("/history", s.GetHistory)
				r.Post("/next", s.StepForward)
				r.Post("/previous", s.StepBackward)
				r.Post("/confirm", s.EnterSubprocess)
				r.Post("/terminate", s.Terminate)
			})
		})
		r.Post("/events", s.PublishEvent)
		if recorder != nil {
			r.Get("/events", s.GetRecordedEvents)
		}
	}
	if base := strings.TrimSuffix(conf.Server.Context, "/"); base != "" {
		r.Route(base, routes)
	} else {
		routes(r)
	}
	// register system endpoints
	r.Route("/system", func(r chi.Router) {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	})
	return &s
}

// Handler exposes the router, used by tests to serve requests without listening.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() net.Listener {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		log.Error("failed to listen: %v", err)
		return nil
	}
	log.Info("zenstep REST server listening on %s", s.addr)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("Error starting server: %s", err)
		}
	}()
	return listener
}

func (s *Server) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		log.Error("Error stopping server: %s", err)
	}
}
