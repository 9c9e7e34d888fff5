package rest

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenstep/internal/appcontext"
	"github.com/pbinitiative/zenstep/internal/otel"
	"github.com/pbinitiative/zenstep/pkg/process/loader"
	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
	"github.com/pbinitiative/zenstep/pkg/storage"
)

func (s *Server) GetProcesses(w http.ResponseWriter, r *http.Request) {
	definitions, err := s.engine.GetProcesses(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	res := make([]ProcessSummary, 0, len(definitions))
	for _, def := range definitions {
		res = append(res, encodeProcessSummary(def))
	}
	writeJson(w, r, http.StatusOK, res)
}

func (s *Server) GetProcess(w http.ResponseWriter, r *http.Request) {
	def, err := s.engine.GetProcess(r.Context(), chi.URLParam(r, "processId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, r, http.StatusOK, encodeProcessDetail(def))
}

// RegisterProcess accepts a YAML or JSON definition document.
func (s *Server) RegisterProcess(w http.ResponseWriter, r *http.Request) {
	def, err := loader.Load(r.Body)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if err := s.engine.RegisterProcess(r.Context(), def); err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, r, http.StatusCreated, encodeProcessDetail(def))
}

func (s *Server) UnregisterProcess(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.UnregisterProcess(r.Context(), chi.URLParam(r, "processId")); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetProcessInstances(w http.ResponseWriter, r *http.Request) {
	def, err := s.engine.GetProcess(r.Context(), chi.URLParam(r, "processId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	filter := storage.ProcessInstanceFilter{ProcessId: def.Id}
	if !parseRunning(w, r, &filter) {
		return
	}
	s.writeInstances(w, r, filter)
}

func (s *Server) GetElements(w http.ResponseWriter, r *http.Request) {
	def, err := s.engine.GetProcess(r.Context(), chi.URLParam(r, "processId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, r, http.StatusOK, encodeElements(def.AllProcessElements()))
}

func (s *Server) GetElement(w http.ResponseWriter, r *http.Request) {
	element, err := s.engine.GetElement(r.Context(), chi.URLParam(r, "processId"), chi.URLParam(r, "elementId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, r, http.StatusOK, encodeElement(element))
}

// InstantiateProcess starts an instance for the user and session of the query.
// The session falls back to the session header.
func (s *Server) InstantiateProcess(w http.ResponseWriter, r *http.Request) {
	sessionId := r.URL.Query().Get("sid")
	if sessionId == "" {
		sessionId, _ = appcontext.SessionIdFromContext(r.Context())
	}
	if sessionId == "" {
		sessionId = r.Header.Get(otel.SessionHeader)
	}
	instance, err := s.engine.InstantiateProcess(r.Context(), chi.URLParam(r, "processId"), r.URL.Query().Get("userId"), sessionId)
	if instance == nil || !tolerated(r, err) {
		writeEngineError(w, r, err)
		return
	}
	var res InstanceDto
	err = s.engine.InspectInstance(r.Context(), instance.Id, func(pi *runtime.ProcessInstance) error {
		res = encodeInstance(pi)
		return nil
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, r, http.StatusCreated, res)
}

func (s *Server) GetLocalData(w http.ResponseWriter, r *http.Request) {
	s.writeAnnotations(w, r, func(a model.Annotations) any {
		return nonNilMap(a.LocalData)
	})
}

func (s *Server) GetTriggers(w http.ResponseWriter, r *http.Request) {
	s.writeAnnotations(w, r, func(a model.Annotations) any {
		return encodeTriggers(a.Triggers)
	})
}

func (s *Server) GetServiceCalls(w http.ResponseWriter, r *http.Request) {
	s.writeAnnotations(w, r, func(a model.Annotations) any {
		return encodeServiceCalls(a.ServiceCalls)
	})
}

func (s *Server) GetEventAnnotations(w http.ResponseWriter, r *http.Request) {
	s.writeAnnotations(w, r, func(a model.Annotations) any {
		return encodeEvents(a.Events)
	})
}

// writeAnnotations encodes the annotations of the element named by the elementId
// query parameter, or of the process itself when it is missing.
func (s *Server) writeAnnotations(w http.ResponseWriter, r *http.Request, encode func(model.Annotations) any) {
	def, err := s.engine.GetProcess(r.Context(), chi.URLParam(r, "processId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	annotations := def.Annotations
	if elementId := r.URL.Query().Get("elementId"); elementId != "" {
		element, err := def.ElementById(elementId)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		annotations = element.Annotations
	}
	writeJson(w, r, http.StatusOK, encode(annotations))
}

func parseRunning(w http.ResponseWriter, r *http.Request, filter *storage.ProcessInstanceFilter) bool {
	raw := r.URL.Query().Get("isRunning")
	if raw == "" {
		return true
	}
	running, err := strconv.ParseBool(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ApiError{
			Code:    CodeBadRequest,
			Message: "isRunning: " + err.Error(),
		})
		return false
	}
	filter.Running = &running
	return true
}
