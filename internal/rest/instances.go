package rest

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenstep/pkg/process"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
	"github.com/pbinitiative/zenstep/pkg/storage"
)

func (s *Server) GetInstances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.ProcessInstanceFilter{
		ProcessId: q.Get("processId"),
		UserId:    q.Get("userId"),
		SessionId: q.Get("sessionId"),
		ParentId:  q.Get("parentId"),
	}
	if !parseRunning(w, r, &filter) {
		return
	}
	s.writeInstances(w, r, filter)
}

func (s *Server) writeInstances(w http.ResponseWriter, r *http.Request, filter storage.ProcessInstanceFilter) {
	instances, err := s.engine.GetInstances(r.Context(), filter)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	res := make([]InstanceDto, 0, len(instances))
	for _, instance := range instances {
		err := s.engine.InspectInstance(r.Context(), instance.Id, func(pi *runtime.ProcessInstance) error {
			res = append(res, encodeInstance(pi))
			return nil
		})
		// purged since the query
		if errors.Is(err, process.ErrUnknownInstance) {
			continue
		}
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
	}
	writeJson(w, r, http.StatusOK, res)
}

func (s *Server) GetInstance(w http.ResponseWriter, r *http.Request) {
	var res InstanceDto
	err := s.engine.InspectInstance(r.Context(), chi.URLParam(r, "instanceId"), func(pi *runtime.ProcessInstance) error {
		res = encodeInstance(pi)
		return nil
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, r, http.StatusOK, res)
}

func (s *Server) GetCurrentElement(w http.ResponseWriter, r *http.Request) {
	s.writeCurrentElement(w, r)
}

func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	var res HistoryDto
	err := s.engine.InspectInstance(r.Context(), chi.URLParam(r, "instanceId"), func(pi *runtime.ProcessInstance) error {
		res = encodeHistory(pi)
		return nil
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, r, http.StatusOK, res)
}

// StepForward moves to the successor named by the elementId query parameter, or
// to the only successor when it is missing.
func (s *Server) StepForward(w http.ResponseWriter, r *http.Request) {
	_, err := s.engine.StepForward(r.Context(), chi.URLParam(r, "instanceId"), r.URL.Query().Get("elementId"))
	if !tolerated(r, err) {
		writeEngineError(w, r, err)
		return
	}
	s.writeCurrentElement(w, r)
}

func (s *Server) StepBackward(w http.ResponseWriter, r *http.Request) {
	_, err := s.engine.StepBackward(r.Context(), chi.URLParam(r, "instanceId"))
	if !tolerated(r, err) {
		writeEngineError(w, r, err)
		return
	}
	s.writeCurrentElement(w, r)
}

// EnterSubprocess starts the process called by the current element and returns
// the new instance.
func (s *Server) EnterSubprocess(w http.ResponseWriter, r *http.Request) {
	callee, err := s.engine.EnterSubprocess(r.Context(), chi.URLParam(r, "instanceId"))
	if callee == nil || !tolerated(r, err) {
		writeEngineError(w, r, err)
		return
	}
	var res InstanceDto
	err = s.engine.InspectInstance(r.Context(), callee.Id, func(pi *runtime.ProcessInstance) error {
		res = encodeInstance(pi)
		return nil
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, r, http.StatusCreated, res)
}

func (s *Server) Terminate(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Terminate(r.Context(), chi.URLParam(r, "instanceId")); !tolerated(r, err) {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeCurrentElement(w http.ResponseWriter, r *http.Request) {
	var res ElementInstanceDto
	err := s.engine.InspectInstance(r.Context(), chi.URLParam(r, "instanceId"), func(pi *runtime.ProcessInstance) error {
		res = encodeElementInstance(pi, pi.CurrentState())
		return nil
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJson(w, r, http.StatusOK, res)
}
