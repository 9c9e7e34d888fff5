package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pbinitiative/zenstep/internal/appcontext"
	"github.com/pbinitiative/zenstep/internal/log"
	"github.com/pbinitiative/zenstep/pkg/process"
	"github.com/pbinitiative/zenstep/pkg/process/event"
)

type EventAccepted struct {
	Id string `json:"id"`
}

// PublishEvent hands an inbound event to the engine. Failing annotations are
// logged, the event is still accepted.
func (s *Server) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var content map[string]any
	if err := json.NewDecoder(r.Body).Decode(&content); err != nil {
		writeError(w, r, http.StatusBadRequest, ApiError{
			Code:    CodeBadRequest,
			Message: err.Error(),
		})
		return
	}
	evt, err := event.Parse(content)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if sessionId, ok := appcontext.SessionIdFromContext(r.Context()); ok && evt.SessionId == "" {
		evt.SessionId = sessionId
	}
	err = s.engine.HandleEvent(r.Context(), evt)
	var engineErr *process.EngineError
	if errors.As(err, &engineErr) {
		writeEngineError(w, r, err)
		return
	}
	if err != nil {
		log.Warnf(r.Context(), "event %s (%s) partially handled: %s", evt.Id, evt.ModelId, err)
	}
	writeJson(w, r, http.StatusAccepted, EventAccepted{Id: evt.Id})
}

// GetRecordedEvents lists the most recent outbound events, optionally only
// those with the modelId of the query.
func (s *Server) GetRecordedEvents(w http.ResponseWriter, r *http.Request) {
	var events []event.Event
	if modelId := r.URL.Query().Get("modelId"); modelId != "" {
		events = s.recorder.EventsOf(modelId)
	} else {
		events = s.recorder.Events()
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJson(w, r, http.StatusOK, events)
}
