// Package event defines the events consumed and produced by the process engine.
package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidEvent = errors.New("event: invalid event")

type Type string

const (
	TypeUser    Type = "USER"
	TypeService Type = "SERVICE"
	TypeMachine Type = "MACHINE"
	TypeUnknown Type = "UNKNOWN"
)

// Model ids of the lifecycle events published by the engine.
const (
	ModelProcessStart     = "processEvent:processStart"
	ModelProcessComplete  = "processEvent:processComplete"
	ModelProcessCancelled = "processEvent:processCancelled"
	ModelProcessError     = "processEvent:processError"
	ModelCallActivity     = "processEvent:callActivity"
	ModelUserTask         = "processEvent:userTask"
	ModelManualTask       = "processEvent:manualTask"
	ModelServiceTask      = "processEvent:serviceTask"
	ModelUserRequest      = "processEvent:userRequest"
)

// Event is a decoded inbound or outbound event. ModelId selects the payload schema.
type Event struct {
	Id        string         `json:"id"`
	ModelId   string         `json:"modelId"`
	Type      Type           `json:"type,omitempty"`
	Payload   map[string]any `json:"payload"`
	SessionId string         `json:"session,omitempty"`
	UserId    string         `json:"userId,omitempty"`
	Created   time.Time      `json:"created"`
	Expires   *time.Time     `json:"expires,omitempty"`
}

// New creates an event with a random id.
func New(modelId string, t Type, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		Id:      uuid.NewString(),
		ModelId: modelId,
		Type:    t,
		Payload: payload,
		Created: time.Now().UTC(),
	}
}

// Parse decodes the generic representation produced by AsMap.
// A missing id is generated, a missing modelId is an error.
func Parse(content map[string]any) (Event, error) {
	modelId, _ := content["modelId"].(string)
	if modelId == "" {
		return Event{}, fmt.Errorf("%w: modelId is missing", ErrInvalidEvent)
	}
	e := Event{
		ModelId: modelId,
		Type:    TypeUnknown,
		Payload: map[string]any{},
		Created: time.Now().UTC(),
	}
	e.Id, _ = content["id"].(string)
	if e.Id == "" {
		e.Id = uuid.NewString()
	}
	if t, ok := content["type"].(string); ok && t != "" {
		e.Type = Type(t)
	}
	if raw, ok := content["payload"]; ok && raw != nil {
		payload, ok := raw.(map[string]any)
		if !ok {
			return Event{}, fmt.Errorf("%w: payload of %s is not an object", ErrInvalidEvent, modelId)
		}
		e.Payload = payload
	}
	e.SessionId, _ = content["session"].(string)
	if e.SessionId == "" {
		e.SessionId, _ = content["sessionId"].(string)
	}
	e.UserId, _ = content["userId"].(string)
	if created, ok := content["created"].(string); ok && created != "" {
		ts, err := time.Parse(time.RFC3339, created)
		if err != nil {
			return Event{}, fmt.Errorf("%w: created: %w", ErrInvalidEvent, err)
		}
		e.Created = ts
	}
	if expires, ok := content["expires"].(string); ok && expires != "" {
		ts, err := time.Parse(time.RFC3339, expires)
		if err != nil {
			return Event{}, fmt.Errorf("%w: expires: %w", ErrInvalidEvent, err)
		}
		e.Expires = &ts
	}
	return e, nil
}

func (e Event) AsMap() map[string]any {
	res := map[string]any{
		"id":      e.Id,
		"modelId": e.ModelId,
		"payload": e.Payload,
		"created": e.Created.Format(time.RFC3339),
	}
	if e.Type != "" {
		res["type"] = string(e.Type)
	}
	if e.SessionId != "" {
		res["session"] = e.SessionId
	}
	if e.UserId != "" {
		res["userId"] = e.UserId
	}
	if e.Expires != nil {
		res["expires"] = e.Expires.Format(time.RFC3339)
	}
	return res
}

// Expired reports whether the event expired before now.
func (e Event) Expired(now time.Time) bool {
	return e.Expires != nil && e.Expires.Before(now)
}

// UserIdOrPayload returns the event's user id, falling back to the payload field userId.
func (e Event) UserIdOrPayload() string {
	if e.UserId != "" {
		return e.UserId
	}
	userId, _ := e.Payload["userId"].(string)
	return userId
}
