package model

import "fmt"

type EventAnnotationType string

const (
	EventAnnotationStart EventAnnotationType = "onStart"
	EventAnnotationEnd   EventAnnotationType = "onEnd"
)

func ParseEventAnnotationType(s string) (EventAnnotationType, error) {
	switch EventAnnotationType(s) {
	case EventAnnotationStart, EventAnnotationEnd:
		return EventAnnotationType(s), nil
	default:
		return "", fmt.Errorf("%w: unknown event annotation type %q", ErrInvalidAnnotation, s)
	}
}

type ServiceCallType string

const (
	ServiceCallStart   ServiceCallType = "onStart"
	ServiceCallEnd     ServiceCallType = "onEnd"
	ServiceCallTrigger ServiceCallType = "onTrigger"
)

func ParseServiceCallType(s string) (ServiceCallType, error) {
	switch ServiceCallType(s) {
	case ServiceCallStart, ServiceCallEnd, ServiceCallTrigger:
		return ServiceCallType(s), nil
	default:
		return "", fmt.Errorf("%w: unknown service call type %q", ErrInvalidAnnotation, s)
	}
}

// Annotations hold the behavioural metadata of a definition or an element.
type Annotations struct {
	LocalData    map[string]any
	Events       []EventAnnotation
	ServiceCalls []ServiceCallAnnotation
	Triggers     []TriggerAnnotation
}

// EventAnnotation fires an event when the owner starts or ends.
// Properties is a reference template materialized at fire time.
type EventAnnotation struct {
	EventId    string
	Type       EventAnnotationType
	Properties map[string]any
}

// ServiceCallAnnotation describes an external service invocation.
type ServiceCallAnnotation struct {
	Service         string
	Method          string
	Type            ServiceCallType
	OutputReference string
	// InputMapping maps parameter names to store variable names.
	InputMapping map[string]string
	// OutputMapping maps result fields to context variable names.
	OutputMapping map[string]string
	// Trigger gates the call, only set for ServiceCallTrigger.
	Trigger *TriggerAnnotation
}

// TriggerAnnotation gates an action on an inbound event.
type TriggerAnnotation struct {
	EventId    string
	References map[string]any
}

func (a Annotations) EventsOfType(t EventAnnotationType) []EventAnnotation {
	var res []EventAnnotation
	for _, e := range a.Events {
		if e.Type == t {
			res = append(res, e)
		}
	}
	return res
}

func (a Annotations) ServiceCallsOfType(t ServiceCallType) []ServiceCallAnnotation {
	var res []ServiceCallAnnotation
	for _, sc := range a.ServiceCalls {
		if sc.Type == t {
			res = append(res, sc)
		}
	}
	return res
}

func (a Annotations) validate() error {
	for _, e := range a.Events {
		if e.EventId == "" {
			return fmt.Errorf("%w: event annotation without eventId", ErrInvalidAnnotation)
		}
		if _, err := ParseEventAnnotationType(string(e.Type)); err != nil {
			return err
		}
	}
	for _, sc := range a.ServiceCalls {
		if sc.Service == "" || sc.Method == "" {
			return fmt.Errorf("%w: service call requires service and method", ErrInvalidAnnotation)
		}
		if _, err := ParseServiceCallType(string(sc.Type)); err != nil {
			return err
		}
		if sc.Type == ServiceCallTrigger && sc.Trigger == nil {
			return fmt.Errorf("%w: %s/%s: onTrigger service call requires a trigger", ErrInvalidAnnotation, sc.Service, sc.Method)
		}
		if sc.Type != ServiceCallTrigger && sc.Trigger != nil {
			return fmt.Errorf("%w: %s/%s: only onTrigger service calls carry a trigger", ErrInvalidAnnotation, sc.Service, sc.Method)
		}
	}
	for _, t := range a.Triggers {
		if t.EventId == "" {
			return fmt.Errorf("%w: trigger without eventId", ErrInvalidAnnotation)
		}
	}
	return nil
}

// clone copies the annotation set so the owner cannot be changed through the caller's maps.
func (a Annotations) clone() Annotations {
	res := Annotations{
		LocalData: cloneMap(a.LocalData),
	}
	if res.LocalData == nil {
		res.LocalData = map[string]any{}
	}
	for _, e := range a.Events {
		e.Properties = cloneMap(e.Properties)
		res.Events = append(res.Events, e)
	}
	for _, sc := range a.ServiceCalls {
		sc.InputMapping = cloneStringMap(sc.InputMapping)
		sc.OutputMapping = cloneStringMap(sc.OutputMapping)
		if sc.Trigger != nil {
			t := sc.Trigger.clone()
			sc.Trigger = &t
		}
		res.ServiceCalls = append(res.ServiceCalls, sc)
	}
	for _, t := range a.Triggers {
		res.Triggers = append(res.Triggers, t.clone())
	}
	return res
}

func (t TriggerAnnotation) clone() TriggerAnnotation {
	return TriggerAnnotation{EventId: t.EventId, References: cloneMap(t.References)}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	res := make(map[string]any, len(m))
	for k, v := range m {
		res[k] = cloneValue(v)
	}
	return res
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return cloneMap(tv)
	case []any:
		res := make([]any, len(tv))
		for i, e := range tv {
			res[i] = cloneValue(e)
		}
		return res
	default:
		return v
	}
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	res := make(map[string]string, len(m))
	for k, v := range m {
		res[k] = v
	}
	return res
}
