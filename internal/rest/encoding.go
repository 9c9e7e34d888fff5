package rest

import (
	"time"

	"github.com/pbinitiative/zenstep/pkg/process/event"
	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
)

type ProcessSummary struct {
	Id          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ProcessDetail struct {
	ProcessSummary
	LocalData    map[string]any   `json:"localData"`
	Triggers     []TriggerDto     `json:"triggers"`
	Events       []EventDto       `json:"events"`
	ServiceCalls []ServiceCallDto `json:"serviceCalls"`
	Elements     []ElementDto     `json:"elements"`
	Flows        []FlowDto        `json:"flows"`
}

type FlowDto struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type ElementDto struct {
	Id            string           `json:"id"`
	Label         string           `json:"label"`
	Description   string           `json:"description"`
	Type          string           `json:"type"`
	CalledProcess string           `json:"calledProcess,omitempty"`
	Error         *ErrorDto        `json:"error,omitempty"`
	LocalData     map[string]any   `json:"localData"`
	Triggers      []TriggerDto     `json:"triggers"`
	Events        []EventDto       `json:"events"`
	ServiceCalls  []ServiceCallDto `json:"serviceCalls"`
}

type ErrorDto struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type TriggerDto struct {
	EventId    string         `json:"eventId"`
	References map[string]any `json:"references"`
}

type EventDto struct {
	EventId    string         `json:"eventId"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

type ServiceCallDto struct {
	Service         string            `json:"service"`
	Method          string            `json:"method"`
	Type            string            `json:"type"`
	OutputReference string            `json:"outputReference,omitempty"`
	InputMapping    map[string]string `json:"inputMapping"`
	OutputMapping   map[string]string `json:"outputMapping"`
	Trigger         *TriggerDto       `json:"trigger,omitempty"`
}

type ElementInstanceDto struct {
	ProcessInstanceId string           `json:"processInstanceId"`
	Seq               int              `json:"seq"`
	Element           ElementDto       `json:"element"`
	PreviousElement   *ElementDto      `json:"previousElement,omitempty"`
	NextElements      []ElementDto     `json:"nextElements"`
	ExecutionInfo     ExecutionInfoDto `json:"executionInfo"`
}

type ExecutionInfoDto struct {
	Start   time.Time       `json:"start"`
	End     *time.Time      `json:"end,omitempty"`
	Trigger *TriggeredByDto `json:"trigger,omitempty"`
}

type TriggeredByDto struct {
	Id      string         `json:"id"`
	ModelId string         `json:"modelId"`
	Payload map[string]any `json:"payload"`
}

type InstanceDto struct {
	Id             string         `json:"id"`
	ProcessId      string         `json:"processId"`
	UserId         string         `json:"userId"`
	SessionId      string         `json:"sessionId"`
	ParentInstance string         `json:"parentInstance,omitempty"`
	Running        bool           `json:"running"`
	Context        map[string]any `json:"context"`
	CurrentElement string         `json:"currentElement"`
}

type HistoryDto struct {
	ProcessInstanceId string               `json:"processInstanceId"`
	History           []ElementInstanceDto `json:"history"`
}

func encodeProcessSummary(def *model.Definition) ProcessSummary {
	return ProcessSummary{
		Id:          def.Id,
		Name:        def.Name,
		Description: def.Description,
	}
}

func encodeProcessDetail(def *model.Definition) ProcessDetail {
	detail := ProcessDetail{
		ProcessSummary: encodeProcessSummary(def),
		LocalData:      nonNilMap(def.Annotations.LocalData),
		Triggers:       encodeTriggers(def.Annotations.Triggers),
		Events:         encodeEvents(def.Annotations.Events),
		ServiceCalls:   encodeServiceCalls(def.Annotations.ServiceCalls),
		Elements:       []ElementDto{},
		Flows:          []FlowDto{},
	}
	for _, element := range def.AllProcessElements() {
		detail.Elements = append(detail.Elements, encodeElement(element))
		successors, _ := def.Successors(element)
		for _, s := range successors {
			detail.Flows = append(detail.Flows, FlowDto{From: element.Id, To: s.Id})
		}
	}
	return detail
}

func encodeElements(elements []*model.Element) []ElementDto {
	res := make([]ElementDto, 0, len(elements))
	for _, e := range elements {
		res = append(res, encodeElement(e))
	}
	return res
}

func encodeElement(e *model.Element) ElementDto {
	dto := ElementDto{
		Id:            e.Id,
		Label:         e.Label,
		Description:   e.Description,
		Type:          string(e.Type),
		CalledProcess: e.CalledProcess,
		LocalData:     nonNilMap(e.Annotations.LocalData),
		Triggers:      encodeTriggers(e.Annotations.Triggers),
		Events:        encodeEvents(e.Annotations.Events),
		ServiceCalls:  encodeServiceCalls(e.Annotations.ServiceCalls),
	}
	if e.IsErrorEnd() {
		dto.Error = &ErrorDto{Code: e.ErrorCode(), Message: e.ErrorMessage()}
	}
	return dto
}

func encodeTrigger(t model.TriggerAnnotation) TriggerDto {
	return TriggerDto{EventId: t.EventId, References: nonNilMap(t.References)}
}

func encodeTriggers(triggers []model.TriggerAnnotation) []TriggerDto {
	res := make([]TriggerDto, 0, len(triggers))
	for _, t := range triggers {
		res = append(res, encodeTrigger(t))
	}
	return res
}

func encodeEvents(events []model.EventAnnotation) []EventDto {
	res := make([]EventDto, 0, len(events))
	for _, e := range events {
		res = append(res, EventDto{
			EventId:    e.EventId,
			Type:       string(e.Type),
			Properties: nonNilMap(e.Properties),
		})
	}
	return res
}

func encodeServiceCalls(calls []model.ServiceCallAnnotation) []ServiceCallDto {
	res := make([]ServiceCallDto, 0, len(calls))
	for _, sc := range calls {
		dto := ServiceCallDto{
			Service:         sc.Service,
			Method:          sc.Method,
			Type:            string(sc.Type),
			OutputReference: sc.OutputReference,
			InputMapping:    nonNilStringMap(sc.InputMapping),
			OutputMapping:   nonNilStringMap(sc.OutputMapping),
		}
		if sc.Trigger != nil {
			trigger := encodeTrigger(*sc.Trigger)
			dto.Trigger = &trigger
		}
		res = append(res, dto)
	}
	return res
}

// encodeElementInstance must be called with the instance locked.
func encodeElementInstance(pi *runtime.ProcessInstance, ei *runtime.ElementInstance) ElementInstanceDto {
	dto := ElementInstanceDto{
		ProcessInstanceId: pi.Id,
		Seq:               ei.Seq,
		Element:           encodeElement(ei.Element),
		NextElements:      []ElementDto{},
		ExecutionInfo: ExecutionInfoDto{
			Start: ei.Start,
		},
	}
	if previous := pi.Predecessor(ei); previous != nil {
		element := encodeElement(previous.Element)
		dto.PreviousElement = &element
	}
	if successors, err := pi.Definition.Successors(ei.Element); err == nil {
		dto.NextElements = encodeElements(successors)
	}
	if ei.Ended() {
		end := ei.End
		dto.ExecutionInfo.End = &end
	}
	if ei.Trigger != nil {
		dto.ExecutionInfo.Trigger = encodeTriggeredBy(*ei.Trigger)
	}
	return dto
}

func encodeTriggeredBy(evt event.Event) *TriggeredByDto {
	return &TriggeredByDto{
		Id:      evt.Id,
		ModelId: evt.ModelId,
		Payload: nonNilMap(evt.Payload),
	}
}

// encodeInstance must be called with the instance locked.
func encodeInstance(pi *runtime.ProcessInstance) InstanceDto {
	dto := InstanceDto{
		Id:             pi.Id,
		ProcessId:      pi.Definition.Id,
		UserId:         pi.UserId,
		SessionId:      pi.SessionId,
		ParentInstance: pi.ParentId,
		Running:        pi.IsRunning(),
		Context:        pi.Context(),
	}
	if element := pi.CurrentElement(); element != nil {
		dto.CurrentElement = element.Id
	}
	return dto
}

func encodeHistory(pi *runtime.ProcessInstance) HistoryDto {
	dto := HistoryDto{
		ProcessInstanceId: pi.Id,
		History:           []ElementInstanceDto{},
	}
	for _, ei := range pi.History() {
		dto.History = append(dto.History, encodeElementInstance(pi, ei))
	}
	return dto
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilStringMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
