// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package model

import "strings"

type ElementType string

const (
	ElementTypeStartEvent        ElementType = "startEvent"
	ElementTypeEndEvent          ElementType = "endEvent"
	ElementTypeUserTask          ElementType = "userTask"
	ElementTypeManualTask        ElementType = "manualTask"
	ElementTypeServiceTask       ElementType = "serviceTask"
	ElementTypeExclusiveGateway  ElementType = "exclusiveGateway"
	ElementTypeIntermediateEvent ElementType = "intermediateEvent"
	ElementTypeCallActivity      ElementType = "callActivity"
	ElementTypeUnknown           ElementType = "unknown"
)

var elementTypes = []ElementType{
	ElementTypeStartEvent,
	ElementTypeEndEvent,
	ElementTypeUserTask,
	ElementTypeManualTask,
	ElementTypeServiceTask,
	ElementTypeExclusiveGateway,
	ElementTypeIntermediateEvent,
	ElementTypeCallActivity,
}

// ParseElementType maps a notation tag to an ElementType, case-insensitive.
// Unrecognized tags yield ElementTypeUnknown.
func ParseElementType(s string) ElementType {
	for _, t := range elementTypes {
		if strings.EqualFold(string(t), s) {
			return t
		}
	}
	return ElementTypeUnknown
}

// IsTask reports whether elements of this type represent work carried out by a user, an operator or a service.
func (t ElementType) IsTask() bool {
	switch t {
	case ElementTypeUserTask, ElementTypeManualTask, ElementTypeServiceTask:
		return true
	default:
		return false
	}
}

// ErrorDefinition marks an end event as an error end.
// A zero Code is reported as DefaultErrorCode.
type ErrorDefinition struct {
	Code    int
	Message string
}

const DefaultErrorCode = 500

// ResponseOption is one selectable branch of an exclusive gateway.
type ResponseOption struct {
	Display string `json:"display"`
	Target  string `json:"target"`
}

const (
	LocalDataRequestMessage  = "requestMessage"
	LocalDataResponseOptions = "responseOptions"
)

// Element is a single node of a Definition. The Type tag decides which of the
// type specific fields carry meaning.
type Element struct {
	Id          string
	Label       string
	Description string
	Type        ElementType
	Annotations Annotations

	// CalledProcess is the definition id instantiated by a call activity.
	CalledProcess string
	// Error is set only on error end events.
	Error *ErrorDefinition
}

func (e *Element) GetId() string {
	return e.Id
}

func (e *Element) GetType() ElementType {
	return e.Type
}

// IsCallable reports whether the element names a process to call.
func (e *Element) IsCallable() bool {
	return e.Type == ElementTypeCallActivity && e.CalledProcess != ""
}

func (e *Element) IsErrorEnd() bool {
	return e.Type == ElementTypeEndEvent && e.Error != nil
}

// ErrorCode returns the code reported when an error end is reached.
func (e *Element) ErrorCode() int {
	if e.Error == nil || e.Error.Code == 0 {
		return DefaultErrorCode
	}
	return e.Error.Code
}

// ErrorMessage returns the message reported when an error end is reached, falling back to the label.
func (e *Element) ErrorMessage() string {
	if e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return e.Label
}

// RequestMessage is the prompt shown for an exclusive gateway.
func (e *Element) RequestMessage() string {
	if msg, ok := e.Annotations.LocalData[LocalDataRequestMessage].(string); ok && msg != "" {
		return msg
	}
	return e.Label
}

// ResponseOptions lists the gateway branches in declaration order.
// Malformed entries are skipped.
func (e *Element) ResponseOptions() []ResponseOption {
	raw, ok := e.Annotations.LocalData[LocalDataResponseOptions].([]any)
	if !ok {
		return nil
	}
	options := make([]ResponseOption, 0, len(raw))
	for _, o := range raw {
		m, ok := o.(map[string]any)
		if !ok {
			continue
		}
		display, _ := m["display"].(string)
		target, _ := m["target"].(string)
		if target == "" {
			continue
		}
		options = append(options, ResponseOption{Display: display, Target: target})
	}
	return options
}

// ResponseTarget returns the target element id selected by response.
func (e *Element) ResponseTarget(response string) (string, bool) {
	for _, o := range e.ResponseOptions() {
		if o.Display == response {
			return o.Target, true
		}
	}
	return "", false
}
