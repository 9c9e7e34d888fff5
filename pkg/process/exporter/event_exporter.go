// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package exporter

import "github.com/pbinitiative/zenstep/pkg/process/event"

// EventExporter receives everything the engine emits. Exporters are called
// synchronously while the instance is locked and must not block.
type EventExporter interface {
	NewProcessEvent(event *ProcessEvent)
	NewElementEvent(event *ProcessInstanceEvent, elementInfo *ElementInfo)
	// PublishEvent hands over a lifecycle or annotation event for delivery.
	PublishEvent(evt *event.Event)
}

type Intent string

const (
	ProcessRegistered   Intent = "PROCESS_REGISTERED"
	ProcessUnregistered Intent = "PROCESS_UNREGISTERED"
	ElementActivated    Intent = "ELEMENT_ACTIVATED"
	ElementCompleted    Intent = "ELEMENT_COMPLETED"
)

type ProcessEvent struct {
	ProcessId    string
	Name         string
	ElementCount int
	Intent       Intent
}

type ProcessInstanceEvent struct {
	ProcessId         string
	ProcessInstanceId string
	ParentInstanceId  string
}

type ElementInfo struct {
	ElementType string
	ElementId   string
	Seq         int
	Intent      Intent // ELEMENT_ACTIVATED || ELEMENT_COMPLETED
}
