package exporter

import (
	"sync"

	"github.com/pbinitiative/zenstep/pkg/process/event"
)

// Recorder keeps everything it receives in memory. It is used by tests and by
// the REST API to expose the most recent outbound events.
type Recorder struct {
	mu        sync.Mutex
	limit     int
	processes []ProcessEvent
	elements  []ElementInfo
	events    []event.Event
}

// NewRecorder keeps at most limit entries of each kind, zero keeps everything.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

var _ EventExporter = &Recorder{}

func (r *Recorder) NewProcessEvent(evt *ProcessEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes = trim(append(r.processes, *evt), r.limit)
}

func (r *Recorder) NewElementEvent(evt *ProcessInstanceEvent, info *ElementInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.elements = trim(append(r.elements, *info), r.limit)
}

func (r *Recorder) PublishEvent(evt *event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = trim(append(r.events, *evt), r.limit)
}

func (r *Recorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

// EventsOf returns the recorded events with the given model id.
func (r *Recorder) EventsOf(modelId string) []event.Event {
	var res []event.Event
	for _, e := range r.Events() {
		if e.ModelId == modelId {
			res = append(res, e)
		}
	}
	return res
}

func (r *Recorder) ModelIds() []string {
	var res []string
	for _, e := range r.Events() {
		res = append(res, e.ModelId)
	}
	return res
}

func (r *Recorder) Elements() []ElementInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ElementInfo(nil), r.elements...)
}

func (r *Recorder) Processes() []ProcessEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProcessEvent(nil), r.processes...)
}

func trim[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}
