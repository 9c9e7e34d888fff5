package runtime

import (
	"errors"
	"time"

	"github.com/pbinitiative/zenstep/pkg/process/event"
	"github.com/pbinitiative/zenstep/pkg/process/model"
)

var (
	ErrAmbiguousFlow      = errors.New("runtime: ambiguous flow")
	ErrUnknownSuccessor   = errors.New("runtime: unknown successor")
	ErrNoPredecessor      = errors.New("runtime: no predecessor")
	ErrNotCallable        = errors.New("runtime: element is not callable")
	ErrInstanceTerminated = errors.New("runtime: instance terminated")
	ErrReentrantStep      = errors.New("runtime: step requested while listeners are notified")
)

type InstanceState string

const (
	InstanceStateRunning    InstanceState = "RUNNING"
	InstanceStateTerminated InstanceState = "TERMINATED"
)

const (
	ContextProcessInstanceId = "processInstanceId"
	ContextElementId         = "elementId"
)

// NoPredecessor is the PredecessorSeq of the first element instance.
const NoPredecessor = -1

// ElementInstance records one visit of an element. Links to the owning instance and
// to the predecessor are ids, resolve them through ProcessInstance.Predecessor.
// Only End is ever set after creation.
type ElementInstance struct {
	InstanceId     string
	Seq            int
	Element        *model.Element
	PredecessorSeq int
	Start          time.Time
	End            time.Time
	// Trigger is the event that caused the step, nil when stepped programmatically.
	Trigger *event.Event
}

func (ei *ElementInstance) HasPredecessor() bool {
	return ei.PredecessorSeq != NoPredecessor
}

func (ei *ElementInstance) Ended() bool {
	return !ei.End.IsZero()
}

// Listener receives the notifications of one process instance. Nil callbacks are skipped.
type Listener struct {
	Start         func(pi *ProcessInstance)
	End           func(pi *ProcessInstance)
	Cancel        func(pi *ProcessInstance)
	Error         func(pi *ProcessInstance, element *model.Element, code int, message string)
	StepPerformed func(pi *ProcessInstance, old *ElementInstance, new *ElementInstance)
	// ActivityCalled is notified after a subprocess was instantiated for caller.
	ActivityCalled func(pi *ProcessInstance, caller *model.Element, callee *ProcessInstance)
}

type ListenerHandle int

type registeredListener struct {
	handle   ListenerHandle
	listener Listener
}

// SubprocessFactory creates the callee instance of a call activity. The callee's
// parent must be set to parent.
type SubprocessFactory func(parent *ProcessInstance, caller *model.Element) (*ProcessInstance, error)

type StepOption func(*stepOptions)

type stepOptions struct {
	trigger *event.Event
}

// WithTrigger records evt as the cause of the step.
func WithTrigger(evt event.Event) StepOption {
	return func(o *stepOptions) {
		o.trigger = &evt
	}
}
