// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import (
	"fmt"
	"time"

	"github.com/pbinitiative/zenstep/pkg/process/model"
)

// ProcessInstance is one execution of a Definition.
//
// A ProcessInstance is not safe for concurrent use, callers must serialize all
// operations on one instance. Listeners are notified synchronously and must not
// step the instance they are notified for.
type ProcessInstance struct {
	Id         string
	Definition *model.Definition
	UserId     string
	SessionId  string
	// ParentId is the id of the calling instance, empty for top level instances.
	ParentId     string
	CreatedAt    time.Time
	TerminatedAt time.Time

	VariableHolder VariableHolder

	current   *ElementInstance
	history   []*ElementInstance
	records   []*ElementInstance
	state     InstanceState
	started   bool
	notifying bool

	listeners  []registeredListener
	nextHandle ListenerHandle

	clock      func() time.Time
	subprocess SubprocessFactory
}

type InstanceOption = func(*ProcessInstance)

func InstanceWithUser(userId string) InstanceOption {
	return func(pi *ProcessInstance) { pi.UserId = userId }
}

func InstanceWithSession(sessionId string) InstanceOption {
	return func(pi *ProcessInstance) { pi.SessionId = sessionId }
}

func InstanceWithParent(parentId string) InstanceOption {
	return func(pi *ProcessInstance) { pi.ParentId = parentId }
}

// InstanceWithVariables seeds the context. processInstanceId and elementId are always overwritten.
func InstanceWithVariables(variables map[string]any) InstanceOption {
	return func(pi *ProcessInstance) { pi.VariableHolder.SetLocalVariables(variables) }
}

func InstanceWithClock(clock func() time.Time) InstanceOption {
	return func(pi *ProcessInstance) { pi.clock = clock }
}

func InstanceWithSubprocessFactory(factory SubprocessFactory) InstanceOption {
	return func(pi *ProcessInstance) { pi.subprocess = factory }
}

// NewProcessInstance creates a running instance positioned on the start element.
// No listener is notified before Start is called.
func NewProcessInstance(id string, definition *model.Definition, options ...InstanceOption) *ProcessInstance {
	pi := &ProcessInstance{
		Id:             id,
		Definition:     definition,
		VariableHolder: NewVariableHolder(nil),
		state:          InstanceStateRunning,
		clock:          time.Now,
	}
	for _, option := range options {
		option(pi)
	}
	pi.CreatedAt = pi.clock()
	pi.VariableHolder.SetLocalVariable(ContextProcessInstanceId, id)
	start := pi.newElementInstance(definition.StartElement(), nil, stepOptions{})
	start.Start = pi.CreatedAt
	pi.current = start
	pi.VariableHolder.SetLocalVariable(ContextElementId, start.Element.Id)
	return pi
}

func (pi *ProcessInstance) newElementInstance(element *model.Element, predecessor *ElementInstance, opts stepOptions) *ElementInstance {
	ei := &ElementInstance{
		InstanceId:     pi.Id,
		Seq:            len(pi.records),
		Element:        element,
		PredecessorSeq: NoPredecessor,
		Start:          pi.clock(),
		Trigger:        opts.trigger,
	}
	if predecessor != nil {
		ei.PredecessorSeq = predecessor.Seq
	}
	pi.records = append(pi.records, ei)
	return ei
}

func (pi *ProcessInstance) IsRunning() bool {
	return pi.state == InstanceStateRunning
}

func (pi *ProcessInstance) State() InstanceState {
	return pi.state
}

// Started reports whether Start was called.
func (pi *ProcessInstance) Started() bool {
	return pi.started
}

// CurrentState returns the active element instance. After termination it stays
// frozen at the element the instance was terminated on.
func (pi *ProcessInstance) CurrentState() *ElementInstance {
	return pi.current
}

// CurrentElement is a shortcut for CurrentState().Element.
func (pi *ProcessInstance) CurrentElement() *model.Element {
	if pi.current == nil {
		return nil
	}
	return pi.current.Element
}

// History returns the previous element instances, most recent first.
func (pi *ProcessInstance) History() []*ElementInstance {
	res := make([]*ElementInstance, len(pi.history))
	copy(res, pi.history)
	return res
}

// Predecessor resolves the predecessor link of ei.
func (pi *ProcessInstance) Predecessor(ei *ElementInstance) *ElementInstance {
	if ei == nil || ei.InstanceId != pi.Id || !ei.HasPredecessor() || ei.PredecessorSeq >= len(pi.records) {
		return nil
	}
	return pi.records[ei.PredecessorSeq]
}

// Context returns a copy of the instance context.
func (pi *ProcessInstance) Context() map[string]any {
	return pi.VariableHolder.LocalVariables()
}

// ReachedEnd reports whether the current element is an end event.
func (pi *ProcessInstance) ReachedEnd() bool {
	return pi.current != nil && pi.current.Element.Type == model.ElementTypeEndEvent
}

// AddListener registers l. Listeners are notified in registration order.
func (pi *ProcessInstance) AddListener(l Listener) ListenerHandle {
	pi.nextHandle++
	pi.listeners = append(pi.listeners, registeredListener{handle: pi.nextHandle, listener: l})
	return pi.nextHandle
}

func (pi *ProcessInstance) RemoveListener(h ListenerHandle) {
	for i, l := range pi.listeners {
		if l.handle == h {
			pi.listeners = append(pi.listeners[:i:i], pi.listeners[i+1:]...)
			return
		}
	}
}

func (pi *ProcessInstance) checkMutable() error {
	if pi.notifying {
		return fmt.Errorf("%w: instance %s", ErrReentrantStep, pi.Id)
	}
	if !pi.IsRunning() {
		return fmt.Errorf("%w: instance %s", ErrInstanceTerminated, pi.Id)
	}
	return nil
}

// Start notifies listeners about the start element. It is a no-op when already started.
func (pi *ProcessInstance) Start() error {
	if err := pi.checkMutable(); err != nil {
		return err
	}
	if pi.started {
		return nil
	}
	pi.started = true
	pi.notifyTransition(nil, pi.current)
	return nil
}

// StepForward advances to the only successor of the current element.
// On a terminal element it is a no-op that returns the current element instance.
func (pi *ProcessInstance) StepForward(options ...StepOption) (*ElementInstance, error) {
	if err := pi.checkMutable(); err != nil {
		return nil, err
	}
	successors, err := pi.Definition.Successors(pi.current.Element)
	if err != nil {
		return nil, err
	}
	switch len(successors) {
	case 0:
		return pi.current, nil
	case 1:
		return pi.advance(successors[0], options), nil
	default:
		return nil, fmt.Errorf("%w: %s has %d successors in instance %s", ErrAmbiguousFlow, pi.current.Element.Id, len(successors), pi.Id)
	}
}

// StepForwardTo advances to the named successor of the current element.
func (pi *ProcessInstance) StepForwardTo(elementId string, options ...StepOption) (*ElementInstance, error) {
	if err := pi.checkMutable(); err != nil {
		return nil, err
	}
	successors, err := pi.Definition.Successors(pi.current.Element)
	if err != nil {
		return nil, err
	}
	for _, s := range successors {
		if s.Id == elementId {
			return pi.advance(s, options), nil
		}
	}
	return nil, fmt.Errorf("%w: %s does not follow %s in instance %s", ErrUnknownSuccessor, elementId, pi.current.Element.Id, pi.Id)
}

func (pi *ProcessInstance) advance(target *model.Element, options []StepOption) *ElementInstance {
	opts := stepOptions{}
	for _, o := range options {
		o(&opts)
	}
	old := pi.current
	pi.close(old)
	next := pi.newElementInstance(target, old, opts)
	pi.changeState(old, next)
	return next
}

// StepBackward makes the predecessor of the current element instance current again.
// The abandoned element instance is closed and kept in the history.
func (pi *ProcessInstance) StepBackward() (*ElementInstance, error) {
	if err := pi.checkMutable(); err != nil {
		return nil, err
	}
	previous := pi.Predecessor(pi.current)
	if previous == nil {
		return nil, fmt.Errorf("%w: %s is the first element of instance %s", ErrNoPredecessor, pi.current.Element.Id, pi.Id)
	}
	old := pi.current
	pi.close(old)
	pi.changeState(old, previous)
	return previous, nil
}

func (pi *ProcessInstance) close(ei *ElementInstance) {
	if !ei.Ended() {
		ei.End = pi.clock()
	}
	pi.history = append([]*ElementInstance{ei}, pi.history...)
}

func (pi *ProcessInstance) changeState(old *ElementInstance, next *ElementInstance) {
	pi.current = next
	pi.VariableHolder.SetLocalVariable(ContextElementId, next.Element.Id)
	pi.notifyTransition(old, next)
}

// notifyTransition informs every listener, stepPerformed first and the specific
// notification for the entered element second.
func (pi *ProcessInstance) notifyTransition(old *ElementInstance, next *ElementInstance) {
	defer pi.markNotifying()()
	for _, rl := range pi.snapshotListeners() {
		l := rl.listener
		if l.StepPerformed != nil {
			l.StepPerformed(pi, old, next)
		}
		element := next.Element
		switch element.Type {
		case model.ElementTypeStartEvent:
			if old == nil && l.Start != nil {
				l.Start(pi)
			}
		case model.ElementTypeEndEvent:
			if element.IsErrorEnd() {
				if l.Error != nil {
					l.Error(pi, element, element.ErrorCode(), element.ErrorMessage())
				}
			} else if l.End != nil {
				l.End(pi)
			}
		}
	}
}

// markNotifying flags the instance as notifying and returns the function restoring the previous flag.
func (pi *ProcessInstance) markNotifying() func() {
	previous := pi.notifying
	pi.notifying = true
	return func() { pi.notifying = previous }
}

func (pi *ProcessInstance) snapshotListeners() []registeredListener {
	res := make([]registeredListener, len(pi.listeners))
	copy(res, pi.listeners)
	return res
}

// EnterSubprocess instantiates the process called by the current element with this
// instance as parent and notifies activityCalled.
func (pi *ProcessInstance) EnterSubprocess() (*ProcessInstance, error) {
	if err := pi.checkMutable(); err != nil {
		return nil, err
	}
	caller := pi.current.Element
	if !caller.IsCallable() {
		return nil, fmt.Errorf("%w: %s (%s) in instance %s", ErrNotCallable, caller.Id, caller.Type, pi.Id)
	}
	if pi.subprocess == nil {
		return nil, fmt.Errorf("%w: no subprocess factory for instance %s", ErrNotCallable, pi.Id)
	}
	callee, err := pi.subprocess(pi, caller)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate %s called by %s: %w", caller.CalledProcess, caller.Id, err)
	}
	defer pi.markNotifying()()
	for _, rl := range pi.snapshotListeners() {
		if rl.listener.ActivityCalled != nil {
			rl.listener.ActivityCalled(pi, caller, callee)
		}
	}
	return callee, nil
}

// Terminate stops the instance permanently. Only the first call notifies cancel.
func (pi *ProcessInstance) Terminate() {
	if !pi.IsRunning() {
		return
	}
	pi.state = InstanceStateTerminated
	pi.TerminatedAt = pi.clock()
	if pi.current != nil && !pi.current.Ended() {
		pi.current.End = pi.TerminatedAt
	}
	defer pi.markNotifying()()
	for _, rl := range pi.snapshotListeners() {
		if rl.listener.Cancel != nil {
			rl.listener.Cancel(pi)
		}
	}
}

// ReportError notifies listeners about an error on element. It does not change the state.
func (pi *ProcessInstance) ReportError(element *model.Element, code int, message string) {
	defer pi.markNotifying()()
	for _, rl := range pi.snapshotListeners() {
		if rl.listener.Error != nil {
			rl.listener.Error(pi, element, code, message)
		}
	}
}
