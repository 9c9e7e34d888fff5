package process

import (
	"context"
	"errors"

	"github.com/pbinitiative/zenstep/pkg/process/event"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
)

// command is one unit of work of the engine loop. Each command is executed while
// holding the lock of the instance returned by target.
type command interface {
	target() string
}

// anySeq disables the staleness check of step commands.
const anySeq = -1

// ---------------------------------------------------------------------

type startInstanceCommand struct {
	instanceId string
}

func (c startInstanceCommand) target() string { return c.instanceId }

// ---------------------------------------------------------------------

// stepForwardCommand moves the instance off its current element. Follow-up steps
// carry the sequence number of the element they were issued for and are skipped
// when the instance moved on in the meantime.
type stepForwardCommand struct {
	instanceId string
	elementId  string
	fromSeq    int
	trigger    *event.Event
}

func (c stepForwardCommand) target() string { return c.instanceId }

// ---------------------------------------------------------------------

type stepBackwardCommand struct {
	instanceId string
}

func (c stepBackwardCommand) target() string { return c.instanceId }

// ---------------------------------------------------------------------

type enterSubprocessCommand struct {
	instanceId string
	fromSeq    int
	callee     *runtime.ProcessInstance
}

func (c *enterSubprocessCommand) target() string { return c.instanceId }

// ---------------------------------------------------------------------

type terminateCommand struct {
	instanceId string
	finished   bool
}

func (c terminateCommand) target() string { return c.instanceId }

// ---------------------------------------------------------------------

// childCompletedCommand continues the parent of a completed call.
type childCompletedCommand struct {
	parentId      string
	childId       string
	calledProcess string
}

func (c childCompletedCommand) target() string { return c.parentId }

// ---------------------------------------------------------------------

type handleEventCommand struct {
	instanceId string
	event      event.Event
}

func (c handleEventCommand) target() string { return c.instanceId }

// ---------------------------------------------------------------------

type writeBackCommand struct {
	instanceId string
	variables  map[string]any
}

func (c writeBackCommand) target() string { return c.instanceId }

// ---------------------------------------------------------------------

type reportErrorCommand struct {
	instanceId string
	elementId  string
	code       int
	message    string
}

func (c reportErrorCommand) target() string { return c.instanceId }

// ---------------------------------------------------------------------

// execution is the state of one run of the engine loop.
type execution struct {
	ctx      context.Context
	queue    []command
	err      error
	detached bool
}

func (x *execution) enqueue(cmds ...command) {
	x.queue = append(x.queue, cmds...)
}

func (x *execution) fail(err error) {
	if err != nil {
		x.err = errors.Join(x.err, err)
	}
}
