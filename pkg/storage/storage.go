package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
)

var (
	ErrNotFound      = errors.New("storage: not found")
	ErrAlreadyExists = errors.New("storage: already exists")
)

// Storage is the instance store handed to the engine.
//
// Methods that are expected to return exactly one match MUST return ErrNotFound when the result does not exist
type Storage interface {
	ProcessDefinitionStorageReader
	ProcessDefinitionStorageWriter
	ProcessInstanceStorageReader
	ProcessInstanceStorageWriter
}

type ProcessDefinitionStorageReader interface {
	FindProcessDefinitionById(ctx context.Context, processId string) (*model.Definition, error)

	// FindProcessDefinitions returns all registered definitions ordered by id
	FindProcessDefinitions(ctx context.Context) ([]*model.Definition, error)
}

type ProcessDefinitionStorageWriter interface {
	// SaveProcessDefinition stores a new definition, returns ErrAlreadyExists when the id is taken
	SaveProcessDefinition(ctx context.Context, definition *model.Definition) error

	DeleteProcessDefinition(ctx context.Context, processId string) error
}

type ProcessInstanceStorageReader interface {
	FindProcessInstanceById(ctx context.Context, processInstanceId string) (*runtime.ProcessInstance, error)

	// FindProcessInstances returns the instances accepted by filter, ordered by creation time
	FindProcessInstances(ctx context.Context, filter ProcessInstanceFilter) ([]*runtime.ProcessInstance, error)
}

type ProcessInstanceStorageWriter interface {
	// SaveProcessInstance inserts or replaces the instance with the same id
	SaveProcessInstance(ctx context.Context, processInstance *runtime.ProcessInstance) error

	DeleteProcessInstance(ctx context.Context, processInstanceId string) error

	// DeleteProcessInstancesTerminatedBefore removes terminated instances and returns how many were removed
	DeleteProcessInstancesTerminatedBefore(ctx context.Context, before time.Time) (int, error)
}

// ProcessInstanceFilter selects instances. Empty fields match everything.
type ProcessInstanceFilter struct {
	ProcessId string
	UserId    string
	SessionId string
	ParentId  string
	Running   *bool
}

// Matches checks the fields pi was created with, Running is checked by the store
// with MatchesRunning.
func (f ProcessInstanceFilter) Matches(pi *runtime.ProcessInstance) bool {
	if f.ProcessId != "" && pi.Definition.Id != f.ProcessId {
		return false
	}
	if f.UserId != "" && pi.UserId != f.UserId {
		return false
	}
	if f.SessionId != "" && pi.SessionId != f.SessionId {
		return false
	}
	if f.ParentId != "" && pi.ParentId != f.ParentId {
		return false
	}
	return true
}

// MatchesRunning reports whether an instance stored as running (or terminated)
// passes the Running filter. Stores track the state themselves, the state of the
// instance is guarded by the engine's instance lock.
func (f ProcessInstanceFilter) MatchesRunning(running bool) bool {
	return f.Running == nil || *f.Running == running
}
