package inmemory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
	"github.com/pbinitiative/zenstep/pkg/storage"
)

const (
	DefaultRetainedInstances = 1000
	DefaultRetention         = 24 * time.Hour
)

// Storage keeps process information in memory,
// please use NewStorage to create a new object of this type.
//
// Running instances are kept until they are deleted. Terminated instances are
// moved into a bounded cache and expire after the retention period.
type Storage struct {
	mu                 sync.RWMutex
	ProcessDefinitions map[string]*model.Definition
	ProcessInstances   map[string]*runtime.ProcessInstance
	terminated         *expirable.LRU[string, *runtime.ProcessInstance]
}

type StorageOption = func(*storageConfig)

type storageConfig struct {
	retained  int
	retention time.Duration
}

// StorageWithRetention bounds the terminated instances kept by count and age.
// A zero size keeps any number of instances, a zero retention never expires them.
func StorageWithRetention(size int, retention time.Duration) StorageOption {
	return func(c *storageConfig) {
		c.retained = size
		c.retention = retention
	}
}

func NewStorage(options ...StorageOption) *Storage {
	cfg := storageConfig{retained: DefaultRetainedInstances, retention: DefaultRetention}
	for _, option := range options {
		option(&cfg)
	}
	return &Storage{
		ProcessDefinitions: make(map[string]*model.Definition),
		ProcessInstances:   make(map[string]*runtime.ProcessInstance),
		terminated:         expirable.NewLRU[string, *runtime.ProcessInstance](cfg.retained, nil, cfg.retention),
	}
}

var _ storage.Storage = &Storage{}

var _ storage.ProcessDefinitionStorageReader = &Storage{}

func (mem *Storage) FindProcessDefinitionById(ctx context.Context, processId string) (*model.Definition, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	def, ok := mem.ProcessDefinitions[processId]
	if !ok {
		return nil, fmt.Errorf("process definition %s: %w", processId, storage.ErrNotFound)
	}
	return def, nil
}

func (mem *Storage) FindProcessDefinitions(ctx context.Context) ([]*model.Definition, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]*model.Definition, 0, len(mem.ProcessDefinitions))
	for _, def := range mem.ProcessDefinitions {
		res = append(res, def)
	}
	slices.SortFunc(res, func(a, b *model.Definition) int {
		return strings.Compare(a.Id, b.Id)
	})
	return res, nil
}

var _ storage.ProcessDefinitionStorageWriter = &Storage{}

func (mem *Storage) SaveProcessDefinition(ctx context.Context, definition *model.Definition) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if _, ok := mem.ProcessDefinitions[definition.Id]; ok {
		return fmt.Errorf("process definition %s: %w", definition.Id, storage.ErrAlreadyExists)
	}
	mem.ProcessDefinitions[definition.Id] = definition
	return nil
}

func (mem *Storage) DeleteProcessDefinition(ctx context.Context, processId string) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if _, ok := mem.ProcessDefinitions[processId]; !ok {
		return fmt.Errorf("process definition %s: %w", processId, storage.ErrNotFound)
	}
	delete(mem.ProcessDefinitions, processId)
	return nil
}

var _ storage.ProcessInstanceStorageReader = &Storage{}

func (mem *Storage) FindProcessInstanceById(ctx context.Context, processInstanceId string) (*runtime.ProcessInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	if pi, ok := mem.ProcessInstances[processInstanceId]; ok {
		return pi, nil
	}
	if pi, ok := mem.terminated.Get(processInstanceId); ok {
		return pi, nil
	}
	return nil, fmt.Errorf("process instance %s: %w", processInstanceId, storage.ErrNotFound)
}

func (mem *Storage) FindProcessInstances(ctx context.Context, filter storage.ProcessInstanceFilter) ([]*runtime.ProcessInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]*runtime.ProcessInstance, 0)
	if filter.MatchesRunning(true) {
		for _, pi := range mem.ProcessInstances {
			if filter.Matches(pi) {
				res = append(res, pi)
			}
		}
	}
	if filter.MatchesRunning(false) {
		for _, pi := range mem.terminated.Values() {
			if filter.Matches(pi) {
				res = append(res, pi)
			}
		}
	}
	slices.SortFunc(res, func(a, b *runtime.ProcessInstance) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Id, b.Id)
	})
	return res, nil
}

var _ storage.ProcessInstanceStorageWriter = &Storage{}

func (mem *Storage) SaveProcessInstance(ctx context.Context, processInstance *runtime.ProcessInstance) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if processInstance.IsRunning() {
		mem.terminated.Remove(processInstance.Id)
		mem.ProcessInstances[processInstance.Id] = processInstance
		return nil
	}
	delete(mem.ProcessInstances, processInstance.Id)
	mem.terminated.Add(processInstance.Id, processInstance)
	return nil
}

func (mem *Storage) DeleteProcessInstance(ctx context.Context, processInstanceId string) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if _, ok := mem.ProcessInstances[processInstanceId]; ok {
		delete(mem.ProcessInstances, processInstanceId)
		return nil
	}
	if mem.terminated.Remove(processInstanceId) {
		return nil
	}
	return fmt.Errorf("process instance %s: %w", processInstanceId, storage.ErrNotFound)
}

func (mem *Storage) DeleteProcessInstancesTerminatedBefore(ctx context.Context, before time.Time) (int, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	removed := 0
	for _, pi := range mem.terminated.Values() {
		if pi.TerminatedAt.Before(before) {
			mem.terminated.Remove(pi.Id)
			removed++
		}
	}
	return removed, nil
}
