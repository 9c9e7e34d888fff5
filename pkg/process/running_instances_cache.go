// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package process

import (
	"context"
	"sync"

	"github.com/pbinitiative/zenstep/pkg/process/runtime"
)

// RunningInstance serializes all engine operations on one process instance.
type RunningInstance struct {
	instance *runtime.ProcessInstance
	mu       sync.Mutex

	// exec is set while a command of the engine loop holds mu.
	exec *execution
	// finished marks instances terminated because they reached an end element.
	finished bool
}

// execution returns the running execution. Notifications caused outside the
// engine loop get a detached execution whose follow-up commands are dropped.
func (ri *RunningInstance) execution() *execution {
	if ri.exec == nil {
		return &execution{ctx: context.Background(), detached: true}
	}
	return ri.exec
}

type RunningInstancesCache struct {
	processInstances map[string]*RunningInstance
	mu               sync.RWMutex
}

func newRunningInstancesCache() *RunningInstancesCache {
	return &RunningInstancesCache{
		processInstances: map[string]*RunningInstance{},
	}
}

// track registers instance. An already tracked instance keeps its entry.
func (c *RunningInstancesCache) track(instance *runtime.ProcessInstance) (*RunningInstance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ri, ok := c.processInstances[instance.Id]; ok {
		return ri, false
	}
	ri := &RunningInstance{instance: instance}
	c.processInstances[instance.Id] = ri
	return ri, true
}

func (c *RunningInstancesCache) get(id string) (*RunningInstance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ri, ok := c.processInstances[id]
	return ri, ok
}

func (c *RunningInstancesCache) forget(id string) {
	c.mu.Lock()
	delete(c.processInstances, id)
	c.mu.Unlock()
}

func (c *RunningInstancesCache) lockInstance(ri *RunningInstance, exec *execution) {
	ri.mu.Lock()
	ri.exec = exec
}

// unlockInstance releases ri. Terminated instances are not tracked any longer,
// they are read from the storage on the next access.
func (c *RunningInstancesCache) unlockInstance(ri *RunningInstance) {
	ri.exec = nil
	if !ri.instance.IsRunning() {
		c.forget(ri.instance.Id)
	}
	ri.mu.Unlock()
}
