// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package model

import (
	"fmt"
)

const (
	LocalDataProcessId          = "processId"
	LocalDataProcessName        = "processName"
	LocalDataProcessDescription = "processDescription"
)

// Definition is the static graph of a process. It is built once by a Builder
// and never modified afterwards, so it can be shared by all instances.
type Definition struct {
	Id          string
	Name        string
	Description string
	Annotations Annotations

	elements     []*Element
	byId         map[string]*Element
	start        *Element
	successors   map[string][]*Element
	predecessors map[string][]*Element
}

// AllProcessElements returns the elements in declaration order.
func (d *Definition) AllProcessElements() []*Element {
	res := make([]*Element, len(d.elements))
	copy(res, d.elements)
	return res
}

func (d *Definition) StartElement() *Element {
	return d.start
}

func (d *Definition) ElementById(id string) (*Element, error) {
	e, ok := d.byId[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s in process %s", ErrUnknownElement, id, d.Id)
	}
	return e, nil
}

// Contains reports whether e is one of this definition's elements.
func (d *Definition) Contains(e *Element) bool {
	if e == nil {
		return false
	}
	own, ok := d.byId[e.Id]
	return ok && own == e
}

func (d *Definition) checkOwned(e *Element) error {
	if !d.Contains(e) {
		id := "<nil>"
		if e != nil {
			id = e.Id
		}
		return fmt.Errorf("%w: %s is not part of process %s", ErrForeignElement, id, d.Id)
	}
	return nil
}

// Predecessor returns the first element flowing into e, or nil for the start element.
func (d *Definition) Predecessor(e *Element) (*Element, error) {
	if err := d.checkOwned(e); err != nil {
		return nil, err
	}
	preds := d.predecessors[e.Id]
	if e == d.start || len(preds) == 0 {
		return nil, nil
	}
	return preds[0], nil
}

// Successors returns the elements directly reachable from e, empty for terminal elements.
func (d *Definition) Successors(e *Element) ([]*Element, error) {
	if err := d.checkOwned(e); err != nil {
		return nil, err
	}
	succ := d.successors[e.Id]
	res := make([]*Element, len(succ))
	copy(res, succ)
	return res, nil
}

// IsTerminal reports whether e has no outgoing flow.
func (d *Definition) IsTerminal(e *Element) bool {
	return len(d.successors[e.Id]) == 0
}

// DistanceFromStart is the minimum number of flows from the start element to e.
func (d *Definition) DistanceFromStart(e *Element) (int, error) {
	if err := d.checkOwned(e); err != nil {
		return 0, err
	}
	dist := map[string]int{d.start.Id: 0}
	queue := []*Element{d.start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == e {
			return dist[current.Id], nil
		}
		for _, next := range d.successors[current.Id] {
			if _, seen := dist[next.Id]; seen {
				continue
			}
			dist[next.Id] = dist[current.Id] + 1
			queue = append(queue, next)
		}
	}
	return 0, fmt.Errorf("%w: %s is not reachable from start in process %s", ErrMalformedGraph, e.Id, d.Id)
}

const (
	unvisited = iota
	visiting
	visited
)

// MaxDistanceToEnd is the length of the longest flow path from e to a terminal element.
// A cycle reachable from e makes the value undefined and yields ErrMalformedGraph.
func (d *Definition) MaxDistanceToEnd(e *Element) (int, error) {
	if err := d.checkOwned(e); err != nil {
		return 0, err
	}
	state := make(map[string]int, len(d.elements))
	longest := make(map[string]int, len(d.elements))
	var walk func(el *Element) error
	walk = func(el *Element) error {
		switch state[el.Id] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("%w: cycle through %s in process %s", ErrMalformedGraph, el.Id, d.Id)
		}
		state[el.Id] = visiting
		best := 0
		for _, next := range d.successors[el.Id] {
			if err := walk(next); err != nil {
				return err
			}
			if longest[next.Id]+1 > best {
				best = longest[next.Id] + 1
			}
		}
		longest[el.Id] = best
		state[el.Id] = visited
		return nil
	}
	if err := walk(e); err != nil {
		return 0, err
	}
	return longest[e.Id], nil
}

// ValidateAcyclic fails with ErrMalformedGraph when the graph contains a cycle.
func (d *Definition) ValidateAcyclic() error {
	_, err := d.MaxDistanceToEnd(d.start)
	return err
}
