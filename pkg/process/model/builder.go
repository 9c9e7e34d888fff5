package model

import (
	"errors"
	"fmt"
)

type flow struct {
	from string
	to   string
}

// Builder assembles a Definition. Elements and flows may be added in any order,
// all consistency checks happen in Build.
type Builder struct {
	id          string
	name        string
	description string
	annotations Annotations
	elements    []Element
	flows       []flow
}

func NewBuilder(id string) *Builder {
	return &Builder{id: id}
}

func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

func (b *Builder) Description(description string) *Builder {
	b.description = description
	return b
}

func (b *Builder) Annotations(a Annotations) *Builder {
	b.annotations = a
	return b
}

func (b *Builder) AddElement(e Element) *Builder {
	b.elements = append(b.elements, e)
	return b
}

// AddFlow connects two elements by id.
func (b *Builder) AddFlow(from string, to string) *Builder {
	b.flows = append(b.flows, flow{from: from, to: to})
	return b
}

// Build validates the collected graph and returns the immutable Definition.
// All problems found are joined into the returned error.
func (b *Builder) Build() (*Definition, error) {
	if b.id == "" {
		return nil, fmt.Errorf("%w: process id is empty", ErrMalformedGraph)
	}
	var errs []error
	if err := b.annotations.validate(); err != nil {
		errs = append(errs, fmt.Errorf("process %s: %w", b.id, err))
	}

	def := &Definition{
		Id:           b.id,
		Name:         b.name,
		Description:  b.description,
		Annotations:  b.annotations.clone(),
		byId:         make(map[string]*Element, len(b.elements)),
		successors:   map[string][]*Element{},
		predecessors: map[string][]*Element{},
	}
	def.Annotations.LocalData[LocalDataProcessId] = b.id
	if b.name != "" {
		def.Annotations.LocalData[LocalDataProcessName] = b.name
	}
	if b.description != "" {
		def.Annotations.LocalData[LocalDataProcessDescription] = b.description
	}

	hasEnd := false
	for i := range b.elements {
		e := b.elements[i]
		if e.Id == "" {
			errs = append(errs, fmt.Errorf("%w: element without id in process %s", ErrMalformedGraph, b.id))
			continue
		}
		if _, dup := def.byId[e.Id]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate element %s in process %s", ErrMalformedGraph, e.Id, b.id))
			continue
		}
		if e.Type == "" {
			e.Type = ElementTypeUnknown
		}
		if err := e.Annotations.validate(); err != nil {
			errs = append(errs, fmt.Errorf("element %s: %w", e.Id, err))
		}
		if e.Type == ElementTypeCallActivity && e.CalledProcess == "" {
			errs = append(errs, fmt.Errorf("%w: call activity %s does not name a process", ErrMalformedGraph, e.Id))
		}
		if e.Error != nil && e.Type != ElementTypeEndEvent {
			errs = append(errs, fmt.Errorf("%w: %s carries an error definition but is not an end event", ErrMalformedGraph, e.Id))
		}
		e.Annotations = e.Annotations.clone()
		if e.Error != nil {
			errDef := *e.Error
			e.Error = &errDef
		}
		el := &e
		def.elements = append(def.elements, el)
		def.byId[el.Id] = el
		switch el.Type {
		case ElementTypeStartEvent:
			if def.start != nil {
				errs = append(errs, fmt.Errorf("%w: multiple start events (%s, %s) in process %s", ErrMalformedGraph, def.start.Id, el.Id, b.id))
				continue
			}
			def.start = el
		case ElementTypeEndEvent:
			if el.Error == nil {
				hasEnd = true
			}
		}
	}
	if def.start == nil {
		errs = append(errs, fmt.Errorf("%w: no start event in process %s", ErrMalformedGraph, b.id))
	}
	if !hasEnd {
		errs = append(errs, fmt.Errorf("%w: no end event in process %s", ErrMalformedGraph, b.id))
	}

	for _, f := range b.flows {
		from, okFrom := def.byId[f.from]
		to, okTo := def.byId[f.to]
		if !okFrom || !okTo {
			errs = append(errs, fmt.Errorf("%w: flow %s -> %s references an unknown element", ErrMalformedGraph, f.from, f.to))
			continue
		}
		def.successors[from.Id] = append(def.successors[from.Id], to)
		def.predecessors[to.Id] = append(def.predecessors[to.Id], from)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, el := range def.elements {
		if _, err := def.DistanceFromStart(el); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return def, nil
}
