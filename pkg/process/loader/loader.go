// Package loader reads process definitions from YAML (or JSON) documents.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pbinitiative/zenstep/pkg/process/model"
	"gopkg.in/yaml.v3"
)

var ErrInvalidDocument = errors.New("loader: invalid definition document")

type document struct {
	Id          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Annotations annotationsDoc `yaml:"annotations"`
	Elements    []elementDoc   `yaml:"elements"`
	Flows       []flowDoc      `yaml:"flows"`
}

type annotationsDoc struct {
	LocalData    map[string]any   `yaml:"localData"`
	Events       []eventDoc       `yaml:"events"`
	ServiceCalls []serviceCallDoc `yaml:"serviceCalls"`
	Triggers     []triggerDoc     `yaml:"triggers"`
}

type eventDoc struct {
	EventId    string         `yaml:"eventId"`
	Type       string         `yaml:"type"`
	Properties map[string]any `yaml:"properties"`
}

type serviceCallDoc struct {
	Service         string            `yaml:"service"`
	Method          string            `yaml:"method"`
	Type            string            `yaml:"type"`
	OutputReference string            `yaml:"outputReference"`
	InputMapping    map[string]string `yaml:"inputMapping"`
	OutputMapping   map[string]string `yaml:"outputMapping"`
	Trigger         *triggerDoc       `yaml:"trigger"`
}

type triggerDoc struct {
	EventId    string         `yaml:"eventId"`
	References map[string]any `yaml:"references"`
}

type elementDoc struct {
	Id            string         `yaml:"id"`
	Label         string         `yaml:"label"`
	Description   string         `yaml:"description"`
	Type          string         `yaml:"type"`
	CalledProcess string         `yaml:"calledProcess"`
	ErrorCode     *int           `yaml:"errorCode"`
	ErrorMessage  string         `yaml:"errorMessage"`
	Annotations   annotationsDoc `yaml:"annotations"`
}

type flowDoc struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Parse decodes a definition document. JSON documents are accepted as well.
// Unknown fields are rejected.
func Parse(data []byte) (*model.Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: document is empty", ErrInvalidDocument)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var doc document
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return doc.build()
}

func Load(r io.Reader) (*model.Definition, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("loader: read definition: %w", err)
	}
	return Parse(content)
}

func LoadFile(path string) (*model.Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", path, err)
	}
	def, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadDir loads every *.yaml and *.yml file of dir in lexical order. All files are
// attempted, the failures are joined.
func LoadDir(dir string) ([]*model.Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("loader: read directory %s: %w", dir, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml":
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)

	definitions := make([]*model.Definition, 0, len(names))
	var errJoin error
	for _, name := range names {
		def, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			errJoin = errors.Join(errJoin, err)
			continue
		}
		definitions = append(definitions, def)
	}
	return definitions, errJoin
}

func (doc document) build() (*model.Definition, error) {
	annotations, err := doc.Annotations.toModel()
	if err != nil {
		return nil, fmt.Errorf("process %s: %w", doc.Id, err)
	}
	b := model.NewBuilder(doc.Id).
		Name(doc.Name).
		Description(doc.Description).
		Annotations(annotations)
	for _, e := range doc.Elements {
		element, err := e.toModel()
		if err != nil {
			return nil, fmt.Errorf("process %s: %w", doc.Id, err)
		}
		b.AddElement(element)
	}
	for _, f := range doc.Flows {
		b.AddFlow(f.From, f.To)
	}
	return b.Build()
}

func (e elementDoc) toModel() (model.Element, error) {
	annotations, err := e.Annotations.toModel()
	if err != nil {
		return model.Element{}, fmt.Errorf("element %s: %w", e.Id, err)
	}
	element := model.Element{
		Id:            e.Id,
		Label:         e.Label,
		Description:   e.Description,
		Type:          model.ParseElementType(e.Type),
		Annotations:   annotations,
		CalledProcess: e.CalledProcess,
	}
	if e.ErrorCode != nil || e.ErrorMessage != "" {
		element.Error = &model.ErrorDefinition{Message: e.ErrorMessage}
		if e.ErrorCode != nil {
			element.Error.Code = *e.ErrorCode
		}
	}
	return element, nil
}

func (a annotationsDoc) toModel() (model.Annotations, error) {
	res := model.Annotations{LocalData: a.LocalData}
	for _, e := range a.Events {
		t, err := model.ParseEventAnnotationType(e.Type)
		if err != nil {
			return model.Annotations{}, err
		}
		res.Events = append(res.Events, model.EventAnnotation{EventId: e.EventId, Type: t, Properties: e.Properties})
	}
	for _, sc := range a.ServiceCalls {
		t, err := model.ParseServiceCallType(sc.Type)
		if err != nil {
			return model.Annotations{}, err
		}
		call := model.ServiceCallAnnotation{
			Service:         sc.Service,
			Method:          sc.Method,
			Type:            t,
			OutputReference: sc.OutputReference,
			InputMapping:    sc.InputMapping,
			OutputMapping:   sc.OutputMapping,
		}
		if sc.Trigger != nil {
			trigger := sc.Trigger.toModel()
			call.Trigger = &trigger
		}
		res.ServiceCalls = append(res.ServiceCalls, call)
	}
	for _, t := range a.Triggers {
		res.Triggers = append(res.Triggers, t.toModel())
	}
	return res, nil
}

func (t triggerDoc) toModel() model.TriggerAnnotation {
	return model.TriggerAnnotation{EventId: t.EventId, References: t.References}
}
