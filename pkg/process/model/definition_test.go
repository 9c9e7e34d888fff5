package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearDefinition(t *testing.T) *Definition {
	def, err := NewBuilder("linear").
		Name("Linear").
		AddElement(Element{Id: "start", Type: ElementTypeStartEvent}).
		AddElement(Element{Id: "a", Type: ElementTypeUserTask, Label: "A"}).
		AddElement(Element{Id: "b", Type: ElementTypeManualTask, Label: "B"}).
		AddElement(Element{Id: "end", Type: ElementTypeEndEvent}).
		AddFlow("start", "a").
		AddFlow("a", "b").
		AddFlow("b", "end").
		Build()
	require.NoError(t, err)
	return def
}

func branchingDefinition(t *testing.T) *Definition {
	def, err := NewBuilder("branching").
		AddElement(Element{Id: "start", Type: ElementTypeStartEvent}).
		AddElement(Element{Id: "gw", Type: ElementTypeExclusiveGateway}).
		AddElement(Element{Id: "short", Type: ElementTypeUserTask}).
		AddElement(Element{Id: "long1", Type: ElementTypeUserTask}).
		AddElement(Element{Id: "long2", Type: ElementTypeUserTask}).
		AddElement(Element{Id: "end", Type: ElementTypeEndEvent}).
		AddFlow("start", "gw").
		AddFlow("gw", "short").
		AddFlow("gw", "long1").
		AddFlow("long1", "long2").
		AddFlow("short", "end").
		AddFlow("long2", "end").
		Build()
	require.NoError(t, err)
	return def
}

func TestLinearDistances(t *testing.T) {
	// given
	def := linearDefinition(t)

	// when
	start := def.StartElement()
	maxToEnd, err := def.MaxDistanceToEnd(start)

	// then
	assert.NoError(t, err)
	assert.Equal(t, 3, maxToEnd)
	dist, err := def.DistanceFromStart(start)
	assert.NoError(t, err)
	assert.Equal(t, 0, dist)

	end, err := def.ElementById("end")
	require.NoError(t, err)
	dist, err = def.DistanceFromStart(end)
	assert.NoError(t, err)
	assert.Equal(t, 3, dist)
	maxToEnd, err = def.MaxDistanceToEnd(end)
	assert.NoError(t, err)
	assert.Equal(t, 0, maxToEnd)
}

func TestBranchingDistances(t *testing.T) {
	def := branchingDefinition(t)
	gw, _ := def.ElementById("gw")
	end, _ := def.ElementById("end")

	maxToEnd, err := def.MaxDistanceToEnd(gw)
	assert.NoError(t, err)
	assert.Equal(t, 3, maxToEnd)

	dist, err := def.DistanceFromStart(end)
	assert.NoError(t, err)
	assert.Equal(t, 3, dist, "shortest path goes through the short branch")
}

func TestSuccessorsAndPredecessor(t *testing.T) {
	def := branchingDefinition(t)
	gw, _ := def.ElementById("gw")
	end, _ := def.ElementById("end")

	succ, err := def.Successors(gw)
	assert.NoError(t, err)
	assert.Len(t, succ, 2)

	succ, err = def.Successors(end)
	assert.NoError(t, err)
	assert.Empty(t, succ)

	pred, err := def.Predecessor(def.StartElement())
	assert.NoError(t, err)
	assert.Nil(t, pred)

	pred, err = def.Predecessor(end)
	assert.NoError(t, err)
	assert.Equal(t, "short", pred.Id, "first declared flow wins on joins")
}

func TestStartHasNoPredecessorOnBackFlow(t *testing.T) {
	// given
	def, err := NewBuilder("restart").
		AddElement(Element{Id: "start", Type: ElementTypeStartEvent}).
		AddElement(Element{Id: "gw", Type: ElementTypeExclusiveGateway}).
		AddElement(Element{Id: "end", Type: ElementTypeEndEvent}).
		AddFlow("start", "gw").
		AddFlow("gw", "start").
		AddFlow("gw", "end").
		Build()
	require.NoError(t, err)

	// when
	pred, err := def.Predecessor(def.StartElement())

	// then
	assert.NoError(t, err)
	assert.Nil(t, pred)
}

func TestUnknownElement(t *testing.T) {
	def := linearDefinition(t)

	_, err := def.ElementById("nope")

	assert.ErrorIs(t, err, ErrUnknownElement)
	assert.Contains(t, err.Error(), "nope")
}

func TestForeignElement(t *testing.T) {
	// given
	def := linearDefinition(t)
	other := branchingDefinition(t)
	foreign, _ := other.ElementById("gw")
	lookalike := &Element{Id: "a", Type: ElementTypeUserTask}

	// when
	_, errSucc := def.Successors(foreign)
	_, errPred := def.Predecessor(lookalike)
	_, errDist := def.DistanceFromStart(foreign)
	_, errMax := def.MaxDistanceToEnd(nil)

	// then
	assert.ErrorIs(t, errSucc, ErrForeignElement)
	assert.ErrorIs(t, errPred, ErrForeignElement)
	assert.ErrorIs(t, errDist, ErrForeignElement)
	assert.ErrorIs(t, errMax, ErrForeignElement)
}

func TestCycleIsMalformed(t *testing.T) {
	// given
	def, err := NewBuilder("loop").
		AddElement(Element{Id: "start", Type: ElementTypeStartEvent}).
		AddElement(Element{Id: "a", Type: ElementTypeUserTask}).
		AddElement(Element{Id: "gw", Type: ElementTypeExclusiveGateway}).
		AddElement(Element{Id: "end", Type: ElementTypeEndEvent}).
		AddFlow("start", "a").
		AddFlow("a", "gw").
		AddFlow("gw", "a").
		AddFlow("gw", "end").
		Build()
	require.NoError(t, err)
	a, _ := def.ElementById("a")
	end, _ := def.ElementById("end")

	// when
	_, errMax := def.MaxDistanceToEnd(a)
	toEnd, errEnd := def.MaxDistanceToEnd(end)
	dist, errDist := def.DistanceFromStart(end)

	// then
	assert.ErrorIs(t, errMax, ErrMalformedGraph)
	assert.ErrorIs(t, def.ValidateAcyclic(), ErrMalformedGraph)
	assert.NoError(t, errEnd)
	assert.Equal(t, 0, toEnd)
	assert.NoError(t, errDist)
	assert.Equal(t, 3, dist)
}

func TestAllProcessElementsIsACopy(t *testing.T) {
	def := linearDefinition(t)

	all := def.AllProcessElements()
	all[0] = nil

	assert.Len(t, def.AllProcessElements(), 4)
	assert.NotNil(t, def.AllProcessElements()[0])
}
