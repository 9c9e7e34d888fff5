package process

import (
	"testing"

	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressOfLinearProcess(t *testing.T) {
	def, err := model.NewBuilder("linear").
		AddElement(model.Element{Id: "start", Type: model.ElementTypeStartEvent}).
		AddElement(model.Element{Id: "a", Type: model.ElementTypeUserTask}).
		AddElement(model.Element{Id: "b", Type: model.ElementTypeUserTask}).
		AddElement(model.Element{Id: "end", Type: model.ElementTypeEndEvent}).
		AddFlow("start", "a").
		AddFlow("a", "b").
		AddFlow("b", "end").
		Build()
	require.NoError(t, err)
	instance := runtime.NewProcessInstance("p-1", def)

	expected := []float64{0, 1.0 / 3, 2.0 / 3, 1}
	for i, want := range expected {
		progress, err := Progress(instance)
		require.NoError(t, err)
		assert.InDelta(t, want, progress, 0.0001, "step %d", i)
		if i < len(expected)-1 {
			_, err = instance.StepForward()
			require.NoError(t, err)
		}
	}
}

func TestProgressOfSingleElementPath(t *testing.T) {
	def, err := model.NewBuilder("short").
		AddElement(model.Element{Id: "start", Type: model.ElementTypeStartEvent}).
		AddElement(model.Element{Id: "end", Type: model.ElementTypeEndEvent}).
		AddFlow("start", "end").
		Build()
	require.NoError(t, err)

	progress, err := Progress(runtime.NewProcessInstance("p-1", def))

	assert.NoError(t, err)
	assert.Equal(t, 0.0, progress)
}
