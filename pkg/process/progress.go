package process

import (
	"fmt"

	"github.com/pbinitiative/zenstep/pkg/process/runtime"
)

// Progress estimates how far instance advanced: the distance of the current
// element from the start divided by the length of the longest path through it.
func Progress(instance *runtime.ProcessInstance) (float64, error) {
	element := instance.CurrentElement()
	if element == nil {
		return 0, nil
	}
	distance, err := instance.Definition.DistanceFromStart(element)
	if err != nil {
		return 0, fmt.Errorf("failed to compute progress of instance %s: %w", instance.Id, err)
	}
	remaining, err := instance.Definition.MaxDistanceToEnd(element)
	if err != nil {
		return 0, fmt.Errorf("failed to compute progress of instance %s: %w", instance.Id, err)
	}
	if distance+remaining == 0 {
		return 0, nil
	}
	return float64(distance) / float64(distance+remaining), nil
}
