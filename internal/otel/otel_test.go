package otel

import (
	"context"
	"testing"

	"github.com/pbinitiative/zenstep/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupOtelWithoutTracing(t *testing.T) {
	// when
	o, err := SetupOtel(config.Tracing{Name: "zenstep-test"})

	// then
	require.NoError(t, err)
	defer o.Stop(context.Background())
	assert.NotNil(t, RequestTotal)
	assert.Nil(t, o.tracerprovider)

	engineMetrics, err := o.EngineMetrics()
	require.NoError(t, err)
	assert.NotNil(t, engineMetrics.StepsPerformed)
}
