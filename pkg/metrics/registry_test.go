package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	for _, c := range RuntimeCollectors() {
		require.NoError(t, reg.Register(c))
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
}

func TestInitRegistry_OnlyFirstCallCounts(t *testing.T) {
	InitRegistry(RuntimeCollectors()...)
	first := GetRegistry()
	require.NotNil(t, first)

	// A second set of runtime collectors would collide if it were registered.
	InitRegistry(RuntimeCollectors()...)
	assert.Same(t, first, GetRegistry())
	assert.True(t, IsEnabled())
}
