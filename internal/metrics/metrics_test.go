package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, Register)
	assert.NotPanics(t, Register)

	GenerationsTotal.WithLabelValues("completed").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "docustitch_generator_generations_total")
	assert.Contains(t, names, "docustitch_generator_in_flight")
}
