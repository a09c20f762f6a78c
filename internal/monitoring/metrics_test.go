package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveStage(t *testing.T) {
	before := testutil.ToFloat64(StagePoints.WithLabelValues(StageChange))

	ObserveStage(StageChange, time.Now().Add(-10*time.Millisecond), 250)

	after := testutil.ToFloat64(StagePoints.WithLabelValues(StageChange))
	assert.Equal(t, 250.0, after-before)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(StageDuration), 1)
}

func TestRegistry_Gathers(t *testing.T) {
	ICPIterations.Observe(12)
	families, err := Registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["scandiff_icp_iterations"])
}
