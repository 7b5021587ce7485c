package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SyncRun("ok", 2*time.Second)
	m.SyncRun("partial", time.Second)
	m.FetchAttempt("retry")
	m.Batch("completed")
	m.Batch("completed")
	m.Batch("failed")
	m.VectorsWritten(7)
	m.VectorsDeleted(3)
	m.VectorsWritten(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncRuns.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.batches.WithLabelValues("completed")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.vectorsWritten))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.vectorsDeleted))

	count, err := testutil.GatherAndCount(reg, "reposync_sync_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SyncRun("ok", time.Second)
		m.FetchAttempt("ok")
		m.Batch("skipped")
		m.VectorsWritten(1)
		m.VectorsDeleted(1)
	})
}
