package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, metrics.Track("declaration:backfill").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, metrics.Track("declaration:backfill").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("declaration:backfill", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("declaration:backfill", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues("declaration:backfill")))
}

func TestRowCounters(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.AddImportRows("imported", 40)
	metrics.AddImportRows("error", 2)
	metrics.AddImportRows("error", 0)
	metrics.ObserveDeclarations("declared", 3)

	assert.Equal(t, 40.0, testutil.ToFloat64(metrics.importRows.WithLabelValues("imported")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.importRows.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.declarations.WithLabelValues("declared")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.AddImportRows("imported", 1)
	metrics.ObserveDeclarations("declared", 1)
	err := errors.New("kept")
	assert.Equal(t, err, metrics.Track("job").End(err))
}
