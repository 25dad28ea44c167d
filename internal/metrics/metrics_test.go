package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CacheLookup(true)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.ActionApplied("move", nil)
	m.ActionApplied("move", errors.New("no folder"))
	m.Depth(7)
	m.JobFinished(120*time.Millisecond, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actionsApplied.WithLabelValues("move", "failed")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth))

	n, err := testutil.GatherAndCount(reg, "sortana_job_duration_ms")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilRegistererIsUsable(t *testing.T) {
	m := New(nil)
	assert.NotPanics(t, func() {
		m.RuleEvaluated(true)
		m.Request("ok", time.Second)
		m.Ingested("smtp", nil)
		m.HTTPRequest("GET", "/api/stats", 200, time.Millisecond)
	})
}
