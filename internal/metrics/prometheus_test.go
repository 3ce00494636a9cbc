package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegistry_CacheMetrics(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordCacheRequest("traffic", "hit")
	r.RecordCacheRequest("traffic", "hit")
	r.RecordCacheRequest("traffic", "refresh")
	r.RecordRefresh("traffic", "success", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.CacheRequests.WithLabelValues("traffic", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CacheRequests.WithLabelValues("traffic", "refresh")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CacheRefreshes.WithLabelValues("traffic", "success")))
}

func TestRegistry_RecordExposureResets(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordExposure(map[string]int{"allowed": 2, "blocked": 1}, 2, 3)
	r.RecordExposure(map[string]int{"unfirewalled": 4}, 0, 1)

	assert.Equal(t, 4.0, testutil.ToFloat64(r.ExposureVerdicts.WithLabelValues("unfirewalled")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.ExposureVerdicts))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.ExposedSockets))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.SocketLinesSkipped))
}

func TestRegistry_NilSafe(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.RecordCacheRequest("zones", "hit")
		r.RecordRefresh("zones", "failure", time.Second)
		r.SetSnapshotAge("zones", time.Second)
		r.RecordConsolidation(1, 1)
		r.RecordSourceError("firewalld")
		r.RecordExposure(nil, 0, 0)
		r.RecordInterface("eth0", 1, 2, 0, 0)
		r.RecordConnections("tcp", 3)
		r.RecordPoll(true)
	})
}

func TestGet_Singleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}
