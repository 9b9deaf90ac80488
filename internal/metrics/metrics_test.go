package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector(reg), reg
}

func TestNewCollector(t *testing.T) {
	c, reg := newTestCollector(t)
	require.NotNil(t, c)

	// every vector needs at least one child before it is gathered
	c.RecordExecutionStarted("Scale")
	c.RecordExecutionFinished("Scale", time.Millisecond, nil)
	c.RecordExecutionFinished("Scale", time.Millisecond, errors.New("boom"))
	c.RecordArtifactEvent("added", 1)
	c.RecordTask(time.Millisecond, nil)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 9)
}

func TestNewCollectorDefaultRegisterer(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	assert.NotPanics(t, func() { NewCollector(nil) })
}

func TestRecordExecution(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordExecutionStarted("Scale")
	c.RecordExecutionStarted("Scale")
	c.RecordExecutionFinished("Scale", 10*time.Millisecond, nil)
	c.RecordExecutionFinished("Scale", 10*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.execStarted.WithLabelValues("Scale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.execSucceeded.WithLabelValues("Scale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.execFailed.WithLabelValues("Scale")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.execDuration))
}

func TestRecordArtifactEvent(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordArtifactEvent("added", 1)
	c.RecordArtifactEvent("added", 2)
	c.RecordArtifactEvent("removed", 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.artifactEvents.WithLabelValues("added")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.artifactEvents.WithLabelValues("removed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.artifacts))
}

func TestRecordTask(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordTask(time.Millisecond, nil)
	c.RecordTask(time.Millisecond, errors.New("x"))
	c.RecordTask(time.Millisecond, nil)
	c.SetQueueDepth(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.tasks.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasks.WithLabelValues("failed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.queueDepth))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordExecutionStarted("a")
		c.RecordExecutionFinished("a", time.Second, nil)
		c.RecordArtifactEvent("added", 1)
		c.RecordTask(time.Second, nil)
		c.SetQueueDepth(1)
	})
}

func TestConcurrentMetricUpdates(t *testing.T) {
	c, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordExecutionStarted("Scale")
				c.RecordTask(time.Microsecond, nil)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000.0, testutil.ToFloat64(c.execStarted.WithLabelValues("Scale")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(c.tasks.WithLabelValues("ok")))
}

func TestHandler(t *testing.T) {
	c, reg := newTestCollector(t)
	c.RecordExecutionStarted("CreateMatrix")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `algorun_executions_started_total{algorithm="CreateMatrix"} 1`)
}
