package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RequestDone("probe", 200, 150*time.Millisecond)
	m.RequestDone("probe", 0, time.Second)
	m.RequestRetried("download")
	m.ProbeResult("valid")
	m.ProbeResult("valid")
	m.DownloadOutcome("completed", 12)
	m.DownloadOutcome("failed", 0)
	m.TaskStarted()
	m.TaskStarted()
	m.TaskFinished()
	m.QueueDepth(4)
	m.QueueDepth(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("probe", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("probe", "0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retriesTotal.WithLabelValues("download")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.probesTotal.WithLabelValues("valid")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.featuresTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.downloadsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeDownloads))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queuedDownloads))
}

func TestPhase(t *testing.T) {
	m := New(nil)

	m.Phase("validating")
	m.Phase("downloading")

	assert.Equal(t, 0.0, testutil.ToFloat64(m.phase.WithLabelValues("validating")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.phase.WithLabelValues("downloading")))
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ProbeResult("invalid")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `landscraper_probes_total{result="invalid"} 1`)
}

func TestNopSatisfiesRecorder(t *testing.T) {
	var r Recorder = Nop{}
	r.Phase("done")
	r.DownloadOutcome("completed", 3)
}
