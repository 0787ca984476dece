package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := New()

	r.QueueSize(7)
	r.SendOutcome("success")
	r.SendOutcome("success")
	r.SendOutcome("gone")
	r.Dropped("duplicate")
	r.GroupFlushed(3)
	r.JobRun("prune_send_log", "ok")

	assert.Equal(t, 7.0, testutil.ToFloat64(r.queueSize))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.sendOutcomes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sendOutcomes.WithLabelValues("gone")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.dropped.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.groupsFlushed))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.jobRuns.WithLabelValues("prune_send_log", "ok")))
}

func TestInstancesDoNotShareRegistry(t *testing.T) {
	a, b := New(), New()
	a.Dropped("restricted")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.dropped.WithLabelValues("restricted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.dropped.WithLabelValues("restricted")))
}

func TestHandlerExposition(t *testing.T) {
	r := New()
	r.SendOutcome("retry_after")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `relay_send_outcomes_total{outcome="retry_after"} 1`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
