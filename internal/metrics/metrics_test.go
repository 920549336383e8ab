package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.ObserveRun("rotation", OutcomeOK, 20*time.Millisecond)
	r.ObserveRun("rotation", OutcomeOK, 10*time.Millisecond)
	r.ObserveRun("rotation", OutcomeFailure, time.Millisecond)
	r.GridPoint("robustness")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("rotation", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("rotation", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.gridPoints.WithLabelValues("robustness")))

	done := r.SearchStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(r.searchActive))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(r.searchActive))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.ObserveRun("single", OutcomeOK, time.Second)
	r.GridPoint("walk_forward")
	r.SearchStarted()()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler(t *testing.T) {
	r := New()
	r.ObserveRun("single", OutcomeOK, time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "folio_backtest_runs_total"))
}
