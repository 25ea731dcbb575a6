package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.RecordIngestDocument("inserted")
	m.RecordIngestDocument("inserted")
	m.RecordIngestDocument("failed")
	m.RecordIngestRun(time.Second, nil)
	m.RecordIngestRun(time.Second, errors.New("boom"))
	m.RecordSearch(3, 10*time.Millisecond)
	m.RecordAnswer(time.Second, nil)
	m.RecordHTTPRequest("/search", http.StatusOK, time.Millisecond)
	m.RecordHTTPRequest("/search", http.StatusBadRequest, time.Millisecond)
	m.SetDocumentsStored(42)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestDocumentsTotal.WithLabelValues("inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestDocumentsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestRunsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestRunsTotal.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SearchResultsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/search", "4xx")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.DocumentsStored))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordIngestDocument("inserted")
		m.RecordIngestRun(time.Second, nil)
		m.RecordSearch(1, time.Millisecond)
		m.RecordAnswer(time.Second, nil)
		m.RecordSchema("created")
		m.RecordHTTPRequest("/", http.StatusOK, time.Millisecond)
		m.SetDocumentsStored(1)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordSearch(1, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "helpdesk_search_queries_total 1")
}
