package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersByKindAndResult(t *testing.T) {
	m := New()
	m.PublishItem("vertex", "success")
	m.PublishItem("vertex", "success")
	m.PublishItem("property", "failure")
	m.UndoItem("edge", "success")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.publishItems.WithLabelValues("vertex", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishItems.WithLabelValues("property", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.undoItems.WithLabelValues("edge", "success")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.DiffItems(3)
	m.ObserveHTTP("GET /api/workspaces/{id}/diff", 200, 15*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "graphdesk_diff_items_count 1"))
	assert.Contains(t, text, `graphdesk_http_request_duration_seconds_count{route="GET /api/workspaces/{id}/diff",status="200"} 1`)
	assert.Contains(t, text, "go_goroutines")
}
