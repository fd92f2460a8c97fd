package main

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
)

// The counters the commands register must actually be reachable through the
// metrics handler the diagnostics server mounts.
func TestMetricsHandlerServesCommandCounters(t *testing.T) {
	recorder := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	body := recorder.Body.String()
	assert.Contains(t, body, "split_lines_written")
	assert.Contains(t, body, "split_tables_written")
	assert.Contains(t, body, "tables_dropped")
}
