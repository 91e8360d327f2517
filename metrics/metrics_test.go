package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	m, err := New("confidential-athlete-registry", "127.0.0.1:0")
	require.NoError(t, err)

	m.ObserveRequest("/api/v1/encrypt", http.MethodPost, http.StatusOK, 20*time.Millisecond)
	m.ObserveRequest("/api/v1/encrypt", http.MethodPost, http.StatusOK, 30*time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body),
		`confidential_athlete_registry_http_requests_total{code="200",method="POST",route="/api/v1/encrypt"} 2`)
	assert.Contains(t, string(body), "confidential_athlete_registry_http_request_duration_seconds_count")
	assert.Contains(t, string(body), "go_goroutines")
}
