package controlapi_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/booker/internal/testsupport"
)

// Metrics are global (default Prometheus registry), so these subtests run
// serially and assert deltas only.
func TestRequestMetrics(t *testing.T) {
	h := newHarness(t)

	t.Run("records metrics for successful request", func(t *testing.T) {
		counterLabels := map[string]string{"method": "GET", "route": "/health", "code": "200"}

		testsupport.AssertMetricDelta(t, "booker_control_plane_http_requests_total", counterLabels, 1, func() {
			rr := h.do(http.MethodGet, "/health", nil)
			require.Equal(t, http.StatusOK, rr.Code)
		})

		testsupport.AssertHistogramRecorded(t, "booker_control_plane_http_handling_seconds",
			map[string]string{"method": "GET", "route": "/health"})
	})

	// The label must carry the route pattern, never the id from the URL.
	t.Run("business 404 keeps the route pattern", func(t *testing.T) {
		labels := map[string]string{"method": "GET", "route": "/api/v1/bookings/{id}", "code": "404"}

		testsupport.AssertMetricDelta(t, "booker_control_plane_http_requests_total", labels, 1, func() {
			rr := h.do(http.MethodGet, "/api/v1/bookings/123456", nil)
			require.Equal(t, http.StatusNotFound, rr.Code)
		})
	})

	t.Run("unknown path collapses to not_found", func(t *testing.T) {
		labels := map[string]string{"method": "GET", "route": "not_found", "code": "404"}

		testsupport.AssertMetricDelta(t, "booker_control_plane_http_requests_total", labels, 1, func() {
			rr := httptest.NewRecorder()
			h.api.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin.php", nil))
			require.Equal(t, http.StatusNotFound, rr.Code)
		})
	})

	t.Run("records bad requests", func(t *testing.T) {
		labels := map[string]string{"method": "POST", "route": "/api/v1/bookings", "code": "400"}

		testsupport.AssertMetricDelta(t, "booker_control_plane_http_requests_total", labels, 1, func() {
			rr := h.do(http.MethodPost, "/api/v1/bookings", `{invalid-json`)
			require.Equal(t, http.StatusBadRequest, rr.Code)
		})
	})

	t.Run("records admission decisions", func(t *testing.T) {
		room := h.room("M-1")
		labels := map[string]string{"operation": "create", "outcome": "accepted"}

		testsupport.AssertMetricDelta(t, "booker_admission_decisions_total", labels, 1, func() {
			rr := h.do(http.MethodPost, "/api/v1/bookings", bookingBody("2030-05-01", "08:00", "09:00", room))
			require.Equal(t, http.StatusCreated, rr.Code)
		})
	})
}
