package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCall(t *testing.T) {
	okBefore := testutil.ToFloat64(ControlCalls.WithLabelValues("kill_publisher", ResultOK))
	errBefore := testutil.ToFloat64(ControlCalls.WithLabelValues("kill_publisher", ResultError))

	ObserveCall("kill_publisher", nil)
	ObserveCall("kill_publisher", errors.New("boom"))
	ObserveCall("kill_publisher", errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ControlCalls.WithLabelValues("kill_publisher", ResultOK)))
	assert.Equal(t, errBefore+2, testutil.ToFloat64(ControlCalls.WithLabelValues("kill_publisher", ResultError)))
}

func TestSetRegistry(t *testing.T) {
	SetRegistry(3, 5, 7)
	assert.Equal(t, 3.0, testutil.ToFloat64(Nodes))
	assert.Equal(t, 5.0, testutil.ToFloat64(Endpoints.WithLabelValues("publisher")))
	assert.Equal(t, 7.0, testutil.ToFloat64(Endpoints.WithLabelValues("subscriber")))
}

func TestHandlerServesCollectors(t *testing.T) {
	SetRegistry(1, 0, 0)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "broker_registered_nodes 1")
}
