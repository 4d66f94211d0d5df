package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestHandlerExportsCounters(t *testing.T) {
	require := require.New(t)
	Ingested.WithLabelValues("Like", "ok").Inc()
	require.Equal(float64(1), testutil.ToFloat64(Ingested.WithLabelValues("Like", "ok")))

	rw := httptest.NewRecorder()
	Handler().ServeHTTP(rw, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(200, rw.Code)
	require.Contains(rw.Body.String(), `solo_ingested_activities_total{result="ok",type="Like"} 1`)
}
