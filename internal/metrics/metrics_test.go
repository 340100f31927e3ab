package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTradeSplitsPnLBySign(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.RealizedPnL.WithLabelValues("loss"))
	loss := -2.5
	RecordTrade("resolution", "value", true, &loss)
	RecordTrade("buy", "value", true, nil)

	assert.InDelta(t, before+2.5, testutil.ToFloat64(DefaultMetrics.RealizedPnL.WithLabelValues("loss")), 1e-9)
	assert.GreaterOrEqual(t, testutil.ToFloat64(DefaultMetrics.Trades.WithLabelValues("buy", "value", "paper")), 1.0)
}

func TestUpdateBreakerAndHandler(t *testing.T) {
	UpdateBreaker(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(DefaultMetrics.BreakerTripped))
	UpdateBreaker(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(DefaultMetrics.BreakerTripped))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "updownbot_risk_breaker_tripped"))
}
