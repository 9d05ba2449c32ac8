package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.MeteredAction("text", "ok")
	m.MeteredAction("text", "ok")
	m.MeteredAction("image", "denied")
	m.Expired(3)
	m.Expired(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.meteredActions.WithLabelValues("text", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.meteredActions.WithLabelValues("image", "denied")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweepExpired))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "assistant_bot_metered_actions_total")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MeteredAction("text", "ok")
		m.PaymentWebhook("ignored")
		m.Activation("admin")
		m.BroadcastSend(false)
		m.Update("message")
		m.Expired(1)
		m.Reminded()
	})
	assert.Nil(t, m.Registry())
}
