package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Transaction("committed")
	m.Transaction("committed")
	m.Conflict("preparation")
	m.Recovery("rollback")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transactions.WithLabelValues("committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("preparation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recoveries.WithLabelValues("rollback")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Transaction("committed")
	m.Conflict("validation")
	m.Recovery("rollforward")
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Conflict("commit")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `helioscommit_transaction_conflicts_total{kind="commit"} 1`))
}
