package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObservePassCountsByTriggerAndOutcome(t *testing.T) {
	m := New()

	m.ObservePass("tick", "ok", 0.01)
	m.ObservePass("tick", "skipped", 0)
	m.ObservePass("tick", "ok", 0.02)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.passesTotal.WithLabelValues("tick", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.passesTotal.WithLabelValues("tick", "skipped")))
}

func TestAddApplied(t *testing.T) {
	m := New()

	m.AddApplied(3, 1, 2)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.scheduledTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cancelledTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.failedTotal))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObservePass("tick", "ok", 1)
	m.AddApplied(1, 1, 1)
	m.ObserveDelivery(true)
}
