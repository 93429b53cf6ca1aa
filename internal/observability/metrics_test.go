package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetricsRecordAgentCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.RecordAgentCall(context.Background(), "implementer", 2*time.Second, 1200, nil)
	m.RecordAgentCall(context.Background(), "implementer", time.Second, 0, errors.New("boom"))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var callsTotal float64
	for _, fam := range families {
		if fam.GetName() == "hive_agent_calls_total" {
			for _, metric := range fam.GetMetric() {
				callsTotal += metric.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, float64(2), callsTotal)
}

func TestGlobalMetricsDefaultsToNoop(t *testing.T) {
	require.IsType(t, NoopMetrics{}, Global())
	SetGlobal(nil)
	require.IsType(t, NoopMetrics{}, Global())
}

func TestNoopMetricsNeverPanics(t *testing.T) {
	var m NoopMetrics
	m.RecordAgentCall(context.Background(), "x", time.Second, 1, nil)
	m.RecordValidationOutcome(context.Background(), "plan", true)
	m.RecordChallengeOutcome(context.Background(), "resolved")
	m.RecordCostSpend(context.Background(), "x", 1.23)
	m.RecordCheckpointResume(context.Background(), "plan")
}
