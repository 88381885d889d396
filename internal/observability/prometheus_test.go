package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func gatherValues(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "," + lp.GetName() + "=" + lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestPrometheusRecorder_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	ctx := context.Background()
	rec.Observe(ctx, "todos", "add", true, 3*time.Millisecond)
	rec.Observe(ctx, "todos", "add", false, time.Millisecond)
	rec.Observe(ctx, "todos", "", true, time.Millisecond)

	got := gatherValues(t, reg)
	require.Equal(t, float64(1), got["simplepersist_operations_total,operation=add,status=success,store=todos"])
	require.Equal(t, float64(1), got["simplepersist_operations_total,operation=add,status=error,store=todos"])
	require.Equal(t, float64(2), got["simplepersist_operation_duration_seconds,operation=add,store=todos"])
}

func TestPrometheusRecorder_DoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)
	_, err = NewPrometheusRecorder(reg)
	require.Error(t, err)

	_, err = NewPrometheusRecorder(nil)
	require.NoError(t, err)
}

func TestHubCollector_ReadsOnScrape(t *testing.T) {
	stats := HubStats{Scopes: 1, Subscribers: 3}
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewHubCollector(func() HubStats { return stats })))

	got := gatherValues(t, reg)
	require.Equal(t, float64(1), got["simplepersist_hub_scopes"])
	require.Equal(t, float64(3), got["simplepersist_hub_subscribers"])

	stats = HubStats{}
	got = gatherValues(t, reg)
	require.Zero(t, got["simplepersist_hub_subscribers"])
}

func TestLoggerOrNoop(t *testing.T) {
	require.Equal(t, NoopLogger{}, LoggerOrNoop(nil))
	require.NotPanics(t, func() { LoggerOrNoop(nil).Error("x", "k", 1) })
}
