package observability_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/loaned/observability"
)

var testBindings = []observability.Binding{
	{Event: "loan.taken", Name: "taken_total", Help: "taken"},
	{Event: "loan.taken", Name: "held", Help: "held", Gauge: true, Delta: 1},
	{Event: "loan.returned", Name: "held", Help: "held", Gauge: true, Delta: -1},
}

func emit(obs observability.Observer, typ observability.EventType, topic string) {
	obs.OnEvent(context.Background(), observability.Event{
		Type:  typ,
		Level: observability.LevelVerbose,
		Data:  map[string]any{"topic": topic},
	})
}

func TestPrometheusObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := observability.NewPrometheusObserver(reg, "test", testBindings...)
	require.NoError(t, err)

	emit(obs, "loan.taken", "imu")
	emit(obs, "loan.taken", "imu")
	emit(obs, "loan.taken", "gps")
	emit(obs, "loan.returned", "imu")
	emit(obs, "unbound.event", "imu")

	count, err := testutil.GatherAndCount(reg, "test_taken_total", "test_held")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			key := mf.GetName() + "/" + m.GetLabel()[0].GetValue()
			if c := m.GetCounter(); c != nil {
				values[key] = c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				values[key] = g.GetValue()
			}
		}
	}

	assert.Equal(t, map[string]float64{
		"test_taken_total/imu": 2,
		"test_taken_total/gps": 1,
		"test_held/imu":        1,
		"test_held/gps":        1,
	}, values)
}

func TestPrometheusObserver_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := observability.NewPrometheusObserver(reg, "test", testBindings...)
	require.NoError(t, err)
	second, err := observability.NewPrometheusObserver(reg, "test", testBindings...)
	require.NoError(t, err)

	emit(first, "loan.taken", "imu")
	emit(second, "loan.taken", "imu")

	count, err := testutil.GatherAndCount(reg, "test_taken_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "test_taken_total" {
			assert.Equal(t, float64(2), mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
}

func TestPrometheusObserver_ConflictingBinding(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := observability.NewPrometheusObserver(reg, "test",
		observability.Binding{Event: "a", Name: "x", Help: "x"},
	)
	require.NoError(t, err)

	_, err = observability.NewPrometheusObserver(reg, "test",
		observability.Binding{Event: "a", Name: "x", Help: "x", Gauge: true, Delta: 1},
	)
	assert.Error(t, err)
}
