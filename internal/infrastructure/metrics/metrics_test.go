package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue sums the samples of a counter family whose labels include want.
func counterValue(t *testing.T, m *Metrics, name string, want map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	total := 0.0
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metric:
		for _, metric := range fam.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metric
				}
			}
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestCounters(t *testing.T) {
	m := New()

	m.TransitionRecorded("auto_advance", "RUNNING")
	m.TransitionRecorded("auto_advance", "RUNNING")
	m.TransitionRecorded("status_change", "HARVESTED")
	assert.InDelta(t, 2, counterValue(t, m, "growcore_cycle_transitions_total", map[string]string{"trigger": "auto_advance", "to_status": "RUNNING"}), 0)

	m.CountDispatch(true)
	m.CountDispatch(false)
	m.CountDispatch(false)
	assert.InDelta(t, 1, counterValue(t, m, "growcore_command_dispatches_total", map[string]string{"result": "created"}), 0)
	assert.InDelta(t, 2, counterValue(t, m, "growcore_command_dispatches_total", map[string]string{"result": "replayed"}), 0)

	m.TimeoutsSwept(3)
	m.TimeoutsSwept(0)
	assert.InDelta(t, 3, counterValue(t, m, "growcore_command_timeouts_swept_total", nil), 0)

	m.CountResolveEntry("empty")
	assert.InDelta(t, 1, counterValue(t, m, "growcore_targets_resolve_entries_total", map[string]string{"outcome": "empty"}), 0)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TransitionRecorded("manual_set", "RUNNING")
		m.ObserveResolve("batch", time.Millisecond)
		m.CountResolveEntry("snapshot")
		m.CountDispatch(true)
		m.CommandStatusChanged("DONE")
		m.AckRecorded("executed")
		m.TimeoutsSwept(2)
	})
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.AckRecorded("verified")
	m.ObserveResolve("cycle", 2*time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `growcore_command_acks_total{ack_type="verified"} 1`)
	assert.Contains(t, string(body), `growcore_targets_resolve_duration_seconds_count{mode="cycle"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
