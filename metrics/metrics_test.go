package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"pos-ledger/metrics"
	"pos-ledger/models"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	m.BlockCommitted(3, 2)
	m.TxRejected("invalid_fee")
	m.TxRejected("invalid_fee")
	m.SetStaking(models.NewAmount(15000), 3)
	m.SetHalted(true)

	count, err := testutil.GatherAndCount(reg, "ledger_transactions_rejected_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetGauge() != nil:
				values[mf.GetName()] = metric.GetGauge().GetValue()
			case metric.GetCounter() != nil:
				values[mf.GetName()] += metric.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, 3.0, values["ledger_height"])
	require.Equal(t, 2.0, values["ledger_transactions_included_total"])
	require.Equal(t, 2.0, values["ledger_transactions_rejected_total"])
	require.Equal(t, 15000.0, values["ledger_total_staked"])
	require.Equal(t, 3.0, values["ledger_active_validators"])
	require.Equal(t, 1.0, values["ledger_halted"])
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.New(reg)
	require.NoError(t, err)
	_, err = metrics.New(reg)
	require.Error(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.BlockCommitted(1, 1)
	m.TxRejected("x")
	m.SetStaking(models.NewAmount(1), 1)
	m.SetHalted(true)
}
