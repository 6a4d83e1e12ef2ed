package metrics

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSaleMetricsObserve(t *testing.T) {
	m := Sale()
	require.Same(t, m, Sale())

	before := testutil.ToFloat64(m.calls.WithLabelValues("commit", "success"))
	m.Observe("commit", 3*time.Millisecond, nil)
	m.Observe("commit", time.Millisecond, errors.New("boom"))
	require.Equal(t, before+1, testutil.ToFloat64(m.calls.WithLabelValues("commit", "success")))
	require.GreaterOrEqual(t, testutil.ToFloat64(m.calls.WithLabelValues("commit", "error")), 1.0)

	m.RecordRefund("cap")
	require.GreaterOrEqual(t, testutil.ToFloat64(m.refunds.WithLabelValues("cap")), 1.0)
}

func TestSaleMetricsTotals(t *testing.T) {
	m := Sale()
	eth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	m.RecordTotals(SaleTotals{
		CommittedETH:        new(big.Int).Mul(eth, big.NewInt(5)),
		WithdrawnETH:        new(big.Int).Mul(eth, big.NewInt(2)),
		ProjectWithdrawnETH: new(big.Int).Div(eth, big.NewInt(2)),
		Contributors:        7,
		Stage:               3,
	})
	require.Equal(t, 3.0, testutil.ToFloat64(m.committedETH))
	require.Equal(t, 2.0, testutil.ToFloat64(m.withdrawnETH))
	require.Equal(t, 0.5, testutil.ToFloat64(m.projectETH))
	require.Equal(t, 7.0, testutil.ToFloat64(m.contributors))
	require.Equal(t, 3.0, testutil.ToFloat64(m.stage))

	var nilMetrics *SaleMetrics
	nilMetrics.Observe("noop", 0, nil)
	nilMetrics.RecordTotals(SaleTotals{})
}
