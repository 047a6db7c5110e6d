package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegistryCounts(t *testing.T) {
	r := New()
	r.Quote("probe")
	r.Quote("probe")
	r.Quote("fallback")
	r.ProbeFailure("500/10")
	r.Operation("send", "ok")
	r.Execution("success", 1500*time.Millisecond)
	r.Sponsorship("PARTIAL")

	require.Equal(t, 2.0, testutil.ToFloat64(r.quotes.WithLabelValues("probe")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.quotes.WithLabelValues("fallback")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.probeFailures.WithLabelValues("500/10")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("send", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.executions.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.sponsorship.WithLabelValues("PARTIAL")))
	require.Equal(t, 1, testutil.CollectAndCount(r.duration))
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	require.NotPanics(t, func() {
		r.Quote("probe")
		r.ProbeFailure("500/10")
		r.Operation("send", "ok")
		r.Execution("error", time.Second)
		r.Sponsorship("NONE")
	})
}

func TestCollectorsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors := New().Collectors()
	require.Len(t, collectors, 6)
	for _, c := range collectors {
		require.NoError(t, reg.Register(c))
	}
}
