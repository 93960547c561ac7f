package telemetry_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/vrrb-network/consensus-core/telemetry"
)

func TestRegisterAttachesEveryCollector(t *testing.T) {
	m := telemetry.New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestRegisterRejectsDuplicateRegistration(t *testing.T) {
	m := telemetry.New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	require.Error(t, m.Register(reg))
}

func TestCountersIncrement(t *testing.T) {
	m := telemetry.New()
	m.DkgRoundsFinalized.Inc()
	m.QuorumFormed.WithLabelValues("Farmer").Inc()

	var out dto.Metric
	require.NoError(t, m.DkgRoundsFinalized.Write(&out))
	require.Equal(t, float64(1), out.GetCounter().GetValue())
}
