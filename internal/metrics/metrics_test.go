// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insplane/insfleetd/internal/ins"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestSyncRegistryReflectsInstanceCountAndActivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	registry := ins.NewRegistry(4)
	i, err := registry.BindDomainID(1)
	require.NoError(t, err)
	i.UpdateStats(ins.Stats{MaxSockets: 100, UsedSockets: 40})

	m.SyncRegistry(registry)

	assert.Equal(t, float64(1), gaugeValue(t, m.InstancesTotal))
	assert.Equal(t, float64(0), gaugeValue(t, m.InstancesActive))
}
