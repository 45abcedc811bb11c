// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the control plane's Prometheus gauges and
// counters, in the same plain-struct-of-collectors style as
// internal/ebpf/metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/insplane/insfleetd/internal/ins"
)

// Metrics holds every collector this process registers.
type Metrics struct {
	InstancesTotal            prometheus.Gauge
	InstancesActive           prometheus.Gauge
	LoadRatio                 *prometheus.GaugeVec
	MissedHeartbeats          *prometheus.GaugeVec
	SpawnFailuresTotal        prometheus.Counter
	NetflowObservationsTotal  prometheus.Counter
	NetflowRequestsOutstanding prometheus.Gauge
	NetflowRequestsTimedOutTotal prometheus.Counter
}

// New builds a Metrics and registers every collector against reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		InstancesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "insfleetd_ins_instances_total",
			Help: "Number of INS instances currently tracked.",
		}),
		InstancesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "insfleetd_ins_active",
			Help: "1 if an INS instance is currently active, 0 otherwise.",
		}),
		LoadRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "insfleetd_ins_load_ratio",
			Help: "Per-instance used_sockets/max_sockets ratio.",
		}, []string{"domain_id"}),
		MissedHeartbeats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "insfleetd_ins_missed_heartbeats",
			Help: "Per-instance consecutive missed heartbeat count.",
		}, []string{"domain_id"}),
		SpawnFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insfleetd_ins_spawn_failures_total",
			Help: "Total hypervisor spawn attempts that failed.",
		}),
		NetflowObservationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insfleetd_netflow_observations_total",
			Help: "Total netflow Observation frames decoded.",
		}),
		NetflowRequestsOutstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "insfleetd_netflow_requests_outstanding",
			Help: "Feature requests sent but not yet answered.",
		}),
		NetflowRequestsTimedOutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insfleetd_netflow_requests_timed_out_total",
			Help: "Feature requests abandoned without a response.",
		}),
	}

	reg.MustRegister(
		m.InstancesTotal,
		m.InstancesActive,
		m.LoadRatio,
		m.MissedHeartbeats,
		m.SpawnFailuresTotal,
		m.NetflowObservationsTotal,
		m.NetflowRequestsOutstanding,
		m.NetflowRequestsTimedOutTotal,
	)
	return m
}

// SyncRegistry refreshes the per-instance and aggregate gauges from
// the current registry snapshot. Called once per supervisor loop
// iteration.
func (m *Metrics) SyncRegistry(registry *ins.Registry) {
	all := registry.Snapshot()
	m.InstancesTotal.Set(float64(len(all)))

	active := 0.0
	for _, i := range all {
		id := strconv.Itoa(i.DomainID)
		m.LoadRatio.WithLabelValues(id).Set(i.Stats().Load())
		m.MissedHeartbeats.WithLabelValues(id).Set(float64(i.MissedHeartbeats()))
		if i.Active() {
			active = 1.0
		}
	}
	m.InstancesActive.Set(active)
}
