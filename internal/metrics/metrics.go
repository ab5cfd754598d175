// Package metrics exposes the coordinator's Prometheus instrumentation.
// Dashboards are an external collaborator; this is the interface to them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registers counts successful variable registrations.
	Registers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "varhub_registers_total",
		Help: "Successful variable registrations.",
	})

	// Updates counts successful variable updates.
	Updates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "varhub_updates_total",
		Help: "Successful variable updates.",
	})

	// MutationFailures counts rejected registrations and updates by error
	// code.
	MutationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "varhub_mutation_failures_total",
		Help: "Rejected variable mutations by error code.",
	}, []string{"code"})

	// Notifications counts observer notifications fanned out.
	Notifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "varhub_notifications_total",
		Help: "Observer notifications delivered to subscriber queues.",
	})

	// UsageRecords counts usage records ingested from bridges.
	UsageRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "varhub_usage_records_total",
		Help: "Usage records ingested from bridge batches.",
	})

	// ImpactRecords counts impact records ingested from bridges.
	ImpactRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "varhub_impact_records_total",
		Help: "Impact records ingested from bridge batches.",
	})

	// ActiveLocks tracks currently held optimization locks.
	ActiveLocks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "varhub_active_locks",
		Help: "Optimization locks currently held.",
	})

	// ExpiredLeases counts subscriber leases removed by the sweep.
	ExpiredLeases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "varhub_expired_leases_total",
		Help: "Subscriber leases expired by the liveness sweep.",
	})
)
