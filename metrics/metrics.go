// Package metrics is the scheduler's tally.Scope-based instrumentation,
// adapted from the teacher's placement/metrics.Metrics: a flat struct of
// pre-built counters and gauges rooted under subscopes, built once at
// startup and passed down instead of re-looked-up per call.
package metrics

import (
	"github.com/uber-go/tally"
)

// Metrics holds every counter and gauge the scheduler reports.
type Metrics struct {
	PlacementReuse  tally.Counter
	PlacementNewVM  tally.Counter
	PlacementQueued tally.Counter
	PlacementFailed tally.Counter

	MigrationsIssued    tally.Counter
	MigrationsCompleted tally.Counter

	WakeRequests  tally.Counter
	SleepRequests tally.Counter

	SLAWarnings    tally.Counter
	MemoryWarnings tally.Counter

	PolicyFallback tally.Counter

	QueueDepth      tally.Gauge
	MachinesInFlight tally.Gauge
	PoweredOnMachines tally.Gauge
}

// New builds a Metrics rooted below scope.
func New(scope tally.Scope) *Metrics {
	placementScope := scope.SubScope("placement")
	migrationScope := scope.SubScope("migration")
	powerScope := scope.SubScope("power")
	warningScope := scope.SubScope("warning")

	return &Metrics{
		PlacementReuse:  placementScope.Tagged(map[string]string{"outcome": "reuse"}).Counter("decisions"),
		PlacementNewVM:  placementScope.Tagged(map[string]string{"outcome": "new_vm"}).Counter("decisions"),
		PlacementQueued: placementScope.Tagged(map[string]string{"outcome": "queued"}).Counter("decisions"),
		PlacementFailed: placementScope.Tagged(map[string]string{"outcome": "failed"}).Counter("decisions"),

		MigrationsIssued:    migrationScope.Counter("issued"),
		MigrationsCompleted: migrationScope.Counter("completed"),

		WakeRequests:  powerScope.Tagged(map[string]string{"direction": "wake"}).Counter("requests"),
		SleepRequests: powerScope.Tagged(map[string]string{"direction": "sleep"}).Counter("requests"),

		SLAWarnings:    warningScope.Tagged(map[string]string{"kind": "sla"}).Counter("handled"),
		MemoryWarnings: warningScope.Tagged(map[string]string{"kind": "memory"}).Counter("handled"),

		PolicyFallback: scope.Counter("policy_fallback"),

		QueueDepth:        scope.Gauge("queue_depth"),
		MachinesInFlight:  powerScope.Gauge("in_flight"),
		PoweredOnMachines: powerScope.Gauge("on"),
	}
}
