// Package policy declares the narrow plug-in interface the scheduler drives
// placement and consolidation through, mirroring the teacher's
// placement/plugins.Strategy switch in placement/engine.go (`case
// config.Batch: ... case config.Mimir: ...`), here keyed by a Variant config
// tag instead of a protobuf enum.
package policy

import (
	"context"

	"github.com/caspian-labs/vsched/inventory"
	"github.com/caspian-labs/vsched/migration"
	"github.com/caspian-labs/vsched/runtime"
	"github.com/caspian-labs/vsched/transition"
)

// Env bundles the collaborators a policy needs, so implementations stay
// independently testable against a fake Cluster without depending on the
// scheduler package itself.
type Env struct {
	Cluster     runtime.Cluster
	Inventory   *inventory.Inventory
	Transitions *transition.Tracker
	Migrations  *migration.Tracker

	MaxUtilization     float64
	VMOverheadMB       int64
	MinActiveMachines  int
}

// TaskView is the subset of a task's attributes a policy needs to place it.
type TaskView struct {
	Task     runtime.TaskID
	VMKind   runtime.VMKind
	CPUKind  runtime.CPUKind
	GPU      bool
	MemoryMB int64
	SLAClass runtime.SLAClass
}

// DecisionKind distinguishes the four outcomes §4.3 allows for a placement.
type DecisionKind int

const (
	// DecisionReuse admits the task onto an existing VM.
	DecisionReuse DecisionKind = iota
	// DecisionNewVM creates a VM on an existing stable machine and admits
	// the task onto it.
	DecisionNewVM
	// DecisionQueued appends the task to the pending-task queue and
	// requests a wake-up.
	DecisionQueued
	// DecisionFailed means no compatible host exists anywhere.
	DecisionFailed
)

// Decision is the outcome of a placement attempt.
type Decision struct {
	Kind    DecisionKind
	VM      runtime.VMID
	Machine runtime.MachineID
}

// ActionKind distinguishes the consolidation actions a policy can request.
type ActionKind int

const (
	// ActionMigrate issues a VM migration.
	ActionMigrate ActionKind = iota
	// ActionSleep requests a machine power-off.
	ActionSleep
)

// Action is one consolidation step a policy has already carried out; the
// scheduler only counts and logs it.
type Action struct {
	Kind    ActionKind
	VM      runtime.VMID
	Source  runtime.MachineID
	Target  runtime.MachineID
	Machine runtime.MachineID
}

// Policy is the pluggable placement/consolidation algorithm. Implementations
// receive the scheduler's collaborators through Env rather than holding a
// reference to the scheduler itself, so policies stay independently
// testable.
type Policy interface {
	// Name identifies the policy variant, matching the Config.PolicyVariant
	// tag.
	Name() string
	// Place chooses how to handle a newly arrived task.
	Place(ctx context.Context, env Env, task TaskView) (Decision, error)
	// Consolidate issues the migrate/sleep actions for a task completion
	// tick and returns the actions it took.
	Consolidate(ctx context.Context, env Env) ([]Action, error)
}
