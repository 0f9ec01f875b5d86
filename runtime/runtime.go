// Package runtime declares the collaborator interface the scheduler is
// driven through. The discrete-event simulator and the machine/VM runtime
// primitives it exposes are deliberately out of scope for this module (see
// SPEC_FULL.md §1); Cluster is the narrow, typed boundary the scheduler calls
// through instead of depending on the simulator directly. Production wiring
// supplies an adapter satisfying Cluster; tests and the demo harness use the
// in-memory fake in runtime/runtimetest.
package runtime

import "context"

// SState is a machine power state as reported by the runtime.
type SState int

const (
	// S0 is fully on.
	S0 SState = iota
	// S5 is fully off.
	S5
)

func (s SState) String() string {
	if s == S0 {
		return "S0"
	}
	return "S5"
}

// CPUKind and GPU presence are opaque categorical tags the runtime assigns to
// machines, VMs, and task requirements; the scheduler never interprets their
// values beyond equality.
type CPUKind string

// VMKind is an opaque categorical tag for the flavor of VM a task requires.
type VMKind string

// SLAClass is the service-level category of a task, strictest first.
type SLAClass int

const (
	SLA0 SLAClass = iota
	SLA1
	SLA2
	SLA3
)

func (c SLAClass) String() string {
	switch c {
	case SLA0:
		return "SLA0"
	case SLA1:
		return "SLA1"
	case SLA2:
		return "SLA2"
	case SLA3:
		return "SLA3"
	default:
		return "SLA?"
	}
}

// Priority is the admission priority derived from a task's SLA class.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMid
	PriorityHigh
)

// PriorityForSLA derives the admission priority from an SLA class, per
// SPEC_FULL.md §3: SLA0->HIGH, SLA1->MID, SLA2/SLA3->LOW. This mapping is a
// structural invariant, not a configuration tunable.
func PriorityForSLA(class SLAClass) Priority {
	switch class {
	case SLA0:
		return PriorityHigh
	case SLA1:
		return PriorityMid
	default:
		return PriorityLow
	}
}

// MachineID identifies a machine by its position in [0, N).
type MachineID int

// VMID identifies a scheduler-owned VM.
type VMID int64

// TaskID identifies an opaque, runtime-owned task.
type TaskID int64

// MachineInfo is the runtime's current view of one machine.
type MachineInfo struct {
	CPUKind      CPUKind
	GPU          bool
	MemorySizeMB int64
	MemoryUsedMB int64
	SState       SState
	ActiveVMs    int
	ActiveTasks  int
}

// VMInfo is the runtime's current view of one VM.
type VMInfo struct {
	Kind        VMKind
	CPUKind     CPUKind
	MachineID   MachineID
	ActiveTasks []TaskID
}

// TaskInfo is the set of task attributes the scheduler may query; tasks are
// read-only to the scheduler (SPEC_FULL.md §3).
type TaskInfo struct {
	VMKind      VMKind
	CPUKind     CPUKind
	GPUCapable  bool
	MemoryMB    int64
	SLAClass    SLAClass
}

// Verbosity mirrors the runtime's logging verbosity levels for Output and
// ThrowException, so the scheduler can ask for more or less detail without
// depending on the runtime's concrete logging implementation.
type Verbosity int

// Cluster is the full set of runtime primitives the scheduler consumes. It is
// implemented by the simulator's own adapter in production and by
// runtimetest.Fake in tests and the demo harness.
type Cluster interface {
	// MachineCount returns the number of machines, numbered [0, MachineCount()).
	MachineCount(ctx context.Context) int
	// MachineInfo returns the current runtime view of machine m.
	MachineInfo(ctx context.Context, m MachineID) MachineInfo
	// SetMachineState requests a power-state transition for machine m. The
	// transition completes asynchronously; completion is reported back to the
	// scheduler via the simulator calling StateChangeComplete.
	SetMachineState(ctx context.Context, m MachineID, s SState)

	// VMCreate creates a new VM of the given kind and CPU, not yet attached to
	// any machine.
	VMCreate(ctx context.Context, kind VMKind, cpu CPUKind) VMID
	// VMAttach attaches a previously created VM to a machine.
	VMAttach(ctx context.Context, vm VMID, m MachineID)
	// VMAddTask admits a task onto a VM at the given priority.
	VMAddTask(ctx context.Context, vm VMID, task TaskID, prio Priority)
	// VMRemoveTask removes a task from a VM.
	VMRemoveTask(ctx context.Context, vm VMID, task TaskID)
	// VMMigrate begins migrating a VM to another machine. Completion is
	// reported back to the scheduler via MigrationDone.
	VMMigrate(ctx context.Context, vm VMID, to MachineID)
	// VMShutdown tears down a VM immediately and unconditionally. Callers
	// that must not interrupt running tasks (the periodic janitor) check
	// for idleness themselves before calling this; VMShutdown itself applies
	// no such precondition.
	VMShutdown(ctx context.Context, vm VMID)
	// VMInfo returns the current runtime view of a VM.
	VMInfo(ctx context.Context, vm VMID) VMInfo

	// TaskQueries returns the static attributes of a task.
	TaskQueries(ctx context.Context, task TaskID) TaskInfo

	// SLAReport returns the violation percentage measured for an SLA class.
	SLAReport(ctx context.Context, class SLAClass) float64
	// ClusterEnergyKWh returns total cluster energy consumed so far.
	ClusterEnergyKWh(ctx context.Context) float64

	// Output emits a simulator-visible diagnostic message at the given
	// verbosity; it is not an error.
	Output(ctx context.Context, msg string, verbosity Verbosity)
	// ThrowException escalates an unrecoverable condition to the simulator.
	ThrowException(ctx context.Context, msg string, verbosity Verbosity)
}
