// Package inventory is the scheduler's own bookkeeping of machines, VMs, and
// the task-to-VM index (SPEC_FULL.md §3, §9 "Task-to-VM lookup"). The
// original source re-derives a task's owning VM by scanning every machine's
// VM list on every TaskComplete callback; this package instead maintains a
// map, grounded in the teacher's resmgr/task.Tracker (map[taskID]*RMTask)
// pattern.
package inventory

import (
	"context"
	"sort"

	"github.com/caspian-labs/vsched/accounting"
	"github.com/caspian-labs/vsched/errs"
	"github.com/caspian-labs/vsched/runtime"
	"github.com/caspian-labs/vsched/statemachine"
)

// VM lifecycle states. Shutdown is not a state of its own: VMShutdown is a
// synchronous runtime call with no completion callback, so a shut-down VM is
// simply removed from the inventory rather than parked in a terminal state.
const (
	Created   statemachine.State = "created"
	Attached  statemachine.State = "attached"
	Running   statemachine.State = "running"
	Migrating statemachine.State = "migrating"
)

func vmRules() []*statemachine.Rule {
	return []*statemachine.Rule{
		{From: Created, To: []statemachine.State{Attached}},
		{From: Attached, To: []statemachine.State{Running}},
		{From: Running, To: []statemachine.State{Migrating}},
		{From: Migrating, To: []statemachine.State{Running}},
	}
}

// VM is the inventory's record of one scheduler-owned VM.
type VM struct {
	ID      runtime.VMID
	Kind    runtime.VMKind
	CPUKind runtime.CPUKind
	Machine runtime.MachineID
	Tasks   map[runtime.TaskID]bool

	state *statemachine.StateMachine
}

// State returns the VM's current lifecycle state.
func (v *VM) State() statemachine.State {
	return v.state.Current()
}

// MachineStatic is the unchanging subset of a machine's attributes, cached at
// Init so placement decisions don't re-query them on every call.
type MachineStatic struct {
	CPUKind      runtime.CPUKind
	GPU          bool
	MemorySizeMB int64
}

// Inventory is the scheduler's authoritative view of the cluster topology: it
// does not track power state (see the transition package) or in-flight
// migrations (see the migration package), only what exists and what runs
// where.
type Inventory struct {
	statics []MachineStatic
	vmsByMachine map[runtime.MachineID]map[runtime.VMID]bool

	vms       map[runtime.VMID]*VM
	taskIndex map[runtime.TaskID]runtime.VMID
}

// New builds an Inventory from the runtime's reported machine statics.
func New(ctx context.Context, cluster runtime.Cluster) *Inventory {
	count := cluster.MachineCount(ctx)
	statics := make([]MachineStatic, count)
	vmsByMachine := make(map[runtime.MachineID]map[runtime.VMID]bool, count)
	for i := 0; i < count; i++ {
		m := runtime.MachineID(i)
		info := cluster.MachineInfo(ctx, m)
		statics[i] = MachineStatic{CPUKind: info.CPUKind, GPU: info.GPU, MemorySizeMB: info.MemorySizeMB}
		vmsByMachine[m] = make(map[runtime.VMID]bool)
	}
	return &Inventory{
		statics:      statics,
		vmsByMachine: vmsByMachine,
		vms:          make(map[runtime.VMID]*VM),
		taskIndex:    make(map[runtime.TaskID]runtime.VMID),
	}
}

// MachineCount returns the number of machines in the inventory.
func (inv *Inventory) MachineCount() int {
	return len(inv.statics)
}

// Static returns the cached static attributes of machine m.
func (inv *Inventory) Static(m runtime.MachineID) MachineStatic {
	return inv.statics[m]
}

// VM looks up a VM record by id.
func (inv *Inventory) VM(id runtime.VMID) (*VM, bool) {
	v, ok := inv.vms[id]
	return v, ok
}

// VMsOn returns the ids of VMs currently attached to machine m.
func (inv *Inventory) VMsOn(m runtime.MachineID) []runtime.VMID {
	set := inv.vmsByMachine[m]
	ids := make([]runtime.VMID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// AllVMs returns every VM currently in the inventory in ascending VM id
// order, so the reuse scans that walk it break ties the same way on every
// call.
func (inv *Inventory) AllVMs() []*VM {
	vms := make([]*VM, 0, len(inv.vms))
	for _, v := range inv.vms {
		vms = append(vms, v)
	}
	sort.Slice(vms, func(i, j int) bool { return vms[i].ID < vms[j].ID })
	return vms
}

// OwnerOf returns the VM a task is running on, if any.
func (inv *Inventory) OwnerOf(task runtime.TaskID) (runtime.VMID, bool) {
	vm, ok := inv.taskIndex[task]
	return vm, ok
}

// CreateVM registers a new VM with the runtime and the inventory, in the
// Created state, not yet attached to any machine.
func (inv *Inventory) CreateVM(ctx context.Context, cluster runtime.Cluster, kind runtime.VMKind, cpu runtime.CPUKind) (*VM, error) {
	id := cluster.VMCreate(ctx, kind, cpu)
	sm, err := statemachine.New("vm", Created, vmRules())
	if err != nil {
		return nil, err
	}
	v := &VM{ID: id, Kind: kind, CPUKind: cpu, Tasks: make(map[runtime.TaskID]bool), state: sm}
	inv.vms[id] = v
	return v, nil
}

// Attach places a Created VM onto machine m.
func (inv *Inventory) Attach(ctx context.Context, cluster runtime.Cluster, vm *VM, m runtime.MachineID) error {
	if err := vm.state.TransitTo(Attached, "attached"); err != nil {
		return err
	}
	cluster.VMAttach(ctx, vm.ID, m)
	vm.Machine = m
	inv.vmsByMachine[m][vm.ID] = true
	return nil
}

// AddTask admits a task onto vm, advancing it to Running on the first task.
func (inv *Inventory) AddTask(ctx context.Context, cluster runtime.Cluster, vm *VM, task runtime.TaskID, prio runtime.Priority) error {
	if vm.state.Current() == Attached {
		if err := vm.state.TransitTo(Running, "first task admitted"); err != nil {
			return err
		}
	}
	cluster.VMAddTask(ctx, vm.ID, task, prio)
	vm.Tasks[task] = true
	inv.taskIndex[task] = vm.ID
	return nil
}

// RemoveTask removes a task from its owning VM. It is a no-op if the task is
// not currently indexed (SPEC_FULL.md §7 tolerates a stale TaskComplete).
func (inv *Inventory) RemoveTask(ctx context.Context, cluster runtime.Cluster, task runtime.TaskID) (*VM, error) {
	vmID, ok := inv.taskIndex[task]
	if !ok {
		return nil, errs.ErrUnknownVM
	}
	vm := inv.vms[vmID]
	cluster.VMRemoveTask(ctx, vmID, task)
	delete(vm.Tasks, task)
	delete(inv.taskIndex, task)
	return vm, nil
}

// IsIdle reports whether a VM has no remaining tasks and is eligible for
// shutdown.
func (v *VM) IsIdle() bool {
	return len(v.Tasks) == 0
}

// Shutdown tears down an idle VM and removes it from the inventory. Used by
// the periodic janitor (SPEC_FULL.md §4.7), which must never tear down a VM
// still carrying tasks.
func (inv *Inventory) Shutdown(ctx context.Context, cluster runtime.Cluster, vm *VM) error {
	if !vm.IsIdle() {
		return errs.ErrNotPending
	}
	inv.teardown(ctx, cluster, vm)
	return nil
}

// ForceShutdown tears down vm regardless of whether it still has running
// tasks. Used only at simulation end (SPEC_FULL.md §4.8 "on shutdown, all
// VMs are shut down"): unlike the janitor's Shutdown, there is no later tick
// to retry an idle VM on, and every VM is expected to go down, busy or not.
func (inv *Inventory) ForceShutdown(ctx context.Context, cluster runtime.Cluster, vm *VM) {
	inv.teardown(ctx, cluster, vm)
}

func (inv *Inventory) teardown(ctx context.Context, cluster runtime.Cluster, vm *VM) {
	cluster.VMShutdown(ctx, vm.ID)
	for task := range vm.Tasks {
		delete(inv.taskIndex, task)
	}
	delete(inv.vmsByMachine[vm.Machine], vm.ID)
	delete(inv.vms, vm.ID)
}

// StartMigration advances vm to the Migrating state. The inventory's
// Machine field is not updated until CompleteMigration, so lookups by
// current machine continue to reflect the pre-migration placement until the
// runtime actually reports completion -- the migration package's projected
// accounting is what callers should trust for capacity decisions in the
// meantime.
func (inv *Inventory) StartMigration(ctx context.Context, cluster runtime.Cluster, vm *VM, to runtime.MachineID) error {
	if err := vm.state.TransitTo(Migrating, "migration issued"); err != nil {
		return err
	}
	cluster.VMMigrate(ctx, vm.ID, to)
	return nil
}

// CompleteMigration moves vm's inventory record to its new machine and
// returns it to Running.
func (inv *Inventory) CompleteMigration(vm *VM, to runtime.MachineID) error {
	if err := vm.state.TransitTo(Running, "migration complete"); err != nil {
		return err
	}
	delete(inv.vmsByMachine[vm.Machine], vm.ID)
	vm.Machine = to
	inv.vmsByMachine[to][vm.ID] = true
	return nil
}

// Footprint is vm's memory footprint: the configured per-VM overhead plus
// the sum of its tasks' reported memory. It is the single definition of "how
// much memory does a VM need" shared by placement, consolidation, and the
// warning handlers so they never disagree about it.
func Footprint(ctx context.Context, cluster runtime.Cluster, overheadMB int64, vm *VM) accounting.MemoryMB {
	total := accounting.MemoryMB(overheadMB)
	for task := range vm.Tasks {
		total = total.Add(accounting.MemoryMB(cluster.TaskQueries(ctx, task).MemoryMB))
	}
	return total
}

// GPURequired reports whether any task currently on vm needs GPU capacity.
// VM records carry no GPU flag of their own; it is derived from their tasks
// so it can never drift from the per-task requirement compat.Match checks.
func GPURequired(ctx context.Context, cluster runtime.Cluster, vm *VM) bool {
	for task := range vm.Tasks {
		if cluster.TaskQueries(ctx, task).GPUCapable {
			return true
		}
	}
	return false
}
