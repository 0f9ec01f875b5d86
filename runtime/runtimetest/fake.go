// Package runtimetest provides a hand-written, in-memory fake of
// runtime.Cluster for use in scheduler tests and the demo harness.
//
// The teacher pack generates mocks with golang/mock (gomock) from protobuf
// service interfaces (e.g. hostmgr/hostsvc, resmgrsvc). Cluster has no
// generated service definition to point mockgen at -- it is a plain Go
// interface authored for this module -- and this environment has no way to
// run `go generate`/`mockgen` to produce the usual `mocks` subpackage.
// Rather than hand-author code that merely pretends to be generated, this is
// a straightforward fake: it holds real state (machines, VMs, tasks) and
// behaves like a tiny single-host simulator, which is the more useful shape
// for exercising a policy engine's behavior across several calls anyway
// (compare the teacher's testutil packages, e.g. placement/testutil, which
// build fixtures rather than mock expectations).
package runtimetest

import (
	"context"
	"fmt"

	"github.com/caspian-labs/vsched/runtime"
)

type machineState struct {
	info runtime.MachineInfo
}

type vmState struct {
	kind      runtime.VMKind
	cpu       runtime.CPUKind
	machine   runtime.MachineID
	tasks     map[runtime.TaskID]bool
	attached  bool
}

// Fake is an in-memory runtime.Cluster. The zero value is not usable; build
// one with New and MachineSpec.
type Fake struct {
	machines []machineState
	vms      map[runtime.VMID]*vmState
	nextVM   runtime.VMID
	tasks    map[runtime.TaskID]runtime.TaskInfo

	slaReports map[runtime.SLAClass]float64
	energyKWh  float64

	Outputs    []string
	Exceptions []string

	// VMOverheadMB is added to a VM's footprint whenever the fake reports
	// MemoryUsedMB, mirroring the runtime-defined per-VM memory overhead
	// named in SPEC_FULL.md §6.
	VMOverheadMB int64
}

// MachineSpec describes one machine's static and initial attributes.
type MachineSpec struct {
	CPUKind      runtime.CPUKind
	GPU          bool
	MemorySizeMB int64
	Initial      runtime.SState
}

// New builds a Fake with the given machines, numbered in order starting at 0.
func New(specs []MachineSpec) *Fake {
	f := &Fake{
		vms:        make(map[runtime.VMID]*vmState),
		tasks:      make(map[runtime.TaskID]runtime.TaskInfo),
		slaReports: make(map[runtime.SLAClass]float64),
	}
	for _, spec := range specs {
		f.machines = append(f.machines, machineState{info: runtime.MachineInfo{
			CPUKind:      spec.CPUKind,
			GPU:          spec.GPU,
			MemorySizeMB: spec.MemorySizeMB,
			MemoryUsedMB: 0,
			SState:       spec.Initial,
		}})
	}
	return f
}

// SetTask registers the static attributes of a task so TaskQueries can
// answer for it.
func (f *Fake) SetTask(id runtime.TaskID, info runtime.TaskInfo) {
	f.tasks[id] = info
}

// SetSLAReport fixes the violation percentage SLAReport returns for a class.
func (f *Fake) SetSLAReport(class runtime.SLAClass, pct float64) {
	f.slaReports[class] = pct
}

// SetEnergy fixes the value ClusterEnergyKWh returns.
func (f *Fake) SetEnergy(kwh float64) {
	f.energyKWh = kwh
}

// CompleteTransition simulates the runtime finishing an asynchronous
// power-state change: MachineInfo now reflects the new state. The caller is
// responsible for then invoking the scheduler's StateChangeComplete, exactly
// as the real simulator would.
func (f *Fake) CompleteTransition(m runtime.MachineID, to runtime.SState) {
	f.machines[m].info.SState = to
}

// MachineCount implements runtime.Cluster.
func (f *Fake) MachineCount(ctx context.Context) int {
	return len(f.machines)
}

// MachineInfo implements runtime.Cluster.
func (f *Fake) MachineInfo(ctx context.Context, m runtime.MachineID) runtime.MachineInfo {
	info := f.machines[m].info
	info.ActiveVMs = 0
	info.ActiveTasks = 0
	used := int64(0)
	for _, vm := range f.vms {
		if !vm.attached || vm.machine != m {
			continue
		}
		info.ActiveVMs++
		info.ActiveTasks += len(vm.tasks)
		used += f.vmFootprint(vm)
	}
	info.MemoryUsedMB = used
	return info
}

func (f *Fake) vmFootprint(vm *vmState) int64 {
	footprint := f.VMOverheadMB
	for task := range vm.tasks {
		footprint += f.tasks[task].MemoryMB
	}
	return footprint
}

// SetMachineState implements runtime.Cluster. It changes nothing;
// MachineInfo keeps reporting the prior state until the test calls
// CompleteTransition, modeling the runtime's asynchronous transition.
func (f *Fake) SetMachineState(ctx context.Context, m runtime.MachineID, s runtime.SState) {
	// Intentionally a no-op beyond bookkeeping the caller already does via
	// the scheduler's transition tracker; see CompleteTransition.
	_ = s
}

// VMCreate implements runtime.Cluster.
func (f *Fake) VMCreate(ctx context.Context, kind runtime.VMKind, cpu runtime.CPUKind) runtime.VMID {
	f.nextVM++
	id := f.nextVM
	f.vms[id] = &vmState{kind: kind, cpu: cpu, tasks: make(map[runtime.TaskID]bool)}
	return id
}

// VMAttach implements runtime.Cluster.
func (f *Fake) VMAttach(ctx context.Context, vm runtime.VMID, m runtime.MachineID) {
	v := f.vms[vm]
	v.machine = m
	v.attached = true
}

// VMAddTask implements runtime.Cluster.
func (f *Fake) VMAddTask(ctx context.Context, vm runtime.VMID, task runtime.TaskID, prio runtime.Priority) {
	f.vms[vm].tasks[task] = true
}

// VMRemoveTask implements runtime.Cluster.
func (f *Fake) VMRemoveTask(ctx context.Context, vm runtime.VMID, task runtime.TaskID) {
	if v, ok := f.vms[vm]; ok {
		delete(v.tasks, task)
	}
}

// VMMigrate implements runtime.Cluster. Like SetMachineState, it changes
// nothing; MachineInfo keeps reporting the VM on its current
// machine until the test calls CompleteMigrate, modeling the runtime's
// asynchronous migration (completion is reported back to the scheduler via
// MigrationDone, matching SPEC_FULL.md §4.1's rationale for projected
// accounting: raw runtime state lags the issued migration).
func (f *Fake) VMMigrate(ctx context.Context, vm runtime.VMID, to runtime.MachineID) {
	_ = vm
	_ = to
}

// CompleteMigrate simulates the runtime finishing an asynchronous VM
// migration. The caller is responsible for then invoking the scheduler's
// MigrationDone, exactly as the real simulator would.
func (f *Fake) CompleteMigrate(vm runtime.VMID, to runtime.MachineID) {
	if v, ok := f.vms[vm]; ok {
		v.machine = to
	}
}

// VMShutdown implements runtime.Cluster.
func (f *Fake) VMShutdown(ctx context.Context, vm runtime.VMID) {
	delete(f.vms, vm)
}

// VMInfo implements runtime.Cluster.
func (f *Fake) VMInfo(ctx context.Context, vm runtime.VMID) runtime.VMInfo {
	v, ok := f.vms[vm]
	if !ok {
		return runtime.VMInfo{}
	}
	tasks := make([]runtime.TaskID, 0, len(v.tasks))
	for t := range v.tasks {
		tasks = append(tasks, t)
	}
	return runtime.VMInfo{Kind: v.kind, CPUKind: v.cpu, MachineID: v.machine, ActiveTasks: tasks}
}

// TaskQueries implements runtime.Cluster.
func (f *Fake) TaskQueries(ctx context.Context, task runtime.TaskID) runtime.TaskInfo {
	return f.tasks[task]
}

// SLAReport implements runtime.Cluster.
func (f *Fake) SLAReport(ctx context.Context, class runtime.SLAClass) float64 {
	return f.slaReports[class]
}

// ClusterEnergyKWh implements runtime.Cluster.
func (f *Fake) ClusterEnergyKWh(ctx context.Context) float64 {
	return f.energyKWh
}

// Output implements runtime.Cluster.
func (f *Fake) Output(ctx context.Context, msg string, verbosity runtime.Verbosity) {
	f.Outputs = append(f.Outputs, fmt.Sprintf("[%d] %s", verbosity, msg))
}

// ThrowException implements runtime.Cluster.
func (f *Fake) ThrowException(ctx context.Context, msg string, verbosity runtime.Verbosity) {
	f.Exceptions = append(f.Exceptions, fmt.Sprintf("[%d] %s", verbosity, msg))
}

var _ runtime.Cluster = (*Fake)(nil)
