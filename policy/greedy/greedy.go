// Package greedy implements the default best-fit-decreasing-utilization
// placement and consolidation algorithm (SPEC_FULL.md §4.3, §4.4). It is the
// fully realized policy variant; policy/pmapper delegates its reuse/new-VM
// steps here and only diverges on wake ordering.
package greedy

import (
	"context"

	"github.com/caspian-labs/vsched/accounting"
	"github.com/caspian-labs/vsched/compat"
	"github.com/caspian-labs/vsched/errs"
	"github.com/caspian-labs/vsched/inventory"
	"github.com/caspian-labs/vsched/policy"
	"github.com/caspian-labs/vsched/projection"
	"github.com/caspian-labs/vsched/rank"
	"github.com/caspian-labs/vsched/runtime"
)

// Greedy is the stateless default policy. Its methods are pure functions of
// the Env passed in, so a single value can be shared across scheduler
// instances.
type Greedy struct{}

// New returns a Greedy policy.
func New() *Greedy {
	return &Greedy{}
}

// Name implements policy.Policy.
func (g *Greedy) Name() string {
	return "greedy"
}

// Place implements policy.Policy per SPEC_FULL.md §4.3.
func (g *Greedy) Place(ctx context.Context, env policy.Env, task policy.TaskView) (policy.Decision, error) {
	dec, handled, err := g.ReuseOrNewVM(ctx, env, task)
	if err != nil || handled {
		return dec, err
	}

	req := compat.Requirement{CPUKind: task.CPUKind, GPUCapable: task.GPU}
	if m, ok := wakeCandidate(env, req); ok {
		if err := env.Transitions.RequestWake(ctx, env.Cluster, m); err != nil {
			return policy.Decision{}, err
		}
		return policy.Decision{Kind: policy.DecisionQueued, Machine: m}, nil
	}

	return policy.Decision{Kind: policy.DecisionFailed}, errs.ErrNoCompatibleHost
}

// ReuseOrNewVM runs §4.3 steps 1-2 only (reuse, then new VM on an existing
// stable machine), without touching the wake step. Exported so policy
// variants that diverge only on wake ordering (policy/pmapper) can share
// this part of the algorithm instead of reimplementing it.
func (g *Greedy) ReuseOrNewVM(ctx context.Context, env policy.Env, task policy.TaskView) (policy.Decision, bool, error) {
	req := compat.Requirement{CPUKind: task.CPUKind, GPUCapable: task.GPU}

	if vm, ok := reuseCandidate(ctx, env, req, task); ok {
		if err := env.Inventory.AddTask(ctx, env.Cluster, vm, task.Task, runtime.PriorityForSLA(task.SLAClass)); err != nil {
			return policy.Decision{}, true, err
		}
		return policy.Decision{Kind: policy.DecisionReuse, VM: vm.ID, Machine: vm.Machine}, true, nil
	}

	if m, ok := newVMCandidate(ctx, env, req, task); ok {
		vm, err := env.Inventory.CreateVM(ctx, env.Cluster, task.VMKind, task.CPUKind)
		if err != nil {
			return policy.Decision{}, true, err
		}
		if err := env.Inventory.Attach(ctx, env.Cluster, vm, m); err != nil {
			return policy.Decision{}, true, err
		}
		if err := env.Inventory.AddTask(ctx, env.Cluster, vm, task.Task, runtime.PriorityForSLA(task.SLAClass)); err != nil {
			return policy.Decision{}, true, err
		}
		return policy.Decision{Kind: policy.DecisionNewVM, VM: vm.ID, Machine: m}, true, nil
	}

	return policy.Decision{}, false, nil
}

// reuseCandidate implements §4.3 step 1: the existing VM, on a stable host,
// that fits the task at the highest resulting utilization.
func reuseCandidate(ctx context.Context, env policy.Env, req compat.Requirement, task policy.TaskView) (*inventory.VM, bool) {
	var best *inventory.VM
	var bestRemaining accounting.MemoryMB
	var bestUtil float64

	for _, vm := range env.Inventory.AllVMs() {
		if vm.Kind != task.VMKind || vm.CPUKind != task.CPUKind || env.Migrations.IsMigrating(vm.ID) {
			continue
		}
		m := vm.Machine
		if !env.Transitions.Stable(ctx, env.Cluster, m) {
			continue
		}
		info := env.Cluster.MachineInfo(ctx, m)
		if !compat.Match(req, compat.Host{CPUKind: info.CPUKind, GPU: info.GPU}) {
			continue
		}
		used := projection.Memory(ctx, env.Cluster, env.Migrations, m)
		if !accounting.Fits(used, accounting.MemoryMB(task.MemoryMB), info.MemorySizeMB, env.MaxUtilization) {
			continue
		}
		remaining := accounting.MemoryMB(info.MemorySizeMB) - used
		util := accounting.Utilization(used, info.MemorySizeMB)
		if best == nil || better(remaining, util, m, bestRemaining, bestUtil, best.Machine) {
			best, bestRemaining, bestUtil = vm, remaining, util
		}
	}
	return best, best != nil
}

// newVMCandidate implements §4.3 step 2: the stable machine with matching
// CPU/GPU and least remaining memory after the new VM would land.
func newVMCandidate(ctx context.Context, env policy.Env, req compat.Requirement, task policy.TaskView) (runtime.MachineID, bool) {
	var candidates []rank.Candidate
	for i := 0; i < env.Inventory.MachineCount(); i++ {
		m := runtime.MachineID(i)
		if !env.Transitions.Stable(ctx, env.Cluster, m) {
			continue
		}
		static := env.Inventory.Static(m)
		if !compat.Match(req, compat.Host{CPUKind: static.CPUKind, GPU: static.GPU}) {
			continue
		}
		used := projection.Memory(ctx, env.Cluster, env.Migrations, m)
		want := accounting.MemoryMB(env.VMOverheadMB + task.MemoryMB)
		if !accounting.Fits(used, want, static.MemorySizeMB, env.MaxUtilization) {
			continue
		}
		remaining := accounting.MemoryMB(static.MemorySizeMB) - used
		candidates = append(candidates, rank.Candidate{
			Machine:     m,
			RemainingMB: int64(remaining),
			Utilization: accounting.Utilization(used, static.MemorySizeMB),
		})
	}
	if len(candidates) == 0 {
		return 0, false
	}
	return rank.ByBestFit(candidates)[0], true
}

// wakeCandidate implements §4.3 step 3: the first id-order machine with
// matching CPU/GPU that is either fully off or already waking.
func wakeCandidate(env policy.Env, req compat.Requirement) (runtime.MachineID, bool) {
	for i := 0; i < env.Inventory.MachineCount(); i++ {
		m := runtime.MachineID(i)
		static := env.Inventory.Static(m)
		if !compat.Match(req, compat.Host{CPUKind: static.CPUKind, GPU: static.GPU}) {
			continue
		}
		if env.Transitions.CanWakeCandidate(m) {
			return m, true
		}
	}
	return 0, false
}

func better(remaining accounting.MemoryMB, util float64, m runtime.MachineID, bestRemaining accounting.MemoryMB, bestUtil float64, bestMachine runtime.MachineID) bool {
	if remaining != bestRemaining {
		return remaining < bestRemaining
	}
	if util != bestUtil {
		return util < bestUtil
	}
	return m < bestMachine
}

// Consolidate implements policy.Policy per SPEC_FULL.md §4.4. It mutates
// env's collaborators directly as it goes (issuing migrations and sleep
// requests), rather than batching actions for the caller to apply later, and
// returns the actions it has already taken: a later candidate's fit must see every migration issued by an
// earlier one in the same pass, or the loop would repeatedly pick the same
// target until it overflowed.
func (g *Greedy) Consolidate(ctx context.Context, env policy.Env) ([]policy.Action, error) {
	var actions []policy.Action

	var candidates []rank.Candidate
	utilByMachine := make(map[runtime.MachineID]float64)
	for i := 0; i < env.Inventory.MachineCount(); i++ {
		m := runtime.MachineID(i)
		info := env.Cluster.MachineInfo(ctx, m)
		if info.SState != runtime.S0 {
			continue
		}
		used := projection.Memory(ctx, env.Cluster, env.Migrations, m)
		util := accounting.Utilization(used, info.MemorySizeMB)
		utilByMachine[m] = util
		candidates = append(candidates, rank.Candidate{
			Machine:     m,
			RemainingMB: int64(accounting.MemoryMB(info.MemorySizeMB) - used),
			Utilization: util,
		})
	}
	order := rank.ByUtilizationAscending(candidates)

	for j, m := range order {
		// A machine already at zero utilization has nothing to migrate off
		// it, but it is still a candidate for sleep below -- the
		// zero-utilization and TargetedBy skips only cover the migration
		// loop, never the sleep check, or an already-empty machine could
		// never be powered off.
		if utilByMachine[m] != 0 && !env.Migrations.TargetedBy(m) {
			for _, vmID := range env.Inventory.VMsOn(m) {
				vm, ok := env.Inventory.VM(vmID)
				if !ok || env.Migrations.IsMigrating(vm.ID) {
					continue
				}
				target, vmMem, ok := migrationTarget(ctx, env, vm, order[j+1:])
				if !ok {
					continue
				}
				if err := env.Migrations.Issue(vm.ID, m, target, vmMem); err != nil {
					continue
				}
				if err := env.Inventory.StartMigration(ctx, env.Cluster, vm, target); err != nil {
					return actions, err
				}
				actions = append(actions, policy.Action{Kind: policy.ActionMigrate, VM: vm.ID, Source: m, Target: target})
			}
		}

		if int(m) < env.MinActiveMachines {
			continue
		}
		if projection.Memory(ctx, env.Cluster, env.Migrations, m) == 0 {
			if err := env.Transitions.RequestSleep(ctx, env.Cluster, m); err != nil {
				return actions, err
			}
			actions = append(actions, policy.Action{Kind: policy.ActionSleep, Machine: m})
		}
	}
	return actions, nil
}

// migrationTarget scans candidate machines (already S0, ranked by ascending
// utilization) for the first one with matching CPU/GPU and spare capacity
// for vm's current footprint.
func migrationTarget(ctx context.Context, env policy.Env, vm *inventory.VM, candidates []runtime.MachineID) (runtime.MachineID, accounting.MemoryMB, bool) {
	vmMem := inventory.Footprint(ctx, env.Cluster, env.VMOverheadMB, vm)
	req := compat.Requirement{CPUKind: vm.CPUKind, GPUCapable: inventory.GPURequired(ctx, env.Cluster, vm)}
	for _, t := range candidates {
		info := env.Cluster.MachineInfo(ctx, t)
		if info.SState != runtime.S0 {
			continue
		}
		static := env.Inventory.Static(t)
		if !compat.Match(req, compat.Host{CPUKind: static.CPUKind, GPU: static.GPU}) {
			continue
		}
		used := projection.Memory(ctx, env.Cluster, env.Migrations, t)
		if !accounting.Fits(used, vmMem, static.MemorySizeMB, env.MaxUtilization) {
			continue
		}
		return t, vmMem, true
	}
	return 0, 0, false
}

var _ policy.Policy = (*Greedy)(nil)
