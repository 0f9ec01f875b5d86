// Package scheduler is the dispatcher: it owns every collaborator the
// placement/consolidation policies need (inventory, transition tracker,
// migration tracker, pending queue) and is the single entry point the
// simulator drives through its nine callbacks (SPEC_FULL.md §4.8, §6). It
// is invoked single-threadedly -- one callback runs to completion before the
// next begins -- so unlike the teacher's goalstate/async-heavy dispatch it
// carries no locks and no background goroutines of its own.
package scheduler

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/caspian-labs/vsched/accounting"
	"github.com/caspian-labs/vsched/compat"
	"github.com/caspian-labs/vsched/config"
	"github.com/caspian-labs/vsched/errs"
	"github.com/caspian-labs/vsched/inventory"
	"github.com/caspian-labs/vsched/metrics"
	"github.com/caspian-labs/vsched/migration"
	"github.com/caspian-labs/vsched/pendingqueue"
	"github.com/caspian-labs/vsched/policy"
	"github.com/caspian-labs/vsched/policy/greedy"
	"github.com/caspian-labs/vsched/projection"
	"github.com/caspian-labs/vsched/rank"
	"github.com/caspian-labs/vsched/runtime"
	"github.com/caspian-labs/vsched/statemachine"
	"github.com/caspian-labs/vsched/transition"
)

// Scheduler dispatches the simulator's callbacks to the inventory,
// transition, and migration collaborators through a pluggable policy.
type Scheduler struct {
	cluster runtime.Cluster
	cfg     config.Config
	metrics *metrics.Metrics
	log     log.FieldLogger

	inv         *inventory.Inventory
	transitions *transition.Tracker
	migrations  *migration.Tracker
	pending     *pendingqueue.Queue

	active   policy.Policy
	fallback *greedy.Greedy
	fellBack bool

	simTime float64
}

// New builds a Scheduler around the given runtime and policy variant. Call
// Init before dispatching any other callback.
func New(cluster runtime.Cluster, cfg config.Config, m *metrics.Metrics, active policy.Policy, logger log.FieldLogger) *Scheduler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Scheduler{
		cluster:    cluster,
		cfg:        cfg,
		metrics:    m,
		log:        logger,
		migrations: migration.NewTracker(),
		pending:    pendingqueue.New(),
		active:     active,
		fallback:   greedy.New(),
	}
}

// Init builds the inventory from the runtime's reported topology and forces
// the lowest cfg.MinActiveMachines machines (by id) to S0, the rest to S5
// (SPEC_FULL.md §4.8 initial layout). It must be called exactly once before
// any other entry point.
func (s *Scheduler) Init(ctx context.Context) error {
	s.inv = inventory.New(ctx, s.cluster)
	count := s.inv.MachineCount()

	tracker, err := transition.NewTracker(count, func(m runtime.MachineID) statemachine.State {
		if int(m) < s.cfg.MinActiveMachines {
			return transition.On
		}
		return transition.Off
	})
	if err != nil {
		return err
	}
	s.transitions = tracker

	for i := 0; i < count; i++ {
		m := runtime.MachineID(i)
		want := runtime.S5
		if i < s.cfg.MinActiveMachines {
			want = runtime.S0
		}
		if s.cluster.MachineInfo(ctx, m).SState != want {
			s.cluster.SetMachineState(ctx, m, want)
		}
	}
	s.sampleMetrics(ctx)
	return nil
}

func (s *Scheduler) env() policy.Env {
	return policy.Env{
		Cluster:           s.cluster,
		Inventory:         s.inv,
		Transitions:       s.transitions,
		Migrations:        s.migrations,
		MaxUtilization:    s.cfg.MaxUtilization,
		VMOverheadMB:      s.cfg.VMOverheadMB,
		MinActiveMachines: s.cfg.MinActiveMachines,
	}
}

// logFallback logs the degraded-policy condition once per scheduler
// lifetime; the single-threaded model means a plain bool suffices where the
// teacher would reach for a sync.Once (SPEC_FULL.md §7).
func (s *Scheduler) logFallback() {
	if !s.fellBack {
		s.log.Warn("active policy returned not-implemented for this step, falling back to greedy")
		s.fellBack = true
	}
	s.metrics.PolicyFallback.Inc(1)
}

func (s *Scheduler) sampleMetrics(ctx context.Context) {
	s.metrics.MachinesInFlight.Update(float64(s.transitions.InFlightGauge()))
	s.metrics.QueueDepth.Update(float64(s.pending.Len()))
	on := 0
	for i := 0; i < s.inv.MachineCount(); i++ {
		if s.cluster.MachineInfo(ctx, runtime.MachineID(i)).SState == runtime.S0 {
			on++
		}
	}
	s.metrics.PoweredOnMachines.Update(float64(on))
}

// NewTask places a newly arrived task per SPEC_FULL.md §4.3.
func (s *Scheduler) NewTask(ctx context.Context, simTime float64, task runtime.TaskID) error {
	s.simTime = simTime
	info := s.cluster.TaskQueries(ctx, task)
	view := policy.TaskView{
		Task:     task,
		VMKind:   info.VMKind,
		CPUKind:  info.CPUKind,
		GPU:      info.GPUCapable,
		MemoryMB: info.MemoryMB,
		SLAClass: info.SLAClass,
	}

	dec, err := s.active.Place(ctx, s.env(), view)
	if errors.Is(err, errs.ErrPolicyNotImplemented) {
		s.logFallback()
		dec, err = s.fallback.Place(ctx, s.env(), view)
	}
	if err != nil {
		s.metrics.PlacementFailed.Inc(1)
		s.log.WithError(err).WithField("task", task).Error("placement failed")
		s.cluster.ThrowException(ctx, fmt.Sprintf("task %d: %v", task, err), 0)
		return err
	}

	switch dec.Kind {
	case policy.DecisionReuse:
		s.metrics.PlacementReuse.Inc(1)
	case policy.DecisionNewVM:
		s.metrics.PlacementNewVM.Inc(1)
	case policy.DecisionQueued:
		s.pending.Enqueue(task)
		s.metrics.PlacementQueued.Inc(1)
		s.metrics.WakeRequests.Inc(1)
		s.log.WithFields(log.Fields{"task": task, "machine": dec.Machine}).Info("no stable host, task queued behind a wake-up")
	}
	s.sampleMetrics(ctx)
	return nil
}

// TaskComplete retires a finished task and runs a consolidation pass
// (SPEC_FULL.md §4.4: triggered on task completion).
func (s *Scheduler) TaskComplete(ctx context.Context, simTime float64, task runtime.TaskID) error {
	s.simTime = simTime
	if _, err := s.inv.RemoveTask(ctx, s.cluster, task); err != nil {
		s.log.WithField("task", task).Debug("task-complete for an unindexed task, ignoring")
		return nil
	}
	return s.runConsolidation(ctx)
}

func (s *Scheduler) runConsolidation(ctx context.Context) error {
	actions, err := s.active.Consolidate(ctx, s.env())
	if errors.Is(err, errs.ErrPolicyNotImplemented) {
		s.logFallback()
		actions, err = s.fallback.Consolidate(ctx, s.env())
	}
	if err != nil {
		return err
	}
	for _, a := range actions {
		switch a.Kind {
		case policy.ActionMigrate:
			s.metrics.MigrationsIssued.Inc(1)
			s.log.WithFields(log.Fields{"vm": a.VM, "from": a.Source, "to": a.Target}).Debug("consolidation issued migration")
		case policy.ActionSleep:
			s.metrics.SleepRequests.Inc(1)
			s.log.WithField("machine", a.Machine).Debug("consolidation requested sleep")
		}
	}
	s.sampleMetrics(ctx)
	return nil
}

// MigrationDone retires a completed migration (SPEC_FULL.md §4.4 step 2). An
// unknown VM id is tolerated as a no-op (§7).
func (s *Scheduler) MigrationDone(ctx context.Context, simTime float64, vm runtime.VMID) error {
	s.simTime = simTime
	p, ok := s.migrations.Complete(vm)
	if !ok {
		s.log.WithField("vm", vm).Debug("migration-done for a vm with no pending migration, ignoring")
		return nil
	}
	record, ok := s.inv.VM(vm)
	if !ok {
		return nil
	}
	if err := s.inv.CompleteMigration(record, p.Target); err != nil {
		return err
	}
	s.metrics.MigrationsCompleted.Inc(1)
	return nil
}

// StateChangeComplete retires a completed power transition and, once the
// machine is stable, drains the pending queue against it (SPEC_FULL.md
// §4.5). A callback for a machine with no pending transition is tolerated
// as a no-op (§7).
func (s *Scheduler) StateChangeComplete(ctx context.Context, simTime float64, m runtime.MachineID) error {
	s.simTime = simTime
	if err := s.transitions.Complete(m); err != nil {
		if errors.Is(err, errs.ErrNotPending) {
			s.log.WithField("machine", m).Debug("state-change-complete for a machine with no pending transition, ignoring")
			return nil
		}
		return err
	}
	s.sampleMetrics(ctx)
	if s.transitions.Stable(ctx, s.cluster, m) {
		s.drain(ctx, m)
	}
	return nil
}

// drain implements the wake-up drainer (SPEC_FULL.md §4.5): every pending
// task is retried against wakeMachine (now stable) and, failing that, any
// other stable machine, without ever issuing a second wake-up request.
func (s *Scheduler) drain(ctx context.Context, wakeMachine runtime.MachineID) {
	for _, task := range s.pending.Snapshot() {
		if s.admitQueuedTask(ctx, wakeMachine, task) {
			s.pending.Remove(task)
		}
	}
	s.sampleMetrics(ctx)
}

// admitQueuedTask runs the drainer's three steps: reuse on any stable host,
// a new VM on wakeMachine itself, then a new VM on any other stable machine.
// It is written against inventory/compat/accounting directly rather than
// through a policy.Policy, since draining the queue is policy-agnostic
// behavior shared by every variant (SPEC_FULL.md §4.5).
func (s *Scheduler) admitQueuedTask(ctx context.Context, wakeMachine runtime.MachineID, task runtime.TaskID) bool {
	info := s.cluster.TaskQueries(ctx, task)
	req := compat.Requirement{CPUKind: info.CPUKind, GPUCapable: info.GPUCapable}
	prio := runtime.PriorityForSLA(info.SLAClass)

	if vm, ok := s.reuseOnAnyStableHost(ctx, req, info); ok {
		if err := s.inv.AddTask(ctx, s.cluster, vm, task, prio); err != nil {
			s.log.WithError(err).Error("drainer failed to admit task onto reused vm")
			return false
		}
		s.metrics.PlacementReuse.Inc(1)
		return true
	}

	if s.createAndAdmit(ctx, wakeMachine, req, info, task, prio) {
		s.metrics.PlacementNewVM.Inc(1)
		return true
	}

	for i := 0; i < s.inv.MachineCount(); i++ {
		m := runtime.MachineID(i)
		if m == wakeMachine {
			continue
		}
		if s.createAndAdmit(ctx, m, req, info, task, prio) {
			s.metrics.PlacementNewVM.Inc(1)
			return true
		}
	}
	return false
}

func (s *Scheduler) reuseOnAnyStableHost(ctx context.Context, req compat.Requirement, info runtime.TaskInfo) (*inventory.VM, bool) {
	var best *inventory.VM
	var bestRemaining accounting.MemoryMB
	var bestUtil float64
	for _, vm := range s.inv.AllVMs() {
		if vm.Kind != info.VMKind || vm.CPUKind != info.CPUKind || s.migrations.IsMigrating(vm.ID) {
			continue
		}
		m := vm.Machine
		if !s.transitions.Stable(ctx, s.cluster, m) {
			continue
		}
		static := s.inv.Static(m)
		if !compat.Match(req, compat.Host{CPUKind: static.CPUKind, GPU: static.GPU}) {
			continue
		}
		used := projection.Memory(ctx, s.cluster, s.migrations, m)
		if !accounting.Fits(used, accounting.MemoryMB(info.MemoryMB), static.MemorySizeMB, s.cfg.MaxUtilization) {
			continue
		}
		remaining := accounting.MemoryMB(static.MemorySizeMB) - used
		util := accounting.Utilization(used, static.MemorySizeMB)
		if best == nil || remaining < bestRemaining || (remaining == bestRemaining && util < bestUtil) {
			best, bestRemaining, bestUtil = vm, remaining, util
		}
	}
	return best, best != nil
}

func (s *Scheduler) createAndAdmit(ctx context.Context, m runtime.MachineID, req compat.Requirement, info runtime.TaskInfo, task runtime.TaskID, prio runtime.Priority) bool {
	if !s.transitions.Stable(ctx, s.cluster, m) {
		return false
	}
	static := s.inv.Static(m)
	if !compat.Match(req, compat.Host{CPUKind: static.CPUKind, GPU: static.GPU}) {
		return false
	}
	used := projection.Memory(ctx, s.cluster, s.migrations, m)
	want := accounting.MemoryMB(s.cfg.VMOverheadMB + info.MemoryMB)
	if !accounting.Fits(used, want, static.MemorySizeMB, s.cfg.MaxUtilization) {
		return false
	}
	vm, err := s.inv.CreateVM(ctx, s.cluster, info.VMKind, info.CPUKind)
	if err != nil {
		s.log.WithError(err).Error("drainer failed to create vm")
		return false
	}
	if err := s.inv.Attach(ctx, s.cluster, vm, m); err != nil {
		s.log.WithError(err).Error("drainer failed to attach vm")
		return false
	}
	if err := s.inv.AddTask(ctx, s.cluster, vm, task, prio); err != nil {
		s.log.WithError(err).Error("drainer failed to admit task onto new vm")
		return false
	}
	return true
}

// SLAWarning relocates task off its current VM to a less loaded compatible
// machine, or queues it and wakes one, per SPEC_FULL.md §4.6.
func (s *Scheduler) SLAWarning(ctx context.Context, simTime float64, task runtime.TaskID) error {
	s.simTime = simTime
	s.metrics.SLAWarnings.Inc(1)

	vmID, ok := s.inv.OwnerOf(task)
	if !ok {
		s.log.WithField("task", task).Debug("sla warning for a task with no owning vm, ignoring")
		return nil
	}
	current, ok := s.inv.VM(vmID)
	if !ok {
		return nil
	}
	currentMachine := current.Machine

	info := s.cluster.TaskQueries(ctx, task)
	req := compat.Requirement{CPUKind: info.CPUKind, GPUCapable: info.GPUCapable}
	prio := runtime.PriorityForSLA(info.SLAClass)

	var candidates []rank.Candidate
	for i := 0; i < s.inv.MachineCount(); i++ {
		m := runtime.MachineID(i)
		if m == currentMachine {
			continue
		}
		minfo := s.cluster.MachineInfo(ctx, m)
		if minfo.SState != runtime.S0 {
			continue
		}
		used := projection.Memory(ctx, s.cluster, s.migrations, m)
		candidates = append(candidates, rank.Candidate{
			Machine:     m,
			RemainingMB: int64(accounting.MemoryMB(minfo.MemorySizeMB) - used),
			Utilization: accounting.Utilization(used, minfo.MemorySizeMB),
		})
	}

	for _, m := range rank.ByUtilizationAscending(candidates) {
		static := s.inv.Static(m)
		if !compat.Match(req, compat.Host{CPUKind: static.CPUKind, GPU: static.GPU}) {
			continue
		}
		if vm, ok := s.reuseOnMachine(ctx, m, info); ok {
			return s.relocate(ctx, task, vm, prio)
		}
		used := projection.Memory(ctx, s.cluster, s.migrations, m)
		want := accounting.MemoryMB(s.cfg.VMOverheadMB + info.MemoryMB)
		if !accounting.Fits(used, want, static.MemorySizeMB, s.cfg.MaxUtilization) {
			continue
		}
		vm, err := s.inv.CreateVM(ctx, s.cluster, info.VMKind, info.CPUKind)
		if err != nil {
			return err
		}
		if err := s.inv.Attach(ctx, s.cluster, vm, m); err != nil {
			return err
		}
		s.metrics.PlacementNewVM.Inc(1)
		return s.relocate(ctx, task, vm, prio)
	}

	if m, ok := s.wakeCandidateAnywhere(req); ok {
		if err := s.transitions.RequestWake(ctx, s.cluster, m); err != nil {
			return err
		}
		s.metrics.WakeRequests.Inc(1)
		if _, err := s.inv.RemoveTask(ctx, s.cluster, task); err != nil {
			return err
		}
		s.pending.Enqueue(task)
		s.sampleMetrics(ctx)
		return nil
	}

	s.log.WithField("task", task).Error("sla warning unresolved, no compatible machine to relocate to or wake")
	s.cluster.ThrowException(ctx, fmt.Sprintf("sla warning unresolved for task %d", task), 0)
	return errs.ErrNoCompatibleHost
}

func (s *Scheduler) reuseOnMachine(ctx context.Context, m runtime.MachineID, info runtime.TaskInfo) (*inventory.VM, bool) {
	for _, id := range s.inv.VMsOn(m) {
		vm, ok := s.inv.VM(id)
		if !ok || vm.Kind != info.VMKind || vm.CPUKind != info.CPUKind || s.migrations.IsMigrating(vm.ID) {
			continue
		}
		static := s.inv.Static(m)
		used := projection.Memory(ctx, s.cluster, s.migrations, m)
		if !accounting.Fits(used, accounting.MemoryMB(info.MemoryMB), static.MemorySizeMB, s.cfg.MaxUtilization) {
			continue
		}
		return vm, true
	}
	return nil, false
}

func (s *Scheduler) relocate(ctx context.Context, task runtime.TaskID, to *inventory.VM, prio runtime.Priority) error {
	if _, err := s.inv.RemoveTask(ctx, s.cluster, task); err != nil {
		return err
	}
	return s.inv.AddTask(ctx, s.cluster, to, task, prio)
}

func (s *Scheduler) wakeCandidateAnywhere(req compat.Requirement) (runtime.MachineID, bool) {
	for i := 0; i < s.inv.MachineCount(); i++ {
		m := runtime.MachineID(i)
		static := s.inv.Static(m)
		if !compat.Match(req, compat.Host{CPUKind: static.CPUKind, GPU: static.GPU}) {
			continue
		}
		if s.transitions.CanWakeCandidate(m) {
			return m, true
		}
	}
	return 0, false
}

// MemoryWarning escalates the heaviest VM on an over-committed machine one
// task at a time through SLAWarning (SPEC_FULL.md §4.6).
func (s *Scheduler) MemoryWarning(ctx context.Context, simTime float64, m runtime.MachineID) error {
	s.simTime = simTime
	s.metrics.MemoryWarnings.Inc(1)
	s.log.WithField("machine", m).Warn("memory warning, evacuating heaviest vm")

	var heaviest *inventory.VM
	var heaviestMem accounting.MemoryMB
	for _, id := range s.inv.VMsOn(m) {
		vm, ok := s.inv.VM(id)
		if !ok {
			continue
		}
		mem := inventory.Footprint(ctx, s.cluster, s.cfg.VMOverheadMB, vm)
		if heaviest == nil || mem > heaviestMem {
			heaviest, heaviestMem = vm, mem
		}
	}
	if heaviest == nil {
		s.log.WithField("machine", m).Debug("memory warning for a machine with no vms, ignoring")
		return nil
	}

	// Snapshot before iterating: SLAWarning mutates heaviest.Tasks as it
	// relocates each one, which must not invalidate this walk.
	tasks := make([]runtime.TaskID, 0, len(heaviest.Tasks))
	for t := range heaviest.Tasks {
		tasks = append(tasks, t)
	}
	for _, task := range tasks {
		if err := s.SLAWarning(ctx, s.simTime, task); err != nil {
			return err
		}
	}
	return nil
}

// PeriodicTick runs the janitor (SPEC_FULL.md §4.7): idle VMs on stable
// machines are shut down, and a machine left with no active VMs is put back
// to sleep -- unless ActiveVMs, re-read immediately before the sleep
// request, is nonzero, in which case the machine is skipped rather than
// treated as a bug (Open Question iii).
func (s *Scheduler) PeriodicTick(ctx context.Context, simTime float64) error {
	s.simTime = simTime
	for i := 0; i < s.inv.MachineCount(); i++ {
		m := runtime.MachineID(i)
		if s.transitions.Pending(m) != 0 {
			continue
		}
		if s.cluster.MachineInfo(ctx, m).SState != runtime.S0 {
			continue
		}

		for _, id := range s.inv.VMsOn(m) {
			vm, ok := s.inv.VM(id)
			if !ok || !vm.IsIdle() || vm.State() == inventory.Migrating {
				continue
			}
			if err := s.inv.Shutdown(ctx, s.cluster, vm); err != nil {
				s.log.WithError(err).Warn("janitor failed to shut down an idle vm")
			}
		}

		if i < s.cfg.MinActiveMachines {
			continue
		}
		if s.cluster.MachineInfo(ctx, m).ActiveVMs != 0 {
			continue
		}
		if err := s.transitions.RequestSleep(ctx, s.cluster, m); err != nil {
			return err
		}
		s.metrics.SleepRequests.Inc(1)
	}
	s.sampleMetrics(ctx)
	return nil
}

// SimulationComplete shuts down every remaining VM and emits the final
// report (SPEC_FULL.md §4.8 "on shutdown, all VMs are shut down", §6):
// per-class SLA violation rates, total cluster energy and the simulated time
// in seconds, via both the simulator-visible Output channel and logrus.
func (s *Scheduler) SimulationComplete(ctx context.Context, simTime float64) {
	s.simTime = simTime

	for _, vm := range s.inv.AllVMs() {
		if !vm.IsIdle() {
			s.log.WithField("vm", vm.ID).Debug("simulation complete with tasks still running on vm, forcing shutdown")
		}
		s.inv.ForceShutdown(ctx, s.cluster, vm)
	}

	for _, class := range []runtime.SLAClass{runtime.SLA0, runtime.SLA1, runtime.SLA2} {
		pct := s.cluster.SLAReport(ctx, class)
		msg := fmt.Sprintf("%s violation rate: %.2f%%", class, pct)
		s.cluster.Output(ctx, msg, 0)
		s.log.WithFields(log.Fields{"sla_class": class.String(), "violation_pct": pct}).Info(msg)
	}

	energy := s.cluster.ClusterEnergyKWh(ctx)
	energyMsg := fmt.Sprintf("total cluster energy: %.2f kWh", energy)
	s.cluster.Output(ctx, energyMsg, 0)
	s.log.WithFields(log.Fields{"energy_kwh": energy, "sim_seconds": s.simTime}).Info(energyMsg)

	timeMsg := fmt.Sprintf("simulated time: %.2f s", s.simTime)
	s.cluster.Output(ctx, timeMsg, 0)
	s.log.WithField("sim_seconds", s.simTime).Info(timeMsg)
}
