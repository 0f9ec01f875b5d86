package scheduler

import (
	"context"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caspian-labs/vsched/config"
	"github.com/caspian-labs/vsched/errs"
	"github.com/caspian-labs/vsched/metrics"
	"github.com/caspian-labs/vsched/policy/greedy"
	"github.com/caspian-labs/vsched/runtime"
	"github.com/caspian-labs/vsched/runtime/runtimetest"
	"github.com/caspian-labs/vsched/transition"
)

func newTestScheduler(t *testing.T, specs []runtimetest.MachineSpec, minActive int) (*Scheduler, *runtimetest.Fake) {
	t.Helper()
	fake := runtimetest.New(specs)
	cfg := config.Default()
	cfg.MinActiveMachines = minActive
	cfg.MaxUtilization = 1.0

	scope, closer := metrics.NewRootScope(config.MetricsConfig{Backend: "noop"}, time.Second)
	t.Cleanup(func() { closer.Close() })

	sched := New(fake, cfg, metrics.New(scope), greedy.New(), nil)
	require.NoError(t, sched.Init(context.Background()))
	return sched, fake
}

func twoOnMachines(memSize int64) []runtimetest.MachineSpec {
	return []runtimetest.MachineSpec{
		{CPUKind: "x86", MemorySizeMB: memSize, Initial: runtime.S0},
		{CPUKind: "x86", MemorySizeMB: memSize, Initial: runtime.S0},
	}
}

func TestInitLayoutMatchesMinActiveMachines(t *testing.T) {
	specs := []runtimetest.MachineSpec{
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S5},
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S5},
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S5},
	}
	sched, _ := newTestScheduler(t, specs, 2)

	assert.Equal(t, transition.On, sched.transitions.View(0))
	assert.Equal(t, transition.On, sched.transitions.View(1))
	assert.Equal(t, transition.Off, sched.transitions.View(2))
}

func TestNewTaskCreatesVMOnEmptyMachine(t *testing.T) {
	ctx := context.Background()
	sched, fake := newTestScheduler(t, twoOnMachines(100), 2)

	fake.SetTask(1, runtime.TaskInfo{VMKind: "std", CPUKind: "x86", MemoryMB: 40, SLAClass: runtime.SLA1})
	require.NoError(t, sched.NewTask(ctx, 0, 1))

	vmID, ok := sched.inv.OwnerOf(1)
	require.True(t, ok)
	vm, ok := sched.inv.VM(vmID)
	require.True(t, ok)
	assert.Equal(t, runtime.MachineID(0), vm.Machine)
}

func TestNewTaskReusesExistingVM(t *testing.T) {
	ctx := context.Background()
	sched, fake := newTestScheduler(t, twoOnMachines(100), 2)

	fake.SetTask(1, runtime.TaskInfo{VMKind: "std", CPUKind: "x86", MemoryMB: 40, SLAClass: runtime.SLA1})
	fake.SetTask(2, runtime.TaskInfo{VMKind: "std", CPUKind: "x86", MemoryMB: 30, SLAClass: runtime.SLA1})
	require.NoError(t, sched.NewTask(ctx, 0, 1))
	require.NoError(t, sched.NewTask(ctx, 0, 2))

	vm1, _ := sched.inv.OwnerOf(1)
	vm2, _ := sched.inv.OwnerOf(2)
	assert.Equal(t, vm1, vm2)
	assert.Equal(t, int64(70), fake.MachineInfo(ctx, 0).MemoryUsedMB)
}

func TestNewTaskFailsWithNoCompatibleHostAnywhere(t *testing.T) {
	ctx := context.Background()
	sched, fake := newTestScheduler(t, twoOnMachines(100), 2)

	fake.SetTask(1, runtime.TaskInfo{VMKind: "std", CPUKind: "arm", MemoryMB: 10, SLAClass: runtime.SLA2})
	err := sched.NewTask(ctx, 0, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNoCompatibleHost)
	assert.Len(t, fake.Exceptions, 1)
}

func TestTaskCompleteTriggersConsolidationAndSleep(t *testing.T) {
	ctx := context.Background()
	specs := []runtimetest.MachineSpec{
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S0},
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S5},
	}
	sched, fake := newTestScheduler(t, specs, 1)
	// Machine 1 starts Off (outside the MinActive floor); wake it through the
	// tracker so its view agrees with the runtime's reported state.
	require.NoError(t, sched.transitions.RequestWake(ctx, fake, 1))
	fake.CompleteTransition(1, runtime.S0)
	require.NoError(t, sched.StateChangeComplete(ctx, 0, 1))

	fake.SetTask(1, runtime.TaskInfo{VMKind: "std", CPUKind: "x86", MemoryMB: 10, SLAClass: runtime.SLA2})
	vm, err := sched.inv.CreateVM(ctx, fake, "std", "x86")
	require.NoError(t, err)
	require.NoError(t, sched.inv.Attach(ctx, fake, vm, 1))
	require.NoError(t, sched.inv.AddTask(ctx, fake, vm, 1, runtime.PriorityForSLA(runtime.SLA2)))

	require.NoError(t, sched.TaskComplete(ctx, 1, 1))

	assert.Equal(t, 1, sched.transitions.Pending(1))
	assert.Equal(t, transition.Sleeping, sched.transitions.View(1))
}

func TestMigrationDoneCompletesInventoryMove(t *testing.T) {
	ctx := context.Background()
	sched, fake := newTestScheduler(t, twoOnMachines(100), 2)

	fake.SetTask(1, runtime.TaskInfo{VMKind: "std", CPUKind: "x86", MemoryMB: 50, SLAClass: runtime.SLA1})
	require.NoError(t, sched.NewTask(ctx, 0, 1))
	vmID, _ := sched.inv.OwnerOf(1)
	vm, _ := sched.inv.VM(vmID)

	require.NoError(t, sched.inv.StartMigration(ctx, fake, vm, 1))
	require.NoError(t, sched.migrations.Issue(vm.ID, vm.Machine, 1, 50))
	fake.CompleteMigrate(vm.ID, 1)

	require.NoError(t, sched.MigrationDone(ctx, 2, vm.ID))
	assert.Equal(t, runtime.MachineID(1), vm.Machine)
	assert.False(t, sched.migrations.IsMigrating(vm.ID))
}

func TestMigrationDoneForUnknownVMIsNoOp(t *testing.T) {
	ctx := context.Background()
	sched, _ := newTestScheduler(t, twoOnMachines(100), 2)
	assert.NoError(t, sched.MigrationDone(ctx, 0, 999))
}

func TestStateChangeCompleteDrainsPendingQueue(t *testing.T) {
	ctx := context.Background()
	specs := []runtimetest.MachineSpec{
		{CPUKind: "x86", MemorySizeMB: 10, Initial: runtime.S0},
		{CPUKind: "x86", MemorySizeMB: 10, Initial: runtime.S5},
	}
	sched, fake := newTestScheduler(t, specs, 1)

	fake.SetTask(10, runtime.TaskInfo{VMKind: "std", CPUKind: "x86", MemoryMB: 9, SLAClass: runtime.SLA2})
	require.NoError(t, sched.NewTask(ctx, 0, 10))

	fake.SetTask(1, runtime.TaskInfo{VMKind: "std", CPUKind: "x86", MemoryMB: 5, SLAClass: runtime.SLA2})
	require.NoError(t, sched.NewTask(ctx, 0, 1))
	assert.Equal(t, 1, sched.pending.Len())
	assert.Equal(t, 1, sched.transitions.Pending(1))

	fake.CompleteTransition(1, runtime.S0)
	require.NoError(t, sched.StateChangeComplete(ctx, 1, 1))

	assert.Equal(t, 0, sched.pending.Len())
	vmID, ok := sched.inv.OwnerOf(1)
	require.True(t, ok)
	vm, _ := sched.inv.VM(vmID)
	assert.Equal(t, runtime.MachineID(1), vm.Machine)
}

func TestStateChangeCompleteForIdleMachineIsNoOp(t *testing.T) {
	ctx := context.Background()
	sched, _ := newTestScheduler(t, twoOnMachines(100), 2)
	assert.NoError(t, sched.StateChangeComplete(ctx, 0, 0))
}

func TestSLAWarningRelocatesTask(t *testing.T) {
	ctx := context.Background()
	specs := []runtimetest.MachineSpec{
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S0},
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S0},
	}
	sched, fake := newTestScheduler(t, specs, 2)

	fake.SetTask(1, runtime.TaskInfo{VMKind: "std", CPUKind: "x86", MemoryMB: 95, SLAClass: runtime.SLA0})
	require.NoError(t, sched.NewTask(ctx, 0, 1))

	require.NoError(t, sched.SLAWarning(ctx, 1, 1))

	vmID, ok := sched.inv.OwnerOf(1)
	require.True(t, ok)
	vm, _ := sched.inv.VM(vmID)
	assert.Equal(t, runtime.MachineID(1), vm.Machine)
	assert.Equal(t, int64(0), fake.MachineInfo(ctx, 0).MemoryUsedMB)
	assert.Equal(t, int64(95), fake.MachineInfo(ctx, 1).MemoryUsedMB)
}

func TestMemoryWarningEscalatesHeaviestVM(t *testing.T) {
	ctx := context.Background()
	specs := []runtimetest.MachineSpec{
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S0},
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S0},
	}
	sched, fake := newTestScheduler(t, specs, 2)

	fake.SetTask(1, runtime.TaskInfo{VMKind: "std", CPUKind: "x86", MemoryMB: 90, SLAClass: runtime.SLA0})
	require.NoError(t, sched.NewTask(ctx, 0, 1))

	require.NoError(t, sched.MemoryWarning(ctx, 1, 0))

	vmID, ok := sched.inv.OwnerOf(1)
	require.True(t, ok)
	vm, _ := sched.inv.VM(vmID)
	assert.Equal(t, runtime.MachineID(1), vm.Machine)
}

func TestPeriodicTickShutsDownIdleVMsAndSleepsEmptyMachine(t *testing.T) {
	ctx := context.Background()
	specs := []runtimetest.MachineSpec{
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S0},
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S5},
	}
	sched, fake := newTestScheduler(t, specs, 1)
	// Machine 1 starts Off (outside the MinActive floor); wake it through the
	// tracker so its view agrees with the runtime's reported state.
	require.NoError(t, sched.transitions.RequestWake(ctx, fake, 1))
	fake.CompleteTransition(1, runtime.S0)
	require.NoError(t, sched.StateChangeComplete(ctx, 0, 1))

	fake.SetTask(1, runtime.TaskInfo{VMKind: "std", CPUKind: "x86", MemoryMB: 10, SLAClass: runtime.SLA2})
	require.NoError(t, sched.NewTask(ctx, 0, 1))
	vmID, _ := sched.inv.OwnerOf(1)
	vm, _ := sched.inv.VM(vmID)
	require.NoError(t, sched.TaskComplete(ctx, 1, 1))

	require.NoError(t, sched.PeriodicTick(ctx, 2))

	_, stillThere := sched.inv.VM(vm.ID)
	assert.False(t, stillThere)
	if vm.Machine >= 1 {
		assert.Equal(t, 1, sched.transitions.Pending(vm.Machine))
	}
}

func TestPeriodicTickNeverSleepsBelowMinActiveMachines(t *testing.T) {
	ctx := context.Background()
	specs := []runtimetest.MachineSpec{
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S0},
	}
	sched, _ := newTestScheduler(t, specs, 1)

	require.NoError(t, sched.PeriodicTick(ctx, 0))
	assert.Equal(t, transition.On, sched.transitions.View(0))
	assert.Equal(t, 0, sched.transitions.Pending(0))
}

func TestSimulationCompleteEmitsReportOnBothChannels(t *testing.T) {
	ctx := context.Background()
	sched, fake := newTestScheduler(t, twoOnMachines(100), 2)
	fake.SetSLAReport(runtime.SLA0, 1.5)
	fake.SetEnergy(42.0)

	hook := logtest.NewGlobal()
	sched.SimulationComplete(ctx, 100)

	assert.NotEmpty(t, hook.AllEntries())
	assert.NotEmpty(t, fake.Outputs)
	found := false
	for _, line := range fake.Outputs {
		if line != "" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSimulationCompleteForceShutsDownEveryVMEvenBusyOnes(t *testing.T) {
	ctx := context.Background()
	sched, fake := newTestScheduler(t, twoOnMachines(100), 2)

	idle, err := sched.inv.CreateVM(ctx, fake, "std", "x86")
	require.NoError(t, err)
	require.NoError(t, sched.inv.Attach(ctx, fake, idle, 0))

	fake.SetTask(1, runtime.TaskInfo{VMKind: "std", CPUKind: "x86", MemoryMB: 10, SLAClass: runtime.SLA2})
	busy, err := sched.inv.CreateVM(ctx, fake, "std", "x86")
	require.NoError(t, err)
	require.NoError(t, sched.inv.Attach(ctx, fake, busy, 1))
	require.NoError(t, sched.inv.AddTask(ctx, fake, busy, 1, runtime.PriorityLow))

	sched.SimulationComplete(ctx, 100)

	_, stillThere := sched.inv.VM(idle.ID)
	assert.False(t, stillThere, "idle vm should have been shut down")
	_, stillUp := sched.inv.VM(busy.ID)
	assert.False(t, stillUp, "vm with a running task should be shut down too at simulation end")
}
