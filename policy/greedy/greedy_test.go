package greedy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caspian-labs/vsched/inventory"
	"github.com/caspian-labs/vsched/migration"
	"github.com/caspian-labs/vsched/policy"
	"github.com/caspian-labs/vsched/runtime"
	"github.com/caspian-labs/vsched/runtime/runtimetest"
	"github.com/caspian-labs/vsched/statemachine"
	"github.com/caspian-labs/vsched/transition"
)

func newEnv(t *testing.T, specs []runtimetest.MachineSpec, minActive int) (policy.Env, *runtimetest.Fake) {
	t.Helper()
	fake := runtimetest.New(specs)
	ctx := context.Background()
	inv := inventory.New(ctx, fake)
	tr, err := transition.NewTracker(len(specs), func(m runtime.MachineID) statemachine.State {
		if int(m) < minActive {
			return transition.On
		}
		return transition.Off
	})
	require.NoError(t, err)
	return policy.Env{
		Cluster:           fake,
		Inventory:         inv,
		Transitions:       tr,
		Migrations:        migration.NewTracker(),
		MaxUtilization:    1.0,
		VMOverheadMB:      0,
		MinActiveMachines: minActive,
	}, fake
}

// S1 Reuse path.
func TestPlaceReusePath(t *testing.T) {
	ctx := context.Background()
	env, fake := newEnv(t, []runtimetest.MachineSpec{
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S0},
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S0},
	}, 2)
	fake.SetTask(1, runtime.TaskInfo{CPUKind: "x86", MemoryMB: 40})
	fake.SetTask(2, runtime.TaskInfo{CPUKind: "x86", MemoryMB: 30})
	g := New()

	decA, err := g.Place(ctx, env, policy.TaskView{Task: 1, VMKind: "small", CPUKind: "x86", MemoryMB: 40, SLAClass: runtime.SLA1})
	require.NoError(t, err)
	assert.Equal(t, policy.DecisionNewVM, decA.Kind)
	assert.Equal(t, runtime.MachineID(0), decA.Machine)

	decB, err := g.Place(ctx, env, policy.TaskView{Task: 2, VMKind: "small", CPUKind: "x86", MemoryMB: 30, SLAClass: runtime.SLA1})
	require.NoError(t, err)
	assert.Equal(t, policy.DecisionReuse, decB.Kind)
	assert.Equal(t, decA.VM, decB.VM)

	assert.EqualValues(t, 70, fake.MachineInfo(ctx, 0).MemoryUsedMB)
}

// S2 Wake path.
func TestPlaceWakePath(t *testing.T) {
	ctx := context.Background()
	env, fake := newEnv(t, []runtimetest.MachineSpec{
		{CPUKind: "x86", MemorySizeMB: 10, Initial: runtime.S0},
		{CPUKind: "x86", MemorySizeMB: 10, Initial: runtime.S0},
		{CPUKind: "x86", MemorySizeMB: 10, Initial: runtime.S5},
	}, 2)
	fake.SetTask(10, runtime.TaskInfo{CPUKind: "x86", MemoryMB: 10})
	fake.SetTask(11, runtime.TaskInfo{CPUKind: "x86", MemoryMB: 10})
	fake.SetTask(1, runtime.TaskInfo{CPUKind: "x86", MemoryMB: 5})

	// Machines 0 and 1 already full, forcing the new arrival to the wake path.
	for i, m := range []runtime.MachineID{0, 1} {
		vm, err := env.Inventory.CreateVM(ctx, fake, "small", "x86")
		require.NoError(t, err)
		require.NoError(t, env.Inventory.Attach(ctx, fake, vm, m))
		require.NoError(t, env.Inventory.AddTask(ctx, fake, vm, runtime.TaskID(10+i), runtime.PriorityLow))
	}

	g := New()
	dec, err := g.Place(ctx, env, policy.TaskView{Task: 1, VMKind: "small", CPUKind: "x86", MemoryMB: 5, SLAClass: runtime.SLA2})
	require.NoError(t, err)
	assert.Equal(t, policy.DecisionQueued, dec.Kind)
	assert.Equal(t, runtime.MachineID(2), dec.Machine)
	assert.Equal(t, 1, env.Transitions.Pending(2))
}

func TestPlaceFailsWithNoCompatibleHost(t *testing.T) {
	ctx := context.Background()
	env, _ := newEnv(t, []runtimetest.MachineSpec{
		{CPUKind: "arm", MemorySizeMB: 10, Initial: runtime.S0},
	}, 1)
	g := New()
	_, err := g.Place(ctx, env, policy.TaskView{Task: 1, VMKind: "small", CPUKind: "x86", MemoryMB: 5, SLAClass: runtime.SLA3})
	assert.Error(t, err)
}

func TestConsolidateMigratesOffLowUtilizationHostAndSleepsIt(t *testing.T) {
	ctx := context.Background()
	env, fake := newEnv(t, []runtimetest.MachineSpec{
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S0},
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S5},
	}, 1)
	// Machine 1 starts Off (outside the MinActive floor); wake it through the
	// tracker so its view agrees with the runtime's reported state.
	require.NoError(t, env.Transitions.RequestWake(ctx, fake, 1))
	fake.CompleteTransition(1, runtime.S0)
	require.NoError(t, env.Transitions.Complete(1))
	fake.SetTask(1, runtime.TaskInfo{CPUKind: "x86", MemoryMB: 10})
	fake.SetTask(2, runtime.TaskInfo{CPUKind: "x86", MemoryMB: 70})

	vm1, err := env.Inventory.CreateVM(ctx, fake, "small", "x86")
	require.NoError(t, err)
	require.NoError(t, env.Inventory.Attach(ctx, fake, vm1, 1))
	require.NoError(t, env.Inventory.AddTask(ctx, fake, vm1, 1, runtime.PriorityLow))

	vm0, err := env.Inventory.CreateVM(ctx, fake, "small", "x86")
	require.NoError(t, err)
	require.NoError(t, env.Inventory.Attach(ctx, fake, vm0, 0))
	require.NoError(t, env.Inventory.AddTask(ctx, fake, vm0, 2, runtime.PriorityLow))

	g := New()
	actions, err := g.Consolidate(ctx, env)
	require.NoError(t, err)

	require.Len(t, actions, 2)
	assert.Equal(t, policy.ActionMigrate, actions[0].Kind)
	assert.Equal(t, vm1.ID, actions[0].VM)
	assert.Equal(t, runtime.MachineID(1), actions[0].Source)
	assert.Equal(t, runtime.MachineID(0), actions[0].Target)
	assert.Equal(t, policy.ActionSleep, actions[1].Kind)
	assert.Equal(t, runtime.MachineID(1), actions[1].Machine)
}
