package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caspian-labs/vsched/runtime"
	"github.com/caspian-labs/vsched/runtime/runtimetest"
)

func newTestInventory(t *testing.T) (*Inventory, *runtimetest.Fake) {
	t.Helper()
	fake := runtimetest.New([]runtimetest.MachineSpec{
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S0},
		{CPUKind: "x86", MemorySizeMB: 100, Initial: runtime.S0},
	})
	return New(context.Background(), fake), fake
}

func TestCreateAttachAddTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	inv, fake := newTestInventory(t)
	fake.SetTask(1, runtime.TaskInfo{CPUKind: "x86", MemoryMB: 10})

	vm, err := inv.CreateVM(ctx, fake, "small", "x86")
	require.NoError(t, err)
	assert.Equal(t, Created, vm.State())

	require.NoError(t, inv.Attach(ctx, fake, vm, 0))
	assert.Equal(t, Attached, vm.State())
	assert.Contains(t, inv.VMsOn(0), vm.ID)

	require.NoError(t, inv.AddTask(ctx, fake, vm, 1, runtime.PriorityMid))
	assert.Equal(t, Running, vm.State())

	owner, ok := inv.OwnerOf(1)
	require.True(t, ok)
	assert.Equal(t, vm.ID, owner)
}

func TestRemoveTaskUnknownReturnsError(t *testing.T) {
	ctx := context.Background()
	inv, fake := newTestInventory(t)
	_, err := inv.RemoveTask(ctx, fake, 999)
	assert.Error(t, err)
}

func TestShutdownRequiresIdleVM(t *testing.T) {
	ctx := context.Background()
	inv, fake := newTestInventory(t)
	fake.SetTask(1, runtime.TaskInfo{CPUKind: "x86", MemoryMB: 10})

	vm, err := inv.CreateVM(ctx, fake, "small", "x86")
	require.NoError(t, err)
	require.NoError(t, inv.Attach(ctx, fake, vm, 0))
	require.NoError(t, inv.AddTask(ctx, fake, vm, 1, runtime.PriorityMid))

	assert.Error(t, inv.Shutdown(ctx, fake, vm))

	_, err = inv.RemoveTask(ctx, fake, 1)
	require.NoError(t, err)
	assert.True(t, vm.IsIdle())
	require.NoError(t, inv.Shutdown(ctx, fake, vm))

	_, ok := inv.VM(vm.ID)
	assert.False(t, ok)
	assert.NotContains(t, inv.VMsOn(0), vm.ID)
}

func TestMigrationMovesInventoryOnlyOnComplete(t *testing.T) {
	ctx := context.Background()
	inv, fake := newTestInventory(t)
	fake.SetTask(1, runtime.TaskInfo{CPUKind: "x86", MemoryMB: 10})

	vm, err := inv.CreateVM(ctx, fake, "small", "x86")
	require.NoError(t, err)
	require.NoError(t, inv.Attach(ctx, fake, vm, 0))
	require.NoError(t, inv.AddTask(ctx, fake, vm, 1, runtime.PriorityMid))

	require.NoError(t, inv.StartMigration(ctx, fake, vm, 1))
	assert.Equal(t, Migrating, vm.State())
	assert.Contains(t, inv.VMsOn(0), vm.ID, "inventory placement unchanged until completion")

	require.NoError(t, inv.CompleteMigration(vm, 1))
	assert.Equal(t, Running, vm.State())
	assert.Contains(t, inv.VMsOn(1), vm.ID)
	assert.NotContains(t, inv.VMsOn(0), vm.ID)
}
