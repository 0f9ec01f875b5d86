package pendingqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/caspian-labs/vsched/runtime"
)

func TestEnqueueDedupesAndPreservesOrder(t *testing.T) {
	q := New()
	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(1)
	assert.Equal(t, []runtime.TaskID{1, 2}, q.Snapshot())
	assert.Equal(t, 2, q.Len())
}

func TestRemoveFromMiddle(t *testing.T) {
	q := New()
	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)

	assert.True(t, q.Remove(2))
	assert.Equal(t, []runtime.TaskID{1, 3}, q.Snapshot())
	assert.False(t, q.Contains(2))
}

func TestRemoveUnknownIsFalse(t *testing.T) {
	q := New()
	assert.False(t, q.Remove(42))
}

func TestSnapshotIsACopy(t *testing.T) {
	q := New()
	q.Enqueue(1)
	snap := q.Snapshot()
	q.Enqueue(2)
	assert.Equal(t, []runtime.TaskID{1}, snap)
}
