// Package migration tracks in-flight VM migrations (SPEC_FULL.md §3
// PendingMigration, §4.1). It is the second half of projected accounting:
// accounting.Fits and accounting.Utilization answer "does this fit", and
// Tracker answers "what's in flight right now, for which machines".
package migration

import (
	"github.com/caspian-labs/vsched/accounting"
	"github.com/caspian-labs/vsched/errs"
	"github.com/caspian-labs/vsched/runtime"
)

// Pending records one migration issued but not yet reported complete.
type Pending struct {
	VM           runtime.VMID
	Source       runtime.MachineID
	Target       runtime.MachineID
	MemoryImpact accounting.MemoryMB
}

// Tracker owns the set of in-flight migrations. A VM id appears in at most
// one Pending record at a time (P4); the scheduler calling Issue for a VM
// already mid-migration is a programmer error, not a runtime condition, so
// it is also rejected here.
type Tracker struct {
	byVM map[runtime.VMID]Pending
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{byVM: make(map[runtime.VMID]Pending)}
}

// IsMigrating reports whether vm has a pending migration.
func (t *Tracker) IsMigrating(vm runtime.VMID) bool {
	_, ok := t.byVM[vm]
	return ok
}

// Issue records a new pending migration for vm. Source and target must
// differ, and vm must not already be migrating.
func (t *Tracker) Issue(vm runtime.VMID, source, target runtime.MachineID, memoryImpact accounting.MemoryMB) error {
	if source == target {
		return errs.ErrSameMachine
	}
	if t.IsMigrating(vm) {
		return errs.ErrAlreadyMigrating
	}
	t.byVM[vm] = Pending{VM: vm, Source: source, Target: target, MemoryImpact: memoryImpact}
	return nil
}

// Complete removes the pending migration for vm, returning it. It returns
// (Pending{}, false) for an unknown VM id -- the stale-completion-callback
// case tolerated as a no-op per SPEC_FULL.md §7.
func (t *Tracker) Complete(vm runtime.VMID) (Pending, bool) {
	p, ok := t.byVM[vm]
	if !ok {
		return Pending{}, false
	}
	delete(t.byVM, vm)
	return p, true
}

// IncomingTo sums the memory impact of migrations landing on m.
func (t *Tracker) IncomingTo(m runtime.MachineID) accounting.MemoryMB {
	var sum accounting.MemoryMB
	for _, p := range t.byVM {
		if p.Target == m {
			sum = sum.Add(p.MemoryImpact)
		}
	}
	return sum
}

// OutgoingFrom sums the memory impact of migrations leaving m.
func (t *Tracker) OutgoingFrom(m runtime.MachineID) accounting.MemoryMB {
	var sum accounting.MemoryMB
	for _, p := range t.byVM {
		if p.Source == m {
			sum = sum.Add(p.MemoryImpact)
		}
	}
	return sum
}

// TargetedBy reports whether any pending migration targets m, used by
// consolidation to skip a machine that would otherwise have its memory
// bookkeeping invalidated mid-tick (SPEC_FULL.md §4.4 step 2).
func (t *Tracker) TargetedBy(m runtime.MachineID) bool {
	for _, p := range t.byVM {
		if p.Target == m {
			return true
		}
	}
	return false
}

// Len returns the number of pending migrations.
func (t *Tracker) Len() int {
	return len(t.byVM)
}
