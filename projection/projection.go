// Package projection computes projected memory usage by combining the
// runtime's own reported usage (via runtime.Cluster) with the migration
// tracker's view of what's in flight. It sits above both accounting and
// migration, so accounting needs no knowledge of migrations (migration itself
// only uses accounting's MemoryMB type).
package projection

import (
	"context"

	"github.com/caspian-labs/vsched/accounting"
	"github.com/caspian-labs/vsched/migration"
	"github.com/caspian-labs/vsched/runtime"
)

// Memory computes the canonical memory figure for machine m (SPEC_FULL.md
// §4.1): the runtime-reported usage, adjusted for migrations already issued
// but not yet completed. Issuing a migration does not immediately change the
// runtime's own accounting, so every placement and consolidation decision
// must go through this function rather than MachineInfo.MemoryUsedMB
// directly -- otherwise two decisions made in the same tick would
// double-commit a migration target or over-free its source.
func Memory(ctx context.Context, cluster runtime.Cluster, tracker *migration.Tracker, m runtime.MachineID) accounting.MemoryMB {
	info := cluster.MachineInfo(ctx, m)
	used := accounting.MemoryMB(info.MemoryUsedMB)
	used = used.Add(tracker.IncomingTo(m))
	used = used.Sub(tracker.OutgoingFrom(m))
	return used
}

// Utilization returns Memory(m) / machine size, the figure consolidation
// sorts machines by (SPEC_FULL.md §4.4 step 1).
func Utilization(ctx context.Context, cluster runtime.Cluster, tracker *migration.Tracker, m runtime.MachineID) float64 {
	info := cluster.MachineInfo(ctx, m)
	return accounting.Utilization(Memory(ctx, cluster, tracker, m), info.MemorySizeMB)
}
