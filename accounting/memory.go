// Package accounting computes projected memory usage, the canonical figure
// every placement and consolidation decision is made against (SPEC_FULL.md
// §4.1). Memory is a single-dimension rendition of the teacher's
// hostmgr/scalar.Resources: that struct tracks CPU, Mem, Disk, and GPU as
// four independent quantities; this spec's data model (§3) only tracks
// memory as a quantity, with CPU kind and GPU presence as categorical match
// predicates (see the compat package), so the extra dimensions have no home
// here and were dropped rather than carried as always-zero fields.
package accounting

// MemoryMB is a non-negative memory quantity in megabytes. It is a plain
// int64 rather than a struct, unlike the teacher's Resources type, because
// there is exactly one dimension to track; Add/Fits are still named the same
// way the teacher names its arithmetic helpers so the call sites read the
// same way.
type MemoryMB int64

// Add returns the sum of two memory quantities.
func (m MemoryMB) Add(other MemoryMB) MemoryMB {
	return m + other
}

// Sub returns m - other, which may be negative; callers that need a floor at
// zero (e.g. reporting) should apply the builtin max(0, ...) explicitly, mirroring the
// teacher's distinction between Subtract (may go negative, used internally
// for bookkeeping) and TrySubtract (refuses to).
func (m MemoryMB) Sub(other MemoryMB) MemoryMB {
	return m - other
}

// Fits reports whether adding want to used would keep utilization strictly
// below maxUtil of size. A size of zero never fits anything nonzero.
func Fits(used, want MemoryMB, size int64, maxUtil float64) bool {
	if size <= 0 {
		return want == 0
	}
	projected := float64(used) + float64(want)
	return projected/float64(size) < maxUtil
}

// Utilization returns used/size, or 0 if size is non-positive.
func Utilization(used MemoryMB, size int64) float64 {
	if size <= 0 {
		return 0
	}
	return float64(used) / float64(size)
}
