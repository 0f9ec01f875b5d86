// Package compat holds the single compatibility predicate used by placement,
// consolidation, and the warning handlers (SPEC_FULL.md §9 "GPU-match
// ambiguity", property P9). Routing all three components through one
// function, rather than three copies of the same two conditions, is what
// makes the uniformity a structural fact instead of a convention a future
// change could quietly break.
package compat

import "github.com/caspian-labs/vsched/runtime"

// Requirement is the compatibility-relevant subset of a task or VM's static
// attributes.
type Requirement struct {
	CPUKind    runtime.CPUKind
	GPUCapable bool
}

// Host is the compatibility-relevant subset of a machine's attributes.
type Host struct {
	CPUKind runtime.CPUKind
	GPU     bool
}

// Match reports whether a host satisfies a requirement: CPU kinds must match
// exactly, and a GPU-capable requirement may only be satisfied by a host with
// GPU present. A non-GPU-capable requirement is satisfied by any host
// regardless of GPU presence.
func Match(req Requirement, host Host) bool {
	if req.CPUKind != host.CPUKind {
		return false
	}
	if req.GPUCapable && !host.GPU {
		return false
	}
	return true
}
