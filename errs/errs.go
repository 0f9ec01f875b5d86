// Package errs defines the scheduler's error taxonomy (SPEC_FULL.md §7),
// mirroring the teacher's habit of naming a small set of sentinel error
// values (see hostmgr/summary.InvalidHostStatus) rather than leaning on
// unadorned fmt.Errorf everywhere. Call sites wrap these with
// github.com/pkg/errors to attach context; callers compare with errors.Is.
package errs

import "github.com/pkg/errors"

var (
	// ErrNoCompatibleHost means no machine anywhere has a matching CPU (and
	// GPU, if required) for a task. Fatal: the dispatcher escalates this to
	// the simulator via ThrowException.
	ErrNoCompatibleHost = errors.New("no compatible host for task")

	// ErrUnknownVM is returned by inventory.RemoveTask for a task id with no
	// entry in the task->VM index. Tolerated as a no-op by the dispatcher.
	ErrUnknownVM = errors.New("no vm indexed for task")

	// ErrNotPending is returned by transition.Tracker.Complete when the
	// named machine has no pending transition; the dispatcher's
	// StateChangeComplete tolerates it as a no-op. inventory.Shutdown also
	// returns it for a VM that still carries tasks.
	ErrNotPending = errors.New("machine has no pending transition")

	// ErrPolicyNotImplemented is returned by a policy variant for a step it
	// has not realized yet (see policy/pmapper). The dispatcher logs this
	// once and falls back to the greedy policy for that step.
	ErrPolicyNotImplemented = errors.New("policy step not implemented")

	// ErrSameMachine is returned when a migration is requested with an
	// identical source and target.
	ErrSameMachine = errors.New("migration source and target are the same machine")

	// ErrAlreadyMigrating is returned when a migration is requested for a VM
	// that already has a pending migration (P4).
	ErrAlreadyMigrating = errors.New("vm is already migrating")
)
