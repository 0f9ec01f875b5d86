// Package transition tracks outstanding machine power-state transitions
// (SPEC_FULL.md §3 PendingTransition, §4.2, §4.8). Unlike the original
// source's flat `pending_transition_count` counter plus a separate
// `waking_machines` boolean map, this implementation folds both into one
// per-machine statemachine.StateMachine (Off/Waking/On/Sleeping) so illegal
// sequences (e.g. asking an On machine to "wake") are caught structurally.
package transition

import (
	"context"

	"go.uber.org/atomic"

	"github.com/caspian-labs/vsched/errs"
	"github.com/caspian-labs/vsched/runtime"
	"github.com/caspian-labs/vsched/statemachine"
)

// Power states of the scheduler's own view of a machine, distinct from the
// runtime-reported S0/S5 because they also carry transition direction.
const (
	Off      statemachine.State = "off"
	Waking   statemachine.State = "waking"
	On       statemachine.State = "on"
	Sleeping statemachine.State = "sleeping"
)

// Tracker owns one state machine and one pending-transition counter per
// machine.
type Tracker struct {
	machines map[runtime.MachineID]*statemachine.StateMachine
	pending  map[runtime.MachineID]int

	// inFlight is a lock-free gauge of how many machines currently have a
	// pending transition, sampled by the metrics package without needing to
	// go through the scheduler's single-threaded turn -- grounded in the
	// teacher's hostSummary.readyCount atomic.Int32 pattern (SPEC_FULL.md §5).
	inFlight atomic.Int32
}

func rules() []*statemachine.Rule {
	return []*statemachine.Rule{
		{From: Off, To: []statemachine.State{Waking}},
		{From: Waking, To: []statemachine.State{On}},
		{From: On, To: []statemachine.State{Sleeping}},
		{From: Sleeping, To: []statemachine.State{Off}},
	}
}

// NewTracker builds a Tracker for count machines, each starting in the given
// initial power state (Off or On), per the caller's desired initial layout
// (SPEC_FULL.md §4.8: the lowest MinActiveMachines by id start On).
func NewTracker(count int, initial func(runtime.MachineID) statemachine.State) (*Tracker, error) {
	t := &Tracker{
		machines: make(map[runtime.MachineID]*statemachine.StateMachine, count),
		pending:  make(map[runtime.MachineID]int, count),
	}
	for i := 0; i < count; i++ {
		m := runtime.MachineID(i)
		sm, err := statemachine.New("machine", initial(m), rules())
		if err != nil {
			return nil, err
		}
		t.machines[m] = sm
	}
	return t, nil
}

// View returns the scheduler's own power-state view of machine m.
func (t *Tracker) View(m runtime.MachineID) statemachine.State {
	return t.machines[m].Current()
}

// Pending returns the outstanding transition count for m.
func (t *Tracker) Pending(m runtime.MachineID) int {
	return t.pending[m]
}

// InFlightGauge returns the total number of machines with a pending
// transition, safe to read concurrently with the scheduler's own turn.
func (t *Tracker) InFlightGauge() int32 {
	return t.inFlight.Load()
}

// Stable reports whether m's reported state is S0 and it has no pending
// transition (SPEC_FULL.md §3).
func (t *Tracker) Stable(ctx context.Context, cluster runtime.Cluster, m runtime.MachineID) bool {
	if t.pending[m] != 0 {
		return false
	}
	return cluster.MachineInfo(ctx, m).SState == runtime.S0
}

// CanWakeCandidate reports whether m is a legal target for placement's wake
// step (SPEC_FULL.md §4.3 step 3): either fully Off, or already Waking (in
// which case the caller must not issue a second transition request -- the
// "already waking" carve-out behind RequestWake's own no-op behavior).
func (t *Tracker) CanWakeCandidate(m runtime.MachineID) bool {
	switch t.View(m) {
	case Off, Waking:
		return true
	default:
		return false
	}
}

// IsAlreadyWaking reports whether m has a wake already in flight.
func (t *Tracker) IsAlreadyWaking(m runtime.MachineID) bool {
	return t.View(m) == Waking
}

// RequestWake asks the runtime to bring m to S0. If m is already Waking this
// is a deliberate no-op (SPEC_FULL.md §9 "already waking" carve-out, S6): a
// second request would just pile up a redundant pending count and risk
// oscillation once both complete.
func (t *Tracker) RequestWake(ctx context.Context, cluster runtime.Cluster, m runtime.MachineID) error {
	if t.View(m) == Waking {
		return nil
	}
	if err := t.machines[m].TransitTo(Waking, "wake requested"); err != nil {
		return err
	}
	cluster.SetMachineState(ctx, m, runtime.S0)
	t.pending[m]++
	t.inFlight.Inc()
	return nil
}

// RequestSleep asks the runtime to bring m to S5. Idempotent: re-requesting
// sleep on an already-Sleeping machine (consolidation and the janitor both
// re-evaluate every tick) is a no-op rather than a stacked second request.
func (t *Tracker) RequestSleep(ctx context.Context, cluster runtime.Cluster, m runtime.MachineID) error {
	if t.View(m) == Sleeping {
		return nil
	}
	if err := t.machines[m].TransitTo(Sleeping, "sleep requested"); err != nil {
		return err
	}
	cluster.SetMachineState(ctx, m, runtime.S5)
	t.pending[m]++
	t.inFlight.Inc()
	return nil
}

// Complete handles a StateChangeComplete callback for m: the pending count
// is decremented (floored at zero to tolerate a stale callback, SPEC_FULL.md
// §7), and once it reaches zero the state machine advances from Waking to On
// or from Sleeping to Off. A callback for a machine with no pending
// transition returns errs.ErrNotPending; the dispatcher tolerates this as a
// no-op.
func (t *Tracker) Complete(m runtime.MachineID) error {
	if t.pending[m] <= 0 {
		t.pending[m] = 0
		return errs.ErrNotPending
	}
	t.pending[m]--
	t.inFlight.Dec()
	if t.pending[m] > 0 {
		return nil
	}
	switch t.View(m) {
	case Waking:
		return t.machines[m].TransitTo(On, "wake complete")
	case Sleeping:
		return t.machines[m].TransitTo(Off, "sleep complete")
	default:
		return nil
	}
}
