// Package rank implements the best-fit machine ordering shared by placement
// and consolidation (SPEC_FULL.md §4.3 step 2, §4.4 step 1): ascending
// remaining capacity, ascending utilization, id as the final tie-break.
// Grounded in the teacher's common/sorter.MultiKeySorter/OrderedBy chained
// less-function pattern, adapted to sort Candidate directly instead of
// []interface{}, and hostmgr/binpacking.Ranker's "smallest compatible fit
// first" defragmentation goal.
package rank

import (
	"sort"

	"github.com/caspian-labs/vsched/runtime"
)

// Candidate is one machine's ranking inputs: ascending remaining memory and
// ascending utilization both favor tighter packing, matching the
// defragRanker's least-available-resource-first ordering.
type Candidate struct {
	Machine     runtime.MachineID
	RemainingMB int64
	Utilization float64
}

// lessFunc reports whether a ranks before b on one key. A tie ("neither a<b
// nor b<a") defers the decision to the next lessFunc in the chain.
type lessFunc func(a, b Candidate) bool

// multiKeySorter sorts Candidates by a chain of lessFuncs tried in order,
// falling through to the next key whenever the current one calls it a tie.
type multiKeySorter struct {
	candidates []Candidate
	less       []lessFunc
}

// orderedBy builds a multiKeySorter from a chain of tie-break keys; the last
// key must be total (never a tie) since there is nothing left to fall back
// to.
func orderedBy(less ...lessFunc) *multiKeySorter {
	return &multiKeySorter{less: less}
}

func (s *multiKeySorter) sort(candidates []Candidate) {
	s.candidates = candidates
	sort.Sort(s)
}

func (s *multiKeySorter) Len() int { return len(s.candidates) }
func (s *multiKeySorter) Swap(i, j int) {
	s.candidates[i], s.candidates[j] = s.candidates[j], s.candidates[i]
}

// Less tries each key in order until one of them discriminates between i and
// j, matching the teacher's MultiKeySorter.Less.
func (s *multiKeySorter) Less(i, j int) bool {
	p, q := s.candidates[i], s.candidates[j]
	var k int
	for k = 0; k < len(s.less)-1; k++ {
		switch less := s.less[k]; {
		case less(p, q):
			return true
		case less(q, p):
			return false
		}
	}
	return s.less[k](p, q)
}

func byRemaining(a, b Candidate) bool   { return a.RemainingMB < b.RemainingMB }
func byUtilization(a, b Candidate) bool { return a.Utilization < b.Utilization }
func byMachineID(a, b Candidate) bool   { return a.Machine < b.Machine }

func toMachineIDs(candidates []Candidate) []runtime.MachineID {
	ids := make([]runtime.MachineID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.Machine
	}
	return ids
}

// ByBestFit sorts candidates ascending by remaining memory, then ascending
// utilization, then ascending machine id, and returns the ordered machine
// ids. The input slice is sorted in place.
func ByBestFit(candidates []Candidate) []runtime.MachineID {
	orderedBy(byRemaining, byUtilization, byMachineID).sort(candidates)
	return toMachineIDs(candidates)
}

// ByUtilizationAscending sorts candidates ascending by utilization, then
// ascending machine id, and returns the ordered machine ids. Used by
// consolidation (SPEC_FULL.md §4.4 step 1) and the SLA/memory warning
// handlers (§4.6), where the primary key is load rather than fit.
func ByUtilizationAscending(candidates []Candidate) []runtime.MachineID {
	orderedBy(byUtilization, byMachineID).sort(candidates)
	return toMachineIDs(candidates)
}
