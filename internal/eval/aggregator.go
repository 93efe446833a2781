package eval

import "sync"

// aggregator owns the statistics of a single run. All mutation happens
// under the mutex so completions from concurrently running tasks are
// serialized regardless of interleaving.
type aggregator struct {
	mu             sync.Mutex
	total          int
	completed      int
	correct        int
	falsePositives int
	falseNegatives int
	failedIndices  []int
	failedCases    []Outcome
}

func newAggregator(total int) *aggregator {
	return &aggregator{
		total:         total,
		failedIndices: []int{},
		failedCases:   []Outcome{},
	}
}

// record folds one outcome into the running statistics and returns the
// completion count including this outcome. The failed index stored for a
// mismatch is the number of cases completed before it, i.e. its position
// in completion order.
func (a *aggregator) record(outcome Outcome) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if outcome.Correct {
		a.correct++
	} else {
		if outcome.Expected {
			a.falseNegatives++
		} else {
			a.falsePositives++
		}
		a.failedIndices = append(a.failedIndices, a.completed)
		a.failedCases = append(a.failedCases, outcome)
	}
	a.completed++
	return a.completed
}

func (a *aggregator) snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	indices := make([]int, len(a.failedIndices))
	copy(indices, a.failedIndices)
	cases := make([]Outcome, len(a.failedCases))
	copy(cases, a.failedCases)
	return Stats{
		Total:          a.total,
		Correct:        a.correct,
		FalsePositives: a.falsePositives,
		FalseNegatives: a.falseNegatives,
		FailedIndices:  indices,
		FailedCases:    cases,
	}
}
