package resolver

import "strings"

import "github.com/sulmone/mbg/src/ident"

// dependencyChain renders a cycle for the fatal error message (spec.md §4.4:
// "abort with a fatal error listing the cycle").
type dependencyChain []ident.Label

func (c dependencyChain) String() string {
	labels := make([]string, len(c))
	for i, l := range c {
		labels[i] = l.String()
	}
	return strings.Join(labels, "\n -> ")
}

// cycleDetector performs the depth-first back-edge check spec.md §4.4 calls
// for, one dependency edge at a time as the Resolver discovers it.
//
// Grounded on src/core/cycle_detector.go's checkForCycle/buildCycle, with the
// same single-threaded adaptation as Graph: the teacher's version queues
// dependency links onto a channel drained by a background goroutine because
// Please discovers them concurrently while packages parse in parallel.
// spec.md §5 rules that out here, so addDep runs the check inline instead of
// going through a queue.
type cycleDetector struct {
	deps map[ident.Label][]ident.Label
}

func newCycleDetector() *cycleDetector {
	return &cycleDetector{deps: map[ident.Label][]ident.Label{}}
}

// checkForCycle reports whether tail already (transitively) depends on head,
// which is exactly the condition under which adding head -> tail would close
// a cycle.
func (c *cycleDetector) checkForCycle(head, tail ident.Label) bool {
	for _, dep := range c.deps[tail] {
		if dep == head {
			return true
		}
		if c.checkForCycle(head, dep) {
			return true
		}
	}
	return false
}

// buildCycle reconstructs the offending chain once checkForCycle has found
// one, for a readable error message.
func (c *cycleDetector) buildCycle(chain []ident.Label) []ident.Label {
	head := chain[0]
	tail := chain[len(chain)-1]
	for _, dep := range c.deps[tail] {
		if dep == head {
			return chain
		}
		if newChain := c.buildCycle(append(chain, dep)); newChain != nil {
			return newChain
		}
	}
	return nil
}

// addDep records that from depends on to, failing with a CycleError if doing
// so would close a cycle.
func (c *cycleDetector) addDep(from, to ident.Label) error {
	if c.checkForCycle(from, to) {
		return &CycleError{Chain: c.buildCycle([]ident.Label{from, to})}
	}
	c.deps[from] = append(c.deps[from], to)
	return nil
}
