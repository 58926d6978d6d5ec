// Package resolver implements the Resolver component of spec.md §4.4:
// dependency expansion, cycle detection, topological flatten, transitive
// settings propagation, and the target-output map the Emitter consumes.
package resolver

import (
	"github.com/sulmone/mbg/src/ident"
	"github.com/sulmone/mbg/src/model"
)

// Graph holds every Target reachable from the entry BuildFiles, keyed by
// qualified identifier (spec.md §4.4: "Input: merged target set keyed by
// qualified identifier file:target#toolset").
//
// Grounded on src/core/graph.go's BuildGraph, with one deliberate change:
// spec.md §5 mandates the generator run single-threaded and synchronous end
// to end, so the mutex and the pending-reverse-dependency bookkeeping the
// teacher needs for concurrent package parsing are dropped — every target is
// known before dependency edges are added, so there is no "pending" state.
type Graph struct {
	targets   map[ident.Label]*model.Target
	revDeps   map[ident.Label][]ident.Label
	declIndex map[ident.Label]int
	order     []ident.Label
}

// NewGraph constructs an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		targets:   map[ident.Label]*model.Target{},
		revDeps:   map[ident.Label][]ident.Label{},
		declIndex: map[ident.Label]int{},
	}
}

// AddTarget registers t. It is an error to add the same label twice (spec.md
// §7: duplicate target name within a file, or across a toolset, is fatal).
func (g *Graph) AddTarget(t *model.Target) error {
	if _, present := g.targets[t.Label]; present {
		return &Error{Msg: "duplicate target " + t.Label.String()}
	}
	g.declIndex[t.Label] = len(g.order)
	g.order = append(g.order, t.Label)
	g.targets[t.Label] = t
	return nil
}

// Target looks up a target by label.
func (g *Graph) Target(label ident.Label) (*model.Target, bool) {
	t, ok := g.targets[label]
	return t, ok
}

// Labels returns every label known to the graph, in declaration order. Used
// to build "did you mean" suggestions for an unresolved dependency.
func (g *Graph) Labels() []ident.Label {
	return g.order
}

// AddDependency records that to has from as a reverse dependency (consumed by
// the topological flatten); the forward edge lives in from's
// Target.Dependencies.
func (g *Graph) AddDependency(from, to ident.Label) {
	g.revDeps[to] = append(g.revDeps[to], from)
}
