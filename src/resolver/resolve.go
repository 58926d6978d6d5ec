package resolver

import (
	"fmt"
	"path/filepath"

	"golang.org/x/exp/slices"

	"github.com/sulmone/mbg/src/cli"
	"github.com/sulmone/mbg/src/ident"
	"github.com/sulmone/mbg/src/model"
	"github.com/sulmone/mbg/src/value"
)

// maxSuggestionDistance bounds how far off a dependency's spelling may be
// from a known label before it's offered as a "did you mean" suggestion.
const maxSuggestionDistance = 4

// Error wraps a resolver failure (spec.md §7).
type Error struct{ Msg string }

func (e *Error) Error() string { return e.Msg }

// CycleError is returned when dependency expansion closes a cycle (spec.md
// §4.4: "abort with a fatal error listing the cycle").
type CycleError struct{ Chain []ident.Label }

func (e *CycleError) Error() string {
	return "dependency cycle found:\n" + dependencyChain(e.Chain).String()
}

// Output is the target-output map entry for one target (spec.md §4.4): the
// path the back-end will produce and whether it can be linked against.
type Output struct {
	Path     string
	Linkable bool
}

// Result is everything the Emitter needs out of the Resolver.
type Result struct {
	Flat    []*model.Target
	Outputs map[ident.Label]Output
}

// Resolve expands dependencies, detects cycles, computes a stable
// topological flatten, propagates all_dependent_settings/
// direct_dependent_settings/link_settings, and builds the target-output map
// for the given merged target set (spec.md §4.4).
func Resolve(targets []*model.Target) (*Result, error) {
	g := NewGraph()
	for _, t := range targets {
		if err := g.AddTarget(t); err != nil {
			return nil, err
		}
	}

	cd := newCycleDetector()
	for _, t := range targets {
		resolved, err := expandDependencies(t)
		if err != nil {
			return nil, err
		}
		t.Dependencies = resolved
		for _, dep := range resolved {
			if _, ok := g.Target(dep); !ok {
				return nil, &Error{Msg: fmt.Sprintf("%s: dependency %s is not in the loaded graph%s", t.Label, dep, suggestLabel(dep, g))}
			}
			if err := cd.addDep(t.Label, dep); err != nil {
				return nil, err
			}
			g.AddDependency(t.Label, dep)
		}
	}

	flat, err := flatten(g, targets)
	if err != nil {
		return nil, err
	}
	propagateSettings(g, flat)
	return &Result{Flat: flat, Outputs: computeOutputs(flat)}, nil
}

// expandDependencies canonicalizes a target's declared dependencies_original
// strings to qualified identifiers, resolving bare file references relative
// to the declaring BuildFile's directory and inheriting the declaring
// target's toolset when none is given (spec.md §4.4's "Dependency
// expansion").
func expandDependencies(t *model.Target) ([]ident.Label, error) {
	out := make([]ident.Label, 0, len(t.DependenciesOriginal))
	for _, raw := range t.DependenciesOriginal {
		label, err := ident.Parse(raw, t.Label.File, t.Label.Toolset)
		if err != nil {
			return nil, &Error{Msg: fmt.Sprintf("%s: %s", t.Label, err.Error())}
		}
		out = append(out, label)
	}
	return out, nil
}

// flatten produces flat_list per spec.md §4.4: a Kahn's-algorithm topological
// sort, tie-broken by (file path, declaration order) among targets that
// become ready at the same time, so the result is stable across runs.
func flatten(g *Graph, targets []*model.Target) ([]*model.Target, error) {
	inDegree := make(map[ident.Label]int, len(targets))
	for _, t := range targets {
		inDegree[t.Label] = len(t.Dependencies)
	}

	var ready []ident.Label
	for _, t := range targets {
		if inDegree[t.Label] == 0 {
			ready = append(ready, t.Label)
		}
	}

	less := func(a, b ident.Label) bool {
		if a.File != b.File {
			return a.File < b.File
		}
		return g.declIndex[a] < g.declIndex[b]
	}

	flat := make([]*model.Target, 0, len(targets))
	for len(ready) > 0 {
		slices.SortFunc(ready, less)
		label := ready[0]
		ready = ready[1:]
		flat = append(flat, g.targets[label])
		for _, dependent := range g.revDeps[label] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(flat) != len(targets) {
		return nil, &Error{Msg: "dependency graph has an unresolved cycle: topological flatten could not place every target"}
	}
	return flat, nil
}

// propagateSettings implements spec.md §4.4's "Settings propagation": each
// target's transitive all_dependent_settings and transitive link_settings
// (the latter flowing only through static_library/none pass-through
// dependents) are accumulated bottom-up over flat (already dependency-first),
// then merged into every dependent's configurations, alongside each direct
// dependency's direct_dependent_settings (one hop only, not accumulated).
func propagateSettings(g *Graph, flat []*model.Target) {
	allDependent := make(map[ident.Label]*value.Map, len(flat))
	linkSettings := make(map[ident.Label]*value.Map, len(flat))

	for _, t := range flat {
		ad := cloneOrNew(t.AllDependentSettings)
		ls := cloneOrNew(t.LinkSettings)
		for _, dep := range t.Dependencies {
			depT, ok := g.Target(dep)
			if !ok {
				continue
			}
			value.MergeInto(ad, allDependent[dep])
			if isPassThrough(depT.Type) {
				value.MergeInto(ls, linkSettings[dep])
			}
		}
		allDependent[t.Label] = ad
		linkSettings[t.Label] = ls
	}

	for _, t := range flat {
		for _, dep := range t.Dependencies {
			depT, ok := g.Target(dep)
			if !ok {
				continue
			}
			for _, cfg := range t.Configurations {
				value.MergeInto(cfg.Settings, depT.DirectDependentSettings)
				value.MergeInto(cfg.Settings, allDependent[dep])
			}
		}
		if !isFinalLinkable(t.Type) {
			continue
		}
		for _, dep := range t.Dependencies {
			depT, ok := g.Target(dep)
			if !ok || !isPassThrough(depT.Type) {
				continue
			}
			for _, cfg := range t.Configurations {
				value.MergeInto(cfg.Settings, linkSettings[dep])
			}
		}
	}
}

// isPassThrough reports whether a dependency's link_settings should keep
// flowing through it to further dependents (spec.md §4.4: "static-library
// and object-library dependents"). model has no distinct object-library
// type; a target declared "none" fills that role here.
func isPassThrough(tt model.TargetType) bool {
	return tt == model.StaticLibrary || tt == model.NoneType
}

// isFinalLinkable reports whether a target actually invokes the linker and
// so is where an accumulated link_settings chain terminates. Note this is
// deliberately narrower than TargetType.Linkable(), which also counts
// static_library: a static archive doesn't link anything itself, it's
// re-packaged into whichever executable or shared library consumes it.
func isFinalLinkable(tt model.TargetType) bool {
	switch tt {
	case model.Executable, model.SharedLibrary, model.LoadableModule:
		return true
	}
	return false
}

func cloneOrNew(m *value.Map) *value.Map {
	if m == nil {
		return value.NewMap()
	}
	return m.Clone()
}

// computeOutputs builds the target-output map (spec.md §4.4): the on-disk
// path each target's back-end output will live at, and whether it can be
// linked against by a dependent.
func computeOutputs(flat []*model.Target) map[ident.Label]Output {
	outputs := make(map[ident.Label]Output, len(flat))
	for _, t := range flat {
		outputs[t.Label] = Output{
			Path:     ProductPath(t),
			Linkable: t.Type.Linkable(),
		}
	}
	return outputs
}

// ProductPath computes the default product path for a target, honoring
// product_name/product_prefix/product_extension overrides (spec.md §3) and
// falling back to per-platform-agnostic conventions the Make/Ninja/SCons
// back-ends then adapt to their own directory layout. Exported so src/gen
// can compute the same path for a target immediately after merge, to bind
// as a cross-target late (">(NAME)") variable before any other target's
// dependency on that target has been resolved (spec.md §4.1).
func ProductPath(t *model.Target) string {
	name := t.ProductName
	if name == "" {
		name = t.Label.Name
	}
	prefix := t.ProductPrefix
	ext := t.ProductExtension
	switch t.Type {
	case model.StaticLibrary:
		if prefix == "" {
			prefix = "lib"
		}
		if ext == "" {
			ext = "a"
		}
	case model.SharedLibrary, model.LoadableModule:
		if prefix == "" {
			prefix = "lib"
		}
		if ext == "" {
			ext = "so"
		}
	}
	base := prefix + name
	if ext != "" {
		base += "." + ext
	}
	dir := t.ProductDir
	if dir == "" {
		return base
	}
	return filepath.Join(dir, base)
}

// suggestLabel returns a "Maybe you meant ...?" hint for a dependency label
// that doesn't resolve to anything in g, or "" if nothing is close enough.
func suggestLabel(dep ident.Label, g *Graph) string {
	haystack := make([]string, 0, len(g.Labels()))
	for _, l := range g.Labels() {
		haystack = append(haystack, l.String())
	}
	return cli.PrettyPrintSuggestion(dep.String(), haystack, maxSuggestionDistance)
}
