// Package model defines the data-model entities of spec.md §3: BuildFile,
// Target, Configuration, Action, Rule and Copy.
package model

import (
	"sort"

	"github.com/sulmone/mbg/src/ident"
	"github.com/sulmone/mbg/src/value"
)

// TargetType enumerates the recognized values of a Target's "type" key
// (spec.md §3).
type TargetType string

const (
	Executable     TargetType = "executable"
	StaticLibrary  TargetType = "static_library"
	SharedLibrary  TargetType = "shared_library"
	LoadableModule TargetType = "loadable_module"
	NoneType       TargetType = "none"
	SettingsType   TargetType = "settings"
)

// Linkable reports whether targets of this type produce a linkable output
// (spec.md §4.4's target-output map).
func (t TargetType) Linkable() bool {
	switch t {
	case StaticLibrary, SharedLibrary, LoadableModule:
		return true
	}
	return false
}

// Valid reports whether t is one of the recognized target types (spec.md
// §4.5: "Unknown target type: fatal").
func (t TargetType) Valid() bool {
	switch t {
	case Executable, StaticLibrary, SharedLibrary, LoadableModule, NoneType, SettingsType:
		return true
	}
	return false
}

// SourceEntry is one entry of a Target's ordered sources list, carrying the
// "!" exclusion bit (spec.md §3).
type SourceEntry struct {
	Path     string
	Excluded bool
}

// Action is an anonymous build step (spec.md §3).
type Action struct {
	Name                         string
	Inputs                       []string
	Outputs                      []string
	Command                      []string // tokenized, per spec.md §3
	Message                      string
	ProcessOutputsAsSources       bool
	ProcessOutputsAsBundleResources bool
}

// Rule is a pattern step bound to a file extension (spec.md §3).
type Rule struct {
	Name        string
	Extension   string
	Inputs      []string
	Outputs     []string // templated, e.g. with %(INPUT_ROOT)s
	Command     []string
	Message     string
	RuleSources []string
}

// Copy is a single copy step (spec.md §3).
type Copy struct {
	Destination string
	Files       []string
}

// Configuration is a named settings bundle under a Target (spec.md §3).
type Configuration struct {
	Name         string
	InheritFrom  string // another configuration name in the same target, or ""
	Settings     *value.Map
	resolved     bool // not set anywhere; the Merger flattens InheritFrom straight into Settings
}

// Target is a declared build artifact (spec.md §3).
type Target struct {
	Label   ident.Label
	Type    TargetType
	Sources []SourceEntry

	// DependenciesOriginal is the user's declared dependency list, exactly
	// as written (spec.md §4.4). Dependencies may be rewritten by the
	// Resolver to carry toolset propagation; DependenciesOriginal never is.
	DependenciesOriginal []string
	Dependencies         []ident.Label

	Configurations       map[string]*Configuration
	DefaultConfiguration string

	Actions []Action
	Rules   []Rule
	Copies  []Copy

	AllDependentSettings    *value.Map
	DirectDependentSettings *value.Map
	LinkSettings            *value.Map

	ProductName      string
	ProductPrefix    string
	ProductExtension string
	ProductDir       string

	// Unknown is the set of top-level keys inside this target that weren't
	// recognized by any stage (spec.md §6: "preserved and ignored unless
	// consumed by an emitter").
	Unknown *value.Map
}

// ConfigurationNames returns the target's configuration names in a stable,
// sorted order — callers needing declaration order should consult the
// BuildFile's raw tree instead, since map iteration order is not preserved
// here (spec.md invariant 1 only requires non-emptiness, not an order).
func (t *Target) ConfigurationNames() []string {
	names := make([]string, 0, len(t.Configurations))
	for name := range t.Configurations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildFile is a loaded, not-yet-merged on-disk build description (spec.md
// §3). Identity is its absolute path.
type BuildFile struct {
	Path            string
	Targets         []*Target
	TargetDefaults   *value.Map
	Variables        *value.Map
	Includes         []string // resolved, absolute paths, in splice order
	IncludedFiles    []string // every file transitively spliced in, for rebuild tracking
}

// TargetByName returns the target in this file with the given name, or nil.
func (bf *BuildFile) TargetByName(name string) *Target {
	for _, t := range bf.Targets {
		if t.Label.Name == name {
			return t
		}
	}
	return nil
}
