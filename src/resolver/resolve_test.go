package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sulmone/mbg/src/ident"
	"github.com/sulmone/mbg/src/model"
	"github.com/sulmone/mbg/src/value"
)

func newTarget(file, name string, tt model.TargetType, deps ...string) *model.Target {
	return &model.Target{
		Label:                ident.Label{File: file, Name: name, Toolset: ident.DefaultToolset},
		Type:                 tt,
		DependenciesOriginal: deps,
		Configurations: map[string]*model.Configuration{
			"Default": {Name: "Default", Settings: value.NewMap()},
		},
	}
}

func labelNames(flat []*model.Target) []string {
	names := make([]string, len(flat))
	for i, t := range flat {
		names[i] = t.Label.Name
	}
	return names
}

func TestResolveExpandsDependencies(t *testing.T) {
	a := newTarget("/src/a.build", "a", model.Executable, "/src/b.build:b")
	b := newTarget("/src/b.build", "b", model.StaticLibrary)
	res, err := Resolve([]*model.Target{a, b})
	require.NoError(t, err)
	require.Len(t, a.Dependencies, 1)
	assert.Equal(t, ident.Label{File: "/src/b.build", Name: "b", Toolset: "target"}, a.Dependencies[0])
	assert.Len(t, res.Flat, 2)
}

func TestResolveTopologicalFlattenOrdersDepsFirst(t *testing.T) {
	a := newTarget("/src/a.build", "a", model.Executable, ":b")
	b := newTarget("/src/a.build", "b", model.StaticLibrary, ":c")
	c := newTarget("/src/a.build", "c", model.StaticLibrary)
	res, err := Resolve([]*model.Target{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, labelNames(res.Flat))
}

func TestResolveDetectsCycle(t *testing.T) {
	a := newTarget("/src/a.build", "a", model.Executable, ":b")
	b := newTarget("/src/a.build", "b", model.StaticLibrary, ":a")
	_, err := Resolve([]*model.Target{a, b})
	require.Error(t, err)
	_, isCycle := err.(*CycleError)
	assert.True(t, isCycle, "expected a *CycleError, got %T: %v", err, err)
}

func TestResolveMissingDependencyIsFatal(t *testing.T) {
	a := newTarget("/src/a.build", "a", model.Executable, ":missing")
	_, err := Resolve([]*model.Target{a})
	require.Error(t, err)
}

func TestResolveMissingDependencySuggestsCloseLabel(t *testing.T) {
	a := newTarget("/src/a.build", "a", model.Executable, ":bra")
	b := newTarget("/src/a.build", "bar", model.StaticLibrary)
	_, err := Resolve([]*model.Target{a, b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Maybe you meant")
	assert.Contains(t, err.Error(), "bar")
}

func TestResolveDirectDependentSettingsAppliesOneHopOnly(t *testing.T) {
	a := newTarget("/src/a.build", "a", model.Executable, ":b")
	b := newTarget("/src/a.build", "b", model.StaticLibrary, ":c")
	c := newTarget("/src/a.build", "c", model.StaticLibrary)
	c.DirectDependentSettings = mapOf("include_dirs", value.Seq(value.String("c-includes")))

	_, err := Resolve([]*model.Target{a, b, c})
	require.NoError(t, err)

	bIncludes, _ := b.Configurations["Default"].Settings.Get("include_dirs")
	require.Equal(t, 1, len(bIncludes.AsSeq()), "direct_dependent_settings should reach the direct dependent b")

	_, present := a.Configurations["Default"].Settings.Get("include_dirs")
	assert.False(t, present, "direct_dependent_settings should not reach a, which only depends on b transitively")
}

func TestResolveAllDependentSettingsPropagatesTransitively(t *testing.T) {
	a := newTarget("/src/a.build", "a", model.Executable, ":b")
	b := newTarget("/src/a.build", "b", model.StaticLibrary, ":c")
	c := newTarget("/src/a.build", "c", model.StaticLibrary)
	c.AllDependentSettings = mapOf("defines", value.Seq(value.String("FROM_C")))

	_, err := Resolve([]*model.Target{a, b, c})
	require.NoError(t, err)

	for _, target := range []*model.Target{a, b} {
		defines, ok := target.Configurations["Default"].Settings.Get("defines")
		require.True(t, ok, "%s should see c's all_dependent_settings", target.Label.Name)
		s, _ := defines.AsSeq()[0].AsString()
		assert.Equal(t, "FROM_C", s)
	}
}

func TestResolveLinkSettingsFlowThroughStaticLibraryToExecutable(t *testing.T) {
	exe := newTarget("/src/a.build", "exe", model.Executable, ":lib")
	lib := newTarget("/src/a.build", "lib", model.StaticLibrary, ":leaf")
	leaf := newTarget("/src/a.build", "leaf", model.StaticLibrary)
	leaf.LinkSettings = mapOf("libraries", value.Seq(value.String("-lleaf")))

	_, err := Resolve([]*model.Target{exe, lib, leaf})
	require.NoError(t, err)

	libs, ok := exe.Configurations["Default"].Settings.Get("libraries")
	require.True(t, ok, "link_settings should flow through the static-library chain into the executable")
	s, _ := libs.AsSeq()[0].AsString()
	assert.Equal(t, "-lleaf", s)

	_, onLib := lib.Configurations["Default"].Settings.Get("libraries")
	assert.False(t, onLib, "link_settings should not be applied to the intermediate static library itself")
}

func TestResolveLinkSettingsStopAtSharedLibraryBoundary(t *testing.T) {
	exe := newTarget("/src/a.build", "exe", model.Executable, ":shared")
	shared := newTarget("/src/a.build", "shared", model.SharedLibrary, ":leaf")
	leaf := newTarget("/src/a.build", "leaf", model.StaticLibrary)
	leaf.LinkSettings = mapOf("libraries", value.Seq(value.String("-lleaf")))

	_, err := Resolve([]*model.Target{exe, shared, leaf})
	require.NoError(t, err)

	_, onExe := exe.Configurations["Default"].Settings.Get("libraries")
	assert.False(t, onExe, "a shared library absorbs its own link_settings chain rather than passing it on")
}

func TestResolveOutputsLinkableBit(t *testing.T) {
	a := newTarget("/src/a.build", "a", model.StaticLibrary)
	b := newTarget("/src/a.build", "b", model.NoneType)
	res, err := Resolve([]*model.Target{a, b})
	require.NoError(t, err)
	assert.True(t, res.Outputs[a.Label].Linkable)
	assert.False(t, res.Outputs[b.Label].Linkable)
}

func TestResolveOutputProductPath(t *testing.T) {
	a := newTarget("/src/a.build", "mylib", model.StaticLibrary)
	res, err := Resolve([]*model.Target{a})
	require.NoError(t, err)
	assert.Equal(t, "libmylib.a", res.Outputs[a.Label].Path)
}

func mapOf(key string, v value.Value) *value.Map {
	m := value.NewMap()
	m.Set(key, v)
	return m
}
