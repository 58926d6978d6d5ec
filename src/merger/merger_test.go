package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sulmone/mbg/src/literal"
	"github.com/sulmone/mbg/src/model"
	"github.com/sulmone/mbg/src/value"
)

func parse(t *testing.T, file, src string) []*model.Target {
	t.Helper()
	tree, err := literal.Parse(file, src)
	require.NoError(t, err)
	targets, err := Merge(file, tree)
	require.NoError(t, err)
	return targets
}

func TestMergeTargetDefaultsUnderTargetOwnKeys(t *testing.T) {
	targets := parse(t, "/src/a.build", `{
		'target_defaults': {'cflags': ['-Wall']},
		'targets': [{'target_name': 'a', 'type': 'executable', 'cflags': ['-O2']}],
	}`)
	require.Len(t, targets, 1)
	cfg := targets[0].Configurations[DefaultConfigName]
	require.NotNil(t, cfg)
	cflags, _ := cfg.Settings.Get("cflags")
	var got []string
	for _, v := range cflags.AsSeq() {
		s, _ := v.AsString()
		got = append(got, s)
	}
	assert.Equal(t, []string{"-Wall", "-O2"}, got)
}

func TestMergeSynthesizesDefaultConfiguration(t *testing.T) {
	targets := parse(t, "/src/a.build", `{'targets': [{'target_name': 'a', 'type': 'none'}]}`)
	require.Len(t, targets, 1)
	assert.Contains(t, targets[0].Configurations, DefaultConfigName)
}

func TestMergeConfigurationsInheritFrom(t *testing.T) {
	targets := parse(t, "/src/a.build", `{
		'targets': [{
			'target_name': 'a',
			'type': 'executable',
			'configurations': {
				'Common': {'defines': ['BASE']},
				'Debug': {'inherit_from': 'Common', 'defines': ['DEBUG']},
			},
		}],
	}`)
	require.Len(t, targets, 1)
	debug := targets[0].Configurations["Debug"]
	require.NotNil(t, debug)
	defines, _ := debug.Settings.Get("defines")
	var got []string
	for _, v := range defines.AsSeq() {
		s, _ := v.AsString()
		got = append(got, s)
	}
	assert.Equal(t, []string{"BASE", "DEBUG"}, got)
	assert.Equal(t, "Common", debug.InheritFrom)
}

func TestMergeConfigurationsInheritFromCycleIsFatal(t *testing.T) {
	_, err := Merge("/src/a.build", mustTree(t, `{
		'targets': [{
			'target_name': 'a',
			'type': 'executable',
			'configurations': {
				'A': {'inherit_from': 'B'},
				'B': {'inherit_from': 'A'},
			},
		}],
	}`))
	require.Error(t, err)
}

func TestMergeConfigurationsUnknownInheritFromIsFatal(t *testing.T) {
	_, err := Merge("/src/a.build", mustTree(t, `{
		'targets': [{
			'target_name': 'a',
			'type': 'executable',
			'configurations': {
				'Debug': {'inherit_from': 'Missing'},
			},
		}],
	}`))
	require.Error(t, err)
}

func TestMergeHoistsXcodeSettingsIntoEachConfiguration(t *testing.T) {
	targets := parse(t, "/src/a.build", `{
		'targets': [{
			'target_name': 'a',
			'type': 'executable',
			'xcode_settings': {'SDKROOT': 'macosx'},
			'configurations': {'Debug': {}, 'Release': {}},
		}],
	}`)
	require.Len(t, targets, 1)
	for _, name := range []string{"Debug", "Release"} {
		cfg := targets[0].Configurations[name]
		require.NotNil(t, cfg)
		v, ok := cfg.Settings.Get("xcode_settings")
		require.True(t, ok, "configuration %s should have xcode_settings hoisted in", name)
		sdkroot, _ := v.AsMap().Get("SDKROOT")
		assert.Equal(t, "macosx", sdkroot.String())
	}
}

func TestMergeSourcesExcludesBangEntries(t *testing.T) {
	targets := parse(t, "/src/a.build", `{
		'targets': [{
			'target_name': 'a',
			'type': 'executable',
			'sources': ['a.cc', 'b_linux.cc', 'b_linux.cc'],
			'sources!': ['b_linux.cc'],
		}],
	}`)
	require.Len(t, targets, 1)
	srcs := targets[0].Sources
	require.Len(t, srcs, 3)
	assert.Equal(t, model.SourceEntry{Path: "a.cc", Excluded: false}, srcs[0])
	assert.True(t, srcs[1].Excluded)
	assert.True(t, srcs[2].Excluded)
}

func TestMergeSourcesExcludesByRegex(t *testing.T) {
	targets := parse(t, "/src/a.build", `{
		'targets': [{
			'target_name': 'a',
			'type': 'executable',
			'sources': ['a.cc', 'a_test.cc'],
			'sources/': ['.*_test\\.cc$'],
		}],
	}`)
	require.Len(t, targets, 1)
	srcs := targets[0].Sources
	require.Len(t, srcs, 2)
	assert.False(t, srcs[0].Excluded)
	assert.True(t, srcs[1].Excluded)
}

func TestMergeDependenciesOriginalPreserved(t *testing.T) {
	targets := parse(t, "/src/a.build", `{
		'targets': [{
			'target_name': 'a',
			'type': 'executable',
			'dependencies': ['b.build:b', ':c'],
		}],
	}`)
	require.Len(t, targets, 1)
	assert.Equal(t, []string{"b.build:b", ":c"}, targets[0].DependenciesOriginal)
}

func TestMergeActionRequiresOutputs(t *testing.T) {
	_, err := Merge("/src/a.build", mustTree(t, `{
		'targets': [{
			'target_name': 'a',
			'type': 'executable',
			'actions': [{'action_name': 'gen', 'inputs': ['a.in'], 'outputs': [], 'action': ['touch']}],
		}],
	}`))
	require.Error(t, err)
}

func TestMergeRuleMultipleSourcesRequiresTemplatedOutput(t *testing.T) {
	_, err := Merge("/src/a.build", mustTree(t, `{
		'targets': [{
			'target_name': 'a',
			'type': 'executable',
			'rules': [{
				'rule_name': 'compile',
				'extension': 'proto',
				'rule_sources': ['a.proto', 'b.proto'],
				'outputs': ['out.pb.cc'],
				'action': ['protoc'],
			}],
		}],
	}`))
	require.Error(t, err)
}

func TestMergeUnknownKeyPreserved(t *testing.T) {
	targets := parse(t, "/src/a.build", `{
		'targets': [{'target_name': 'a', 'type': 'executable', 'mystery_key': 'value'},],
	}`)
	require.Len(t, targets, 1)
	v, ok := targets[0].Unknown.Get("mystery_key")
	require.True(t, ok)
	assert.Equal(t, "value", v.String())
}

func TestMergeUnknownTargetTypeIsFatal(t *testing.T) {
	_, err := Merge("/src/a.build", mustTree(t, `{
		'targets': [{'target_name': 'a', 'type': 'bogus'}],
	}`))
	require.Error(t, err)
}

func TestMergeMissingTargetNameIsFatal(t *testing.T) {
	_, err := Merge("/src/a.build", mustTree(t, `{'targets': [{'type': 'executable'}]}`))
	require.Error(t, err)
}

func mustTree(t *testing.T, src string) *value.Map {
	t.Helper()
	tree, err := literal.Parse("/src/a.build", src)
	require.NoError(t, err)
	return tree
}
