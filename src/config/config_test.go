package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnv map[string]string

func (f fakeEnv) Lookup(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}

func TestParseDefinesBareNameIsTrue(t *testing.T) {
	out, err := parseDefines([]string{"DEBUG"})
	require.NoError(t, err)
	assert.Equal(t, "1", out["DEBUG"])
}

func TestParseDefinesNameValue(t *testing.T) {
	out, err := parseDefines([]string{"OS=linux", "VERSION=5"})
	require.NoError(t, err)
	assert.Equal(t, "linux", out["OS"])
	assert.Equal(t, "5", out["VERSION"])
}

func TestParseDefinesRejectsEmptyName(t *testing.T) {
	_, err := parseDefines([]string{"=foo"})
	assert.Error(t, err)
}

func TestToGenConfigReadsFlagsWithoutEnvironment(t *testing.T) {
	opts := &Options{
		Defines:   []string{"OS=linux"},
		Formats:   []string{"ninja"},
		IgnoreEnv: true,
	}
	opts.Args.EntryFiles = []string{"/src/prog.build"}

	cfg, err := ToGenConfig(opts, fakeEnv{"GYP_DEFINES": "SHOULD_NOT=appear"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/src/prog.build"}, cfg.EntryFiles)
	assert.Equal(t, []string{"ninja"}, cfg.Generators)
	assert.Equal(t, "linux", cfg.Defines["OS"])
	_, present := cfg.Defines["SHOULD_NOT"]
	assert.False(t, present)
}

func TestToGenConfigFallsBackToEnvironment(t *testing.T) {
	opts := &Options{}
	opts.Args.EntryFiles = []string{"/src/prog.build"}

	env := fakeEnv{
		"GYP_DEFINES":          "OS=linux ARCH=amd64",
		"GYP_GENERATORS":       "make ninja",
		"GYP_GENERATOR_OUTPUT": "/out",
		"GYP_GENERATOR_FLAGS":  "auto_regeneration=0",
	}
	cfg, err := ToGenConfig(opts, env)
	require.NoError(t, err)
	assert.Equal(t, "linux", cfg.Defines["OS"])
	assert.Equal(t, "amd64", cfg.Defines["ARCH"])
	assert.Equal(t, []string{"make", "ninja"}, cfg.Generators)
	assert.Equal(t, "/out", cfg.GeneratorOutput)
	assert.False(t, cfg.AutoRegeneration)
}

func TestToGenConfigEnvIgnoredWhenRequested(t *testing.T) {
	opts := &Options{IgnoreEnv: true}
	opts.Args.EntryFiles = []string{"/src/prog.build"}

	env := fakeEnv{"GYP_GENERATOR_FLAGS": "auto_regeneration=0"}
	cfg, err := ToGenConfig(opts, env)
	require.NoError(t, err)
	assert.True(t, cfg.AutoRegeneration)
}

func TestToGenConfigProductDirDefaultsToOut(t *testing.T) {
	opts := &Options{IgnoreEnv: true}
	opts.Args.EntryFiles = []string{"/src/prog.build"}
	cfg, err := ToGenConfig(opts, fakeEnv{})
	require.NoError(t, err)
	assert.Equal(t, "out", cfg.ProductDir)
}

func TestToGenConfigProductDirFromGeneratorFlag(t *testing.T) {
	opts := &Options{IgnoreEnv: true, GeneratorFlags: []string{"output_dir=build/products"}}
	opts.Args.EntryFiles = []string{"/src/prog.build"}
	cfg, err := ToGenConfig(opts, fakeEnv{})
	require.NoError(t, err)
	assert.Equal(t, "build/products", cfg.ProductDir)
}

func TestToGenConfigFlagsTakePrecedenceOverEnvOrdering(t *testing.T) {
	opts := &Options{Formats: []string{"scons"}}
	opts.Args.EntryFiles = []string{"/src/prog.build"}

	env := fakeEnv{"GYP_GENERATORS": "make"}
	cfg, err := ToGenConfig(opts, env)
	require.NoError(t, err)
	assert.Equal(t, []string{"make", "scons"}, cfg.Generators)
}
