package emit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sulmone/mbg/src/ident"
	"github.com/sulmone/mbg/src/model"
	"github.com/sulmone/mbg/src/resolver"
)

func TestOSWriterSkipsByteIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.mk")
	w := NewOSWriter()
	require.NoError(t, w.WriteFile(path, []byte("all:\n")))
	info1, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, w.WriteFile(path, []byte("all:\n")))
	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime(), "identical content should not rewrite the file")

	require.NoError(t, w.WriteFile(path, []byte("all:\n\tfoo\n")))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "all:\n\tfoo\n", string(content))
}

func TestOSWriterCreatesMissingDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "sub", "out.ninja")
	w := NewOSWriter()
	require.NoError(t, w.WriteFile(path, []byte("build all: phony\n")))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "build all: phony\n", string(content))
}

func TestValidatePathsRejectsSpaceInSource(t *testing.T) {
	res := &resolver.Result{Flat: []*model.Target{{
		Label:   ident.Label{File: "/src/a.build", Name: "a"},
		Sources: []model.SourceEntry{{Path: "has space.cc"}},
	}}}
	err := ValidatePaths(res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has space.cc")
}

func TestValidatePathsRejectsSpaceInActionOutput(t *testing.T) {
	res := &resolver.Result{Flat: []*model.Target{{
		Label: ident.Label{File: "/src/a.build", Name: "a"},
		Actions: []model.Action{{
			Name:    "gen",
			Outputs: []string{"bad output.h"},
		}},
	}}}
	err := ValidatePaths(res)
	require.Error(t, err)
}

func TestValidatePathsAcceptsCleanPaths(t *testing.T) {
	res := &resolver.Result{Flat: []*model.Target{{
		Label:   ident.Label{File: "/src/a.build", Name: "a"},
		Sources: []model.SourceEntry{{Path: "clean.cc"}},
	}}}
	assert.NoError(t, ValidatePaths(res))
}

func TestOutputPathPrefersGeneratorOutput(t *testing.T) {
	assert.Equal(t, "/out/foo.mk", OutputPath(Options{OutputDir: "/build", GeneratorOutput: "/out"}, "foo.mk"))
	assert.Equal(t, "/build/foo.mk", OutputPath(Options{OutputDir: "/build"}, "foo.mk"))
	assert.Equal(t, "foo.mk", OutputPath(Options{}, "foo.mk"))
}
