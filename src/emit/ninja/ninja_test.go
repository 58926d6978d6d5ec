package ninja

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sulmone/mbg/src/emit"
	"github.com/sulmone/mbg/src/ident"
	"github.com/sulmone/mbg/src/model"
	"github.com/sulmone/mbg/src/resolver"
)

type fakeWriter struct {
	files map[string]string
}

func newFakeWriter() *fakeWriter { return &fakeWriter{files: map[string]string{}} }

func (w *fakeWriter) WriteFile(path string, content []byte) error {
	w.files[path] = string(content)
	return nil
}

func TestBackendName(t *testing.T) {
	assert.Equal(t, "ninja", Backend{}.Name())
}

func TestGenerateWritesMasterRulesAndSubninjaPerTarget(t *testing.T) {
	exe := &model.Target{
		Label:   ident.Label{File: "/src/prog.build", Name: "prog", Toolset: "target"},
		Type:    model.Executable,
		Sources: []model.SourceEntry{{Path: "main.cc"}},
	}
	res := &resolver.Result{
		Flat:    []*model.Target{exe},
		Outputs: map[ident.Label]resolver.Output{exe.Label: {Path: "out/prog", Linkable: false}},
	}
	w := newFakeWriter()
	require.NoError(t, Backend{}.Generate(res, emit.Options{}, w))

	driver := w.files["build.ninja"]
	assert.Contains(t, driver, "rule cxx")
	assert.Contains(t, driver, "subninja obj/target/prog.prog.ninja")
	assert.Contains(t, driver, "build all: phony out/prog")

	frag, ok := w.files["obj/target/prog.prog.ninja"]
	require.True(t, ok)
	assert.Contains(t, frag, ": link")
	assert.Contains(t, frag, "main.cc")
}

func TestGeneratePredependsStampCollapsesDependencyOutputs(t *testing.T) {
	lib := &model.Target{
		Label: ident.Label{File: "/src/lib.build", Name: "lib", Toolset: "target"},
		Type:  model.StaticLibrary,
	}
	exe := &model.Target{
		Label:        ident.Label{File: "/src/prog.build", Name: "prog", Toolset: "target"},
		Type:         model.Executable,
		Sources:      []model.SourceEntry{{Path: "main.cc"}},
		Dependencies: []ident.Label{lib.Label},
	}
	res := &resolver.Result{
		Flat: []*model.Target{lib, exe},
		Outputs: map[ident.Label]resolver.Output{
			lib.Label: {Path: "out/liblib.a", Linkable: true},
			exe.Label: {Path: "out/prog", Linkable: false},
		},
	}
	w := newFakeWriter()
	require.NoError(t, Backend{}.Generate(res, emit.Options{}, w))
	frag := w.files["obj/target/prog.prog.ninja"]
	assert.Contains(t, frag, "predepends.stamp: stamp out/liblib.a")
}

func TestGenerateSharedLibraryUsesWholeArchive(t *testing.T) {
	lib := &model.Target{
		Label: ident.Label{File: "/src/lib.build", Name: "lib", Toolset: "target"},
		Type:  model.StaticLibrary,
	}
	shared := &model.Target{
		Label:        ident.Label{File: "/src/shared.build", Name: "shared", Toolset: "target"},
		Type:         model.SharedLibrary,
		Sources:      []model.SourceEntry{{Path: "s.cc"}},
		Dependencies: []ident.Label{lib.Label},
	}
	res := &resolver.Result{
		Flat: []*model.Target{lib, shared},
		Outputs: map[ident.Label]resolver.Output{
			lib.Label:    {Path: "out/liblib.a", Linkable: true},
			shared.Label: {Path: "out/libshared.so", Linkable: true},
		},
	}
	w := newFakeWriter()
	require.NoError(t, Backend{}.Generate(res, emit.Options{}, w))
	frag := w.files["obj/target/shared.shared.ninja"]
	assert.Contains(t, frag, ": solink")
	assert.Contains(t, frag, "out/liblib.a")
}

func TestGenerateNoneTypeEmitsStamp(t *testing.T) {
	none := &model.Target{
		Label: ident.Label{File: "/src/meta.build", Name: "meta", Toolset: "target"},
		Type:  model.NoneType,
	}
	res := &resolver.Result{
		Flat:    []*model.Target{none},
		Outputs: map[ident.Label]resolver.Output{none.Label: {}},
	}
	w := newFakeWriter()
	require.NoError(t, Backend{}.Generate(res, emit.Options{}, w))
	driver := w.files["build.ninja"]
	assert.Contains(t, driver, "all: phony obj/target/meta.meta.target.stamp")
}

func TestGenerateRejectsSpaceInSourcePath(t *testing.T) {
	target := &model.Target{
		Label:   ident.Label{File: "/src/t.build", Name: "t", Toolset: "target"},
		Type:    model.Executable,
		Sources: []model.SourceEntry{{Path: "bad path.cc"}},
	}
	res := &resolver.Result{
		Flat:    []*model.Target{target},
		Outputs: map[ident.Label]resolver.Output{target.Label: {}},
	}
	w := newFakeWriter()
	require.Error(t, Backend{}.Generate(res, emit.Options{}, w))
}

func TestGenerateRuleExpandsRootToken(t *testing.T) {
	target := &model.Target{
		Label: ident.Label{File: "/src/t.build", Name: "t", Toolset: "target"},
		Type:  model.NoneType,
		Rules: []model.Rule{{
			Name:        "idl",
			RuleSources: []string{"foo.idl"},
			Outputs:     []string{"gen/$root.h"},
			Command:     []string{"idlc", "$source"},
		}},
	}
	res := &resolver.Result{
		Flat:    []*model.Target{target},
		Outputs: map[ident.Label]resolver.Output{target.Label: {}},
	}
	w := newFakeWriter()
	require.NoError(t, Backend{}.Generate(res, emit.Options{}, w))
	frag := w.files["obj/target/t.t.ninja"]
	assert.Contains(t, frag, "gen/foo.h")
}

// TestGenerateExpandsProductDirTokenInActionOutput exercises expandSpecial
// through the real emission path (Backend.Generate), not a direct call: an
// action output tagged with $!PRODUCT_DIR must come out of the generated
// subninja fragment already resolved to opts.ProductDir, the way a real
// build.ninja consumer needs it — not the literal, meaningless token.
func TestGenerateExpandsProductDirTokenInActionOutput(t *testing.T) {
	target := &model.Target{
		Label: ident.Label{File: "/src/t.build", Name: "t", Toolset: "target"},
		Type:  model.NoneType,
		Actions: []model.Action{{
			Name:    "gen_version",
			Command: []string{"gen_version"},
			Outputs: []string{"$!PRODUCT_DIR/version.h"},
		}},
	}
	res := &resolver.Result{
		Flat:    []*model.Target{target},
		Outputs: map[ident.Label]resolver.Output{target.Label: {}},
	}
	w := newFakeWriter()
	require.NoError(t, Backend{}.Generate(res, emit.Options{ProductDir: "out/Default"}, w))

	frag, ok := w.files["obj/target/t.t.ninja"]
	require.True(t, ok)
	assert.Contains(t, frag, "out/Default/version.h")
	assert.NotContains(t, frag, "$!PRODUCT_DIR")
}

// TestGenerateProductDirTokenAccountsForNestedBuildFile proves
// productDirFor's invertRelativePath use: a target declared in a BuildFile
// nested two directories below the root still resolves $!PRODUCT_DIR back
// to the build root, not a path relative to its own declaring directory.
func TestGenerateProductDirTokenAccountsForNestedBuildFile(t *testing.T) {
	target := &model.Target{
		Label: ident.Label{File: "third_party/lib/sub.build", Name: "sub", Toolset: "target"},
		Type:  model.NoneType,
		Copies: []model.Copy{{
			Destination: "$!PRODUCT_DIR/data",
			Files:       []string{"asset.bin"},
		}},
	}
	res := &resolver.Result{
		Flat:    []*model.Target{target},
		Outputs: map[ident.Label]resolver.Output{target.Label: {}},
	}
	w := newFakeWriter()
	require.NoError(t, Backend{}.Generate(res, emit.Options{ProductDir: "out/Default"}, w))

	frag, ok := w.files["obj/target/sub.sub.ninja"]
	require.True(t, ok)
	assert.Contains(t, frag, filepath.Join("../..", "out/Default", "data", "asset.bin"))
}

func TestExpandSpecialProductDir(t *testing.T) {
	label := ident.Label{File: "/src/t.build", Name: "t", Toolset: "target"}
	assert.Equal(t, "out/Debug/foo", expandSpecial("$!PRODUCT_DIR/foo", "out/Debug", label))
	assert.Equal(t, "foo", expandSpecial("$!PRODUCT_DIR/foo", "", label))
}

func TestExpandSpecialIntermediateDir(t *testing.T) {
	label := ident.Label{File: "/src/t.build", Name: "t", Toolset: "target"}
	got := expandSpecial("$!INTERMEDIATE_DIR/gen.h", "", label)
	assert.Contains(t, got, "gen.stamp")
}

func TestInvertRelativePath(t *testing.T) {
	assert.Equal(t, "", invertRelativePath(""))
	assert.Equal(t, "..", invertRelativePath("foo"))
	assert.Equal(t, "../..", invertRelativePath("foo/bar"))
}
