// Package ninja implements the subninja-per-target Ninja back-end
// described in spec.md §4.5: a master build.ninja declaring the shared
// rules, one subninja fragment per target, a predepends stamp collapsing a
// target's dependency outputs into a single order-only input, and
// $!PRODUCT_DIR/$!INTERMEDIATE_DIR token expansion.
//
// Grounded on original_source/pylib/gyp/generator/ninja.py's NinjaWriter:
// WriteSpec's predepends/WriteActionsRulesCopies/WriteSources/WriteTarget
// pipeline, ExpandSpecial's two special tokens, and InvertRelativePath's
// build-dir-to-base-dir inversion, adapted into the teacher's idiom the same
// way src/emit/make adapts make.py.
package ninja

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alessio/shellescape"

	"github.com/sulmone/mbg/src/emit"
	"github.com/sulmone/mbg/src/ident"
	"github.com/sulmone/mbg/src/model"
	"github.com/sulmone/mbg/src/resolver"
)

// Backend implements emit.Backend for the Ninja output form.
type Backend struct{}

// Name implements emit.Backend.
func (Backend) Name() string { return "ninja" }

// Generate implements emit.Backend.
func (Backend) Generate(res *resolver.Result, opts emit.Options, w emit.FileWriter) error {
	if err := emit.ValidatePaths(res); err != nil {
		return err
	}

	var driver strings.Builder
	writeRules(&driver)

	var defaults []string
	for _, t := range res.Flat {
		fragPath := fragmentRelPath(t.Label)
		fmt.Fprintf(&driver, "subninja %s\n", fragPath)

		content := writeFragment(t, res, opts)
		if err := w.WriteFile(emit.OutputPath(opts, fragPath), []byte(content)); err != nil {
			return err
		}
		defaults = append(defaults, targetOutput(t, res))
	}

	driver.WriteString("\nbuild all: phony " + strings.Join(defaults, " ") + "\n")
	driver.WriteString("default all\n")

	return w.WriteFile(emit.OutputPath(opts, "build.ninja"), []byte(driver.String()))
}

func fragmentRelPath(label ident.Label) string {
	base := strings.TrimSuffix(filepath.Base(label.File), filepath.Ext(label.File))
	return filepath.Join("obj", label.Toolset, base+"."+label.Name+".ninja")
}

func targetOutput(t *model.Target, res *resolver.Result) string {
	if t.Type == model.NoneType || t.Type == model.SettingsType {
		return stampPath(t.Label, "target")
	}
	return res.Outputs[t.Label].Path
}

// stampPath mirrors GypPathToUniqueOutput's qualified naming scheme: a stamp
// living under obj/<toolset>, namespaced by target name so two targets
// collapsing a stamp of the same logical name never collide.
func stampPath(label ident.Label, name string) string {
	base := strings.TrimSuffix(filepath.Base(label.File), filepath.Ext(label.File))
	return filepath.Join("obj", label.Toolset, base+"."+label.Name+"."+name+".stamp")
}

// writeRules emits the shared rule declarations every fragment's build
// edges reference (spec.md §4.5's "one master rules file").
func writeRules(b *strings.Builder) {
	b.WriteString("# This file is generated; do not edit.\n\n")
	b.WriteString(`rule cc
  command = $cc -c $cflags -o $out $in
  description = CC $out

rule cxx
  command = $cxx -c $cxxflags -o $out $in
  description = CXX $out

rule alink
  command = rm -f $out && $ar crs $out $in
  description = AR $out

rule solink
  command = $ld -shared $ldflags -o $out -Wl,--whole-archive $in $solibs -Wl,--no-whole-archive
  description = SOLINK $out

rule solink_module
  command = $ld -shared $ldflags -o $out $in $solibs
  description = SOLINK_MODULE $out

rule link
  command = $ld $ldflags -o $out -Wl,--start-group $in $solibs -Wl,--end-group
  description = LINK $out

rule copy
  command = ln -f $in $out 2>/dev/null || cp -af $in $out
  description = COPY $in $out

rule stamp
  command = touch $out
  description = STAMP $out

`)
}

// writeFragment writes one target's subninja fragment, mirroring
// WriteSpec's pipeline: predepends stamp, actions/rules/copies, source
// compilation, then the final link/archive/stamp edge. productDir is this
// target's $!PRODUCT_DIR expansion (productDirFor), applied to every
// action/rule/copy output or destination path before it's written.
func writeFragment(t *model.Target, res *resolver.Result, opts emit.Options) string {
	var b strings.Builder
	productDir := productDirFor(t.Label, opts)

	var prebuild []string
	var depOutputs []string
	for _, dep := range t.Dependencies {
		if o, ok := res.Outputs[dep]; ok && o.Path != "" {
			depOutputs = append(depOutputs, o.Path)
		}
	}
	if len(depOutputs) > 0 {
		stamp := stampPath(t.Label, "predepends")
		fmt.Fprintf(&b, "build %s: stamp %s\n\n", stamp, strings.Join(depOutputs, " "))
		prebuild = []string{stamp}
	}

	var stepOutputs []string
	for _, a := range t.Actions {
		stepOutputs = append(stepOutputs, writeAction(&b, t, a, prebuild, productDir)...)
	}
	for _, r := range t.Rules {
		for _, src := range r.RuleSources {
			outs := writeRule(&b, t, r, src, prebuild, productDir)
			stepOutputs = append(stepOutputs, outs...)
		}
	}
	for _, c := range t.Copies {
		stepOutputs = append(stepOutputs, writeCopies(&b, t.Label, c, prebuild, productDir)...)
	}

	actionsDeps := prebuild
	if len(stepOutputs) > 1 {
		stamp := stampPath(t.Label, "actions_rules_copies")
		fmt.Fprintf(&b, "build %s: stamp %s\n\n", stamp, strings.Join(stepOutputs, " "))
		actionsDeps = []string{stamp}
	} else if len(stepOutputs) == 1 {
		actionsDeps = stepOutputs
	}

	var objects []string
	for _, s := range t.Sources {
		if s.Excluded {
			continue
		}
		if obj, ok := writeCompile(&b, t, s.Path, actionsDeps); ok {
			objects = append(objects, obj)
		}
	}

	writeTarget(&b, t, res, objects)
	return b.String()
}

// writeAction emits one action's rule/build-edge pair, expanding
// $!PRODUCT_DIR/$!INTERMEDIATE_DIR in its outputs, inputs and message
// (mirroring NinjaWriter.WriteAction's ExpandSpecial calls on each), and
// returns the expanded outputs for the caller's stepOutputs accumulation.
func writeAction(b *strings.Builder, t *model.Target, a model.Action, orderOnly []string, productDir string) []string {
	outputs := expandAll(a.Outputs, productDir, t.Label)
	inputs := expandAll(a.Inputs, productDir, t.Label)
	desc := fmt.Sprintf("ACTION %s: %s", t.Label.Name, a.Name)
	if a.Message != "" {
		desc = "ACTION " + expandSpecial(a.Message, productDir, t.Label)
	}
	ruleName := sanitizeRuleName(t.Label.Name + "_" + a.Name)
	fmt.Fprintf(b, "rule %s\n  command = %s\n  description = %s\n\n", ruleName, shellescape.QuoteCommand(a.Command), desc)
	fmt.Fprintf(b, "build %s: %s %s", strings.Join(outputs, " "), ruleName, strings.Join(inputs, " "))
	writeOrderOnly(b, orderOnly)
	b.WriteString("\n\n")
	return outputs
}

func writeRule(b *strings.Builder, t *model.Target, r model.Rule, src string, orderOnly []string, productDir string) []string {
	root := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	desc := fmt.Sprintf("RULE %s: %s", t.Label.Name, r.Name)
	if r.Message != "" {
		desc = "RULE " + expandSpecial(r.Message, productDir, t.Label)
	}
	ruleName := sanitizeRuleName(t.Label.Name + "_" + r.Name)
	cmd := substituteRuleVars(r.Command, root, src)
	fmt.Fprintf(b, "rule %s\n  command = %s\n  description = %s\n\n", ruleName, shellescape.QuoteCommand(cmd), desc)

	outs := expandAll(substituteOutputVars(r.Outputs, root), productDir, t.Label)
	fmt.Fprintf(b, "build %s: %s %s", strings.Join(outs, " "), ruleName, src)
	if len(r.Inputs) > 0 {
		fmt.Fprintf(b, " | %s", strings.Join(r.Inputs, " "))
	}
	writeOrderOnly(b, orderOnly)
	b.WriteString("\n\n")
	return outs
}

func writeCopies(b *strings.Builder, label ident.Label, c model.Copy, orderOnly []string, productDir string) []string {
	dest := expandSpecial(c.Destination, productDir, label)
	var outs []string
	for _, f := range c.Files {
		dst := filepath.Join(dest, filepath.Base(f))
		fmt.Fprintf(b, "build %s: copy %s", dst, f)
		writeOrderOnly(b, orderOnly)
		b.WriteString("\n")
		outs = append(outs, dst)
	}
	b.WriteString("\n")
	return outs
}

// expandAll applies expandSpecial to every element of paths.
func expandAll(paths []string, productDir string, label ident.Label) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = expandSpecial(p, productDir, label)
	}
	return out
}

// writeCompile emits one object-file build edge, namespaced under
// obj/<toolset> the way GypPathToUniqueOutput qualifies outputs by target
// name so two targets compiling a same-named source don't collide.
func writeCompile(b *strings.Builder, t *model.Target, src string, orderOnly []string) (string, bool) {
	ext := filepath.Ext(src)
	var rule string
	switch ext {
	case ".c", ".m":
		rule = "cc"
	case ".cc", ".cpp", ".cxx", ".mm":
		rule = "cxx"
	default:
		return "", false
	}
	base := strings.TrimSuffix(filepath.Base(src), ext)
	obj := filepath.Join("obj", t.Label.Toolset, filepath.Dir(t.Label.File), t.Label.Name+"."+base+".o")
	fmt.Fprintf(b, "build %s: %s %s", obj, rule, src)
	writeOrderOnly(b, orderOnly)
	b.WriteString("\n")
	return obj, true
}

func writeOrderOnly(b *strings.Builder, orderOnly []string) {
	if len(orderOnly) > 0 {
		fmt.Fprintf(b, " || %s", strings.Join(orderOnly, " "))
	}
}

// writeTarget emits the final link/archive/stamp edge (spec.md §4.5: "Link
// ordering mirrors Make: whole-archive for shared libraries so all
// dependency code is retained, start/end group for executables").
func writeTarget(b *strings.Builder, t *model.Target, res *resolver.Result, objects []string) {
	out := res.Outputs[t.Label]
	staticDeps := directLinkableDeps(t, res)

	switch t.Type {
	case model.NoneType, model.SettingsType:
		stamp := stampPath(t.Label, "target")
		all := append(append([]string{}, objects...), staticDeps...)
		if len(all) == 0 {
			fmt.Fprintf(b, "build %s: stamp\n", stamp)
		} else {
			fmt.Fprintf(b, "build %s: stamp %s\n", stamp, strings.Join(all, " "))
		}
	case model.StaticLibrary:
		fmt.Fprintf(b, "build %s: alink %s\n", out.Path, strings.Join(objects, " "))
	case model.SharedLibrary:
		fmt.Fprintf(b, "build %s: solink %s\n", out.Path, linkInputs(objects, staticDeps))
	case model.LoadableModule:
		fmt.Fprintf(b, "build %s: solink_module %s\n", out.Path, linkInputs(objects, staticDeps))
	case model.Executable:
		fmt.Fprintf(b, "build %s: link %s\n", out.Path, linkInputs(objects, staticDeps))
	}
}

// linkInputs lists objects followed by the linkable dependency outputs, so
// both land in $in and therefore on the link line.
func linkInputs(objects, staticDeps []string) string {
	return strings.Join(append(append([]string{}, objects...), staticDeps...), " ")
}

func directLinkableDeps(t *model.Target, res *resolver.Result) []string {
	var out []string
	for _, dep := range t.Dependencies {
		if o, ok := res.Outputs[dep]; ok && o.Linkable {
			out = append(out, o.Path)
		}
	}
	sort.Strings(out)
	return out
}

func substituteOutputVars(outputs []string, root string) []string {
	out := make([]string, len(outputs))
	for i, o := range outputs {
		out[i] = strings.ReplaceAll(o, "$root", root)
		out[i] = strings.ReplaceAll(out[i], "%(INPUT_ROOT)s", root)
	}
	return out
}

func substituteRuleVars(command []string, root, src string) []string {
	out := make([]string, len(command))
	for i, c := range command {
		c = strings.ReplaceAll(c, "$root", root)
		c = strings.ReplaceAll(c, "$source", src)
		c = strings.ReplaceAll(c, "%(INPUT_ROOT)s", root)
		out[i] = strings.ReplaceAll(c, "%(RULE_SOURCES)s", src)
	}
	return out
}

func sanitizeRuleName(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, s)
}

// expandSpecial expands the two special path tokens spec.md §4.5 names:
// $!PRODUCT_DIR (the root the back-end writes final outputs under) and
// $!INTERMEDIATE_DIR (a per-target generated-sources directory), mirroring
// ExpandSpecial's two-token handling.
func expandSpecial(path, productDir string, label ident.Label) string {
	const productToken = "$!PRODUCT_DIR"
	if strings.Contains(path, productToken) {
		if productDir != "" {
			path = strings.ReplaceAll(path, productToken, productDir)
		} else {
			path = strings.ReplaceAll(path, productToken+"/", "")
			path = strings.ReplaceAll(path, productToken, ".")
		}
	}
	const intermediateToken = "$!INTERMEDIATE_DIR"
	if strings.Contains(path, intermediateToken) {
		path = strings.ReplaceAll(path, intermediateToken, stampPath(label, "gen"))
	}
	return path
}

// productDirFor computes $!PRODUCT_DIR's expansion for one target's
// fragment: opts.ProductDir (falling back to opts.OutputDir) rejoined
// through invertRelativePath against the target's own declaring directory,
// so a target declared deep in a nested BuildFile still resolves the token
// relative to the build root rather than its own source directory —
// mirroring NinjaWriter's build_to_base/base_to_build pair, both computed
// once from InvertRelativePath and threaded through every ExpandSpecial
// call site.
func productDirFor(label ident.Label, opts emit.Options) string {
	root := opts.ProductDir
	if root == "" {
		root = opts.OutputDir
	}
	if root == "" {
		return ""
	}
	declDir := filepath.Dir(label.File)
	if declDir == "." || declDir == "" || declDir == "/" {
		return root
	}
	return filepath.Join(invertRelativePath(declDir), root)
}

// invertRelativePath returns the path back to the origin directory from a
// relative path, e.g. "foo/bar" -> "../..", matching InvertRelativePath's
// depth-counting inversion used to translate between gyp-file-relative and
// build-dir-relative paths.
func invertRelativePath(path string) string {
	if path == "" || path == "." {
		return ""
	}
	depth := len(strings.Split(filepath.ToSlash(path), "/"))
	parts := make([]string, depth)
	for i := range parts {
		parts[i] = ".."
	}
	return strings.Join(parts, "/")
}
