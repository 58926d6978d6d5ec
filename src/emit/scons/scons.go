// Package scons implements the SCons wrapper+SConscript-per-target back-end
// described in spec.md §4.5: a SConstruct wrapper that calls each target's
// SConscript and aggregates the resulting aliases, and one SConscript per
// target carrying per-configuration Append/FilterOut/Replace dictionaries.
//
// Grounded on original_source/pylib/gyp/generator/scons.py's
// GenerateConfig (the gyp-key-to-SCons-construction-variable mapping),
// GenerateSConscript (the configurations dict / env.Clone / env.Append
// sequence) and GenerateSConscriptWrapper, adapted into the teacher's idiom
// the way src/emit/make and src/emit/ninja adapt their own sources.
package scons

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sulmone/mbg/src/emit"
	"github.com/sulmone/mbg/src/ident"
	"github.com/sulmone/mbg/src/model"
	"github.com/sulmone/mbg/src/resolver"
	"github.com/sulmone/mbg/src/value"
)

// varMapping translates lower-case build-description keys to the upper-case
// SCons construction variables they Append into, mirroring GenerateConfig's
// var_mapping table exactly.
var varMapping = []struct{ gypVar, sconsVar string }{
	{"asflags", "ASFLAGS"},
	{"cflags", "CCFLAGS"},
	{"defines", "CPPDEFINES"},
	{"include_dirs", "CPPPATH"},
	{"ldflags", "LINKFLAGS"},
	{"libraries", "LIBS"},
}

// Backend implements emit.Backend for the SCons output form.
type Backend struct{}

// Name implements emit.Backend.
func (Backend) Name() string { return "scons" }

// Generate implements emit.Backend.
func (Backend) Generate(res *resolver.Result, opts emit.Options, w emit.FileWriter) error {
	if err := emit.ValidatePaths(res); err != nil {
		return err
	}

	var aliases []string
	for _, t := range res.Flat {
		path := sconscriptRelPath(t.Label)
		content := writeSConscript(t, res)
		if err := w.WriteFile(emit.OutputPath(opts, path), []byte(content)); err != nil {
			return err
		}
		aliases = append(aliases, "gyp_target_"+t.Label.Name)
	}

	return w.WriteFile(emit.OutputPath(opts, "SConstruct"), []byte(writeWrapper(res, aliases)))
}

func sconscriptRelPath(label ident.Label) string {
	base := strings.TrimSuffix(filepath.Base(label.File), filepath.Ext(label.File))
	return filepath.Join("obj", label.Toolset, base+"."+label.Name+".SConscript")
}

// writeWrapper emits the SConstruct analogous to GenerateSConscriptWrapper:
// it imports a base environment, calls every target's SConscript, and sets
// the resulting aliases as the build defaults.
func writeWrapper(res *resolver.Result, aliases []string) string {
	var b strings.Builder
	b.WriteString("# This file is generated; do not edit.\n\n")
	b.WriteString("env = Environment()\n")
	b.WriteString("env['CONFIG_NAME'] = ARGUMENTS.get('CONFIG', 'Default')\n\n")
	b.WriteString("target_aliases = []\n")
	for _, t := range res.Flat {
		fmt.Fprintf(&b, "target_aliases.append(SConscript(%s, exports='env'))\n", pyStr(sconscriptRelPath(t.Label)))
	}
	b.WriteString("\nDefault(target_aliases)\n")
	return b.String()
}

// writeSConscript emits one target's SConscript: the per-configuration
// Append/FilterOut/Replace dictionaries, an env.Clone binding COMPONENT_NAME/
// TARGET_NAME, env.Append/FilterOut/Replace applied per the selected
// configuration, the input file list, and the builder call for the target's
// type (spec.md §4.5: "SCons emits one SConscript per target carrying
// per-configuration Append/FilterOut/Replace dictionaries").
func writeSConscript(t *model.Target, res *resolver.Result) string {
	var b strings.Builder
	b.WriteString("# This file is generated; do not edit.\n\n")
	b.WriteString("Import('env')\n\n")

	b.WriteString("configurations = {\n")
	for _, name := range sortedConfigNames(t) {
		cfg := t.Configurations[name]
		fmt.Fprintf(&b, "    %s: {\n", pyStr(name))
		writeAppendDict(&b, cfg)
		writeFilterOutDict(&b, cfg)
		writeReplaceDict(&b, cfg)
		b.WriteString("    },\n")
	}
	b.WriteString("}\n\n")

	fmt.Fprintf(&b, "env = env.Clone(COMPONENT_NAME=%s, TARGET_NAME=%s)\n", pyStr(componentName(t.Label)), pyStr(t.Label.Name))
	b.WriteString("config = configurations[env['CONFIG_NAME']]\n")
	b.WriteString("env.Append(**config['Append'])\n")
	b.WriteString("env.FilterOut(**config['FilterOut'])\n")
	b.WriteString("env.Replace(**config['Replace'])\n\n")

	writeSources(&b, t)
	writeBuilderCall(&b, t, res)
	writeCopies(&b, t)

	fmt.Fprintf(&b, "\n%s_alias = env.Alias(%s, [target])\n", sanitize(t.Label.Name), pyStr("gyp_target_"+t.Label.Name))
	fmt.Fprintf(&b, "Return('%s_alias')\n", sanitize(t.Label.Name))
	return b.String()
}

func sortedConfigNames(t *model.Target) []string {
	names := t.ConfigurationNames()
	// Deterministic output requires a stable order regardless of Go's
	// randomized map iteration; "Default" sorts first when present so the
	// common single-configuration case reads naturally.
	less := func(a, b string) bool {
		if (a == "Default") != (b == "Default") {
			return a == "Default"
		}
		return a < b
	}
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if less(names[j], names[i]) {
				names[i], names[j] = names[j], names[i]
			}
		}
	}
	return names
}

func writeAppendDict(b *strings.Builder, cfg *model.Configuration) {
	b.WriteString("        'Append': dict(\n")
	if cfg != nil && cfg.Settings != nil {
		for _, m := range varMapping {
			v, ok := cfg.Settings.Get(m.gypVar)
			if !ok || !v.IsTruthy() {
				continue
			}
			items := v.AsSeq()
			fmt.Fprintf(b, "            %s=[%s],\n", m.sconsVar, joinPyStrs(items))
		}
	}
	b.WriteString("        ),\n")
}

func writeFilterOutDict(b *strings.Builder, cfg *model.Configuration) {
	b.WriteString("        'FilterOut': dict(\n")
	if cfg != nil && cfg.Settings != nil {
		if v, ok := cfg.Settings.Get("scons_remove"); ok {
			if m := v.AsMap(); m != nil {
				for _, k := range m.Keys() {
					val, _ := m.Get(k)
					fmt.Fprintf(b, "            %s=[%s],\n", k, joinPyStrs(val.AsSeq()))
				}
			}
		}
	}
	b.WriteString("        ),\n")
}

func writeReplaceDict(b *strings.Builder, cfg *model.Configuration) {
	b.WriteString("        'Replace': dict(\n")
	if cfg != nil && cfg.Settings != nil {
		if v, ok := cfg.Settings.Get("scons_settings"); ok {
			if m := v.AsMap(); m != nil {
				for _, k := range m.Keys() {
					val, _ := m.Get(k)
					s, _ := val.AsString()
					fmt.Fprintf(b, "            %s=%s,\n", k, pyStr(s))
				}
			}
		}
	}
	b.WriteString("        ),\n")
}

func writeSources(b *strings.Builder, t *model.Target) {
	b.WriteString("input_files = [\n")
	for _, s := range t.Sources {
		if s.Excluded {
			continue
		}
		fmt.Fprintf(b, "    %s,\n", pyStr(s.Path))
	}
	b.WriteString("]\n\n")
}

// writeBuilderCall emits the target's SCons builder invocation, mirroring
// _SCons_program_writer/_SCons_static_library_writer/
// _SCons_shared_library_writer/_SCons_loadable_module_writer's per-type
// dispatch.
func writeBuilderCall(b *strings.Builder, t *model.Target, res *resolver.Result) {
	out := res.Outputs[t.Label]
	name := pyStr(productBaseName(out.Path))
	switch t.Type {
	case model.Executable:
		fmt.Fprintf(b, "target = env.Program(%s, input_files)\n", name)
	case model.StaticLibrary:
		fmt.Fprintf(b, "target = env.StaticLibrary(%s, input_files)\n", name)
	case model.SharedLibrary:
		fmt.Fprintf(b, "target = env.SharedLibrary(%s, input_files)\n", name)
	case model.LoadableModule:
		fmt.Fprintf(b, "target = env.LoadableModule(%s, input_files)\n", name)
	default:
		b.WriteString("target = env.Alias('no_output', input_files)\n")
	}
}

func writeCopies(b *strings.Builder, t *model.Target) {
	for _, c := range t.Copies {
		for _, f := range c.Files {
			dest := filepath.Join(c.Destination, filepath.Base(f))
			fmt.Fprintf(b, "env.Install(%s, %s)\n", pyStr(filepath.Dir(dest)), pyStr(f))
		}
	}
}

func componentName(label ident.Label) string {
	return strings.TrimSuffix(filepath.Base(label.File), filepath.Ext(label.File))
}

func productBaseName(path string) string {
	if path == "" {
		return "out"
	}
	return filepath.Base(path)
}

func joinPyStrs(vs []value.Value) string {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		s, ok := v.AsString()
		if !ok {
			continue
		}
		parts = append(parts, pyStr(s))
	}
	return strings.Join(parts, ", ")
}

// pyStr renders s as a Python string literal, escaping embedded quotes and
// backslashes the way escape_quotes does for the values GenerateConfig
// splices into generated dict literals.
func pyStr(s string) string {
	return strconv.Quote(s)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, s)
}
