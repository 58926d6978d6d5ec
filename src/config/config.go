// Package config implements the external entry point's CLI surface
// (spec.md §6): flag parsing, `GYP_*` environment-variable fallback, and
// translation into the src/gen.Config the core pipeline actually consumes.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/shlex"
	flags "github.com/thought-machine/go-flags"

	"github.com/sulmone/mbg/src/gen"
)

// Options is the flag struct handed to go-flags, mirroring spec.md §6's
// table one field per row (teacher: src/please.go's opts struct, grouped the
// same way, but flat here since this generator has no sub-commands).
type Options struct {
	Defines          []string `short:"D" long:"define" description:"NAME=VALUE default variable, or bare NAME for boolean true"`
	Formats          []string `short:"f" long:"format" description:"Emitter(s) to run: make, ninja or scons"`
	Includes         []string `short:"I" long:"include" description:"File to force-include into every loaded BuildFile"`
	Depth            string   `long:"depth" description:"Source-root anchor for path relativization"`
	GeneratorFlags   []string `short:"G" long:"generator-flag" description:"Generator-specific KEY=VAL flag"`
	Suffix           string   `short:"S" long:"suffix" description:"Suffix applied to generated output filenames"`
	GeneratorOutput  string   `long:"generator-output" description:"Redirect generated files under DIR"`
	IgnoreEnv        bool     `long:"ignore-environment" description:"Suppress GYP_* environment-variable fallbacks"`
	Args             struct {
		EntryFiles []string `positional-arg-name:"FILE" description:"Entry BuildFile(s)"`
	} `positional-args:"yes"`
}

// Error wraps a configuration failure (malformed -D/-G value, unknown
// environment token) with enough context to print per spec.md §7.
type Error struct{ Msg string }

func (e *Error) Error() string { return e.Msg }

// Env is the subset of the process environment this package reads from,
// injectable so tests don't depend on real process state.
type Env interface {
	Lookup(key string) (string, bool)
}

// OSEnv reads from the real process environment via os.LookupEnv.
type OSEnv struct{}

func (OSEnv) Lookup(key string) (string, bool) { return os.LookupEnv(key) }

// Parse parses argv into Options using go-flags, the same parser and
// PassDoubleDash convention the teacher's cli.ParseFlags wraps.
func Parse(argv []string) (*Options, error) {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default&^flags.PrintErrors)
	if _, err := parser.ParseArgs(argv); err != nil {
		return nil, &Error{Msg: err.Error()}
	}
	return &opts, nil
}

// ToGenConfig builds a gen.Config from opts, folding in GYP_* environment
// fallbacks (spec.md §6) unless --ignore-environment was passed.
func ToGenConfig(opts *Options, env Env) (gen.Config, error) {
	cfg := gen.Config{
		EntryFiles:      opts.Args.EntryFiles,
		ForcedIncludes:  opts.Includes,
		Depth:           opts.Depth,
		GeneratorOutput: opts.GeneratorOutput,
	}

	defines := append([]string{}, opts.Defines...)
	formats := append([]string{}, opts.Formats...)
	generatorFlags := append([]string{}, opts.GeneratorFlags...)
	generatorOutput := opts.GeneratorOutput

	if !opts.IgnoreEnv {
		var err error
		if defines, err = prependEnvTokens(env, "GYP_DEFINES", defines); err != nil {
			return gen.Config{}, err
		}
		if formats, err = prependEnvTokens(env, "GYP_GENERATORS", formats); err != nil {
			return gen.Config{}, err
		}
		if generatorFlags, err = prependEnvTokens(env, "GYP_GENERATOR_FLAGS", generatorFlags); err != nil {
			return gen.Config{}, err
		}
		if generatorOutput == "" {
			if v, ok := env.Lookup("GYP_GENERATOR_OUTPUT"); ok {
				generatorOutput = v
			}
		}
	}
	cfg.GeneratorOutput = generatorOutput

	cfg.Generators = formats

	parsedDefines, err := parseDefines(defines)
	if err != nil {
		return gen.Config{}, err
	}
	cfg.Defines = parsedDefines

	gflags, err := parseKeyValues(generatorFlags)
	if err != nil {
		return gen.Config{}, err
	}
	cfg.AutoRegeneration = gflags["auto_regeneration"] != "0"

	productDir := gflags["output_dir"]
	if productDir == "" {
		productDir = "out"
	}
	cfg.ProductDir = productDir

	return cfg, nil
}

// prependEnvTokens shell-word-splits the named environment variable (if
// set) and prepends its tokens ahead of any values already given on the
// command line, matching the teacher's "flags override, env supplies
// defaults" precedent for GYP_* variables (spec.md §6).
func prependEnvTokens(env Env, name string, existing []string) ([]string, error) {
	v, ok := env.Lookup(name)
	if !ok || strings.TrimSpace(v) == "" {
		return existing, nil
	}
	tokens, err := shlex.Split(v)
	if err != nil {
		return nil, &Error{Msg: fmt.Sprintf("%s: %s", name, err.Error())}
	}
	return append(tokens, existing...), nil
}

// parseDefines turns "-D NAME=VALUE" / "-D NAME" entries into a map, a bare
// name meaning boolean true (spec.md §6), represented as the string "1" so
// src/gen's integer coercion (§6: "integer-coerced if possible") picks it up
// uniformly with any other numeric default.
func parseDefines(entries []string) (map[string]string, error) {
	out := map[string]string{}
	for _, e := range entries {
		name, val, hasVal := strings.Cut(e, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, &Error{Msg: fmt.Sprintf("malformed -D value %q", e)}
		}
		if !hasVal {
			val = "1"
		}
		out[name] = val
	}
	return out, nil
}

// parseKeyValues turns "-G KEY=VAL" entries into a map; a bare KEY means the
// empty string, matching gyp's own generator-flag convention.
func parseKeyValues(entries []string) (map[string]string, error) {
	out := map[string]string{}
	for _, e := range entries {
		name, val, _ := strings.Cut(e, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, &Error{Msg: fmt.Sprintf("malformed -G value %q", e)}
		}
		out[name] = val
	}
	return out, nil
}
