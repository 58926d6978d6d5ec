// Package gen implements the GeneratorContext that threads a single
// generation run through Load -> Merge -> Evaluate -> Resolve -> Emit
// (spec.md §4), replacing the module-level mutable globals GYP's dynamic
// generator-import model relies on with one explicit, injectable struct
// (spec.md §9 Design Notes), the same way the teacher's own src/core
// package centers state in a BuildState value rather than package globals.
package gen

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/go-multierror"

	"github.com/sulmone/mbg/src/emit"
	emitmake "github.com/sulmone/mbg/src/emit/make"
	emitninja "github.com/sulmone/mbg/src/emit/ninja"
	emitscons "github.com/sulmone/mbg/src/emit/scons"
	"github.com/sulmone/mbg/src/expr"
	"github.com/sulmone/mbg/src/loader"
	"github.com/sulmone/mbg/src/merger"
	"github.com/sulmone/mbg/src/model"
	"github.com/sulmone/mbg/src/resolver"
	"github.com/sulmone/mbg/src/value"
)

// Error wraps a generation-stage failure with the stage name it occurred in
// (spec.md §7's failure taxonomy: load/merge/evaluate/resolve/emit each
// fail independently and are reported with the stage attached).
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Config is everything Generate needs beyond the capabilities wired into a
// GeneratorContext (spec.md §6's CLI surface, already parsed by src/config).
type Config struct {
	EntryFiles       []string
	ForcedIncludes   []string          // absolute paths, applied to every loaded file
	Defines          map[string]string // -D NAME=VALUE
	Generators       []string          // -f back-end selection; defaults to {"make"}
	OutputDir        string
	GeneratorOutput  string
	Depth            string
	AutoRegeneration bool
	ProductDir       string // $!PRODUCT_DIR's expansion (spec.md §4.5); the back-end's build-output root
}

// knownBackends is the fixed set of back-ends this generator supports
// (spec.md §4.5: Make, Ninja and SCons).
var knownBackends = map[string]emit.Backend{
	"make":  emitmake.Backend{},
	"ninja": emitninja.Backend{},
	"scons": emitscons.Backend{},
}

// GeneratorContext bundles the injectable capabilities one generation run
// needs: how to read BuildFiles, how to run command substitutions, and
// where to write generated output. Tests substitute fakes for all three.
type GeneratorContext struct {
	Reader loader.FileReader
	Shell  expr.Shell
	Writer emit.FileWriter
}

// New constructs a GeneratorContext wired to the real filesystem and a real
// shell, the production configuration.
func New() *GeneratorContext {
	return &GeneratorContext{
		Reader: loader.OSReader{},
		Shell:  expr.OSShell{},
		Writer: emit.NewOSWriter(),
	}
}

// Result is the outcome of a full generation run.
type Result struct {
	Targets  []*model.Target
	Warnings *multierror.Error
}

// Generate runs the full pipeline for cfg: load every entry file and its
// transitive closure, resolve each file's conditions and early variables,
// merge target_defaults into targets, expand each target's late-phase
// expressions, resolve the combined dependency graph, and emit every
// selected back-end's output.
func (g *GeneratorContext) Generate(cfg Config) (*Result, error) {
	ld := loader.New(g.Reader, cfg.ForcedIncludes)
	trees, order, err := ld.Load(cfg.EntryFiles)
	if err != nil {
		return nil, &Error{Stage: "load", Err: err}
	}

	baseEnv := expr.NewEnv(expr.Early, g.Shell)
	for name, val := range cfg.Defines {
		baseEnv.Set(name, defineValue(val))
	}

	// Pass 1: load, resolve conditions/early variables and merge every
	// file. This has to run to completion for every file before any
	// late-phase expression is evaluated, because >(NAME) is specified to
	// see cross-target values (spec.md §4.1) — including a target defined
	// in a file merged after the one referencing it.
	type fileResult struct {
		file    string
		fileEnv *expr.Env
		targets []*model.Target
	}
	var results []fileResult
	var allTargets []*model.Target
	for _, file := range order {
		tree := trees[file]

		fileEnv, err := bindFileVariables(file, tree, baseEnv)
		if err != nil {
			return nil, &Error{Stage: "evaluate", Err: err}
		}

		// Conditions and early <(VAR) substitutions must be resolved
		// before the Merger sees this tree: a "conditions" branch picks
		// which raw keys exist at all, and the Merger's structural merge
		// only knows how to handle the keys spec.md §3 names, not
		// condition/branch wrappers around them.
		resolvedTree, err := expr.EvaluateFixpoint(file, tree, fileEnv)
		if err != nil {
			return nil, &Error{Stage: "evaluate", Err: err}
		}

		targets, err := merger.Merge(file, resolvedTree)
		if err != nil {
			return nil, &Error{Stage: "merge", Err: err}
		}

		results = append(results, fileResult{file: file, fileEnv: fileEnv, targets: targets})
		allTargets = append(allTargets, targets...)
	}

	// Pass 2: every target's product name/path is settled the instant
	// merging is done (ProductName/ProductDir are plain Target fields, not
	// expressions), so they can be bound as cross-target late variables
	// before any >(NAME) reference to them is expanded.
	crossTargetVars := buildCrossTargetVars(allTargets)

	var warnings *multierror.Error
	for _, r := range results {
		// Late-phase expressions (command substitution, >(VAR), deferred
		// list construction) are resolved after the Merger has settled
		// every target's per-configuration settings, since those forms may
		// reference values only meaningful once merging has happened.
		lateEnv := r.fileEnv.Promote()
		for name, v := range crossTargetVars {
			lateEnv.Set(name, v)
		}
		for _, t := range r.targets {
			if err := evaluateLate(r.file, t, lateEnv); err != nil {
				return nil, &Error{Stage: "evaluate", Err: err}
			}
		}
	}

	res, err := resolver.Resolve(allTargets)
	if err != nil {
		return nil, &Error{Stage: "resolve", Err: err}
	}

	generators := cfg.Generators
	if len(generators) == 0 {
		generators = []string{"make"}
	}
	opts := emit.Options{
		OutputDir:        cfg.OutputDir,
		GeneratorOutput:  cfg.GeneratorOutput,
		Depth:            cfg.Depth,
		AutoRegeneration: cfg.AutoRegeneration,
		BuildFiles:       order,
		ProductDir:       cfg.ProductDir,
	}
	for _, name := range generators {
		backend, ok := knownBackends[name]
		if !ok {
			warnings = multierror.Append(warnings, fmt.Errorf("unknown generator %q", name))
			continue
		}
		if err := backend.Generate(res, opts, g.Writer); err != nil {
			return nil, &Error{Stage: "emit:" + name, Err: err}
		}
	}

	return &Result{Targets: res.Flat, Warnings: warnings}, nil
}

// bindFileVariables builds the Early environment for one BuildFile: a fork
// of base (so -D defines are visible but a sibling file's own variables
// never leak in) with the file's own "variables" dict bound in declaration
// order, each entry evaluated against everything bound before it, so later
// variables may reference earlier ones (spec.md §4.1).
func bindFileVariables(file string, tree *value.Map, base *expr.Env) (*expr.Env, error) {
	env := base.Fork()
	varsVal, ok := tree.Get("variables")
	if !ok {
		return env, nil
	}
	m := varsVal.AsMap()
	if m == nil {
		return env, nil
	}
	for _, key := range m.Keys() {
		v, _ := m.Get(key)
		resolved, err := evalSingle(file, v, env)
		if err != nil {
			return nil, err
		}
		env.Set(key, resolved)
	}
	return env, nil
}

// evalSingle evaluates a single Value against env by round-tripping it
// through a throwaway one-entry Map, since the Expression Engine's exported
// surface operates on whole maps.
func evalSingle(file string, v value.Value, env *expr.Env) (value.Value, error) {
	wrapped := value.NewMap()
	wrapped.Set("_v", v)
	evaluated, err := expr.Evaluate(file, wrapped, env)
	if err != nil {
		return value.Value{}, err
	}
	out, _ := evaluated.Get("_v")
	return out, nil
}

// buildCrossTargetVars binds, for every merged target, the late variables
// ">(NAME)" substitution is specified to see (spec.md §4.1: "allowing
// cross-target values"): the target's settled product name and product
// path, keyed by a sanitized form of its own target_name so one target's
// action/rule/setting can reference another's output
// (">(HELPER_PRODUCT_NAME)") once that other target has been merged.
//
// Keying is by target_name alone, not the full qualified label, so a
// same-named target in a different BuildFile shadows an earlier one in
// this map; see DESIGN.md for why that's an accepted limitation rather
// than a qualified (and far less usable) variable name.
func buildCrossTargetVars(targets []*model.Target) map[string]value.Value {
	vars := make(map[string]value.Value, len(targets)*2)
	for _, t := range targets {
		base := sanitizeIdent(t.Label.Name)
		vars[base+"_PRODUCT_NAME"] = value.String(t.Label.Name)
		if t.ProductName != "" {
			vars[base+"_PRODUCT_NAME"] = value.String(t.ProductName)
		}
		vars[base+"_PRODUCT_PATH"] = value.String(resolver.ProductPath(t))
	}
	return vars
}

// sanitizeIdent turns an arbitrary target name into a valid Expression
// Engine identifier: upper-cased, with every character outside
// [A-Za-z0-9_] replaced by '_', and a leading '_' added if the result would
// otherwise start with a digit.
func sanitizeIdent(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
			out[i] = c - ('a' - 'A')
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	if len(out) > 0 && out[0] >= '0' && out[0] <= '9' {
		return "_" + string(out)
	}
	return string(out)
}

// evaluateLate expands late-phase expressions embedded in a merged
// target's settings maps in place.
func evaluateLate(file string, t *model.Target, env *expr.Env) error {
	for _, name := range t.ConfigurationNames() {
		cfg := t.Configurations[name]
		settings, err := expr.EvaluateFixpoint(file, cfg.Settings, env)
		if err != nil {
			return err
		}
		cfg.Settings = settings
	}
	var err error
	if t.AllDependentSettings, err = evaluateMapIfPresent(file, t.AllDependentSettings, env); err != nil {
		return err
	}
	if t.DirectDependentSettings, err = evaluateMapIfPresent(file, t.DirectDependentSettings, env); err != nil {
		return err
	}
	if t.LinkSettings, err = evaluateMapIfPresent(file, t.LinkSettings, env); err != nil {
		return err
	}
	if t.Unknown, err = evaluateMapIfPresent(file, t.Unknown, env); err != nil {
		return err
	}
	return nil
}

func evaluateMapIfPresent(file string, m *value.Map, env *expr.Env) (*value.Map, error) {
	if m == nil {
		return nil, nil
	}
	return expr.EvaluateFixpoint(file, m, env)
}

// defineValue coerces a -D/GYP_DEFINES value the way spec.md §6 requires:
// integer-coerced if possible, otherwise a plain string. A bare "-D NAME"
// arrives here as the string "1" (src/config already turned the boolean-true
// shorthand into that), so it falls out as an int like any other.
func defineValue(val string) value.Value {
	if n, err := strconv.Atoi(val); err == nil {
		return value.Int(n)
	}
	return value.String(val)
}
