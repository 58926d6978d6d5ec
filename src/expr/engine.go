// Package expr implements the embedded expression mini-language described
// in spec.md §4.1: variable substitution, command substitution, deferred
// list construction and conditional branches.
package expr

import (
	deferredregex "github.com/peterebden/go-deferred-regex"

	"github.com/sulmone/mbg/src/value"
)

// Phase distinguishes the two Variable Environment scopes named in spec.md
// §3: Early (definition-time, only simple variables, used to evaluate
// conditions) and Late (resolution-time, includes computed/command-expansion
// values and can see cross-target values).
type Phase int

const (
	Early Phase = iota
	Late
)

var (
	earlyVarRe = deferredregex.DeferredRegex{Re: `<\(([A-Za-z_][A-Za-z0-9_]*)\)`}
	lateVarRe  = deferredregex.DeferredRegex{Re: `>\(([A-Za-z_][A-Za-z0-9_]*)\)`}
	cmdRe      = deferredregex.DeferredRegex{Re: `<!\(([^)]*)\)`}
	cmdListRe  = deferredregex.DeferredRegex{Re: `<!@\(([^)]*)\)`}
	listConsRe = deferredregex.DeferredRegex{Re: `<\|\(([A-Za-z_][A-Za-z0-9_]*)((?: [^)]*)?)\)`}
)

// An Env is the Variable Environment of spec.md §3: a mapping from
// identifier to scalar or sequence value, scoped to a single Phase.
type Env struct {
	phase Phase
	vars  map[string]value.Value
	shell Shell
}

// NewEnv constructs an empty environment for the given phase.
func NewEnv(phase Phase, shell Shell) *Env {
	return &Env{phase: phase, vars: map[string]value.Value{}, shell: shell}
}

// Set binds name to v.
func (e *Env) Set(name string, v value.Value) { e.vars[name] = v }

// Lookup returns the binding for name, if any.
func (e *Env) Lookup(name string) (value.Value, bool) {
	v, ok := e.vars[name]
	return v, ok
}

// Fork returns a new Env at the same phase as e, with an independent copy
// of its bindings: mutations to the fork (e.g. a BuildFile's own
// "variables" dict, scoped to that file and whatever it includes) never
// leak back into e.
func (e *Env) Fork() *Env {
	fork := &Env{phase: e.phase, vars: make(map[string]value.Value, len(e.vars)), shell: e.shell}
	for k, v := range e.vars {
		fork.vars[k] = v
	}
	return fork
}

// Promote returns a new Env for the Late phase, inheriting all of e's
// bindings (cross-target/computed values are added to the copy by the
// caller, typically the Merger, after it resolves them).
func (e *Env) Promote() *Env {
	late := &Env{phase: Late, vars: make(map[string]value.Value, len(e.vars)), shell: e.shell}
	for k, v := range e.vars {
		late.vars[k] = v
	}
	return late
}

// Error is returned for any failure mode named in spec.md §4.1: unbalanced
// parentheses, an unknown late variable, or a failing command substitution.
// Fatal errors carry the file and key path of the offending value, per
// spec.md §7.
type Error struct {
	File string
	Path string
	Msg  string
}

func (e *Error) Error() string {
	if e.File == "" {
		return e.Msg
	}
	return e.File + ": " + e.Path + ": " + e.Msg
}

// Evaluate expands every occurrence of the Expression Engine's substitution
// forms in tree, using env, and returns the rewritten tree. It is idempotent
// when no <!(...) command has side effects (spec.md §4.1's contract): a
// second call on its own output returns an equal tree. Callers that need the
// fixpoint guarantee should use EvaluateFixpoint instead.
func Evaluate(file string, tree *value.Map, env *Env) (*value.Map, error) {
	out, err := evalMap(file, "", tree, env)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EvaluateFixpoint repeatedly applies Evaluate until two consecutive passes
// produce an equal tree (or maxPasses is reached, which indicates a cycle in
// variable references — spec.md §4.1 lists this as a fatal failure mode).
func EvaluateFixpoint(file string, tree *value.Map, env *Env) (*value.Map, error) {
	const maxPasses = 64
	current := tree
	for i := 0; i < maxPasses; i++ {
		next, err := Evaluate(file, current, env)
		if err != nil {
			return nil, err
		}
		if current.Equal(next) {
			return next, nil
		}
		current = next
	}
	return nil, &Error{File: file, Msg: "expression evaluation did not converge: cycle in variable references"}
}

func evalMap(file, path string, m *value.Map, env *Env) (*value.Map, error) {
	out := value.NewMap()
	for _, key := range m.Keys() {
		if key == "conditions" || key == "target_conditions" {
			continue // applied after the rest of the map is evaluated, below
		}
		v, _ := m.Get(key)
		ev, err := evalValue(file, path+"."+key, v, env)
		if err != nil {
			return nil, err
		}
		out.Set(key, ev)
	}
	if condsRaw, present := m.Get("conditions"); present {
		if err := applyConditions(file, path+".conditions", condsRaw, env, out); err != nil {
			return nil, err
		}
	}
	if condsRaw, present := m.Get("target_conditions"); present {
		if err := applyConditions(file, path+".target_conditions", condsRaw, env, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func applyConditions(file, path string, condsRaw value.Value, env *Env, out *value.Map) error {
	for i, entry := range condsRaw.AsSeq() {
		branch := entry.AsSeq()
		if len(branch) < 2 {
			return &Error{File: file, Path: path, Msg: "conditions entry must be [expr, then_dict, else_dict?]"}
		}
		exprStr, _ := branch[0].AsString()
		ok, err := EvalCondition(exprStr, env)
		if err != nil {
			return &Error{File: file, Path: pathIndex(path, i), Msg: err.Error()}
		}
		var chosen value.Value
		if ok {
			chosen = branch[1]
		} else if len(branch) >= 3 {
			chosen = branch[2]
		} else {
			continue
		}
		chosenMap := chosen.AsMap()
		if chosenMap == nil {
			return &Error{File: file, Path: pathIndex(path, i), Msg: "conditions branch must be a mapping"}
		}
		evaluated, err := evalMap(file, pathIndex(path, i), chosenMap, env)
		if err != nil {
			return err
		}
		value.MergeInto(out, evaluated)
	}
	return nil
}

func pathIndex(path string, i int) string {
	return path + "[" + itoa(i) + "]"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func evalValue(file, path string, v value.Value, env *Env) (value.Value, error) {
	switch v.Kind() {
	case value.KindString:
		s, err := evalString(file, path, v.String(), env)
		if err != nil {
			return value.Value{}, err
		}
		return s, nil
	case value.KindSeq:
		elems := v.AsSeq()
		out := make([]value.Value, 0, len(elems))
		for i, e := range elems {
			ev, err := evalValue(file, pathIndex(path, i), e, env)
			if err != nil {
				return value.Value{}, err
			}
			out = append(out, ev)
		}
		return value.Seq(out...), nil
	case value.KindMap:
		out, err := evalMap(file, path, v.AsMap(), env)
		if err != nil {
			return value.Value{}, err
		}
		return value.MapValue(out), nil
	default:
		return v, nil
	}
}

// evalString applies every substitution form to a single scalar string,
// possibly turning it into a list Value (the <|(...) and <!@(...) forms
// produce lists, so they can only be applied when they are the entire
// string, not embedded in a larger one).
func evalString(file, path, s string, env *Env) (value.Value, error) {
	if m := listConsRe.FindStringSubmatch(s); m != nil && m[0] == s {
		return evalListConstruction(file, path, m, env)
	}
	if m := cmdListRe.FindStringSubmatch(s); m != nil && m[0] == s {
		return evalCommandList(file, path, m[1], env)
	}

	var evalErr error
	if env.phase == Late {
		s = cmdRe.ReplaceAllStringFunc(s, func(in string) string {
			if evalErr != nil {
				return in
			}
			cmd := in[3 : len(in)-1]
			out, err := runCommand(env, cmd)
			if err != nil {
				evalErr = &Error{File: file, Path: path, Msg: err.Error()}
				return in
			}
			return out
		})
		if evalErr != nil {
			return value.Value{}, evalErr
		}
	}

	s = earlyVarRe.ReplaceAllStringFunc(s, func(in string) string {
		name := in[2 : len(in)-1]
		if evalErr != nil {
			return in
		}
		val, ok := env.Lookup(name)
		if !ok {
			if env.phase == Late {
				evalErr = &Error{File: file, Path: path, Msg: "unresolved variable <(" + name + ")"}
			}
			return in
		}
		return val.String()
	})
	if evalErr != nil {
		return value.Value{}, evalErr
	}

	if env.phase == Late {
		s = lateVarRe.ReplaceAllStringFunc(s, func(in string) string {
			if evalErr != nil {
				return in
			}
			name := in[2 : len(in)-1]
			val, ok := env.Lookup(name)
			if !ok {
				evalErr = &Error{File: file, Path: path, Msg: "unresolved late variable >(" + name + ")"}
				return in
			}
			return val.String()
		})
		if evalErr != nil {
			return value.Value{}, evalErr
		}
	}
	return value.String(s), nil
}

func runCommand(env *Env, cmd string) (string, error) {
	if env.shell == nil {
		return "", &Error{Msg: "no Shell capability configured for command substitution"}
	}
	return env.shell.Run(cmd)
}

func evalCommandList(file, path, cmd string, env *Env) (value.Value, error) {
	if env.phase != Late || env.shell == nil {
		return value.String("<!@(" + cmd + ")"), nil
	}
	out, err := env.shell.Run(cmd)
	if err != nil {
		return value.Value{}, &Error{File: file, Path: path, Msg: err.Error()}
	}
	words, err := Words(out)
	if err != nil {
		return value.Value{}, &Error{File: file, Path: path, Msg: err.Error()}
	}
	elems := make([]value.Value, len(words))
	for i, w := range words {
		elems[i] = value.String(w)
	}
	return value.Seq(elems...), nil
}

func evalListConstruction(file, path string, m []string, env *Env) (value.Value, error) {
	if env.phase != Late {
		return value.String(m[0]), nil
	}
	name := m[1]
	base, ok := env.Lookup(name)
	if !ok {
		return value.Value{}, &Error{File: file, Path: path, Msg: "unresolved variable in list construction <|(" + name + ")"}
	}
	extra := splitWhitespace(m[2])
	elems := append([]value.Value{}, base.AsSeq()...)
	for _, e := range extra {
		elems = append(elems, value.String(e))
	}
	return value.Seq(elems...), nil
}

func splitWhitespace(s string) []string {
	var out []string
	start := -1
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' || s[i] == '\t' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}
