// Package merger implements the Merger component of spec.md §4.3: applying
// target_defaults, flattening configuration inherit_from chains, expanding
// dependencies_original/dependencies, and normalizing sources exclusions.
//
// The Merger runs on a tree the Expression Engine's Early phase has already
// evaluated (src/gen): conditions and early variables are resolved before
// merging, so the Merger only sees plain dict/list shapes. Late-phase
// variables are expanded after merging.
package merger

import (
	"fmt"
	"sort"
	"strings"

	deferredregex "github.com/peterebden/go-deferred-regex"

	"github.com/sulmone/mbg/src/ident"
	"github.com/sulmone/mbg/src/model"
	"github.com/sulmone/mbg/src/value"
)

// DefaultConfigName is used when a target declares no "configurations" key
// at all, so spec.md invariant 1 ("every Target has at least one
// Configuration") always holds.
const DefaultConfigName = "Default"

// knownTopLevelTargetKeys lists the keys §6 says are recognized inside a
// target; anything else is preserved in Target.Unknown rather than dropped
// (spec.md §6: "Unknown top-level keys inside a target are preserved and
// ignored unless consumed by an emitter").
var knownTopLevelTargetKeys = map[string]bool{
	"target_name": true, "type": true, "toolset": true, "sources": true,
	"sources!": true, "sources/": true, "dependencies": true,
	"dependencies_original": true, "configurations": true,
	"default_configuration": true, "actions": true, "rules": true,
	"copies": true, "all_dependent_settings": true,
	"direct_dependent_settings": true, "link_settings": true,
	"xcode_settings": true, "msvs_settings": true,
	"product_name": true, "product_prefix": true, "product_extension": true,
	"product_dir": true, "conditions": true, "target_conditions": true,
}

// Error wraps a merge failure with file + target context (spec.md §7).
type Error struct {
	File   string
	Target string
	Msg    string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: target %q: %s", e.File, e.Target, e.Msg) }

// Merge merges targetDefaults into every raw target map under tree's
// "targets" key and returns the fully-merged Target values for file. A
// target without a "toolset" key gets ident.DefaultToolset in its label.
func Merge(file string, tree *value.Map) ([]*model.Target, error) {
	targetDefaults := value.NewMap()
	if td, ok := tree.Get("target_defaults"); ok {
		if m := td.AsMap(); m != nil {
			targetDefaults = m
		}
	}

	targetsVal, _ := tree.Get("targets")
	var out []*model.Target
	for _, raw := range targetsVal.AsSeq() {
		rawMap := raw.AsMap()
		if rawMap == nil {
			return nil, &Error{File: file, Msg: "each entry of \"targets\" must be a mapping"}
		}
		t, err := mergeOne(file, targetDefaults, rawMap)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func mergeOne(file string, targetDefaults, raw *value.Map) (*model.Target, error) {
	nameVal, ok := raw.Get("target_name")
	if !ok {
		return nil, &Error{File: file, Msg: "target is missing required key \"target_name\""}
	}
	name, _ := nameVal.AsString()

	toolset := ident.DefaultToolset
	if tv, ok := raw.Get("toolset"); ok {
		if s, ok := tv.AsString(); ok && s != "" {
			toolset = s
		}
	}

	// Step 1: target_defaults underneath, target-level keys on top.
	base := targetDefaults.Clone()
	value.MergeInto(base, raw)

	t := &model.Target{
		Label:   ident.Label{File: file, Name: name, Toolset: toolset},
		Unknown: value.NewMap(),
	}

	if tv, ok := base.Get("type"); ok {
		s, _ := tv.AsString()
		t.Type = model.TargetType(s)
	}
	if !t.Type.Valid() {
		return nil, &Error{File: file, Target: name, Msg: fmt.Sprintf("unknown target type %q", t.Type)}
	}

	if s, ok := base.Get("default_configuration"); ok {
		t.DefaultConfiguration, _ = s.AsString()
	}
	if s, ok := base.Get("product_name"); ok {
		t.ProductName, _ = s.AsString()
	}
	if s, ok := base.Get("product_prefix"); ok {
		t.ProductPrefix, _ = s.AsString()
	}
	if s, ok := base.Get("product_extension"); ok {
		t.ProductExtension, _ = s.AsString()
	}
	if s, ok := base.Get("product_dir"); ok {
		t.ProductDir, _ = s.AsString()
	}

	if err := mergeSources(file, name, base, t); err != nil {
		return nil, err
	}
	mergeDependencies(base, t)
	if err := mergeActionsRulesCopies(base, t); err != nil {
		return nil, err
	}
	if v, ok := base.Get("all_dependent_settings"); ok {
		t.AllDependentSettings = v.AsMap()
	}
	if v, ok := base.Get("direct_dependent_settings"); ok {
		t.DirectDependentSettings = v.AsMap()
	}
	if v, ok := base.Get("link_settings"); ok {
		t.LinkSettings = v.AsMap()
	}

	if err := mergeConfigurations(file, name, base, t); err != nil {
		return nil, err
	}

	for _, key := range base.Keys() {
		if !knownTopLevelTargetKeys[key] {
			v, _ := base.Get(key)
			t.Unknown.Set(key, v)
		}
	}

	return t, nil
}

// mergeSources builds Target.Sources from the "sources" list, applying
// "sources!" literal exclusions and "sources/" regex exclusions in declared
// order (spec.md §4.3 step 3, invariant "a source listed in both sources and
// sources! is excluded").
func mergeSources(file, target string, base *value.Map, t *model.Target) error {
	srcsVal, _ := base.Get("sources")
	excludeSet := map[string]bool{}
	if exVal, ok := base.Get("sources!"); ok {
		for _, e := range exVal.AsSeq() {
			s, _ := e.AsString()
			excludeSet[s] = true
		}
	}
	var excludeRes []*deferredregex.DeferredRegex
	if reVal, ok := base.Get("sources/"); ok {
		for _, e := range reVal.AsSeq() {
			pat, _ := e.AsString()
			excludeRes = append(excludeRes, &deferredregex.DeferredRegex{Re: pat})
		}
	}
	for _, s := range srcsVal.AsSeq() {
		path, ok := s.AsString()
		if !ok {
			continue
		}
		excluded := excludeSet[path]
		if !excluded {
			for _, re := range excludeRes {
				if re.MatchString(path) {
					excluded = true
					break
				}
			}
		}
		t.Sources = append(t.Sources, model.SourceEntry{Path: path, Excluded: excluded})
	}
	return nil
}

// mergeDependencies records the user's declared dependency list verbatim in
// DependenciesOriginal; the Resolver later fills Dependencies from it with
// canonical qualified identifiers (spec.md §4.4).
func mergeDependencies(base *value.Map, t *model.Target) {
	var deps []string
	if v, ok := base.Get("dependencies_original"); ok {
		for _, e := range v.AsSeq() {
			s, _ := e.AsString()
			deps = append(deps, s)
		}
	} else if v, ok := base.Get("dependencies"); ok {
		for _, e := range v.AsSeq() {
			s, _ := e.AsString()
			deps = append(deps, s)
		}
	}
	t.DependenciesOriginal = deps
}

func mergeActionsRulesCopies(base *value.Map, t *model.Target) error {
	if v, ok := base.Get("actions"); ok {
		for _, a := range v.AsSeq() {
			am := a.AsMap()
			if am == nil {
				continue
			}
			action := model.Action{}
			action.Name, _ = getString(am, "action_name")
			action.Inputs = getStrings(am, "inputs")
			action.Outputs = getStrings(am, "outputs")
			action.Command = getStrings(am, "action")
			action.Message, _ = getString(am, "message")
			if b, ok := am.Get("process_outputs_as_sources"); ok {
				action.ProcessOutputsAsSources = b.IsTruthy()
			}
			if b, ok := am.Get("process_outputs_as_mac_bundle_resources"); ok {
				action.ProcessOutputsAsBundleResources = b.IsTruthy()
			}
			if len(action.Outputs) == 0 {
				return &Error{File: t.Label.File, Target: t.Label.Name, Msg: "action has zero outputs"}
			}
			t.Actions = append(t.Actions, action)
		}
	}
	if v, ok := base.Get("rules"); ok {
		for _, r := range v.AsSeq() {
			rm := r.AsMap()
			if rm == nil {
				continue
			}
			rule := model.Rule{}
			rule.Name, _ = getString(rm, "rule_name")
			rule.Extension, _ = getString(rm, "extension")
			rule.Inputs = getStrings(rm, "inputs")
			rule.Outputs = getStrings(rm, "outputs")
			rule.Command = getStrings(rm, "action")
			rule.Message, _ = getString(rm, "message")
			rule.RuleSources = getStrings(rm, "rule_sources")
			if err := validateRuleOutputs(t, rule); err != nil {
				return err
			}
			t.Rules = append(t.Rules, rule)
		}
	}
	if v, ok := base.Get("copies"); ok {
		for _, c := range v.AsSeq() {
			cm := c.AsMap()
			if cm == nil {
				continue
			}
			cp := model.Copy{}
			cp.Destination, _ = getString(cm, "destination")
			cp.Files = getStrings(cm, "files")
			t.Copies = append(t.Copies, cp)
		}
	}
	return nil
}

// validateRuleOutputs enforces spec.md §4.5: "A rule with a templated
// output that does not mention %(INPUT_ROOT)s and has multiple rule_sources:
// fatal (outputs would collide)."
func validateRuleOutputs(t *model.Target, rule model.Rule) error {
	if len(rule.RuleSources) <= 1 {
		return nil
	}
	for _, out := range rule.Outputs {
		if !strings.Contains(out, "%(INPUT_ROOT)s") {
			return &Error{File: t.Label.File, Target: t.Label.Name,
				Msg: fmt.Sprintf("rule %q has %d rule_sources but output %q doesn't vary per-source", rule.Name, len(rule.RuleSources), out)}
		}
	}
	return nil
}

func getString(m *value.Map, key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	return v.AsString()
}

func getStrings(m *value.Map, key string) []string {
	v, ok := m.Get(key)
	if !ok {
		return nil
	}
	var out []string
	for _, e := range v.AsSeq() {
		s, _ := e.AsString()
		out = append(out, s)
	}
	return out
}

// mergeConfigurations materializes one Configuration per entry of the
// target's "configurations" map, applying inherit_from chains (spec.md §4.3
// step 2) with cycle detection, and hoisting xcode_settings/msvs_settings
// uniformly into each (step 4). If the target declares no configurations at
// all, a single DefaultConfigName configuration is synthesized from base so
// invariant 1 always holds.
func mergeConfigurations(file, target string, base *value.Map, t *model.Target) error {
	t.Configurations = map[string]*model.Configuration{}

	configsVal, hasConfigs := base.Get("configurations")
	configsMap := configsVal.AsMap()
	if !hasConfigs || configsMap == nil || configsMap.Len() == 0 {
		settings := cloneWithoutStructuralKeys(base)
		t.Configurations[DefaultConfigName] = &model.Configuration{Name: DefaultConfigName, Settings: settings}
		return nil
	}

	baseSettings := cloneWithoutStructuralKeys(base)
	xcode, _ := base.Get("xcode_settings")
	msvs, _ := base.Get("msvs_settings")

	building := map[string]bool{} // cycle-detection stack
	done := map[string]*model.Configuration{}

	var build func(name string) (*model.Configuration, error)
	build = func(name string) (*model.Configuration, error) {
		if c, ok := done[name]; ok {
			return c, nil
		}
		if building[name] {
			return nil, &Error{File: file, Target: target, Msg: fmt.Sprintf("cycle in inherit_from starting at configuration %q", name)}
		}
		building[name] = true
		defer delete(building, name)

		ownVal, ok := configsMap.Get(name)
		if !ok {
			return nil, &Error{File: file, Target: target, Msg: fmt.Sprintf("inherit_from references unknown configuration %q", name)}
		}
		own := ownVal.AsMap()
		if own == nil {
			return nil, &Error{File: file, Target: target, Msg: fmt.Sprintf("configuration %q must be a mapping", name)}
		}

		settings := baseSettings.Clone()
		if parentVal, ok := own.Get("inherit_from"); ok {
			parentName, _ := parentVal.AsString()
			parent, err := build(parentName)
			if err != nil {
				return nil, err
			}
			settings = parent.Settings.Clone()
		}
		value.MergeInto(settings, own)
		settings.Delete("inherit_from")

		if xcode.Kind() == value.KindMap {
			settings.Set("xcode_settings", xcode)
		}
		if msvs.Kind() == value.KindMap {
			settings.Set("msvs_settings", msvs)
		}

		cfg := &model.Configuration{Name: name, Settings: settings}
		if iv, ok := own.Get("inherit_from"); ok {
			cfg.InheritFrom, _ = iv.AsString()
		}
		done[name] = cfg
		return cfg, nil
	}

	names := configsMap.Keys()
	sort.Strings(names) // deterministic build order; inherit_from resolution doesn't depend on it
	for _, name := range names {
		cfg, err := build(name)
		if err != nil {
			return err
		}
		t.Configurations[name] = cfg
	}
	return nil
}

// cloneWithoutStructuralKeys clones base but strips the keys that name
// sub-structures consumed elsewhere (sources, dependencies, actions, ...),
// leaving only the flat per-configuration settings keys (defines,
// include_dirs, cflags, ldflags, libraries, ...).
func cloneWithoutStructuralKeys(base *value.Map) *value.Map {
	out := base.Clone()
	for key := range knownTopLevelTargetKeys {
		out.Delete(key)
	}
	return out
}
