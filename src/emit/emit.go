// Package emit implements the common contract spec.md §4.5 describes for
// the three back-end emitters: a driver file wiring per-target fragments
// together, dependency-file tracking, order-only edges from objects to the
// actions/rules that must run first, and an optional regeneration edge.
// The three concrete back-ends (src/emit/make, src/emit/ninja,
// src/emit/scons) each implement Backend and share the helpers here.
package emit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/sulmone/mbg/src/ident"
	"github.com/sulmone/mbg/src/resolver"
)

// Options carries the generator flags that affect emission (spec.md §6):
// the root output directory, an optional separate generator-output
// directory, include depth, and whether to emit the regeneration edge.
type Options struct {
	OutputDir        string
	GeneratorOutput  string
	Depth            string
	AutoRegeneration bool
	BuildFiles       []string // every loaded BuildFile, for the regeneration edge's prerequisite list
	ProductDir       string   // root $!PRODUCT_DIR expands to; defaults to OutputDir when empty
}

// Backend is implemented by each concrete back-end (spec.md §4.5's "Three
// concrete emitters share a contract and differ in output form").
type Backend interface {
	// Name identifies the back-end for CLI selection (spec.md §6's -f flag).
	Name() string
	// Generate writes the driver file and every per-target fragment for res
	// using w, honoring opts.
	Generate(res *resolver.Result, opts Options, w FileWriter) error
}

// FileWriter abstracts writing a generated file, so tests can capture output
// without touching disk and so the atomic-write and unchanged-content-skip
// behavior lives in one place instead of three.
type FileWriter interface {
	WriteFile(path string, content []byte) error
}

// OSWriter writes files to the real filesystem, skipping the write (and the
// resulting mtime bump, which would otherwise force every downstream build
// tool to consider the fragment changed) when content is byte-identical to
// what's already on disk, and writing everything else through a temp file
// plus rename so a reader never observes a partially-written fragment.
//
// Grounded on original_source/pylib/gyp/generator/make.py's do_cmd, which
// applies the same "only touch it if it actually changed" discipline to
// build commands; OSWriter applies it one layer up, to the generated files
// themselves.
type OSWriter struct {
	hashes map[string]uint64
}

// NewOSWriter constructs a writer with an empty unchanged-content cache.
func NewOSWriter() *OSWriter {
	return &OSWriter{hashes: map[string]uint64{}}
}

// WriteFile implements FileWriter.
func (w *OSWriter) WriteFile(path string, content []byte) error {
	sum := xxhash.Sum64(content)
	if existing, ok := w.hashes[path]; ok && existing == sum {
		return nil
	}
	if existingContent, err := os.ReadFile(path); err == nil && xxhash.Sum64(existingContent) == sum {
		w.hashes[path] = sum
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s to %s: %w", tmp, path, err)
	}
	w.hashes[path] = sum
	return nil
}

// Error wraps an emit-stage failure (spec.md §7).
type Error struct {
	Target string
	Msg    string
}

func (e *Error) Error() string {
	if e.Target == "" {
		return e.Msg
	}
	return e.Target + ": " + e.Msg
}

// ValidatePaths rejects any output or source path containing a space,
// uniformly across all three back-ends (spec.md §9: "a path containing a
// space is rejected uniformly... the stricter, Ninja-derived policy applied
// to every back-end, not just Ninja, to keep behavior consistent across
// generator selection").
func ValidatePaths(res *resolver.Result) error {
	for _, t := range res.Flat {
		for _, s := range t.Sources {
			if strings.ContainsRune(s.Path, ' ') {
				return &Error{Target: t.Label.String(), Msg: fmt.Sprintf("source path %q contains a space, which no supported back-end can represent", s.Path)}
			}
		}
		for _, a := range t.Actions {
			if err := validateStrings(t.Label, "action "+a.Name, a.Inputs, a.Outputs); err != nil {
				return err
			}
		}
		for _, r := range t.Rules {
			if err := validateStrings(t.Label, "rule "+r.Name, r.Inputs, r.Outputs); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateStrings(label ident.Label, what string, lists ...[]string) error {
	for _, list := range lists {
		for _, s := range list {
			if strings.ContainsRune(s, ' ') {
				return &Error{Target: label.String(), Msg: fmt.Sprintf("%s: path %q contains a space, which no supported back-end can represent", what, s)}
			}
		}
	}
	return nil
}

// OutputPath joins opts' output directory with a relative path, honoring a
// separate --generator-output root when one was given (spec.md §6).
func OutputPath(opts Options, rel string) string {
	root := opts.OutputDir
	if opts.GeneratorOutput != "" {
		root = opts.GeneratorOutput
	}
	if root == "" {
		return rel
	}
	return filepath.Join(root, rel)
}
