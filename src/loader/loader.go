// Package loader implements the Loader component of spec.md §4.2: reading
// build descriptions from disk, applying forced includes, recursively
// resolving includes directives, and following cross-file dependency
// references so every reachable BuildFile ends up loaded.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"

	"github.com/sulmone/mbg/src/literal"
	"github.com/sulmone/mbg/src/value"
)

// A FileReader abstracts reading a BuildFile's contents, so tests can
// provide an in-memory filesystem instead of touching disk.
type FileReader interface {
	ReadFile(path string) (string, error)
}

// OSReader reads files from the real filesystem.
type OSReader struct{}

// ReadFile implements FileReader.
func (OSReader) ReadFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}

// Loader loads BuildFiles and memoizes them by absolute path (spec.md §3's
// Lifecycle: "BuildFiles are loaded once and memoized by absolute path").
type Loader struct {
	Reader          FileReader
	ForcedIncludes  []string // absolute paths, applied to every loaded file
	trees           map[string]*value.Map
	includedFiles   map[string][]string
	order           []string
}

// New constructs a Loader. forcedIncludes are resolved to absolute paths by
// the caller (spec.md §1 scopes home-directory default-include discovery to
// the external entry point, not the core).
func New(reader FileReader, forcedIncludes []string) *Loader {
	return &Loader{
		Reader:         reader,
		ForcedIncludes: forcedIncludes,
		trees:          map[string]*value.Map{},
		includedFiles:  map[string][]string{},
	}
}

// Error wraps a loader failure with the offending file (spec.md §7).
type Error struct {
	File string
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.File, e.Msg) }

// Load loads every file in entryFiles and the transitive closure of files
// they reference (via includes and cross-file dependencies), returning the
// raw in-memory tree for each absolute path reached, plus the load order
// (first-loaded first).
func (l *Loader) Load(entryFiles []string) (map[string]*value.Map, []string, error) {
	queue := make([]string, 0, len(entryFiles))
	for _, f := range entryFiles {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, nil, &Error{File: f, Msg: err.Error()}
		}
		queue = append(queue, filepath.Clean(abs))
	}
	for i := 0; i < len(queue); i++ {
		path := queue[i]
		if _, done := l.trees[path]; done {
			continue
		}
		tree, err := l.loadOne(path)
		if err != nil {
			return nil, nil, err
		}
		l.trees[path] = tree
		l.order = append(l.order, path)
		for _, dep := range referencedFiles(tree, filepath.Dir(path)) {
			if _, done := l.trees[dep]; !done {
				queue = append(queue, dep)
			}
		}
	}
	return l.trees, l.order, nil
}

// IncludedFiles returns the transitive set of files spliced into path via
// its own includes list and any forced includes, for rebuild tracking
// (spec.md §4.2 step 4).
func (l *Loader) IncludedFiles(path string) []string {
	abs, _ := filepath.Abs(path)
	return l.includedFiles[filepath.Clean(abs)]
}

func (l *Loader) loadOne(path string) (*value.Map, error) {
	src, err := l.Reader.ReadFile(path)
	if err != nil {
		return nil, &Error{File: path, Msg: err.Error()}
	}
	own, err := literal.Parse(path, src)
	if err != nil {
		return nil, err
	}

	result := value.NewMap()
	var included []string

	// Forced includes are applied first, as if they'd appeared at the top
	// of the file (spec.md §4.2 step 2): the file's own content is merged
	// in afterwards, so the file wins on scalar conflicts.
	for _, inc := range l.ForcedIncludes {
		incTree, err := l.loadIncluded(inc)
		if err != nil {
			return nil, err
		}
		value.MergeInto(result, incTree)
		included = append(included, inc)
		included = append(included, l.includedFiles[filepath.Clean(inc)]...)
	}

	rawIncludes, _ := own.Get("includes")
	dir := filepath.Dir(path)
	for _, incVal := range rawIncludes.AsSeq() {
		incPathRaw, ok := incVal.AsString()
		if !ok {
			continue
		}
		incPath := incPathRaw
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(dir, incPath)
		}
		incPath = filepath.Clean(incPath)
		incTree, err := l.loadIncluded(incPath)
		if err != nil {
			return nil, err
		}
		value.MergeInto(result, incTree)
		included = append(included, incPath)
		included = append(included, l.includedFiles[incPath]...)
	}

	// The file's own content is merged in last, so it wins on scalars.
	value.MergeInto(result, own)
	result.Delete("includes")

	l.includedFiles[path] = dedupe(included)
	return result, nil
}

// loadIncluded loads and returns (memoizing) the tree for an included file.
// Included files use the same merge discipline as entry files but are never
// themselves queued as top-level BuildFiles.
func (l *Loader) loadIncluded(path string) (*value.Map, error) {
	path = filepath.Clean(path)
	if tree, ok := l.trees[path]; ok {
		return tree, nil
	}
	tree, err := l.loadOne(path)
	if err != nil {
		return nil, err
	}
	l.trees[path] = tree
	return tree, nil
}

// referencedFiles extracts the file component of every qualified target
// identifier reachable from a target's dependencies list, for the
// transitive cross-file closure (spec.md §4.2 step 5). Identifiers that
// still contain an unexpanded expression form are skipped; those are
// resolved later; the Resolver fails loudly if a dependency turns out to
// name a file that was never reached this way and isn't loaded by the time
// it's needed (spec.md invariant 2).
func referencedFiles(tree *value.Map, dir string) []string {
	var out []string
	targetsVal, _ := tree.Get("targets")
	for _, t := range targetsVal.AsSeq() {
		tm := t.AsMap()
		if tm == nil {
			continue
		}
		deps, _ := tm.Get("dependencies")
		for _, d := range deps.AsSeq() {
			s, ok := d.AsString()
			if !ok || strings.ContainsAny(s, "<>") || strings.HasPrefix(s, ":") {
				continue // unresolved expression, or a same-file ":target" reference
			}
			file := s
			if i := strings.LastIndexByte(file, '#'); i >= 0 {
				file = file[:i]
			}
			if i := strings.LastIndexByte(file, ':'); i >= 0 {
				file = file[:i]
			}
			if file == "" {
				continue
			}
			if !filepath.IsAbs(file) {
				file = filepath.Join(dir, file)
			}
			out = append(out, filepath.Clean(file))
		}
	}
	return out
}

func dedupe(ss []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// FindBuildFiles discovers entry build descriptions under root by walking
// the directory tree for files with the given extension. This is the
// external entry point's default-discovery helper (spec.md §1 names this an
// external collaborator), wrapped over godirwalk the same way the teacher's
// fs.Walk wraps it for directory traversal.
func FindBuildFiles(root, extension string) ([]string, error) {
	var files []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			if strings.HasSuffix(path, extension) {
				files = append(files, path)
			}
			return nil
		},
		Unsorted: false,
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
