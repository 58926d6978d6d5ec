// Package ident implements the qualified target identifier used throughout
// the generator: file:target#toolset.
package ident

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultToolset is used when a label omits the #toolset suffix.
const DefaultToolset = "target"

// A Label identifies exactly one Target: the build file that declares it,
// its name within that file, and the toolset it's built for.
//
// Labels are always canonicalized to an absolute build-file path before
// they're compared or used as map keys; two Labels are equal iff they name
// the same target in the same file for the same toolset.
type Label struct {
	File    string // absolute path of the BuildFile that declares the target
	Name    string
	Toolset string
}

// String renders the label in file:target#toolset form. The #toolset suffix
// is omitted when it's the default toolset, since that's by far the common
// case and omitting it keeps fixtures and error messages readable.
func (l Label) String() string {
	s := l.File + ":" + l.Name
	if l.Toolset != "" && l.Toolset != DefaultToolset {
		s += "#" + l.Toolset
	}
	return s
}

// ShortString renders the label relative to another one in the same file,
// dropping the file and toolset when they match the context label.
func (l Label) ShortString(context Label) string {
	if l.File == context.File && l.Toolset == context.Toolset {
		return ":" + l.Name
	}
	return l.String()
}

// Parse parses a qualified target identifier of the form file:target#toolset,
// resolving a bare "file" relative to fromFile's directory and defaulting an
// omitted toolset to the toolset of the referring target. A reference with no
// file component at all (":target") names a target in fromFile itself
// (spec.md §4.2's same-file dependency shorthand); an empty reference is an
// error.
//
// A reference of the form "file:target" without a #toolset inherits
// referringToolset, per spec.md §4.2.
func Parse(raw, fromFile, referringToolset string) (Label, error) {
	rest := raw
	toolset := ""
	if i := strings.LastIndexByte(rest, '#'); i >= 0 {
		toolset = rest[i+1:]
		rest = rest[:i]
		if toolset == "" {
			return Label{}, fmt.Errorf("empty toolset in qualified target identifier %q", raw)
		}
	}

	file, name, err := splitFileTarget(rest)
	if err != nil {
		return Label{}, fmt.Errorf("invalid qualified target identifier %q: %w", raw, err)
	}
	switch {
	case file == "":
		file = fromFile
	case !filepath.IsAbs(file):
		file = filepath.Clean(filepath.Join(filepath.Dir(fromFile), file))
	default:
		file = filepath.Clean(file)
	}
	if toolset == "" {
		toolset = referringToolset
	}
	if toolset == "" {
		toolset = DefaultToolset
	}
	return Label{File: file, Name: name, Toolset: toolset}, nil
}

// splitFileTarget splits "path/to/foo.build:target" into its file and
// target-name components. A reference with no ":target" suffix names the
// target whose name is the build file's own base name without extension,
// mirroring Blaze/Please's implicit "last path component" expansion. A
// reference with no file component (":target") leaves file empty, meaning
// "the same file this reference appears in".
func splitFileTarget(rest string) (file, name string, err error) {
	i := strings.LastIndexByte(rest, ':')
	if i < 0 {
		if rest == "" {
			return "", "", fmt.Errorf("empty target reference")
		}
		base := filepath.Base(rest)
		return rest, strings.TrimSuffix(base, filepath.Ext(base)), nil
	}
	file, name = rest[:i], rest[i+1:]
	if name == "" {
		return "", "", fmt.Errorf("qualified target identifier must name a target")
	}
	return file, name, nil
}

// MustParse is like Parse but panics on error; it exists for fixtures and
// tests where the label is a compile-time constant.
func MustParse(raw, fromFile, referringToolset string) Label {
	l, err := Parse(raw, fromFile, referringToolset)
	if err != nil {
		panic(err)
	}
	return l
}

// WithToolset returns a copy of l with the given toolset. Used when a
// dependency edge carries the dependent's toolset (spec.md invariant 5)
// rather than the toolset it was literally declared with.
func (l Label) WithToolset(toolset string) Label {
	l.Toolset = toolset
	return l
}
