package make

import (
	"fmt"
	"os"
	"strings"
)

// FixupDepContent turns the raw -MMD dependency listing gcc/clang wrote for
// objPath (Makefile syntax: "obj.o: dep1 dep2 \\\n  dep3 ...") into the
// finished .d fragment writeCompile's "-include %s.d" line reads: the rule
// re-anchored to objPath (ccache/distcc sometimes emit a bare basename
// instead of the full object path), plus one phony rule for every listed
// prerequisite, so a header deleted since the last successful build turns
// into a harmless no-op instead of a hard "No rule to make target" failure
// (spec.md's ".d post-processing" requirement).
//
// Grounded on original_source/pylib/gyp/generator/make.py's fixup_dep sed
// pipeline, reimplemented as a plain Go string transform run by the
// "-fixup-dep" hidden subcommand (src/mbg.go) instead of shelling out to
// sed: gcc already escapes an embedded space in a path as "\ ", so there's
// no need for the original's SPACE_REPLACEMENT placeholder byte to work
// around Make treating whitespace as a prerequisite separator.
func FixupDepContent(raw []byte, objPath string) []byte {
	deps := splitMakeDepFields(string(raw))

	var out strings.Builder
	if len(deps) == 0 {
		fmt.Fprintf(&out, "%s:\n", objPath)
		return []byte(out.String())
	}
	fmt.Fprintf(&out, "%s: %s\n", objPath, strings.Join(deps, " "))
	for _, d := range deps {
		fmt.Fprintf(&out, "%s:\n", d)
	}
	return []byte(out.String())
}

// splitMakeDepFields extracts the prerequisite list from a single-rule
// Makefile dependency fragment: everything after the first ':', split on
// whitespace, honoring "\\\n" line continuations and "\\ " as an escaped
// literal space rather than a field separator.
func splitMakeDepFields(raw string) []string {
	raw = strings.ReplaceAll(raw, "\\\n", " ")
	idx := strings.IndexByte(raw, ':')
	if idx < 0 {
		return nil
	}
	rest := raw[idx+1:]

	var fields []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		switch {
		case c == '\\' && i+1 < len(rest) && rest[i+1] == ' ':
			cur.WriteString("\\ ")
			i++
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return fields
}

// RunFixupDep is the production entry point the generated Makefile's do_cmd
// shells out to for every compile (via "$(MBG_BIN) -fixup-dep $@", wired up
// in src/mbg.go's run()): read the compiler's raw -MMD output for objPath,
// post-process it into objPath+".d", and remove the raw file. A source with
// no #includes never gets a .dep.raw from the compiler at all, so a missing
// raw file still produces a (trivial) .d rather than leaving -include with
// nothing to read.
func RunFixupDep(objPath string) error {
	raw, err := os.ReadFile(objPath + ".dep.raw")
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		return os.WriteFile(objPath+".d", []byte(objPath+":\n"), 0o644)
	}
	if err := os.WriteFile(objPath+".d", FixupDepContent(raw, objPath), 0o644); err != nil {
		return err
	}
	return os.Remove(objPath + ".dep.raw")
}
